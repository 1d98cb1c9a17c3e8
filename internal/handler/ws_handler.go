package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quizforge/quizforge-backend/internal/middleware"
	"github.com/quizforge/quizforge-backend/internal/model"
	"github.com/quizforge/quizforge-backend/internal/service"
	ws "github.com/quizforge/quizforge-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams the attempt countdown. The stream is advisory for the
// UI only: every tick recomputes remaining time from the stored deadline,
// and a client "finalize" action is honored only when the server agrees
// the deadline has passed.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// CountdownStream godoc
// WS /ws/v1/attempts/:attempt_id/countdown
// Pushes remaining seconds once per second until the attempt closes.
func (h *WSHandler) CountdownStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt ID"})
		return
	}

	// Ownership and existence check before upgrading.
	state, err := h.attemptService.Get(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "no such attempt"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Countdown stream connected")

	if state.Attempt.Status.Terminal() {
		h.writeFinalized(conn, state.Attempt)
		return
	}

	// Reader pump: the write side lives on this goroutine, reads come in
	// over a channel so a slow client cannot wedge the ticker. The send
	// selects against done so a pump holding an unread message exits when
	// the handler returns instead of blocking forever.
	done := make(chan struct{})
	defer close(done)
	msgs := make(chan ws.RequestPayload)
	go func() {
		defer close(msgs)
		for {
			var msg ws.RequestPayload
			if err := ws.ReadJSON(conn, &msg); err != nil {
				return
			}
			select {
			case msgs <- msg:
			case <-done:
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ticker.C:
			state, err := h.attemptService.Get(ctx, attemptID, claims.UserID)
			if err != nil {
				ws.WriteError(conn, "attempt no longer readable")
				return
			}
			if state.Attempt.Status.Terminal() {
				h.writeFinalized(conn, state.Attempt)
				return
			}
			if state.RemainingSeconds <= 0 {
				if h.forceFinalize(conn, wsLog, attemptID) {
					return
				}
				continue
			}
			if err := ws.WriteTyped(conn, ws.TickResponse{
				Event:            ws.EventTick,
				RemainingSeconds: state.RemainingSeconds,
			}); err != nil {
				return
			}

		case msg, ok := <-msgs:
			if !ok {
				wsLog.Debug().Msg("Connection closed")
				return
			}
			switch msg.Action {
			case ws.ActionPing:
				_ = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
			case ws.ActionFinalize:
				if h.forceFinalize(conn, wsLog, attemptID) {
					return
				}
			default:
				ws.WriteError(conn, "unknown action")
			}
		}
	}
}

// forceFinalize asks the orchestrator to close the attempt and reports
// whether the stream is finished. The server-side deadline check stays in
// charge: a premature client request gets an error event and the countdown
// keeps ticking.
func (h *WSHandler) forceFinalize(conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID) bool {
	// Detached context: a dropped connection must not abort the terminal write.
	attempt, err := h.attemptService.ForceFinalize(context.Background(), attemptID)
	if err != nil {
		if errors.Is(err, service.ErrDeadlineNotReached) {
			ws.WriteError(conn, "deadline has not been reached")
			return false
		}
		wsLog.Error().Err(err).Msg("Force finalize over WS failed")
		ws.WriteError(conn, "finalization failed")
		return true
	}
	h.writeFinalized(conn, attempt)
	return true
}

func (h *WSHandler) writeFinalized(conn *websocket.Conn, attempt *model.QuizAttempt) {
	_ = ws.WriteTyped(conn, ws.FinalizedResponse{
		Event:  ws.EventFinalized,
		Status: string(attempt.Status),
		Score:  attempt.Score,
		Passed: attempt.Passed,
	})
}
