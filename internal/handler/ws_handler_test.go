package handler

import (
	"context"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quizforge/quizforge-backend/internal/middleware"
	"github.com/quizforge/quizforge-backend/internal/model"
	"github.com/quizforge/quizforge-backend/internal/service"
)

func TestCountdownRejectsPrematureFinalize(t *testing.T) {
	env := newCountdownEnv(t)
	defer env.server.Close()

	conn := env.dial(t)
	defer conn.Close()

	// The attempt has almost its whole window left; the client lies.
	if err := conn.WriteJSON(map[string]string{"action": "finalize"}); err != nil {
		t.Fatalf("write finalize: %v", err)
	}

	sawError := false
	for i := 0; i < 4; i++ {
		ev := readEvent(t, conn)
		if ev.Event == "error" {
			sawError = true
			break
		}
	}
	if !sawError {
		t.Fatalf("expected an error event for a premature finalize")
	}

	// The stream must keep ticking after the rejection.
	sawTick := false
	for i := 0; i < 4; i++ {
		ev := readEvent(t, conn)
		if ev.Event == "tick" {
			sawTick = true
			break
		}
	}
	if !sawTick {
		t.Fatalf("expected the countdown to continue after a rejected finalize")
	}
	if got := env.store.status(); got != model.AttemptStatusInProgress {
		t.Fatalf("attempt should still be open, got %s", got)
	}
}

func TestCountdownFinalizeReleasesReader(t *testing.T) {
	env := newCountdownEnv(t)
	defer env.server.Close()

	env.clock.Set(env.attempt.Deadline.Add(time.Second))
	base := runtime.NumGoroutine()

	conn := env.dial(t)

	// Two messages back to back: the second sits in the reader while the
	// handler finalizes and returns. The reader must still wind down.
	if err := conn.WriteJSON(map[string]string{"action": "finalize"}); err != nil {
		t.Fatalf("write finalize: %v", err)
	}
	if err := conn.WriteJSON(map[string]string{"action": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	sawFinalized := false
	for i := 0; i < 4; i++ {
		ev := readEvent(t, conn)
		if ev.Event == "finalized" {
			if ev.Status != string(model.AttemptStatusTimedOut) {
				t.Fatalf("expected timed_out, got %s", ev.Status)
			}
			sawFinalized = true
			break
		}
	}
	if !sawFinalized {
		t.Fatalf("expected a finalized event for an expired attempt")
	}
	conn.Close()

	if got := env.store.status(); got != model.AttemptStatusTimedOut {
		t.Fatalf("expected the attempt persisted as timed_out, got %s", got)
	}

	deadline := time.Now().Add(3 * time.Second)
	for runtime.NumGoroutine() > base && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := runtime.NumGoroutine(); got > base {
		t.Fatalf("reader goroutine did not exit: %d goroutines, baseline %d", got, base)
	}
}

// ─── Test environment ───────────────────────────────────────────────

type countdownEnv struct {
	store   *countdownStore
	clock   *fakeClock
	server  *httptest.Server
	attempt *model.QuizAttempt
}

func newCountdownEnv(t *testing.T) *countdownEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clk := &fakeClock{now: start}

	quiz := &model.QuizDefinition{
		ID:              uuid.New(),
		Title:           "Countdown",
		DurationMinutes: 30,
		TotalMarks:      1,
		PassingMarks:    1,
		Questions: []model.Question{
			{Index: 0, Text: "2+2?", Type: model.QuestionTypeSingleChoice, Options: []string{"3", "4"}, Correct: []string{"4"}, Marks: 1},
		},
	}
	attempt := &model.QuizAttempt{
		ID:            uuid.New(),
		QuizID:        quiz.ID,
		StudentID:     7,
		StartedAt:     start,
		Deadline:      start.Add(30 * time.Minute),
		Status:        model.AttemptStatusInProgress,
		QuestionOrder: []int{0},
		Answers:       map[int]model.Answer{},
	}
	store := &countdownStore{attempt: attempt}

	svc := service.NewAttemptService(
		store,
		staticQuizzes{quiz: quiz},
		service.NewScoringEngine(nil, time.Second),
		rdb,
		zerolog.Nop(),
	).WithClock(clk.Now)

	h := NewWSHandler(svc, zerolog.Nop(), nil)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: 7, TokenType: service.TokenTypeStudent})
	})
	router.GET("/ws/v1/attempts/:attempt_id/countdown", h.CountdownStream)

	return &countdownEnv{
		store:   store,
		clock:   clk,
		server:  httptest.NewServer(router),
		attempt: attempt,
	}
}

func (e *countdownEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	u := "ws" + e.server.URL[len("http"):] + "/ws/v1/attempts/" + e.attempt.ID.String() + "/countdown"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

type wsEvent struct {
	Event            string  `json:"event"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	Status           string  `json:"status"`
	Error            string  `json:"error"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev wsEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type staticQuizzes struct{ quiz *model.QuizDefinition }

func (s staticQuizzes) GetDefinition(_ context.Context, quizID uuid.UUID) (*model.QuizDefinition, error) {
	if s.quiz == nil || s.quiz.ID != quizID {
		return nil, pgx.ErrNoRows
	}
	return s.quiz, nil
}

// countdownStore is a single-attempt AttemptStore with the same
// conditional-write contract as the SQL repository.
type countdownStore struct {
	mu      sync.Mutex
	attempt *model.QuizAttempt
}

func (s *countdownStore) status() model.AttemptStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt.Status
}

func (s *countdownStore) GetByID(_ context.Context, id uuid.UUID) (*model.QuizAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil || s.attempt.ID != id {
		return nil, pgx.ErrNoRows
	}
	cp := *s.attempt
	return &cp, nil
}

func (s *countdownStore) GetOpen(_ context.Context, quizID uuid.UUID, studentID int) (*model.QuizAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil || s.attempt.QuizID != quizID || s.attempt.StudentID != studentID ||
		s.attempt.Status != model.AttemptStatusInProgress {
		return nil, pgx.ErrNoRows
	}
	cp := *s.attempt
	return &cp, nil
}

func (s *countdownStore) HasTerminal(_ context.Context, _ uuid.UUID, _ int) (bool, error) {
	return false, nil
}

func (s *countdownStore) Create(_ context.Context, a *model.QuizAttempt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = a
	return true, nil
}

func (s *countdownStore) UpsertAnswer(_ context.Context, attemptID uuid.UUID, questionIndex int, ans model.Answer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil || s.attempt.ID != attemptID || s.attempt.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	s.attempt.Answers[questionIndex] = ans
	return true, nil
}

func (s *countdownStore) Finalize(_ context.Context, attemptID uuid.UUID, status model.AttemptStatus, endedAt time.Time, score *float64, passed *bool, fb *model.Feedback) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil || s.attempt.ID != attemptID {
		return false, pgx.ErrNoRows
	}
	if s.attempt.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	s.attempt.Status = status
	s.attempt.EndedAt = &endedAt
	s.attempt.Score = score
	s.attempt.Passed = passed
	s.attempt.Feedback = fb
	return true, nil
}

func (s *countdownStore) ListExpired(_ context.Context, _ time.Time, _ int) ([]uuid.UUID, error) {
	return nil, nil
}

func (s *countdownStore) ListByStudent(_ context.Context, _ int) ([]model.QuizAttempt, error) {
	return nil, nil
}
