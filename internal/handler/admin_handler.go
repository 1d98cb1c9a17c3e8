package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quizforge/quizforge-backend/internal/response"
	"github.com/quizforge/quizforge-backend/internal/service"
)

// AdminHandler handles administrative attempt operations.
type AdminHandler struct {
	attemptService *service.AttemptService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(attemptService *service.AttemptService) *AdminHandler {
	return &AdminHandler{attemptService: attemptService}
}

// AbandonAttempt godoc
// POST /api/v1/admin/attempts/:attempt_id/abandon
// Administrative cancellation: closes an open attempt without scoring.
func (h *AdminHandler) AbandonAttempt(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.Abandon(c.Request.Context(), attemptID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAttemptNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrAttemptClosed):
			response.Fail(c, http.StatusConflict, response.ErrAttemptClosed)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}
