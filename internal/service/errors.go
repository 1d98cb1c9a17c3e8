package service

import "errors"

// Domain errors surfaced by the attempt orchestrator. Handlers map these to
// typed response codes.
var (
	ErrQuizNotFound     = errors.New("quiz not found")
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrQuizNotActive    = errors.New("quiz is outside its active window")
	ErrAlreadyCompleted = errors.New("quiz already completed and retakes are not allowed")
	ErrAttemptClosed    = errors.New("attempt is closed")
	ErrNotOwner         = errors.New("attempt does not belong to this student")
	ErrNoQuestions      = errors.New("quiz has no questions")
	ErrInvalidQuestion  = errors.New("question index out of range")

	// ErrGradingUnavailable signals that the AI grading collaborator failed
	// or timed out. Finalization never propagates it; affected questions are
	// scored zero and the feedback payload is flagged degraded.
	ErrGradingUnavailable = errors.New("grading collaborator unavailable")

	// ErrDeadlineNotReached is returned when ForceFinalize is requested for
	// an attempt whose server-side deadline has not passed. Client timers
	// are advisory only and are never trusted to close an attempt early.
	ErrDeadlineNotReached = errors.New("attempt deadline has not been reached")
)
