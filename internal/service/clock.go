package service

import (
	"time"

	"github.com/quizforge/quizforge-backend/internal/model"
)

// Remaining computes the time left on an attempt at the given instant,
// clamped at zero. Every caller — the per-request server check, the
// deadline reaper, and the WebSocket countdown — derives remaining time
// from the attempt's immutable deadline through this function.
func Remaining(a *model.QuizAttempt, now time.Time) time.Duration {
	if !now.Before(a.Deadline) {
		return 0
	}
	return a.Deadline.Sub(now)
}

// PastDeadline reports whether mutations must be rejected: strictly after
// the deadline. An answer landing at the exact deadline instant is accepted.
func PastDeadline(a *model.QuizAttempt, now time.Time) bool {
	return now.After(a.Deadline)
}

// Due reports whether a forced finalization may proceed (now >= deadline).
func Due(a *model.QuizAttempt, now time.Time) bool {
	return !now.Before(a.Deadline)
}

// ComputeDeadline derives the fixed deadline from the start instant. It is
// called exactly once, at attempt creation.
func ComputeDeadline(startedAt time.Time, durationMinutes int) time.Time {
	return startedAt.Add(time.Duration(durationMinutes) * time.Minute)
}
