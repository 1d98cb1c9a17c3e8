package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizforge/quizforge-backend/internal/service"
)

const (
	// ReaperBatchSize caps how many expired attempts one sweep closes.
	ReaperBatchSize = 100
)

// DeadlineReaper is the server-side authoritative sweep: it periodically
// force-finalizes in-progress attempts whose deadline has passed, so no
// attempt depends on a client timer to reach a terminal state. The sweep
// owns no writable state of its own — ForceFinalize is idempotent and races
// safely with live requests.
type DeadlineReaper struct {
	attempts *service.AttemptService
	interval time.Duration
	log      zerolog.Logger
}

// NewDeadlineReaper creates a new DeadlineReaper.
func NewDeadlineReaper(attempts *service.AttemptService, interval time.Duration, log zerolog.Logger) *DeadlineReaper {
	return &DeadlineReaper{
		attempts: attempts,
		interval: interval,
		log:      log.With().Str("component", "deadline_reaper").Logger(),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (w *DeadlineReaper) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("DeadlineReaper started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// One last sweep so attempts expiring during shutdown still close.
			w.sweep(context.Background())
			w.log.Info().Msg("DeadlineReaper stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *DeadlineReaper) sweep(ctx context.Context) {
	ids, err := w.attempts.ExpiredAttempts(ctx, ReaperBatchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("List expired attempts failed")
		return
	}
	if len(ids) == 0 {
		return
	}

	closed := 0
	for _, id := range ids {
		if _, err := w.attempts.ForceFinalize(ctx, id); err != nil {
			// A concurrent Submit may have closed it first; that is the
			// point of the conditional transition, not a failure.
			if errors.Is(err, service.ErrAttemptNotFound) || errors.Is(err, service.ErrDeadlineNotReached) {
				continue
			}
			w.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Force finalize failed")
			continue
		}
		closed++
	}

	w.log.Info().Int("expired", len(ids)).Int("closed", closed).Msg("Sweep complete")
}
