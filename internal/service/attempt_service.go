package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quizforge/quizforge-backend/internal/config"
	"github.com/quizforge/quizforge-backend/internal/model"
)

// AttemptStore is the durable keyed storage contract for attempt records.
// Not-found lookups return an error satisfying errors.Is(err, pgx.ErrNoRows).
type AttemptStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.QuizAttempt, error)
	// GetOpen returns the single in_progress attempt for a (quiz, student)
	// pair, if one exists.
	GetOpen(ctx context.Context, quizID uuid.UUID, studentID int) (*model.QuizAttempt, error)
	// HasTerminal reports whether the student has any finished attempt for
	// the quiz (retake policy check).
	HasTerminal(ctx context.Context, quizID uuid.UUID, studentID int) (bool, error)
	// Create inserts a new in_progress attempt. Returns false without error
	// when an open attempt for the same (quiz, student) pair already exists.
	Create(ctx context.Context, a *model.QuizAttempt) (bool, error)
	// UpsertAnswer writes one answer, guarded on status still being
	// in_progress. Returns false when the guard failed.
	UpsertAnswer(ctx context.Context, attemptID uuid.UUID, questionIndex int, ans model.Answer) (bool, error)
	// Finalize atomically transitions in_progress → status and writes the
	// result fields. Returns false when another writer already finalized.
	Finalize(ctx context.Context, attemptID uuid.UUID, status model.AttemptStatus, endedAt time.Time, score *float64, passed *bool, fb *model.Feedback) (bool, error)
	// ListExpired returns ids of in_progress attempts whose deadline has
	// passed, for the reaper sweep.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	// ListByStudent returns all attempts for a student, newest first.
	ListByStudent(ctx context.Context, studentID int) ([]model.QuizAttempt, error)
}

// QuizSource supplies immutable quiz definitions.
type QuizSource interface {
	GetDefinition(ctx context.Context, quizID uuid.UUID) (*model.QuizDefinition, error)
}

// AttemptService is the attempt orchestrator: the only component allowed to
// move an attempt through its lifecycle. All deadline decisions are made
// from the stored immutable deadline and the server clock.
type AttemptService struct {
	store   AttemptStore
	quizzes QuizSource
	scorer  *ScoringEngine
	rdb     *redis.Client
	log     zerolog.Logger

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(store AttemptStore, quizzes QuizSource, scorer *ScoringEngine, rdb *redis.Client, log zerolog.Logger) *AttemptService {
	return &AttemptService{
		store:   store,
		quizzes: quizzes,
		scorer:  scorer,
		rdb:     rdb,
		log:     log.With().Str("component", "attempt_service").Logger(),
		now:     time.Now,
	}
}

// WithClock replaces the service clock. Test-only.
func (s *AttemptService) WithClock(now func() time.Time) *AttemptService {
	s.now = now
	return s
}

// StartOrResume returns the student's open attempt for the quiz if one
// exists, otherwise creates a new one. The deadline is computed exactly
// once, at creation; resumption never touches it.
func (s *AttemptService) StartOrResume(ctx context.Context, studentID int, quizID uuid.UUID) (*model.QuizAttempt, error) {
	open, err := s.store.GetOpen(ctx, quizID, studentID)
	if err == nil {
		s.cacheDeadline(ctx, open)
		return open, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get open attempt: %w", err)
	}

	quiz, err := s.quizzes.GetDefinition(ctx, quizID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("get quiz definition: %w", err)
	}

	now := s.now()
	if !quiz.ActiveAt(now) {
		return nil, ErrQuizNotActive
	}
	if len(quiz.Questions) == 0 {
		return nil, ErrNoQuestions
	}

	if !quiz.AllowRetake {
		done, err := s.store.HasTerminal(ctx, quizID, studentID)
		if err != nil {
			return nil, fmt.Errorf("check terminal attempts: %w", err)
		}
		if done {
			return nil, ErrAlreadyCompleted
		}
	}

	attempt := &model.QuizAttempt{
		ID:            uuid.New(),
		QuizID:        quizID,
		StudentID:     studentID,
		StartedAt:     now,
		Deadline:      ComputeDeadline(now, quiz.DurationMinutes),
		Status:        model.AttemptStatusInProgress,
		QuestionOrder: freezeOrder(quiz),
		Answers:       map[int]model.Answer{},
	}

	created, err := s.store.Create(ctx, attempt)
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	if !created {
		// Lost a concurrent start; the winner's attempt is the open one.
		existing, err := s.store.GetOpen(ctx, quizID, studentID)
		if err != nil {
			return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", err)
		}
		return existing, nil
	}

	s.cacheDeadline(ctx, attempt)
	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("quiz_id", quizID.String()).
		Int("student_id", studentID).
		Time("deadline", attempt.Deadline).
		Msg("Attempt started")

	return attempt, nil
}

// RecordAnswer upserts one answer on an open attempt. A call landing past
// the deadline force-finalizes the attempt as timed_out before rejecting,
// so the record never stays silently stale.
func (s *AttemptService) RecordAnswer(ctx context.Context, attemptID uuid.UUID, studentID int, questionIndex int, ans model.Answer) error {
	attempt, err := s.getOwned(ctx, attemptID, studentID)
	if err != nil {
		return err
	}

	if attempt.Status.Terminal() {
		return ErrAttemptClosed
	}
	if PastDeadline(attempt, s.now()) {
		if _, err := s.finalize(ctx, attempt, model.AttemptStatusTimedOut); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Finalize on expired answer failed")
		}
		return ErrAttemptClosed
	}

	if questionIndex < 0 || questionIndex >= len(attempt.QuestionOrder) {
		return ErrInvalidQuestion
	}

	updated, err := s.store.UpsertAnswer(ctx, attemptID, questionIndex, ans)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	if !updated {
		// The attempt was finalized between the read and the write.
		return ErrAttemptClosed
	}

	s.cacheAnswer(ctx, attemptID, questionIndex, ans)
	return nil
}

// Submit finalizes an attempt as completed. Idempotent: a terminal attempt
// returns its stored result without re-scoring. A submit past the deadline
// finalizes as timed_out instead.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.QuizAttempt, error) {
	attempt, err := s.getOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	if attempt.Status.Terminal() {
		return attempt, nil
	}

	status := model.AttemptStatusCompleted
	if PastDeadline(attempt, s.now()) {
		status = model.AttemptStatusTimedOut
	}
	return s.finalize(ctx, attempt, status)
}

// ForceFinalize closes an expired attempt as timed_out. Invoked by the
// reaper sweep and by the WebSocket countdown; safe under concurrent
// invocation — exactly one writer wins the store transition, everyone else
// observes the already-persisted terminal state.
func (s *AttemptService) ForceFinalize(ctx context.Context, attemptID uuid.UUID) (*model.QuizAttempt, error) {
	attempt, err := s.store.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	if attempt.Status.Terminal() {
		return attempt, nil
	}
	if !Due(attempt, s.now()) {
		return nil, ErrDeadlineNotReached
	}
	return s.finalize(ctx, attempt, model.AttemptStatusTimedOut)
}

/// Abandon is the administrative override: closes an open attempt without
// scoring. Mutually exclusive with Submit/ForceFinalize through the same
// atomic conditional transition.
func (s *AttemptService) Abandon(ctx context.Context, attemptID uuid.UUID) (*model.QuizAttempt, error) {
	attempt, err := s.store.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.Status.Terminal() {
		return nil, ErrAttemptClosed
	}

	endedAt := s.now()
	committed, err := s.store.Finalize(ctx, attemptID, model.AttemptStatusAbandoned, endedAt, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("abandon attempt: %w", err)
	}
	if !committed {
		return s.readBackTerminal(ctx, attemptID)
	}

	s.clearAttemptCache(ctx, attemptID)
	attempt.Status = model.AttemptStatusAbandoned
	attempt.EndedAt = &endedAt
	s.log.Info().Str("attempt_id", attemptID.String()).Msg("Attempt abandoned")
	return attempt, nil
}

// Get returns the attempt with server-computed remaining time, for
// resumption and display.
func (s *AttemptService) Get(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptState, error) {
	attempt, err := s.getOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	return &model.AttemptState{
		Attempt:          attempt,
		RemainingSeconds: Remaining(attempt, s.now()).Seconds(),
	}, nil
}

// OpenAttempt returns the student's in_progress attempt for a quiz without
// creating one. Used by paper download, which requires an open attempt.
func (s *AttemptService) OpenAttempt(ctx context.Context, quizID uuid.UUID, studentID int) (*model.QuizAttempt, error) {
	attempt, err := s.store.GetOpen(ctx, quizID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get open attempt: %w", err)
	}
	return attempt, nil
}

// History returns the student's attempts, newest first.
func (s *AttemptService) History(ctx context.Context, studentID int) ([]model.QuizAttempt, error) {
	attempts, err := s.store.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

// ExpiredAttempts lists open attempts past their deadline, for the reaper.
func (s *AttemptService) ExpiredAttempts(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return s.store.ListExpired(ctx, s.now(), limit)
}

// ────────────────────────────────────────────────────────────────────────────
// Finalization core
// ────────────────────────────────────────────────────────────────────────────

// finalize scores the attempt and commits the one-time terminal transition.
// When the conditional write reports a lost race, the winner's persisted
// state is read back and returned so every caller sees the same result.
func (s *AttemptService) finalize(ctx context.Context, attempt *model.QuizAttempt, status model.AttemptStatus) (*model.QuizAttempt, error) {
	quiz, err := s.quizzes.GetDefinition(ctx, attempt.QuizID)
	if err != nil {
		return nil, fmt.Errorf("get quiz definition: %w", err)
	}

	score, passed, fb := s.scorer.Score(ctx, quiz, attempt.Answers)
	endedAt := s.now()

	committed, err := s.store.Finalize(ctx, attempt.ID, status, endedAt, &score, &passed, fb)
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}
	if !committed {
		return s.readBackTerminal(ctx, attempt.ID)
	}

	s.clearAttemptCache(ctx, attempt.ID)

	attempt.Status = status
	attempt.EndedAt = &endedAt
	attempt.Score = &score
	attempt.Passed = &passed
	attempt.Feedback = fb

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("status", string(status)).
		Float64("score", score).
		Bool("passed", passed).
		Bool("degraded", fb.Degraded).
		Msg("Attempt finalized")

	return attempt, nil
}

// readBackTerminal fetches the state persisted by whichever writer won the
// finalization race.
func (s *AttemptService) readBackTerminal(ctx context.Context, attemptID uuid.UUID) (*model.QuizAttempt, error) {
	winner, err := s.store.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("concurrent finalization detected, but read-back failed: %w", err)
	}
	return winner, nil
}

func (s *AttemptService) getOwned(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.QuizAttempt, error) {
	attempt, err := s.store.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, ErrNotOwner
	}
	return attempt, nil
}

// freezeOrder snapshots the question order for the attempt, applying
// randomization once. Resumption reuses the stored order; a reload never
// reshuffles.
func freezeOrder(quiz *model.QuizDefinition) []int {
	order := make([]int, len(quiz.Questions))
	for i, q := range quiz.Questions {
		order[i] = q.Index
	}
	if quiz.Randomize {
		rand.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return order
}

// ────────────────────────────────────────────────────────────────────────────
// Redis write-through (best effort; PostgreSQL stays the source of truth)
// ────────────────────────────────────────────────────────────────────────────

func (s *AttemptService) cacheDeadline(ctx context.Context, a *model.QuizAttempt) {
	key := config.CacheKey.AttemptDeadlineKey(a.ID.String())
	if err := s.rdb.Set(ctx, key, a.Deadline.Unix(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Cache deadline failed")
	}
}

func (s *AttemptService) cacheAnswer(ctx context.Context, attemptID uuid.UUID, questionIndex int, ans model.Answer) {
	raw, err := json.Marshal(ans)
	if err != nil {
		return
	}
	key := config.CacheKey.AttemptAnswersKey(attemptID.String())
	if err := s.rdb.HSet(ctx, key, strconv.Itoa(questionIndex), raw).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Cache answer failed")
	}
}

func (s *AttemptService) clearAttemptCache(ctx context.Context, attemptID uuid.UUID) {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String()))
	pipe.Del(ctx, config.CacheKey.AttemptDeadlineKey(attemptID.String()))
	_, _ = pipe.Exec(ctx)
}
