package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quizforge/quizforge-backend/internal/config"
	"github.com/quizforge/quizforge-backend/internal/model"
	"github.com/quizforge/quizforge-backend/internal/repository"
)

// QuizService is the quiz-definition provider adapter. Definitions live in
// PostgreSQL; the sanitized paper payload (no answer keys) is cached in
// Redis so attempt-taking reads bypass the database.
type QuizService struct {
	quizRepo *repository.QuizRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewQuizService creates a new QuizService.
func NewQuizService(quizRepo *repository.QuizRepository, rdb *redis.Client, log zerolog.Logger) *QuizService {
	return &QuizService{
		quizRepo: quizRepo,
		rdb:      rdb,
		log:      log.With().Str("component", "quiz_service").Logger(),
	}
}

// GetDefinition retrieves the full quiz definition, answer keys included.
// Only the orchestrator and scoring engine may see this form.
func (s *QuizService) GetDefinition(ctx context.Context, quizID uuid.UUID) (*model.QuizDefinition, error) {
	return s.quizRepo.GetByID(ctx, quizID)
}

// GetPaper returns the sanitized paper for an attempt, with questions laid
// out in the attempt's frozen order. The base payload comes from the Redis
// cache when warm, falling back to PostgreSQL with a self-heal write.
func (s *QuizService) GetPaper(ctx context.Context, quizID uuid.UUID, order []int) (*model.QuizPaper, error) {
	key := config.CacheKey.QuizPayloadKey(quizID.String())

	var paper model.QuizPaper
	raw, err := s.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if err := json.Unmarshal([]byte(raw), &paper); err != nil {
			return nil, fmt.Errorf("corrupt cached payload: %w", err)
		}
	case errors.Is(err, redis.Nil):
		quiz, dbErr := s.quizRepo.GetByID(ctx, quizID)
		if dbErr != nil {
			return nil, dbErr
		}
		paper = buildPaper(quiz)
		s.warmPayload(ctx, &paper)
	default:
		return nil, fmt.Errorf("redis error getting payload: %w", err)
	}

	return reorderPaper(&paper, order), nil
}

// PrewarmAllCaches loads every startable quiz payload into Redis before the
// server accepts traffic, avoiding a thundering herd of lazy loads.
func (s *QuizService) PrewarmAllCaches(ctx context.Context) error {
	quizzes, err := s.quizRepo.ListStartable(ctx)
	if err != nil {
		return fmt.Errorf("list startable quizzes: %w", err)
	}

	for i := range quizzes {
		paper := buildPaper(&quizzes[i])
		s.warmPayload(ctx, &paper)
	}

	s.log.Info().Int("count", len(quizzes)).Msg("Quiz payload caches warmed")
	return nil
}

func (s *QuizService) warmPayload(ctx context.Context, paper *model.QuizPaper) {
	raw, err := json.Marshal(paper)
	if err != nil {
		return
	}
	key := config.CacheKey.QuizPayloadKey(paper.QuizID.String())
	if err := s.rdb.Set(ctx, key, raw, 0).Err(); err != nil {
		s.log.Warn().Err(err).Str("quiz_id", paper.QuizID.String()).Msg("Warm payload failed")
	}
}

// buildPaper strips answer keys and grader guidance from a definition.
func buildPaper(quiz *model.QuizDefinition) model.QuizPaper {
	paper := model.QuizPaper{
		QuizID:          quiz.ID,
		Title:           quiz.Title,
		DurationMinutes: quiz.DurationMinutes,
		TotalMarks:      quiz.TotalMarks,
		Questions:       make([]model.PaperQuestion, 0, len(quiz.Questions)),
	}
	for _, q := range quiz.Questions {
		paper.Questions = append(paper.Questions, model.PaperQuestion{
			Index:   q.Index,
			Text:    q.Text,
			Type:    q.Type,
			Options: q.Options,
			Marks:   q.Marks,
		})
	}
	return paper
}

// reorderPaper lays questions out in the attempt's frozen order. Indexes
// missing from the payload (definition drift) are skipped rather than
// failing the whole paper.
func reorderPaper(paper *model.QuizPaper, order []int) *model.QuizPaper {
	if len(order) == 0 {
		return paper
	}
	byIndex := make(map[int]model.PaperQuestion, len(paper.Questions))
	for _, q := range paper.Questions {
		byIndex[q.Index] = q
	}

	out := *paper
	out.Questions = make([]model.PaperQuestion, 0, len(order))
	for _, idx := range order {
		if q, ok := byIndex[idx]; ok {
			out.Questions = append(out.Questions, q)
		}
	}
	return &out
}
