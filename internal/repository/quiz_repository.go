package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizforge/quizforge-backend/internal/model"
)

// QuizRepository handles quiz definition data access. Definitions are
// treated as immutable snapshots per attempt; this repository only reads
// and (for seeding) inserts, never mutates question content in place.
type QuizRepository struct {
	pool *pgxpool.Pool
}

// NewQuizRepository creates a new QuizRepository.
func NewQuizRepository(pool *pgxpool.Pool) *QuizRepository {
	return &QuizRepository{pool: pool}
}

const quizColumns = `id, title, duration_minutes, total_marks, passing_marks, randomize, allow_retake, active_from, active_until, questions, created_at, updated_at`

// GetByID retrieves a quiz definition by id.
func (r *QuizRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.QuizDefinition, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+quizColumns+` FROM quizzes WHERE id = $1`, id)
	return scanQuiz(row)
}

// ListStartable retrieves quizzes whose active window has not yet closed,
// for cache prewarm at boot.
func (r *QuizRepository) ListStartable(ctx context.Context) ([]model.QuizDefinition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+quizColumns+`
		 FROM quizzes
		 WHERE active_until IS NULL OR active_until > NOW()
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quizzes []model.QuizDefinition
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, err
		}
		quizzes = append(quizzes, *q)
	}
	return quizzes, rows.Err()
}

// Create inserts a quiz definition. Used by seed tooling.
func (r *QuizRepository) Create(ctx context.Context, q *model.QuizDefinition) error {
	questionsRaw, err := json.Marshal(q.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}

	return r.pool.QueryRow(ctx,
		`INSERT INTO quizzes (id, title, duration_minutes, total_marks, passing_marks, randomize, allow_retake, active_from, active_until, questions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at`,
		q.ID, q.Title, q.DurationMinutes, q.TotalMarks, q.PassingMarks,
		q.Randomize, q.AllowRetake, q.ActiveFrom, q.ActiveUntil, questionsRaw,
	).Scan(&q.CreatedAt, &q.UpdatedAt)
}

func scanQuiz(row rowScanner) (*model.QuizDefinition, error) {
	q := &model.QuizDefinition{}
	var questionsRaw []byte
	var activeFrom, activeUntil *time.Time

	err := row.Scan(
		&q.ID, &q.Title, &q.DurationMinutes, &q.TotalMarks, &q.PassingMarks,
		&q.Randomize, &q.AllowRetake, &activeFrom, &activeUntil,
		&questionsRaw, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	q.ActiveFrom = activeFrom
	q.ActiveUntil = activeUntil
	if len(questionsRaw) > 0 {
		if err := json.Unmarshal(questionsRaw, &q.Questions); err != nil {
			return nil, fmt.Errorf("unmarshal questions: %w", err)
		}
	}
	return q, nil
}
