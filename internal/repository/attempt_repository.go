package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizforge/quizforge-backend/internal/model"
)

// AttemptRepository handles attempt data access. The single-open-attempt
// invariant is enforced by a partial unique index on (quiz_id, student_id)
// WHERE status = 'in_progress'; finalization is an atomic conditional
// UPDATE so exactly one writer ever closes an attempt.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, quiz_id, student_id, started_at, deadline, ended_at, status, question_order, answers, score, passed, feedback`

// GetByID retrieves an attempt by its id.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.QuizAttempt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id)
	return scanAttempt(row)
}

// GetOpen retrieves the in_progress attempt for a (quiz, student) pair.
func (r *AttemptRepository) GetOpen(ctx context.Context, quizID uuid.UUID, studentID int) (*model.QuizAttempt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE quiz_id = $1 AND student_id = $2 AND status = 'in_progress'`,
		quizID, studentID)
	return scanAttempt(row)
}

// HasTerminal reports whether any finished attempt exists for the pair.
func (r *AttemptRepository) HasTerminal(ctx context.Context, quizID uuid.UUID, studentID int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM attempts
			WHERE quiz_id = $1 AND student_id = $2 AND status <> 'in_progress'
		 )`, quizID, studentID).Scan(&exists)
	return exists, err
}

// Create inserts a new in_progress attempt. Returns false when the partial
// unique index reports an open attempt already exists for the pair.
func (r *AttemptRepository) Create(ctx context.Context, a *model.QuizAttempt) (bool, error) {
	orderRaw, err := json.Marshal(a.QuestionOrder)
	if err != nil {
		return false, fmt.Errorf("marshal question order: %w", err)
	}
	answersRaw, err := json.Marshal(encodeAnswers(a.Answers))
	if err != nil {
		return false, fmt.Errorf("marshal answers: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO attempts (id, quiz_id, student_id, started_at, deadline, status, question_order, answers)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (quiz_id, student_id) WHERE status = 'in_progress' DO NOTHING`,
		a.ID, a.QuizID, a.StudentID, a.StartedAt, a.Deadline, a.Status, orderRaw, answersRaw)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertAnswer writes one answer into the attempt's answers document, but
// only while the attempt is still open. Returns false when the status guard
// failed (the attempt was finalized concurrently).
func (r *AttemptRepository) UpsertAnswer(ctx context.Context, attemptID uuid.UUID, questionIndex int, ans model.Answer) (bool, error) {
	raw, err := json.Marshal(ans)
	if err != nil {
		return false, fmt.Errorf("marshal answer: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET answers = jsonb_set(COALESCE(answers, '{}'::jsonb), ARRAY[$2::text], $3::jsonb, true),
		     updated_at = NOW()
		 WHERE id = $1 AND status = 'in_progress'`,
		attemptID, strconv.Itoa(questionIndex), raw)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Finalize performs the one-time terminal transition: "set status and
// result, but only if still in_progress". Zero rows affected means another
// writer won; the caller must read back the persisted terminal state.
func (r *AttemptRepository) Finalize(ctx context.Context, attemptID uuid.UUID, status model.AttemptStatus, endedAt time.Time, score *float64, passed *bool, fb *model.Feedback) (bool, error) {
	var fbRaw []byte
	if fb != nil {
		var err error
		fbRaw, err = json.Marshal(fb)
		if err != nil {
			return false, fmt.Errorf("marshal feedback: %w", err)
		}
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $2, ended_at = $3, score = $4, passed = $5, feedback = $6,
		     updated_at = NOW()
		 WHERE id = $1 AND status = 'in_progress'`,
		attemptID, status, endedAt, score, passed, fbRaw)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListExpired returns ids of open attempts whose deadline has passed.
func (r *AttemptRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM attempts
		 WHERE status = 'in_progress' AND deadline <= $1
		 ORDER BY deadline ASC
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByStudent retrieves all attempts for a student, newest first.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID int) ([]model.QuizAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE student_id = $1
		 ORDER BY started_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.QuizAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// ────────────────────────────────────────────────────────────────────────────
// Row mapping
// ────────────────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*model.QuizAttempt, error) {
	a := &model.QuizAttempt{}
	var orderRaw, answersRaw, fbRaw []byte

	err := row.Scan(
		&a.ID, &a.QuizID, &a.StudentID,
		&a.StartedAt, &a.Deadline, &a.EndedAt,
		&a.Status, &orderRaw, &answersRaw,
		&a.Score, &a.Passed, &fbRaw,
	)
	if err != nil {
		return nil, err
	}

	if len(orderRaw) > 0 {
		if err := json.Unmarshal(orderRaw, &a.QuestionOrder); err != nil {
			return nil, fmt.Errorf("unmarshal question order: %w", err)
		}
	}
	a.Answers = map[int]model.Answer{}
	if len(answersRaw) > 0 {
		encoded := map[string]model.Answer{}
		if err := json.Unmarshal(answersRaw, &encoded); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
		for k, v := range encoded {
			idx, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("invalid answer key %q", k)
			}
			a.Answers[idx] = v
		}
	}
	if len(fbRaw) > 0 {
		a.Feedback = &model.Feedback{}
		if err := json.Unmarshal(fbRaw, a.Feedback); err != nil {
			return nil, fmt.Errorf("unmarshal feedback: %w", err)
		}
	}

	return a, nil
}

// encodeAnswers converts the int-keyed answer map into the string-keyed
// form stored in jsonb, matching the keys jsonb_set writes.
func encodeAnswers(answers map[int]model.Answer) map[string]model.Answer {
	out := make(map[string]model.Answer, len(answers))
	for k, v := range answers {
		out[strconv.Itoa(k)] = v
	}
	return out
}
