package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question kinds. Objective types are
// graded by exact comparison; short answer is delegated to the AI grader.
type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "single_choice"
	QuestionTypeMultiChoice  QuestionType = "multi_choice"
	QuestionTypeTrueFalse    QuestionType = "true_false"
	QuestionTypeShortAnswer  QuestionType = "short_answer"
)

// Objective reports whether the type can be graded without external judgment.
func (t QuestionType) Objective() bool {
	switch t {
	case QuestionTypeSingleChoice, QuestionTypeMultiChoice, QuestionTypeTrueFalse:
		return true
	}
	return false
}

// Question is a single question inside a quiz definition. Correct and
// Guidance are never sent to students; see QuizPaper.
type Question struct {
	Index    int          `json:"index"`
	Text     string       `json:"text"`
	Type     QuestionType `json:"type"`
	Options  []string     `json:"options,omitempty"`
	Correct  []string     `json:"correct,omitempty"`  // objective types only
	Guidance string       `json:"guidance,omitempty"` // short answer: expected-answer notes for the grader
	Marks    float64      `json:"marks"`
}

// QuizDefinition is the immutable snapshot of a quiz used for an attempt.
type QuizDefinition struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	TotalMarks      float64    `json:"total_marks"`
	PassingMarks    float64    `json:"passing_marks"`
	Randomize       bool       `json:"randomize"`
	AllowRetake     bool       `json:"allow_retake"`
	ActiveFrom      *time.Time `json:"active_from,omitempty"`
	ActiveUntil     *time.Time `json:"active_until,omitempty"`
	Questions       []Question `json:"questions"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ActiveAt reports whether the quiz may be started at the given instant.
// Nil window bounds are open-ended.
func (q *QuizDefinition) ActiveAt(now time.Time) bool {
	if q.ActiveFrom != nil && now.Before(*q.ActiveFrom) {
		return false
	}
	if q.ActiveUntil != nil && now.After(*q.ActiveUntil) {
		return false
	}
	return true
}

// PaperQuestion is a question with the answer key stripped, as sent to students.
type PaperQuestion struct {
	Index   int          `json:"index"`
	Text    string       `json:"text"`
	Type    QuestionType `json:"type"`
	Options []string     `json:"options,omitempty"`
	Marks   float64      `json:"marks"`
}

// QuizPaper is the sanitized payload a student downloads for an open attempt.
// Questions follow the attempt's frozen order.
type QuizPaper struct {
	QuizID          uuid.UUID       `json:"quiz_id"`
	Title           string          `json:"title"`
	DurationMinutes int             `json:"duration_minutes"`
	TotalMarks      float64         `json:"total_marks"`
	Questions       []PaperQuestion `json:"questions"`
}
