package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt lifecycle states. Every status other
// than in_progress is terminal; a terminal record is never written again.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusCompleted  AttemptStatus = "completed"
	AttemptStatusTimedOut   AttemptStatus = "timed_out"
	AttemptStatusAbandoned  AttemptStatus = "abandoned"
)

// Terminal reports whether the status ends the attempt lifecycle.
func (s AttemptStatus) Terminal() bool {
	return s != AttemptStatusInProgress
}

// Answer is a student's submitted answer for one question. The shape is
// tagged by the question's type: objective types fill Selected, short
// answer fills Text.
type Answer struct {
	Selected []string `json:"selected,omitempty"`
	Text     string   `json:"text,omitempty"`
}

// QuestionResult is the per-question grading outcome.
type QuestionResult struct {
	Index       int     `json:"index"`
	Correct     bool    `json:"correct"`
	Awarded     float64 `json:"awarded"`
	MaxMarks    float64 `json:"max_marks"`
	Answered    bool    `json:"answered"`
	Explanation string  `json:"explanation,omitempty"`
	// Degraded marks a short-answer question that could not be graded
	// because the AI collaborator was unavailable.
	Degraded bool `json:"degraded,omitempty"`
}

// Feedback is the aggregate analysis payload attached at finalization.
type Feedback struct {
	Questions       []QuestionResult `json:"questions"`
	Strengths       []string         `json:"strengths,omitempty"`
	Weaknesses      []string         `json:"weaknesses,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`
	// Degraded is set when one or more questions were scored without the
	// AI grader; the score covers objective questions only.
	Degraded bool `json:"degraded"`
}

// QuizAttempt is one student's timed instance of taking a quiz.
//
// StartedAt and Deadline are written once at creation and never recomputed:
// the deadline is always derived from the stored value, never from a fresh
// "now", so a tampered client clock cannot stretch the window.
type QuizAttempt struct {
	ID        uuid.UUID `json:"id"`
	QuizID    uuid.UUID `json:"quiz_id"`
	StudentID int       `json:"student_id"`

	StartedAt time.Time  `json:"started_at"`
	Deadline  time.Time  `json:"deadline"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Status AttemptStatus `json:"status"`

	// QuestionOrder is the frozen question-index order for this attempt.
	// Randomization is applied once at creation, not per load.
	QuestionOrder []int `json:"question_order"`

	Answers map[int]Answer `json:"answers"`

	Score    *float64  `json:"score,omitempty"`
	Passed   *bool     `json:"passed,omitempty"`
	Feedback *Feedback `json:"feedback,omitempty"`
}

// AttemptState is the resumption/display view returned to students,
// with the server-computed remaining time.
type AttemptState struct {
	Attempt          *QuizAttempt `json:"attempt"`
	RemainingSeconds float64      `json:"remaining_seconds"`
}

// RecordAnswerRequest is the payload for saving a single answer.
type RecordAnswerRequest struct {
	QuestionIndex int      `json:"question_index" binding:"min=0"`
	Selected      []string `json:"selected" binding:"omitempty,max=26"`
	Text          string   `json:"text" binding:"omitempty,max=10000"`
}
