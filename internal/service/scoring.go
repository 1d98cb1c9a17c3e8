package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/quizforge/quizforge-backend/internal/model"
)

// GradeResult is the judgment returned by the free-text grading collaborator.
type GradeResult struct {
	Correct     bool   `json:"correct"`
	Explanation string `json:"explanation,omitempty"`
}

// Grader grades a single free-text answer. Implementations make exactly one
// attempt; retries, if any, belong to the caller's infrastructure.
type Grader interface {
	GradeFreeText(ctx context.Context, question model.Question, answer string) (GradeResult, error)
}

// ScoringEngine grades a frozen question set against submitted answers.
// Objective types are compared deterministically; short answers are
// delegated to the Grader under a bounded timeout.
type ScoringEngine struct {
	grader  Grader
	timeout time.Duration
}

// NewScoringEngine creates a ScoringEngine. timeout bounds each grader call.
func NewScoringEngine(grader Grader, timeout time.Duration) *ScoringEngine {
	return &ScoringEngine{grader: grader, timeout: timeout}
}

// Score grades every question in the quiz. Unanswered questions score zero
// and stay in the denominator. A grader failure degrades the affected
// question to zero marks instead of failing the whole finalization.
func (e *ScoringEngine) Score(ctx context.Context, quiz *model.QuizDefinition, answers map[int]model.Answer) (float64, bool, *model.Feedback) {
	fb := &model.Feedback{
		Questions: make([]model.QuestionResult, 0, len(quiz.Questions)),
	}

	var score float64
	for _, q := range quiz.Questions {
		ans, answered := answers[q.Index]
		res := e.scoreQuestion(ctx, q, ans, answered)
		score += res.Awarded
		fb.Questions = append(fb.Questions, res)
		if res.Degraded {
			fb.Degraded = true
		}
	}

	passed := score >= quiz.PassingMarks
	e.summarize(quiz, fb, passed)
	return score, passed, fb
}

func (e *ScoringEngine) scoreQuestion(ctx context.Context, q model.Question, ans model.Answer, answered bool) model.QuestionResult {
	res := model.QuestionResult{
		Index:    q.Index,
		MaxMarks: q.Marks,
		Answered: answered,
	}

	switch q.Type {
	case model.QuestionTypeSingleChoice, model.QuestionTypeTrueFalse, model.QuestionTypeMultiChoice:
		// Order-independent set equality covers all objective types;
		// single-choice and true/false are one-element sets.
		if answered && equalStringSets(ans.Selected, q.Correct) {
			res.Correct = true
			res.Awarded = q.Marks
		}

	case model.QuestionTypeShortAnswer:
		if !answered || ans.Text == "" {
			res.Answered = false
			return res
		}
		grade, err := e.gradeFreeText(ctx, q, ans.Text)
		if err != nil {
			res.Degraded = true
			res.Explanation = "This answer could not be graded automatically."
			return res
		}
		res.Correct = grade.Correct
		res.Explanation = grade.Explanation
		if grade.Correct {
			res.Awarded = q.Marks
		}

	default:
		// Unknown type in a stored definition; never award marks for it.
		res.Explanation = fmt.Sprintf("unsupported question type %q", q.Type)
	}

	return res
}

// gradeFreeText makes a single bounded-timeout call to the collaborator.
func (e *ScoringEngine) gradeFreeText(ctx context.Context, q model.Question, text string) (GradeResult, error) {
	gctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.grader.GradeFreeText(gctx, q, text)
}

// summarize assembles the aggregate strengths/weaknesses/recommendations
// from the per-question results.
func (e *ScoringEngine) summarize(quiz *model.QuizDefinition, fb *model.Feedback, passed bool) {
	for _, res := range fb.Questions {
		title := fmt.Sprintf("Question %d", res.Index+1)
		if q := questionAt(quiz, res.Index); q != nil {
			title = fmt.Sprintf("Question %d: %s", res.Index+1, truncate(q.Text, 80))
		}
		if res.Correct {
			fb.Strengths = append(fb.Strengths, title)
		} else {
			fb.Weaknesses = append(fb.Weaknesses, title)
		}
	}

	if !passed {
		fb.Recommendations = append(fb.Recommendations,
			"Review the topics listed under weaknesses before attempting a similar quiz.")
	}
	if fb.Degraded {
		fb.Recommendations = append(fb.Recommendations,
			"Some written answers could not be graded automatically; the score covers objective questions only.")
	}
}

func questionAt(quiz *model.QuizDefinition, index int) *model.Question {
	for i := range quiz.Questions {
		if quiz.Questions[i].Index == index {
			return &quiz.Questions[i]
		}
	}
	return nil
}

// truncate shortens s to at most max runes, never splitting a multibyte
// character.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}

// equalStringSets compares two option lists ignoring order and duplicates.
func equalStringSets(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, v := range a {
		as[v] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, v := range b {
		bs[v] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for v := range bs {
		if _, ok := as[v]; !ok {
			return false
		}
	}
	return true
}
