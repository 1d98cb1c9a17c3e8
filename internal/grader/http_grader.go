// Package grader holds the adapter for the external AI-grading
// collaborator. The core owns no retry/backoff logic: one bounded call per
// question, and failures surface as service.ErrGradingUnavailable so the
// scoring engine can degrade instead of stalling a finalization.
package grader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizforge/quizforge-backend/internal/config"
	"github.com/quizforge/quizforge-backend/internal/model"
	"github.com/quizforge/quizforge-backend/internal/service"
)

// HTTPGrader calls the grading collaborator over HTTP JSON.
type HTTPGrader struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewHTTPGrader creates an HTTPGrader from config. The HTTP client timeout
// is a backstop; per-call deadlines come from the caller's context.
func NewHTTPGrader(cfg *config.Config, log zerolog.Logger) *HTTPGrader {
	return &HTTPGrader{
		url: cfg.GraderURL,
		client: &http.Client{
			Timeout: cfg.GraderTimeout + 2*time.Second,
		},
		log: log.With().Str("component", "grader").Logger(),
	}
}

type gradeRequest struct {
	Question string `json:"question"`
	Guidance string `json:"guidance,omitempty"`
	Answer   string `json:"answer"`
}

type gradeResponse struct {
	Correct     bool   `json:"correct"`
	Explanation string `json:"explanation,omitempty"`
}

// GradeFreeText submits one free-text answer for judgment. Exactly one
// attempt; any transport or decoding failure maps to ErrGradingUnavailable.
func (g *HTTPGrader) GradeFreeText(ctx context.Context, question model.Question, answer string) (service.GradeResult, error) {
	body, err := json.Marshal(gradeRequest{
		Question: question.Text,
		Guidance: question.Guidance,
		Answer:   answer,
	})
	if err != nil {
		return service.GradeResult{}, fmt.Errorf("marshal grade request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return service.GradeResult{}, fmt.Errorf("build grade request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Warn().Err(err).Msg("Grading call failed")
		return service.GradeResult{}, fmt.Errorf("%w: %v", service.ErrGradingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.log.Warn().Int("status", resp.StatusCode).Msg("Grading call returned non-200")
		return service.GradeResult{}, fmt.Errorf("%w: status %d", service.ErrGradingUnavailable, resp.StatusCode)
	}

	var out gradeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return service.GradeResult{}, fmt.Errorf("%w: decode response: %v", service.ErrGradingUnavailable, err)
	}

	return service.GradeResult{Correct: out.Correct, Explanation: out.Explanation}, nil
}
