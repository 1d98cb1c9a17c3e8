// Command seed-quiz inserts a sample quiz definition for local development
// and prints a student token for trying the attempt flow by hand.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizforge/quizforge-backend/internal/config"
	"github.com/quizforge/quizforge-backend/internal/model"
	"github.com/quizforge/quizforge-backend/internal/repository"
	"github.com/quizforge/quizforge-backend/internal/service"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	quiz := &model.QuizDefinition{
		ID:              uuid.New(),
		Title:           "Go Fundamentals",
		DurationMinutes: 20,
		TotalMarks:      4,
		PassingMarks:    3,
		Randomize:       true,
		AllowRetake:     false,
		Questions: []model.Question{
			{
				Index:   0,
				Text:    "Which keyword declares a new variable with inferred type?",
				Type:    model.QuestionTypeSingleChoice,
				Options: []string{"var", ":=", "let", "def"},
				Correct: []string{":="},
				Marks:   1,
			},
			{
				Index:   1,
				Text:    "Select everything that is a built-in Go type.",
				Type:    model.QuestionTypeMultiChoice,
				Options: []string{"rune", "decimal", "complex128", "varchar"},
				Correct: []string{"rune", "complex128"},
				Marks:   1,
			},
			{
				Index:   2,
				Text:    "A nil map can be read from without panicking.",
				Type:    model.QuestionTypeTrueFalse,
				Options: []string{"true", "false"},
				Correct: []string{"true"},
				Marks:   1,
			},
			{
				Index:    3,
				Text:     "Explain what a goroutine is and how it differs from an OS thread.",
				Type:     model.QuestionTypeShortAnswer,
				Guidance: "Expect: lightweight, multiplexed onto OS threads by the runtime scheduler, small growable stacks.",
				Marks:    1,
			},
		},
	}

	repo := repository.NewQuizRepository(pool)
	if err := repo.Create(ctx, quiz); err != nil {
		log.Fatalf("seed quiz: %v", err)
	}
	fmt.Printf("Seeded quiz %s (%s)\n", quiz.ID, quiz.Title)

	auth := service.NewAuthService(cfg)
	token, err := auth.GenerateStudentToken(1001, 24*time.Hour)
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	fmt.Printf("Student token (id 1001):\n%s\n", token)
}
