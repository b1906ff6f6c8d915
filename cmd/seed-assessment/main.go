package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/database"
	"github.com/stemsi/exstem-runtime/internal/logger"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/repository"
	"github.com/stemsi/exstem-runtime/internal/service"
)

func main() {
	var (
		title       string
		duration    int
		maxAttempts int
		passScore   float64
		candidateID string
		tokenTTL    time.Duration
	)
	flag.StringVar(&title, "title", "Workplace Safety Basics", "Assessment title")
	flag.IntVar(&duration, "duration", 600, "Duration in seconds")
	flag.IntVar(&maxAttempts, "max-attempts", 3, "Attempts allowed per candidate")
	flag.Float64Var(&passScore, "pass-score", 70, "Minimum score to pass")
	flag.StringVar(&candidateID, "candidate", "candidate-001", "Candidate id to issue a token for")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "Candidate token lifetime")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "seed-assessment")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	assessmentRepo := repository.NewAssessmentRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	authService := service.NewAuthService(cfg)

	fmt.Println("=== Seeding Assessment ===")

	assessment := &model.Assessment{
		Title:           title,
		DurationSeconds: duration,
		MaxAttempts:     maxAttempts,
		PassScore:       passScore,
	}
	if err := assessmentRepo.Create(ctx, assessment); err != nil {
		log.Fatal().Err(err).Msg("Failed to create assessment")
	}
	fmt.Printf("Created assessment %q with ID: %s\n", assessment.Title, assessment.ID)

	for i, q := range sampleQuestions() {
		q.AssessmentID = assessment.ID
		q.OrderNum = i
		if err := questionRepo.Create(ctx, &q); err != nil {
			log.Fatal().Err(err).Int("order", i).Msg("Failed to create question")
		}
		fmt.Printf("  [%d] %s (%s)\n", i, q.QuestionText, q.Cardinality)
	}

	token, err := authService.IssueCandidateToken(candidateID, "Seeded Candidate", tokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue candidate token")
	}

	fmt.Println("\n=== Candidate Token ===")
	fmt.Printf("Candidate: %s\n", candidateID)
	fmt.Printf("Token:     %s\n", token)
	fmt.Printf("\nStart with:\n  curl -X POST -H 'Authorization: Bearer %s' -H 'Content-Type: application/json' \\\n    -d '{\"assessment_id\":\"%s\"}' http://localhost:%s/api/v1/attempts\n",
		token, assessment.ID, cfg.ServerPort)
}

func sampleQuestions() []model.Question {
	opts := func(texts ...string) []model.QuestionOption {
		out := make([]model.QuestionOption, len(texts))
		for i, t := range texts {
			out[i] = model.QuestionOption{ID: string(rune('A' + i)), Text: t}
		}
		return out
	}

	return []model.Question{
		{
			QuestionText:     "What should you do first when you discover a fire?",
			Cardinality:      model.CardinalitySingle,
			Options:          opts("Raise the alarm", "Collect your belongings", "Open all windows", "Call a friend"),
			CorrectOptionIDs: []string{"A"},
		},
		{
			QuestionText:     "Which items are personal protective equipment?",
			Cardinality:      model.CardinalityMultiple,
			Options:          opts("Safety goggles", "Hard hat", "Coffee mug", "Steel-toe boots"),
			CorrectOptionIDs: []string{"A", "B", "D"},
		},
		{
			QuestionText:     "A spill on the floor should be",
			Cardinality:      model.CardinalitySingle,
			Options:          opts("Ignored", "Reported and signposted", "Covered with paper", "Left for the night shift"),
			CorrectOptionIDs: []string{"B"},
		},
		{
			QuestionText:     "Which of these are safe lifting practices?",
			Cardinality:      model.CardinalityMultiple,
			Options:          opts("Bend your knees", "Twist while lifting", "Keep the load close", "Lift above your head"),
			CorrectOptionIDs: []string{"A", "C"},
		},
		{
			QuestionText:     "Emergency exits must be",
			Cardinality:      model.CardinalitySingle,
			Options:          opts("Locked after hours", "Kept clear at all times", "Used for storage", "Hidden"),
			CorrectOptionIDs: []string{"B"},
		},
	}
}
