package model

import (
	"time"

	"github.com/google/uuid"
)

// Assessment holds the settings the runtime needs from the assessment catalogue.
type Assessment struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	DurationSeconds int       `json:"duration_seconds"`
	MaxAttempts     int       `json:"max_attempts"`
	PassScore       float64   `json:"pass_score"`
	CreatedAt       time.Time `json:"created_at"`
}
