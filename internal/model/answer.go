package model

import (
	"time"

	"github.com/google/uuid"
)

// AnswerRecord is the current selection for one question within one attempt.
// Exactly one record exists per (session, question); saves replace it.
type AnswerRecord struct {
	SessionID         uuid.UUID `json:"session_id"`
	QuestionID        uuid.UUID `json:"question_id"`
	SelectedOptionIDs []string  `json:"selected_option_ids"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// AnswerRequest records or toggles one option on one question.
type AnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	OptionID   string `json:"option_id" binding:"required,option_id"`
	Toggle     bool   `json:"toggle"`
}
