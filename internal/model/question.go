package model

import (
	"github.com/google/uuid"
)

// Cardinality is the number of options a question accepts.
type Cardinality string

const (
	CardinalitySingle   Cardinality = "single"
	CardinalityMultiple Cardinality = "multiple"
)

// QuestionView is the read-only projection of a question used by the runtime.
// Correctness data is deliberately absent.
type QuestionView struct {
	ID          uuid.UUID   `json:"id"`
	Position    int         `json:"position"`
	Cardinality Cardinality `json:"cardinality"`
	OptionIDs   []string    `json:"option_ids"`
}

// HasOption reports whether optionID belongs to the question.
func (q QuestionView) HasOption(optionID string) bool {
	for _, id := range q.OptionIDs {
		if id == optionID {
			return true
		}
	}
	return false
}

// Question is the full question bank row, including the answer key.
type Question struct {
	ID               uuid.UUID        `json:"id"`
	AssessmentID     uuid.UUID        `json:"assessment_id"`
	QuestionText     string           `json:"question_text"`
	Cardinality      Cardinality      `json:"cardinality"`
	Options          []QuestionOption `json:"options"`
	CorrectOptionIDs []string         `json:"-"`
	OrderNum         int              `json:"order_num"`
}

// QuestionOption is one selectable option.
type QuestionOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// View projects the question for the runtime.
func (q Question) View() QuestionView {
	ids := make([]string, 0, len(q.Options))
	for _, o := range q.Options {
		ids = append(ids, o.ID)
	}
	return QuestionView{
		ID:          q.ID,
		Position:    q.OrderNum,
		Cardinality: q.Cardinality,
		OptionIDs:   ids,
	}
}

// PaperQuestion is a question as shown to the candidate.
type PaperQuestion struct {
	ID           uuid.UUID        `json:"id"`
	Position     int              `json:"position"`
	QuestionText string           `json:"question_text"`
	Cardinality  Cardinality      `json:"cardinality"`
	Options      []QuestionOption `json:"options"`
}
