package config

import (
	"fmt"

	"github.com/google/uuid"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptSnapshotKey returns the hash holding an attempt's latest snapshot
func (r *CacheKeyStruct) AttemptSnapshotKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("attempt:%s:snapshot", sessionID)
}

// AttemptAnswersKey returns the hash of question id to selected options
func (r *CacheKeyStruct) AttemptAnswersKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("attempt:%s:answers", sessionID)
}

// AttemptResultKey returns the cached scoring result of an attempt
func (r *CacheKeyStruct) AttemptResultKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("attempt:%s:result", sessionID)
}

// AttemptSubmitLockKey returns the lock taken while an attempt is scored
func (r *CacheKeyStruct) AttemptSubmitLockKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("attempt:%s:submit_lock", sessionID)
}

// AssessmentKey returns the cache key for an assessment's settings
func (r *CacheKeyStruct) AssessmentKey(assessmentID uuid.UUID) string {
	return fmt.Sprintf("assessment:%s:meta", assessmentID)
}

// AssessmentQuestionsKey returns the cache key for an assessment's question views
func (r *CacheKeyStruct) AssessmentQuestionsKey(assessmentID uuid.UUID) string {
	return fmt.Sprintf("assessment:%s:questions", assessmentID)
}

// AssessmentPaperKey returns the cache key for an assessment's candidate-facing paper
func (r *CacheKeyStruct) AssessmentPaperKey(assessmentID uuid.UUID) string {
	return fmt.Sprintf("assessment:%s:paper", assessmentID)
}

// AssessmentAnswerKey returns the cache key for an assessment's answer key
func (r *CacheKeyStruct) AssessmentAnswerKey(assessmentID uuid.UUID) string {
	return fmt.Sprintf("assessment:%s:key", assessmentID)
}

// CandidateEventsChannel returns the Redis PubSub channel for a candidate's live events
func (r *CacheKeyStruct) CandidateEventsChannel(sessionID uuid.UUID) string {
	return fmt.Sprintf("attempt:%s:events", sessionID)
}

// RateLimitKey returns the counter key for a candidate's request window
func (r *CacheKeyStruct) RateLimitKey(candidateID string, window int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", candidateID, window)
}

var CacheKey = NewCacheKeyStruct()
