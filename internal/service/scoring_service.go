package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/repository"
)

const (
	submitLockTTL  = 30 * time.Second
	resultCacheTTL = 24 * time.Hour

	// How long a caller that lost the submit lock waits for the holder's result.
	lockWaitTimeout  = 5 * time.Second
	lockPollInterval = 200 * time.Millisecond
)

// CertificateIssuer hands passed attempts to certificate generation.
type CertificateIssuer interface {
	Issue(ctx context.Context, req model.CertificateRequest) error
}

// ScoringService scores finished attempts. Submit is idempotent per session
// id: a stored result is always returned as is.
type ScoringService struct {
	bank         *QuestionBank
	resultRepo   *repository.ResultRepository
	certificates CertificateIssuer
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewScoringService creates a new ScoringService. A nil issuer disables
// certificate hand-off.
func NewScoringService(
	bank *QuestionBank,
	resultRepo *repository.ResultRepository,
	certificates CertificateIssuer,
	rdb *redis.Client,
	log zerolog.Logger,
) *ScoringService {
	return &ScoringService{
		bank:         bank,
		resultRepo:   resultRepo,
		certificates: certificates,
		rdb:          rdb,
		log:          log.With().Str("component", "scoring_service").Logger(),
	}
}

// Submit scores the attempt once and returns the stored result afterwards.
func (s *ScoringService) Submit(ctx context.Context, req model.SubmissionRequest) (*model.SubmissionResult, error) {
	existing, err := s.Result(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Info().Str("session_id", req.SessionID.String()).Msg("Returning stored result")
		return existing, nil
	}

	lockKey := config.CacheKey.AttemptSubmitLockKey(req.SessionID)
	locked, err := s.rdb.SetNX(ctx, lockKey, 1, submitLockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire submit lock: %w", err)
	}
	if !locked {
		result, err := awaitResult(ctx, lockWaitTimeout, lockPollInterval, func(ctx context.Context) (*model.SubmissionResult, error) {
			return s.Result(ctx, req.SessionID)
		})
		if err != nil {
			return nil, err
		}
		if result != nil {
			s.log.Info().Str("session_id", req.SessionID.String()).Msg("Returning result scored by lock holder")
			return result, nil
		}
		return nil, fmt.Errorf("score %s: %w", req.SessionID, model.ErrSubmissionInProgress)
	}
	defer s.rdb.Del(context.WithoutCancel(ctx), lockKey)

	assessment, err := s.bank.LoadAssessment(ctx, req.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("load assessment: %w", err)
	}
	key, err := s.bank.AnswerKey(ctx, req.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("load answer key: %w", err)
	}

	score := Score(req.Answers, key)
	result := &model.SubmissionResult{
		SessionID:   req.SessionID,
		Score:       score,
		IsPassed:    score >= assessment.PassScore,
		Reason:      req.Reason,
		SubmittedAt: time.Now().UTC(),
	}

	if result.IsPassed && s.certificates != nil {
		ref := CertificateRef(req.SessionID)
		err := s.certificates.Issue(ctx, model.CertificateRequest{
			CertificateRef: ref,
			SessionID:      req.SessionID,
			AssessmentID:   req.AssessmentID,
			CandidateID:    req.CandidateID,
			Score:          score,
			IssuedAt:       result.SubmittedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("issue certificate: %w", err)
		}
		result.CertificateRef = &ref
	}

	inserted, err := s.resultRepo.Insert(ctx, result, req.ElapsedSeconds)
	if err != nil {
		return nil, fmt.Errorf("insert result: %w", err)
	}
	if !inserted {
		// Another instance stored a result first.
		stored, err := s.resultRepo.GetBySession(ctx, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("get stored result: %w", err)
		}
		result = stored
	}

	s.cacheResult(ctx, result)
	s.enqueueCompletion(ctx, result)

	s.log.Info().
		Str("session_id", req.SessionID.String()).
		Float64("score", result.Score).
		Bool("is_passed", result.IsPassed).
		Str("reason", string(result.Reason)).
		Msg("Attempt scored")
	return result, nil
}

// awaitResult polls lookup until it returns a result, wait elapses or ctx
// ends. A nil result with a nil error means nothing was stored in time.
func awaitResult(ctx context.Context, wait, every time.Duration, lookup func(context.Context) (*model.SubmissionResult, error)) (*model.SubmissionResult, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-deadline.C:
			return nil, nil
		case <-ticker.C:
		}

		result, err := lookup(ctx)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}
}

// Result returns the stored result, or nil when the attempt was never scored.
func (s *ScoringService) Result(ctx context.Context, sessionID uuid.UUID) (*model.SubmissionResult, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.AttemptResultKey(sessionID)).Bytes()
	if err == nil {
		var cached model.SubmissionResult
		if err := json.Unmarshal(raw, &cached); err == nil {
			return &cached, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Result cache read failed")
	}

	stored, err := s.resultRepo.GetBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get result: %w", err)
	}
	s.cacheResult(ctx, stored)
	return stored, nil
}

func (s *ScoringService) cacheResult(ctx context.Context, result *model.SubmissionResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, config.CacheKey.AttemptResultKey(result.SessionID), raw, resultCacheTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", result.SessionID.String()).Msg("Failed to cache result")
	}
}

func (s *ScoringService) enqueueCompletion(ctx context.Context, result *model.SubmissionResult) {
	raw, err := json.Marshal(model.AttemptCompletion{
		SessionID:   result.SessionID,
		Status:      CompletionStatus(result.Reason),
		CompletedAt: result.SubmittedAt,
	})
	if err != nil {
		return
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", result.SessionID.String()).Msg("Failed to enqueue completion")
	}
}

// Score returns the percentage of questions whose selection matches the
// answer key exactly, rounded to two decimals. Unanswered questions score zero.
func Score(answers map[uuid.UUID][]string, key map[uuid.UUID][]string) float64 {
	if len(key) == 0 {
		return 0
	}

	correct := 0
	for qid, want := range key {
		if sameSet(answers[qid], want) {
			correct++
		}
	}
	return math.Round(float64(correct)/float64(len(key))*10000) / 100
}

func sameSet(got, want []string) bool {
	if len(got) == 0 || len(got) != len(want) {
		return false
	}
	a := slices.Clone(got)
	b := slices.Clone(want)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// CompletionStatus maps the submit reason to the terminal attempt status.
func CompletionStatus(reason model.SubmitReason) model.AttemptStatus {
	if reason == model.SubmitReasonTimeout {
		return model.AttemptStatusExpired
	}
	return model.AttemptStatusSubmitted
}

// CertificateRef derives the stable certificate reference of an attempt.
func CertificateRef(sessionID uuid.UUID) string {
	hex := strings.ReplaceAll(sessionID.String(), "-", "")
	return "CERT-" + strings.ToUpper(hex[:12])
}
