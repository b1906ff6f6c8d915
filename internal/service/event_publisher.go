package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/runtime"
)

// EventPublisher fans runtime notifications out over Redis PubSub, so the
// candidate's stream can be served by any instance.
type EventPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewEventPublisher creates a new EventPublisher.
func NewEventPublisher(rdb *redis.Client, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		rdb: rdb,
		log: log.With().Str("component", "event_publisher").Logger(),
	}
}

// Notify publishes n on the session's channel. Failures are logged only.
func (p *EventPublisher) Notify(ctx context.Context, n runtime.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to encode notification")
		return
	}
	if err := p.rdb.Publish(ctx, config.CacheKey.CandidateEventsChannel(n.SessionID), payload).Err(); err != nil {
		p.log.Warn().Err(err).
			Str("session_id", n.SessionID.String()).
			Str("kind", string(n.Kind)).
			Msg("Failed to publish notification")
	}
}
