package database

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/messaging"
)

// NewRabbitMQClient connects the certificate hand-off broker. An empty
// RABBITMQ_URL disables it and returns nil.
func NewRabbitMQClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*messaging.RabbitMQClient, error) {
	if cfg.RabbitMQURL == "" {
		log.Warn().Msg("RABBITMQ_URL not set, certificate hand-off disabled")
		return nil, nil
	}

	var client *messaging.RabbitMQClient
	err := withRetry(ctx, "rabbitmq", cfg.ConnectRetries, log, func(context.Context) error {
		c, err := messaging.NewRabbitMQClient(cfg.RabbitMQURL)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("queue", cfg.CertificateQueue).
		Msg("RabbitMQ connected")

	return client, nil
}
