package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/messaging"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// CertificatePublisher queues certificate requests on RabbitMQ.
type CertificatePublisher struct {
	client *messaging.RabbitMQClient
	queue  string
	log    zerolog.Logger
}

// NewCertificatePublisher creates a new CertificatePublisher.
func NewCertificatePublisher(client *messaging.RabbitMQClient, queue string, log zerolog.Logger) *CertificatePublisher {
	return &CertificatePublisher{
		client: client,
		queue:  queue,
		log:    log.With().Str("component", "certificate_publisher").Logger(),
	}
}

// Issue publishes req. Consumers deduplicate on the certificate reference.
func (p *CertificatePublisher) Issue(ctx context.Context, req model.CertificateRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode certificate request: %w", err)
	}
	if err := p.client.Publish(ctx, p.queue, body); err != nil {
		return fmt.Errorf("publish certificate request: %w", err)
	}
	p.log.Info().
		Str("certificate_ref", req.CertificateRef).
		Str("session_id", req.SessionID.String()).
		Msg("Certificate requested")
	return nil
}
