package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 8 * time.Second
)

// withRetry runs connect until it succeeds, attempts run out or ctx ends.
// The delay doubles after every failure, capped at retryMaxDelay.
func withRetry(ctx context.Context, what string, attempts int, log zerolog.Logger, connect func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	delay := retryBaseDelay
	var err error
	for i := 1; i <= attempts; i++ {
		if err = connect(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}

		log.Warn().Err(err).
			Str("target", what).
			Int("attempt", i).
			Dur("retry_in", delay).
			Msg("Connection failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect %s: %w", what, ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, retryMaxDelay)
	}
	return fmt.Errorf("connect %s after %d attempts: %w", what, attempts, err)
}
