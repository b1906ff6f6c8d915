package database

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithRetry(t *testing.T) {
	errDown := errors.New("connection refused")

	tests := []struct {
		name      string
		attempts  int
		failures  int
		wantCalls int
		wantErr   bool
	}{
		{name: "first try", attempts: 3, failures: 0, wantCalls: 1},
		{name: "recovers", attempts: 3, failures: 1, wantCalls: 2},
		{name: "gives up", attempts: 2, failures: 5, wantCalls: 2, wantErr: true},
		{name: "zero attempts still tries once", attempts: 0, failures: 5, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := withRetry(context.Background(), "test", tt.attempts, zerolog.Nop(), func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return errDown
				}
				return nil
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr {
				if !errors.Is(err, errDown) {
					t.Fatalf("err = %v, want wrapped %v", err, errDown)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withRetry(ctx, "test", 5, zerolog.Nop(), func(context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
