package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docextract/internal/core/domain"
)

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{"canceled", context.Canceled, false, false},
		{"no servers", fmt.Errorf("publish: %w", nats.ErrNoServers), true, true},
		{"disconnected", nats.ErrDisconnected, true, true},
		{"max payload", nats.ErrMaxPayload, false, false},
		{"unknown", errors.New("boom"), false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyNATSError(tc.err)
			if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
				t.Fatalf("classifyNATSError(%v) = %+v", tc.err, got)
			}
		})
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	if err := wrapTemporaryIfNeeded(nats.ErrNoServers); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	plain := errors.New("bad subject")
	if err := wrapTemporaryIfNeeded(plain); domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("permanent errors must not be temporary")
	}
	if wrapTemporaryIfNeeded(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}
