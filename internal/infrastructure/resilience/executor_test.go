package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func fastRetryConfig(breaker bool) Config {
	return Config{
		RetryMaxAttempts:        3,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         2 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          breaker,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}
}

var (
	errUpstream503 = errors.New("upstream 503")
	errMalformed   = errors.New("malformed payload")
)

func retryOn503(err error) ErrorClassification {
	return ErrorClassification{
		Retryable:     errors.Is(err, errUpstream503),
		RecordFailure: errors.Is(err, errUpstream503),
	}
}

func TestDoRetriesTransientFailureAndReturnsValue(t *testing.T) {
	exec := NewExecutor(fastRetryConfig(false), nil)

	attempts := 0
	got, err := Do(context.Background(), exec, "completion.generate", func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errUpstream503
		}
		return `{"rows":[]}`, nil
	}, retryOn503)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 || got != `{"rows":[]}` {
		t.Fatalf("unexpected result: attempts=%d value=%q", attempts, got)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(fastRetryConfig(false), nil)

	attempts := 0
	err := exec.Execute(context.Background(), "completion.generate", func(context.Context) error {
		attempts++
		return errMalformed
	}, retryOn503)
	if !errors.Is(err, errMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteStopsRetryingWhenContextEnds(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    5,
		RetryInitialBackoff: time.Second,
		RetryMaxBackoff:     time.Second,
		RetryMultiplier:     2,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	start := time.Now()
	err := exec.Execute(ctx, "queue.publish", func(context.Context) error {
		attempts++
		cancel()
		return errUpstream503
	}, retryOn503)
	if !errors.Is(err, errUpstream503) {
		t.Fatalf("expected last error, got %v", err)
	}
	if attempts != 1 || time.Since(start) > 500*time.Millisecond {
		t.Fatalf("expected prompt stop after cancel, attempts=%d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	cfg := fastRetryConfig(true)
	cfg.RetryMaxAttempts = 1
	exec := NewExecutor(cfg, nil)

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "completion.generate", func(context.Context) error {
			return errUpstream503
		}, retryOn503)
		if !errors.Is(err, errUpstream503) {
			t.Fatalf("expected upstream error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "completion.generate", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, retryOn503)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) {
		t.Fatalf("expected open state error, got %v", err)
	}

	states := exec.States()
	if len(states) != 1 || states[0].Operation != "completion.generate" || states[0].State != "open" {
		t.Fatalf("unexpected breaker states: %+v", states)
	}
}

func TestBreakerIgnoresFailuresNotRecorded(t *testing.T) {
	cfg := fastRetryConfig(true)
	cfg.RetryMaxAttempts = 1
	exec := NewExecutor(cfg, nil)

	for i := 0; i < 4; i++ {
		_ = exec.Execute(context.Background(), "completion.generate", func(context.Context) error {
			return errMalformed
		}, retryOn503)
	}
	if states := exec.States(); states[0].State != "closed" {
		t.Fatalf("malformed payloads must not trip the breaker, got %+v", states)
	}
}
