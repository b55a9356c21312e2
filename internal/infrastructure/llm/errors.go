package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/infrastructure/resilience"
)

// StatusError is a non-2xx answer from a completion backend.
type StatusError struct {
	Backend    string
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func NewStatusError(backend, operation string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &StatusError{
		Backend:    backend,
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}

func (e *StatusError) Error() string {
	if e == nil {
		return "completion status error"
	}
	if e.Body == "" {
		return fmt.Sprintf("%s %s status: %s", e.Backend, e.Operation, e.Status)
	}
	return fmt.Sprintf("%s %s status: %s: %s", e.Backend, e.Operation, e.Status, e.Body)
}

// Classify decides retry and breaker accounting for completion calls.
// Only server faults and connection errors are retried: a 429 or a timeout
// surfaces to the caller as a chunk failure instead of spending more budget.
func Classify(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{RecordFailure: true}
	}
	if domain.IsKind(err, domain.ErrCompletion) || domain.IsKind(err, domain.ErrRateLimitExceeded) {
		return resilience.ErrorClassification{}
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return resilience.ErrorClassification{RecordFailure: true}
		default:
			return resilience.ErrorClassification{}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return resilience.ErrorClassification{RecordFailure: true}
		}
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	return resilience.ErrorClassification{RecordFailure: true}
}

// GateRetries runs gate before every call of fn after the first, so retried
// attempts pass through the same admission as the original request.
func GateRetries[T any](gate func(context.Context) error, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	if gate == nil {
		return fn
	}
	attempt := 0
	return func(ctx context.Context) (T, error) {
		attempt++
		if attempt > 1 {
			if err := gate(ctx); err != nil {
				var zero T
				return zero, err
			}
		}
		return fn(ctx)
	}
}

// CompletionFailure converts a backend error into a *domain.CompletionError.
// Cancellation of the caller's context is returned as a context error so that
// aborted sessions are not reported as completion failures.
func CompletionFailure(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	var completionErr *domain.CompletionError
	if errors.As(err, &completionErr) || domain.IsKind(err, domain.ErrRateLimitExceeded) {
		return err
	}
	if parentErr := parent.Err(); parentErr != nil {
		return fmt.Errorf("completion: %w", parentErr)
	}
	return domain.NewCompletionError(KindOf(err), err)
}

func KindOf(err error) domain.CompletionErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.CompletionTimeout
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests:
			return domain.CompletionRateLimited
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return domain.CompletionTimeout
		}
		return domain.CompletionOther
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.CompletionTimeout
	}
	return domain.CompletionOther
}
