// Package inproc is a channel-backed queue for single-process runs.
package inproc

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const defaultBuffer = 64

type Queue struct {
	accepted chan string

	mu     sync.Mutex
	aborts []chan string
	closed bool
	logger *slog.Logger
}

func New(buffer int, logger *slog.Logger) *Queue {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{accepted: make(chan string, buffer), logger: logger}
}

func (q *Queue) PublishSessionAccepted(ctx context.Context, sessionID string) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return domain.WrapError(domain.ErrTemporary, "publish session accepted", errors.New("queue closed"))
	}

	select {
	case q.accepted <- sessionID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return domain.WrapError(domain.ErrTemporary, "publish session accepted", errors.New("queue full"))
	}
}

// PublishSessionAbort fans out to every abort subscriber. Slow subscribers miss the event.
func (q *Queue) PublishSessionAbort(_ context.Context, sessionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.aborts {
		select {
		case ch <- sessionID:
		default:
			q.logger.Warn("inproc_abort_dropped", "session_id", sessionID)
		}
	}
	return nil
}

// SubscribeSessionAccepted handles events one at a time until ctx ends.
func (q *Queue) SubscribeSessionAccepted(ctx context.Context, handler func(context.Context, string) error) error {
	return q.serve(ctx, "session_accepted", q.accepted, handler)
}

func (q *Queue) SubscribeSessionAbort(ctx context.Context, handler func(context.Context, string) error) error {
	ch := make(chan string, defaultBuffer)
	q.mu.Lock()
	q.aborts = append(q.aborts, ch)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		for i, existing := range q.aborts {
			if existing == ch {
				q.aborts = append(q.aborts[:i], q.aborts[i+1:]...)
				break
			}
		}
		q.mu.Unlock()
	}()
	return q.serve(ctx, "session_abort", ch, handler)
}

func (q *Queue) serve(ctx context.Context, event string, ch <-chan string, handler func(context.Context, string) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sessionID := <-ch:
			if err := handler(ctx, sessionID); err != nil {
				q.logger.Error("worker_handler_failed", "event", event, "session_id", sessionID, "error", err)
			}
		}
	}
}

func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
