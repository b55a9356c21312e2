package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docextract/internal/infrastructure/resilience"
)

const workerGroup = "extraction-workers"

// Queue carries session ids between the API and workers. Accepted sessions are
// load-balanced over the worker group; abort events fan out to every worker.
type Queue struct {
	conn            *nats.Conn
	acceptedSubject string
	abortSubject    string
	executor        *resilience.Executor
	logger          *slog.Logger
}

type Options struct {
	AcceptedSubject      string
	AbortSubject         string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Queue, error) {
	if options.AcceptedSubject == "" {
		options.AcceptedSubject = "extraction.sessions.accepted"
	}
	if options.AbortSubject == "" {
		options.AbortSubject = "extraction.sessions.abort"
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("docextract"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:            conn,
		acceptedSubject: options.AcceptedSubject,
		abortSubject:    options.AbortSubject,
		executor:        options.ResilienceExecutor,
		logger:          logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishSessionAccepted(ctx context.Context, sessionID string) error {
	return q.publish(ctx, q.acceptedSubject, sessionID)
}

func (q *Queue) PublishSessionAbort(ctx context.Context, sessionID string) error {
	return q.publish(ctx, q.abortSubject, sessionID)
}

// SubscribeSessionAccepted blocks until ctx ends, then drains the subscription.
func (q *Queue) SubscribeSessionAccepted(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.acceptedSubject, workerGroup, q.dispatch(ctx, "session_accepted", handler))
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	return q.serve(ctx, sub)
}

// SubscribeSessionAbort blocks until ctx ends. Every worker receives every abort.
func (q *Queue) SubscribeSessionAbort(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.Subscribe(q.abortSubject, q.dispatch(ctx, "session_abort", handler))
	if err != nil {
		return fmt.Errorf("nats subscribe abort: %w", err)
	}
	return q.serve(ctx, sub)
}

func (q *Queue) publish(ctx context.Context, subject, sessionID string) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, []byte(sessionID)); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

func (q *Queue) dispatch(ctx context.Context, event string, handler func(context.Context, string) error) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		sessionID := string(msg.Data)
		if sessionID == "" {
			q.logger.Warn("nats_empty_message", "event", event, "subject", msg.Subject)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, sessionID); err != nil {
			q.logger.Error("worker_handler_failed", "event", event, "session_id", sessionID, "error", err)
		}
	}
}

func (q *Queue) serve(ctx context.Context, sub *nats.Subscription) error {
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
