package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

// AbortSessionUseCase marks a session failed and tells workers to stop it.
type AbortSessionUseCase struct {
	repo   ports.SessionRepository
	queue  ports.MessageQueue
	logger *slog.Logger
}

func NewAbortSessionUseCase(repo ports.SessionRepository, queue ports.MessageQueue, logger *slog.Logger) *AbortSessionUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &AbortSessionUseCase{repo: repo, queue: queue, logger: logger}
}

func (uc *AbortSessionUseCase) Abort(ctx context.Context, sessionID, reason string) error {
	session, err := uc.repo.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("fetch session by id: %w", err)
	}
	if _, err := session.Status.Transition(domain.SessionFailed); err != nil {
		return err
	}

	message := domain.ErrSessionAborted.Error()
	if reason = strings.TrimSpace(reason); reason != "" {
		message += ": " + reason
	}
	if err := uc.repo.UpdateSessionStatus(ctx, sessionID, domain.SessionFailed, message); err != nil {
		return fmt.Errorf("set status=failed: %w", err)
	}

	// Status is already authoritative; a lost event only means wasted worker time.
	if err := uc.queue.PublishSessionAbort(ctx, sessionID); err != nil {
		uc.logger.Warn("session_abort_publish_failed", "session_id", sessionID, "error", err)
	}
	uc.logger.Info("session_abort_requested", "session_id", sessionID, "previous_status", session.Status)
	return nil
}
