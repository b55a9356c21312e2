package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

// SubmitBatchUseCase stores uploads, creates a queued session and hands it to workers.
type SubmitBatchUseCase struct {
	repo      ports.SessionRepository
	storage   ports.ObjectStorage
	queue     ports.MessageQueue
	templates ports.TemplateRegistry
	maxFiles  int
	logger    *slog.Logger
}

func NewSubmitBatchUseCase(
	repo ports.SessionRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	templates ports.TemplateRegistry,
	maxFiles int,
	logger *slog.Logger,
) *SubmitBatchUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmitBatchUseCase{
		repo:      repo,
		storage:   storage,
		queue:     queue,
		templates: templates,
		maxFiles:  maxFiles,
		logger:    logger,
	}
}

func (uc *SubmitBatchUseCase) Submit(ctx context.Context, templateName string, files []ports.UploadedFile) (*domain.ExtractionSession, error) {
	if len(files) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit batch", errors.New("at least one file is required"))
	}
	if uc.maxFiles > 0 && len(files) > uc.maxFiles {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit batch", fmt.Errorf("too many files: %d > %d", len(files), uc.maxFiles))
	}
	if _, err := uc.templates.Get(templateName); err != nil {
		return nil, fmt.Errorf("resolve template: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	session := &domain.ExtractionSession{
		ID:           id,
		Status:       domain.SessionQueued,
		TemplateName: templateName,
		TotalFiles:   len(files),
		Files:        make([]domain.SessionFile, 0, len(files)),
		Results:      []domain.FileResult{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for i, file := range files {
		key := fmt.Sprintf("%s/%03d_%s", id, i, sanitizeFilename(file.Filename))
		if err := uc.storage.Save(ctx, key, file.Body); err != nil {
			return nil, fmt.Errorf("save to object storage: %w", err)
		}
		session.Files = append(session.Files, domain.SessionFile{Index: i, Filename: file.Filename, StoragePath: key})
	}

	if err := uc.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := uc.queue.PublishSessionAccepted(ctx, id); err != nil {
		if markErr := uc.repo.UpdateSessionStatus(ctx, id, domain.SessionFailed, "enqueue failed: "+err.Error()); markErr != nil {
			uc.logger.Error("session_mark_failed_error", "session_id", id, "error", markErr)
		}
		return nil, fmt.Errorf("publish session event: %w", err)
	}

	uc.logger.Info("session_accepted", "session_id", id, "template", templateName, "files", len(files))
	return session, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "document.pdf"
	}
	return base
}
