package memory

import (
	"context"
	"testing"

	"github.com/kirillkom/docextract/internal/core/domain"
)

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()

	session := &domain.ExtractionSession{
		ID:           "s1",
		Status:       domain.SessionQueued,
		TemplateName: "invoice",
		TotalFiles:   2,
		Files:        []domain.SessionFile{{Index: 0, Filename: "a.pdf"}, {Index: 1, Filename: "b.pdf"}},
	}
	if err := repo.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := repo.CreateSession(ctx, session); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected duplicate to fail, got %v", err)
	}

	if err := repo.UpdateSessionStatus(ctx, "s1", domain.SessionProcessing, ""); err != nil {
		t.Fatalf("UpdateSessionStatus(processing) error = %v", err)
	}
	if err := repo.StoreFileResult(ctx, "s1", domain.FileResult{Index: 1, Filename: "b.pdf", Status: domain.FileFailed}); err != nil {
		t.Fatalf("StoreFileResult() error = %v", err)
	}
	if err := repo.StoreFileResult(ctx, "s1", domain.FileResult{Index: 0, Filename: "a.pdf", Status: domain.FileSuccess}); err != nil {
		t.Fatalf("StoreFileResult() error = %v", err)
	}
	if err := repo.UpdateSessionProgress(ctx, "s1", 2); err != nil {
		t.Fatalf("UpdateSessionProgress() error = %v", err)
	}
	if err := repo.UpdateSessionStatus(ctx, "s1", domain.SessionCompletedWithErrors, ""); err != nil {
		t.Fatalf("UpdateSessionStatus() error = %v", err)
	}

	got, err := repo.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Status != domain.SessionCompletedWithErrors || got.ProcessedFiles != 2 {
		t.Fatalf("unexpected session: %+v", got)
	}
	if len(got.Results) != 2 || got.Results[0].Index != 0 || got.Results[1].Index != 1 {
		t.Fatalf("results must be ordered by file index: %+v", got.Results)
	}

	got.Files[0].Filename = "mutated"
	again, _ := repo.GetSession(ctx, "s1")
	if again.Files[0].Filename != "a.pdf" {
		t.Fatalf("GetSession must return a copy")
	}
}

func TestUpdateSessionStatusNeverLeavesTerminalStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	if err := repo.CreateSession(ctx, &domain.ExtractionSession{ID: "s1", Status: domain.SessionProcessing}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := repo.UpdateSessionStatus(ctx, "s1", domain.SessionCompleted, ""); err != nil {
		t.Fatalf("UpdateSessionStatus(completed) error = %v", err)
	}

	err := repo.UpdateSessionStatus(ctx, "s1", domain.SessionFailed, "session aborted")
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, _ := repo.GetSession(ctx, "s1")
	if got.Status != domain.SessionCompleted || got.Error != "" {
		t.Fatalf("terminal status was overwritten: %+v", got)
	}
}

func TestUnknownSession(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()

	if _, err := repo.GetSession(ctx, "nope"); !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := repo.UpdateSessionStatus(ctx, "nope", domain.SessionFailed, "x"); !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := repo.StoreFileResult(ctx, "nope", domain.FileResult{}); !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
