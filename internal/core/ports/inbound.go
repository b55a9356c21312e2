package ports

import (
	"context"
	"io"

	"github.com/kirillkom/docextract/internal/core/domain"
)

// UploadedFile is one file of a submitted batch.
type UploadedFile struct {
	Filename string
	Body     io.Reader
}

// BatchSubmitter is the inbound contract for accepting a batch of PDFs.
type BatchSubmitter interface {
	Submit(ctx context.Context, templateName string, files []UploadedFile) (*domain.ExtractionSession, error)
}

// SessionProcessor is the inbound contract for asynchronous session processing.
type SessionProcessor interface {
	ProcessByID(ctx context.Context, sessionID string) error
}

// SessionReader is the polling read model for session progress and results.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*domain.ExtractionSession, error)
}

// SessionAborter marks a session failed and cancels in-flight work.
type SessionAborter interface {
	Abort(ctx context.Context, sessionID, reason string) error
}

// SessionCanceler cancels in-flight processing of a session inside one worker.
type SessionCanceler interface {
	Cancel(sessionID string) bool
}

// PlanPreviewer runs parse, detection, estimation and planning without dispatching.
type PlanPreviewer interface {
	PreviewPlan(ctx context.Context, templateName, filename string, data []byte) (*domain.PlanPreview, error)
}

// TemplateLister exposes the configured extraction templates.
type TemplateLister interface {
	List() []domain.Template
}
