package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/docextract/internal/core/domain"
)

// SessionRepository persists session state and per-file results.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *domain.ExtractionSession) error
	GetSession(ctx context.Context, id string) (*domain.ExtractionSession, error)
	// UpdateSessionStatus is a compare-and-set on the session state machine: it
	// returns ErrInvalidTransition when the stored status cannot move to status.
	UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus, errMessage string) error
	UpdateSessionProgress(ctx context.Context, id string, processedFiles int) error
	StoreFileResult(ctx context.Context, sessionID string, result domain.FileResult) error
	ListFileResults(ctx context.Context, sessionID string) ([]domain.FileResult, error)
}

// ObjectStorage stores uploaded source PDFs.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue hands sessions from the API to workers.
type MessageQueue interface {
	PublishSessionAccepted(ctx context.Context, sessionID string) error
	SubscribeSessionAccepted(ctx context.Context, handler func(context.Context, string) error) error
	PublishSessionAbort(ctx context.Context, sessionID string) error
	SubscribeSessionAbort(ctx context.Context, handler func(context.Context, string) error) error
}

// PageParser turns raw PDF bytes into ordered pages.
type PageParser interface {
	Parse(ctx context.Context, data []byte) ([]domain.Page, error)
}

// BoundaryDetector finds sub-document boundaries inside one PDF.
type BoundaryDetector interface {
	Detect(pages []domain.Page) []domain.DetectedDocument
}

// TokenEstimator estimates request cost for a page range.
type TokenEstimator interface {
	Estimate(pages []domain.Page, complexity int) domain.TokenEstimate
}

// ChunkPlanner partitions pages into chunks.
type ChunkPlanner interface {
	Plan(input domain.PlanInput) (domain.ChunkingPlan, error)
}

// AdmissionController gates dispatches against the shared rate budget.
type AdmissionController interface {
	Admit(ctx context.Context, estimatedTokens int) (domain.Admission, error)
	Status() domain.RateLimitStatus
}

type CompletionRequest struct {
	Template domain.Template
	Pages    []domain.Page
	// BeforeRetry, when set, runs before every retried attempt; its error ends the call.
	BeforeRetry func(ctx context.Context) error
}

type CompletionResponse struct {
	Payload          domain.ExtractedPayload
	PromptTokens     int
	CompletionTokens int
}

func (r CompletionResponse) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// CompletionService is the third-party LLM extraction call for one chunk.
type CompletionService interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// PayloadValidator checks a completion payload against its template schema.
type PayloadValidator interface {
	Validate(tmpl domain.Template, payload domain.ExtractedPayload) error
}

// TemplateRegistry resolves extraction templates by name.
type TemplateRegistry interface {
	Get(name string) (domain.Template, error)
	List() []domain.Template
}

// ResultMerger recombines chunk outcomes into one file result.
type ResultMerger interface {
	Merge(index int, filename string, results []domain.ChunkResult) domain.FileResult
}

// ResultExporter renders a finished session for download.
type ResultExporter interface {
	Export(w io.Writer, session *domain.ExtractionSession) error
}

// PipelineObserver receives pipeline events for metrics.
type PipelineObserver interface {
	SessionStarted()
	SessionFinished(status domain.SessionStatus, duration time.Duration)
	FileFinished(status domain.FileStatus, strategy domain.ChunkStrategy)
	ChunkFinished(strategy domain.ChunkStrategy, failure domain.ChunkFailureKind, duration time.Duration)
}
