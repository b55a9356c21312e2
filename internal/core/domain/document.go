package domain

// Page is one parsed PDF page. Numbers are 1-indexed.
type Page struct {
	Number   int     `json:"number"`
	Text     string  `json:"text"`
	Width    float64 `json:"width,omitempty"`
	Height   float64 `json:"height,omitempty"`
	Rotation int     `json:"rotation,omitempty"`
}

// DetectedDocument is a contiguous sub-document found inside one PDF.
type DetectedDocument struct {
	StartPage  int     `json:"start_page"`
	EndPage    int     `json:"end_page"`
	Confidence float64 `json:"confidence"`
}

func (d DetectedDocument) PageCount() int {
	return d.EndPage - d.StartPage + 1
}

type TokenEstimate struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func NewTokenEstimate(input, output int) TokenEstimate {
	return TokenEstimate{
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  input + output,
	}
}

type ChunkStrategy string

const (
	StrategyWhole            ChunkStrategy = "WHOLE"
	StrategyDocumentBoundary ChunkStrategy = "DOCUMENT_BOUNDARY"
	StrategyPageSplit        ChunkStrategy = "PAGE_SPLIT"
)

// ChunkPlan is a contiguous page range dispatched as one completion request.
type ChunkPlan struct {
	Index           int           `json:"index"`
	Pages           []Page        `json:"-"`
	Strategy        ChunkStrategy `json:"strategy"`
	StartPage       int           `json:"start_page"`
	EndPage         int           `json:"end_page"`
	EstimatedTokens TokenEstimate `json:"estimated_tokens"`
	Oversized       bool          `json:"oversized,omitempty"`
}

func (c ChunkPlan) Overlaps(other ChunkPlan) bool {
	return c.StartPage <= other.EndPage && other.StartPage <= c.EndPage
}

// ChunkingPlan is the planner output: the selected strategy and its ordered chunks.
type ChunkingPlan struct {
	Strategy ChunkStrategy `json:"strategy"`
	Chunks   []ChunkPlan   `json:"chunks"`
}

func (p ChunkingPlan) EstimatedTokens() int {
	total := 0
	for _, chunk := range p.Chunks {
		total += chunk.EstimatedTokens.TotalTokens
	}
	return total
}

// Row is one extracted record.
type Row map[string]any

type ExtractedPayload struct {
	Rows   []Row          `json:"rows"`
	Fields map[string]any `json:"fields,omitempty"`
}

type ChunkFailureKind string

const (
	FailureParse             ChunkFailureKind = "parse_error"
	FailureRateLimitExceeded ChunkFailureKind = "rate_limit_exceeded"
	FailureTimeout           ChunkFailureKind = "timeout"
	FailureMalformed         ChunkFailureKind = "malformed"
	FailureRateLimited       ChunkFailureKind = "rate_limited"
	FailureCanceled          ChunkFailureKind = "canceled"
	FailureOther             ChunkFailureKind = "other"
)

type ChunkFailure struct {
	Kind   ChunkFailureKind `json:"kind"`
	Reason string           `json:"reason"`
}

// ChunkResult is the outcome of dispatching one ChunkPlan. Exactly one of Payload and Failure is set.
type ChunkResult struct {
	Plan         ChunkPlan
	Payload      *ExtractedPayload
	Failure      *ChunkFailure
	ActualTokens int
}

func (r ChunkResult) Succeeded() bool {
	return r.Failure == nil && r.Payload != nil
}

// PlanInput is everything the chunking planner needs for one file.
type PlanInput struct {
	Pages                []Page
	Documents            []DetectedDocument
	EstimatedTotalTokens int
	Complexity           int
}

// PlanPreview is a dry-run of the planning stage for one PDF.
type PlanPreview struct {
	Filename  string             `json:"filename,omitempty"`
	PageCount int                `json:"page_count"`
	Documents []DetectedDocument `json:"documents"`
	Estimate  TokenEstimate      `json:"estimate"`
	Plan      ChunkingPlan       `json:"plan"`
}
