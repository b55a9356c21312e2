package domain

import (
	"fmt"
	"time"
)

type SessionStatus string

const (
	SessionQueued              SessionStatus = "queued"
	SessionProcessing          SessionStatus = "processing"
	SessionCompleted           SessionStatus = "completed"
	SessionCompletedWithErrors SessionStatus = "completed_with_errors"
	SessionFailed              SessionStatus = "failed"
)

func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionCompletedWithErrors, SessionFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the session state machine allows from -> to.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	switch s {
	case SessionQueued:
		return to == SessionProcessing || to == SessionFailed
	case SessionProcessing:
		return to == SessionCompleted || to == SessionCompletedWithErrors || to == SessionFailed
	case SessionCompleted, SessionCompletedWithErrors, SessionFailed:
		return false
	default:
		return false
	}
}

// TransitionSources lists the statuses from which the state machine allows a move to to.
func TransitionSources(to SessionStatus) []SessionStatus {
	var out []SessionStatus
	for _, from := range []SessionStatus{SessionQueued, SessionProcessing, SessionCompleted, SessionCompletedWithErrors, SessionFailed} {
		if from.CanTransition(to) {
			out = append(out, from)
		}
	}
	return out
}

func (s SessionStatus) Transition(to SessionStatus) (SessionStatus, error) {
	if !s.CanTransition(to) {
		return s, WrapError(ErrInvalidTransition, "session transition", fmt.Errorf("%s -> %s", s, to))
	}
	return to, nil
}

// FinalSessionStatus derives the terminal status from per-file outcomes.
func FinalSessionStatus(results []FileResult) SessionStatus {
	if len(results) == 0 {
		return SessionFailed
	}
	failed, partial := 0, 0
	for _, result := range results {
		switch result.Status {
		case FileFailed:
			failed++
		case FilePartial:
			partial++
		case FileSuccess:
		}
	}
	switch {
	case failed == len(results):
		return SessionFailed
	case failed > 0 || partial > 0:
		return SessionCompletedWithErrors
	default:
		return SessionCompleted
	}
}

// SessionFile is an uploaded file waiting in object storage.
type SessionFile struct {
	Index       int    `json:"index"`
	Filename    string `json:"filename"`
	StoragePath string `json:"storage_path"`
}

type ExtractionSession struct {
	ID             string        `json:"id"`
	Status         SessionStatus `json:"status"`
	TemplateName   string        `json:"template"`
	TotalFiles     int           `json:"total_files"`
	ProcessedFiles int           `json:"processed_files"`
	Files          []SessionFile `json:"files"`
	Results        []FileResult  `json:"results"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

type FileStatus string

const (
	FileSuccess FileStatus = "success"
	FilePartial FileStatus = "partial"
	FileFailed  FileStatus = "failed"
)

// ChunkProvenance records which page range a chunk covered and how it ended.
type ChunkProvenance struct {
	StartPage       int           `json:"start_page"`
	EndPage         int           `json:"end_page"`
	Strategy        ChunkStrategy `json:"strategy"`
	Succeeded       bool          `json:"succeeded"`
	EstimatedTokens int           `json:"estimated_tokens"`
	ActualTokens    int           `json:"actual_tokens,omitempty"`
	Oversized       bool          `json:"oversized,omitempty"`
}

type ErrorSpan struct {
	StartPage int              `json:"start_page"`
	EndPage   int              `json:"end_page"`
	Kind      ChunkFailureKind `json:"kind"`
	Reason    string           `json:"reason"`
}

type FileResult struct {
	Index           int               `json:"index"`
	Filename        string            `json:"filename"`
	Status          FileStatus        `json:"status"`
	Strategy        ChunkStrategy     `json:"strategy,omitempty"`
	Payload         *ExtractedPayload `json:"payload,omitempty"`
	Error           string            `json:"error,omitempty"`
	Chunks          []ChunkProvenance `json:"chunks,omitempty"`
	ErrorSpans      []ErrorSpan       `json:"error_spans,omitempty"`
	EstimatedTokens int               `json:"estimated_tokens,omitempty"`
	ActualTokens    int               `json:"actual_tokens,omitempty"`
}

// FailedFileResult is used when a file never reaches the chunk stage (parse errors).
func FailedFileResult(index int, filename string, err error) FileResult {
	return FileResult{
		Index:    index,
		Filename: filename,
		Status:   FileFailed,
		Error:    err.Error(),
	}
}
