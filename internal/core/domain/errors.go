package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTemporary         = errors.New("temporary failure")
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrPersistence       = errors.New("persistence unavailable")
	ErrSessionAborted    = errors.New("session aborted")

	// Pipeline taxonomy.
	ErrParse             = errors.New("unreadable document")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrCompletion        = errors.New("completion service error")
	ErrMergeConflict     = errors.New("merge conflict")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// CompletionErrorKind classifies failures reported by the completion service.
type CompletionErrorKind string

const (
	CompletionTimeout     CompletionErrorKind = "timeout"
	CompletionMalformed   CompletionErrorKind = "malformed"
	CompletionRateLimited CompletionErrorKind = "rate_limited"
	CompletionOther       CompletionErrorKind = "other"
)

// CompletionError is returned by completion adapters. It always matches ErrCompletion.
type CompletionError struct {
	Kind CompletionErrorKind
	Err  error
}

func NewCompletionError(kind CompletionErrorKind, err error) *CompletionError {
	return &CompletionError{Kind: kind, Err: err}
}

func (e *CompletionError) Error() string {
	if e == nil {
		return "completion error"
	}
	if e.Err == nil {
		return fmt.Sprintf("completion %s", e.Kind)
	}
	return fmt.Sprintf("completion %s: %v", e.Kind, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

func (e *CompletionError) Is(target error) bool { return target == ErrCompletion }

// CompletionKindOf extracts the completion failure kind, or CompletionOther for foreign errors.
func CompletionKindOf(err error) CompletionErrorKind {
	var completionErr *CompletionError
	if errors.As(err, &completionErr) && completionErr.Kind != "" {
		return completionErr.Kind
	}
	return CompletionOther
}
