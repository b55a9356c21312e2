package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/docextract/internal/core/domain"
)

// SessionRepository keeps sessions in process memory. Used by extractctl and tests.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.ExtractionSession
	results  map[string]map[int]domain.FileResult
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]*domain.ExtractionSession),
		results:  make(map[string]map[int]domain.FileResult),
	}
}

func (r *SessionRepository) CreateSession(_ context.Context, session *domain.ExtractionSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return domain.WrapError(domain.ErrInvalidInput, "create session", fmt.Errorf("duplicate id=%s", session.ID))
	}
	stored := *session
	stored.Files = append([]domain.SessionFile(nil), session.Files...)
	stored.Results = nil
	r.sessions[session.ID] = &stored
	r.results[session.ID] = make(map[int]domain.FileResult)
	return nil
}

func (r *SessionRepository) GetSession(_ context.Context, id string) (*domain.ExtractionSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", fmt.Errorf("id=%s", id))
	}
	session := *stored
	session.Files = append([]domain.SessionFile(nil), stored.Files...)
	session.Results = r.sortedResultsLocked(id)
	return &session, nil
}

func (r *SessionRepository) UpdateSessionStatus(_ context.Context, id string, status domain.SessionStatus, errMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[id]
	if !ok {
		return domain.WrapError(domain.ErrSessionNotFound, "update session status", fmt.Errorf("id=%s", id))
	}
	if _, err := stored.Status.Transition(status); err != nil {
		return err
	}
	stored.Status = status
	stored.Error = errMessage
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *SessionRepository) UpdateSessionProgress(_ context.Context, id string, processedFiles int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[id]
	if !ok {
		return domain.WrapError(domain.ErrSessionNotFound, "update session progress", fmt.Errorf("id=%s", id))
	}
	stored.ProcessedFiles = processedFiles
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *SessionRepository) StoreFileResult(_ context.Context, sessionID string, result domain.FileResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	results, ok := r.results[sessionID]
	if !ok {
		return domain.WrapError(domain.ErrSessionNotFound, "store file result", fmt.Errorf("id=%s", sessionID))
	}
	results[result.Index] = result
	return nil
}

func (r *SessionRepository) ListFileResults(_ context.Context, sessionID string) ([]domain.FileResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.results[sessionID]; !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "list file results", fmt.Errorf("id=%s", sessionID))
	}
	return r.sortedResultsLocked(sessionID), nil
}

func (r *SessionRepository) sortedResultsLocked(sessionID string) []domain.FileResult {
	byIndex := r.results[sessionID]
	out := make([]domain.FileResult, 0, len(byIndex))
	for _, result := range byIndex {
		out = append(out, result)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
