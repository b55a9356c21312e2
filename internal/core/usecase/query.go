package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

// SessionQueryUseCase serves polling reads. A session is cached once it is terminal
// and every file has been accounted for; an aborted session keeps receiving
// results from the worker until then.
type SessionQueryUseCase struct {
	repo  ports.SessionRepository
	cache *ttlcache.Cache[string, *domain.ExtractionSession]
}

func NewSessionQueryUseCase(repo ports.SessionRepository, ttl time.Duration, capacity uint64) *SessionQueryUseCase {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if capacity == 0 {
		capacity = 1024
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *domain.ExtractionSession](ttl),
		ttlcache.WithCapacity[string, *domain.ExtractionSession](capacity),
		ttlcache.WithDisableTouchOnHit[string, *domain.ExtractionSession](),
	)
	return &SessionQueryUseCase{repo: repo, cache: cache}
}

// Start runs expired-item cleanup until ctx ends.
func (uc *SessionQueryUseCase) Start(ctx context.Context) {
	go uc.cache.Start()
	<-ctx.Done()
	uc.cache.Stop()
}

func (uc *SessionQueryUseCase) GetSession(ctx context.Context, sessionID string) (*domain.ExtractionSession, error) {
	if item := uc.cache.Get(sessionID); item != nil {
		return copySession(item.Value()), nil
	}

	session, err := uc.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if settled(session) {
		uc.cache.Set(sessionID, copySession(session), ttlcache.DefaultTTL)
	}
	return session, nil
}

func settled(s *domain.ExtractionSession) bool {
	return s.Status.Terminal() && s.ProcessedFiles >= s.TotalFiles
}

func copySession(s *domain.ExtractionSession) *domain.ExtractionSession {
	out := *s
	out.Files = append([]domain.SessionFile(nil), s.Files...)
	out.Results = append([]domain.FileResult(nil), s.Results...)
	return &out
}
