package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const (
	OutcomeAdmitted = "admitted"
	OutcomeRejected = "rejected"
	OutcomeCanceled = "canceled"

	nearLimitPercent = 80
)

// Observer receives admission outcomes. Implementations must not block.
type Observer interface {
	AdmissionObserved(outcome string, waited time.Duration, utilizationPercent float64)
}

type nopObserver struct{}

func (nopObserver) AdmissionObserved(string, time.Duration, float64) {}

func normalizeConfig(cfg domain.RateLimitConfig) (domain.RateLimitConfig, error) {
	out := cfg
	if out.Window <= 0 {
		out.Window = time.Minute
	}
	if out.MaxWait < 0 {
		out.MaxWait = out.Window
	}
	switch {
	case out.TokensPerMinute <= 0:
		return out, domain.WrapError(domain.ErrInvalidInput, "rate limit config", errors.New("tokens per minute must be positive"))
	case out.RequestsPerMinute <= 0:
		return out, domain.WrapError(domain.ErrInvalidInput, "rate limit config", errors.New("requests per minute must be positive"))
	case out.SafetyMargin <= 0 || out.SafetyMargin > 1:
		return out, domain.WrapError(domain.ErrInvalidInput, "rate limit config", fmt.Errorf("safety margin %.3f outside (0,1]", out.SafetyMargin))
	}
	return out, nil
}

// Controller admits completion requests against a sliding window of recent
// requests. One Controller is shared by every file of every session in a process.
type Controller struct {
	cfg      domain.RateLimitConfig
	clock    Clock
	logger   *slog.Logger
	observer Observer

	mu      sync.Mutex
	records []domain.RequestRecord
}

func NewController(cfg domain.RateLimitConfig, logger *slog.Logger, observer Observer) (*Controller, error) {
	return newController(cfg, logger, observer, systemClock{})
}

func newController(cfg domain.RateLimitConfig, logger *slog.Logger, observer Observer, clock Clock) (*Controller, error) {
	normalized, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Controller{cfg: normalized, clock: clock, logger: logger, observer: observer}, nil
}

func (c *Controller) tokenBudget() float64 {
	return float64(c.cfg.TokensPerMinute) * c.cfg.SafetyMargin
}

func (c *Controller) requestBudget() float64 {
	return float64(c.cfg.RequestsPerMinute) * c.cfg.SafetyMargin
}

// Admit blocks until the request fits the window, MaxWait would be exceeded
// or ctx is done. A successful call records the request in the window.
func (c *Controller) Admit(ctx context.Context, tokens int) (domain.Admission, error) {
	if tokens < 0 {
		return domain.Admission{}, domain.WrapError(domain.ErrInvalidInput, "admit", fmt.Errorf("negative token count %d", tokens))
	}
	if float64(tokens) > c.tokenBudget() || c.requestBudget() < 1 {
		c.observer.AdmissionObserved(OutcomeRejected, 0, c.Status().UtilizationPercent)
		return domain.Admission{}, domain.WrapError(
			domain.ErrRateLimitExceeded,
			"admit",
			fmt.Errorf("request of %d tokens exceeds window budget %.0f", tokens, c.tokenBudget()),
		)
	}

	start := c.clock.Now()
	deadline := start.Add(c.cfg.MaxWait)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return c.canceled(start, err)
		}

		wait, admitted := c.tryAdmit(tokens)
		now := c.clock.Now()
		if admitted {
			waited := now.Sub(start)
			c.observer.AdmissionObserved(OutcomeAdmitted, waited, c.Status().UtilizationPercent)
			return domain.Admission{Tokens: tokens, Waited: waited, Attempts: attempt}, nil
		}

		if now.Add(wait).After(deadline) {
			c.observer.AdmissionObserved(OutcomeRejected, now.Sub(start), c.Status().UtilizationPercent)
			return domain.Admission{}, domain.WrapError(
				domain.ErrRateLimitExceeded,
				"admit",
				fmt.Errorf("capacity for %d tokens frees in %s, max wait %s", tokens, wait, c.cfg.MaxWait),
			)
		}

		c.logger.Debug("admission_wait", "tokens", tokens, "wait_ms", wait.Milliseconds(), "attempt", attempt)
		timer := c.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return c.canceled(start, ctx.Err())
		case <-timer.C():
		}
	}
}

func (c *Controller) canceled(start time.Time, err error) (domain.Admission, error) {
	c.observer.AdmissionObserved(OutcomeCanceled, c.clock.Now().Sub(start), c.Status().UtilizationPercent)
	return domain.Admission{}, fmt.Errorf("admit: %w", err)
}

// tryAdmit records the request when it fits; otherwise it returns how long until
// enough of the window expires.
func (c *Controller) tryAdmit(tokens int) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.pruneLocked(now)
	window := c.windowLocked()

	tokenBudget, requestBudget := c.tokenBudget(), c.requestBudget()
	if fits(window.TokensUsed, window.RequestsUsed, tokens, tokenBudget, requestBudget) {
		c.records = append(c.records, domain.RequestRecord{Timestamp: now, Tokens: tokens})
		return 0, true
	}

	freedTokens, freedRequests := 0, 0
	for _, record := range c.records {
		freedTokens += record.Tokens
		freedRequests++
		if fits(window.TokensUsed-freedTokens, window.RequestsUsed-freedRequests, tokens, tokenBudget, requestBudget) {
			return record.Timestamp.Add(c.cfg.Window).Sub(now), false
		}
	}
	// unreachable while tokens fit the whole budget
	return c.cfg.Window, false
}

func fits(usedTokens, usedRequests, tokens int, tokenBudget, requestBudget float64) bool {
	return float64(usedTokens+tokens) <= tokenBudget && float64(usedRequests+1) <= requestBudget
}

func (c *Controller) pruneLocked(now time.Time) {
	cutoff := now.Add(-c.cfg.Window)
	keep := 0
	for keep < len(c.records) && !c.records[keep].Timestamp.After(cutoff) {
		keep++
	}
	if keep > 0 {
		c.records = append(c.records[:0], c.records[keep:]...)
	}
}

func (c *Controller) windowLocked() domain.RateLimitWindow {
	window := domain.RateLimitWindow{RequestsUsed: len(c.records)}
	for _, record := range c.records {
		window.TokensUsed += record.Tokens
	}
	return window
}

func (c *Controller) Status() domain.RateLimitStatus {
	c.mu.Lock()
	c.pruneLocked(c.clock.Now())
	window := c.windowLocked()
	c.mu.Unlock()

	tokenBudget, requestBudget := c.tokenBudget(), c.requestBudget()
	utilization := math.Max(ratio(window.TokensUsed, tokenBudget), ratio(window.RequestsUsed, requestBudget)) * 100
	utilization = math.Min(math.Max(utilization, 0), 100)

	return domain.RateLimitStatus{
		TokensUsed:         window.TokensUsed,
		RequestsUsed:       window.RequestsUsed,
		TokenBudget:        tokenBudget,
		RequestBudget:      requestBudget,
		UtilizationPercent: utilization,
		IsNearLimit:        utilization > nearLimitPercent,
	}
}

func ratio(used int, budget float64) float64 {
	if budget <= 0 {
		return 1
	}
	return float64(used) / budget
}
