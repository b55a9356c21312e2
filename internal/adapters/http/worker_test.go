package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/infrastructure/resilience"
)

type admissionFake struct {
	status domain.RateLimitStatus
}

func (admissionFake) Admit(context.Context, int) (domain.Admission, error) {
	return domain.Admission{}, nil
}

func (f admissionFake) Status() domain.RateLimitStatus { return f.status }

func TestWorkerHandlerServesRateLimitStatus(t *testing.T) {
	handler := NewWorkerHandler(admissionFake{status: domain.RateLimitStatus{
		TokensUsed:         52000,
		TokenBudget:        64000,
		UtilizationPercent: 81.25,
		IsNearLimit:        true,
	}}, nil, nil, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/ratelimit/status", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var status domain.RateLimitStatus
	if err := json.NewDecoder(res.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.TokensUsed != 52000 || !status.IsNearLimit {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestWorkerHandlerServesMetrics(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("docextract_worker_up 1\n"))
	})
	handler := NewWorkerHandler(admissionFake{}, nil, metricsHandler, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK || res.Body.String() != "docextract_worker_up 1\n" {
		t.Fatalf("unexpected metrics response %d %q", res.Code, res.Body.String())
	}
}

type breakersFake struct{}

func (breakersFake) States() []resilience.BreakerState {
	return []resilience.BreakerState{{Operation: "ollama.generate", State: "open"}}
}

func TestWorkerHandlerServesBreakerStates(t *testing.T) {
	handler := NewWorkerHandler(admissionFake{}, breakersFake{}, nil, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/breakers", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body struct {
		Breakers []resilience.BreakerState `json:"breakers"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode breakers: %v", err)
	}
	if len(body.Breakers) != 1 || body.Breakers[0].State != "open" {
		t.Fatalf("unexpected breakers: %+v", body.Breakers)
	}
}
