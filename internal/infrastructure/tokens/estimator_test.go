package tokens

import (
	"strings"
	"testing"

	"github.com/kirillkom/docextract/internal/core/domain"
)

func TestHeuristicCounterOverEstimatesASCII(t *testing.T) {
	counter := NewHeuristicCounter(3)
	text := strings.Repeat("abcd ", 120) // 600 bytes

	if got := counter.CountTokens(text); got != 300 {
		t.Fatalf("expected runes/2 bound of 300 tokens, got %d", got)
	}
	if got := counter.CountTokens(""); got != 0 {
		t.Fatalf("expected 0 for empty text, got %d", got)
	}
}

func TestHeuristicCounterUsesByteBoundForMultibyteText(t *testing.T) {
	counter := NewHeuristicCounter(3)
	text := strings.Repeat("ж", 30) // 60 bytes, 30 runes

	if got := counter.CountTokens(text); got != 20 {
		t.Fatalf("expected ceil(60/3)=20 tokens, got %d", got)
	}
}

func TestEstimateScalesWithPagesAndSchema(t *testing.T) {
	est := NewEstimator(Config{PromptOverhead: 100, PageOverhead: 10, OutputBase: 50, OutputPerField: 5}, NewHeuristicCounter(4))
	pages := []domain.Page{
		{Number: 1, Text: strings.Repeat("x", 40)},
		{Number: 2, Text: strings.Repeat("y", 80)},
	}

	got := est.Estimate(pages, 3)
	// input: 100 + (10+20) + (10+40); output: 50 + 3*5*2
	if got.InputTokens != 180 {
		t.Fatalf("expected 180 input tokens, got %d", got.InputTokens)
	}
	if got.OutputTokens != 80 {
		t.Fatalf("expected 80 output tokens, got %d", got.OutputTokens)
	}
	if got.TotalTokens != got.InputTokens+got.OutputTokens {
		t.Fatalf("total must equal input+output, got %+v", got)
	}
}

func TestEstimateIsDeterministic(t *testing.T) {
	est := NewEstimator(DefaultConfig(), nil)
	pages := []domain.Page{{Number: 1, Text: "Invoice 42 total 100.00"}}

	first := est.Estimate(pages, 4)
	second := est.Estimate(pages, 4)
	if first != second {
		t.Fatalf("expected identical estimates, got %+v and %+v", first, second)
	}
}

func TestEstimateCapsOutputTokens(t *testing.T) {
	est := NewEstimator(Config{OutputBase: 100, OutputPerField: 100, MaxOutputTokens: 500}, NewHeuristicCounter(4))
	pages := make([]domain.Page, 10)

	got := est.Estimate(pages, 10)
	if got.OutputTokens != 500 {
		t.Fatalf("expected capped output of 500, got %d", got.OutputTokens)
	}
}
