package tokens

import "github.com/kirillkom/docextract/internal/core/domain"

type Config struct {
	PromptOverhead  int
	PageOverhead    int
	OutputBase      int
	OutputPerField  int
	MaxOutputTokens int
}

func DefaultConfig() Config {
	return Config{
		PromptOverhead: 600,
		PageOverhead:   12,
		OutputBase:     256,
		OutputPerField: 24,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()
	if out.PromptOverhead < 0 {
		out.PromptOverhead = def.PromptOverhead
	}
	if out.PageOverhead < 0 {
		out.PageOverhead = def.PageOverhead
	}
	if out.OutputBase <= 0 {
		out.OutputBase = def.OutputBase
	}
	if out.OutputPerField <= 0 {
		out.OutputPerField = def.OutputPerField
	}
	if out.MaxOutputTokens < 0 {
		out.MaxOutputTokens = 0
	}
	return out
}

// Estimator is a pure, deterministic request cost estimator.
type Estimator struct {
	cfg     Config
	counter Counter
}

func NewEstimator(cfg Config, counter Counter) *Estimator {
	if counter == nil {
		counter = NewHeuristicCounter(3)
	}
	return &Estimator{cfg: cfg.normalize(), counter: counter}
}

func (e *Estimator) Estimate(pages []domain.Page, complexity int) domain.TokenEstimate {
	input := e.cfg.PromptOverhead
	for _, page := range pages {
		input += e.cfg.PageOverhead + e.counter.CountTokens(page.Text)
	}
	return domain.NewTokenEstimate(input, e.outputTokens(len(pages), complexity))
}

func (e *Estimator) outputTokens(pageCount, complexity int) int {
	if complexity < 1 {
		complexity = 1
	}
	if pageCount < 1 {
		pageCount = 1
	}
	output := e.cfg.OutputBase + complexity*e.cfg.OutputPerField*pageCount
	if e.cfg.MaxOutputTokens > 0 && output > e.cfg.MaxOutputTokens {
		return e.cfg.MaxOutputTokens
	}
	return output
}
