package chunking

import (
	"errors"
	"fmt"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

type PlannerConfig struct {
	MaxTokensPerChunk int
	PagesPerChunk     int
	SafetyMargin      float64

	// BoundaryOverlapPages lets each DOCUMENT_BOUNDARY chunk after the first repeat
	// that many trailing pages of the previous document.
	BoundaryOverlapPages int
	// MinBoundaryConfidence skips DOCUMENT_BOUNDARY when any boundary is weaker.
	MinBoundaryConfidence float64
}

func (c PlannerConfig) Budget() float64 {
	return float64(c.MaxTokensPerChunk) * c.SafetyMargin
}

func (c PlannerConfig) Validate() error {
	switch {
	case c.MaxTokensPerChunk <= 0:
		return domain.WrapError(domain.ErrInvalidInput, "planner config", errors.New("max tokens per chunk must be positive"))
	case c.PagesPerChunk <= 0:
		return domain.WrapError(domain.ErrInvalidInput, "planner config", errors.New("pages per chunk must be positive"))
	case c.SafetyMargin <= 0 || c.SafetyMargin > 1:
		return domain.WrapError(domain.ErrInvalidInput, "planner config", fmt.Errorf("safety margin %.3f outside (0,1]", c.SafetyMargin))
	case c.BoundaryOverlapPages < 0:
		return domain.WrapError(domain.ErrInvalidInput, "planner config", errors.New("boundary overlap must not be negative"))
	}
	return nil
}

// Planner selects WHOLE, DOCUMENT_BOUNDARY or PAGE_SPLIT, in that priority order.
type Planner struct {
	cfg       PlannerConfig
	estimator ports.TokenEstimator
}

func NewPlanner(cfg PlannerConfig, estimator ports.TokenEstimator) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if estimator == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new planner", errors.New("estimator is required"))
	}
	return &Planner{cfg: cfg, estimator: estimator}, nil
}

func (p *Planner) Plan(input domain.PlanInput) (domain.ChunkingPlan, error) {
	if len(input.Pages) == 0 {
		return domain.ChunkingPlan{}, domain.WrapError(domain.ErrInvalidInput, "plan chunks", errors.New("document has no pages"))
	}
	budget := p.cfg.Budget()

	total := input.EstimatedTotalTokens
	if total <= 0 {
		total = p.estimator.Estimate(input.Pages, input.Complexity).TotalTokens
	}
	if float64(total) <= budget {
		return finalize(domain.StrategyWhole, []domain.ChunkPlan{p.chunk(domain.StrategyWhole, input.Pages, input.Complexity)}), nil
	}

	if chunks, ok := p.planByBoundaries(input, budget); ok {
		return finalize(domain.StrategyDocumentBoundary, chunks), nil
	}

	return finalize(domain.StrategyPageSplit, p.planByPages(input, budget)), nil
}

func (p *Planner) planByBoundaries(input domain.PlanInput, budget float64) ([]domain.ChunkPlan, bool) {
	if len(input.Documents) <= 1 {
		return nil, false
	}
	for i, doc := range input.Documents {
		// the first document's confidence is the strongest boundary, not a boundary itself
		if i > 0 && doc.Confidence < p.cfg.MinBoundaryConfidence {
			return nil, false
		}
	}

	chunks := make([]domain.ChunkPlan, 0, len(input.Documents))
	for i, doc := range input.Documents {
		start := doc.StartPage
		if i > 0 && p.cfg.BoundaryOverlapPages > 0 {
			start -= p.cfg.BoundaryOverlapPages
			if prevStart := input.Documents[i-1].StartPage; start < prevStart {
				start = prevStart
			}
		}
		pages := pageRange(input.Pages, start, doc.EndPage)
		if len(pages) == 0 {
			return nil, false
		}
		chunk := p.chunk(domain.StrategyDocumentBoundary, pages, input.Complexity)
		if float64(chunk.EstimatedTokens.TotalTokens) > budget {
			return nil, false
		}
		chunks = append(chunks, chunk)
	}
	return chunks, true
}

func (p *Planner) planByPages(input domain.PlanInput, budget float64) []domain.ChunkPlan {
	size := p.cfg.PagesPerChunk
	chunks := make([]domain.ChunkPlan, 0, len(input.Pages)/size+1)
	for start := 0; start < len(input.Pages); start += size {
		end := start + size
		if end > len(input.Pages) {
			end = len(input.Pages)
		}
		chunks = p.splitWindow(chunks, input.Pages[start:end], input.Complexity, budget)
	}
	return chunks
}

// splitWindow halves an over-budget window until it fits or is a single page.
func (p *Planner) splitWindow(out []domain.ChunkPlan, pages []domain.Page, complexity int, budget float64) []domain.ChunkPlan {
	chunk := p.chunk(domain.StrategyPageSplit, pages, complexity)
	if float64(chunk.EstimatedTokens.TotalTokens) <= budget {
		return append(out, chunk)
	}
	if len(pages) == 1 {
		chunk.Oversized = true
		return append(out, chunk)
	}
	mid := len(pages) / 2
	out = p.splitWindow(out, pages[:mid], complexity, budget)
	return p.splitWindow(out, pages[mid:], complexity, budget)
}

func (p *Planner) chunk(strategy domain.ChunkStrategy, pages []domain.Page, complexity int) domain.ChunkPlan {
	return domain.ChunkPlan{
		Pages:           pages,
		Strategy:        strategy,
		StartPage:       pages[0].Number,
		EndPage:         pages[len(pages)-1].Number,
		EstimatedTokens: p.estimator.Estimate(pages, complexity),
	}
}

func finalize(strategy domain.ChunkStrategy, chunks []domain.ChunkPlan) domain.ChunkingPlan {
	for i := range chunks {
		chunks[i].Index = i
	}
	return domain.ChunkingPlan{Strategy: strategy, Chunks: chunks}
}

func pageRange(pages []domain.Page, startPage, endPage int) []domain.Page {
	from, to := -1, -1
	for i, page := range pages {
		if page.Number == startPage {
			from = i
		}
		if page.Number == endPage {
			to = i
			break
		}
	}
	if from < 0 || to < from {
		return nil
	}
	return pages[from : to+1]
}
