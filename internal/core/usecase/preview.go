package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

// PlanPreviewUseCase runs parse, detection, estimation and planning for one PDF without dispatching.
type PlanPreviewUseCase struct {
	templates ports.TemplateRegistry
	pipeline  Pipeline
	logger    *slog.Logger
}

func NewPlanPreviewUseCase(templates ports.TemplateRegistry, pipeline Pipeline, logger *slog.Logger) *PlanPreviewUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanPreviewUseCase{templates: templates, pipeline: pipeline, logger: logger}
}

func (uc *PlanPreviewUseCase) PreviewPlan(ctx context.Context, templateName, filename string, data []byte) (*domain.PlanPreview, error) {
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "preview plan", errors.New("file is empty"))
	}
	tmpl, err := uc.templates.Get(templateName)
	if err != nil {
		return nil, fmt.Errorf("resolve template: %w", err)
	}

	preview, err := planFile(ctx, uc.pipeline, tmpl, data)
	if err != nil {
		return nil, err
	}
	preview.Filename = filename
	uc.logger.Debug("plan_previewed", "file", filename, "strategy", preview.Plan.Strategy, "chunks", len(preview.Plan.Chunks))
	return &preview, nil
}

// planFile is the shared parse -> detect -> estimate -> plan stage.
func planFile(ctx context.Context, pipeline Pipeline, tmpl domain.Template, data []byte) (domain.PlanPreview, error) {
	pages, err := pipeline.Parser.Parse(ctx, data)
	if err != nil {
		return domain.PlanPreview{}, fmt.Errorf("parse pdf: %w", err)
	}
	if len(pages) == 0 {
		return domain.PlanPreview{}, domain.WrapError(domain.ErrParse, "parse pdf", errors.New("no pages"))
	}

	documents := pipeline.Detector.Detect(pages)
	complexity := tmpl.Complexity()
	estimate := pipeline.Estimator.Estimate(pages, complexity)

	plan, err := pipeline.Planner.Plan(domain.PlanInput{
		Pages:                pages,
		Documents:            documents,
		EstimatedTotalTokens: estimate.TotalTokens,
		Complexity:           complexity,
	})
	if err != nil {
		return domain.PlanPreview{}, fmt.Errorf("plan chunks: %w", err)
	}

	return domain.PlanPreview{
		PageCount: len(pages),
		Documents: documents,
		Estimate:  estimate,
		Plan:      plan,
	}, nil
}
