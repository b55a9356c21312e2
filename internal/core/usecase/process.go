package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

// Pipeline groups the per-file stages the orchestrator drives.
type Pipeline struct {
	Parser     ports.PageParser
	Detector   ports.BoundaryDetector
	Estimator  ports.TokenEstimator
	Planner    ports.ChunkPlanner
	Admission  ports.AdmissionController
	Completion ports.CompletionService
	Validator  ports.PayloadValidator
	Merger     ports.ResultMerger
}

type ProcessOptions struct {
	FileConcurrency int
}

// ProcessSessionUseCase runs one extraction session through the pipeline.
type ProcessSessionUseCase struct {
	repo      ports.SessionRepository
	storage   ports.ObjectStorage
	templates ports.TemplateRegistry
	pipeline  Pipeline
	observer  ports.PipelineObserver
	options   ProcessOptions
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
}

func NewProcessSessionUseCase(
	repo ports.SessionRepository,
	storage ports.ObjectStorage,
	templates ports.TemplateRegistry,
	pipeline Pipeline,
	observer ports.PipelineObserver,
	options ProcessOptions,
	logger *slog.Logger,
) *ProcessSessionUseCase {
	if options.FileConcurrency <= 0 {
		options.FileConcurrency = 3
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessSessionUseCase{
		repo:      repo,
		storage:   storage,
		templates: templates,
		pipeline:  pipeline,
		observer:  observer,
		options:   options,
		logger:    logger,
		running:   make(map[string]context.CancelCauseFunc),
	}
}

func (uc *ProcessSessionUseCase) ProcessByID(ctx context.Context, sessionID string) error {
	session, err := uc.repo.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("fetch session by id: %w", err)
	}
	if session.Status.Terminal() {
		uc.logger.Info("session_skipped", "session_id", sessionID, "status", session.Status)
		return nil
	}

	status, err := session.Status.Transition(domain.SessionProcessing)
	if err != nil {
		return err
	}
	if err := uc.repo.UpdateSessionStatus(ctx, sessionID, status, ""); err != nil {
		if domain.IsKind(err, domain.ErrInvalidTransition) {
			uc.logger.Info("session_skipped", "session_id", sessionID, "error", err)
			return nil
		}
		return fmt.Errorf("set status=processing: %w", err)
	}

	start := time.Now()
	uc.observer.SessionStarted()
	uc.logger.Info("session_started", "session_id", sessionID, "files", len(session.Files), "template", session.TemplateName)

	tmpl, err := uc.templates.Get(session.TemplateName)
	if err != nil {
		return uc.fail(ctx, sessionID, start, fmt.Errorf("resolve template: %w", err))
	}

	sessionCtx, cancel := context.WithCancelCause(ctx)
	uc.register(sessionID, cancel)
	defer func() {
		uc.unregister(sessionID)
		cancel(nil)
	}()

	if err := uc.processFiles(sessionCtx, session, tmpl); err != nil {
		if errors.Is(context.Cause(sessionCtx), domain.ErrSessionAborted) {
			return uc.finishAborted(ctx, sessionID, start)
		}
		return uc.fail(ctx, sessionID, start, err)
	}
	if errors.Is(context.Cause(sessionCtx), domain.ErrSessionAborted) {
		return uc.finishAborted(ctx, sessionID, start)
	}
	if err := ctx.Err(); err != nil {
		return uc.fail(ctx, sessionID, start, fmt.Errorf("worker stopped: %w", err))
	}

	return uc.complete(ctx, sessionID, status, start)
}

// Cancel aborts in-flight work of a session running in this process.
func (uc *ProcessSessionUseCase) Cancel(sessionID string) bool {
	uc.mu.Lock()
	cancel, ok := uc.running[sessionID]
	uc.mu.Unlock()
	if ok {
		cancel(domain.ErrSessionAborted)
	}
	return ok
}

func (uc *ProcessSessionUseCase) processFiles(ctx context.Context, session *domain.ExtractionSession, tmpl domain.Template) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(uc.options.FileConcurrency)

	// Results of canceled chunks are still recorded.
	persistCtx := context.WithoutCancel(ctx)
	var progressMu sync.Mutex
	processed := 0

	for _, file := range session.Files {
		group.Go(func() error {
			result := uc.processFile(groupCtx, tmpl, file)

			// Persistence failures abort the whole session.
			if err := uc.repo.StoreFileResult(persistCtx, session.ID, result); err != nil {
				return fmt.Errorf("store file result %d: %w", file.Index, err)
			}
			uc.observer.FileFinished(result.Status, result.Strategy)

			progressMu.Lock()
			defer progressMu.Unlock()
			processed++
			if err := uc.repo.UpdateSessionProgress(persistCtx, session.ID, processed); err != nil {
				return fmt.Errorf("update session progress: %w", err)
			}
			return nil
		})
	}
	return group.Wait()
}

func (uc *ProcessSessionUseCase) processFile(ctx context.Context, tmpl domain.Template, file domain.SessionFile) domain.FileResult {
	logger := uc.logger.With("file", file.Filename, "file_index", file.Index)

	data, err := uc.loadFile(ctx, file)
	if err != nil {
		logger.Warn("file_load_failed", "error", err)
		return domain.FailedFileResult(file.Index, file.Filename, err)
	}

	plan, err := planFile(ctx, uc.pipeline, tmpl, data)
	if err != nil {
		logger.Warn("file_plan_failed", "error", err)
		return domain.FailedFileResult(file.Index, file.Filename, err)
	}
	logger.Info("file_planned", "strategy", plan.Plan.Strategy, "chunks", len(plan.Plan.Chunks), "pages", plan.PageCount, "estimated_tokens", plan.Estimate.TotalTokens)

	// Chunks of one file go out strictly in page order.
	results := make([]domain.ChunkResult, 0, len(plan.Plan.Chunks))
	for _, chunk := range plan.Plan.Chunks {
		results = append(results, uc.runChunk(ctx, tmpl, chunk, logger))
	}

	merged := uc.pipeline.Merger.Merge(file.Index, file.Filename, results)
	logger.Info("file_finished", "status", merged.Status, "strategy", merged.Strategy, "actual_tokens", merged.ActualTokens)
	return merged
}

func (uc *ProcessSessionUseCase) runChunk(ctx context.Context, tmpl domain.Template, chunk domain.ChunkPlan, logger *slog.Logger) domain.ChunkResult {
	start := time.Now()
	result := domain.ChunkResult{Plan: chunk}
	defer func() {
		var kind domain.ChunkFailureKind
		if result.Failure != nil {
			kind = result.Failure.Kind
		}
		uc.observer.ChunkFinished(chunk.Strategy, kind, time.Since(start))
	}()

	if err := ctx.Err(); err != nil {
		result.Failure = chunkFailure(err)
		return result
	}

	admission, err := uc.pipeline.Admission.Admit(ctx, chunk.EstimatedTokens.TotalTokens)
	if err != nil {
		logger.Warn("chunk_admission_failed", "chunk", chunk.Index, "start_page", chunk.StartPage, "end_page", chunk.EndPage, "error", err)
		result.Failure = chunkFailure(err)
		return result
	}
	if admission.Waited > 0 {
		logger.Info("chunk_admission_waited", "chunk", chunk.Index, "waited_ms", admission.Waited.Milliseconds(), "attempts", admission.Attempts)
	}

	// Every retried attempt is admitted again.
	readmit := func(retryCtx context.Context) error {
		again, err := uc.pipeline.Admission.Admit(retryCtx, chunk.EstimatedTokens.TotalTokens)
		if err != nil {
			logger.Warn("chunk_retry_admission_failed", "chunk", chunk.Index, "error", err)
			return err
		}
		logger.Info("chunk_retry_admitted", "chunk", chunk.Index, "waited_ms", again.Waited.Milliseconds())
		return nil
	}
	resp, err := uc.pipeline.Completion.Complete(ctx, ports.CompletionRequest{Template: tmpl, Pages: chunk.Pages, BeforeRetry: readmit})
	if err != nil {
		logger.Warn("chunk_completion_failed", "chunk", chunk.Index, "start_page", chunk.StartPage, "end_page", chunk.EndPage, "error", err)
		result.Failure = chunkFailure(err)
		return result
	}
	result.ActualTokens = resp.TotalTokens()

	if uc.pipeline.Validator != nil {
		if err := uc.pipeline.Validator.Validate(tmpl, resp.Payload); err != nil {
			logger.Warn("chunk_payload_invalid", "chunk", chunk.Index, "error", err)
			result.Failure = chunkFailure(err)
			return result
		}
	}

	payload := resp.Payload
	result.Payload = &payload
	return result
}

func (uc *ProcessSessionUseCase) loadFile(ctx context.Context, file domain.SessionFile) ([]byte, error) {
	reader, err := uc.storage.Open(ctx, file.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	return data, nil
}

func (uc *ProcessSessionUseCase) complete(ctx context.Context, sessionID string, current domain.SessionStatus, start time.Time) error {
	results, err := uc.repo.ListFileResults(ctx, sessionID)
	if err != nil {
		return uc.fail(ctx, sessionID, start, fmt.Errorf("list file results: %w", err))
	}

	final := domain.FinalSessionStatus(results)
	if _, err := current.Transition(final); err != nil {
		return err
	}
	message := ""
	if final == domain.SessionFailed {
		message = fmt.Sprintf("all %d files failed", len(results))
	}

	// The write only lands if no abort moved the session to a terminal status first.
	if err := uc.repo.UpdateSessionStatus(ctx, sessionID, final, message); err != nil {
		if domain.IsKind(err, domain.ErrInvalidTransition) {
			uc.logger.Info("session_already_terminal", "session_id", sessionID, "status", final, "error", err)
			uc.observer.SessionFinished(domain.SessionFailed, time.Since(start))
			return nil
		}
		return uc.fail(ctx, sessionID, start, fmt.Errorf("set status=%s: %w", final, err))
	}

	uc.observer.SessionFinished(final, time.Since(start))
	uc.logger.Info("session_finished", "session_id", sessionID, "status", final, "files", len(results), "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func (uc *ProcessSessionUseCase) finishAborted(ctx context.Context, sessionID string, start time.Time) error {
	uc.logger.Info("session_aborted", "session_id", sessionID, "elapsed_ms", time.Since(start).Milliseconds())
	uc.observer.SessionFinished(domain.SessionFailed, time.Since(start))
	// Normally the aborter already marked the session failed.
	err := uc.repo.UpdateSessionStatus(context.WithoutCancel(ctx), sessionID, domain.SessionFailed, domain.ErrSessionAborted.Error())
	if err != nil && !domain.IsKind(err, domain.ErrInvalidTransition) {
		return fmt.Errorf("mark aborted session failed: %w", err)
	}
	return nil
}

func (uc *ProcessSessionUseCase) fail(ctx context.Context, sessionID string, start time.Time, processErr error) error {
	uc.logger.Error("session_failed", "session_id", sessionID, "error", processErr)
	uc.observer.SessionFinished(domain.SessionFailed, time.Since(start))

	// Worker shutdown cancels ctx; the failure must still be recorded.
	failErr := uc.repo.UpdateSessionStatus(context.WithoutCancel(ctx), sessionID, domain.SessionFailed, processErr.Error())
	if failErr != nil && !domain.IsKind(failErr, domain.ErrInvalidTransition) {
		return fmt.Errorf("%w; mark failed status: %v", processErr, failErr)
	}
	return processErr
}

func (uc *ProcessSessionUseCase) register(sessionID string, cancel context.CancelCauseFunc) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.running[sessionID] = cancel
}

func (uc *ProcessSessionUseCase) unregister(sessionID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	delete(uc.running, sessionID)
}

// chunkFailure maps a pipeline error onto the chunk failure taxonomy.
func chunkFailure(err error) *domain.ChunkFailure {
	return &domain.ChunkFailure{Kind: failureKind(err), Reason: err.Error()}
}

func failureKind(err error) domain.ChunkFailureKind {
	switch {
	case errors.Is(err, context.Canceled):
		return domain.FailureCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return domain.FailureTimeout
	case errors.Is(err, domain.ErrRateLimitExceeded):
		return domain.FailureRateLimitExceeded
	case errors.Is(err, domain.ErrParse):
		return domain.FailureParse
	case errors.Is(err, domain.ErrCompletion):
		switch domain.CompletionKindOf(err) {
		case domain.CompletionTimeout:
			return domain.FailureTimeout
		case domain.CompletionMalformed:
			return domain.FailureMalformed
		case domain.CompletionRateLimited:
			return domain.FailureRateLimited
		case domain.CompletionOther:
			return domain.FailureOther
		}
	}
	return domain.FailureOther
}

type nopObserver struct{}

func (nopObserver) SessionStarted() {}
func (nopObserver) SessionFinished(domain.SessionStatus, time.Duration) {}
func (nopObserver) FileFinished(domain.FileStatus, domain.ChunkStrategy) {}
func (nopObserver) ChunkFinished(domain.ChunkStrategy, domain.ChunkFailureKind, time.Duration) {}
