package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

type sessionRepoFake struct {
	mu          sync.Mutex
	sessions    map[string]*domain.ExtractionSession
	results     map[string][]domain.FileResult
	statuses    []domain.SessionStatus
	progress    []int
	getCalls    int
	storeErr    error
	createErr   error
	updateErr   error
	lastMessage string
	// afterGet runs once, outside the lock, after the next GetSession returns.
	afterGet func()
}

func newSessionRepoFake(sessions ...*domain.ExtractionSession) *sessionRepoFake {
	repo := &sessionRepoFake{
		sessions: make(map[string]*domain.ExtractionSession),
		results:  make(map[string][]domain.FileResult),
	}
	for _, s := range sessions {
		repo.sessions[s.ID] = s
	}
	return repo
}

func (f *sessionRepoFake) CreateSession(_ context.Context, session *domain.ExtractionSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f *sessionRepoFake) GetSession(_ context.Context, id string) (*domain.ExtractionSession, error) {
	f.mu.Lock()
	f.getCalls++
	hook := f.afterGet
	f.afterGet = nil
	s, ok := f.sessions[id]
	if !ok {
		f.mu.Unlock()
		return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", errors.New(id))
	}
	copied := *s
	copied.Results = append([]domain.FileResult(nil), f.results[id]...)
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return &copied, nil
}

func (f *sessionRepoFake) UpdateSessionStatus(_ context.Context, id string, status domain.SessionStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return domain.WrapError(domain.ErrSessionNotFound, "update status", errors.New(id))
	}
	if _, err := s.Status.Transition(status); err != nil {
		return err
	}
	s.Status = status
	s.Error = errMessage
	f.statuses = append(f.statuses, status)
	f.lastMessage = errMessage
	return nil
}

func (f *sessionRepoFake) UpdateSessionProgress(_ context.Context, id string, processed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id].ProcessedFiles = processed
	f.progress = append(f.progress, processed)
	return nil
}

func (f *sessionRepoFake) StoreFileResult(_ context.Context, sessionID string, result domain.FileResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	f.results[sessionID] = append(f.results[sessionID], result)
	return nil
}

func (f *sessionRepoFake) ListFileResults(_ context.Context, sessionID string) ([]domain.FileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]domain.FileResult(nil), f.results[sessionID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (f *sessionRepoFake) status(id string) domain.SessionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id].Status
}

type storageFake struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func newStorageFake() *storageFake {
	return &storageFake{files: make(map[string][]byte)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.files[key]
	if !ok {
		return nil, fmt.Errorf("missing key %s", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type queueFake struct {
	mu         sync.Mutex
	accepted   []string
	aborted    []string
	publishErr error
	abortErr   error
}

func (f *queueFake) PublishSessionAccepted(_ context.Context, id string) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, id)
	return nil
}

func (f *queueFake) SubscribeSessionAccepted(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

func (f *queueFake) PublishSessionAbort(_ context.Context, id string) error {
	if f.abortErr != nil {
		return f.abortErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, id)
	return nil
}

func (f *queueFake) SubscribeSessionAbort(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

type templatesFake struct{}

func (templatesFake) Get(name string) (domain.Template, error) {
	if name != "invoice" {
		return domain.Template{}, domain.WrapError(domain.ErrTemplateNotFound, "get template", errors.New(name))
	}
	return domain.Template{Name: "invoice", RowFields: []domain.FieldSpec{{Name: "amount", Type: "number"}}}, nil
}

func (templatesFake) List() []domain.Template {
	tmpl, _ := templatesFake{}.Get("invoice")
	return []domain.Template{tmpl}
}

// parserFake reads "pages:N" and produces N pages; anything else is unreadable.
type parserFake struct{}

func (parserFake) Parse(_ context.Context, data []byte) ([]domain.Page, error) {
	raw := strings.TrimSpace(string(data))
	n, err := strconv.Atoi(strings.TrimPrefix(raw, "pages:"))
	if !strings.HasPrefix(raw, "pages:") || err != nil || n <= 0 {
		return nil, domain.WrapError(domain.ErrParse, "parse pdf", errors.New("not a pdf"))
	}
	pages := make([]domain.Page, n)
	for i := range pages {
		pages[i] = domain.Page{Number: i + 1, Text: fmt.Sprintf("page %d", i+1)}
	}
	return pages, nil
}

type detectorFake struct{}

func (detectorFake) Detect(pages []domain.Page) []domain.DetectedDocument {
	return []domain.DetectedDocument{{StartPage: 1, EndPage: len(pages)}}
}

type estimatorFake struct{}

func (estimatorFake) Estimate(pages []domain.Page, _ int) domain.TokenEstimate {
	return domain.NewTokenEstimate(1000*len(pages), 100*len(pages))
}

// plannerFake splits into chunks of pagesPerChunk pages.
type plannerFake struct {
	pagesPerChunk int
}

func (p plannerFake) Plan(input domain.PlanInput) (domain.ChunkingPlan, error) {
	size := p.pagesPerChunk
	if size <= 0 {
		size = len(input.Pages)
	}
	strategy := domain.StrategyPageSplit
	if size >= len(input.Pages) {
		strategy = domain.StrategyWhole
	}
	plan := domain.ChunkingPlan{Strategy: strategy}
	for start := 0; start < len(input.Pages); start += size {
		end := min(start+size, len(input.Pages))
		pages := input.Pages[start:end]
		plan.Chunks = append(plan.Chunks, domain.ChunkPlan{
			Index:           len(plan.Chunks),
			Pages:           pages,
			Strategy:        strategy,
			StartPage:       pages[0].Number,
			EndPage:         pages[len(pages)-1].Number,
			EstimatedTokens: estimatorFake{}.Estimate(pages, 0),
		})
	}
	return plan, nil
}

type admissionFake struct {
	mu     sync.Mutex
	tokens []int
	err    error
}

func (f *admissionFake) Admit(ctx context.Context, tokens int) (domain.Admission, error) {
	if err := ctx.Err(); err != nil {
		return domain.Admission{}, fmt.Errorf("admit: %w", err)
	}
	if f.err != nil {
		return domain.Admission{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, tokens)
	return domain.Admission{Tokens: tokens, Attempts: 1}, nil
}

func (f *admissionFake) Status() domain.RateLimitStatus { return domain.RateLimitStatus{} }

type completionFake struct {
	mu    sync.Mutex
	calls []ports.CompletionRequest
	fn    func(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error)
}

func (f *completionFake) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return okCompletion(req), nil
}

func okCompletion(req ports.CompletionRequest) ports.CompletionResponse {
	rows := make([]domain.Row, 0, len(req.Pages))
	for _, page := range req.Pages {
		rows = append(rows, domain.Row{"amount": float64(page.Number)})
	}
	return ports.CompletionResponse{
		Payload:          domain.ExtractedPayload{Rows: rows},
		PromptTokens:     900 * len(req.Pages),
		CompletionTokens: 50 * len(req.Pages),
	}
}

type validatorFake struct {
	err error
}

func (f validatorFake) Validate(domain.Template, domain.ExtractedPayload) error { return f.err }

// mergerFake concatenates rows and derives the file status from chunk outcomes.
type mergerFake struct{}

func (mergerFake) Merge(index int, filename string, results []domain.ChunkResult) domain.FileResult {
	out := domain.FileResult{Index: index, Filename: filename}
	if len(results) == 0 {
		out.Status = domain.FileFailed
		return out
	}
	out.Strategy = results[0].Plan.Strategy
	payload := &domain.ExtractedPayload{Rows: []domain.Row{}}
	failed := 0
	for _, r := range results {
		out.ActualTokens += r.ActualTokens
		if !r.Succeeded() {
			failed++
			out.ErrorSpans = append(out.ErrorSpans, domain.ErrorSpan{
				StartPage: r.Plan.StartPage, EndPage: r.Plan.EndPage, Kind: r.Failure.Kind, Reason: r.Failure.Reason,
			})
			continue
		}
		payload.Rows = append(payload.Rows, r.Payload.Rows...)
	}
	switch {
	case failed == len(results):
		out.Status = domain.FileFailed
	case failed > 0:
		out.Status, out.Payload = domain.FilePartial, payload
	default:
		out.Status, out.Payload = domain.FileSuccess, payload
	}
	return out
}

type observerFake struct {
	mu       sync.Mutex
	started  int
	finished []domain.SessionStatus
	files    []domain.FileStatus
	chunks   []domain.ChunkFailureKind
}

func (o *observerFake) SessionStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *observerFake) SessionFinished(status domain.SessionStatus, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, status)
}

func (o *observerFake) FileFinished(status domain.FileStatus, _ domain.ChunkStrategy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files = append(o.files, status)
}

func (o *observerFake) ChunkFinished(_ domain.ChunkStrategy, failure domain.ChunkFailureKind, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chunks = append(o.chunks, failure)
}
