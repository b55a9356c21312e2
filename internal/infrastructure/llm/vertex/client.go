package vertex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
	"github.com/kirillkom/docextract/internal/infrastructure/llm"
	"github.com/kirillkom/docextract/internal/infrastructure/resilience"
)

type Config struct {
	ProjectID string
	Region    string
	Model     string
	Timeout   time.Duration
}

type generateFunc func(ctx context.Context, system, user string) (*genai.GenerateContentResponse, error)

// Client calls Gemini on Vertex AI with JSON output.
type Client struct {
	cfg      Config
	base     *genai.Client
	generate generateFunc
	executor *resilience.Executor
	logger   *slog.Logger
}

func New(ctx context.Context, cfg Config, executor *resilience.Executor, logger *slog.Logger) (*Client, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new vertex client", errors.New("project id and region are required"))
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-pro"
	}
	base, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	c := newClient(cfg, executor, logger)
	c.base = base
	c.generate = func(ctx context.Context, system, user string) (*genai.GenerateContentResponse, error) {
		model := base.GenerativeModel(cfg.Model)
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
		model.GenerationConfig = genai.GenerationConfig{
			ResponseMIMEType: "application/json",
			Temperature:      genai.Ptr[float32](0.0),
		}
		return model.GenerateContent(ctx, genai.Text(user))
	}
	return c, nil
}

func newClient(cfg Config, executor *resilience.Executor, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.CompletionConfig(), logger)
	}
	return &Client{cfg: cfg, executor: executor, logger: logger}
}

func (c *Client) Close() error {
	if c.base != nil {
		return c.base.Close()
	}
	return nil
}

func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	system := llm.SystemPrompt(req.Template)
	user := llm.UserPrompt(req.Pages)

	resp, err := resilience.Do(ctx, c.executor, "vertex.generate", llm.GateRetries(req.BeforeRetry, func(callCtx context.Context) (*genai.GenerateContentResponse, error) {
		attemptCtx, cancel := context.WithTimeout(callCtx, c.cfg.Timeout)
		defer cancel()
		return c.generate(attemptCtx, system, user)
	}), classify)
	if err != nil {
		c.logger.Warn("completion_failed", "backend", "vertex", "model", c.cfg.Model, "error", err)
		return ports.CompletionResponse{}, completionFailure(ctx, err)
	}

	text, err := responseText(resp)
	if err != nil {
		return ports.CompletionResponse{}, err
	}
	payload, err := llm.ParsePayload(text)
	if err != nil {
		return ports.CompletionResponse{}, err
	}

	out := ports.CompletionResponse{Payload: payload}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", domain.NewCompletionError(domain.CompletionMalformed, errors.New("empty gemini response"))
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonMaxTokens {
		return "", domain.NewCompletionError(domain.CompletionMalformed, errors.New("response truncated at max tokens"))
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if b.Len() == 0 {
		return "", domain.NewCompletionError(domain.CompletionMalformed, errors.New("gemini response has no text parts"))
	}
	return b.String(), nil
}

func classify(err error) resilience.ErrorClassification {
	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		switch s.Code() {
		case codes.Unavailable, codes.Internal, codes.Aborted:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		case codes.DeadlineExceeded:
			return resilience.ErrorClassification{RecordFailure: true}
		default:
			return resilience.ErrorClassification{}
		}
	}
	return llm.Classify(err)
}

func completionFailure(parent context.Context, err error) error {
	if parent.Err() == nil {
		if s, ok := status.FromError(err); ok {
			switch s.Code() {
			case codes.ResourceExhausted:
				return domain.NewCompletionError(domain.CompletionRateLimited, err)
			case codes.DeadlineExceeded:
				return domain.NewCompletionError(domain.CompletionTimeout, err)
			}
		}
	}
	return llm.CompletionFailure(parent, err)
}
