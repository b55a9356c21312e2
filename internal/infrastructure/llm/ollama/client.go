package ollama

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docextract/internal/core/ports"
	"github.com/kirillkom/docextract/internal/infrastructure/llm"
	"github.com/kirillkom/docextract/internal/infrastructure/resilience"
	"github.com/kirillkom/docextract/internal/infrastructure/templates"
)

const backend = "ollama"

type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	NumCtx  int
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger
}

func New(cfg Config, executor *resilience.Executor, logger *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.CompletionConfig(), logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		executor:   executor,
		logger:     logger,
	}
}

type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Complete runs one /api/generate call constrained to the template's JSON schema.
func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	options := map[string]any{"temperature": 0}
	if c.cfg.NumCtx > 0 {
		options["num_ctx"] = c.cfg.NumCtx
	}
	reqBody := map[string]any{
		"model":   c.cfg.Model,
		"system":  llm.SystemPrompt(req.Template),
		"prompt":  llm.UserPrompt(req.Pages),
		"stream":  false,
		"format":  templates.BuildJSONSchema(req.Template),
		"options": options,
	}

	start := time.Now()
	resp, err := resilience.Do(ctx, c.executor, "ollama.generate", llm.GateRetries(req.BeforeRetry, func(callCtx context.Context) (generateResponse, error) {
		attemptCtx, cancel := context.WithTimeout(callCtx, c.cfg.Timeout)
		defer cancel()

		var out generateResponse
		err := llm.PostJSON(attemptCtx, c.httpClient, c.cfg.BaseURL+"/api/generate", nil, reqBody, &out, backend, "generate")
		return out, err
	}), llm.Classify)
	if err != nil {
		c.logger.Warn("completion_failed", "backend", backend, "model", c.cfg.Model, "pages", len(req.Pages), "error", err)
		return ports.CompletionResponse{}, llm.CompletionFailure(ctx, err)
	}

	payload, err := llm.ParsePayload(resp.Response)
	if err != nil {
		return ports.CompletionResponse{}, err
	}

	c.logger.Debug("completion_ok",
		"backend", backend,
		"model", c.cfg.Model,
		"prompt_tokens", resp.PromptEvalCount,
		"completion_tokens", resp.EvalCount,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return ports.CompletionResponse{
		Payload:          payload,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
	}, nil
}
