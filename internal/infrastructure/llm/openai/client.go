package openai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
	"github.com/kirillkom/docextract/internal/infrastructure/llm"
	"github.com/kirillkom/docextract/internal/infrastructure/resilience"
)

const backend = "openai"

// Config for any OpenAI-compatible chat/completions endpoint.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger
}

func New(cfg Config, executor *resilience.Executor, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.CompletionConfig(), logger)
	}
	return &Client{cfg: cfg, httpClient: &http.Client{}, executor: executor, logger: logger}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	reqID := uuid.NewString()
	start := time.Now()

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.SystemPrompt(req.Template)},
			{"role": "user", "content": llm.UserPrompt(req.Pages) + "\nReturn ONLY JSON that matches the schema."},
		},
	}
	headers := map[string]string{"X-Request-ID": reqID}
	if c.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}

	c.logger.Debug("llm.extract.start", "req_id", reqID, "backend", backend, "model", c.cfg.Model, "pages", len(req.Pages))
	resp, err := resilience.Do(ctx, c.executor, "openai.chat", llm.GateRetries(req.BeforeRetry, func(callCtx context.Context) (chatResponse, error) {
		attemptCtx, cancel := context.WithTimeout(callCtx, c.cfg.Timeout)
		defer cancel()

		var out chatResponse
		err := llm.PostJSON(attemptCtx, c.httpClient, c.cfg.BaseURL+"/chat/completions", headers, body, &out, backend, "chat")
		return out, err
	}), llm.Classify)
	if err != nil {
		c.logger.Warn("llm.extract.http_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return ports.CompletionResponse{}, llm.CompletionFailure(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return ports.CompletionResponse{}, domain.NewCompletionError(domain.CompletionMalformed, errors.New("no choices in response"))
	}
	if resp.Choices[0].FinishReason == "length" {
		return ports.CompletionResponse{}, domain.NewCompletionError(domain.CompletionMalformed, errors.New("response truncated at max tokens"))
	}

	payload, err := llm.ParsePayload(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn("llm.extract.decode_error", "req_id", reqID, "error", err)
		return ports.CompletionResponse{}, err
	}

	c.logger.Debug("llm.extract.ok",
		"req_id", reqID,
		"rows", len(payload.Rows),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return ports.CompletionResponse{
		Payload:          payload,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
