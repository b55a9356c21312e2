package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kirillkom/docextract/internal/core/domain"
)

// PostJSON sends payload to url and decodes a 2xx JSON answer into out.
// Non-2xx answers become *StatusError.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any, out any, backend, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s request: %w", backend, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NewStatusError(backend, operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewCompletionError(domain.CompletionMalformed, fmt.Errorf("decode %s %s response: %w", backend, operation, err))
	}
	return nil
}
