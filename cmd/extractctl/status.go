package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docextract/internal/core/domain"
)

var (
	statusAPI    string
	statusAPIKey string
	statusJSON   bool
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show a session from a running API server",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAPI, "api", envOr("DOCEXTRACT_API", "http://localhost:8080"), "API base URL")
	statusCmd.Flags().StringVar(&statusAPIKey, "api-key", os.Getenv("DOCEXTRACT_API_KEY"), "bearer token for the API")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the session as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 15 * time.Second}
	session, err := fetchSession(cmd.Context(), client, statusAPI, statusAPIKey, args[0])
	if err != nil {
		return err
	}
	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(session)
	}
	return printSession(cmd.OutOrStdout(), session)
}

func fetchSession(ctx context.Context, client *http.Client, baseURL, apiKey, sessionID string) (*domain.ExtractionSession, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/v1/sessions/" + url.PathEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(raw, &body) != nil || body.Error == "" {
			body.Error = strings.TrimSpace(string(raw))
		}
		return nil, fmt.Errorf("get session: status %d: %s", resp.StatusCode, body.Error)
	}

	var session domain.ExtractionSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
