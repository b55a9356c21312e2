package main

import (
	"context"
	"os"

	mcpadapter "github.com/kirillkom/docextract/internal/adapters/mcp"
	"github.com/kirillkom/docextract/internal/bootstrap"
	"github.com/kirillkom/docextract/internal/config"
	"github.com/kirillkom/docextract/internal/observability/logging"
)

// The MCP server talks over stdio, so logs go to stderr.
func main() {
	cfg := config.Load()
	logger := logging.NewLogger(os.Stderr, "mcp", cfg.LogLevel, cfg.LogFormat)

	app, err := bootstrap.New(context.Background(), cfg, bootstrap.Options{Service: "mcp", Logger: logger})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := mcpadapter.NewServer(app.QueryUC, app.AbortUC, app.Templates)
	if err := server.ServeStdio(); err != nil {
		logger.Error("mcp_server_failed", "error", err)
		os.Exit(1)
	}
}
