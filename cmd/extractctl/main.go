package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docextract/internal/bootstrap"
	"github.com/kirillkom/docextract/internal/config"
	"github.com/kirillkom/docextract/internal/observability/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "extractctl",
	Short:         "Plan and run PDF extraction batches",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level for stderr output")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return logging.NewLogger(os.Stderr, "extractctl", logLevel, "text")
}

// newLocalApp wires the pipeline against the in-memory repository and channel queue.
func newLocalApp(ctx context.Context) (*bootstrap.App, error) {
	return bootstrap.New(ctx, config.Load(), bootstrap.Options{
		Service:   "extractctl",
		InProcess: true,
		Logger:    newLogger(),
	})
}
