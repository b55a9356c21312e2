package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

var (
	runTemplate     string
	runXLSX         string
	runJSON         bool
	runPollInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run [file.pdf...]",
	Short: "Extract a batch of PDFs in this process and print the results",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBatch,
}

func init() {
	runCmd.Flags().StringVarP(&runTemplate, "template", "t", "invoice", "extraction template name")
	runCmd.Flags().StringVar(&runXLSX, "xlsx", "", "write the merged results to this .xlsx file")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the final session as JSON")
	runCmd.Flags().DurationVar(&runPollInterval, "poll", 500*time.Millisecond, "progress poll interval")
	rootCmd.AddCommand(runCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	app, err := newLocalApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go func() {
		_ = app.Queue.SubscribeSessionAccepted(ctx, app.ProcessUC.ProcessByID)
	}()
	go func() {
		_ = app.Queue.SubscribeSessionAbort(ctx, func(_ context.Context, sessionID string) error {
			app.ProcessUC.Cancel(sessionID)
			return nil
		})
	}()

	files, closeFiles, err := openUploads(args)
	if err != nil {
		return err
	}
	session, err := app.SubmitUC.Submit(ctx, runTemplate, files)
	closeFiles()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "session %s: %d files queued\n", session.ID, session.TotalFiles)

	session, err = waitForSession(ctx, app.QueryUC, session.ID, runPollInterval, func(s *domain.ExtractionSession) {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s %d/%d\n", s.Status, s.ProcessedFiles, s.TotalFiles)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			_ = app.AbortUC.Abort(context.WithoutCancel(ctx), session.ID, "interrupted")
		}
		return err
	}

	if runXLSX != "" {
		if err := writeXLSX(runXLSX, app.Exporter, session); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", runXLSX)
	}

	if runJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(session); err != nil {
			return err
		}
	} else if err := printSession(cmd.OutOrStdout(), session); err != nil {
		return err
	}

	if session.Status == domain.SessionFailed {
		return fmt.Errorf("session failed: %s", session.Error)
	}
	return nil
}

func openUploads(paths []string) ([]ports.UploadedFile, func(), error) {
	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	files := make([]ports.UploadedFile, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open %s: %w", path, err)
		}
		opened = append(opened, f)
		files = append(files, ports.UploadedFile{Filename: filepath.Base(path), Body: f})
	}
	return files, closeAll, nil
}

// waitForSession polls until the session is terminal. progress is called whenever
// the processed count or status changes.
func waitForSession(
	ctx context.Context,
	reader ports.SessionReader,
	sessionID string,
	interval time.Duration,
	progress func(*domain.ExtractionSession),
) (*domain.ExtractionSession, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := &domain.ExtractionSession{ID: sessionID}
	for {
		session, err := reader.GetSession(ctx, sessionID)
		if err != nil {
			return last, fmt.Errorf("poll session: %w", err)
		}
		if session.Status != last.Status || session.ProcessedFiles != last.ProcessedFiles {
			progress(session)
		}
		last = session
		if session.Status.Terminal() {
			return session, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func writeXLSX(path string, exporter ports.ResultExporter, session *domain.ExtractionSession) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := exporter.Export(f, session); err != nil {
		_ = f.Close()
		return fmt.Errorf("export xlsx: %w", err)
	}
	return f.Close()
}

func printSession(w io.Writer, session *domain.ExtractionSession) error {
	fmt.Fprintf(w, "session %s  %s  %d/%d files  template %s\n",
		session.ID, session.Status, session.ProcessedFiles, session.TotalFiles, session.TemplateName)
	if session.Error != "" {
		fmt.Fprintf(w, "error: %s\n", session.Error)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tFILE\tSTATUS\tSTRATEGY\tROWS\tFAILED PAGES")
	for _, result := range session.Results {
		rows := 0
		if result.Payload != nil {
			rows = len(result.Payload.Rows)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			result.Index, result.Filename, result.Status, result.Strategy, rows, failedPages(result))
	}
	return tw.Flush()
}

func failedPages(result domain.FileResult) string {
	if len(result.ErrorSpans) == 0 {
		if result.Status == domain.FileFailed {
			return "all"
		}
		return "-"
	}
	out := ""
	for i, span := range result.ErrorSpans {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d-%d(%s)", span.StartPage, span.EndPage, span.Kind)
	}
	return out
}
