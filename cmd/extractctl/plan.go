package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docextract/internal/core/domain"
)

var (
	planTemplate string
	planJSON     bool
)

var planCmd = &cobra.Command{
	Use:   "plan [file.pdf]",
	Short: "Show how a PDF would be chunked, without calling the model",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planTemplate, "template", "t", "invoice", "extraction template name")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "print the plan as JSON")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	app, err := newLocalApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	preview, err := app.PreviewUC.PreviewPlan(cmd.Context(), planTemplate, filepath.Base(args[0]), data)
	if err != nil {
		return err
	}
	if planJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(preview)
	}
	return printPlan(cmd.OutOrStdout(), preview)
}

func printPlan(w io.Writer, preview *domain.PlanPreview) error {
	fmt.Fprintf(w, "%s: %d pages, %d documents, strategy %s, ~%d tokens\n",
		preview.Filename,
		preview.PageCount,
		len(preview.Documents),
		preview.Plan.Strategy,
		preview.Plan.EstimatedTokens(),
	)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHUNK\tPAGES\tINPUT\tOUTPUT\tTOTAL\tFLAGS")
	for i, chunk := range preview.Plan.Chunks {
		flags := ""
		if chunk.Oversized {
			flags = "oversized"
		}
		fmt.Fprintf(tw, "%d\t%d-%d\t%d\t%d\t%d\t%s\n",
			i+1,
			chunk.StartPage,
			chunk.EndPage,
			chunk.EstimatedTokens.InputTokens,
			chunk.EstimatedTokens.OutputTokens,
			chunk.EstimatedTokens.TotalTokens,
			flags,
		)
	}
	return tw.Flush()
}
