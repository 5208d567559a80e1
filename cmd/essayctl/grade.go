package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"essay-grader/internal/config"
	"essay-grader/internal/services"

	"github.com/spf13/cobra"
)

func newGradeCmd() *cobra.Command {
	var (
		images []string
		prompt string
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade local essay images and write result.json and report.pdf",
		Long: `Run the grading pipeline directly against the configured model.

Each run writes into a new <out>/<YYYYMMDD-HHMMSS>_<hex>/ directory.
LLM_* and PDF_FONT_PATH are read from the environment or .env.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(images) == 0 {
				return fmt.Errorf("at least one --images path is required")
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if err := config.ValidateWorker(cfg); err != nil {
				return err
			}

			ai, err := services.NewAIService(cfg.LLM)
			if err != nil {
				return err
			}

			start := time.Now()
			run, err := services.GradeLocal(cmd.Context(), ai, services.NewPDFService(cfg.PDF.FontPath), images, prompt, outDir)
			if err != nil {
				if run != nil {
					return fmt.Errorf("grading failed (artifacts in %s): %w", run.Dir, err)
				}
				return err
			}

			out := run.Outcome
			fmt.Printf("run directory: %s\n", run.Dir)
			fmt.Printf("result:        %s\n", filepath.Join(run.Dir, filepath.Base(out.ReportKey)))
			fmt.Printf("report:        %s\n", filepath.Join(run.Dir, filepath.Base(out.PDFKey)))
			fmt.Printf("attempts:      %d\n", out.Attempts)
			fmt.Printf("timing:        json %.2fs, pdf %.2fs, total %.2fs (wall %s)\n",
				out.Timing.JSONGenerationSeconds, out.Timing.PDFGenerationSeconds, out.Timing.TotalSeconds,
				time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&images, "images", nil, "essay page images, in order")
	cmd.Flags().StringVar(&prompt, "prompt", "", "essay prompt or context for the grader")
	cmd.Flags().StringVar(&outDir, "out", "runs", "directory for run outputs")
	return cmd
}

func newRenderCmd() *cobra.Command {
	var (
		jsonPath string
		outPath  string
		fontPath string
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Re-render a saved result.json into a PDF report",
		RunE: func(_ *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(jsonPath)
			if err != nil {
				return fmt.Errorf("read %s: %w", jsonPath, err)
			}
			report, _, repaired, err := services.ParseReport(string(raw))
			if err != nil {
				return err
			}
			if repaired {
				fmt.Fprintln(os.Stderr, "warning: result JSON needed repair before rendering")
			}

			if fontPath == "" {
				fontPath = os.Getenv("PDF_FONT_PATH")
			}
			if fontPath == "" {
				fontPath = config.DiscoverFont()
			}
			if fontPath == "" {
				fmt.Fprintln(os.Stderr, "warning: no CJK font found, Chinese text will be lost (set --font or PDF_FONT_PATH)")
			}
			pdf, err := services.NewPDFService(fontPath).GenerateReportPDF(report, services.ReportMeta{
				TaskID:      filepath.Base(filepath.Dir(jsonPath)),
				GeneratedAt: time.Now(),
			})
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, pdf, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			fmt.Printf("report written to %s (%d bytes)\n", outPath, len(pdf))
			return nil
		},
	}

	cmd.Flags().StringVar(&jsonPath, "json", "result.json", "saved report JSON")
	cmd.Flags().StringVar(&outPath, "out", "report.pdf", "output PDF path")
	cmd.Flags().StringVar(&fontPath, "font", "", "UTF-8 TTF font (defaults to PDF_FONT_PATH)")
	return cmd
}

// printJSON writes v indented to stdout
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d)
}
