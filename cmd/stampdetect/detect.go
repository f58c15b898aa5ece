package main

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ivlev/stampdetect/internal/engine"
	"github.com/ivlev/stampdetect/internal/report"
)

func detectCmd(a *app) *cobra.Command {
	var out string
	var save bool
	var reportDir string
	var counts bool

	cmd := &cobra.Command{
		Use:   "detect <file>",
		Short: "Run detection on a local image or PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			p, err := a.buildPipeline()
			if err != nil {
				return err
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			resp, err := p.processor.Process(cmd.Context(), engine.Upload{
				Filename:    filepath.Base(path),
				ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
				Body:        f,
			})
			if err != nil {
				return err
			}

			if save && out == "" {
				out = report.GeneratePath(reportDir, path)
			}
			if out != "" {
				rep := report.New(path, p.detector.ModelName(), resp)
				if err := report.Write(rep, out); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				a.logger.Info("report written", "path", out, "pages", resp.Len())
			}

			w := cmd.OutOrStdout()
			if counts {
				b, _ := json.MarshalIndent(resp.Counts(), "", "  ")
				fmt.Fprintln(w, string(b))
				return nil
			}
			if out == "" {
				b, err := json.MarshalIndent(resp, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(w, string(b))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write a report to this path (.yaml or .json)")
	cmd.Flags().BoolVar(&save, "save", false, "write a timestamped report into --report-dir")
	cmd.Flags().StringVar(&reportDir, "report-dir", "reports", "directory for --save reports")
	cmd.Flags().BoolVar(&counts, "counts", false, "print signature and stamp totals instead of the full result")
	return cmd
}

func countCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count <file>",
		Short: "Count signatures and stamps in an image or PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.buildPipeline()
			if err != nil {
				return err
			}

			total, err := countFile(cmd.Context(), a, p, args[0])
			if err != nil {
				return err
			}

			b, _ := json.MarshalIndent(total, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}

type countTotal struct {
	Signatures int `json:"signatures"`
	Stamps     int `json:"stamps"`
	Pages      int `json:"pages"`
}

// countFile sums detections over every page of path. PDF pages are rendered
// into the data dir under a fresh token and removed afterwards.
func countFile(ctx context.Context, a *app, p *pipeline, path string) (countTotal, error) {
	var total countTotal

	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		c, err := p.detector.CountFile(ctx, path)
		if err != nil {
			return total, err
		}
		total.Signatures, total.Stamps, total.Pages = c.Signatures, c.Stamps, 1
		return total, nil
	}

	pages, err := p.rasterizer.Rasterize(ctx, path, uuid.NewString(), a.cfg.Storage.DataDir)
	defer removeAll(a, pages)
	if err != nil {
		return total, err
	}
	for _, page := range pages {
		c, err := p.detector.CountFile(ctx, page)
		if err != nil {
			return total, err
		}
		total.Signatures += c.Signatures
		total.Stamps += c.Stamps
	}
	total.Pages = len(pages)
	return total, nil
}

func removeAll(a *app, paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			a.logger.Warn("failed to remove page", "path", p, "error", err)
		}
	}
}
