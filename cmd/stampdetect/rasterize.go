package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ivlev/stampdetect/internal/engine"
	"github.com/ivlev/stampdetect/internal/source"
	"github.com/ivlev/stampdetect/internal/system"
)

func rasterizeCmd(a *app) *cobra.Command {
	var outDir string
	var dpi float64
	var maxPages int

	cmd := &cobra.Command{
		Use:   "rasterize <pdf>",
		Short: "Render every page of a PDF to PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pdfPath := args[0]
			if !cmd.Flags().Changed("dpi") {
				dpi = a.cfg.PDF.DPI
			}
			if !cmd.Flags().Changed("max-pages") {
				maxPages = a.cfg.PDF.MaxPages
			}
			if err := system.EnsureDataDir(outDir); err != nil {
				return err
			}

			token := engine.SecureFilename(strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath)))
			r := source.NewRasterizer(dpi, maxPages, a.logger)
			paths, err := r.Rasterize(cmd.Context(), pdfPath, token, outDir)
			if err != nil {
				return err
			}

			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory for page images")
	cmd.Flags().Float64Var(&dpi, "dpi", 72, "render resolution (0 = renderer default)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "refuse documents with more pages (0 = no limit)")
	return cmd
}
