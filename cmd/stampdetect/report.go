package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ivlev/stampdetect/internal/analyzer"
	"github.com/ivlev/stampdetect/internal/report"
)

func reportCmd(a *app) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "report [path]",
		Short: "Summarize a saved report (default: the latest in --dir)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				latest, err := report.FindLatest(dir)
				if err != nil {
					return err
				}
				path = latest
			}

			rep, err := report.Read(path)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "report\t%s\n", path)
			fmt.Fprintf(w, "source\t%s\n", rep.Source)
			fmt.Fprintf(w, "model\t%s\n", rep.Model)
			fmt.Fprintf(w, "generated\t%s\n", rep.GeneratedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintln(w)
			fmt.Fprintln(w, "PAGE\tDETECTIONS\tSIGNATURES\tSTAMPS")
			for _, key := range rep.Pages.Keys() {
				page, _ := rep.Pages.Page(key)
				c := analyzer.SummarizeCounts(page.Detections)
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", key, len(page.Detections), c.Signatures, c.Stamps)
			}
			fmt.Fprintf(w, "total\t%d\t%d\t%d\n", rep.Pages.DetectionCount(), rep.Counts.Signatures, rep.Counts.Stamps)
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "reports", "directory searched for the latest report")
	return cmd
}
