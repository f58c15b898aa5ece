package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ivlev/stampdetect/internal/config"
)

var version = "dev"

// app holds state shared by subcommands once the root pre-run has loaded
// configuration.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	dataDir    string
	variant    string

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:           "stampdetect",
		Short:         "Detect signatures and stamps in scanned documents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug|info|warn|error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text|json")
	pf.StringVar(&a.dataDir, "data-dir", "", "directory for temporary upload files")
	pf.StringVar(&a.variant, "model", "", "model variant: remote|contrast")

	root.AddCommand(
		serveCmd(a),
		detectCmd(a),
		countCmd(a),
		rasterizeCmd(a),
		reportCmd(a),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
