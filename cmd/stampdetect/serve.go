package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivlev/stampdetect/internal/server"
	"github.com/ivlev/stampdetect/internal/system"
)

func serveCmd(a *app) *cobra.Command {
	var addr string
	var cors bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP detection service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("cors") {
				a.cfg.Server.CORS = cors
			}
			logger := a.logger

			system.InitResourceLimits(logger)

			p, err := a.buildPipeline()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if snap, err := system.TakeSnapshot(ctx, a.cfg.Storage.DataDir); err == nil {
				logger.Info("host resources",
					"cpus", snap.CPUs,
					"mem_available", snap.MemAvailable,
					"disk_free", snap.DiskFree,
				)
			}

			healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := p.detector.CheckHealth(healthCtx); err != nil {
				logger.Warn("model backend not available", "model", p.detector.ModelName(), "error", err)
			}
			cancel()

			logger.Info("starting stampdetect",
				"version", a.cfg.BuildVersion,
				"addr", a.cfg.Server.Addr,
				"model", p.detector.ModelName(),
				"data_dir", a.cfg.Storage.DataDir,
			)

			srv := server.New(a.cfg.Server, a.cfg.Storage.DataDir, p.processor, p.detector, logger)
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8000)")
	cmd.Flags().BoolVar(&cors, "cors", false, "add permissive CORS headers")
	return cmd
}
