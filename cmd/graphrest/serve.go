package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/graphrest/internal/api"
	"github.com/rohankatakam/graphrest/internal/api/orientapi"
	"github.com/rohankatakam/graphrest/internal/api/tigerapi"
	"github.com/rohankatakam/graphrest/internal/audit"
	"github.com/rohankatakam/graphrest/internal/logging"
	"github.com/rohankatakam/graphrest/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve [orient|tiger|all]",
	Short: "Run the HTTP services",
	Long: `Run the OrientDB façade, the TigerGraph façade, or both.

Examples:
  # Both services on their configured addresses
  graphrest serve

  # Only the TigerGraph façade, persisting connections in SQLite
  GRAPHREST_STORAGE_TYPE=sqlite graphrest serve tiger`,
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"orient", "tiger", "all"},
	RunE:      runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	which := "all"
	if len(args) == 1 {
		which = args[0]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := baseLogger()
	result := cfg.Validate()
	for _, w := range result.Warnings {
		log.Warn(w)
	}
	if err := cfg.ValidateOrError(); err != nil {
		return err
	}

	auditLog, err := audit.NewLog(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if which == "orient" || which == "all" {
		clients := orientapi.NewRegistry(cfg.Registry, log)
		defer clients.Close()
		svc := orientapi.New(cfg, clients, auditLog, log)
		srv := api.NewServer(orientapi.ServiceName, cfg.Server.OrientAddr, svc.Handler(),
			cfg.Server.ShutdownTimeout, logging.Component(log, orientapi.ServiceName))

		g.Go(func() error { return srv.Run(ctx) })
		g.Go(func() error {
			clients.RunSweeper(ctx, cfg.Registry.SweepInterval)
			return nil
		})
	}

	if which == "tiger" || which == "all" {
		store, err := storage.Open(ctx, cfg.Storage, log)
		if err != nil {
			return fmt.Errorf("failed to open connection store: %w", err)
		}
		defer store.Close()

		clients := tigerapi.NewRegistry(cfg.Registry, log)
		defer clients.Close()
		svc := tigerapi.New(cfg, clients, store, auditLog, log)
		if _, err := svc.Warm(ctx); err != nil {
			log.WithError(err).Warn("failed to restore stored connections")
		}
		srv := api.NewServer(tigerapi.ServiceName, cfg.Server.TigerAddr, svc.Handler(),
			cfg.Server.ShutdownTimeout, logging.Component(log, tigerapi.ServiceName))

		g.Go(func() error { return srv.Run(ctx) })
		g.Go(func() error {
			clients.RunSweeper(ctx, cfg.Registry.SweepInterval)
			return nil
		})
	}

	log.WithFields(logrus.Fields{
		"services": which,
		"storage":  cfg.Storage.Type,
		"version":  Version,
	}).Info("graphrest started")

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	log.Info("graphrest stopped")
	return nil
}
