package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eddielth/bambu-status/config"
	"github.com/eddielth/bambu-status/logger"
	"github.com/eddielth/bambu-status/mqtt"
	"github.com/eddielth/bambu-status/server"
)

var (
	runNoServer bool
	runSkipSync bool
)

// runCmd is the long-running listener
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Listen to the printer and keep the status files current",
	Long: `Connect to the printer's MQTT broker and project every report into the
status directory.

On startup the latest cloud print task is written once when cloud
credentials are configured. The status HTTP endpoint runs alongside the
listener unless --no-server is given. The configuration file is watched;
lookup tables, fan scale, scripts and log level are reloaded in place.`,
	RunE: runListener,
}

func init() {
	runCmd.Flags().BoolVar(&runNoServer, "no-server", false, "do not start the status HTTP endpoint")
	runCmd.Flags().BoolVar(&runSkipSync, "skip-sync", false, "do not sync the latest cloud task on startup")
}

func runListener(cmd *cobra.Command, args []string) error {
	if err := cfg.RequireListener(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if !runSkipSync {
		if err := cfg.RequireCloud(); err != nil {
			logger.Info("skipping cloud task sync: %v", err)
		} else if err := syncTask(ctx, cfg, a.store); err != nil {
			logger.Error("startup task sync failed: %v", err)
		}
	}

	listener, err := mqtt.NewManager(cfg.Printer, a.pipeline())
	if err != nil {
		return err
	}
	if err := listener.Start(); err != nil {
		return err
	}
	defer listener.Stop()

	if err := loader.Watch(func(newCfg *config.Config) error {
		return a.reload(newCfg)
	}); err != nil {
		logger.Warn("failed to watch config file: %v", err)
	} else {
		logger.Info("watching %s for changes", configPath)
		defer loader.Close()
	}

	serverDone := make(chan error, 1)
	if runNoServer {
		close(serverDone)
	} else {
		srv := server.New(cfg.Server.Addr, a.store)
		go func() { serverDone <- srv.Run(ctx) }()
	}

	logger.Info("bambu-status started, waiting for printer reports...")

	select {
	case <-ctx.Done():
	case err, ok := <-serverDone:
		if ok && err != nil {
			logger.Error("status server stopped: %v", err)
			return err
		}
		<-ctx.Done()
	}

	logger.Info("shutting down")
	return nil
}

// serveCmd serves a status directory without a printer connection
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the status directory over HTTP",
	Long:  `Serve /progress, /status/{name}, /health and /metrics from the configured status directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		return server.New(cfg.Server.Addr, store).Run(ctx)
	},
}

// syncTaskCmd writes the latest cloud task once
var syncTaskCmd = &cobra.Command{
	Use:   "sync-task",
	Short: "Write the latest cloud print task to the status directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		return syncTask(cmd.Context(), cfg, store)
	},
}
