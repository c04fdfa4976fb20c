package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eddielth/bambu-status/config"
	"github.com/eddielth/bambu-status/logger"
	"github.com/eddielth/bambu-status/metrics"
)

var (
	configPath string

	loader *config.Loader
	cfg    *config.Config
)

// rootCmd is the bambu-status entry point
var rootCmd = &cobra.Command{
	Use:   "bambu-status",
	Short: "Mirror Bambu printer telemetry into status files",
	Long: `bambu-status listens to a Bambu Lab printer's local MQTT reports and
keeps one small text file per status field (progress, temperatures,
stage, AMS trays, ...) for stream overlays to read.

Available subcommands:
  run       - Listen to the printer and serve the status endpoint
  serve     - Serve an existing status directory over HTTP
  sync-task - Write the latest cloud print task once and exit
  devices   - List printers bound to the cloud account`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	rootCmd.AddCommand(runCmd, serveCmd, syncTaskCmd, devicesCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loader = config.NewLoader(configPath)

	var err error
	cfg, err = loader.Load()
	if err != nil {
		return err
	}

	lc := cfg.Logger
	if err := logger.InitFromConfig(lc.Level, lc.FilePath, lc.MaxSize, lc.MaxBackups, lc.Console); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	logger.Info("loaded configuration from %s", configPath)
	return nil
}
