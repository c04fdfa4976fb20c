package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/eddielth/bambu-status/cloud"
	"github.com/eddielth/bambu-status/config"
	"github.com/eddielth/bambu-status/logger"
	"github.com/eddielth/bambu-status/mqtt"
	"github.com/eddielth/bambu-status/overlay"
	"github.com/eddielth/bambu-status/projector"
	"github.com/eddielth/bambu-status/storage"
	"github.com/eddielth/bambu-status/transformer"
)

const coverFile = "printCover.png"

// app holds the components fed by the printer listener
type app struct {
	store     *storage.Manager
	projector *projector.Projector
	scripts   *transformer.Manager
	dump      *storage.RecordDump
	overlay   *overlay.Recolorer
}

// openStore opens the status directory and any configured database mirror
func openStore(cfg *config.Config) (*storage.Manager, error) {
	files, err := storage.NewFileStore(cfg.Status.Dir)
	if err != nil {
		return nil, err
	}
	store := storage.NewManager(files)

	if db := cfg.Storage.Database; db.Enabled {
		backend, err := storage.NewDatabaseStorage(db.Type, db.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s mirror: %w", db.Type, err)
		}
		store.AddBackend(backend)
		logger.Info("mirroring status fields to %s", db.Type)
	}

	return store, nil
}

func tablesFor(pc config.ProjectorConfig) projector.Tables {
	return projector.DefaultTables().WithOverrides(pc.SpeedLevels, pc.Stages, pc.Filaments)
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{store: store}

	a.projector = projector.New(store, tablesFor(cfg.Projector),
		projector.WithFanMaxSpeed(cfg.Projector.FanMaxSpeed))

	if len(cfg.Scripts) > 0 {
		if a.scripts, err = transformer.NewManager(cfg.Scripts); err != nil {
			a.close()
			return nil, fmt.Errorf("load status scripts: %w", err)
		}
	}

	if cfg.Storage.Dump.Enabled {
		if a.dump, err = storage.NewRecordDump(cfg.Storage.Dump.Path); err != nil {
			a.close()
			return nil, err
		}
	}

	if cfg.Overlay.Enabled {
		if a.overlay, err = overlay.New(store, cfg.Overlay.Template, cfg.Overlay.Output); err != nil {
			a.close()
			return nil, err
		}
	}

	return a, nil
}

// pipeline wires only the stages that are configured, so that an unset
// stage is a nil interface rather than a typed nil pointer
func (a *app) pipeline() *mqtt.Pipeline {
	p := &mqtt.Pipeline{Projector: a.projector, Store: a.store}
	if a.scripts != nil {
		p.Scripts = a.scripts
	}
	if a.dump != nil {
		p.Dump = a.dump
	}
	if a.overlay != nil {
		p.Overlay = a.overlay
	}
	return p
}

// reload applies the parts of a new configuration that can change at runtime
func (a *app) reload(newCfg *config.Config) error {
	if err := logger.SetLevel(newCfg.Logger.Level); err != nil {
		return err
	}

	a.projector.SetTables(tablesFor(newCfg.Projector))
	a.projector.SetFanMaxSpeed(newCfg.Projector.FanMaxSpeed)

	if a.scripts != nil {
		if err := a.scripts.Reload(newCfg.Scripts); err != nil {
			return fmt.Errorf("reload status scripts: %w", err)
		}
	} else if len(newCfg.Scripts) > 0 {
		logger.Warn("status scripts added to the config take effect after a restart")
	}

	logger.Info("printer, storage and server changes take effect after a restart")
	return nil
}

func (a *app) close() {
	if a.dump != nil {
		if err := a.dump.Close(); err != nil {
			logger.Error("failed to close record dump: %v", err)
		}
	}
	a.store.Close()
}

func newSyncer(cfg *config.Config, store *storage.Manager) *cloud.Syncer {
	client := cloud.NewClient(cfg.Cloud)
	return cloud.NewSyncer(client, store, cfg.Printer.Serial, filepath.Join(cfg.Status.Dir, coverFile))
}

// syncTask runs one task sync and reports whether anything changed
func syncTask(ctx context.Context, cfg *config.Config, store *storage.Manager) error {
	if err := cfg.RequireCloud(); err != nil {
		return err
	}
	updated, err := newSyncer(cfg, store).Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync latest task: %w", err)
	}
	if !updated {
		logger.Info("status files already reflect the latest task")
	}
	return nil
}
