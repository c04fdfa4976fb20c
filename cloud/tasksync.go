package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/eddielth/bambu-status/logger"
	"github.com/eddielth/bambu-status/metrics"
	"github.com/eddielth/bambu-status/projector"
	"github.com/eddielth/bambu-status/storage"
)

// Status fields written by a task sync
const (
	FieldDesignTitle  = "designTitle"
	FieldPrintCover   = "printCover"
	FieldTotalWeight  = "totalWeight"
	FieldTotalTime    = "totalTime"
	FieldLatestTaskID = "latest_task_id"

	notAvailable = "N/A"
)

// TaskSource is the part of the API a sync needs
type TaskSource interface {
	LatestTask(ctx context.Context, deviceID string) (*Task, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// Store is the status store
type Store interface {
	Write(name string, value interface{}) error
	Read(name, def string) string
}

// Syncer projects the latest cloud task of one printer into the status store
type Syncer struct {
	source    TaskSource
	store     Store
	deviceID  string
	coverPath string
}

// NewSyncer creates a syncer. The cover image is written to coverPath.
func NewSyncer(source TaskSource, store Store, deviceID, coverPath string) *Syncer {
	return &Syncer{
		source:    source,
		store:     store,
		deviceID:  deviceID,
		coverPath: coverPath,
	}
}

// Sync writes the latest task's fields unless that task was already
// processed. The task id is persisted last, and only when every write
// succeeded, so a failed sync is retried next time.
func (s *Syncer) Sync(ctx context.Context) (updated bool, err error) {
	task, err := s.source.LatestTask(ctx, s.deviceID)
	if err != nil {
		metrics.ObserveTaskSync("error")
		return false, fmt.Errorf("fetch latest task: %w", err)
	}
	if task == nil {
		metrics.ObserveTaskSync("none")
		logger.Info("no cloud task found for printer %s", s.deviceID)
		return false, nil
	}

	// a task without an id cannot be deduplicated; it is written every time
	id := strings.TrimSpace(task.ID.String())
	if id == "" {
		logger.Warn("latest task has no id; writing it without recording it as processed")
	} else if id == s.store.Read(FieldLatestTaskID, "") {
		metrics.ObserveTaskSync("unchanged")
		logger.Info("latest task %s already processed", id)
		return false, nil
	}

	var errs []error
	write := func(name string, value interface{}) {
		if err := s.store.Write(name, value); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", name, err))
		}
	}

	cover := orNA(task.Cover)
	write(FieldDesignTitle, orNA(task.DesignTitle))
	write(projector.FieldPrintProfile, orNA(task.Title))
	write(FieldPrintCover, cover)
	write(FieldTotalWeight, orNA(task.Weight.String()))
	write(FieldTotalTime, projector.FormatDuration(costTime(task.CostTime)))

	if cover != notAvailable && s.coverPath != "" {
		if err := s.downloadCover(ctx, cover); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		metrics.ObserveTaskSync("error")
		return false, err
	}

	if id == "" {
		metrics.ObserveTaskSync("updated")
		return true, nil
	}
	if err := s.store.Write(FieldLatestTaskID, id); err != nil {
		metrics.ObserveTaskSync("error")
		return false, fmt.Errorf("write %s: %w", FieldLatestTaskID, err)
	}

	metrics.ObserveTaskSync("updated")
	logger.Info("latest task %s processed", id)
	return true, nil
}

func (s *Syncer) downloadCover(ctx context.Context, url string) error {
	data, err := s.source.Download(ctx, url)
	if err != nil {
		return fmt.Errorf("download cover: %w", err)
	}
	if err := storage.WriteFileAtomic(s.coverPath, data); err != nil {
		return fmt.Errorf("save cover: %w", err)
	}
	logger.Info("downloaded print cover to %s", s.coverPath)
	return nil
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}

// costTime reads the task duration in seconds; missing or bad values count as zero
func costTime(n json.Number) time.Duration {
	secs, err := cast.ToFloat64E(n.String())
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
