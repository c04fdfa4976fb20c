package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eddielth/bambu-status/logger"
)

// RecordDump appends raw telemetry records to a JSON-lines file for debugging
type RecordDump struct {
	path string
	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

type dumpEntry struct {
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
}

// NewRecordDump opens path for appending
func NewRecordDump(path string) (*RecordDump, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create dir for %s failed: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open dump %s failed: %w", path, err)
	}

	logger.Info("dumping raw records to %s", path)
	return &RecordDump{path: path, file: file, now: time.Now}, nil
}

// Append writes one record. payload must be valid JSON.
func (d *RecordDump) Append(payload []byte) error {
	line, err := json.Marshal(dumpEntry{
		Timestamp: d.now().Format(time.RFC3339Nano),
		Message:   json.RawMessage(payload),
	})
	if err != nil {
		return fmt.Errorf("serialize record failed: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return fmt.Errorf("dump %s is closed", d.path)
	}
	if _, err := d.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write dump %s failed: %w", d.path, err)
	}
	return nil
}

// Close closes the dump file
func (d *RecordDump) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
