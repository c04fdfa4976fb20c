package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/eddielth/bambu-status/logger"
	"github.com/eddielth/bambu-status/metrics"
)

// Backend receives every formatted status field write
type Backend interface {
	// Put overwrites the value stored under name
	Put(name, value string) error
	// Close releases the backend's resources
	Close() error
}

// Manager is the status store. The file store is authoritative for reads;
// mirror backends receive a copy of each write and their failures are
// only logged.
type Manager struct {
	primary *FileStore
	mirrors []Backend
	mutex   sync.RWMutex
}

// NewManager creates a status store over primary
func NewManager(primary *FileStore, mirrors ...Backend) *Manager {
	return &Manager{
		primary: primary,
		mirrors: mirrors,
	}
}

// Write formats value and persists it under name, replacing any prior value
func (m *Manager) Write(name string, value interface{}) error {
	text := Format(value)

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	err := m.primary.Put(name, text)
	metrics.ObserveWrite(err)
	if err != nil {
		return err
	}
	logger.Debug("updated %s: %s", name, text)

	for _, backend := range m.mirrors {
		if err := backend.Put(name, text); err != nil {
			logger.Error("failed to mirror %s: %v", name, err)
		}
	}
	return nil
}

// Read returns the stored value for name or def when it is absent or unreadable
func (m *Manager) Read(name, def string) string {
	value, ok, err := m.Get(name)
	if err != nil {
		logger.Warn("failed to read %s: %v", name, err)
		return def
	}
	if !ok {
		return def
	}
	return value
}

// Get reads name from the file store; ok is false when it was never written
func (m *Manager) Get(name string) (value string, ok bool, err error) {
	return m.primary.Get(name)
}

// Dir returns the status directory
func (m *Manager) Dir() string {
	return m.primary.Dir()
}

// AddBackend adds a mirror backend
func (m *Manager) AddBackend(backend Backend) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.mirrors = append(m.mirrors, backend)
}

// Close closes every mirror backend
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, backend := range m.mirrors {
		if err := backend.Close(); err != nil {
			logger.Error("failed to close storage backend: %v", err)
		}
	}
}

// Format renders a status value as text. Numbers always carry two decimals;
// maps, slices and structs are written as JSON.
func Format(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', 2, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', 2, 32)
	case int:
		return strconv.FormatFloat(float64(v), 'f', 2, 64)
	case int64:
		return strconv.FormatFloat(float64(v), 'f', 2, 64)
	case int32:
		return strconv.FormatFloat(float64(v), 'f', 2, 64)
	case uint:
		return strconv.FormatFloat(float64(v), 'f', 2, 64)
	case uint64:
		return strconv.FormatFloat(float64(v), 'f', 2, 64)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', 2, 64)
		}
		return v.String()
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if text, err := marshal(value); err == nil {
			return text
		}
	}
	return fmt.Sprint(value)
}

// marshal renders nested script results as JSON with keys sorted and
// without HTML escaping
func marshal(value interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
