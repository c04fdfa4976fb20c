// Package transformer runs user JavaScript that derives extra status fields
// from raw telemetry.
package transformer

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/eddielth/bambu-status/config"
	"github.com/eddielth/bambu-status/logger"
	"github.com/eddielth/bambu-status/metrics"
	"github.com/eddielth/bambu-status/projector"
)

// Store receives the fields a script returns
type Store interface {
	Write(name string, value interface{}) error
}

// Manager holds the configured scripts by name
type Manager struct {
	transformers map[string]*Transformer
	mutex        sync.RWMutex
}

// Transformer is one compiled script. A goja runtime is not safe for
// concurrent use, so calls are serialized.
type Transformer struct {
	name       string
	vm         *goja.Runtime
	transform  goja.Callable
	scriptPath string
	mu         sync.Mutex
}

// NewManager compiles every configured script
func NewManager(configs map[string]config.Script) (*Manager, error) {
	manager := &Manager{
		transformers: make(map[string]*Transformer),
	}

	for name, cfg := range configs {
		t, err := load(name, cfg)
		if err != nil {
			return nil, err
		}
		manager.transformers[name] = t
		logger.Info("loaded status script %s", name)
	}

	return manager, nil
}

func load(name string, cfg config.Script) (*Transformer, error) {
	code := cfg.ScriptCode
	if code == "" {
		if cfg.ScriptPath == "" {
			return nil, fmt.Errorf("script %s has neither script_code nor script_path", name)
		}
		data, err := os.ReadFile(cfg.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("load script %s from %s: %w", name, cfg.ScriptPath, err)
		}
		code = string(data)
	}

	t, err := newTransformer(name, code, cfg.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", name, err)
	}
	return t, nil
}

func newTransformer(name, scriptCode, scriptPath string) (*Transformer, error) {
	vm := goja.New()

	_ = vm.Set("log", func(msg string) {
		logger.Info("[JS %s] %s", name, msg)
	})

	_ = vm.Set("parseJSON", func(jsonStr string) interface{} {
		var data interface{}
		if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
			logger.Warn("[JS %s] parseJSON failed: %v", name, err)
			return nil
		}
		return data
	})

	_ = vm.Set("formatRemaining", func(minutes int) string {
		return projector.FormatRemaining(minutes)
	})

	_ = vm.Set("formatDuration", func(seconds int64) string {
		return projector.FormatDuration(time.Duration(seconds) * time.Second)
	})

	_ = vm.Set("convertTemperature", convertTemperature)

	if _, err := vm.RunString(scriptCode); err != nil {
		return nil, fmt.Errorf("run script: %w", err)
	}

	transformValue := vm.Get("transform")
	if transformValue == nil {
		return nil, fmt.Errorf("no 'transform' function defined")
	}
	transform, ok := goja.AssertFunction(transformValue)
	if !ok {
		return nil, fmt.Errorf("'transform' is not a function")
	}

	return &Transformer{
		name:       name,
		vm:         vm,
		transform:  transform,
		scriptPath: scriptPath,
	}, nil
}

// convertTemperature converts between C, F and K. Unknown units pass the value through.
func convertTemperature(value float64, fromUnit, toUnit string) float64 {
	var celsius float64
	switch strings.ToUpper(fromUnit) {
	case "C":
		celsius = value
	case "F":
		celsius = (value - 32) * 5 / 9
	case "K":
		celsius = value - 273.15
	default:
		return value
	}

	switch strings.ToUpper(toUnit) {
	case "F":
		return celsius*9/5 + 32
	case "K":
		return celsius + 273.15
	default:
		return celsius
	}
}

// Run calls transform(payload) and returns the fields it produced.
// A null or undefined result means no fields.
func (t *Transformer) Run(payload []byte) (map[string]interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	result, err := t.transform(goja.Undefined(), t.vm.ToValue(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("transform failed: %w", err)
	}
	if goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}

	fields, ok := result.Export().(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("transform returned %T, want an object", result.Export())
	}
	return fields, nil
}

// Names returns the loaded script names in order
func (m *Manager) Names() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.transformers))
	for name := range m.transformers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply runs every script against payload and writes the returned fields.
// Each script's failure is logged on its own.
func (m *Manager) Apply(payload []byte, store Store) {
	for _, name := range m.Names() {
		m.mutex.RLock()
		t, ok := m.transformers[name]
		m.mutex.RUnlock()
		if !ok {
			continue
		}

		fields, err := t.Run(payload)
		metrics.ObserveScript(name, err)
		if err != nil {
			logger.Error("status script %s: %v", name, err)
			continue
		}
		for field, value := range fields {
			if err := store.Write(field, value); err != nil {
				logger.Error("status script %s: failed to write %s: %v", name, field, err)
			}
		}
	}
}

// Reload replaces the script set. On any compile error the old set stays.
func (m *Manager) Reload(configs map[string]config.Script) error {
	next := make(map[string]*Transformer, len(configs))
	for name, cfg := range configs {
		t, err := load(name, cfg)
		if err != nil {
			return err
		}
		next[name] = t
	}

	m.mutex.Lock()
	m.transformers = next
	m.mutex.Unlock()

	logger.Info("reloaded %d status scripts", len(next))
	return nil
}
