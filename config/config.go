package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/eddielth/bambu-status/logger"
)

// EnvPrefix prefixes environment overrides, e.g. BAMBU_PRINTER_ACCESS_CODE
const EnvPrefix = "BAMBU"

// Config is the application configuration
type Config struct {
	Cloud     CloudConfig       `mapstructure:"cloud"`
	Printer   PrinterConfig     `mapstructure:"printer"`
	Status    StatusConfig      `mapstructure:"status"`
	Projector ProjectorConfig   `mapstructure:"projector"`
	Server    ServerConfig      `mapstructure:"server"`
	Storage   StorageConfig     `mapstructure:"storage"`
	Scripts   map[string]Script `mapstructure:"scripts"`
	Overlay   OverlayConfig     `mapstructure:"overlay"`
	Logger    LoggerConfig      `mapstructure:"logger"`
}

// CloudConfig holds the cloud account used for task history
type CloudConfig struct {
	Region   string `mapstructure:"region"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
	// BaseURL overrides the region-derived API host
	BaseURL string `mapstructure:"base_url"`
}

// PrinterConfig describes how to reach the printer's local MQTT broker
type PrinterConfig struct {
	Serial             string `mapstructure:"serial"`
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Username           string `mapstructure:"username"`
	AccessCode         string `mapstructure:"access_code"`
	ClientID           string `mapstructure:"client_id"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// StatusConfig locates the status directory
type StatusConfig struct {
	Dir string `mapstructure:"dir"`
}

// ProjectorConfig tunes derived-value computation. The maps override or
// extend the built-in lookup tables.
type ProjectorConfig struct {
	FanMaxSpeed float64           `mapstructure:"fan_max_speed"`
	SpeedLevels map[string]string `mapstructure:"speed_levels"`
	Stages      map[string]string `mapstructure:"stages"`
	Filaments   map[string]string `mapstructure:"filaments"`
}

// ServerConfig configures the status HTTP endpoint
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// StorageConfig configures mirror backends and the raw record dump
type StorageConfig struct {
	Database DatabaseStorageConfig `mapstructure:"database"`
	Dump     DumpConfig            `mapstructure:"dump"`
}

// DatabaseStorageConfig mirrors status fields into a SQL table
type DatabaseStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"`
	DSN     string `mapstructure:"dsn"`
}

// DumpConfig appends every received record to a JSON-lines file
type DumpConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Script is a JS status-field script
type Script struct {
	ScriptPath string `mapstructure:"script_path"`
	ScriptCode string `mapstructure:"script_code"`
}

// OverlayConfig configures the SVG recolor step
type OverlayConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Template string `mapstructure:"template"`
	Output   string `mapstructure:"output"`
}

// LoggerConfig represents the logging configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

// ChangeCallback is invoked with the new configuration after the file changes
type ChangeCallback func(cfg *Config) error

func setDefaults(v *viper.Viper) {
	// keys need a default for env-only values to reach Unmarshal
	v.SetDefault("cloud.region", "Global")
	v.SetDefault("cloud.email", "")
	v.SetDefault("cloud.password", "")
	v.SetDefault("cloud.base_url", "")
	v.SetDefault("printer.serial", "")
	v.SetDefault("printer.host", "")
	v.SetDefault("printer.access_code", "")
	v.SetDefault("printer.port", 8883)
	v.SetDefault("printer.username", "bblp")
	v.SetDefault("printer.insecure_skip_verify", true)
	v.SetDefault("status.dir", "data")
	v.SetDefault("projector.fan_max_speed", 15.0)
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("storage.dump.path", "data/ConnectionDumps.json")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.console", true)
}

// Loader owns a viper instance bound to one config file
type Loader struct {
	v        *viper.Viper
	path     string
	debounce time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
}

const defaultDebounce = 2 * time.Second

// NewLoader prepares a loader for configPath. Environment variables with
// the BAMBU_ prefix override file values.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{v: v, path: configPath, debounce: defaultDebounce}
}

// Load reads the file and validates the result
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads and validates the configuration at configPath
func LoadConfig(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Watch reloads the configuration once the file has been quiet for two
// seconds after a write and hands the result to callback. Invalid files
// are logged and skipped. The directory is watched so editors that
// replace the file are seen too.
func (l *Loader) Watch(callback ChangeCallback) error {
	absPath, err := filepath.Abs(l.path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(absPath), err)
	}

	l.watcher = watcher
	l.done = make(chan struct{})
	go l.watch(filepath.Clean(absPath), callback)
	return nil
}

func (l *Loader) watch(path string, callback ChangeCallback) {
	defer close(l.done)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case e, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != path || !(e.Has(fsnotify.Write) || e.Has(fsnotify.Create)) {
				continue
			}
			// every event restarts the quiet period
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(l.debounce)
			fire = timer.C

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("config watcher: %v", err)

		case <-fire:
			fire = nil
			l.reload(callback)
		}
	}
}

func (l *Loader) reload(callback ChangeCallback) {
	logger.Info("config file changed: %s", l.path)

	if err := l.v.ReadInConfig(); err != nil {
		logger.Error("failed to reload config: %v", err)
		return
	}
	newCfg, err := l.decode()
	if err != nil {
		logger.Error("failed to reload config: %v", err)
		return
	}
	if err := callback(newCfg); err != nil {
		logger.Error("failed to apply new config: %v", err)
		return
	}
	logger.Info("config reloaded")
}

// Close stops watching. It is a no-op when Watch was never called.
func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	<-l.done
	l.watcher = nil
	return err
}
