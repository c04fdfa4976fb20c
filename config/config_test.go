package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
printer:
  serial: "01S00A000000000"
  host: "192.168.1.20"
  access_code: "12345678"
status:
  dir: /tmp/status
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8883, cfg.Printer.Port)
	assert.Equal(t, "bblp", cfg.Printer.Username)
	assert.True(t, cfg.Printer.InsecureSkipVerify)
	assert.Equal(t, "/tmp/status", cfg.Status.Dir)
	assert.Equal(t, 15.0, cfg.Projector.FanMaxSpeed)
	assert.Equal(t, ":5000", cfg.Server.Addr)
	assert.Equal(t, "Global", cfg.Cloud.Region)
	assert.NoError(t, cfg.RequireListener())
	assert.Error(t, cfg.RequireCloud())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("BAMBU_CLOUD_EMAIL", "me@example.com")
	t.Setenv("BAMBU_CLOUD_PASSWORD", "secret")
	t.Setenv("BAMBU_PRINTER_SERIAL", "SN1")

	path := writeConfig(t, "cloud:\n  region: China\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "China", cfg.Cloud.Region)
	assert.Equal(t, "me@example.com", cfg.Cloud.Email)
	assert.Equal(t, "SN1", cfg.Printer.Serial)
	assert.NoError(t, cfg.RequireCloud())
}

func TestLoadConfigTableOverrides(t *testing.T) {
	path := writeConfig(t, `
projector:
  fan_max_speed: 10
  speed_levels:
    "5": turbo
  filaments:
    XYZ01: House PLA
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.Projector.FanMaxSpeed)
	assert.Equal(t, "turbo", cfg.Projector.SpeedLevels["5"])
	// viper lowercases map keys
	assert.Equal(t, "House PLA", cfg.Projector.Filaments["xyz01"])
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := writeConfig(t, `
printer:
  port: 70000
projector:
  fan_max_speed: 0
storage:
  database:
    enabled: true
    type: sqlite
overlay:
  enabled: true
scripts:
  empty:
    script_path: ""
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	for _, want := range []string{"printer.port", "projector.fan_max_speed", "sqlite", "storage.database.dsn", "overlay.template", "overlay.output", "empty"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRequireCloudAccountNamesMissingKeys(t *testing.T) {
	cfg := &Config{}
	err := cfg.RequireCloudAccount()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cloud.email is required")
	assert.Contains(t, err.Error(), "cloud.password is required")
	assert.NotContains(t, err.Error(), "printer.serial")

	cfg.Cloud.Email = "me@example.com"
	err = cfg.RequireCloudAccount()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "cloud.email")

	cfg.Cloud.Password = "secret"
	assert.NoError(t, cfg.RequireCloudAccount())
	assert.ErrorContains(t, cfg.RequireCloud(), "printer.serial is required")

	cfg.Printer.Serial = "SN1"
	assert.NoError(t, cfg.RequireCloud())
}

func fanConfig(fan string) string {
	return `
printer:
  serial: "01S00A000000000"
status:
  dir: /tmp/status
projector:
  fan_max_speed: ` + fan + "\n"
}

func watchLoader(t *testing.T, path string) (*Loader, chan *Config) {
	t.Helper()
	l := NewLoader(path)
	l.debounce = 200 * time.Millisecond
	_, err := l.Load()
	require.NoError(t, err)

	reloads := make(chan *Config, 8)
	require.NoError(t, l.Watch(func(cfg *Config) error {
		reloads <- cfg
		return nil
	}))
	return l, reloads
}

func nextReload(t *testing.T, reloads chan *Config) *Config {
	t.Helper()
	select {
	case cfg := <-reloads:
		return cfg
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
		return nil
	}
}

func noReload(t *testing.T, reloads chan *Config, wait time.Duration) {
	t.Helper()
	select {
	case cfg := <-reloads:
		t.Fatalf("unexpected reload with fan_max_speed %v", cfg.Projector.FanMaxSpeed)
	case <-time.After(wait):
	}
}

func TestNewLoaderDebouncesTwoSeconds(t *testing.T) {
	assert.Equal(t, 2*time.Second, NewLoader("config.yaml").debounce)
}

func TestWatchReloadsChangedFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writeConfig(t, fanConfig("15"))
	l, reloads := watchLoader(t, path)
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte(fanConfig("12")), 0644))
	assert.Equal(t, 12.0, nextReload(t, reloads).Projector.FanMaxSpeed)
	noReload(t, reloads, 600*time.Millisecond)
}

func TestWatchCollapsesQuickWrites(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writeConfig(t, fanConfig("15"))
	l, reloads := watchLoader(t, path)
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte(fanConfig("20")), 0644))
	require.NoError(t, os.WriteFile(path, []byte(fanConfig("25")), 0644))

	assert.Equal(t, 25.0, nextReload(t, reloads).Projector.FanMaxSpeed)
	noReload(t, reloads, 600*time.Millisecond)
}

func TestWatchSkipsInvalidFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writeConfig(t, fanConfig("15"))
	l, reloads := watchLoader(t, path)
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte(fanConfig("0")), 0644))
	noReload(t, reloads, time.Second)

	require.NoError(t, os.WriteFile(path, []byte(fanConfig("10")), 0644))
	assert.Equal(t, 10.0, nextReload(t, reloads).Projector.FanMaxSpeed)
}

func TestCloseWithoutWatch(t *testing.T) {
	assert.NoError(t, NewLoader("config.yaml").Close())
}
