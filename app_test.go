package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddielth/bambu-status/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Printer:   config.PrinterConfig{Serial: "SN", Host: "10.0.0.2", Port: 8883, AccessCode: "code"},
		Status:    config.StatusConfig{Dir: filepath.Join(dir, "status")},
		Projector: config.ProjectorConfig{FanMaxSpeed: 15},
		Logger:    config.LoggerConfig{Level: "info"},
	}
}

func TestPipelineLeavesUnsetStagesNil(t *testing.T) {
	a, err := newApp(testConfig(t))
	require.NoError(t, err)
	defer a.close()

	p := a.pipeline()
	assert.Nil(t, p.Scripts)
	assert.Nil(t, p.Dump)
	assert.Nil(t, p.Overlay)

	p.Handle("device/SN/report", []byte(`{"print":{"mc_percent":12,"spd_lvl":2}}`))
	assert.Equal(t, "12.00", a.store.Read("progress", ""))
	assert.Equal(t, "standard", a.store.Read("printSpeed", ""))
}

func TestAppWiresOptionalStages(t *testing.T) {
	cfg := testConfig(t)
	dir := filepath.Dir(cfg.Status.Dir)
	tmpl := filepath.Join(dir, "spool.svg.tmpl")
	require.NoError(t, os.WriteFile(tmpl, []byte(`<svg fill="{{.Color}}"/>`), 0644))

	cfg.Scripts = map[string]config.Script{
		"eta": {ScriptCode: `function transform(p) { return {"scriptField": "yes"}; }`},
	}
	cfg.Storage.Dump = config.DumpConfig{Enabled: true, Path: filepath.Join(dir, "dump.json")}
	cfg.Overlay = config.OverlayConfig{Enabled: true, Template: tmpl, Output: filepath.Join(dir, "spool.svg")}

	a, err := newApp(cfg)
	require.NoError(t, err)
	defer a.close()

	p := a.pipeline()
	p.Handle("device/SN/report", []byte(`{"print":{"ams":{"ams":[{"id":0,"tray":[{"id":0,"tray_color":"FF8800FF","tray_info_idx":"GFA00"}]}],"tray_now":"0"}}}`))

	assert.Equal(t, "yes", a.store.Read("scriptField", ""))
	assert.Equal(t, "1", a.store.Read("activeAmsTray", ""))

	svg, err := os.ReadFile(cfg.Overlay.Output)
	require.NoError(t, err)
	assert.Equal(t, `<svg fill="#FF8800"/>`, string(svg))

	dump, err := os.ReadFile(cfg.Storage.Dump.Path)
	require.NoError(t, err)
	assert.Contains(t, string(dump), `"tray_now":"0"`)
}

func TestReloadSwapsTables(t *testing.T) {
	a, err := newApp(testConfig(t))
	require.NoError(t, err)
	defer a.close()

	next := testConfig(t)
	next.Projector.SpeedLevels = map[string]string{"2": "normal"}
	next.Projector.FanMaxSpeed = 10
	require.NoError(t, a.reload(next))

	a.pipeline().Handle("device/SN/report", []byte(`{"print":{"spd_lvl":2,"cooling_fan_speed":"5"}}`))
	assert.Equal(t, "normal", a.store.Read("printSpeed", ""))
	assert.Equal(t, "50.00", a.store.Read("coolingFanSpeed", ""))
}

func TestSyncTaskRequiresCredentials(t *testing.T) {
	cfg := testConfig(t)
	store, err := openStore(cfg)
	require.NoError(t, err)
	defer store.Close()

	assert.Error(t, syncTask(context.Background(), cfg, store))
}
