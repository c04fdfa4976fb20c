package transformer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddielth/bambu-status/config"
)

type mapStore map[string]interface{}

func (m mapStore) Write(name string, value interface{}) error {
	if name == "broken" {
		return errors.New("nope")
	}
	m[name] = value
	return nil
}

const nozzleF = `
function transform(payload) {
	var msg = parseJSON(payload);
	if (!msg || !msg.print || msg.print.nozzle_temper === undefined) {
		return null;
	}
	return {
		nozzleTemperatureF: convertTemperature(msg.print.nozzle_temper, "C", "F"),
		remainingShort: formatRemaining(msg.print.mc_remaining_time || 0),
		broken: 1
	};
}
`

func TestApplyWritesScriptFields(t *testing.T) {
	m, err := NewManager(map[string]config.Script{"nozzle": {ScriptCode: nozzleF}})
	require.NoError(t, err)

	store := mapStore{}
	m.Apply([]byte(`{"print":{"nozzle_temper":100,"mc_remaining_time":61}}`), store)

	assert.InDelta(t, 212.0, store["nozzleTemperatureF"], 0.0001)
	assert.Equal(t, "-1h1m", store["remainingShort"])
	assert.NotContains(t, store, "broken")

	store = mapStore{}
	m.Apply([]byte(`{"info":{}}`), store)
	assert.Empty(t, store)
}

func TestScriptErrorsAreIsolated(t *testing.T) {
	m, err := NewManager(map[string]config.Script{
		"a_throws": {ScriptCode: `function transform(p) { throw new Error("boom"); }`},
		"b_array":  {ScriptCode: `function transform(p) { return [1, 2]; }`},
		"c_ok":     {ScriptCode: `function transform(p) { return {scriptOk: "yes"}; }`},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a_throws", "b_array", "c_ok"}, m.Names())

	store := mapStore{}
	m.Apply([]byte(`{}`), store)
	assert.Equal(t, mapStore{"scriptOk": "yes"}, store)
}

func TestNewManagerRejectsBadScripts(t *testing.T) {
	_, err := NewManager(map[string]config.Script{"x": {ScriptCode: `var transform = 1;`}})
	assert.Error(t, err)

	_, err = NewManager(map[string]config.Script{"x": {ScriptCode: `function nope() {}`}})
	assert.Error(t, err)

	_, err = NewManager(map[string]config.Script{"x": {ScriptCode: `function (`}})
	assert.Error(t, err)

	_, err = NewManager(map[string]config.Script{"x": {}})
	assert.Error(t, err)
}

func TestScriptFromFileAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.js")
	require.NoError(t, os.WriteFile(path, []byte(`function transform(p) { return {v: formatDuration(3725)}; }`), 0644))

	m, err := NewManager(map[string]config.Script{"file": {ScriptPath: path}})
	require.NoError(t, err)

	store := mapStore{}
	m.Apply([]byte(`{}`), store)
	assert.Equal(t, "1:02:05", store["v"])

	// a broken reload keeps the previous set
	err = m.Reload(map[string]config.Script{"file": {ScriptCode: `broken(`}})
	assert.Error(t, err)
	assert.Equal(t, []string{"file"}, m.Names())

	require.NoError(t, m.Reload(map[string]config.Script{}))
	assert.Empty(t, m.Names())
}

func TestConvertTemperature(t *testing.T) {
	assert.InDelta(t, 32.0, convertTemperature(0, "c", "f"), 1e-9)
	assert.InDelta(t, 0.0, convertTemperature(273.15, "K", "C"), 1e-9)
	assert.InDelta(t, 100.0, convertTemperature(212, "F", "C"), 1e-9)
	assert.Equal(t, 5.0, convertTemperature(5, "X", "C"))
}
