package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"":        INFO,
		"warning": WARN,
		"Error":   ERROR,
	}
	for in, want := range cases {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(WARN, &buf)

	l.Info("hidden %d", 1)
	l.Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "WARN")
}

func TestLoggerRotatesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	l, err := New(LoggerConfig{Level: DEBUG, FilePath: path, MaxBackups: 1})
	require.NoError(t, err)
	defer l.Close()

	// one byte forces a rotation on every write
	l.maxSize = 1
	l.Info("first")

	matches, err := filepath.Glob(filepath.Join(dir, "app.*.log"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
