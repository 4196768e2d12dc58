package reporting

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"", INFO, false},
		{" INFO ", INFO, false},
		{"warning", WARN, false},
		{"error", ERROR, false},
		{"none", SILENT, false},
		{"verbose", INFO, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestConsoleLevels(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(Options{Level: WARN, Console: &buf})
	require.NoError(t, err)

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Success("hidden %d", 3)
	l.Warn("shown %d", 4)
	l.WithModule("watcher").Error("boom")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown 4")
	assert.Contains(t, out, "[ERROR][watcher] boom")
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		json  bool
		check func(t *testing.T, line string)
	}{
		{
			name: "text",
			check: func(t *testing.T, line string) {
				assert.True(t, strings.HasSuffix(line, "[INFO][fetch] fetched 3 pages"), line)
			},
		},
		{
			name: "json",
			json: true,
			check: func(t *testing.T, line string) {
				var entry LogEntry
				require.NoError(t, json.Unmarshal([]byte(line), &entry))
				assert.Equal(t, "INFO", entry.Level)
				assert.Equal(t, "fetch", entry.Module)
				assert.Equal(t, "fetched 3 pages", entry.Message)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".log")
			l, err := NewLogger(Options{Level: INFO, File: path, JSON: tt.json, Console: &bytes.Buffer{}})
			require.NoError(t, err)
			l.WithModule("fetch").Info("fetched %d pages", 3)
			l.Close()

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			tt.check(t, strings.TrimSpace(string(data)))
		})
	}
}

func TestBadLogFile(t *testing.T) {
	_, err := NewLogger(Options{File: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestCallback(t *testing.T) {
	l, err := NewLogger(Options{Level: DEBUG, Console: &bytes.Buffer{}})
	require.NoError(t, err)

	var got []string
	l.SetCallback(func(level LogLevel, msg string) {
		got = append(got, LogLevelNames[level]+":"+msg)
	})
	l.WithModule("x").Debug("one")
	l.Warn("two")
	l.SetCallback(nil)
	l.Info("three")

	assert.Equal(t, []string{"DEBUG:one", "WARN:two"}, got)
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		OrNop(nil).Error("discarded")
		Nop().WithModule("m").Success("discarded")
	})
	var l *Logger
	assert.NotNil(t, OrNop(l))
}
