package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lines decodes the JSON log lines written to buf.
func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m), l)
		out = append(out, m)
	}
	return out
}

func TestSubsystemAndThreadFields(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, "debug")

	root.Sub("agent").With("thread", "gmail:17f").Info().Str("node", "triage").Msg("classified")
	root.Sub("jobqueue").Sub("river").Debug().Msg("job done")

	got := lines(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "agent", got[0]["subsystem"])
	assert.Equal(t, "gmail:17f", got[0]["thread"])
	assert.Equal(t, "triage", got[0]["node"])
	assert.Equal(t, "classified", got[0]["message"])
	assert.Contains(t, got[0], "time")
	assert.Equal(t, "river", got[1]["subsystem"], "the innermost subsystem wins")
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{"debug", []string{"debug", "info", "warn", "error"}},
		{"info", []string{"info", "warn", "error"}},
		{"warn", []string{"warn", "error"}},
		{"error", []string{"error"}},
		{"silent", nil},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(&buf, tt.level)
			log.Debug().Msg("d")
			log.Info().Msg("i")
			log.Warn().Msg("w")
			log.Error().Msg("e")

			var levels []string
			for _, l := range lines(t, &buf) {
				levels = append(levels, l["level"].(string))
			}
			assert.Equal(t, tt.want, levels)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		" warn ":  zerolog.WarnLevel,
		"Error":   zerolog.ErrorLevel,
		"fatal":   zerolog.FatalLevel,
		"silent":  zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "%q", in)
	}
}

func TestZerologSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	zl := New(&buf, "info").Sub("store").Zerolog()
	zl.Info().Msg("direct")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "store", got[0]["subsystem"])
}

func TestOpenWithoutFile(t *testing.T) {
	log, closer, err := Open(Options{Level: "silent"})
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.NoError(t, closer.Close())
}

func TestOpenWritesFileRelativeToDir(t *testing.T) {
	dir := t.TempDir()
	log, closer, err := Open(Options{Level: "info", Style: "json", File: "nested/mailroom.log", Dir: dir})
	require.NoError(t, err)

	log.With("thread", "t-9").Info().Msg("to file")
	log.Debug().Msg("filtered")
	require.NoError(t, closer.Close())

	path := filepath.Join(dir, "nested", "mailroom.log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	got := lines(t, bytes.NewBuffer(data))
	require.Len(t, got, 1)
	assert.Equal(t, "to file", got[0]["message"])
	assert.Equal(t, "t-9", got[0]["thread"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpenAppendsAcrossRuns(t *testing.T) {
	file := filepath.Join(t.TempDir(), "mailroom.log")
	for _, msg := range []string{"first", "second"} {
		log, closer, err := Open(Options{Level: "info", Style: "json", File: file})
		require.NoError(t, err)
		log.Info().Msg(msg)
		require.NoError(t, closer.Close())
	}

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	got := lines(t, bytes.NewBuffer(data))
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[1]["message"])
}
