package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "token", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 4, cfg.Storage.Retry.MaxRetries)
	assert.Equal(t, "claude", cfg.Model.Provider)
	assert.Equal(t, "hitl", cfg.Workflow.Mode)
	assert.Equal(t, "default", cfg.Workflow.Toolset)
	assert.Equal(t, 100, cfg.Workflow.MaxSteps)
	assert.Equal(t, "none", cfg.Mailbox.Kind)
	assert.Equal(t, "pool", cfg.Queue.Backend)
	assert.Equal(t, 4, cfg.Queue.Workers)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	// Should return defaults
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
gateway:
  port: 9999
  bind: lan
  auth:
    mode: password
    password: secret123
logging:
  level: debug
  consoleStyle: json
storage:
  backend: postgres
  postgresDsn: postgres://localhost/mailroom
  retry:
    maxRetries: 7
model:
  provider: gemini
  model: gemini-2.5-flash
  temperature: 0.2
  fallbacks:
    - provider: claude
      model: claude-haiku-4-5
workflow:
  mode: direct
  maxSteps: 25
mailbox:
  kind: imap
  imap:
    host: imap.example.com
    username: me@example.com
queue:
  backend: river
  workers: 8
notify:
  irc:
    server: irc.libera.chat
    nick: mailroom
    channels:
      - "#review"
    useTLS: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "password", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "secret123", cfg.Gateway.Auth.Password)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)

	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, 7, cfg.Storage.Retry.MaxRetries)
	assert.Equal(t, 200, cfg.Storage.Retry.BaseDelayMs, "unset retry fields take defaults")

	assert.Equal(t, "gemini", cfg.Model.Provider)
	assert.InDelta(t, 0.2, cfg.Model.Temperature, 1e-9)
	require.Len(t, cfg.Model.Fallbacks, 1)
	assert.Equal(t, "claude-haiku-4-5", cfg.Model.Fallbacks[0].Model)

	assert.Equal(t, "direct", cfg.Workflow.Mode)
	assert.Equal(t, "default", cfg.Workflow.Toolset)
	assert.Equal(t, 25, cfg.Workflow.MaxSteps)

	assert.Equal(t, 993, cfg.Mailbox.IMAP.Port)
	assert.Equal(t, "INBOX", cfg.Mailbox.IMAP.Mailbox)
	assert.Equal(t, 8, cfg.Queue.Workers)

	require.NotNil(t, cfg.Notify.IRC)
	assert.Equal(t, "irc.libera.chat", cfg.Notify.IRC.Server)
	assert.Equal(t, 6697, cfg.Notify.IRC.Port)
	assert.Equal(t, []string{"#review"}, cfg.Notify.IRC.Channels)

	assert.Empty(t, Validate(&cfg))
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAILROOM_GATEWAY_PORT", "12345")
	t.Setenv("MAILROOM_LOG_LEVEL", "TRACE")
	t.Setenv("MAILROOM_STORAGE_BACKEND", "Memory")
	t.Setenv("MAILROOM_MODEL_API_KEY", "sk-test")
	t.Setenv("MAILROOM_WORKFLOW_MODE", "direct")
	t.Setenv("MAILROOM_QUEUE_BACKEND", "River")
	t.Setenv("MAILROOM_MODEL", "")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Gateway.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.Equal(t, "direct", cfg.Workflow.Mode)
	assert.Equal(t, "river", cfg.Queue.Backend)
	assert.Equal(t, Defaults().Model.Model, cfg.Model.Model, "empty variables are ignored")
}

func TestLoadExpandsSecrets(t *testing.T) {
	t.Setenv("TEST_MAILROOM_KEY", "expanded-key")
	t.Setenv("TEST_MAILROOM_DSN", "postgres://db/mr")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
model:
  model: claude-sonnet-4-5
  apiKey: ${TEST_MAILROOM_KEY}
storage:
  postgresDsn: ${TEST_MAILROOM_DSN}
mailbox:
  imap:
    password: ${UNSET_MAILROOM_VAR}
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "expanded-key", cfg.Model.APIKey)
	assert.Equal(t, "postgres://db/mr", cfg.Storage.PostgresDSN)
	assert.Equal(t, "${UNSET_MAILROOM_VAR}", cfg.Mailbox.IMAP.Password, "unset variables are left alone")
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw := map[string]any{
		"gateway": map[string]any{
			"port": 9999,
		},
	}

	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)

	val, ok := GetValueAtPath(loaded, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 9999, val)
}

func TestSaveRawReplacesFileAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway:\n  port: 1\n"), 0o644))

	require.NoError(t, SaveRaw(path, map[string]any{"logging": map[string]any{"level": "debug"}}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	_, ok := GetValueAtPath(raw, []string{"gateway"})
	assert.False(t, ok)
}

func TestLoadRawMissingFile(t *testing.T) {
	raw, err := LoadRaw(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, raw)
}
