package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/mailroom/internal/config"
	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/logging"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"FALSE", false},
		{"42", 42},
		{"0.5", 0.5},
		{"hitl", "hitl"},
		{"007", 7.0},
		{`["#mail", "#ops"]`, []any{"#mail", "#ops"}},
		{"{name: ana, token: t1}", map[string]any{"name": "ana", "token": "t1"}},
		{"[unclosed", "[unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseValue(tt.in))
		})
	}
}

func TestBuildResponse(t *testing.T) {
	r, err := buildResponse("accept", "", "")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictAccept, r.Type)
	assert.Empty(t, r.Args)

	r, err = buildResponse("edit", `{"duration_minutes":30}`, "")
	require.NoError(t, err)
	args, err := r.EditedArgs()
	require.NoError(t, err)
	assert.Equal(t, float64(30), args["duration_minutes"])

	r, err = buildResponse("response", "", "make it shorter")
	require.NoError(t, err)
	assert.Equal(t, "make it shorter", r.Feedback())

	_, err = buildResponse("approve", "", "")
	assert.Error(t, err)
	_, err = buildResponse("edit", "{not json", "")
	assert.Error(t, err)
	_, err = buildResponse("response", `"a"`, "b")
	assert.Error(t, err)
}

func TestReadEmail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "email.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"m-1","from":"alice@example.com","subject":"Lunch","body":"noon?"}`), 0o600))

	e, err := readEmail(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "m-1", e.ID)
	assert.Equal(t, "Lunch", e.Subject)

	e, err = readEmail("-", strings.NewReader(`{"from":"bob@example.com","body":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", e.From)

	_, err = readEmail("-", strings.NewReader(`{"subject":"no sender"}`))
	assert.Error(t, err)
	_, err = readEmail("-", strings.NewReader(`not json`))
	assert.Error(t, err)
	_, err = readEmail(filepath.Join(dir, "missing.json"), nil)
	assert.Error(t, err)
}

func TestRedact(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.Auth.Token = "secret-token"
	cfg.Model.APIKey = "sk-123"
	cfg.Model.Fallbacks = []config.ModelRef{{Provider: "gemini", Model: "g", APIKey: "fb-key"}}
	cfg.Notify.IRC = &config.IRCConfig{Server: "irc", Nick: "bot", Password: "pw"}

	out := redact(cfg)
	assert.Equal(t, "********", out.Gateway.Auth.Token)
	assert.Equal(t, "********", out.Model.APIKey)
	assert.Equal(t, "********", out.Model.Fallbacks[0].APIKey)
	assert.Equal(t, "********", out.Notify.IRC.Password)
	assert.Empty(t, out.Gateway.Auth.Password, "empty secrets stay empty")

	// The input is untouched.
	assert.Equal(t, "fb-key", cfg.Model.Fallbacks[0].APIKey)
	assert.Equal(t, "pw", cfg.Notify.IRC.Password)
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"serve"}, {"run"}, {"resume"}, {"poll"}, {"status"}, {"version"},
		{"threads", "list"}, {"threads", "show"}, {"threads", "interrupt"}, {"threads", "continue"},
		{"memory", "show"}, {"memory", "reset"},
		{"config", "show"}, {"config", "validate"}, {"config", "path"},
		{"auth", "gmail"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestSaveRawRefusesInvalidConfig(t *testing.T) {
	oldLog, oldPaths := log, paths
	t.Cleanup(func() { log, paths = oldLog, oldPaths })

	t.Setenv("MAILROOM_HOME", t.TempDir())
	t.Setenv("MAILROOM_CONFIG", "")
	var err error
	paths, err = config.ResolvePaths()
	require.NoError(t, err)
	log = logging.New(nil, "silent")

	bad := map[string]any{"workflow": map[string]any{"mode": "bogus"}}
	err = saveRaw(bad, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
	assert.NoFileExists(t, paths.Config)

	require.NoError(t, saveRaw(bad, true))
	raw, err := config.LoadRaw(paths.Config)
	require.NoError(t, err)
	got, ok := config.GetValueAtPath(raw, []string{"workflow", "mode"})
	require.True(t, ok)
	assert.Equal(t, "bogus", got)

	good := map[string]any{"workflow": map[string]any{"mode": "direct"}}
	require.NoError(t, saveRaw(good, false))
}
