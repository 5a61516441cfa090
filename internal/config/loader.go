package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references. References to unset variables
// stay as written so a missing secret is visible in validation output.
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		if val, ok := os.LookupEnv(ref[2 : len(ref)-1]); ok {
			return val
		}
		return ref
	})
}

// secrets returns the credential fields that may hold ${VAR} references.
func (c *Config) secrets() []*string {
	out := []*string{
		&c.Gateway.Auth.Token,
		&c.Gateway.Auth.Password,
		&c.Storage.PostgresDSN,
		&c.Model.APIKey,
		&c.Mailbox.IMAP.Password,
	}
	for i := range c.Gateway.Auth.Reviewers {
		out = append(out, &c.Gateway.Auth.Reviewers[i].Token)
	}
	for i := range c.Model.Fallbacks {
		out = append(out, &c.Model.Fallbacks[i].APIKey)
	}
	if c.Notify.IRC != nil {
		out = append(out, &c.Notify.IRC.Password)
	}
	return out
}

// Load reads the config file at path. A missing file yields the defaults
// with environment overrides applied.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := Defaults()
		applyEnvOverrides(&cfg)
		return cfg, nil
	}
	if err != nil {
		return Defaults(), err
	}
	return Parse(data)
}

// Parse decodes a YAML document over the defaults, then applies
// environment overrides and expands secret references.
func Parse(data []byte) (Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	for _, s := range cfg.secrets() {
		*s = expandEnv(*s)
	}
	return cfg, nil
}

// FromRaw decodes a document edited through the path helpers.
func FromRaw(raw map[string]any) (Config, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return Defaults(), &ConfigError{Message: "failed to encode config: " + err.Error()}
	}
	return Parse(data)
}

// LoadRaw reads the config file as a generic document. A missing file is
// an empty document.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	return raw, nil
}

// SaveRaw writes raw to path through a temporary file in the same
// directory, so a crash never leaves a truncated config behind.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func orDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

// applyDefaults fills fields a partial document left at their zero value.
func applyDefaults(cfg *Config) {
	def := Defaults()
	orDefault(&cfg.Gateway.Port, def.Gateway.Port)
	orDefault(&cfg.Gateway.Bind, def.Gateway.Bind)
	orDefault(&cfg.Gateway.Auth.Mode, def.Gateway.Auth.Mode)
	orDefault(&cfg.Logging.Level, def.Logging.Level)
	orDefault(&cfg.Logging.ConsoleStyle, def.Logging.ConsoleStyle)
	orDefault(&cfg.Storage.Backend, def.Storage.Backend)
	orDefault(&cfg.Storage.Retry.MaxRetries, def.Storage.Retry.MaxRetries)
	orDefault(&cfg.Storage.Retry.BaseDelayMs, def.Storage.Retry.BaseDelayMs)
	orDefault(&cfg.Storage.Retry.MaxDelayMs, def.Storage.Retry.MaxDelayMs)
	orDefault(&cfg.Model.Provider, def.Model.Provider)
	orDefault(&cfg.Model.MaxTokens, def.Model.MaxTokens)
	orDefault(&cfg.Workflow.Mode, def.Workflow.Mode)
	orDefault(&cfg.Workflow.Toolset, def.Workflow.Toolset)
	orDefault(&cfg.Workflow.MaxSteps, def.Workflow.MaxSteps)
	orDefault(&cfg.Mailbox.Kind, def.Mailbox.Kind)
	orDefault(&cfg.Mailbox.MaxFetch, def.Mailbox.MaxFetch)
	orDefault(&cfg.Mailbox.IMAP.Port, 993)
	orDefault(&cfg.Mailbox.IMAP.Mailbox, "INBOX")
	orDefault(&cfg.Queue.Backend, def.Queue.Backend)
	orDefault(&cfg.Queue.Workers, def.Queue.Workers)
	if irc := cfg.Notify.IRC; irc != nil {
		port := 6667
		if irc.UseTLS {
			port = 6697
		}
		orDefault(&irc.Port, port)
	}
}

// envOverrides maps MAILROOM_* variables onto config fields. Enum-like
// values are lower-cased.
var envOverrides = []struct {
	name  string
	apply func(cfg *Config, v string)
}{
	{"MAILROOM_GATEWAY_PORT", func(cfg *Config, v string) {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}},
	{"MAILROOM_GATEWAY_TOKEN", func(cfg *Config, v string) { cfg.Gateway.Auth.Token = v }},
	{"MAILROOM_LOG_LEVEL", func(cfg *Config, v string) { cfg.Logging.Level = strings.ToLower(v) }},
	{"MAILROOM_STORAGE_BACKEND", func(cfg *Config, v string) { cfg.Storage.Backend = strings.ToLower(v) }},
	{"MAILROOM_POSTGRES_DSN", func(cfg *Config, v string) { cfg.Storage.PostgresDSN = v }},
	{"MAILROOM_MODEL_PROVIDER", func(cfg *Config, v string) { cfg.Model.Provider = strings.ToLower(v) }},
	{"MAILROOM_MODEL", func(cfg *Config, v string) { cfg.Model.Model = v }},
	{"MAILROOM_MODEL_API_KEY", func(cfg *Config, v string) { cfg.Model.APIKey = v }},
	{"MAILROOM_WORKFLOW_MODE", func(cfg *Config, v string) { cfg.Workflow.Mode = strings.ToLower(v) }},
	{"MAILROOM_QUEUE_BACKEND", func(cfg *Config, v string) { cfg.Queue.Backend = strings.ToLower(v) }},
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}
