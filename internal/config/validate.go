package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// oneOf appends an issue when value is set and not in allowed.
func oneOf(issues []ValidationIssue, path, value string, allowed []string) []ValidationIssue {
	if value != "" && !slices.Contains(allowed, value) {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Message: fmt.Sprintf("must be one of %v, got %q", allowed, value),
		})
	}
	return issues
}

func validPort(issues []ValidationIssue, path string, port int) []ValidationIssue {
	if port < 0 || port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Message: fmt.Sprintf("port must be 0-65535, got %d", port),
		})
	}
	return issues
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Gateway validation
	issues = validPort(issues, "gateway.port", cfg.Gateway.Port)
	issues = oneOf(issues, "gateway.bind", cfg.Gateway.Bind, []string{"loopback", "lan", "custom"})
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{Path: "gateway.customBindHost", Message: "required when bind is custom"})
	}
	issues = oneOf(issues, "gateway.auth.mode", cfg.Gateway.Auth.Mode, []string{"token", "password"})
	seen := make(map[string]bool)
	for i, r := range cfg.Gateway.Auth.Reviewers {
		path := fmt.Sprintf("gateway.auth.reviewers[%d]", i)
		switch {
		case r.Name == "" || r.Token == "":
			issues = append(issues, ValidationIssue{Path: path, Message: "name and token are required"})
		case seen[r.Name]:
			issues = append(issues, ValidationIssue{Path: path, Message: "duplicate reviewer " + r.Name})
		}
		seen[r.Name] = true
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		issues = append(issues, ValidationIssue{Path: "gateway.tls", Message: "certPath and keyPath are required when TLS is enabled"})
	}

	// Logging validation
	issues = oneOf(issues, "logging.level", cfg.Logging.Level,
		[]string{"silent", "fatal", "error", "warn", "info", "debug", "trace"})
	issues = oneOf(issues, "logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "json"})

	// Storage validation
	issues = oneOf(issues, "storage.backend", cfg.Storage.Backend, []string{"memory", "sqlite", "postgres"})
	if cfg.Storage.Backend == "postgres" && cfg.Storage.PostgresDSN == "" {
		issues = append(issues, ValidationIssue{Path: "storage.postgresDsn", Message: "required when backend is postgres"})
	}
	if cfg.Storage.Retry.MaxRetries < 0 {
		issues = append(issues, ValidationIssue{Path: "storage.retry.maxRetries", Message: "must not be negative"})
	}
	if cfg.Storage.Retry.MaxDelayMs < cfg.Storage.Retry.BaseDelayMs {
		issues = append(issues, ValidationIssue{Path: "storage.retry.maxDelayMs", Message: "must be at least baseDelayMs"})
	}

	// Model validation
	providers := []string{"claude", "gemini"}
	if cfg.Model.Provider == "" {
		issues = append(issues, ValidationIssue{Path: "model.provider", Message: "provider is required"})
	}
	issues = oneOf(issues, "model.provider", cfg.Model.Provider, providers)
	if cfg.Model.Model == "" {
		issues = append(issues, ValidationIssue{Path: "model.model", Message: "model is required"})
	}
	if cfg.Model.Temperature < 0 || cfg.Model.Temperature > 2 {
		issues = append(issues, ValidationIssue{
			Path:    "model.temperature",
			Message: fmt.Sprintf("must be 0-2, got %v", cfg.Model.Temperature),
		})
	}
	if cfg.Model.RequestsPerSecond < 0 {
		issues = append(issues, ValidationIssue{Path: "model.requestsPerSecond", Message: "must not be negative"})
	}
	for i, fb := range cfg.Model.Fallbacks {
		path := fmt.Sprintf("model.fallbacks[%d]", i)
		issues = oneOf(issues, path+".provider", fb.Provider, providers)
		if fb.Provider == "" || fb.Model == "" {
			issues = append(issues, ValidationIssue{Path: path, Message: "provider and model are required"})
		}
	}

	// Workflow validation
	issues = oneOf(issues, "workflow.mode", cfg.Workflow.Mode, []string{"hitl", "direct"})
	issues = oneOf(issues, "workflow.toolset", cfg.Workflow.Toolset, []string{"default", "gmail"})
	if cfg.Workflow.MaxSteps < 0 {
		issues = append(issues, ValidationIssue{Path: "workflow.maxSteps", Message: "must not be negative"})
	}
	if cfg.Workflow.Toolset == "gmail" && cfg.Mailbox.Gmail.CredentialsFile == "" {
		issues = append(issues, ValidationIssue{
			Path:    "mailbox.gmail.credentialsFile",
			Message: "required by the gmail toolset",
		})
	}

	// Mailbox validation
	issues = oneOf(issues, "mailbox.kind", cfg.Mailbox.Kind, []string{"none", "gmail", "imap"})
	switch cfg.Mailbox.Kind {
	case "gmail":
		if cfg.Mailbox.Gmail.CredentialsFile == "" {
			issues = append(issues, ValidationIssue{Path: "mailbox.gmail.credentialsFile", Message: "required for gmail"})
		}
	case "imap":
		if cfg.Mailbox.IMAP.Host == "" {
			issues = append(issues, ValidationIssue{Path: "mailbox.imap.host", Message: "host is required"})
		}
		if cfg.Mailbox.IMAP.Username == "" {
			issues = append(issues, ValidationIssue{Path: "mailbox.imap.username", Message: "username is required"})
		}
		issues = validPort(issues, "mailbox.imap.port", cfg.Mailbox.IMAP.Port)
	}

	// Queue validation
	issues = oneOf(issues, "queue.backend", cfg.Queue.Backend, []string{"pool", "river"})
	if cfg.Queue.Workers < 0 {
		issues = append(issues, ValidationIssue{Path: "queue.workers", Message: "must not be negative"})
	}
	if cfg.Queue.Backend == "river" && cfg.Storage.PostgresDSN == "" {
		issues = append(issues, ValidationIssue{Path: "queue.backend", Message: "river requires storage.postgresDsn"})
	}

	// IRC validation (only if configured)
	if irc := cfg.Notify.IRC; irc != nil {
		if irc.Server == "" {
			issues = append(issues, ValidationIssue{Path: "notify.irc.server", Message: "server is required"})
		}
		if irc.Nick == "" {
			issues = append(issues, ValidationIssue{Path: "notify.irc.nick", Message: "nick is required"})
		}
		issues = validPort(issues, "notify.irc.port", irc.Port)
		if irc.SASL && irc.Password == "" {
			issues = append(issues, ValidationIssue{Path: "notify.irc.sasl", Message: "SASL requires a password to be set"})
		}
	}

	return issues
}
