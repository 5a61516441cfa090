package config

// Config is the root configuration for mailroom.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
	Storage  StorageConfig  `yaml:"storage,omitempty"`
	Model    ModelConfig    `yaml:"model,omitempty"`
	Workflow WorkflowConfig `yaml:"workflow,omitempty"`
	Mailbox  MailboxConfig  `yaml:"mailbox,omitempty"`
	Queue    QueueConfig    `yaml:"queue,omitempty"`
	Notify   NotifyConfig   `yaml:"notify,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"` // browser origins for CORS and /ws
}

// GatewayTLS enables TLS on the gateway listener.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`

	// Reviewers get their own tokens so verdicts are attributed to a name.
	// They are accepted in either mode.
	Reviewers []ReviewerCredential `yaml:"reviewers,omitempty"`
}

// ReviewerCredential is a named reviewer token.
type ReviewerCredential struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// StorageConfig selects the checkpoint and memory backend.
type StorageConfig struct {
	Backend     string      `yaml:"backend,omitempty"` // "memory" | "sqlite" | "postgres"
	SQLitePath  string      `yaml:"sqlitePath,omitempty"`
	PostgresDSN string      `yaml:"postgresDsn,omitempty"`
	Retry       RetryConfig `yaml:"retry,omitempty"`
}

// RetryConfig tunes backoff for persistence calls.
type RetryConfig struct {
	MaxRetries  int `yaml:"maxRetries,omitempty"`
	BaseDelayMs int `yaml:"baseDelayMs,omitempty"`
	MaxDelayMs  int `yaml:"maxDelayMs,omitempty"`
}

// ModelConfig selects the primary model and its fallbacks.
type ModelConfig struct {
	Provider          string     `yaml:"provider,omitempty"` // "claude" | "gemini"
	Model             string     `yaml:"model,omitempty"`
	APIKey            string     `yaml:"apiKey,omitempty"`
	Temperature       float64    `yaml:"temperature,omitempty"`
	MaxTokens         int        `yaml:"maxTokens,omitempty"`
	RequestsPerSecond float64    `yaml:"requestsPerSecond,omitempty"` // 0 disables throttling
	Burst             int        `yaml:"burst,omitempty"`
	Fallbacks         []ModelRef `yaml:"fallbacks,omitempty"`
}

// ModelRef names one fallback model.
type ModelRef struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"apiKey,omitempty"`
}

// WorkflowConfig controls the triage/response workflow.
type WorkflowConfig struct {
	Mode     string `yaml:"mode,omitempty"`    // "hitl" | "direct"
	Toolset  string `yaml:"toolset,omitempty"` // "default" | "gmail"
	MaxSteps int    `yaml:"maxSteps,omitempty"`
}

// MailboxConfig selects the inbound mail source.
type MailboxConfig struct {
	Kind        string      `yaml:"kind,omitempty"` // "none" | "gmail" | "imap"
	MaxFetch    int         `yaml:"maxFetch,omitempty"`
	PollSeconds int         `yaml:"pollSeconds,omitempty"` // 0 disables polling under serve
	Gmail       GmailConfig `yaml:"gmail,omitempty"`
	IMAP        IMAPConfig  `yaml:"imap,omitempty"`
}

// GmailConfig points at OAuth client credentials and the cached token.
type GmailConfig struct {
	CredentialsFile string `yaml:"credentialsFile,omitempty"`
	TokenFile       string `yaml:"tokenFile,omitempty"`
	Query           string `yaml:"query,omitempty"`
	Calendar        string `yaml:"calendar,omitempty"` // calendar id for the gmail toolset
}

// IMAPConfig defines an IMAP mailbox.
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`
	Mailbox  string `yaml:"mailbox,omitempty"`
}

// QueueConfig selects how batches of inbound mail are processed.
type QueueConfig struct {
	Backend string `yaml:"backend,omitempty"` // "pool" | "river"
	Workers int    `yaml:"workers,omitempty"`
}

// NotifyConfig configures reviewer notifications.
type NotifyConfig struct {
	IRC *IRCConfig `yaml:"irc,omitempty"`
}

// IRCConfig defines the IRC review channel.
type IRCConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port,omitempty"`
	Nick     string   `yaml:"nick"`
	Password string   `yaml:"password,omitempty"`
	Channels []string `yaml:"channels"`
	UseTLS   bool     `yaml:"useTLS,omitempty"`
	SASL     bool     `yaml:"sasl,omitempty"`
	Owner    string   `yaml:"owner,omitempty"` // only this nick may issue verdicts; empty allows anyone
}
