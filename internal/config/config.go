package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: 18790,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Retry: RetryConfig{
				MaxRetries:  4,
				BaseDelayMs: 200,
				MaxDelayMs:  5000,
			},
		},
		Model: ModelConfig{
			Provider:  "claude",
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
		},
		Workflow: WorkflowConfig{
			Mode:     "hitl",
			Toolset:  "default",
			MaxSteps: 100,
		},
		Mailbox: MailboxConfig{
			Kind:     "none",
			MaxFetch: 20,
		},
		Queue: QueueConfig{
			Backend: "pool",
			Workers: 4,
		},
	}
}
