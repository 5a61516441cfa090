package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soyeahso/mailroom/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show, validate, get or set configuration values",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigUnsetCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if raw {
				m, err := config.LoadRaw(paths.Config)
				if err != nil {
					return err
				}
				return printValue(m)
			}

			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(redact(cfg))
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the file as written, without defaults")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			issues := config.Validate(&cfg)
			if len(issues) == 0 {
				fmt.Printf("%s: ok\n", paths.Config)
				return nil
			}
			for _, issue := range issues {
				fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
			}
			return fmt.Errorf("%d validation issue(s)", len(issues))
		},
	}
}

// redact masks secrets in a copy of cfg.
func redact(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&cfg.Gateway.Auth.Token)
	mask(&cfg.Gateway.Auth.Password)
	mask(&cfg.Model.APIKey)
	mask(&cfg.Storage.PostgresDSN)
	mask(&cfg.Mailbox.IMAP.Password)

	fallbacks := make([]config.ModelRef, len(cfg.Model.Fallbacks))
	copy(fallbacks, cfg.Model.Fallbacks)
	for i := range fallbacks {
		mask(&fallbacks[i].APIKey)
	}
	cfg.Model.Fallbacks = fallbacks

	if cfg.Notify.IRC != nil {
		irc := *cfg.Notify.IRC
		mask(&irc.Password)
		cfg.Notify.IRC = &irc
	}
	return cfg
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <key>",
		Short:   "Print one value from the config file",
		Example: "  mailroom config get gateway.auth.reviewers.0.name",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, path, err := openRaw(args[0])
			if err != nil {
				return err
			}
			val, ok := config.GetValueAtPath(raw, path)
			if !ok {
				return fmt.Errorf("key %q not found", args[0])
			}
			return printValue(val)
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Set a value in the config file",
		Example: "  mailroom config set workflow.mode auto\n  mailroom config set notify.irc.channels '[\"#mail\"]'",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, path, err := openRaw(args[0])
			if err != nil {
				return err
			}
			value := parseValue(args[1])
			if err := config.SetValueAtPath(raw, path, value); err != nil {
				return err
			}
			if err := saveRaw(raw, force); err != nil {
				return err
			}
			fmt.Printf("Set %s = %v\n", args[0], value)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "write the change even if the result does not validate")
	return cmd
}

func newConfigUnsetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a value from the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, path, err := openRaw(args[0])
			if err != nil {
				return err
			}
			if !config.UnsetValueAtPath(raw, path) {
				return fmt.Errorf("key %q not found", args[0])
			}
			if err := saveRaw(raw, force); err != nil {
				return err
			}
			fmt.Printf("Unset %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "write the change even if the result does not validate")
	return cmd
}

// openRaw parses key and loads the config file as a document.
func openRaw(key string) (map[string]any, []string, error) {
	path, err := config.ParseConfigPath(key)
	if err != nil {
		return nil, nil, err
	}
	raw, err := config.LoadRaw(paths.Config)
	if err != nil {
		return nil, nil, err
	}
	return raw, path, nil
}

// saveRaw validates an edited document and writes it back. Without force
// an edit that leaves the config invalid is refused.
func saveRaw(raw map[string]any, force bool) error {
	cfg, err := config.FromRaw(raw)
	if err != nil {
		return err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "  - %s: %s\n", issue.Path, issue.Message)
		}
		if !force {
			return fmt.Errorf("refusing to write an invalid config (%d issue(s)); use --force to override", len(issues))
		}
		log.Warn().Int("issues", len(issues)).Msg("writing config that does not validate")
	}
	if err := paths.EnsureDirs(); err != nil {
		return err
	}
	return config.SaveRaw(paths.Config, raw)
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(paths.Config)
		},
	}
}

// printValue prints scalars bare and documents as YAML.
func printValue(v any) error {
	switch val := v.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(val)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	default:
		fmt.Println(val)
	}
	return nil
}

// parseValue types a command-line value: booleans, integers, floats and
// JSON or YAML flow lists and maps. Anything else stays a string.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil && strconv.Itoa(n) == s {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if t := strings.TrimSpace(s); strings.HasPrefix(t, "[") || strings.HasPrefix(t, "{") {
		var doc any
		if err := yaml.Unmarshal([]byte(t), &doc); err == nil {
			return doc
		}
	}
	return s
}
