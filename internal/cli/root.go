package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/soyeahso/mailroom/internal/config"
	"github.com/soyeahso/mailroom/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths   config.Paths
	log     *logging.Logger
	logFile io.Closer
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mailroom",
		Short: "mailroom, an email assistant with human review",
		Long: "mailroom triages inbound email, drafts responses and meeting invites " +
			"with an LLM, and waits for a reviewer before anything leaves the building.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}

			// A broken config file must not keep `config validate` from
			// running; the logger falls back to stderr at the flag level.
			opts := logging.Options{Level: logLevel, Dir: paths.Logs}
			if cfg, err := config.Load(paths.Config); err == nil {
				opts.Style = cfg.Logging.ConsoleStyle
				opts.File = cfg.Logging.File
				if opts.Level == "" {
					opts.Level = cfg.Logging.Level
				}
			}
			log, logFile, err = logging.Open(opts)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logFile != nil {
				return logFile.Close()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.mailroom/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newThreadsCmd())
	cmd.AddCommand(newMemoryCmd())
	cmd.AddCommand(newPollCmd())
	cmd.AddCommand(newAuthCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
