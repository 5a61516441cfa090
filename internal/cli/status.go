package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/mailroom/internal/config"
	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/store"
	"github.com/soyeahso/mailroom/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show mailroom status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("mailroom %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Printf("Logs:    %s\n", paths.Logs)
			fmt.Println()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("Config:  not found (using defaults)")
				} else {
					fmt.Printf("Config:  error loading: %v\n", err)
				}
				return nil
			}

			fmt.Printf("Gateway: port=%d bind=%s auth=%s tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)

			model := cfg.Model.Provider + "/" + cfg.Model.Model
			if len(cfg.Model.Fallbacks) > 0 {
				fbs := make([]string, 0, len(cfg.Model.Fallbacks))
				for _, fb := range cfg.Model.Fallbacks {
					fbs = append(fbs, fb.Provider+"/"+fb.Model)
				}
				model += " (fallbacks: " + strings.Join(fbs, ", ") + ")"
			}
			fmt.Printf("Model:   %s\n", model)
			fmt.Printf("Flow:    mode=%s toolset=%s maxSteps=%d\n",
				cfg.Workflow.Mode, cfg.Workflow.Toolset, cfg.Workflow.MaxSteps)
			fmt.Printf("Mailbox: kind=%s poll=%ds\n", cfg.Mailbox.Kind, cfg.Mailbox.PollSeconds)
			fmt.Printf("Queue:   backend=%s workers=%d\n", cfg.Queue.Backend, cfg.Queue.Workers)

			if cfg.Notify.IRC != nil {
				irc := cfg.Notify.IRC
				fmt.Printf("IRC:     server=%s nick=%s channels=%s tls=%v\n",
					irc.Server, irc.Nick, strings.Join(irc.Channels, ","), irc.UseTLS)
			} else {
				fmt.Println("IRC:     (not configured)")
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
				return nil
			}

			printThreadCounts(cmd.Context(), cfg)
			return nil
		},
	}

	return cmd
}

// printThreadCounts reports how many threads sit in each status. Storage
// errors are printed, not returned.
func printThreadCounts(ctx context.Context, cfg config.Config) {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Printf("Storage: backend=%s\n", cfg.Storage.Backend)
	if cfg.Storage.Backend == "memory" {
		return
	}

	b, err := store.OpenBackends(ctx, cfg.Storage, paths, log)
	if err != nil {
		fmt.Printf("Storage: error opening: %v\n", err)
		return
	}
	defer b.Close()

	for _, st := range []domain.Status{domain.StatusAwaitingReview, domain.StatusRunning, domain.StatusCompleted, domain.StatusFailed} {
		threads, err := b.Checkpoints.List(ctx, store.ListFilter{Status: st, Limit: 1000})
		if err != nil {
			fmt.Printf("Threads: error listing: %v\n", err)
			return
		}
		fmt.Printf("Threads: %-16s %d\n", st, len(threads))
	}
}
