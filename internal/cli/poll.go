package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/mailroom/internal/jobqueue"
)

func newPollCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Fetch unread mail once and run it through the worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(a *app) error {
				if a.mailbox == nil {
					return errors.New("no mailbox configured (mailbox.kind)")
				}
				if limit <= 0 {
					limit = a.cfg.Mailbox.MaxFetch
				}

				emails, err := a.mailbox.Fetch(ctx, limit)
				if err != nil {
					return fmt.Errorf("fetching from %s: %w", a.mailbox.Name(), err)
				}
				if len(emails) == 0 {
					fmt.Println("no unread mail")
					return nil
				}

				results, err := jobqueue.NewPool(a.runner, a.cfg.Queue.Workers, log).Process(ctx, emails)
				for _, r := range results {
					switch {
					case r.Err != nil:
						fmt.Printf("%-40s error: %v\n", r.Email.Subject, r.Err)
					case r.Outcome != nil:
						fmt.Printf("%-40s %s %s %s\n", r.Email.Subject, r.Outcome.ThreadID, r.Outcome.Status, r.Outcome.Classification)
					}
				}
				return err
			})
		},
	}

	cmd.Flags().IntVar(&limit, "max", 0, "maximum messages to fetch (default mailbox.maxFetch)")
	return cmd
}
