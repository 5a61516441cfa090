package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/store"
)

func newThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect workflow threads",
	}

	cmd.AddCommand(newThreadsListCmd())
	cmd.AddCommand(newThreadsShowCmd())
	cmd.AddCommand(newThreadsInterruptCmd())
	cmd.AddCommand(newThreadsContinueCmd())
	return cmd
}

func newThreadsListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List threads, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.ListFilter{Status: domain.Status(status), Limit: limit}
			switch filter.Status {
			case "", domain.StatusRunning, domain.StatusAwaitingReview, domain.StatusCompleted, domain.StatusFailed:
			default:
				return fmt.Errorf("unknown status %q", status)
			}

			ctx := context.Background()
			return withApp(ctx, func(a *app) error {
				threads, err := a.runner.List(ctx, filter)
				if err != nil {
					return err
				}
				if len(threads) == 0 {
					fmt.Println("no threads")
					return nil
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "THREAD\tSTATUS\tCLASS\tFROM\tSUBJECT\tUPDATED")
				for _, t := range threads {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						t.ThreadID, t.Status, t.Classification, t.From, t.Subject,
						t.UpdatedAt.Local().Format(time.DateTime))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only threads with this status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum threads to list")
	return cmd
}

func newThreadsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <thread>",
		Short: "Print the full state of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return withApp(ctx, func(a *app) error {
				st, err := a.runner.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(st)
			})
		},
	}
}

func newThreadsInterruptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interrupt <thread>",
		Short: "Print the review request a thread is waiting on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return withApp(ctx, func(a *app) error {
				req, err := a.runner.Interrupt(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(req)
			})
		},
	}
}

func newThreadsContinueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "continue <thread>",
		Short: "Re-drive a thread whose last run stopped mid-step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return withApp(ctx, func(a *app) error {
				return printOutcome(a.runner.Continue(ctx, args[0]))
			})
		},
	}
}
