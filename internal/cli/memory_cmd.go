package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soyeahso/mailroom/internal/agent"
	"github.com/soyeahso/mailroom/internal/domain"
)

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or reset learned preferences",
	}

	cmd.AddCommand(newMemoryShowCmd())
	cmd.AddCommand(newMemoryResetCmd())
	return cmd
}

func newMemoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [category]",
		Short: "Print preference records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			return withApp(ctx, func(a *app) error {
				mem := a.backends.Memory
				if len(args) == 1 {
					c, err := domain.ParseCategory(args[0])
					if err != nil {
						return err
					}
					text, err := mem.Get(ctx, domain.NS(c), agent.DefaultPreferences(c))
					if err != nil {
						return err
					}
					fmt.Println(text)
					return nil
				}

				records, err := mem.List(ctx)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Println("no preferences stored yet")
					return nil
				}
				for i, rec := range records {
					if i > 0 {
						fmt.Println()
					}
					fmt.Printf("== %s (updated %s)\n%s\n", rec.Namespace, rec.UpdatedAt.Local().Format("2006-01-02 15:04"), rec.Text)
				}
				return nil
			})
		},
	}
}

func newMemoryResetCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reset [category]",
		Short: "Forget a preference category so it starts again from the defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var categories []domain.Category
			switch {
			case all && len(args) == 0:
				categories = domain.Categories
			case !all && len(args) == 1:
				c, err := domain.ParseCategory(args[0])
				if err != nil {
					return err
				}
				categories = []domain.Category{c}
			default:
				return fmt.Errorf("name one category or pass --all")
			}

			ctx := context.Background()
			return withApp(ctx, func(a *app) error {
				for _, c := range categories {
					if err := a.backends.Memory.Delete(ctx, domain.NS(c)); err != nil {
						return fmt.Errorf("resetting %s: %w", c, err)
					}
					fmt.Printf("Reset %s\n", domain.NS(c))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "reset every category")
	return cmd
}
