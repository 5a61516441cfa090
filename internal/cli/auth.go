package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soyeahso/mailroom/internal/config"
	"github.com/soyeahso/mailroom/internal/mailbox"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to external accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "gmail",
		Short: "Run the Google OAuth flow and cache the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}
			path, err := mailbox.Authorize(context.Background(), cfg.Mailbox.Gmail, paths, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", path)
			return nil
		},
	})
	return cmd
}
