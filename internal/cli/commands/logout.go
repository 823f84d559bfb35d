package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeEnv, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer closeEnv()
			return runLogout(cmd.Context(), env)
		},
	}
}

func runLogout(ctx context.Context, env *commandEnv) error {
	stored, err := env.hasStoredToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stored token: %w", err)
	}
	if !stored {
		fmt.Fprintf(env.out, "Not logged in to %s\n", env.server.Alias)
		return nil
	}

	manager := env.newManager(ctx)
	manager.Logout(ctx)

	fmt.Fprintf(env.out, "✓ Logged out from %s (%s)\n", env.server.Alias, env.server.URL)
	return nil
}
