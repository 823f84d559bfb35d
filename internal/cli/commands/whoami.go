package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/branchd-dev/authsession/internal/cli/auth"
)

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeEnv, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer closeEnv()
			return runWhoami(cmd.Context(), env)
		},
	}
}

func runWhoami(ctx context.Context, env *commandEnv) error {
	manager := env.newManager(ctx)

	if !manager.IsAuthenticated() {
		if msg := manager.ErrorMessage(); msg != "" {
			// The stored token was rejected and has been cleared
			return fmt.Errorf("%w (%s)", auth.ErrNotAuthenticated, msg)
		}
		return auth.ErrNotAuthenticated
	}

	user := manager.User()
	if user == nil {
		return errors.New("profile response did not include a user")
	}

	fmt.Fprintf(env.out, "Server:   %s (%s)\n", env.server.Alias, env.server.URL)
	fmt.Fprintf(env.out, "ID:       %s\n", user.ID)
	fmt.Fprintf(env.out, "Username: %s\n", user.Username)
	fmt.Fprintf(env.out, "Email:    %s\n", user.Email)
	fmt.Fprintf(env.out, "Verified: %t\n", user.IsVerified)
	if user.CreatedAt != "" {
		fmt.Fprintf(env.out, "Created:  %s\n", user.CreatedAt)
	}

	return nil
}
