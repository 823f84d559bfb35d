package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/branchd-dev/authsession/internal/cli/client"
	"github.com/branchd-dev/authsession/internal/cli/userconfig"
)

const (
	envLogin    = "AUTHSESSION_LOGIN"
	envPassword = "AUTHSESSION_PASSWORD"
)

// NewLoginCmd creates the login command
func NewLoginCmd() *cobra.Command {
	var login, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with an authentication server",
		Long: `Authenticate with a username or email address and a password.

The token returned by the server is stored in the configured token store
and sent as a bearer token by every later command. Without --login, the
login last used on the selected server is reused.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeEnv, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer closeEnv()
			return runLogin(cmd.Context(), env, login, password)
		},
	}

	cmd.Flags().StringVar(&login, "login", "", "Username or email address (or set "+envLogin+")")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set "+envPassword+", will prompt if not provided)")

	return cmd
}

func runLogin(ctx context.Context, env *commandEnv, login, password string) error {
	// Check for environment variables (useful for CI/CD)
	if login == "" {
		login = os.Getenv(envLogin)
	}
	if login == "" {
		remembered, err := userconfig.GetLastLogin(env.server.URL)
		if err != nil {
			env.logger.Warn().Err(err).Msg("Failed to read remembered login")
		}
		login = remembered
	}
	if login == "" {
		return fmt.Errorf("login is required (use --login flag or %s env var)", envLogin)
	}

	password, err := resolvePassword(password, envPassword)
	if err != nil {
		return err
	}

	fmt.Fprintf(env.out, "Logging in to %s (%s)...\n", env.server.Alias, env.server.URL)

	manager := env.newManager(ctx)
	result := manager.Login(ctx, client.Credentials{Login: login, Password: password})
	if !result.Success {
		return fmt.Errorf("login failed: %s", result.Message)
	}

	if err := userconfig.SetLastLogin(env.server.URL, login); err != nil {
		env.logger.Warn().Err(err).Msg("Failed to remember login")
	}

	fmt.Fprintln(env.out, "✓ Login successful!")
	if user := manager.User(); user != nil {
		fmt.Fprintf(env.out, "  User: %s\n", displayName(user.Username, user.Email))
		if !user.IsVerified {
			fmt.Fprintln(env.out, "  Email not verified yet. Run 'authsession verify-email <token>' with the token from your inbox.")
		}
	}

	return nil
}
