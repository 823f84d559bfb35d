package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/branchd-dev/authsession/internal/cli/commands"
)

var version = "dev" // Will be set during build

// NewRootCmd builds the authsession command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "authsession",
		Short: "authsession - sign in to an authentication API from the terminal",
		Long: `authsession CLI - Manage your session with an authentication API.

Log in, register, recover a password or verify an email address against
any server exposing the /auth/api endpoints. Tokens are kept in the OS
keyring (or Redis) per server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("server", "", "Server alias or URL (defaults to the selected server)")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level for diagnostics written to stderr")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "authsession version %s\n", version)
		},
	})

	rootCmd.AddCommand(commands.NewInitCmd())
	rootCmd.AddCommand(commands.NewSelectServerCmd())
	rootCmd.AddCommand(commands.NewStatusCmd())
	rootCmd.AddCommand(commands.NewLoginCmd())
	rootCmd.AddCommand(commands.NewRegisterCmd())
	rootCmd.AddCommand(commands.NewLogoutCmd())
	rootCmd.AddCommand(commands.NewWhoamiCmd())
	rootCmd.AddCommand(commands.NewForgotPasswordCmd())
	rootCmd.AddCommand(commands.NewVerifyEmailCmd())
	rootCmd.AddCommand(commands.NewResetPasswordCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
