package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewForgotPasswordCmd creates the forgot-password command
func NewForgotPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forgot-password <email>",
		Short: "Request a password recovery email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeEnv, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer closeEnv()
			return runForgotPassword(cmd.Context(), env, args[0])
		},
	}
}

func runForgotPassword(ctx context.Context, env *commandEnv, email string) error {
	result := env.newManager(ctx).ForgotPassword(ctx, email)
	if !result.Success {
		return fmt.Errorf("password recovery failed: %s", result.Message)
	}

	fmt.Fprintf(env.out, "✓ %s\n", orDefault(result.Message, "Recovery email sent"))
	fmt.Fprintln(env.out, "  Then run 'authsession reset-password <token>' with the token from the email.")
	return nil
}

// NewVerifyEmailCmd creates the verify-email command
func NewVerifyEmailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-email <token>",
		Short: "Confirm an email address with the token from the verification email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeEnv, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer closeEnv()
			return runVerifyEmail(cmd.Context(), env, args[0])
		},
	}
}

func runVerifyEmail(ctx context.Context, env *commandEnv, token string) error {
	result := env.newManager(ctx).VerifyEmail(ctx, token)
	if !result.Success {
		return fmt.Errorf("email verification failed: %s", result.Message)
	}

	fmt.Fprintf(env.out, "✓ %s\n", orDefault(result.Message, "Email verified"))
	return nil
}

// NewResetPasswordCmd creates the reset-password command
func NewResetPasswordCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "reset-password <token>",
		Short: "Choose a new password with the token from the recovery email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeEnv, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer closeEnv()
			return runResetPassword(cmd.Context(), env, args[0], password)
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "New password (or set "+envPassword+", will prompt if not provided)")

	return cmd
}

func runResetPassword(ctx context.Context, env *commandEnv, token, password string) error {
	password, err := resolvePassword(password, envPassword)
	if err != nil {
		return err
	}

	result := env.newManager(ctx).ResetPassword(ctx, token, password)
	if !result.Success {
		return fmt.Errorf("password reset failed: %s", result.Message)
	}

	fmt.Fprintf(env.out, "✓ %s\n", orDefault(result.Message, "Password updated"))
	fmt.Fprintln(env.out, "  Run 'authsession login' to sign in with the new password.")
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
