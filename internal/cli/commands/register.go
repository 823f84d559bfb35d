package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/branchd-dev/authsession/internal/cli/client"
)

// NewRegisterCmd creates the register command
func NewRegisterCmd() *cobra.Command {
	var (
		reg    client.Registration
		fields map[string]string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Example: `  $ authsession register --username ada --email ada@example.com
  $ authsession register --username ada --email ada@example.com --field first_name=Ada`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeEnv, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer closeEnv()

			if len(fields) > 0 {
				reg.Extra = make(map[string]any, len(fields))
				for k, v := range fields {
					reg.Extra[k] = v
				}
			}
			return runRegister(cmd.Context(), env, reg)
		},
	}

	cmd.Flags().StringVar(&reg.Username, "username", "", "Username")
	cmd.Flags().StringVar(&reg.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&reg.Password, "password", "", "Password (or set "+envPassword+", will prompt if not provided)")
	cmd.Flags().StringToStringVar(&fields, "field", nil, "Additional registration field as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runRegister(ctx context.Context, env *commandEnv, reg client.Registration) error {
	password, err := resolvePassword(reg.Password, envPassword)
	if err != nil {
		return err
	}
	reg.Password = password

	fmt.Fprintf(env.out, "Registering %s on %s (%s)...\n", reg.Username, env.server.Alias, env.server.URL)

	manager := env.newManager(ctx)
	result := manager.Register(ctx, reg)
	if !result.Success {
		return fmt.Errorf("registration failed: %s", result.Message)
	}

	fmt.Fprintln(env.out, "✓ Registration successful!")
	if result.Message != "" {
		fmt.Fprintf(env.out, "  %s\n", result.Message)
	}
	if user := manager.User(); user != nil {
		fmt.Fprintf(env.out, "  User: %s\n", displayName(user.Username, user.Email))
	}
	fmt.Fprintln(env.out, "  Check your inbox for the verification email.")

	return nil
}
