package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/branchd-dev/authsession/internal/cli/auth"
	"github.com/branchd-dev/authsession/internal/cli/userconfig"
)

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configured servers and which ones hold a stored token",
		Long: `Show configured servers and which ones hold a stored token.

No request is sent; use 'authsession whoami' to check the token with the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, closeEnv, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer closeEnv()
			return runStatus(cmd.Context(), env)
		},
	}
}

func runStatus(ctx context.Context, env *commandEnv) error {
	selected, err := userconfig.GetSelectedServer()
	if err != nil {
		return fmt.Errorf("failed to load user config: %w", err)
	}

	locale := env.cfg.Locale
	if locale == "" {
		locale = "en"
	}
	fmt.Fprintf(env.out, "Token store: %s\n", env.cfg.TokenStoreKind())
	fmt.Fprintf(env.out, "Locale:      %s\n\n", locale)

	w := tabwriter.NewWriter(env.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tALIAS\tURL\tTOKEN")
	fmt.Fprintln(w, "\t─────\t───\t─────")

	for _, server := range env.cfg.Servers {
		marker := ""
		if server.URL == selected || (selected == "" && server.URL == env.server.URL) {
			marker = "*"
		}

		state := "none"
		if _, err := env.store.LoadToken(ctx, auth.KeyFor(server.URL)); err == nil {
			state = "stored"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, server.Alias, server.URL, state)
	}

	return w.Flush()
}
