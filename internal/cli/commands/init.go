package commands

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/branchd-dev/authsession/internal/cli/config"
)

// NewInitCmd creates the init command
func NewInitCmd() *cobra.Command {
	var (
		alias   string
		useYAML bool
	)

	cmd := &cobra.Command{
		Use:   "init <server-url>",
		Short: "Add an authentication server to the project config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			currentDir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get current directory: %w", err)
			}
			return runInit(cmd.OutOrStdout(), currentDir, args[0], alias, useYAML)
		},
	}

	cmd.Flags().StringVar(&alias, "alias", "", "Server alias (defaults to 'production' for the first server)")
	cmd.Flags().BoolVar(&useYAML, "yaml", false, "Create authsession.yaml instead of authsession.json")

	return cmd
}

func runInit(out io.Writer, dir, serverURL, alias string, useYAML bool) error {
	serverURL = strings.TrimRight(serverURL, "/")
	if u, err := url.Parse(serverURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid server URL %q: expected something like https://auth.example.com", serverURL)
	}

	configPath, cfg, isNewConfig, err := openProjectConfig(dir, useYAML)
	if err != nil {
		return err
	}
	name := filepath.Base(configPath)
	if !isNewConfig {
		fmt.Fprintf(out, "Found existing %s\n", name)
	}

	if existing, err := cfg.GetServerByURL(serverURL); err == nil {
		fmt.Fprintf(out, "Server %s already exists in %s as '%s'\n", serverURL, name, existing.Alias)
		return nil
	}

	if alias == "" {
		if len(cfg.Servers) == 0 {
			alias = "production"
		} else {
			alias = fmt.Sprintf("server-%d", len(cfg.Servers)+1)
		}
	}
	if _, err := cfg.GetServerByAlias(alias); err == nil {
		return fmt.Errorf("alias '%s' is already used in %s", alias, name)
	}

	cfg.Servers = append(cfg.Servers, config.Server{
		URL:   serverURL,
		Alias: alias,
	})

	if err := config.Save(configPath, cfg); err != nil {
		return err
	}

	if isNewConfig {
		fmt.Fprintf(out, "✓ Created ./%s with server %s (%s)\n", name, serverURL, alias)
	} else {
		fmt.Fprintf(out, "✓ Added server %s (%s) to ./%s\n", serverURL, alias, name)
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Run 'authsession register' to create an account")
	fmt.Fprintln(out, "  2. Run 'authsession login' to authenticate")

	return nil
}

// openProjectConfig loads the config file in dir, or returns a fresh one
func openProjectConfig(dir string, useYAML bool) (string, *config.Config, bool, error) {
	for _, name := range []string{config.ConfigFileName, "authsession.yaml", "authsession.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			cfg, err := config.Load(path)
			if err != nil {
				return "", nil, false, fmt.Errorf("failed to load existing config: %w", err)
			}
			return path, cfg, false, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", nil, false, fmt.Errorf("failed to check config file: %w", err)
		}
	}

	name := config.ConfigFileName
	if useYAML {
		name = "authsession.yaml"
	}
	return filepath.Join(dir, name), &config.Config{Servers: []config.Server{}}, true, nil
}
