// Package serverselect decides which configured server a command talks to.
package serverselect

import (
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"

	"github.com/branchd-dev/authsession/internal/cli/config"
	"github.com/branchd-dev/authsession/internal/cli/userconfig"
)

// ErrNoServers is returned when the project config lists no server
var ErrNoServers = errors.New("no servers configured")

// Prompt picks a server interactively. Replaced in tests.
var Prompt = PromptServerSelection

// ResolveServer picks the server for a command, in order:
//  1. the --server flag, matched by URL or alias
//  2. the server remembered in the user config, if still configured
//  3. the only configured server
//  4. an interactive prompt
//
// Choices made by 3 and 4 are remembered for the next command.
func ResolveServer(projectConfig *config.Config, flagValue string) (*config.Server, error) {
	if len(projectConfig.Servers) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoServers, config.ConfigFileName)
	}

	if flagValue != "" {
		return GetServerByURLOrAlias(projectConfig, flagValue)
	}

	selectedURL, err := userconfig.GetSelectedServer()
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	if selectedURL != "" {
		if server, err := projectConfig.GetServerByURL(selectedURL); err == nil {
			return server, nil
		}
		// Stale selection
		_ = userconfig.SetSelectedServer("")
	}

	server := &projectConfig.Servers[0]
	if len(projectConfig.Servers) > 1 {
		if server, err = Prompt(projectConfig); err != nil {
			return nil, err
		}
	}

	if err := userconfig.SetSelectedServer(server.URL); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save selected server: %v\n", err)
	}
	return server, nil
}

// PromptServerSelection asks the user to choose among the configured servers
func PromptServerSelection(projectConfig *config.Config) (*config.Server, error) {
	if len(projectConfig.Servers) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoServers, config.ConfigFileName)
	}

	labels := make([]string, len(projectConfig.Servers))
	for i, server := range projectConfig.Servers {
		labels[i] = fmt.Sprintf("%s (%s)", server.Alias, server.URL)
	}

	prompt := promptui.Select{
		Label: "Select a server",
		Items: labels,
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "> {{ . | cyan }}",
			Inactive: "  {{ . }}",
			Selected: "{{ . | green }}",
		},
		Size: 10,
	}

	index, _, err := prompt.Run()
	if err != nil {
		return nil, fmt.Errorf("server selection cancelled: %w", err)
	}

	return &projectConfig.Servers[index], nil
}

// GetServerByURLOrAlias finds a server by URL first, then by alias
func GetServerByURLOrAlias(cfg *config.Config, urlOrAlias string) (*config.Server, error) {
	if server, err := cfg.GetServerByURL(urlOrAlias); err == nil {
		return server, nil
	}
	if server, err := cfg.GetServerByAlias(urlOrAlias); err == nil {
		return server, nil
	}
	return nil, fmt.Errorf("server with URL or alias '%s' not found", urlOrAlias)
}
