package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/branchd-dev/authsession/internal/cli/auth"
	"github.com/branchd-dev/authsession/internal/cli/client"
	"github.com/branchd-dev/authsession/internal/cli/config"
	"github.com/branchd-dev/authsession/internal/cli/serverselect"
	"github.com/branchd-dev/authsession/internal/logger"
	"github.com/branchd-dev/authsession/internal/session"
)

const redisKeyPrefix = "authsession"

// commandEnv is everything a command needs to talk to the selected server
type commandEnv struct {
	out    io.Writer
	cfg    *config.Config
	server *config.Server
	store  auth.TokenStore
	logger zerolog.Logger
}

// loadEnv loads the project config, resolves the server and opens the token
// store. The returned function releases the store.
func loadEnv(cmd *cobra.Command) (*commandEnv, func(), error) {
	cfg, err := config.LoadFromCurrentDir()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w\nRun 'authsession init' to create a configuration file", err)
	}

	serverFlag, _ := cmd.Flags().GetString("server")
	server, err := serverselect.ResolveServer(cfg, serverFlag)
	if err != nil {
		return nil, nil, err
	}

	if server.URL == "" {
		return nil, nil, fmt.Errorf("server URL is empty. Please edit %s and add a valid URL", config.ConfigFileName)
	}

	store, closeStore, err := newTokenStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	logLevel, _ := cmd.Flags().GetString("log-level")

	env := &commandEnv{
		out:    cmd.OutOrStdout(),
		cfg:    cfg,
		server: server,
		store:  store,
		logger: logger.New(cmd.ErrOrStderr(), logLevel, "console"),
	}
	return env, closeStore, nil
}

// newTokenStore opens the backend named by the config. Replaced in tests.
var newTokenStore = func(cfg *config.Config) (auth.TokenStore, func(), error) {
	switch cfg.TokenStoreKind() {
	case config.TokenStoreRedis:
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		return auth.NewRedisStore(rc, redisKeyPrefix), func() { _ = rc.Close() }, nil
	case config.TokenStoreMemory:
		return auth.NewMemoryStore(), func() {}, nil
	default:
		return auth.NewKeyringStore(), func() {}, nil
	}
}

// newManager builds a session manager over the selected server. A persisted
// token is validated against the profile endpoint before it returns.
func (e *commandEnv) newManager(ctx context.Context) *session.Manager {
	var clientOpts []client.Option
	if e.cfg.InsecureTLS {
		clientOpts = append(clientOpts, client.WithInsecureTLS())
	}
	apiClient := client.New(e.server.URL, clientOpts...)

	opts := []session.Option{
		session.WithTokenStore(e.store),
		session.WithStorageKey(auth.KeyFor(e.server.URL)),
		session.WithMessages(session.MessagesFor(e.cfg.Locale)),
		session.WithLogger(e.logger),
	}
	if e.cfg.FallbackToken != nil {
		opts = append(opts, session.WithFallbackToken(*e.cfg.FallbackToken))
	}

	return session.New(ctx, apiClient, opts...)
}

// hasStoredToken reports whether a token is persisted for the selected server
func (e *commandEnv) hasStoredToken(ctx context.Context) (bool, error) {
	_, err := e.store.LoadToken(ctx, auth.KeyFor(e.server.URL))
	if errors.Is(err, auth.ErrNotAuthenticated) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// readPassword prompts on the terminal without echo. Replaced in tests.
var readPassword = func(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNonInteractive
	}

	fmt.Fprint(os.Stderr, prompt)
	bytePassword, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr) // New line after password input
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}

var errNonInteractive = errors.New("stdin is not a terminal")

// resolvePassword returns the flag value, then the env var, then prompts
func resolvePassword(flagValue, envVar string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}

	password, err := readPassword("Password: ")
	if errors.Is(err, errNonInteractive) {
		return "", fmt.Errorf("password is required in non-interactive mode (use --password flag or %s env var)", envVar)
	}
	return password, err
}

func displayName(username, email string) string {
	switch {
	case username != "" && email != "":
		return fmt.Sprintf("%s (%s)", username, email)
	case username != "":
		return username
	default:
		return strings.TrimSpace(email)
	}
}
