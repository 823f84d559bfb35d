package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchd-dev/authsession/internal/cli/auth"
	"github.com/branchd-dev/authsession/internal/cli/client"
	"github.com/branchd-dev/authsession/internal/cli/config"
	"github.com/branchd-dev/authsession/internal/cli/userconfig"
)

func TestMain(m *testing.M) {
	// Commands persist user state under $HOME
	home, err := os.MkdirTemp("", "authsession-home")
	if err != nil {
		panic(err)
	}
	os.Setenv("HOME", home)

	code := m.Run()
	os.RemoveAll(home)
	os.Exit(code)
}

// fakeAuthServer is a minimal in-memory implementation of the auth endpoints
type fakeAuthServer struct {
	mu       sync.Mutex
	password string
	token    string
	loggedIn bool
	requests []string
}

func newFakeAuthServer(t *testing.T) (*fakeAuthServer, *httptest.Server) {
	t.Helper()
	f := &fakeAuthServer{password: "password123", token: "test-token-abc"}
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAuthServer) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeAuthServer) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.URL.Path)

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	authorized := r.Header.Get("Authorization") == "Bearer "+f.token && f.loggedIn
	user := map[string]any{"id": 1, "username": "testuser", "email": "test@example.com", "is_verified": true}

	reply := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	switch r.URL.Path {
	case "/auth/api/login/":
		if body["login"] != "testuser" || body["password"] != f.password {
			reply(http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid credentials"})
			return
		}
		f.loggedIn = true
		reply(http.StatusOK, map[string]any{"success": true, "message": "Authentication successful", "user": user, "token": f.token})
	case "/auth/api/signup/":
		if body["username"] == "taken" {
			reply(http.StatusBadRequest, map[string]any{"success": false, "message": "This username is already taken"})
			return
		}
		f.loggedIn = true
		reply(http.StatusCreated, map[string]any{"success": true, "message": "User created successfully", "user": map[string]any{"id": 2, "username": body["username"], "email": body["email"]}, "token": f.token})
	case "/auth/api/profile/":
		if !authorized {
			reply(http.StatusUnauthorized, map[string]any{"success": false, "message": "User not logged in"})
			return
		}
		reply(http.StatusOK, map[string]any{"success": true, "user": user})
	case "/auth/api/logout/":
		f.loggedIn = false
		reply(http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully"})
	case "/auth/api/forgot-password/":
		if body["email"] != "test@example.com" {
			reply(http.StatusNotFound, map[string]any{"success": false, "message": "No user found with this email"})
			return
		}
		reply(http.StatusOK, map[string]any{"success": true, "message": "Password recovery email sent"})
	case "/auth/api/verify-email/":
		if body["token"] != "good" {
			reply(http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid or expired token"})
			return
		}
		reply(http.StatusOK, map[string]any{"success": true, "message": "Email verified successfully"})
	case "/auth/api/reset-password/":
		if body["token"] != "reset" {
			reply(http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid or expired token"})
			return
		}
		f.password, _ = body["password"].(string)
		reply(http.StatusOK, map[string]any{"success": true, "message": "Password has been reset"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// testEnv builds a command environment pointing at serverURL with an in-memory store
func testEnv(serverURL string, cfg *config.Config) (*commandEnv, *bytes.Buffer) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	server := config.Server{URL: serverURL, Alias: "test-server"}
	cfg.Servers = append(cfg.Servers, server)

	var out bytes.Buffer
	return &commandEnv{
		out:    &out,
		cfg:    cfg,
		server: &cfg.Servers[len(cfg.Servers)-1],
		store:  auth.NewMemoryStore(),
		logger: zerolog.Nop(),
	}, &out
}

func stubPassword(t *testing.T, password string, err error) {
	t.Helper()
	original := readPassword
	readPassword = func(string) (string, error) { return password, err }
	t.Cleanup(func() { readPassword = original })
}

func TestLogin_Success(t *testing.T) {
	_, srv := newFakeAuthServer(t)
	env, out := testEnv(srv.URL, nil)

	err := runLogin(context.Background(), env, "testuser", "password123")
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Logging in to test-server")
	assert.Contains(t, out.String(), "✓ Login successful!")
	assert.Contains(t, out.String(), "testuser (test@example.com)")

	token, err := env.store.LoadToken(context.Background(), auth.KeyFor(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "test-token-abc", token)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	_, srv := newFakeAuthServer(t)
	env, _ := testEnv(srv.URL, nil)

	err := runLogin(context.Background(), env, "testuser", "wrong")
	require.Error(t, err)
	assert.Equal(t, "login failed: Invalid credentials", err.Error())

	stored, err := env.hasStoredToken(context.Background())
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestLogin_FrenchFallbackMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	env, _ := testEnv(srv.URL, &config.Config{Locale: "fr"})

	err := runLogin(context.Background(), env, "testuser", "password123")
	require.Error(t, err)
	assert.Equal(t, "login failed: Erreur de connexion", err.Error())
}

func TestLogin_EnvVarCredentials(t *testing.T) {
	_, srv := newFakeAuthServer(t)
	env, _ := testEnv(srv.URL, nil)

	t.Setenv(envLogin, "testuser")
	t.Setenv(envPassword, "password123")
	stubPassword(t, "", errNonInteractive)

	require.NoError(t, runLogin(context.Background(), env, "", ""))
}

func TestLogin_MissingLogin(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(envLogin, "")
	env, _ := testEnv("http://127.0.0.1:1", nil)

	err := runLogin(context.Background(), env, "", "password123")
	require.Error(t, err)
	assert.Equal(t, "login is required (use --login flag or AUTHSESSION_LOGIN env var)", err.Error())
}

func TestLogin_RemembersLogin(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(envLogin, "")
	_, srv := newFakeAuthServer(t)
	env, _ := testEnv(srv.URL, nil)

	require.NoError(t, runLogin(context.Background(), env, "testuser", "password123"))

	remembered, err := userconfig.GetLastLogin(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "testuser", remembered)

	second, out := testEnv(srv.URL, nil)
	require.NoError(t, runLogin(context.Background(), second, "", "password123"))
	assert.Contains(t, out.String(), "✓ Login successful!")
}

func TestLogin_NonInteractiveWithoutPassword(t *testing.T) {
	t.Setenv(envPassword, "")
	stubPassword(t, "", errNonInteractive)
	env, _ := testEnv("http://127.0.0.1:1", nil)

	err := runLogin(context.Background(), env, "testuser", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password is required in non-interactive mode")
}

func TestLogin_PromptsForPassword(t *testing.T) {
	_, srv := newFakeAuthServer(t)
	t.Setenv(envPassword, "")
	stubPassword(t, "password123", nil)
	env, _ := testEnv(srv.URL, nil)

	require.NoError(t, runLogin(context.Background(), env, "testuser", ""))
}

func TestWhoami(t *testing.T) {
	fake, srv := newFakeAuthServer(t)
	env, out := testEnv(srv.URL, nil)
	ctx := context.Background()

	err := runWhoami(ctx, env)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	require.NoError(t, runLogin(ctx, env, "testuser", "password123"))
	out.Reset()

	require.NoError(t, runWhoami(ctx, env))
	assert.Contains(t, out.String(), "Username: testuser")
	assert.Contains(t, out.String(), "Verified: true")

	// Server-side session gone: the stored token is rejected and removed
	fake.mu.Lock()
	fake.loggedIn = false
	fake.mu.Unlock()

	err = runWhoami(ctx, env)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
	assert.Contains(t, err.Error(), "User not logged in")

	stored, err := env.hasStoredToken(ctx)
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestLogout(t *testing.T) {
	fake, srv := newFakeAuthServer(t)
	env, out := testEnv(srv.URL, nil)
	ctx := context.Background()

	require.NoError(t, runLogout(ctx, env))
	assert.Contains(t, out.String(), "Not logged in to test-server")
	assert.Empty(t, fake.Requests())

	require.NoError(t, runLogin(ctx, env, "testuser", "password123"))
	out.Reset()

	require.NoError(t, runLogout(ctx, env))
	assert.Contains(t, out.String(), "✓ Logged out from test-server")

	stored, err := env.hasStoredToken(ctx)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.Contains(t, fake.Requests(), "/auth/api/logout/")
}

func TestLogout_ExpiredTokenNotifiesServerOnce(t *testing.T) {
	fake, srv := newFakeAuthServer(t)
	env, out := testEnv(srv.URL, nil)
	ctx := context.Background()
	require.NoError(t, env.store.SaveToken(ctx, auth.KeyFor(srv.URL), "expired"))

	require.NoError(t, runLogout(ctx, env))
	assert.Contains(t, out.String(), "✓ Logged out from test-server")

	logouts := 0
	for _, path := range fake.Requests() {
		if path == "/auth/api/logout/" {
			logouts++
		}
	}
	assert.Equal(t, 1, logouts)

	stored, err := env.hasStoredToken(ctx)
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestLogout_ServerUnreachableStillClearsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	env, _ := testEnv(url, nil)
	ctx := context.Background()
	require.NoError(t, env.store.SaveToken(ctx, auth.KeyFor(url), "stale"))

	require.NoError(t, runLogout(ctx, env))

	stored, err := env.hasStoredToken(ctx)
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestRegister(t *testing.T) {
	_, srv := newFakeAuthServer(t)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		env, out := testEnv(srv.URL, nil)
		err := runRegister(ctx, env, newRegistration("newuser"))
		require.NoError(t, err)
		assert.Contains(t, out.String(), "✓ Registration successful!")
		assert.Contains(t, out.String(), "User created successfully")

		stored, err := env.hasStoredToken(ctx)
		require.NoError(t, err)
		assert.True(t, stored)
	})

	t.Run("username taken", func(t *testing.T) {
		env, _ := testEnv(srv.URL, nil)
		err := runRegister(ctx, env, newRegistration("taken"))
		require.Error(t, err)
		assert.Equal(t, "registration failed: This username is already taken", err.Error())
	})
}

func TestAccountRecoveryFlow(t *testing.T) {
	_, srv := newFakeAuthServer(t)
	env, out := testEnv(srv.URL, nil)
	ctx := context.Background()

	require.NoError(t, runForgotPassword(ctx, env, "test@example.com"))
	assert.Contains(t, out.String(), "✓ Password recovery email sent")

	err := runForgotPassword(ctx, env, "nobody@example.com")
	require.Error(t, err)
	assert.Equal(t, "password recovery failed: No user found with this email", err.Error())

	err = runResetPassword(ctx, env, "bad", "newpassword")
	require.Error(t, err)
	assert.Equal(t, "password reset failed: Invalid or expired token", err.Error())

	require.NoError(t, runResetPassword(ctx, env, "reset", "newpassword"))
	require.NoError(t, runLogin(ctx, env, "testuser", "newpassword"))
}

func TestVerifyEmail(t *testing.T) {
	_, srv := newFakeAuthServer(t)
	env, out := testEnv(srv.URL, nil)
	ctx := context.Background()

	require.NoError(t, runVerifyEmail(ctx, env, "good"))
	assert.Contains(t, out.String(), "Email verified successfully")

	err := runVerifyEmail(ctx, env, "invalid-token")
	require.Error(t, err)
	assert.Equal(t, "email verification failed: Invalid or expired token", err.Error())
}

func TestStatus(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, srv := newFakeAuthServer(t)
	env, out := testEnv(srv.URL, &config.Config{
		Servers: []config.Server{{URL: "https://other.example.com", Alias: "other"}},
		Locale:  "fr",
	})
	ctx := context.Background()

	require.NoError(t, runLogin(ctx, env, "testuser", "password123"))
	out.Reset()

	require.NoError(t, runStatus(ctx, env))

	lines := strings.Split(out.String(), "\n")
	assert.Contains(t, out.String(), "Token store: keyring")
	assert.Contains(t, out.String(), "Locale:      fr")

	var otherLine, testLine string
	for _, l := range lines {
		switch {
		case strings.Contains(l, "other.example.com"):
			otherLine = l
		case strings.Contains(l, "test-server"):
			testLine = l
		}
	}
	assert.Contains(t, otherLine, "none")
	assert.Contains(t, testLine, "stored")
	assert.True(t, strings.HasPrefix(testLine, "*"))
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	require.NoError(t, runInit(&out, dir, "https://auth.example.com/", "", false))
	assert.Contains(t, out.String(), "✓ Created ./authsession.json with server https://auth.example.com (production)")

	out.Reset()
	require.NoError(t, runInit(&out, dir, "http://localhost:8000", "", false))
	assert.Contains(t, out.String(), "✓ Added server http://localhost:8000 (server-2)")

	out.Reset()
	require.NoError(t, runInit(&out, dir, "https://auth.example.com", "", false))
	assert.Contains(t, out.String(), "already exists")

	err := runInit(&out, dir, "https://third.example.com", "production", false)
	assert.Error(t, err)

	cfg, err := config.Load(filepath.Join(dir, config.ConfigFileName))
	require.NoError(t, err)
	assert.Equal(t, []config.Server{
		{URL: "https://auth.example.com", Alias: "production"},
		{URL: "http://localhost:8000", Alias: "server-2"},
	}, cfg.Servers)
}

func TestInit_YAMLAndInvalidURL(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	err := runInit(&out, dir, "not a url", "", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server URL")

	require.NoError(t, runInit(&out, dir, "http://localhost:8000", "local", true))
	_, err = os.Stat(filepath.Join(dir, "authsession.yaml"))
	require.NoError(t, err)

	cfg, err := config.Load(filepath.Join(dir, "authsession.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Servers[0].Alias)
}

func TestSelectServer(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := &config.Config{Servers: []config.Server{
		{URL: "http://localhost:8000", Alias: "local"},
		{URL: "https://auth.example.com", Alias: "production"},
	}}
	var out bytes.Buffer

	require.NoError(t, runSelectServer(&out, cfg, "production"))
	assert.Equal(t, "Selected server: production (https://auth.example.com)\n", out.String())

	selected, err := userconfig.GetSelectedServer()
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com", selected)

	assert.Error(t, runSelectServer(&out, cfg, "missing"))
}

func TestRootCmd_LoginWithoutConfig(t *testing.T) {
	dir := t.TempDir()
	original, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(original) })

	cmd := NewLoginCmd()
	cmd.SetArgs([]string{"--login", "testuser", "--password", "x"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err = cmd.Execute()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "failed to load config:"))
	assert.ErrorIs(t, err, config.ErrConfigNotFound)
}

func TestNewTokenStore(t *testing.T) {
	store, closeStore, err := newTokenStore(&config.Config{TokenStore: config.TokenStoreMemory})
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &auth.MemoryStore{}, store)

	store, closeStore, err = newTokenStore(&config.Config{TokenStore: config.TokenStoreRedis, RedisAddress: "localhost:6379"})
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &auth.RedisStore{}, store)

	store, closeStore, err = newTokenStore(&config.Config{})
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &auth.KeyringStore{}, store)
}

func newRegistration(username string) client.Registration {
	return client.Registration{
		Username: username,
		Email:    username + "@example.com",
		Password: "password123",
	}
}
