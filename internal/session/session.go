// Package session owns client-side authentication state.
//
// A Manager wraps the authentication API (login, registration, logout,
// profile, password recovery, email verification) and keeps the resulting
// session state: the current user, the bearer token, a loading flag and the
// last error message. Each application builds one Manager with New and passes
// it to whatever needs it; there is no package-level instance.
//
// Operations never return errors. Failures are recorded in the state's Error
// field and, where the caller needs to react, reported through a Result.
// Consumers that render state subscribe to changes with Subscribe.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/branchd-dev/authsession/internal/cli/auth"
	"github.com/branchd-dev/authsession/internal/cli/client"
)

const (
	// DefaultStorageKey is the TokenStore key used when none is configured
	DefaultStorageKey = "token"
	// DefaultFallbackToken is stored when a successful login or signup
	// response carries no token, as cookie-only backends do.
	DefaultFallbackToken = "session-token"
)

// API is the remote authentication API driven by the Manager.
// *client.Client implements it.
type API interface {
	Login(ctx context.Context, creds client.Credentials) (*client.AuthResponse, error)
	Signup(ctx context.Context, reg client.Registration) (*client.AuthResponse, error)
	Logout(ctx context.Context) (*client.MessageResponse, error)
	Profile(ctx context.Context) (*client.ProfileResponse, error)
	ForgotPassword(ctx context.Context, email string) (*client.MessageResponse, error)
	VerifyEmail(ctx context.Context, token string) (*client.MessageResponse, error)
	ResetPassword(ctx context.Context, token, password string) (*client.MessageResponse, error)
}

// interceptable is implemented by APIs that accept request mutators
type interceptable interface {
	Use(m client.RequestMutator)
}

// State is a snapshot of the session. A nil User or empty string means absent.
type State struct {
	User    *client.User
	Token   string
	Loading bool
	Error   string
}

// IsAuthenticated reports whether both a token and a user are present
func (s State) IsAuthenticated() bool {
	return s.Token != "" && s.User != nil
}

// Result reports the outcome of an operation to its caller
type Result struct {
	Success bool
	Message string
}

// Option configures a Manager
type Option func(*Manager)

// WithTokenStore sets the durable store the token is mirrored into
func WithTokenStore(store auth.TokenStore) Option {
	return func(m *Manager) {
		m.tokens = store
	}
}

// WithStorageKey sets the key the token is stored under
func WithStorageKey(key string) Option {
	return func(m *Manager) {
		m.storageKey = key
	}
}

// WithMessages replaces the fallback error messages
func WithMessages(messages Messages) Option {
	return func(m *Manager) {
		m.messages = messages
	}
}

// WithFallbackToken sets the token stored when a successful authentication
// response has none. An empty value disables the substitution.
func WithFallbackToken(token string) Option {
	return func(m *Manager) {
		m.fallbackToken = token
	}
}

// WithLogger sets the logger used for swallowed failures
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSubscriber registers fn before the manager bootstraps, so the
// subscriber also observes the startup profile fetch.
func WithSubscriber(fn func(State)) Option {
	return func(m *Manager) {
		m.addSubscriber(fn)
	}
}

type subscriber struct {
	id int
	fn func(State)
}

// Manager holds the session state and runs authentication operations
type Manager struct {
	api           API
	tokens        auth.TokenStore
	storageKey    string
	messages      Messages
	fallbackToken string
	logger        zerolog.Logger

	mu       sync.RWMutex
	user     *client.User
	token    string
	inflight int
	errMsg   string

	subMu       sync.Mutex
	subscribers []subscriber
	nextSubID   int
}

// New creates a Manager over api. The persisted token is loaded from the token
// store; when one exists, the profile is fetched before New returns so the
// manager ends up either authenticated or cleared.
//
// If api accepts request mutators, New installs one that sends the current
// token as a bearer header.
func New(ctx context.Context, api API, opts ...Option) *Manager {
	m := &Manager{
		api:           api,
		tokens:        auth.NewMemoryStore(),
		storageKey:    DefaultStorageKey,
		messages:      DefaultMessages,
		fallbackToken: DefaultFallbackToken,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if ic, ok := api.(interceptable); ok {
		ic.Use(client.BearerToken(m))
	}

	token, err := m.tokens.LoadToken(ctx, m.storageKey)
	switch {
	case err == nil:
		m.token = token
	case errors.Is(err, auth.ErrNotAuthenticated):
	default:
		m.logger.Warn().Err(err).Str("key", m.storageKey).Msg("Failed to load persisted token")
	}

	if m.token != "" {
		m.GetProfile(ctx)
	}

	return m
}

// State returns a snapshot of the current session
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// User returns a copy of the current user, or nil
func (m *Manager) User() *client.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneUser(m.user)
}

// Token returns the current token, or an empty string
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Loading reports whether any operation is in flight
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inflight > 0
}

// ErrorMessage returns the last recorded error, or an empty string
func (m *Manager) ErrorMessage() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errMsg
}

// IsAuthenticated reports whether both a token and a user are present
func (m *Manager) IsAuthenticated() bool {
	return m.State().IsAuthenticated()
}

// Subscribe registers fn to receive a snapshot after every state change.
// Callbacks run synchronously on the goroutine that changed the state, outside
// the manager's lock. The returned function removes the subscription.
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	id := m.addSubscriber(fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			for i, s := range m.subscribers {
				if s.id == id {
					m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
					break
				}
			}
		})
	}
}

// Login authenticates with a username or email and a password
func (m *Manager) Login(ctx context.Context, creds client.Credentials) Result {
	m.begin(true)
	defer m.end()

	resp, err := m.api.Login(ctx, creds)
	return m.completeAuth(ctx, "login", resp, err, m.messages.Login)
}

// Register creates an account and signs it in
func (m *Manager) Register(ctx context.Context, reg client.Registration) Result {
	m.begin(true)
	defer m.end()

	resp, err := m.api.Signup(ctx, reg)
	return m.completeAuth(ctx, "register", resp, err, m.messages.Register)
}

// Logout clears the local session. When a token is held the server is
// notified first, but a failed notification only gets logged.
func (m *Manager) Logout(ctx context.Context) {
	m.begin(false)
	defer m.end()

	m.teardown(ctx)
	m.update(func() {
		m.errMsg = ""
	})
}

// GetProfile refreshes the user record. Without a token it records the
// not-authenticated error and makes no request. Any failure invalidates the
// whole session: user and token are both cleared.
func (m *Manager) GetProfile(ctx context.Context) {
	m.begin(true)
	defer m.end()

	token := m.Token()
	if token == "" {
		m.setError(m.messages.NotAuthenticated)
		return
	}

	resp, err := m.api.Profile(ctx)

	var msg string
	switch {
	case err != nil:
		msg = failureMessage(err, m.messages.Profile)
		m.logger.Debug().Err(err).Msg("Profile request failed")
	case !resp.Success || resp.User == nil:
		msg = orFallback(resp.Message, m.messages.Profile)
	default:
		m.update(func() {
			// A logout that raced this request wins
			if m.token == token {
				m.user = cloneUser(resp.User)
			}
		})
		return
	}

	m.update(func() {
		m.errMsg = msg
		m.user = nil
	})
	m.teardown(ctx)
}

// ForgotPassword asks the server to send a password recovery email
func (m *Manager) ForgotPassword(ctx context.Context, email string) Result {
	return m.messageOp(ctx, "forgot_password", m.messages.ForgotPassword, func(ctx context.Context) (*client.MessageResponse, error) {
		return m.api.ForgotPassword(ctx, email)
	})
}

// VerifyEmail submits an email verification token
func (m *Manager) VerifyEmail(ctx context.Context, token string) Result {
	return m.messageOp(ctx, "verify_email", m.messages.VerifyEmail, func(ctx context.Context) (*client.MessageResponse, error) {
		return m.api.VerifyEmail(ctx, token)
	})
}

// ResetPassword sets a new password using a recovery token
func (m *Manager) ResetPassword(ctx context.Context, token, password string) Result {
	return m.messageOp(ctx, "reset_password", m.messages.ResetPassword, func(ctx context.Context) (*client.MessageResponse, error) {
		return m.api.ResetPassword(ctx, token, password)
	})
}

// ClearError clears the recorded error and nothing else
func (m *Manager) ClearError() {
	m.update(func() {
		m.errMsg = ""
	})
}

func (m *Manager) completeAuth(ctx context.Context, op string, resp *client.AuthResponse, err error, fallback string) Result {
	if err != nil {
		msg := failureMessage(err, fallback)
		m.logger.Debug().Err(err).Str("operation", op).Msg("Authentication request failed")
		m.setError(msg)
		return Result{Success: false, Message: msg}
	}

	if !resp.Success {
		msg := orFallback(resp.Message, fallback)
		m.setError(msg)
		return Result{Success: false, Message: msg}
	}

	token := resp.Token
	if token == "" {
		token = m.fallbackToken
	}

	m.update(func() {
		m.user = cloneUser(resp.User)
		m.token = token
		m.errMsg = ""
	})
	m.persist(ctx, token)

	return Result{Success: true, Message: resp.Message}
}

func (m *Manager) messageOp(ctx context.Context, op, fallback string, call func(context.Context) (*client.MessageResponse, error)) Result {
	m.begin(true)
	defer m.end()

	resp, err := call(ctx)
	if err != nil {
		msg := failureMessage(err, fallback)
		m.logger.Debug().Err(err).Str("operation", op).Msg("Request failed")
		m.setError(msg)
		return Result{Success: false, Message: msg}
	}

	if !resp.Success {
		msg := orFallback(resp.Message, fallback)
		m.setError(msg)
		return Result{Success: false, Message: msg}
	}

	return Result{Success: true, Message: resp.Message}
}

// teardown notifies the server when a token is held and then clears user and
// token locally. The local part runs even when ctx is already cancelled.
func (m *Manager) teardown(ctx context.Context) {
	if m.Token() != "" {
		if _, err := m.api.Logout(ctx); err != nil {
			m.logger.Error().Err(err).Msg("Error during logout")
		}
	}

	m.update(func() {
		m.user = nil
		m.token = ""
	})

	if err := m.tokens.DeleteToken(context.WithoutCancel(ctx), m.storageKey); err != nil {
		m.logger.Warn().Err(err).Str("key", m.storageKey).Msg("Failed to remove persisted token")
	}
}

func (m *Manager) persist(ctx context.Context, token string) {
	var err error
	if token == "" {
		err = m.tokens.DeleteToken(ctx, m.storageKey)
	} else {
		err = m.tokens.SaveToken(ctx, m.storageKey, token)
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("key", m.storageKey).Msg("Failed to persist token")
	}
}

func (m *Manager) begin(clearError bool) {
	m.update(func() {
		m.inflight++
		if clearError {
			m.errMsg = ""
		}
	})
}

func (m *Manager) end() {
	m.update(func() {
		m.inflight--
	})
}

func (m *Manager) setError(msg string) {
	m.update(func() {
		m.errMsg = msg
	})
}

func (m *Manager) update(fn func()) {
	m.mu.Lock()
	fn()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snapshot)
}

func (m *Manager) snapshotLocked() State {
	return State{
		User:    cloneUser(m.user),
		Token:   m.token,
		Loading: m.inflight > 0,
		Error:   m.errMsg,
	}
}

func (m *Manager) addSubscriber(fn func(State)) int {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers = append(m.subscribers, subscriber{id: id, fn: fn})
	return id
}

func (m *Manager) notify(s State) {
	m.subMu.Lock()
	subs := make([]subscriber, len(m.subscribers))
	copy(subs, m.subscribers)
	m.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(s)
	}
}

// failureMessage prefers the server-supplied message of an API error
func failureMessage(err error, fallback string) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

func orFallback(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}

func cloneUser(u *client.User) *client.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
