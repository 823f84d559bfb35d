package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	service = "authsession-cli"
)

// ErrNotAuthenticated is returned when no token is stored under the requested key
var ErrNotAuthenticated = errors.New("not authenticated. Please run 'authsession login' first")

// TokenStore defines the interface for token storage operations.
// A key holds exactly one raw token string; a missing key means unauthenticated.
type TokenStore interface {
	SaveToken(ctx context.Context, key, token string) error
	LoadToken(ctx context.Context, key string) (string, error)
	DeleteToken(ctx context.Context, key string) error
}

// KeyFor returns the storage key used for a server's token. Servers that
// differ by scheme or path prefix get distinct keys.
func KeyFor(serverURL string) string {
	target := strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		target = strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.EscapedPath(), "/")
	}
	return fmt.Sprintf("token-%s", target)
}

// KeyringStore persists tokens in the OS keychain/credential manager
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a keyring-backed token store
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: service}
}

// SaveToken persists the token securely in the OS keychain/credential manager
func (k *KeyringStore) SaveToken(_ context.Context, key, token string) error {
	if err := keyring.Set(k.service, key, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// LoadToken retrieves the token from the OS keychain/credential manager
func (k *KeyringStore) LoadToken(_ context.Context, key string) (string, error) {
	token, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotAuthenticated
		}
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	return token, nil
}

// DeleteToken removes the token from the OS keychain/credential manager
func (k *KeyringStore) DeleteToken(_ context.Context, key string) error {
	if err := keyring.Delete(k.service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// MemoryStore keeps tokens in process memory. Used by tests and as the
// session default when no durable store is configured.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]string)}
}

func (m *MemoryStore) SaveToken(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = token
	return nil
}

func (m *MemoryStore) LoadToken(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[key]
	if !ok {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

func (m *MemoryStore) DeleteToken(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key)
	return nil
}
