package auth

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeyFor(t *testing.T) {
	tests := []struct {
		name      string
		serverURL string
		expected  string
	}{
		{name: "url with port", serverURL: "http://localhost:8000", expected: "token-http://localhost:8000"},
		{name: "trailing slash", serverURL: "https://auth.example.com/", expected: "token-https://auth.example.com"},
		{name: "path prefix", serverURL: "https://auth.example.com/staging/", expected: "token-https://auth.example.com/staging"},
		{name: "mixed case host", serverURL: "HTTPS://Auth.Example.com", expected: "token-https://auth.example.com"},
		{name: "bare host", serverURL: "10.0.0.5", expected: "token-10.0.0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KeyFor(tt.serverURL))
		})
	}
}

func TestKeyFor_DistinctServers(t *testing.T) {
	urls := []string{
		"http://auth.example.com",
		"https://auth.example.com",
		"https://auth.example.com/staging",
		"https://auth.example.com:8443",
	}

	seen := map[string]string{}
	for _, u := range urls {
		key := KeyFor(u)
		if other, ok := seen[key]; ok {
			t.Fatalf("%s and %s share storage key %q", u, other, key)
		}
		seen[key] = u
	}
}

// exerciseStore runs the same save/load/delete cycle against any TokenStore
func exerciseStore(t *testing.T, store TokenStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.LoadToken(ctx, "token-a")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, store.SaveToken(ctx, "token-a", "abc"))
	require.NoError(t, store.SaveToken(ctx, "token-b", "def"))

	token, err := store.LoadToken(ctx, "token-a")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	require.NoError(t, store.SaveToken(ctx, "token-a", "xyz"))
	token, err = store.LoadToken(ctx, "token-a")
	require.NoError(t, err)
	assert.Equal(t, "xyz", token)

	require.NoError(t, store.DeleteToken(ctx, "token-a"))
	_, err = store.LoadToken(ctx, "token-a")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	// Deleting twice is fine
	require.NoError(t, store.DeleteToken(ctx, "token-a"))

	token, err = store.LoadToken(ctx, "token-b")
	require.NoError(t, err)
	assert.Equal(t, "def", token)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	exerciseStore(t, NewKeyringStore())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	store := NewRedisStore(rc, "authsession")
	exerciseStore(t, store)

	// Keys are namespaced by prefix
	assert.True(t, mr.Exists("authsession:token-b"))
	assert.False(t, mr.Exists("token-b"))
}

func TestRedisStore_ConnectionFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rc.Close() })
	mr.Close()

	store := NewRedisStore(rc, "authsession")
	_, err := store.LoadToken(context.Background(), "token-a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAuthenticated)
	assert.Contains(t, err.Error(), "failed to load token from Redis")
}
