package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenRef is a mutable TokenSource for tests
type tokenRef struct{ token string }

func (r *tokenRef) Token() string { return r.token }

func TestClient_Login(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/api/login/", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"login": "testuser", "password": "password123"}, body)

		w.Write([]byte(`{"success": true, "message": "ok", "user": {"id": 1, "username": "testuser"}, "token": "tok-1"}`))
	}))
	defer server.Close()

	c := New(server.URL)
	resp, err := c.Login(context.Background(), Credentials{Login: "testuser", Password: "password123"})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "tok-1", resp.Token)
	require.NotNil(t, resp.User)
	assert.Equal(t, UserID("1"), resp.User.ID)
	assert.Equal(t, "testuser", resp.User.Username)
}

func TestClient_SignupSendsExtraFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/api/signup/", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "newuser", body["username"])
		assert.Equal(t, "new@example.com", body["email"])
		assert.Equal(t, "password123", body["password"])
		assert.Equal(t, "Ada", body["first_name"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success": true, "user": {"id": "01HZX", "username": "newuser"}, "email_verification_sent": true}`))
	}))
	defer server.Close()

	resp, err := New(server.URL).Signup(context.Background(), Registration{
		Username: "newuser",
		Email:    "new@example.com",
		Password: "password123",
		Extra:    map[string]any{"first_name": "Ada", "username": "ignored"},
	})
	require.NoError(t, err)
	assert.True(t, resp.EmailVerificationSent)
	assert.Equal(t, UserID("01HZX"), resp.User.ID)
	assert.Empty(t, resp.Token)
}

func TestClient_BearerTokenReadAtRequestTime(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	ref := &tokenRef{}
	c := New(server.URL)
	c.Use(BearerToken(ref))

	ctx := context.Background()
	_, err := c.Profile(ctx)
	require.NoError(t, err)

	ref.token = "first"
	_, err = c.Profile(ctx)
	require.NoError(t, err)

	ref.token = "second"
	_, err = c.Logout(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", "Bearer first", "Bearer second"}, seen)
}

func TestClient_ForwardsCookies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/api/login/":
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "cookie-token", Path: "/"})
			w.Write([]byte(`{"success": true}`))
		case "/auth/api/profile/":
			cookie, err := r.Cookie("session")
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"success": false, "message": "no cookie"}`))
				return
			}
			assert.Equal(t, "cookie-token", cookie.Value)
			w.Write([]byte(`{"success": true, "user": {"id": 7}}`))
		}
	}))
	defer server.Close()

	c := New(server.URL)
	ctx := context.Background()

	_, err := c.Login(ctx, Credentials{Login: "a", Password: "b"})
	require.NoError(t, err)

	resp, err := c.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, UserID("7"), resp.User.ID)
}

func TestClient_APIError(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		body            string
		expectedMessage string
	}{
		{
			name:            "message field",
			status:          http.StatusUnauthorized,
			body:            `{"success": false, "message": "invalid credentials"}`,
			expectedMessage: "invalid credentials",
		},
		{
			name:            "error field",
			status:          http.StatusBadRequest,
			body:            `{"error": "bad request"}`,
			expectedMessage: "bad request",
		},
		{
			name:            "non json body",
			status:          http.StatusBadGateway,
			body:            `upstream unavailable`,
			expectedMessage: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := New(server.URL).ForgotPassword(context.Background(), "a@example.com")
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.expectedMessage, apiErr.Message)
			assert.Equal(t, "/auth/api/forgot-password/", apiErr.Path)
		})
	}
}

func TestClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := New(url).VerifyEmail(context.Background(), "tok")
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.Contains(t, err.Error(), "failed to send request")
}

func TestClient_VerifyAndReset(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.Write([]byte(`{"success": true, "message": "done"}`))
	}))
	defer server.Close()

	c := New(server.URL + "/")
	ctx := context.Background()

	resp, err := c.VerifyEmail(ctx, "verify-tok")
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Message)

	_, err = c.ResetPassword(ctx, "reset-tok", "newpassword")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []map[string]string{
		{"token": "verify-tok"},
		{"token": "reset-tok", "password": "newpassword"},
	}, bodies)
}

func TestUserID_Unmarshal(t *testing.T) {
	var u User
	require.NoError(t, json.Unmarshal([]byte(`{"id": 42}`), &u))
	assert.Equal(t, UserID("42"), u.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id": "abc"}`), &u))
	assert.Equal(t, UserID("abc"), u.ID)

	require.Error(t, json.Unmarshal([]byte(`{"id": {}}`), &u))
}
