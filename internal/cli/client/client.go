package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
)

const (
	loginPath          = "/auth/api/login/"
	signupPath         = "/auth/api/signup/"
	logoutPath         = "/auth/api/logout/"
	profilePath        = "/auth/api/profile/"
	forgotPasswordPath = "/auth/api/forgot-password/"
	verifyEmailPath    = "/auth/api/verify-email/"
	resetPasswordPath  = "/auth/api/reset-password/"

	defaultTimeout = 30 * time.Second
)

// RequestMutator adjusts an outgoing request before it is sent
type RequestMutator func(req *http.Request)

// TokenSource reports the token to send with the next request. It is read on
// every request, so implementations must return the current value.
type TokenSource interface {
	Token() string
}

// BearerToken returns a mutator that sets the Authorization header whenever
// the source currently holds a token.
func BearerToken(src TokenSource) RequestMutator {
	return func(req *http.Request) {
		if token := src.Token(); token != "" {
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
		}
	}
}

// Client represents an HTTP client for the authentication API
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu       sync.RWMutex
	mutators []RequestMutator
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The caller's client is
// used as-is, including its cookie jar (or lack of one).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithInsecureTLS skips TLS verification for self-signed certificates
func WithInsecureTLS() Option {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		}
	}
}

// New creates a new API client. Cookies set by the server are kept in a jar
// and forwarded on every later request.
func New(baseURL string, opts ...Option) *Client {
	jar, _ := cookiejar.New(nil) // only fails with a non-nil options argument

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Jar:     jar,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Use registers a mutator applied to every outgoing request, in registration order
func (c *Client) Use(m RequestMutator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mutators = append(c.mutators, m)
}

// Login authenticates with a username or email and a password
func (c *Client) Login(ctx context.Context, creds Credentials) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, loginPath, creds, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Signup registers a new account
func (c *Client) Signup(ctx context.Context, reg Registration) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, signupPath, reg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout ends the server-side session
func (c *Client) Logout(ctx context.Context) (*MessageResponse, error) {
	var resp MessageResponse
	if err := c.do(ctx, http.MethodPost, logoutPath, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Profile fetches the authenticated user's record
func (c *Client) Profile(ctx context.Context) (*ProfileResponse, error) {
	var resp ProfileResponse
	if err := c.do(ctx, http.MethodGet, profilePath, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ForgotPassword asks the server to send a password recovery email
func (c *Client) ForgotPassword(ctx context.Context, email string) (*MessageResponse, error) {
	var resp MessageResponse
	body := map[string]string{"email": email}
	if err := c.do(ctx, http.MethodPost, forgotPasswordPath, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyEmail submits an email verification token
func (c *Client) VerifyEmail(ctx context.Context, token string) (*MessageResponse, error) {
	var resp MessageResponse
	body := map[string]string{"token": token}
	if err := c.do(ctx, http.MethodPost, verifyEmailPath, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResetPassword sets a new password using a recovery token
func (c *Client) ResetPassword(ctx context.Context, token, password string) (*MessageResponse, error) {
	var resp MessageResponse
	body := map[string]string{"token": token, "password": password}
	if err := c.do(ctx, http.MethodPost, resetPasswordPath, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	c.mu.RLock()
	for _, m := range c.mutators {
		m(req)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(method, path, resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
