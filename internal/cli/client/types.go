package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

// Credentials represents the login request body. Login is a username or an email.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Registration represents the signup request body. Extra fields are sent
// alongside the fixed ones at the top level of the JSON object.
type Registration struct {
	Username string
	Email    string
	Password string
	Extra    map[string]any
}

func (r Registration) MarshalJSON() ([]byte, error) {
	body := make(map[string]any, len(r.Extra)+3)
	maps.Copy(body, r.Extra)
	body["username"] = r.Username
	body["email"] = r.Email
	body["password"] = r.Password
	return json.Marshal(body)
}

// UserID accepts both numeric and string identifiers from the server
type UserID string

func (id *UserID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user id must be a string or number: %w", err)
	}
	*id = UserID(n.String())
	return nil
}

// User is the account record returned by the server
type User struct {
	ID         UserID `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	IsVerified bool   `json:"is_verified"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// AuthResponse is returned by login and signup
type AuthResponse struct {
	Success               bool   `json:"success"`
	Message               string `json:"message,omitempty"`
	User                  *User  `json:"user,omitempty"`
	Token                 string `json:"token,omitempty"`
	EmailVerificationSent bool   `json:"email_verification_sent,omitempty"`
}

// ProfileResponse is returned by the profile endpoint
type ProfileResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	User    *User  `json:"user,omitempty"`
}

// MessageResponse is returned by endpoints that only report an outcome
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// APIError is returned for any non-2xx response. Message carries the
// server-supplied message when the body had one.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s failed (status %d): %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s failed (status %d): %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	apiErr := &APIError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Body:       string(body),
	}

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Message = payload.Message
		if apiErr.Message == "" {
			apiErr.Message = payload.Error
		}
	}
	return apiErr
}
