// Package api is the typed HTTP client for the session server. It speaks the
// server's JSON envelope and maps wire statuses back onto the shared error
// sentinels.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mbalashov/sessiond/internal/common"
)

type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client for the given server base URL. A nil httpClient falls
// back to http.DefaultClient; pass a client wrapping transport.AuthTransport
// for endpoints that need a bearer token.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// User is the profile shape the server returns.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Session is the register/login response: a profile plus the initial pair.
type Session struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenPair is the refresh response.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Errors  []string        `json:"errors"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (c *Client) Register(ctx context.Context, email, name string, password []byte) (*Session, error) {
	var session Session
	err := c.do(ctx, http.MethodPost, "/api/auth/register",
		registerRequest{Email: email, Name: name, Password: string(password)}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) Login(ctx context.Context, email string, password []byte) (*Session, error) {
	var session Session
	err := c.do(ctx, http.MethodPost, "/api/auth/login",
		loginRequest{Email: email, Password: string(password)}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var pair TokenPair
	err := c.do(ctx, http.MethodPost, "/api/auth/refresh",
		refreshRequest{RefreshToken: refreshToken}, &pair)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout",
		logoutRequest{RefreshToken: refreshToken}, nil)
}

func (c *Client) ChangePassword(ctx context.Context, currentPassword, newPassword []byte) error {
	return c.do(ctx, http.MethodPost, "/api/auth/password",
		changePasswordRequest{
			CurrentPassword: string(currentPassword),
			NewPassword:     string(newPassword),
		}, nil)
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var resp struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, dst any) error {
	var payload []byte
	if reqBody != nil {
		var err error
		if payload, err = json.Marshal(reqBody); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	// bytes.Reader gives the request a GetBody, so the auth transport can
	// replay it after a refresh.
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if !env.Success {
		return mapStatusError(resp.StatusCode, env.Message)
	}
	if dst != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			return fmt.Errorf("decoding payload: %w", err)
		}
	}
	return nil
}

// mapStatusError turns a failed envelope back into a sentinel the caller can
// match with errors.Is.
func mapStatusError(status int, message string) error {
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", message, common.ErrorUnauthorized)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", message, common.ErrEmailTaken)
	default:
		return fmt.Errorf("server error (%d): %s", status, message)
	}
}
