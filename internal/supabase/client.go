package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors mapped from GoTrue responses. Anything transport-level or
// 5xx becomes ErrUnavailable so callers answer 503 instead of blaming the
// user.
var (
	ErrInvalidCredentials = errors.New("supabase: invalid credentials")
	ErrEmailTaken         = errors.New("supabase: email already registered")
	ErrWeakPassword       = errors.New("supabase: password too weak")
	ErrInvalidRefresh     = errors.New("supabase: invalid refresh token")
	ErrUnavailable        = errors.New("supabase: auth service unavailable")
)

// AuthUser is the GoTrue view of an account.
type AuthUser struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// Session is the token pair GoTrue issues on sign-up, sign-in and refresh.
type Session struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int      `json:"expires_in"`
	RefreshToken string   `json:"refresh_token"`
	User         AuthUser `json:"user"`
}

// Client talks to the Supabase Auth (GoTrue) REST API.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

func NewClient(supabaseURL, anonKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(supabaseURL, "/") + "/auth/v1",
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SignUp registers a new account and returns its session. Supabase projects
// with email confirmation enabled return a session without tokens; the
// caller treats an empty access token as "confirmation pending".
func (c *Client) SignUp(ctx context.Context, email, password string) (*Session, error) {
	return c.tokenRequest(ctx, "/signup", map[string]string{
		"email":    email,
		"password": password,
	})
}

// SignInWithPassword performs the password grant.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	return c.tokenRequest(ctx, "/token?grant_type=password", map[string]string{
		"email":    email,
		"password": password,
	})
}

// Refresh exchanges a refresh token for a new session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	return c.tokenRequest(ctx, "/token?grant_type=refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
}

// SignOut revokes the token's session server-side. A 401 from GoTrue means
// the session is already gone, which is success for our purposes.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logout", nil)
	if err != nil {
		return fmt.Errorf("create logout request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: logout returned %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) tokenRequest(ctx context.Context, path string, body map[string]string) (*Session, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: auth returned %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, classifyAuthError(resp.StatusCode, respBody)
	}

	var session Session
	if err := json.Unmarshal(respBody, &session); err != nil {
		return nil, fmt.Errorf("parse auth response: %w", err)
	}
	return &session, nil
}

// gotrueError is the error envelope GoTrue uses; older endpoints populate
// msg, newer ones error_description plus an error_code slug.
type gotrueError struct {
	Msg              string `json:"msg"`
	ErrorCode        string `json:"error_code"`
	ErrorText        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e gotrueError) message() string {
	for _, s := range []string{e.Msg, e.ErrorDescription, e.ErrorText} {
		if s != "" {
			return s
		}
	}
	return ""
}

func classifyAuthError(status int, body []byte) error {
	var ge gotrueError
	_ = json.Unmarshal(body, &ge)
	msg := strings.ToLower(ge.message())

	switch {
	case ge.ErrorCode == "user_already_exists" || strings.Contains(msg, "already registered"):
		return ErrEmailTaken
	case ge.ErrorCode == "weak_password" || strings.Contains(msg, "password"):
		if status == http.StatusUnprocessableEntity || strings.Contains(msg, "at least") {
			return ErrWeakPassword
		}
		return ErrInvalidCredentials
	case strings.Contains(msg, "refresh token"):
		return ErrInvalidRefresh
	case status == http.StatusUnauthorized || status == http.StatusBadRequest:
		return ErrInvalidCredentials
	default:
		return fmt.Errorf("%w: auth returned %d", ErrUnavailable, status)
	}
}
