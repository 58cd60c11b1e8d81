package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/shindakun/mockportal/internal/models"
)

const maxResponseBytes = 1 << 20

// Client talks to a GoTrue-compatible auth API (Supabase Auth).
// It holds no session state; callers pass tokens in.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	now        func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithClock sets the time source used to compute expiry from expires_in
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a provider client for the project at baseURL
func NewClient(baseURL, anonKey string, timeout time.Duration, opts ...Option) *Client {
	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = timeout

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		httpClient: hc,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *user  `json:"user"`
}

type user struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SignInWithPassword exchanges an email and password for a session
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	body := map[string]string{"email": email, "password": password}
	return c.token(ctx, "password", body)
}

// RefreshSession exchanges a refresh token for a new session
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	return c.token(ctx, "refresh_token", body)
}

func (c *Client) token(ctx context.Context, grantType string, body any) (*models.Session, error) {
	var resp tokenResponse
	endpoint := "/auth/v1/token?grant_type=" + url.QueryEscape(grantType)
	if err := c.do(ctx, http.MethodPost, endpoint, "", body, &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken == "" || resp.User == nil {
		return nil, ErrMalformedResponse
	}

	return &models.Session{
		UserID:       resp.User.ID,
		Email:        resp.User.Email,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    c.expiry(resp),
	}, nil
}

// expiry prefers expires_at, then expires_in, then the token's own exp claim
func (c *Client) expiry(resp tokenResponse) time.Time {
	if resp.ExpiresAt > 0 {
		return time.Unix(resp.ExpiresAt, 0)
	}
	if resp.ExpiresIn > 0 {
		return c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if exp, err := TokenExpiry(resp.AccessToken); err == nil {
		return exp
	}
	return c.now()
}

// GetUser returns the user the access token belongs to
func (c *Client) GetUser(ctx context.Context, accessToken string) (*models.User, error) {
	var u user
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, fmt.Errorf("user response missing id")
	}
	return &models.User{ID: u.ID, Email: u.Email}, nil
}

// SignOut revokes the session the access token belongs to
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/v1/logout?scope=local", accessToken, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach auth provider: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read auth provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode auth provider response: %w", err)
	}
	return nil
}

// TokenExpiry reads the exp claim of an access token without verifying it.
// Verification is the provider's job; this is only used to schedule refreshes.
func TokenExpiry(accessToken string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse access token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("access token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}
