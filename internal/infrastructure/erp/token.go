package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// refreshMargin refreshes the access token slightly before its actual expiry
// so in-flight requests never carry a token that dies mid-call.
const refreshMargin = time.Minute

// TokenProvider supplies a currently-valid ERP access token. Callers depend
// on this interface, never on shared mutable token state.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed token. Used in tests and for ERP
// installations with long-lived API keys.
type StaticTokenProvider string

// Token implements TokenProvider
func (s StaticTokenProvider) Token(_ context.Context) (string, error) {
	return string(s), nil
}

// OAuthTokenProvider maintains an access token through the ERP's
// refresh-token flow. Safe for concurrent use; at most one refresh runs at a
// time and latecomers reuse its result.
type OAuthTokenProvider struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
	refreshToken string
	logger       *zap.Logger

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// OAuthConfig holds credentials for the refresh-token flow
type OAuthConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RefreshToken string
	Timeout      time.Duration
}

// NewOAuthTokenProvider creates a provider that refreshes tokens on demand
func NewOAuthTokenProvider(cfg OAuthConfig, logger *zap.Logger) *OAuthTokenProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &OAuthTokenProvider{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		refreshToken: cfg.RefreshToken,
		logger:       logger.Named("erp-token"),
	}
}

// Token implements TokenProvider
func (p *OAuthTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.expiresAt.Add(-refreshMargin)) {
		return p.accessToken, nil
	}
	if err := p.refresh(ctx); err != nil {
		return "", err
	}
	return p.accessToken, nil
}

// refresh exchanges the refresh token for a new access token.
// Caller must hold p.mu.
func (p *OAuthTokenProvider) refresh(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", p.refreshToken)
	form.Set("client_id", p.clientID)
	form.Set("client_secret", p.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: "token refresh rejected"}
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return fmt.Errorf("token refresh returned empty access token")
	}

	p.accessToken = body.AccessToken
	p.expiresAt = tokenExpiry(body.AccessToken, body.ExpiresIn)
	p.logger.Debug("ERP access token refreshed", zap.Time("expires_at", p.expiresAt))
	return nil
}

// tokenExpiry prefers the exp claim carried by the token itself (the ERP
// issues JWTs) and falls back to the advertised expires_in.
func tokenExpiry(accessToken string, expiresIn int64) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	return time.Now().Add(time.Hour)
}
