package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JasonSowers/twitch-pubsub/internal/domain"
	"github.com/JasonSowers/twitch-pubsub/internal/logging"
)

// tokenTTLMargin is subtracted from the reported expiry before caching, so a
// cached token is never handed out moments before it dies.
const tokenTTLMargin = 60 * time.Second

// TokenRefreshError distinguishes revoked grants from transient failures.
type TokenRefreshError struct {
	Revoked bool
	Err     error
}

func (e *TokenRefreshError) Error() string {
	if e.Revoked {
		return fmt.Sprintf("token revoked: %v", e.Err)
	}
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// TokenCache stores access tokens keyed by channel. A miss returns "" with a
// nil error.
type TokenCache interface {
	Get(ctx context.Context, channelID string) (string, error)
	Set(ctx context.Context, channelID, token string, ttl time.Duration) error
	Delete(ctx context.Context, channelID string) error
}

// TokenProvider resolves per-channel access tokens: cached tokens are served
// directly, otherwise the stored refresh token is exchanged and the rotated
// refresh token written back. Concurrent refreshes for the same channel are
// collapsed to one round-trip.
type TokenProvider struct {
	repo         domain.BroadcasterRepository
	cache        TokenCache
	clientID     string
	clientSecret string
	oauthURL     string
	httpClient   *http.Client
	group        singleflight.Group
}

func NewTokenProvider(repo domain.BroadcasterRepository, cache TokenCache, clientID, clientSecret, oauthURL string) *TokenProvider {
	return &TokenProvider{
		repo:         repo,
		cache:        cache,
		clientID:     clientID,
		clientSecret: clientSecret,
		oauthURL:     oauthURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Token implements domain.TokenSource.
func (p *TokenProvider) Token(ctx context.Context, channelID string) (string, error) {
	token, err := p.cache.Get(ctx, channelID)
	if err != nil {
		logging.WithChannel(channelID).Warn("Token cache read failed", "error", err)
	} else if token != "" {
		return token, nil
	}

	v, err, _ := p.group.Do(channelID, func() (any, error) {
		return p.refreshForChannel(ctx, channelID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token for a channel, forcing a refresh on the
// next resolution.
func (p *TokenProvider) Invalidate(ctx context.Context, channelID string) {
	if err := p.cache.Delete(ctx, channelID); err != nil {
		logging.WithChannel(channelID).Warn("Token cache delete failed", "error", err)
	}
}

func (p *TokenProvider) refreshForChannel(ctx context.Context, channelID string) (string, error) {
	b, err := p.repo.Get(ctx, channelID)
	if err != nil {
		return "", fmt.Errorf("load broadcaster %s: %w", channelID, err)
	}

	access, newRefresh, expiresIn, err := p.Exchange(ctx, b.RefreshToken)
	if err != nil {
		return "", err
	}

	// Twitch rotates refresh tokens; losing the new one strands the channel.
	if newRefresh != "" && newRefresh != b.RefreshToken {
		if err := p.repo.UpdateRefreshToken(ctx, channelID, newRefresh); err != nil {
			return "", fmt.Errorf("persist rotated refresh token: %w", err)
		}
	}

	ttl := time.Duration(expiresIn)*time.Second - tokenTTLMargin
	if ttl > 0 {
		if err := p.cache.Set(ctx, channelID, access, ttl); err != nil {
			logging.WithChannel(channelID).Warn("Token cache write failed", "error", err)
		}
	}

	return access, nil
}

// Exchange performs the OAuth refresh-token grant and returns the new token
// pair. Used directly during onboarding, before a broadcaster row exists.
func (p *TokenProvider) Exchange(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, expiresIn int, err error) {
	data := url.Values{}
	data.Set("client_id", p.clientID)
	data.Set("client_secret", p.clientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.oauthURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", "", 0, &TokenRefreshError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", "", 0, &TokenRefreshError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", 0, &TokenRefreshError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		revoked := resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized
		return "", "", 0, &TokenRefreshError{
			Revoked: revoked,
			Err:     fmt.Errorf("refresh failed with status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", "", 0, &TokenRefreshError{Err: err}
	}

	return result.AccessToken, result.RefreshToken, result.ExpiresIn, nil
}
