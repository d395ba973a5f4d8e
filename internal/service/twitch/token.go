package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

// TokenManager caches an app access token obtained through the client-credentials grant.
type TokenManager struct {
	cfg         clientcredentials.Config
	validateURL string
	httpClient  *http.Client

	mu    sync.Mutex
	token *oauth2.Token
}

// NewTokenManager creates a TokenManager.
func NewTokenManager(clientID, clientSecret, tokenURL, validateURL string, httpClient *http.Client) *TokenManager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenManager{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		validateURL: validateURL,
		httpClient:  httpClient,
	}
}

// Token returns the cached access token, fetching a new one when none is cached or it expired.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token.Valid() {
		return m.token.AccessToken, nil
	}
	return m.refreshLocked(ctx)
}

// Invalidate drops the cached token.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
}

// EnsureValid checks the cached token against the validation endpoint and refreshes it
// once when it is rejected. It returns models.ErrAuthExpired when no valid token could be obtained.
func (m *TokenManager) EnsureValid(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token.Valid() {
		ok, err := m.validateLocked(ctx, m.token.AccessToken)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		logger.L().Info("Twitch app token rejected, refreshing")
	}

	if _, err := m.refreshLocked(ctx); err != nil {
		return err
	}
	return nil
}

func (m *TokenManager) refreshLocked(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := m.cfg.Token(ctx)
	if err != nil {
		m.token = nil
		return "", fmt.Errorf("%w: client credentials exchange: %v", models.ErrAuthExpired, err)
	}
	m.token = tok
	logger.L().Debug("Obtained Twitch app token", zap.Time("expiry", tok.Expiry))
	return tok.AccessToken, nil
}

func (m *TokenManager) validateLocked(ctx context.Context, accessToken string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.validateURL, http.NoBody)
	if err != nil {
		return false, fmt.Errorf("create validate request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("validate token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusUnauthorized:
		return false, nil
	default:
		return false, errors.New("validate token: unexpected status " + resp.Status)
	}
}
