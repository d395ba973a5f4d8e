// Package twitch looks up users and games through the Twitch Helix API.
package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

// User is a Helix user.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// Game is a Helix game.
type Game struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BoxArtURL string `json:"box_art_url"`
}

type dataResponse[T any] struct {
	Data []T `json:"data"`
}

// StatusError is a non-success Helix response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("helix returned status %d: %s", e.StatusCode, e.Body)
}

// Client calls Helix endpoints with the app token.
type Client struct {
	httpClient *http.Client
	apiURL     string
	clientID   string
	tokens     *TokenManager
	attempts   uint
	delay      time.Duration
}

// NewClient creates a Helix client.
func NewClient(apiURL, clientID string, tokens *TokenManager, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		apiURL:     strings.TrimRight(apiURL, "/"),
		clientID:   clientID,
		tokens:     tokens,
		attempts:   3,
		delay:      time.Second,
	}
}

// AuthHeader returns the Client-ID and bearer token headers used for Helix and its hub.
func (c *Client) AuthHeader(ctx context.Context) (http.Header, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Client-ID", c.clientID)
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

// GetUser looks up a user by id. It returns models.ErrLookupMiss when the user does not exist.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var resp dataResponse[User]
	if err := c.get(ctx, "/users", url.Values{"id": {id}}, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch user %s: %w", id, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrLookupMiss)
	}
	return &resp.Data[0], nil
}

// GetGame looks up a game by id. It returns models.ErrLookupMiss when the game does not exist.
func (c *Client) GetGame(ctx context.Context, id string) (*Game, error) {
	if id == "" {
		return nil, fmt.Errorf("empty game id: %w", models.ErrLookupMiss)
	}
	var resp dataResponse[Game]
	if err := c.get(ctx, "/games", url.Values{"id": {id}}, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch game %s: %w", id, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("game %s: %w", id, models.ErrLookupMiss)
	}
	return &resp.Data[0], nil
}

// SizedImageURL fills the {width} and {height} placeholders of a Helix image template.
func SizedImageURL(template string, width, height int) string {
	return strings.NewReplacer(
		"{width}", fmt.Sprint(width),
		"{height}", fmt.Sprint(height),
	).Replace(template)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.apiURL + path + "?" + query.Encode()

	return retry.Do(
		func() error {
			header, err := c.AuthHeader(ctx)
			if err != nil {
				return retry.Unrecoverable(err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header = header

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode == http.StatusUnauthorized {
				// The next attempt fetches a fresh token.
				c.tokens.Invalidate()
				return fmt.Errorf("%w: helix returned 401", models.ErrAuthExpired)
			}
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
				if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
					return statusErr
				}
				return retry.Unrecoverable(statusErr)
			}

			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, context.Canceled) }),
		retry.OnRetry(func(n uint, err error) {
			logger.L().Debug("Retrying Helix request", zap.String("path", path), zap.Uint("attempt", n), zap.Error(err))
		}),
	)
}
