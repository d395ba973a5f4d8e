// Package discord delivers messages through the Discord REST API.
package discord

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

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

const defaultBaseURL = "https://discord.com/api/v10"

// Client is a minimal bot client for sending and editing channel messages.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	attempts   uint
	delay      time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithRetry overrides the retry attempts and base delay.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(cl *Client) {
		cl.attempts = attempts
		cl.delay = delay
	}
}

// NewClient creates a Client authenticating with a bot token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		attempts:   4,
		delay:      time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts payload to the channel identified by destinationID.
func (c *Client) Send(ctx context.Context, destinationID string, payload models.MessagePayload) (models.MessageRef, error) {
	var msg messageResponse
	path := fmt.Sprintf("/channels/%s/messages", destinationID)

	err := c.do(ctx, http.MethodPost, path, toMessage(payload), &msg)
	if err != nil {
		if apiErr, ok := asAPIError(err); ok && apiErr.destinationGone() {
			return models.MessageRef{}, fmt.Errorf("send to %s: %w: %v", destinationID, models.ErrDestinationGone, err)
		}
		return models.MessageRef{}, fmt.Errorf("send to %s: %w", destinationID, err)
	}

	return models.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

// Edit replaces the content of a previously sent message.
func (c *Client) Edit(ctx context.Context, ref models.MessageRef, payload models.MessagePayload) error {
	path := fmt.Sprintf("/channels/%s/messages/%s", ref.ChannelID, ref.MessageID)

	err := c.do(ctx, http.MethodPatch, path, toMessage(payload), nil)
	if err != nil {
		if apiErr, ok := asAPIError(err); ok && apiErr.destinationGone() {
			return fmt.Errorf("edit %s/%s: %w: %v", ref.ChannelID, ref.MessageID, models.ErrMessageNotFound, err)
		}
		return fmt.Errorf("edit %s/%s: %w", ref.ChannelID, ref.MessageID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Authorization", "Bot "+c.token)
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					logger.L().Warn("Failed to close response body", zap.Error(closeErr))
				}
			}()

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				if out == nil {
					return nil
				}
				if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
					return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
				}
				return nil
			}

			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
			if apiErr.retryable() {
				return apiErr
			}
			return retry.Unrecoverable(apiErr)
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.L().Debug("Retrying discord request",
				zap.String("method", method),
				zap.String("path", path),
				zap.Uint("attempt", n),
				zap.Error(err),
			)
		}),
	)
}

// APIError is a non-success Discord response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord API returned status %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (e *APIError) destinationGone() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusForbidden
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
