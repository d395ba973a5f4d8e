// Package service holds the relay's outbound integrations: hub subscriptions,
// the event mirror and provider API clients.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

// ErrInvalidHubResponse is returned when the hub answers with an unexpected status code.
var ErrInvalidHubResponse = errors.New("invalid hub response")

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// PubSubHub defines the interface for interacting with push hubs.
type PubSubHub interface {
	Subscribe(ctx context.Context, req *SubscribeRequest) (*SubscribeResponse, error)
	Unsubscribe(ctx context.Context, req *SubscribeRequest) (*SubscribeResponse, error)
}

// BodyFormat selects how hub parameters are encoded.
type BodyFormat int

const (
	// FormBody encodes parameters as application/x-www-form-urlencoded (WebSub hubs).
	FormBody BodyFormat = iota
	// JSONBody encodes parameters as a JSON object (Helix webhook hub).
	JSONBody
)

// PubSubHubService sends subscribe and unsubscribe requests to push hubs.
type PubSubHubService struct {
	client HTTPClient
	log    *zap.Logger
}

// NewPubSubHubService creates a new PubSubHubService.
func NewPubSubHubService(client HTTPClient, log *zap.Logger) *PubSubHubService {
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = logger.Named("hub")
	}
	return &PubSubHubService{
		client: client,
		log:    log,
	}
}

// SubscribeRequest contains the parameters for subscribing to a topic.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type SubscribeRequest struct {
	HubURL       string
	TopicURL     string
	CallbackURL  string
	LeaseSeconds int
	Secret       *string
	Format       BodyFormat
	// Header is added to the request, e.g. Client-ID and Authorization for Helix.
	Header http.Header
}

// SubscribeResponse contains the response from the hub.
type SubscribeResponse struct {
	Accepted     bool
	StatusCode   int
	ResponseBody string
	LeaseSeconds int
}

// YouTubeTopic returns the Atom feed topic of a YouTube channel.
func YouTubeTopic(channelID string) string {
	return "https://www.youtube.com/xml/feeds/videos.xml?channel_id=" + url.QueryEscape(channelID)
}

// TwitchStreamTopic returns the Helix streams topic of a Twitch user.
func TwitchStreamTopic(userID string) string {
	return "https://api.twitch.tv/helix/streams?user_id=" + url.QueryEscape(userID)
}

// Subscribe asks the hub to (re)subscribe the callback to a topic for LeaseSeconds.
// Rejections wrap models.ErrUpstreamRenewal.
func (s *PubSubHubService) Subscribe(ctx context.Context, req *SubscribeRequest) (*SubscribeResponse, error) {
	return s.send(ctx, "subscribe", req)
}

// Unsubscribe asks the hub to drop the callback's subscription to a topic.
func (s *PubSubHubService) Unsubscribe(ctx context.Context, req *SubscribeRequest) (*SubscribeResponse, error) {
	return s.send(ctx, "unsubscribe", req)
}

func (s *PubSubHubService) send(ctx context.Context, mode string, req *SubscribeRequest) (*SubscribeResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	params := map[string]string{
		"hub.mode":     mode,
		"hub.topic":    req.TopicURL,
		"hub.callback": req.CallbackURL,
	}
	if mode == "subscribe" {
		params["hub.lease_seconds"] = strconv.Itoa(req.LeaseSeconds)
		if req.Secret != nil && *req.Secret != "" {
			params["hub.secret"] = *req.Secret
		}
	}

	body, contentType, err := encodeParams(params, req.Format)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.HubURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", contentType)

	log := s.log.With(
		zap.String("mode", mode),
		zap.String("hubUrl", req.HubURL),
		zap.String("topicUrl", req.TopicURL),
	)
	log.Debug("Sending hub request", zap.String("callbackUrl", req.CallbackURL), zap.Int("leaseSeconds", req.LeaseSeconds))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	response := &SubscribeResponse{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(respBody),
	}
	if mode == "subscribe" {
		response.LeaseSeconds = req.LeaseSeconds
	}

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusNoContent:
		response.Accepted = true
		log.Debug("Hub accepted request", zap.Int("statusCode", resp.StatusCode))
		return response, nil
	case http.StatusBadRequest:
		log.Warn("Hub rejected request - bad request", zap.Int("statusCode", resp.StatusCode), zap.String("responseBody", response.ResponseBody))
		return response, fmt.Errorf("%w: bad request - %s", models.ErrUpstreamRenewal, response.ResponseBody)
	case http.StatusNotFound:
		log.Warn("Hub rejected request - not found", zap.Int("statusCode", resp.StatusCode), zap.String("responseBody", response.ResponseBody))
		return response, fmt.Errorf("%w: not found - %s", models.ErrUpstreamRenewal, response.ResponseBody)
	case http.StatusUnauthorized:
		log.Warn("Hub rejected request - unauthorized", zap.Int("statusCode", resp.StatusCode))
		return response, fmt.Errorf("%w: %w", models.ErrUpstreamRenewal, models.ErrAuthExpired)
	default:
		log.Error("Unexpected response from hub", zap.Int("statusCode", resp.StatusCode), zap.String("responseBody", response.ResponseBody))
		return response, fmt.Errorf("%w: %w: unexpected status code %d - %s",
			models.ErrUpstreamRenewal, ErrInvalidHubResponse, resp.StatusCode, response.ResponseBody)
	}
}

func encodeParams(params map[string]string, format BodyFormat) (io.Reader, string, error) {
	if format == JSONBody {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, "", fmt.Errorf("marshal hub params: %w", err)
		}
		return bytes.NewReader(encoded), "application/json", nil
	}

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	return strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil
}

// validateRequest validates the subscription request parameters.
func validateRequest(req *SubscribeRequest) error {
	if req == nil {
		return errors.New("request is nil")
	}
	if req.HubURL == "" {
		return errors.New("hub URL is required")
	}
	if req.TopicURL == "" {
		return errors.New("topic URL is required")
	}
	if req.CallbackURL == "" {
		return errors.New("callback URL is required")
	}
	if req.LeaseSeconds < 0 {
		return errors.New("lease seconds must be non-negative")
	}

	if _, err := url.Parse(req.HubURL); err != nil {
		return fmt.Errorf("invalid hub URL: %w", err)
	}
	if _, err := url.Parse(req.TopicURL); err != nil {
		return fmt.Errorf("invalid topic URL: %w", err)
	}
	if _, err := url.Parse(req.CallbackURL); err != nil {
		return fmt.Errorf("invalid callback URL: %w", err)
	}

	return nil
}
