package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lightrelay/notification-relay/internal/models"
)

type mockHTTPClient struct {
	mock.Mock
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

func hubResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewBufferString(body))}
}

func youtubeRequest() *SubscribeRequest {
	return &SubscribeRequest{
		HubURL:       "https://pubsubhubbub.appspot.com/subscribe",
		TopicURL:     YouTubeTopic("UCtest123"),
		CallbackURL:  "https://relay.example.com/youtube",
		LeaseSeconds: 864000,
	}
}

func TestPubSubHubService_Subscribe_Accepted(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusAccepted, http.StatusNoContent} {
		client := new(mockHTTPClient)
		hub := NewPubSubHubService(client, nil)
		req := youtubeRequest()

		client.On("Do", mock.MatchedBy(func(r *http.Request) bool {
			return r.Method == http.MethodPost &&
				r.URL.String() == req.HubURL &&
				r.Header.Get("Content-Type") == "application/x-www-form-urlencoded"
		})).Return(hubResponse(status, "OK"), nil)

		result, err := hub.Subscribe(context.Background(), req)

		require.NoError(t, err)
		assert.True(t, result.Accepted)
		assert.Equal(t, status, result.StatusCode)
		assert.Equal(t, 864000, result.LeaseSeconds)
		client.AssertExpectations(t)
	}
}

func TestPubSubHubService_Subscribe_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		errContains string
		wantAuth    bool
	}{
		{"bad request", http.StatusBadRequest, "bad request", false},
		{"not found", http.StatusNotFound, "not found", false},
		{"unauthorized", http.StatusUnauthorized, "token expired", true},
		{"server error", http.StatusInternalServerError, "unexpected status code 500", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := new(mockHTTPClient)
			hub := NewPubSubHubService(client, nil)
			client.On("Do", mock.Anything).Return(hubResponse(tt.status, "nope"), nil)

			result, err := hub.Subscribe(context.Background(), youtubeRequest())

			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrUpstreamRenewal)
			assert.Contains(t, err.Error(), tt.errContains)
			assert.Equal(t, tt.wantAuth, errors.Is(err, models.ErrAuthExpired))
			require.NotNil(t, result)
			assert.False(t, result.Accepted)
			assert.Equal(t, tt.status, result.StatusCode)
		})
	}
}

func TestPubSubHubService_Subscribe_NetworkError(t *testing.T) {
	t.Parallel()

	client := new(mockHTTPClient)
	hub := NewPubSubHubService(client, nil)
	client.On("Do", mock.Anything).Return(nil, errors.New("network timeout"))

	result, err := hub.Subscribe(context.Background(), youtubeRequest())

	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "send request")
}

func TestPubSubHubService_Subscribe_FormData(t *testing.T) {
	t.Parallel()

	client := new(mockHTTPClient)
	hub := NewPubSubHubService(client, nil)

	secret := "test-secret"
	req := youtubeRequest()
	req.Secret = &secret

	client.On("Do", mock.MatchedBy(func(r *http.Request) bool {
		body, _ := io.ReadAll(r.Body)
		s := string(body)
		return strings.Contains(s, "hub.mode=subscribe") &&
			strings.Contains(s, "hub.topic=https%3A%2F%2Fwww.youtube.com%2Fxml%2Ffeeds%2Fvideos.xml%3Fchannel_id%3DUCtest123") &&
			strings.Contains(s, "hub.callback=https%3A%2F%2Frelay.example.com%2Fyoutube") &&
			strings.Contains(s, "hub.lease_seconds=864000") &&
			strings.Contains(s, "hub.secret=test-secret")
	})).Return(hubResponse(http.StatusAccepted, ""), nil)

	result, err := hub.Subscribe(context.Background(), req)

	require.NoError(t, err)
	assert.True(t, result.Accepted)
	client.AssertExpectations(t)
}

func TestPubSubHubService_Subscribe_JSONWithHeaders(t *testing.T) {
	t.Parallel()

	client := new(mockHTTPClient)
	hub := NewPubSubHubService(client, nil)

	req := &SubscribeRequest{
		HubURL:       "https://api.twitch.tv/helix/webhooks/hub",
		TopicURL:     TwitchStreamTopic("5678"),
		CallbackURL:  "https://relay.example.com/twitch",
		LeaseSeconds: 864000,
		Format:       JSONBody,
		Header: http.Header{
			"Client-Id":     []string{"client-123"},
			"Authorization": []string{"Bearer tok"},
		},
	}

	client.On("Do", mock.MatchedBy(func(r *http.Request) bool {
		var params map[string]string
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			return false
		}
		return r.Header.Get("Content-Type") == "application/json" &&
			r.Header.Get("Client-ID") == "client-123" &&
			r.Header.Get("Authorization") == "Bearer tok" &&
			params["hub.mode"] == "subscribe" &&
			params["hub.topic"] == "https://api.twitch.tv/helix/streams?user_id=5678" &&
			params["hub.lease_seconds"] == "864000"
	})).Return(hubResponse(http.StatusAccepted, ""), nil)

	result, err := hub.Subscribe(context.Background(), req)

	require.NoError(t, err)
	assert.True(t, result.Accepted)
	client.AssertExpectations(t)
}

func TestPubSubHubService_Unsubscribe(t *testing.T) {
	t.Parallel()

	client := new(mockHTTPClient)
	hub := NewPubSubHubService(client, nil)

	client.On("Do", mock.MatchedBy(func(r *http.Request) bool {
		body, _ := io.ReadAll(r.Body)
		s := string(body)
		return strings.Contains(s, "hub.mode=unsubscribe") && !strings.Contains(s, "hub.lease_seconds")
	})).Return(hubResponse(http.StatusAccepted, "OK"), nil)

	result, err := hub.Unsubscribe(context.Background(), youtubeRequest())

	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, 0, result.LeaseSeconds)
	client.AssertExpectations(t)
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		req    *SubscribeRequest
		errMsg string
	}{
		{"nil request", nil, "request is nil"},
		{"missing hub URL", &SubscribeRequest{TopicURL: "https://t", CallbackURL: "https://c"}, "hub URL is required"},
		{"missing topic URL", &SubscribeRequest{HubURL: "https://h", CallbackURL: "https://c"}, "topic URL is required"},
		{"missing callback URL", &SubscribeRequest{HubURL: "https://h", TopicURL: "https://t"}, "callback URL is required"},
		{"negative lease", &SubscribeRequest{HubURL: "https://h", TopicURL: "https://t", CallbackURL: "https://c", LeaseSeconds: -1}, "lease seconds must be non-negative"},
		{"invalid hub URL", &SubscribeRequest{HubURL: "://invalid", TopicURL: "https://t", CallbackURL: "https://c"}, "invalid hub URL"},
		{"valid", &SubscribeRequest{HubURL: "https://h", TopicURL: "https://t", CallbackURL: "https://c", LeaseSeconds: 10}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := validateRequest(tt.req)
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
