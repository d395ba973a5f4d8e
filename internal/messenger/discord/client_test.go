package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightrelay/notification-relay/internal/models"
)

func testPayload() models.MessagePayload {
	return models.MessagePayload{
		Content:      "New Video live!",
		Title:        "A video",
		URL:          "https://www.youtube.com/watch?v=abc",
		Color:        0xe74c3c,
		Timestamp:    time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
		ImageURL:     "https://i.ytimg.com/vi/abc/default.jpg",
		FooterText:   "YouTube",
		Fields:       []models.Field{{Name: "Note", Value: "hello"}},
		ThumbnailURL: "",
	}
}

func TestClient_Send(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/channels/123/messages", r.URL.Path)
		assert.Equal(t, "Bot secret", r.Header.Get("Authorization"))

		var msg message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, "New Video live!", msg.Content)
		require.Len(t, msg.Embeds, 1)
		assert.Equal(t, "A video", msg.Embeds[0].Title)
		assert.Equal(t, "2025-01-15T10:00:00Z", msg.Embeds[0].Timestamp)
		require.NotNil(t, msg.Embeds[0].Image)
		assert.Nil(t, msg.Embeds[0].Thumbnail)
		require.Len(t, msg.Embeds[0].Fields, 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"999","channel_id":"123"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", WithRetry(1, time.Millisecond))
	ref, err := client.Send(context.Background(), "123", testPayload())
	require.NoError(t, err)
	assert.Equal(t, models.MessageRef{ChannelID: "123", MessageID: "999"}, ref)
}

func TestClient_SendDestinationGone(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusNotFound, http.StatusForbidden} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"message":"Unknown Channel","code":10003}`))
		}))

		client := NewClient(server.URL, "secret", WithRetry(3, time.Millisecond))
		_, err := client.Send(context.Background(), "123", testPayload())
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrDestinationGone)
		server.Close()
	}
}

func TestClient_SendRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"1","channel_id":"123"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", WithRetry(5, time.Millisecond))
	ref, err := client.Send(context.Background(), "123", testPayload())
	require.NoError(t, err)
	assert.Equal(t, "1", ref.MessageID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_SendDoesNotRetryBadRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", WithRetry(5, time.Millisecond))
	_, err := client.Send(context.Background(), "123", testPayload())
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrDestinationGone)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Edit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		if r.URL.Path == "/channels/123/messages/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "/channels/123/messages/999", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"999","channel_id":"123"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", WithRetry(1, time.Millisecond))

	err := client.Edit(context.Background(), models.MessageRef{ChannelID: "123", MessageID: "999"}, testPayload())
	require.NoError(t, err)

	err = client.Edit(context.Background(), models.MessageRef{ChannelID: "123", MessageID: "missing"}, testPayload())
	assert.ErrorIs(t, err, models.ErrMessageNotFound)
}

func TestToMessage_OmitsEmptyParts(t *testing.T) {
	t.Parallel()

	msg := toMessage(models.MessagePayload{Title: "t"})
	require.Len(t, msg.Embeds, 1)
	e := msg.Embeds[0]
	assert.Nil(t, e.Image)
	assert.Nil(t, e.Author)
	assert.Nil(t, e.Footer)
	assert.Empty(t, e.Timestamp)
}
