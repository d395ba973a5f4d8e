package blogger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/lightrelay/notification-relay/internal/models"
)

func TestClient_GetPost(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v3/blogs/814/posts/123":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"123","title":"PBE Update","url":"https://blog.example.com/p.html",
				"content":"<p>Hello</p>","labels":["PBE"],
				"author":{"id":"a1","displayName":"Moobeat"},
				"published":"2025-01-15T10:00:00-08:00","updated":"2025-01-15T12:30:00-08:00"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
		}
	}))
	defer server.Close()

	c, err := NewClient(context.Background(), "key", "814",
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)
	c.delay = time.Millisecond

	p, err := c.GetPost(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "PBE Update", p.Title)
	assert.Equal(t, "<p>Hello</p>", p.Content)
	assert.Equal(t, []string{"PBE"}, p.Labels)
	assert.Equal(t, "Moobeat", p.AuthorName)
	assert.True(t, p.Updated.After(p.Published))
	assert.Equal(t, "814", c.BlogID())

	_, err = c.GetPost(context.Background(), "999")
	assert.ErrorIs(t, err, models.ErrLookupMiss)
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), "", "814")
	require.Error(t, err)
	_, err = NewClient(context.Background(), "key", "")
	require.Error(t, err)
}
