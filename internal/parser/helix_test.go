package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamNotification(t *testing.T) {
	t.Parallel()

	t.Run("live stream", func(t *testing.T) {
		t.Parallel()

		body := `{"data":[{"id":"1","user_id":"5678","user_name":"wjdtkdqhs","game_id":"21779",
			"type":"live","title":"Best Stream Ever","viewer_count":417,
			"started_at":"2017-12-01T10:09:45Z",
			"thumbnail_url":"https://static-cdn.jtvnw.net/previews-ttv/live_user_wjdtkdqhs-{width}x{height}.jpg"}]}`

		got, err := ParseStreamNotification([]byte(body))
		require.NoError(t, err)
		require.Len(t, got.Data, 1)
		assert.Equal(t, "5678", got.Data[0].UserID)
		assert.Equal(t, "21779", got.Data[0].GameID)
		assert.Equal(t, "Best Stream Ever", got.Data[0].Title)
		assert.Equal(t, 2017, got.Data[0].StartedAt.Year())
	})

	t.Run("stream ended", func(t *testing.T) {
		t.Parallel()

		got, err := ParseStreamNotification([]byte(`{"data":[]}`))
		require.NoError(t, err)
		assert.Empty(t, got.Data)
	})

	t.Run("missing data", func(t *testing.T) {
		t.Parallel()

		_, err := ParseStreamNotification([]byte(`{}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing data")
	})

	t.Run("missing user id", func(t *testing.T) {
		t.Parallel()

		_, err := ParseStreamNotification([]byte(`{"data":[{"id":"1"}]}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing user_id")
	})

	t.Run("invalid json", func(t *testing.T) {
		t.Parallel()

		_, err := ParseStreamNotification([]byte(`<xml/>`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unmarshal stream notification")
	})
}
