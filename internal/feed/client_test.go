package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/video-ingestion-service/internal/config"
)

const samplePayload = `{
  "kind": "Listing",
  "data": {
    "children": [
      {
        "kind": "t3",
        "data": {
          "title": "Cat jumps",
          "url": "https://v.redd.it/abc",
          "permalink": "/r/videos/comments/abc/cat_jumps/",
          "created_utc": 1700000000.5,
          "is_video": true,
          "subreddit": "videos",
          "over_18": false,
          "score": 1200,
          "num_comments": 45,
          "author": "someone",
          "upvote_ratio": 0.97,
          "media": {
            "reddit_video": {
              "fallback_url": "https://v.redd.it/abc/DASH_480.mp4",
              "dash_url": "https://v.redd.it/abc/DASHPlaylist.mpd",
              "hls_url": "https://v.redd.it/abc/HLSPlaylist.m3u8",
              "width": 1920,
              "height": 1080,
              "duration": 12,
              "bitrate_kbps": 1200,
              "is_gif": false
            }
          }
        }
      },
      {
        "kind": "t3",
        "data": {
          "title": "Just a picture",
          "url": "https://i.redd.it/pic.jpg",
          "permalink": "/r/videos/comments/def/just_a_picture/",
          "created_utc": 1700000100,
          "is_video": false
        }
      }
    ]
  }
}`

func newTestClient(endpoint string) *Client {
	c := NewClient(config.IngestionConfig{
		APIEndpoint: endpoint,
		UserAgent:   "TestBot/1.0",
		Timeout:     30 * time.Second,
		RetryCount:  3,
	})
	c.retryDelay = time.Millisecond

	return c
}

func TestClient_FetchItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/r/videos/top.json", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "day", r.URL.Query().Get("t"))
		assert.Equal(t, "TestBot/1.0", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(samplePayload))
	}))
	defer server.Close()

	items, err := newTestClient(server.URL).FetchItems(context.Background(), "videos", 25)

	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "Cat jumps", first.Title)
	assert.Equal(t, "videos", first.Partition)
	assert.True(t, first.IsVideo)
	assert.True(t, first.HasMedia)
	assert.Equal(t, int64(1700000000), first.CreatedUTC.Unix())
	require.NotNil(t, first.Video)
	assert.Equal(t, "https://v.redd.it/abc/DASH_480.mp4", first.Video.FallbackURL)
	assert.Equal(t, "https://v.redd.it/abc/DASHPlaylist.mpd", first.Video.ManifestURL)
	assert.Equal(t, 1920, first.Video.Width)
	assert.Equal(t, 1080, first.Video.Height)
	assert.Equal(t, "_r_videos_comments_abc_cat_jumps_", first.ID())

	assert.False(t, items[1].IsVideo)
	assert.Nil(t, items[1].Video)
	assert.False(t, items[1].HasMedia)
}

func TestClient_FetchItems_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	items, err := newTestClient(server.URL).FetchItems(context.Background(), "videos", 25)

	assert.Nil(t, items)
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusInternalServerError, fetchErr.StatusCode)
	assert.Contains(t, err.Error(), "API returned status 500")
}

func TestClient_FetchItems_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("invalid json"))
	}))
	defer server.Close()

	items, err := newTestClient(server.URL).FetchItems(context.Background(), "videos", 25)

	assert.Nil(t, items)
	var fetchErr *FetchError
	assert.True(t, errors.As(err, &fetchErr))
	assert.Contains(t, err.Error(), "failed to unmarshal response")
}

func TestClient_FetchItems_MissingData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"kind":"Listing"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FetchItems(context.Background(), "videos", 25)

	var fetchErr *FetchError
	assert.True(t, errors.As(err, &fetchErr))
}

func TestClient_FetchItems_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	client.timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := client.FetchItems(context.Background(), "videos", 25)

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "expected TimeoutError, got %v", err)
	assert.Equal(t, "videos", timeoutErr.Partition)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_FetchWithRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Write([]byte(samplePayload))
	}))
	defer server.Close()

	items, err := newTestClient(server.URL).FetchWithRetry(context.Background(), "videos", 25)

	assert.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_FetchWithRetry_ExceedsRetryLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	items, err := newTestClient(server.URL).FetchWithRetry(context.Background(), "videos", 25)

	assert.Error(t, err)
	assert.Nil(t, items)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_FetchWithRetry_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FetchWithRetry(context.Background(), "doesnotexist", 25)

	var fetchErr *FetchError
	assert.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
