package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cyderes/video-ingestion-service/internal/models"
)

func TestNewRecord(t *testing.T) {
	item := videoItem("videos", "abc", 2*time.Hour)
	item.Video.BitrateKbps = 2400
	artifact := &models.ThumbnailArtifact{Width: 640, Height: 360, SourceWidth: 1280, SourceHeight: 720}

	record := NewRecord(item, "https://cdn/thumbnails/x.jpg", artifact)

	assert.Equal(t, "_r_videos_comments_abc_cat_jumps_", record.PostID)
	assert.Equal(t, "https://cdn/thumbnails/x.jpg", record.Thumbnail)
	assert.Equal(t, "https://v.redd.it/abc/DASHPlaylist.mpd", record.VideoURL, "the manifest is preferred")
	assert.Equal(t, "reddit", record.VideoSource)
	assert.Equal(t, 1920, record.VideoWidth, "feed dimensions win over probed ones")
	assert.Equal(t, 640, record.ThumbnailWidth)
	assert.Equal(t, 2400, record.Bitrate)
	assert.Equal(t, testNow.Add(-2*time.Hour).Unix(), record.Created)
	assert.Equal(t, "videos", record.Subreddit)
	assert.True(t, record.HasAudio)
	assert.True(t, record.IsVideo)
}

func TestNewRecord_Defaults(t *testing.T) {
	item := videoItem("videos", "abc", time.Hour)
	item.Author = ""
	item.Video.Width, item.Video.Height = 0, 0
	item.Video.IsGIF = true

	record := NewRecord(item, "", &models.ThumbnailArtifact{SourceWidth: 1080, SourceHeight: 1920})

	assert.Equal(t, "[deleted]", record.Author)
	assert.Equal(t, 1.0, record.UpvoteRatio)
	assert.Equal(t, 1080, record.VideoWidth)
	assert.Equal(t, 1920, record.VideoHeight)
	assert.False(t, record.HasAudio, "animated loops carry no audio")
}

func TestNewRecord_VideoURLFallsBackWithoutManifest(t *testing.T) {
	item := videoItem("videos", "abc", time.Hour)
	item.Video.ManifestURL = ""

	record := NewRecord(item, "", nil)

	assert.Equal(t, "https://v.redd.it/abc/DASH_480.mp4", record.VideoURL)
	assert.False(t, record.HasAudio)
}
