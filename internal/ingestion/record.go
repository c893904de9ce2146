package ingestion

import (
	"github.com/cyderes/video-ingestion-service/internal/models"
)

const (
	videoSource   = "reddit"
	deletedAuthor = "[deleted]"
)

// NewRecord builds the stored document for an item whose thumbnail has been
// published at thumbnailURL.
func NewRecord(item models.FeedItem, thumbnailURL string, artifact *models.ThumbnailArtifact) models.ProcessingRecord {
	record := models.ProcessingRecord{
		PostID:      item.ID(),
		Title:       item.Title,
		URL:         item.URL,
		Thumbnail:   thumbnailURL,
		Permalink:   item.Permalink,
		Created:     item.CreatedUTC.Unix(),
		IsVideo:     item.IsVideo,
		VideoSource: videoSource,
		Subreddit:   item.Partition,
		NSFW:        item.NSFW,
		Score:       item.Score,
		Comments:    item.NumComments,
		Author:      item.Author,
		UpvoteRatio: item.UpvoteRatio,
		HasMedia:    item.HasMedia,
		MediaType:   item.MediaType,
	}

	if record.Author == "" {
		record.Author = deletedAuthor
	}
	if record.UpvoteRatio == 0 {
		record.UpvoteRatio = 1.0
	}

	if video := item.Video; video != nil {
		// Players get the adaptive manifest; the fallback is the single-file rendition
		record.VideoURL = video.ManifestURL
		if record.VideoURL == "" {
			record.VideoURL = video.FallbackURL
		}
		record.VideoWidth = video.Width
		record.VideoHeight = video.Height
		record.Duration = video.Duration
		record.Bitrate = video.BitrateKbps
		record.IsGIF = video.IsGIF
		record.HasAudio = video.ManifestURL != "" && !video.IsGIF
	}

	if artifact != nil {
		record.ThumbnailWidth = artifact.Width
		record.ThumbnailHeight = artifact.Height
		if record.VideoWidth == 0 || record.VideoHeight == 0 {
			record.VideoWidth, record.VideoHeight = artifact.SourceWidth, artifact.SourceHeight
		}
	}

	return record
}
