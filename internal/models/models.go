package models

import (
	"regexp"
	"time"
)

// VideoRef describes the playable video attached to a feed item
type VideoRef struct {
	FallbackURL string  `json:"fallback_url"`
	ManifestURL string  `json:"dash_url"`
	HLSURL      string  `json:"hls_url"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Duration    float64 `json:"duration"`
	BitrateKbps int     `json:"bitrate_kbps"`
	IsGIF       bool    `json:"is_gif"`
}

// FeedItem represents a single ranked item fetched from a feed partition
type FeedItem struct {
	Permalink   string
	URL         string
	Title       string
	Author      string
	Partition   string
	Score       int
	NumComments int
	UpvoteRatio float64
	CreatedUTC  time.Time
	NSFW        bool
	IsVideo     bool
	HasMedia    bool
	MediaType   string
	Video       *VideoRef
}

// ID returns the normalized identifier of the item
func (i FeedItem) ID() string {
	return NormalizeID(i.Permalink)
}

// ProcessingRecord is the persisted document for an ingested video item
type ProcessingRecord struct {
	PostID          string    `json:"postId" bson:"_id" dynamodbav:"postId"`
	Title           string    `json:"title" bson:"title" dynamodbav:"title"`
	URL             string    `json:"url" bson:"url" dynamodbav:"url"`
	Thumbnail       string    `json:"thumbnail" bson:"thumbnail" dynamodbav:"thumbnail"`
	ThumbnailWidth  int       `json:"thumbnail_width" bson:"thumbnail_width" dynamodbav:"thumbnail_width"`
	ThumbnailHeight int       `json:"thumbnail_height" bson:"thumbnail_height" dynamodbav:"thumbnail_height"`
	Permalink       string    `json:"permalink" bson:"permalink" dynamodbav:"permalink"`
	Created         int64     `json:"created" bson:"created" dynamodbav:"created"`
	IsVideo         bool      `json:"is_video" bson:"is_video" dynamodbav:"is_video"`
	VideoURL        string    `json:"video_url" bson:"video_url" dynamodbav:"video_url"`
	VideoSource     string    `json:"video_source" bson:"video_source" dynamodbav:"video_source"`
	VideoWidth      int       `json:"video_width" bson:"video_width" dynamodbav:"video_width"`
	VideoHeight     int       `json:"video_height" bson:"video_height" dynamodbav:"video_height"`
	Duration        float64   `json:"duration" bson:"duration" dynamodbav:"duration"`
	Bitrate         int       `json:"bitrate" bson:"bitrate" dynamodbav:"bitrate"`
	IsGIF           bool      `json:"is_gif" bson:"is_gif" dynamodbav:"is_gif"`
	HasAudio        bool      `json:"has_audio" bson:"has_audio" dynamodbav:"has_audio"`
	Subreddit       string    `json:"subreddit" bson:"subreddit" dynamodbav:"subreddit"`
	NSFW            bool      `json:"nsfw" bson:"nsfw" dynamodbav:"nsfw"`
	Score           int       `json:"score" bson:"score" dynamodbav:"score"`
	Comments        int       `json:"comments" bson:"comments" dynamodbav:"comments"`
	Author          string    `json:"author" bson:"author" dynamodbav:"author"`
	UpvoteRatio     float64   `json:"upvoteRatio" bson:"upvoteRatio" dynamodbav:"upvoteRatio"`
	HasMedia        bool      `json:"has_media" bson:"has_media" dynamodbav:"has_media"`
	MediaType       string    `json:"media_type,omitempty" bson:"media_type,omitempty" dynamodbav:"media_type,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt" bson:"updatedAt" dynamodbav:"updatedAt"`
}

// ThumbnailArtifact is an encoded still frame waiting on scratch storage
// to be published. It is never persisted.
type ThumbnailArtifact struct {
	Path         string
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
	ContentType  string
	CacheControl string

	release func()
}

// NewThumbnailArtifact binds the cleanup func that removes the artifact's
// scratch files.
func NewThumbnailArtifact(a ThumbnailArtifact, release func()) *ThumbnailArtifact {
	a.release = release
	return &a
}

// Release removes the artifact from scratch storage. Safe to call more than once.
func (a *ThumbnailArtifact) Release() {
	if a == nil || a.release == nil {
		return
	}

	a.release()
	a.release = nil
}

// BatchStats tracks the outcome of one orchestrator run
type BatchStats struct {
	ProcessedCount      int       `json:"processedCount" bson:"processedCount" dynamodbav:"processedCount"`
	ErrorCount          int       `json:"errorCount" bson:"errorCount" dynamodbav:"errorCount"`
	SkippedCount        int       `json:"skippedCount" bson:"skippedCount" dynamodbav:"skippedCount"`
	PartitionsProcessed int       `json:"partitionsProcessed" bson:"partitionsProcessed" dynamodbav:"partitionsProcessed"`
	PartitionsFailed    int       `json:"partitionsFailed" bson:"partitionsFailed" dynamodbav:"partitionsFailed"`
	Aborted             bool      `json:"aborted" bson:"aborted" dynamodbav:"aborted"`
	AbortReason         string    `json:"abortReason,omitempty" bson:"abortReason,omitempty" dynamodbav:"abortReason,omitempty"`
	StartedAt           time.Time `json:"startedAt" bson:"startedAt" dynamodbav:"startedAt"`
	Timestamp           time.Time `json:"timestamp" bson:"timestamp" dynamodbav:"timestamp"`
}

var nonWordChars = regexp.MustCompile(`[^\w]`)

// NormalizeID derives the store key for a permalink by replacing every
// character outside [A-Za-z0-9_] with an underscore.
func NormalizeID(permalink string) string {
	return nonWordChars.ReplaceAllString(permalink, "_")
}
