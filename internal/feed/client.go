package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cyderes/video-ingestion-service/internal/config"
	"github.com/cyderes/video-ingestion-service/internal/logger"
	"github.com/cyderes/video-ingestion-service/internal/models"
)

var log = logger.Get("Feed")

// Client fetches ranked items for a partition (subreddit) from the feed API
type Client struct {
	baseURL    string
	userAgent  string
	timeout    time.Duration
	retryCount int
	retryDelay time.Duration
	httpClient *http.Client
}

// NewClient creates a new feed client
func NewClient(cfg config.IngestionConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.APIEndpoint, "/"),
		userAgent:  cfg.UserAgent,
		timeout:    timeout,
		retryCount: cfg.RetryCount,
		retryDelay: time.Second,
		// The per-request deadline is enforced through the request context
		httpClient: &http.Client{},
	}
}

// FetchItems performs a single fetch of the top items of the day for the
// partition. The request is aborted once the client timeout elapses.
func (c *Client) FetchItems(ctx context.Context, partition string, limit int) ([]models.FeedItem, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/r/%s/top.json?limit=%d&t=day", c.baseURL, url.PathEscape(partition), limit)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Partition: partition, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, partition, fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Partition: partition, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, partition, fmt.Errorf("failed to read response body: %w", err))
	}

	var payload listing
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &FetchError{Partition: partition, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	if payload.Data == nil {
		return nil, &FetchError{Partition: partition, Err: errors.New("failed to unmarshal response: missing data")}
	}

	items := make([]models.FeedItem, 0, len(payload.Data.Children))
	for _, child := range payload.Data.Children {
		items = append(items, child.Data.toFeedItem(partition))
	}

	return items, nil
}

// FetchWithRetry retries FetchItems with exponential backoff. Client errors
// (4xx) are not retried.
func (c *Client) FetchWithRetry(ctx context.Context, partition string, limit int) ([]models.FeedItem, error) {
	attempts := c.retryCount
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryDelay
	policy.MaxElapsedTime = 0

	var items []models.FeedItem
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		items, err = c.FetchItems(ctx, partition, limit)
		if err == nil {
			return nil
		}

		var fetchErr *FetchError
		if errors.As(err, &fetchErr) && fetchErr.StatusCode >= 400 && fetchErr.StatusCode < 500 && fetchErr.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}

		log.Emit(logger.WARNING, "Fetch attempt %d/%d for r/%s failed: %v\n", attempt, attempts, partition, err)
		return err
	}

	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)
	if err := backoff.Retry(operation, retry); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("failed after %d attempts: %w", attempt, err)
	}

	return items, nil
}

// classify maps transport failures to a TimeoutError when the per-request
// deadline fired but the parent context is still alive.
func (c *Client) classify(parent, reqCtx context.Context, partition string, err error) error {
	if parent.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Partition: partition, Timeout: c.timeout}
	}

	return &FetchError{Partition: partition, Err: err}
}

type listing struct {
	Data *struct {
		Children []struct {
			Data post `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type post struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	CreatedUTC  float64 `json:"created_utc"`
	IsVideo     bool    `json:"is_video"`
	Subreddit   string  `json:"subreddit"`
	Over18      bool    `json:"over_18"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Author      string  `json:"author"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	Media       *struct {
		Type        string           `json:"type"`
		RedditVideo *models.VideoRef `json:"reddit_video"`
	} `json:"media"`
}

func (p post) toFeedItem(partition string) models.FeedItem {
	sec, frac := math.Modf(p.CreatedUTC)
	item := models.FeedItem{
		Permalink:   p.Permalink,
		URL:         p.URL,
		Title:       p.Title,
		Author:      p.Author,
		Partition:   partition,
		Score:       p.Score,
		NumComments: p.NumComments,
		UpvoteRatio: p.UpvoteRatio,
		CreatedUTC:  time.Unix(int64(sec), int64(frac*1e9)).UTC(),
		NSFW:        p.Over18,
		IsVideo:     p.IsVideo,
		HasMedia:    p.Media != nil,
	}

	if p.Subreddit != "" {
		item.Partition = p.Subreddit
	}

	if p.Media != nil {
		item.MediaType = p.Media.Type
		if p.Media.RedditVideo != nil {
			video := *p.Media.RedditVideo
			item.Video = &video
		}
	}

	return item
}
