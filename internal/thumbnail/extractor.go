package thumbnail

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cyderes/video-ingestion-service/internal/config"
	"github.com/cyderes/video-ingestion-service/internal/logger"
	"github.com/cyderes/video-ingestion-service/internal/models"
	"github.com/cyderes/video-ingestion-service/internal/scratch"
)

var log = logger.Get("Thumbnail")

const (
	ContentType = "image/jpeg"

	// Frames are captured one second in, or halfway through clips shorter
	// than two seconds.
	DefaultOffset = time.Second
)

// PayloadTracker is told about downloaded bytes while they sit on scratch
// storage. A Track error stops the download. budget.Accountant satisfies it.
type PayloadTracker interface {
	Track(n int64) error
	Release(n int64)
}

// Source describes the video a thumbnail should be taken from. Width,
// Height and Duration are hints used when probing yields nothing better.
type Source struct {
	ID       string
	URL      string
	Width    int
	Height   int
	Duration float64
}

// Extractor downloads a video, captures one frame and leaves the encoded
// image on scratch storage as a ThumbnailArtifact.
type Extractor struct {
	decoder         Decoder
	tracker         PayloadTracker
	httpClient      *http.Client
	userAgent       string
	scratchRoot     string
	timeout         time.Duration
	downloadTimeout time.Duration
	blankThreshold  int
	cacheControl    string
}

// NewExtractor creates an extractor. A nil tracker disables payload tracking.
func NewExtractor(cfg config.ExtractorConfig, decoder Decoder, tracker PayloadTracker, userAgent, cacheControl string) *Extractor {
	return &Extractor{
		decoder:         decoder,
		tracker:         tracker,
		httpClient:      &http.Client{},
		userAgent:       userAgent,
		scratchRoot:     cfg.ScratchDir,
		timeout:         cfg.Timeout,
		downloadTimeout: cfg.DownloadTimeout,
		blankThreshold:  cfg.BlankFrameThreshold,
		cacheControl:    cacheControl,
	}
}

// Extract produces a thumbnail for src inside a fresh workspace under
// scratchRoot. The downloaded video never outlives the call. On error the
// whole workspace is removed; on success the caller must Release the
// returned artifact once it has been published.
func (e *Extractor) Extract(ctx context.Context, src Source, scratchRoot string) (artifact *models.ThumbnailArtifact, err error) {
	if scratchRoot == "" {
		scratchRoot = e.scratchRoot
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	ws, err := scratch.New(scratchRoot)
	if err != nil {
		return nil, &DownloadError{URL: src.URL, Err: err}
	}
	defer func() {
		if err != nil {
			ws.Release()
		}
	}()

	safeID := ScratchName(src.ID)
	videoName, imageName := safeID+".mp4", safeID+".jpg"
	videoPath, imagePath := ws.Path(videoName), ws.Path(imageName)

	var downloaded int64
	defer func() {
		ws.Remove(videoName)
		e.release(downloaded)
	}()

	log.Emit(logger.DEBUG, "Downloading %s to %s\n", src.URL, videoPath)
	downloaded, err = e.download(ctx, src.URL, videoPath)
	if err != nil {
		return nil, err
	}

	probe, err := e.decoder.Probe(ctx, videoPath)
	if err != nil {
		return nil, &ProbeError{Path: videoPath, Err: err}
	}

	sourceWidth, sourceHeight := probe.Width, probe.Height
	if sourceWidth <= 0 || sourceHeight <= 0 {
		sourceWidth, sourceHeight = src.Width, src.Height
	}

	duration := probe.Duration
	if duration <= 0 {
		duration = src.Duration
	}

	req := CaptureRequest{
		Input:  videoPath,
		Output: imagePath,
		Offset: FrameOffset(duration),
		Width:  DefaultWidth,
	}
	if sourceWidth > 0 && sourceHeight > 0 {
		bucket := BucketFor(sourceWidth, sourceHeight)
		req.Width, req.Height = bucket.Width, bucket.Height
	}

	if err = e.decoder.Capture(ctx, req); err != nil {
		return nil, &DecodeError{Path: videoPath, Err: err}
	}

	if err = verify(imagePath); err != nil {
		return nil, &DecodeError{Path: videoPath, Err: err}
	}

	if e.isBlank(imagePath) {
		req.Offset = e.recapture(ctx, ws, req, safeID+"-retry.jpg", duration)
	}

	log.Emit(logger.SUCCESS, "Captured %dx%d frame at %s for %s\n", req.Width, req.Height, req.Offset, src.ID)

	return models.NewThumbnailArtifact(models.ThumbnailArtifact{
		Path:         imagePath,
		Width:        req.Width,
		Height:       req.Height,
		SourceWidth:  sourceWidth,
		SourceHeight: sourceHeight,
		ContentType:  ContentType,
		CacheControl: e.cacheControl,
	}, ws.Release), nil
}

// FrameOffset picks the capture timestamp for a clip of the given length in
// seconds. Clips shorter than two seconds are captured at their midpoint and
// an unknown duration captures the first frame.
func FrameOffset(duration float64) time.Duration {
	if duration <= 0 {
		return 0
	}

	half := time.Duration(duration * float64(time.Second) / 2)
	if half < DefaultOffset {
		return half
	}

	return DefaultOffset
}

// ScratchName derives a filesystem-safe name from an item identifier
func ScratchName(id string) string {
	sum := md5.Sum([]byte(id))
	return hex.EncodeToString(sum[:])
}

func (e *Extractor) download(ctx context.Context, url, dest string) (int64, error) {
	if e.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.downloadTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &DownloadError{URL: url, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, &DownloadError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	file, err := os.Create(dest)
	if err != nil {
		return 0, &DownloadError{URL: url, Err: fmt.Errorf("failed to create scratch file: %w", err)}
	}
	defer file.Close()

	written, err := io.Copy(&trackingWriter{w: file, track: e.track}, resp.Body)
	if err != nil {
		return written, &DownloadError{URL: url, Err: err}
	}

	if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return written, &DownloadError{URL: url, Err: err}
	}

	if written == 0 {
		return 0, &DownloadError{URL: url, Err: errors.New("empty response body")}
	}

	return written, nil
}

func verify(imagePath string) error {
	info, err := os.Stat(imagePath)
	if err != nil {
		return fmt.Errorf("thumbnail file not found: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("thumbnail file is empty")
	}

	return nil
}

// isBlank reports whether the frame's mean luminance is under the configured
// threshold. A zero threshold disables the check.
func (e *Extractor) isBlank(imagePath string) bool {
	if e.blankThreshold <= 0 {
		return false
	}

	luma, err := meanLuminance(imagePath)
	if err != nil {
		log.Emit(logger.WARNING, "Skipping blank frame check for %s: %v\n", imagePath, err)
		return false
	}

	return luma < float64(e.blankThreshold)
}

// recapture takes one more frame at the clip's midpoint and keeps it in
// place of the dark one. Dark clips still yield a thumbnail: when the
// retry is impossible or fails, the first frame stays. Returns the offset of
// the frame that was kept.
func (e *Extractor) recapture(ctx context.Context, ws *scratch.Workspace, req CaptureRequest, retryName string, duration float64) time.Duration {
	retry := req
	retry.Output = ws.Path(retryName)
	retry.Offset = time.Duration(duration * float64(time.Second) / 2)
	if retry.Offset <= req.Offset {
		return req.Offset
	}

	if err := e.decoder.Capture(ctx, retry); err != nil {
		log.Emit(logger.WARNING, "Keeping dark frame for %s, retry at %s failed: %v\n", req.Input, retry.Offset, err)
		ws.Remove(retryName)
		return req.Offset
	}

	if err := verify(retry.Output); err != nil {
		ws.Remove(retryName)
		return req.Offset
	}

	if err := os.Rename(retry.Output, req.Output); err != nil {
		log.Emit(logger.WARNING, "Keeping dark frame for %s: %v\n", req.Input, err)
		ws.Remove(retryName)
		return req.Offset
	}

	return retry.Offset
}

func (e *Extractor) track(n int64) error {
	if e.tracker == nil {
		return nil
	}

	return e.tracker.Track(n)
}

func (e *Extractor) release(n int64) {
	if e.tracker != nil {
		e.tracker.Release(n)
	}
}

type trackingWriter struct {
	w     io.Writer
	track func(int64) error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if trackErr := t.track(int64(n)); trackErr != nil && err == nil {
		err = trackErr
	}
	return n, err
}
