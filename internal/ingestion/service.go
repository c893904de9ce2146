package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyderes/video-ingestion-service/internal/budget"
	"github.com/cyderes/video-ingestion-service/internal/config"
	"github.com/cyderes/video-ingestion-service/internal/eligibility"
	"github.com/cyderes/video-ingestion-service/internal/logger"
	"github.com/cyderes/video-ingestion-service/internal/models"
	"github.com/cyderes/video-ingestion-service/internal/publish"
	"github.com/cyderes/video-ingestion-service/internal/storage"
	"github.com/cyderes/video-ingestion-service/internal/thumbnail"
	"golang.org/x/sync/errgroup"
)

var log = logger.Get("Ingest")

var (
	// ErrBatchRunning is returned when a batch is requested while another is in flight
	ErrBatchRunning = errors.New("a batch is already running")

	// ErrInvalidVideoURL rejects on-demand thumbnail requests for unplayable URLs
	ErrInvalidVideoURL = errors.New("video url is not a playable video")
)

// FeedSource lists the ranked items of a partition
type FeedSource interface {
	FetchWithRetry(ctx context.Context, partition string, limit int) ([]models.FeedItem, error)
}

// FrameExtractor turns a video into a thumbnail artifact on scratch storage
type FrameExtractor interface {
	Extract(ctx context.Context, src thumbnail.Source, scratchRoot string) (*models.ThumbnailArtifact, error)
}

// Budget reports whether the batch may keep going
type Budget interface {
	Check() error
}

// Dependencies are the collaborators a Service drives. Budget may be nil.
type Dependencies struct {
	Feed      FeedSource
	Storage   storage.Storage
	Extractor FrameExtractor
	Publisher publish.Publisher
	Budget    Budget
}

// Status is a snapshot of the orchestrator for the status endpoint
type Status struct {
	Running   bool               `json:"running"`
	LastRun   *models.BatchStats `json:"lastRun,omitempty"`
	LastError string             `json:"lastError,omitempty"`
}

// Service runs ingestion batches: fetch each partition, filter, then
// extract, publish and persist every eligible item.
type Service struct {
	config      config.IngestionConfig
	keyPrefix   string
	scratchRoot string

	feed      FeedSource
	storage   storage.Storage
	extractor FrameExtractor
	publisher publish.Publisher
	budget    Budget

	running atomic.Bool

	mu        sync.Mutex
	base      context.Context
	lastRun   *models.BatchStats
	lastError string

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewService creates a new ingestion service
func NewService(cfg *config.Config, deps Dependencies) *Service {
	return &Service{
		config:      cfg.Ingestion,
		keyPrefix:   cfg.Publisher.KeyPrefix,
		scratchRoot: cfg.Extractor.ScratchDir,
		feed:        deps.Feed,
		storage:     deps.Storage,
		extractor:   deps.Extractor,
		publisher:   deps.Publisher,
		budget:      deps.Budget,
		base:        context.Background(),
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepContext,
	}
}

// Start runs a batch immediately and then once per interval until ctx is
// cancelled. Batch failures are logged and do not stop the schedule.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.runScheduled(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runScheduled(ctx)
		}
	}
}

func (s *Service) runScheduled(ctx context.Context) {
	if _, err := s.RunBatch(ctx); err != nil {
		if errors.Is(err, ErrBatchRunning) {
			log.Emit(logger.WARNING, "Skipping scheduled batch: %v\n", err)
			return
		}
		log.Emit(logger.ERROR, "Batch failed: %v\n", err)
	}
}

// Trigger starts a batch in the background. It fails with ErrBatchRunning
// instead of queueing behind a batch that is already in flight.
func (s *Service) Trigger() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBatchRunning
	}

	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	go func() {
		defer s.running.Store(false)
		if _, err := s.runBatch(base); err != nil {
			log.Emit(logger.ERROR, "Triggered batch failed: %v\n", err)
		}
	}()

	return nil
}

// Running reports whether a batch is in flight
func (s *Service) Running() bool {
	return s.running.Load()
}

// Status returns the outcome of the most recent batch run by this process
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{Running: s.Running(), LastError: s.lastError}
	if s.lastRun != nil {
		last := *s.lastRun
		status.LastRun = &last
	}

	return status
}

// RunBatch processes every configured partition once. Per-item failures are
// counted and never stop the batch; a memory budget breach or cancellation
// does, and is returned. Stats are written in every case.
func (s *Service) RunBatch(ctx context.Context) (models.BatchStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return models.BatchStats{}, ErrBatchRunning
	}
	defer s.running.Store(false)

	return s.runBatch(ctx)
}

func (s *Service) runBatch(ctx context.Context) (models.BatchStats, error) {
	if s.config.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.BatchTimeout)
		defer cancel()
	}

	run := &batchRun{startedAt: s.now()}
	log.Emit(logger.INFO, "Starting batch over %d partitions (policy %s)\n", len(s.config.Partitions), eligibility.PolicyVersion)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(clampConcurrency(s.config.PartitionConcurrency))

	for _, partition := range s.config.Partitions {
		if groupCtx.Err() != nil {
			break
		}

		group.Go(func() error {
			return s.processPartition(groupCtx, run, partition)
		})
	}

	abortErr := group.Wait()
	if abortErr == nil && ctx.Err() != nil {
		abortErr = ctx.Err()
	}

	stats := run.snapshot(s.now())
	if abortErr != nil {
		stats.Aborted = true
		stats.AbortReason = abortErr.Error()
	}

	s.writeStats(stats)
	s.remember(stats, abortErr)

	if abortErr != nil {
		log.Emit(logger.STOP, "Batch aborted after %d processed, %d errors: %v\n", stats.ProcessedCount, stats.ErrorCount, abortErr)
		return stats, fmt.Errorf("batch aborted: %w", abortErr)
	}

	log.Emit(logger.SUCCESS, "Batch complete: %d processed, %d skipped, %d errors, %d/%d partitions failed\n",
		stats.ProcessedCount, stats.SkippedCount, stats.ErrorCount, stats.PartitionsFailed, len(s.config.Partitions))

	return stats, nil
}

// processPartition returns an error only when the whole batch must stop
func (s *Service) processPartition(ctx context.Context, run *batchRun, partition string) error {
	if err := s.checkBudget(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	items, err := s.feed.FetchWithRetry(ctx, partition, s.config.BatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Emit(logger.ERROR, "[r/%s] step=fetch: %v\n", partition, err)
		run.partitionsFailed.Add(1)
		return s.sleep(ctx, s.config.PartitionDelay)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID())
	}

	existing, err := s.storage.ExistingIDs(ctx, ids)
	if err != nil {
		// Each item is re-checked before extraction, so this only costs lookups
		log.Emit(logger.WARNING, "[r/%s] step=lookup: %v\n", partition, err)
		existing = make(map[string]bool)
	}

	log.Emit(logger.INFO, "[r/%s] Fetched %d items, %d already stored\n", partition, len(items), len(existing))

	for _, item := range items {
		if err := s.checkBudget(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		decision := eligibility.Evaluate(item, s.now(), s.recencyWindow(), existing)
		if !decision.Eligible() {
			log.Emit(logger.DEBUG, "[r/%s] Skipping %s: %s\n", partition, decision.ID, decision.Reason)
			run.skipped.Add(1)
			continue
		}

		// Listings can repeat an item; only the first copy is processed
		existing[decision.ID] = true

		switch err := s.processItem(ctx, item); {
		case err == nil:
			run.processed.Add(1)
		case errors.Is(err, errAlreadyStored):
			run.skipped.Add(1)
		case errors.Is(err, budget.ErrMemoryBudgetExceeded):
			return err
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}

			log.Emit(logger.ERROR, "[r/%s] %s %v\n", partition, decision.ID, err)
			run.errors.Add(1)
		}

		if err := s.sleep(ctx, s.config.ItemDelay); err != nil {
			return err
		}
	}

	run.partitionsProcessed.Add(1)
	return s.sleep(ctx, s.config.PartitionDelay)
}

var errAlreadyStored = errors.New("record already stored")

// stepError tags an item failure with the pipeline step that produced it
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return fmt.Sprintf("step=%s: %v", e.step, e.err) }

func (e *stepError) Unwrap() error { return e.err }

func (s *Service) processItem(ctx context.Context, item models.FeedItem) error {
	id := item.ID()

	// The batch pre-load may be stale if another run stored this item since
	exists, err := s.storage.RecordExists(ctx, id)
	if err != nil {
		return &stepError{step: "lookup", err: err}
	}
	if exists {
		log.Emit(logger.DEBUG, "Skipping %s: stored by a concurrent run\n", id)
		return errAlreadyStored
	}

	video := item.Video
	artifact, err := s.extractor.Extract(ctx, thumbnail.Source{
		ID:       id,
		URL:      video.FallbackURL,
		Width:    video.Width,
		Height:   video.Height,
		Duration: video.Duration,
	}, s.scratchRoot)
	if err != nil {
		return &stepError{step: "extract", err: err}
	}
	defer artifact.Release()

	thumbnailURL, err := s.publisher.Publish(ctx, artifact, publish.KeyFor(s.keyPrefix, id))
	if err != nil {
		return &stepError{step: "upload", err: err}
	}

	if err := s.storage.SaveRecord(ctx, NewRecord(item, thumbnailURL, artifact)); err != nil {
		return &stepError{step: "persist", err: err}
	}

	log.Emit(logger.NEW, "[r/%s] Stored %s (%dx%d thumbnail)\n", item.Partition, id, artifact.Width, artifact.Height)
	return nil
}

// GenerateThumbnail extracts and publishes a thumbnail for a single video
// outside of any batch. An empty id derives a stable one from the URL.
func (s *Service) GenerateThumbnail(ctx context.Context, videoURL, id string) (string, error) {
	if !eligibility.IsPlayableURL(videoURL) {
		return "", ErrInvalidVideoURL
	}

	if id == "" {
		id = thumbnail.ScratchName(videoURL)
	} else {
		id = models.NormalizeID(id)
	}

	artifact, err := s.extractor.Extract(ctx, thumbnail.Source{ID: id, URL: videoURL}, s.scratchRoot)
	if err != nil {
		return "", err
	}
	defer artifact.Release()

	return s.publisher.Publish(ctx, artifact, publish.KeyFor(s.keyPrefix, id))
}

func (s *Service) checkBudget() error {
	if s.budget == nil {
		return nil
	}

	return s.budget.Check()
}

func (s *Service) recencyWindow() time.Duration {
	if s.config.RecencyWindow > 0 {
		return s.config.RecencyWindow
	}

	return eligibility.DefaultRecencyWindow
}

// writeStats persists stats even when the batch context is already done
func (s *Service) writeStats(stats models.BatchStats) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.storage.SaveBatchStats(ctx, stats); err != nil {
		log.Emit(logger.ERROR, "Failed to save batch stats: %v\n", err)
	}
}

func (s *Service) remember(stats models.BatchStats, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastRun = &stats
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
}

func clampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > config.MaxPartitionConcurrency {
		return config.MaxPartitionConcurrency
	}

	return n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// batchRun holds the counters shared by concurrently processed partitions
type batchRun struct {
	startedAt           time.Time
	processed           atomic.Int64
	errors              atomic.Int64
	skipped             atomic.Int64
	partitionsProcessed atomic.Int64
	partitionsFailed    atomic.Int64
}

func (r *batchRun) snapshot(finishedAt time.Time) models.BatchStats {
	return models.BatchStats{
		ProcessedCount:      int(r.processed.Load()),
		ErrorCount:          int(r.errors.Load()),
		SkippedCount:        int(r.skipped.Load()),
		PartitionsProcessed: int(r.partitionsProcessed.Load()),
		PartitionsFailed:    int(r.partitionsFailed.Load()),
		StartedAt:           r.startedAt,
		Timestamp:           finishedAt,
	}
}

var _ Budget = (*budget.Accountant)(nil)
