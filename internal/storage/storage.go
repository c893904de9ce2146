package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cyderes/video-ingestion-service/internal/config"
	"github.com/cyderes/video-ingestion-service/internal/logger"
	"github.com/cyderes/video-ingestion-service/internal/models"
)

var log = logger.Get("Storage")

// now is swapped out by tests that need a fixed updatedAt
var now = func() time.Time { return time.Now().UTC() }

// Storage is the document store holding processing records and the
// aggregate stats of the last batch. Existence of a record is the only
// de-duplication signal; check-then-write is advisory and the last write wins.
type Storage interface {
	// GetRecord returns nil without error when no record exists for id
	GetRecord(ctx context.Context, id string) (*models.ProcessingRecord, error)
	RecordExists(ctx context.Context, id string) (bool, error)
	// ExistingIDs reports which of ids already have a record
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	// SaveRecord merges record into any existing document with the same
	// PostID and refreshes UpdatedAt.
	SaveRecord(ctx context.Context, record models.ProcessingRecord) error
	// ListRecords returns records ordered by most recently updated first
	ListRecords(ctx context.Context, limit int, offset int) ([]models.ProcessingRecord, error)
	SaveBatchStats(ctx context.Context, stats models.BatchStats) error
	// GetBatchStats returns nil without error before the first batch completes
	GetBatchStats(ctx context.Context) (*models.BatchStats, error)
	Close() error
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "mongodb":
		return NewMongoDBStorage(cfg)
	case "dynamodb":
		return NewDynamoDBStorage(cfg)
	case "postgresql":
		return NewPostgreSQLStorage(cfg)
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func touch(record *models.ProcessingRecord) {
	record.UpdatedAt = now()
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}

	return out
}
