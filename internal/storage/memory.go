package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/cyderes/video-ingestion-service/internal/models"
)

// MemoryStorage keeps everything in process. Used for local runs and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string]models.ProcessingRecord
	stats   *models.BatchStats
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: make(map[string]models.ProcessingRecord)}
}

func (m *MemoryStorage) GetRecord(ctx context.Context, id string) (*models.ProcessingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[id]
	if !ok {
		return nil, nil
	}

	return &record, nil
}

func (m *MemoryStorage) RecordExists(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.records[id]
	return ok, nil
}

func (m *MemoryStorage) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	existing := make(map[string]bool)
	for _, id := range ids {
		if _, ok := m.records[id]; ok {
			existing[id] = true
		}
	}

	return existing, nil
}

func (m *MemoryStorage) SaveRecord(ctx context.Context, record models.ProcessingRecord) error {
	if record.PostID == "" {
		return &PersistenceError{Op: "save record", Err: errMissingID}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Mirror the document backends: omitted fields keep their stored value
	if previous, ok := m.records[record.PostID]; ok && record.MediaType == "" {
		record.MediaType = previous.MediaType
	}

	touch(&record)
	m.records[record.PostID] = record

	return nil
}

func (m *MemoryStorage) ListRecords(ctx context.Context, limit int, offset int) ([]models.ProcessingRecord, error) {
	m.mu.RLock()
	records := make([]models.ProcessingRecord, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, record)
	}
	m.mu.RUnlock()

	sortRecords(records)
	return paginate(records, limit, offset), nil
}

func (m *MemoryStorage) SaveBatchStats(ctx context.Context, stats models.BatchStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats = &stats
	return nil
}

func (m *MemoryStorage) GetBatchStats(ctx context.Context) (*models.BatchStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.stats == nil {
		return nil, nil
	}

	stats := *m.stats
	return &stats, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func sortRecords(records []models.ProcessingRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].UpdatedAt.After(records[j].UpdatedAt)
		}
		return records[i].PostID < records[j].PostID
	})
}

func paginate(records []models.ProcessingRecord, limit int, offset int) []models.ProcessingRecord {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []models.ProcessingRecord{}
	}

	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}

	return records
}
