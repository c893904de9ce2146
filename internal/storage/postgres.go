package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/cyderes/video-ingestion-service/internal/config"
	"github.com/cyderes/video-ingestion-service/internal/logger"
	"github.com/cyderes/video-ingestion-service/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	sqldblogger "github.com/simukti/sqldb-logger"
)

const sqlDialect = "postgres"

var (
	//go:embed migrations/*.sql
	migrations embed.FS

	dbLogger = logger.Get("DB")
)

const (
	// Records are stored as JSONB documents; || merges the incoming fields
	// over the stored ones and keeps anything the new document omits.
	upsertRecordSQL = `
INSERT INTO processing_record (post_id, data, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (post_id) DO UPDATE
SET data = processing_record.data || EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	upsertStatsSQL = `
INSERT INTO batch_stats (id, data, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	connectAttempts = 5
)

// PostgreSQLStorage implements Storage on PostgreSQL, holding each record as
// a JSONB document keyed by post id.
type PostgreSQLStorage struct {
	db      *sqlx.DB
	statsID string
}

type documentRow struct {
	Data []byte `db:"data"`
}

// NewPostgreSQLStorage connects to PostgreSQL and applies pending migrations
func NewPostgreSQLStorage(cfg config.StorageConfig) (*PostgreSQLStorage, error) {
	if cfg.PostgresURI == "" {
		return nil, errors.New("postgres_uri is required for postgresql storage")
	}

	raw, err := sql.Open(sqlDialect, cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	raw = sqldblogger.OpenDriver(cfg.PostgresURI, raw.Driver(), &sqlLogger{dbLogger})

	for attempt := 1; ; attempt++ {
		err := raw.Ping()
		if err == nil {
			break
		}
		if attempt >= connectAttempts {
			raw.Close()
			return nil, fmt.Errorf("failed to ping postgres after %d attempts: %w", attempt, err)
		}

		dbLogger.Emit(logger.WARNING, "Attempt (%d/%d) failed... Retrying in 3s\n", attempt, connectAttempts)
		time.Sleep(3 * time.Second)
	}

	if err := migrate(raw); err != nil {
		raw.Close()
		return nil, err
	}

	dbLogger.Emit(logger.SUCCESS, "Database connection complete!\n")
	return &PostgreSQLStorage{db: sqlx.NewDb(raw, sqlDialect), statsID: cfg.StatsDocumentID}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(dbLogger)
	if err := goose.SetDialect(sqlDialect); err != nil {
		return fmt.Errorf("failed to set dialect for DB migration: %w", err)
	}

	dbLogger.Emit(logger.INFO, "Checking for pending DB migrations...\n")
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate DB: %w", err)
	}

	return nil
}

func (p *PostgreSQLStorage) GetRecord(ctx context.Context, id string) (*models.ProcessingRecord, error) {
	var row documentRow
	err := p.db.GetContext(ctx, &row, `SELECT data FROM processing_record WHERE post_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get record", ID: id, Err: err}
	}

	var record models.ProcessingRecord
	if err := json.Unmarshal(row.Data, &record); err != nil {
		return nil, &PersistenceError{Op: "get record", ID: id, Err: fmt.Errorf("failed to unmarshal record: %w", err)}
	}

	return &record, nil
}

func (p *PostgreSQLStorage) RecordExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := p.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM processing_record WHERE post_id = $1)`, id)
	if err != nil {
		return false, &PersistenceError{Op: "check record", ID: id, Err: err}
	}

	return exists, nil
}

func (p *PostgreSQLStorage) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	ids = dedupe(ids)
	if len(ids) == 0 {
		return existing, nil
	}

	var found []string
	err := p.db.SelectContext(ctx, &found, `SELECT post_id FROM processing_record WHERE post_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, &PersistenceError{Op: "look up existing records", Err: err}
	}

	for _, id := range found {
		existing[id] = true
	}

	return existing, nil
}

func (p *PostgreSQLStorage) SaveRecord(ctx context.Context, record models.ProcessingRecord) error {
	if record.PostID == "" {
		return &PersistenceError{Op: "save record", Err: errMissingID}
	}

	touch(&record)
	data, err := json.Marshal(record)
	if err != nil {
		return &PersistenceError{Op: "save record", ID: record.PostID, Err: fmt.Errorf("failed to marshal record: %w", err)}
	}

	if _, err := p.db.ExecContext(ctx, upsertRecordSQL, record.PostID, data, record.UpdatedAt); err != nil {
		return &PersistenceError{Op: "save record", ID: record.PostID, Err: err}
	}

	return nil
}

func (p *PostgreSQLStorage) ListRecords(ctx context.Context, limit int, offset int) ([]models.ProcessingRecord, error) {
	builder := selectRecordBuilder().Offset(uint64(max(offset, 0)))
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list records query: %w", err)
	}

	var rows []documentRow
	if err := p.db.SelectContext(ctx, &rows, p.db.Rebind(query), args...); err != nil {
		return nil, &PersistenceError{Op: "list records", Err: err}
	}

	records := make([]models.ProcessingRecord, 0, len(rows))
	for _, row := range rows {
		var record models.ProcessingRecord
		if err := json.Unmarshal(row.Data, &record); err != nil {
			return nil, &PersistenceError{Op: "list records", Err: fmt.Errorf("failed to unmarshal record: %w", err)}
		}
		records = append(records, record)
	}

	return records, nil
}

func selectRecordBuilder() squirrel.SelectBuilder {
	return squirrel.
		Select("data").
		From("processing_record").
		OrderBy("updated_at DESC", "post_id")
}

func (p *PostgreSQLStorage) SaveBatchStats(ctx context.Context, stats models.BatchStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return &PersistenceError{Op: "save batch stats", ID: p.statsID, Err: fmt.Errorf("failed to marshal stats: %w", err)}
	}

	if _, err := p.db.ExecContext(ctx, upsertStatsSQL, p.statsID, data, now()); err != nil {
		return &PersistenceError{Op: "save batch stats", ID: p.statsID, Err: err}
	}

	return nil
}

func (p *PostgreSQLStorage) GetBatchStats(ctx context.Context) (*models.BatchStats, error) {
	var row documentRow
	err := p.db.GetContext(ctx, &row, `SELECT data FROM batch_stats WHERE id = $1`, p.statsID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get batch stats", ID: p.statsID, Err: err}
	}

	var stats models.BatchStats
	if err := json.Unmarshal(row.Data, &stats); err != nil {
		return nil, &PersistenceError{Op: "get batch stats", ID: p.statsID, Err: fmt.Errorf("failed to unmarshal stats: %w", err)}
	}

	return &stats, nil
}

// Close closes the connection pool
func (p *PostgreSQLStorage) Close() error {
	return p.db.Close()
}

type sqlLogger struct {
	logger logger.Logger
}

func (l *sqlLogger) Log(_ context.Context, level sqldblogger.Level, msg string, data map[string]any) {
	switch level {
	case sqldblogger.LevelTrace:
		l.logger.Verbosef("%s - %v\n", msg, data)
	case sqldblogger.LevelDebug, sqldblogger.LevelInfo:
		if query, ok := data["query"]; ok {
			l.logger.Emit(logger.DEBUG, "%s [%vms] -- %s\n", msg, data["duration"], query)
		} else {
			l.logger.Emit(logger.DEBUG, "%s [%vms]\n", msg, data["duration"])
		}
	case sqldblogger.LevelError:
		l.logger.Errorf("%s - %v\n", msg, data)
	}
}
