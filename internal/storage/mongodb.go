package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyderes/video-ingestion-service/internal/config"
	"github.com/cyderes/video-ingestion-service/internal/logger"
	"github.com/cyderes/video-ingestion-service/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBStorage implements Storage on a MongoDB database. Records are keyed
// by _id = normalized identifier; batch stats live in a single document of
// the stats collection.
type MongoDBStorage struct {
	client  *mongo.Client
	records *mongo.Collection
	stats   *mongo.Collection
	statsID string
}

// NewMongoDBStorage connects to MongoDB and prepares the collections
func NewMongoDBStorage(cfg config.StorageConfig) (*MongoDBStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	m := &MongoDBStorage{
		client:  client,
		records: db.Collection(cfg.RecordCollection),
		stats:   db.Collection(cfg.StatsCollection),
		statsID: cfg.StatsDocumentID,
	}

	m.createIndexes(ctx)
	log.Emit(logger.SUCCESS, "Connected to MongoDB database %s\n", cfg.Database)

	return m, nil
}

func (m *MongoDBStorage) createIndexes(ctx context.Context) {
	index := mongo.IndexModel{Keys: bson.D{{Key: "updatedAt", Value: -1}}}
	if _, err := m.records.Indexes().CreateOne(ctx, index); err != nil {
		log.Emit(logger.WARNING, "Failed to create updatedAt index: %v\n", err)
	}
}

func (m *MongoDBStorage) GetRecord(ctx context.Context, id string) (*models.ProcessingRecord, error) {
	var record models.ProcessingRecord
	err := m.records.FindOne(ctx, bson.M{"_id": id}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get record", ID: id, Err: err}
	}

	return &record, nil
}

func (m *MongoDBStorage) RecordExists(ctx context.Context, id string) (bool, error) {
	count, err := m.records.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, &PersistenceError{Op: "check record", ID: id, Err: err}
	}

	return count > 0, nil
}

func (m *MongoDBStorage) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	ids = dedupe(ids)
	if len(ids) == 0 {
		return existing, nil
	}

	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := m.records.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, &PersistenceError{Op: "look up existing records", Err: err}
	}
	defer cursor.Close(ctx)

	type idOnly struct {
		ID string `bson:"_id"`
	}

	for cursor.Next(ctx) {
		var res idOnly
		if err := cursor.Decode(&res); err == nil {
			existing[res.ID] = true
		}
	}

	if err := cursor.Err(); err != nil {
		return nil, &PersistenceError{Op: "look up existing records", Err: err}
	}

	return existing, nil
}

func (m *MongoDBStorage) SaveRecord(ctx context.Context, record models.ProcessingRecord) error {
	if record.PostID == "" {
		return &PersistenceError{Op: "save record", Err: errMissingID}
	}

	touch(&record)
	fields, err := mergeFields(record)
	if err != nil {
		return &PersistenceError{Op: "save record", ID: record.PostID, Err: err}
	}

	opts := options.Update().SetUpsert(true)
	_, err = m.records.UpdateOne(ctx, bson.M{"_id": record.PostID}, bson.M{"$set": fields}, opts)
	if err != nil {
		return &PersistenceError{Op: "save record", ID: record.PostID, Err: err}
	}

	return nil
}

// mergeFields renders record as a $set document. Omitted fields are left
// untouched on the stored document and _id is never rewritten.
func mergeFields(record models.ProcessingRecord) (bson.M, error) {
	data, err := bson.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	var fields bson.M
	if err := bson.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	delete(fields, "_id")
	return fields, nil
}

func (m *MongoDBStorage) ListRecords(ctx context.Context, limit int, offset int) ([]models.ProcessingRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(max(offset, 0)))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.records.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, &PersistenceError{Op: "list records", Err: err}
	}
	defer cursor.Close(ctx)

	records := []models.ProcessingRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, &PersistenceError{Op: "list records", Err: err}
	}

	return records, nil
}

func (m *MongoDBStorage) SaveBatchStats(ctx context.Context, stats models.BatchStats) error {
	opts := options.Replace().SetUpsert(true)
	_, err := m.stats.ReplaceOne(ctx, bson.M{"_id": m.statsID}, stats, opts)
	if err != nil {
		return &PersistenceError{Op: "save batch stats", ID: m.statsID, Err: err}
	}

	return nil
}

func (m *MongoDBStorage) GetBatchStats(ctx context.Context) (*models.BatchStats, error) {
	var stats models.BatchStats
	err := m.stats.FindOne(ctx, bson.M{"_id": m.statsID}).Decode(&stats)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get batch stats", ID: m.statsID, Err: err}
	}

	return &stats, nil
}

// Close disconnects from MongoDB
func (m *MongoDBStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return m.client.Disconnect(ctx)
}
