package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/cyderes/video-ingestion-service/internal/config"
	"github.com/cyderes/video-ingestion-service/internal/models"
)

const (
	recordKey = "postId"
	statsKey  = "id"

	// BatchGetItem accepts at most 100 keys per request
	batchGetLimit = 100
)

// DynamoDBStorage implements Storage interface using AWS DynamoDB
type DynamoDBStorage struct {
	client      dynamodbiface.DynamoDBAPI
	recordTable string
	statsTable  string
	statsID     string
}

// NewDynamoDBStorage creates a new DynamoDB storage instance
func NewDynamoDBStorage(cfg config.StorageConfig) (*DynamoDBStorage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	storage := &DynamoDBStorage{
		client:      dynamodb.New(sess),
		recordTable: cfg.RecordCollection,
		statsTable:  cfg.StatsCollection,
		statsID:     cfg.StatsDocumentID,
	}

	// Create tables if they don't exist (for local testing)
	for table, key := range map[string]string{storage.recordTable: recordKey, storage.statsTable: statsKey} {
		if err := storage.ensureTable(table, key); err != nil {
			return nil, fmt.Errorf("failed to ensure table %s exists: %w", table, err)
		}
	}

	return storage, nil
}

// ensureTable creates a table with a string hash key if it doesn't exist
func (d *DynamoDBStorage) ensureTable(table, key string) error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err == nil {
		return nil
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String(key),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String(key),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}

	if _, err := d.client.CreateTable(input); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
}

func recordKeyAttr(id string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{recordKey: {S: aws.String(id)}}
}

func (d *DynamoDBStorage) GetRecord(ctx context.Context, id string) (*models.ProcessingRecord, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.recordTable),
		Key:            recordKeyAttr(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, &PersistenceError{Op: "get record", ID: id, Err: err}
	}

	if result.Item == nil {
		return nil, nil
	}

	var record models.ProcessingRecord
	if err := dynamodbattribute.UnmarshalMap(result.Item, &record); err != nil {
		return nil, &PersistenceError{Op: "get record", ID: id, Err: fmt.Errorf("failed to unmarshal record: %w", err)}
	}

	return &record, nil
}

func (d *DynamoDBStorage) RecordExists(ctx context.Context, id string) (bool, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(d.recordTable),
		Key:                  recordKeyAttr(id),
		ProjectionExpression: aws.String(recordKey),
		ConsistentRead:       aws.Bool(true),
	})
	if err != nil {
		return false, &PersistenceError{Op: "check record", ID: id, Err: err}
	}

	return result.Item != nil, nil
}

func (d *DynamoDBStorage) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	ids = dedupe(ids)

	for start := 0; start < len(ids); start += batchGetLimit {
		end := min(start+batchGetLimit, len(ids))
		keys := make([]map[string]*dynamodb.AttributeValue, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, recordKeyAttr(id))
		}

		request := map[string]*dynamodb.KeysAndAttributes{
			d.recordTable: {Keys: keys, ProjectionExpression: aws.String(recordKey)},
		}

		// Unprocessed keys are resubmitted; each round trip makes progress
		for len(request) > 0 {
			result, err := d.client.BatchGetItemWithContext(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, &PersistenceError{Op: "look up existing records", Err: err}
			}

			for _, item := range result.Responses[d.recordTable] {
				if key, ok := item[recordKey]; ok && key.S != nil {
					existing[*key.S] = true
				}
			}

			request = result.UnprocessedKeys
		}
	}

	return existing, nil
}

func (d *DynamoDBStorage) SaveRecord(ctx context.Context, record models.ProcessingRecord) error {
	if record.PostID == "" {
		return &PersistenceError{Op: "save record", Err: errMissingID}
	}

	touch(&record)
	item, err := dynamodbattribute.MarshalMap(record)
	if err != nil {
		return &PersistenceError{Op: "save record", ID: record.PostID, Err: fmt.Errorf("failed to marshal record: %w", err)}
	}

	expr, names, values := updateExpression(item, recordKey)
	_, err = d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.recordTable),
		Key:                       recordKeyAttr(record.PostID),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return &PersistenceError{Op: "save record", ID: record.PostID, Err: err}
	}

	return nil
}

// updateExpression builds a SET expression covering every attribute of item
// except the key, so attributes absent from item survive the update.
func updateExpression(item map[string]*dynamodb.AttributeValue, key string) (string, map[string]*string, map[string]*dynamodb.AttributeValue) {
	attrs := make([]string, 0, len(item))
	for name := range item {
		if name != key {
			attrs = append(attrs, name)
		}
	}
	sort.Strings(attrs)

	names := make(map[string]*string, len(attrs))
	values := make(map[string]*dynamodb.AttributeValue, len(attrs))
	expr := "SET "
	for i, name := range attrs {
		n, v := "#n"+strconv.Itoa(i), ":v"+strconv.Itoa(i)
		names[n] = aws.String(name)
		values[v] = item[name]
		if i > 0 {
			expr += ", "
		}
		expr += n + " = " + v
	}

	return expr, names, values
}

func (d *DynamoDBStorage) ListRecords(ctx context.Context, limit int, offset int) ([]models.ProcessingRecord, error) {
	var records []models.ProcessingRecord
	var unmarshalErr error

	// Scan order is arbitrary so the whole table is read before sorting
	err := d.client.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName: aws.String(d.recordTable),
	}, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		var batch []models.ProcessingRecord
		if err := dynamodbattribute.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			unmarshalErr = err
			return false
		}
		records = append(records, batch...)
		return true
	})
	if err != nil {
		return nil, &PersistenceError{Op: "list records", Err: err}
	}
	if unmarshalErr != nil {
		return nil, &PersistenceError{Op: "list records", Err: fmt.Errorf("failed to unmarshal records: %w", unmarshalErr)}
	}

	sortRecords(records)
	return paginate(records, limit, offset), nil
}

func (d *DynamoDBStorage) SaveBatchStats(ctx context.Context, stats models.BatchStats) error {
	item, err := dynamodbattribute.MarshalMap(stats)
	if err != nil {
		return &PersistenceError{Op: "save batch stats", ID: d.statsID, Err: fmt.Errorf("failed to marshal stats: %w", err)}
	}

	// The stats table holds a single item under a fixed key
	item[statsKey] = &dynamodb.AttributeValue{S: aws.String(d.statsID)}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.statsTable),
		Item:      item,
	})
	if err != nil {
		return &PersistenceError{Op: "save batch stats", ID: d.statsID, Err: err}
	}

	return nil
}

func (d *DynamoDBStorage) GetBatchStats(ctx context.Context) (*models.BatchStats, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.statsTable),
		Key: map[string]*dynamodb.AttributeValue{
			statsKey: {S: aws.String(d.statsID)},
		},
	})
	if err != nil {
		return nil, &PersistenceError{Op: "get batch stats", ID: d.statsID, Err: err}
	}

	if result.Item == nil {
		return nil, nil
	}

	var stats models.BatchStats
	if err := dynamodbattribute.UnmarshalMap(result.Item, &stats); err != nil {
		return nil, &PersistenceError{Op: "get batch stats", ID: d.statsID, Err: fmt.Errorf("failed to unmarshal stats: %w", err)}
	}

	return &stats, nil
}

// Close closes the DynamoDB connection
func (d *DynamoDBStorage) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
