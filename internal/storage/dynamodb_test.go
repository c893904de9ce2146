package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/video-ingestion-service/internal/models"
)

// MockDynamoDB mocks the DynamoDB calls used by DynamoDBStorage
type MockDynamoDB struct {
	dynamodbiface.DynamoDBAPI
	mock.Mock
}

func (m *MockDynamoDB) GetItemWithContext(ctx aws.Context, in *dynamodb.GetItemInput, opts ...request.Option) (*dynamodb.GetItemOutput, error) {
	args := m.Called(in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.GetItemOutput), args.Error(1)
}

func (m *MockDynamoDB) UpdateItemWithContext(ctx aws.Context, in *dynamodb.UpdateItemInput, opts ...request.Option) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(in)
	return &dynamodb.UpdateItemOutput{}, args.Error(0)
}

func (m *MockDynamoDB) PutItemWithContext(ctx aws.Context, in *dynamodb.PutItemInput, opts ...request.Option) (*dynamodb.PutItemOutput, error) {
	args := m.Called(in)
	return &dynamodb.PutItemOutput{}, args.Error(0)
}

func (m *MockDynamoDB) BatchGetItemWithContext(ctx aws.Context, in *dynamodb.BatchGetItemInput, opts ...request.Option) (*dynamodb.BatchGetItemOutput, error) {
	args := m.Called(in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.BatchGetItemOutput), args.Error(1)
}

func newTestDynamo(client *MockDynamoDB) *DynamoDBStorage {
	return &DynamoDBStorage{client: client, recordTable: "redditVideos", statsTable: "stats", statsID: "fetchRedditFeed"}
}

func idItem(id string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{"postId": {S: aws.String(id)}}
}

func TestDynamoDBStorage_SaveRecordMerges(t *testing.T) {
	client := new(MockDynamoDB)
	store := newTestDynamo(client)

	var captured *dynamodb.UpdateItemInput
	client.On("UpdateItemWithContext", mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(0).(*dynamodb.UpdateItemInput)
	}).Return(nil)

	record := sampleRecord("_r_videos_comments_abc_")
	record.MediaType = ""
	require.NoError(t, store.SaveRecord(context.Background(), record))

	require.NotNil(t, captured)
	assert.Equal(t, "redditVideos", aws.StringValue(captured.TableName))
	assert.Equal(t, "_r_videos_comments_abc_", aws.StringValue(captured.Key["postId"].S))
	assert.True(t, strings.HasPrefix(aws.StringValue(captured.UpdateExpression), "SET "))

	names := map[string]bool{}
	for _, name := range captured.ExpressionAttributeNames {
		names[aws.StringValue(name)] = true
	}
	assert.False(t, names["postId"], "key attribute is never SET")
	assert.False(t, names["media_type"], "omitted attributes are left alone")
	assert.True(t, names["video_width"])
	assert.True(t, names["updatedAt"])
	assert.Len(t, captured.ExpressionAttributeValues, len(captured.ExpressionAttributeNames))
}

func TestDynamoDBStorage_SaveRecordFailure(t *testing.T) {
	client := new(MockDynamoDB)
	client.On("UpdateItemWithContext", mock.Anything).Return(errors.New("throttled"))

	err := newTestDynamo(client).SaveRecord(context.Background(), sampleRecord("a"))

	var persistenceErr *PersistenceError
	require.True(t, errors.As(err, &persistenceErr))
	assert.Equal(t, "a", persistenceErr.ID)
}

func TestDynamoDBStorage_GetRecord(t *testing.T) {
	client := new(MockDynamoDB)
	store := newTestDynamo(client)

	item, err := dynamodbattribute.MarshalMap(sampleRecord("a"))
	require.NoError(t, err)

	client.On("GetItemWithContext", mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return aws.StringValue(in.Key["postId"].S) == "a"
	})).Return(&dynamodb.GetItemOutput{Item: item}, nil)
	client.On("GetItemWithContext", mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	record, err := store.GetRecord(context.Background(), "a")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 1920, record.VideoWidth)

	record, err = store.GetRecord(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestDynamoDBStorage_ExistingIDsFollowsUnprocessedKeys(t *testing.T) {
	client := new(MockDynamoDB)
	store := newTestDynamo(client)

	unprocessed := map[string]*dynamodb.KeysAndAttributes{
		"redditVideos": {Keys: []map[string]*dynamodb.AttributeValue{idItem("b")}},
	}

	client.On("BatchGetItemWithContext", mock.MatchedBy(func(in *dynamodb.BatchGetItemInput) bool {
		return len(in.RequestItems["redditVideos"].Keys) == 3
	})).Return(&dynamodb.BatchGetItemOutput{
		Responses:       map[string][]map[string]*dynamodb.AttributeValue{"redditVideos": {idItem("a")}},
		UnprocessedKeys: unprocessed,
	}, nil).Once()
	client.On("BatchGetItemWithContext", mock.MatchedBy(func(in *dynamodb.BatchGetItemInput) bool {
		return len(in.RequestItems["redditVideos"].Keys) == 1
	})).Return(&dynamodb.BatchGetItemOutput{
		Responses: map[string][]map[string]*dynamodb.AttributeValue{"redditVideos": {idItem("b")}},
	}, nil).Once()

	existing, err := store.ExistingIDs(context.Background(), []string{"a", "b", "c", "a"})

	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": true}, existing)
	client.AssertExpectations(t)
}

func TestDynamoDBStorage_ExistingIDsChunks(t *testing.T) {
	client := new(MockDynamoDB)
	store := newTestDynamo(client)

	ids := make([]string, 0, 150)
	for i := 0; i < 150; i++ {
		ids = append(ids, "id"+strings.Repeat("x", i))
	}

	client.On("BatchGetItemWithContext", mock.Anything).Return(&dynamodb.BatchGetItemOutput{}, nil)

	_, err := store.ExistingIDs(context.Background(), ids)

	require.NoError(t, err)
	client.AssertNumberOfCalls(t, "BatchGetItemWithContext", 2)
}

func TestDynamoDBStorage_BatchStats(t *testing.T) {
	client := new(MockDynamoDB)
	store := newTestDynamo(client)

	var captured *dynamodb.PutItemInput
	client.On("PutItemWithContext", mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(0).(*dynamodb.PutItemInput)
	}).Return(nil)

	require.NoError(t, store.SaveBatchStats(context.Background(), models.BatchStats{ProcessedCount: 4, ErrorCount: 1}))

	require.NotNil(t, captured)
	assert.Equal(t, "stats", aws.StringValue(captured.TableName))
	assert.Equal(t, "fetchRedditFeed", aws.StringValue(captured.Item["id"].S))
	assert.Equal(t, "4", aws.StringValue(captured.Item["processedCount"].N))

	client.On("GetItemWithContext", mock.Anything).Return(&dynamodb.GetItemOutput{Item: captured.Item}, nil)

	stats, err := store.GetBatchStats(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 4, stats.ProcessedCount)
	assert.Equal(t, 1, stats.ErrorCount)
}

func TestUpdateExpression(t *testing.T) {
	item := map[string]*dynamodb.AttributeValue{
		"postId": {S: aws.String("a")},
		"title":  {S: aws.String("t")},
		"score":  {N: aws.String("1")},
	}

	expr, names, values := updateExpression(item, "postId")

	assert.Equal(t, "SET #n0 = :v0, #n1 = :v1", expr)
	assert.Equal(t, "score", aws.StringValue(names["#n0"]))
	assert.Equal(t, "title", aws.StringValue(names["#n1"]))
	assert.Equal(t, "1", aws.StringValue(values[":v0"].N))
}
