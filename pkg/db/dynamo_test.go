package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/thannaske/s3tracker/pkg/models"
	"github.com/thannaske/s3tracker/pkg/provision"
)

const (
	testTableName = "S3-object-size-history"
	testIndexName = "bucket_size_index"
	testBucket    = "testbucket"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *mockClient) Query(ctx context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

func (m *mockClient) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.CreateTableOutput)
	return out, args.Error(1)
}

func (m *mockClient) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.DescribeTableOutput)
	return out, args.Error(1)
}

func item(bucket string, ts, size, count string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"bucket_name":  &types.AttributeValueMemberS{Value: bucket},
		"ts":           &types.AttributeValueMemberN{Value: ts},
		"size":         &types.AttributeValueMemberN{Value: size},
		"object_count": &types.AttributeValueMemberN{Value: count},
	}
}

func newMockStore() (*DynamoStore, *mockClient) {
	m := new(mockClient)
	return NewDynamoStore(m, testTableName, testIndexName, zerolog.Nop()), m
}

func TestDynamoStoreBucketUsage(t *testing.T) {
	store, m := newMockStore()
	ts := time.UnixMilli(1700000000123)

	m.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return aws.ToString(in.TableName) == testTableName &&
			assert.ObjectsAreEqual(item(testBucket, "1700000000123", "47", "2"), in.Item)
	})).Return(&dynamodb.PutItemOutput{}, nil).Once()

	err := store.StoreBucketUsage(context.Background(), models.BucketUsage{
		BucketName:  testBucket,
		Timestamp:   ts,
		SizeBytes:   47,
		ObjectCount: 2,
	})
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestDynamoStoreBucketUsageError(t *testing.T) {
	store, m := newMockStore()
	errBoom := errors.New("boom")
	m.On("PutItem", mock.Anything, mock.Anything).Return(nil, errBoom)

	err := store.StoreBucketUsage(context.Background(), models.BucketUsage{BucketName: testBucket, Timestamp: time.Now()})
	assert.ErrorIs(t, err, errBoom)
}

func TestDynamoGetBucketUsageWindow(t *testing.T) {
	store, m := newMockStore()
	start := time.UnixMilli(1000)
	end := time.UnixMilli(11000)

	isWindowQuery := func(in *dynamodb.QueryInput) bool {
		if in.IndexName != nil || !aws.ToBool(in.ScanIndexForward) {
			return false
		}
		from, ok1 := in.ExpressionAttributeValues[":from"].(*types.AttributeValueMemberN)
		to, ok2 := in.ExpressionAttributeValues[":to"].(*types.AttributeValueMemberN)
		return ok1 && ok2 && from.Value == "1000" && to.Value == "11000" &&
			aws.ToString(in.KeyConditionExpression) == "#b = :b AND #ts BETWEEN :from AND :to" &&
			in.ExpressionAttributeNames["#ts"] == "ts"
	}

	m.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return isWindowQuery(in) && in.ExclusiveStartKey == nil
	})).Return(&dynamodb.QueryOutput{
		Items:            []map[string]types.AttributeValue{item(testBucket, "2000", "19", "1")},
		LastEvaluatedKey: map[string]types.AttributeValue{"ts": &types.AttributeValueMemberN{Value: "2000"}},
	}, nil).Once()
	m.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return isWindowQuery(in) && in.ExclusiveStartKey != nil
	})).Return(&dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{item(testBucket, "5000", "28", "1")},
	}, nil).Once()

	usages, err := store.GetBucketUsage(context.Background(), testBucket, start, end)
	require.NoError(t, err)
	require.Len(t, usages, 2)
	assert.EqualValues(t, 19, usages[0].SizeBytes)
	assert.Equal(t, int64(2000), usages[0].TimestampMillis())
	assert.EqualValues(t, 28, usages[1].SizeBytes)
	assert.Equal(t, testBucket, usages[1].BucketName)
	m.AssertExpectations(t)
}

func TestDynamoGetBucketUsageEmptyWindow(t *testing.T) {
	store, m := newMockStore()
	m.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil).Once()

	usages, err := store.GetBucketUsage(context.Background(), testBucket, time.UnixMilli(0), time.UnixMilli(10))
	require.NoError(t, err)
	assert.Empty(t, usages)
}

func TestDynamoGetMaxBucketUsage(t *testing.T) {
	store, m := newMockStore()
	m.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return aws.ToString(in.IndexName) == testIndexName &&
			!aws.ToBool(in.ScanIndexForward) &&
			aws.ToInt32(in.Limit) == 1
	})).Return(&dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{item(testBucket, "4000", "28", "1")},
	}, nil).Once()

	top, err := store.GetMaxBucketUsage(context.Background(), testBucket)
	require.NoError(t, err)
	require.NotNil(t, top)
	assert.EqualValues(t, 28, top.SizeBytes)
	m.AssertExpectations(t)
}

func TestDynamoGetMaxBucketUsageNone(t *testing.T) {
	store, m := newMockStore()
	m.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil).Once()

	top, err := store.GetMaxBucketUsage(context.Background(), testBucket)
	require.NoError(t, err)
	assert.Nil(t, top)
}

func TestDynamoCreateTable(t *testing.T) {
	store, m := newMockStore()
	m.On("CreateTable", mock.Anything, mock.MatchedBy(func(in *dynamodb.CreateTableInput) bool {
		return aws.ToString(in.TableName) == testTableName &&
			in.BillingMode == types.BillingModePayPerRequest &&
			len(in.GlobalSecondaryIndexes) == 1 &&
			aws.ToString(in.GlobalSecondaryIndexes[0].IndexName) == testIndexName
	})).Return(&dynamodb.CreateTableOutput{}, nil).Once()
	m.On("DescribeTable", mock.Anything, mock.Anything).Return(&dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{TableStatus: types.TableStatusActive},
	}, nil)

	res, err := store.CreateTable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provision.Created, res)
	m.AssertExpectations(t)
}

func TestDynamoCreateTableAlreadyExists(t *testing.T) {
	store, m := newMockStore()
	m.On("CreateTable", mock.Anything, mock.Anything).
		Return(nil, &types.ResourceInUseException{Message: aws.String("Table already exists")}).Once()

	res, err := store.CreateTable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provision.AlreadyExisted, res)
	m.AssertNotCalled(t, "DescribeTable", mock.Anything, mock.Anything)
}

func TestDynamoCreateTableFailure(t *testing.T) {
	store, m := newMockStore()
	m.On("CreateTable", mock.Anything, mock.Anything).Return(nil, errors.New("access denied")).Once()

	_, err := store.CreateTable(context.Background())
	assert.Error(t, err)
}
