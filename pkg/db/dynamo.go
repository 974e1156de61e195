package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
	"github.com/thannaske/s3tracker/pkg/models"
	"github.com/thannaske/s3tracker/pkg/provision"
)

// DynamoDB attribute keys
const (
	bucketAttributeKey    = "bucket_name"
	timestampAttributeKey = "ts"
	sizeAttributeKey      = "size"
)

const tableActiveTimeout = 5 * time.Minute

// client captures the methods of interest from the DynamoDB API so tests can mock it.
type client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

var _ client = (*dynamodb.Client)(nil)

// sampleItem is the stored shape of one size sample.
type sampleItem struct {
	BucketName  string `dynamodbav:"bucket_name"`
	Timestamp   int64  `dynamodbav:"ts"`
	Size        int64  `dynamodbav:"size"`
	ObjectCount int64  `dynamodbav:"object_count"`
}

func toItem(u models.BucketUsage) sampleItem {
	return sampleItem{
		BucketName:  u.BucketName,
		Timestamp:   u.TimestampMillis(),
		Size:        u.SizeBytes,
		ObjectCount: u.ObjectCount,
	}
}

func (i sampleItem) usage() models.BucketUsage {
	return models.BucketUsage{
		BucketName:  i.BucketName,
		Timestamp:   time.UnixMilli(i.Timestamp).UTC(),
		SizeBytes:   i.Size,
		ObjectCount: i.ObjectCount,
	}
}

// DynamoStore keeps samples in a table partitioned by bucket name and sorted by ts,
// with a secondary index sorted by size.
type DynamoStore struct {
	c         client
	tableName string
	sizeIndex string
	logger    zerolog.Logger
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore wraps any DynamoDB client.
func NewDynamoStore(c client, tableName, sizeIndex string, logger zerolog.Logger) *DynamoStore {
	return &DynamoStore{c: c, tableName: tableName, sizeIndex: sizeIndex, logger: logger}
}

// NewDynamoStoreFromConfig builds the store on a fresh SDK client.
func NewDynamoStoreFromConfig(awsCfg aws.Config, tableName, sizeIndex string, logger zerolog.Logger) *DynamoStore {
	return NewDynamoStore(dynamodb.NewFromConfig(awsCfg), tableName, sizeIndex, logger)
}

// StoreBucketUsage puts one item. Items written in the same millisecond for the same
// bucket share a key, the later one wins.
func (d *DynamoStore) StoreBucketUsage(ctx context.Context, usage models.BucketUsage) error {
	av, err := attributevalue.MarshalMap(toItem(usage))
	if err != nil {
		return err
	}

	_, err = d.c.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to put sample for %s: %w", usage.BucketName, err)
	}

	d.logger.Debug().
		Str("bucket", usage.BucketName).
		Int64("ts", usage.TimestampMillis()).
		Int64("size", usage.SizeBytes).
		Int64("object_count", usage.ObjectCount).
		Msg("Wrote sample")
	return nil
}

// GetBucketUsage queries the window [start, end] in ascending ts order.
func (d *DynamoStore) GetBucketUsage(ctx context.Context, bucketName string, start, end time.Time) ([]models.BucketUsage, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("#b = :b AND #ts BETWEEN :from AND :to"),
		ExpressionAttributeNames: map[string]string{
			"#b":  bucketAttributeKey,
			"#ts": timestampAttributeKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":b":    &types.AttributeValueMemberS{Value: bucketName},
			":from": numberValue(start.UnixMilli()),
			":to":   numberValue(end.UnixMilli()),
		},
		ScanIndexForward: aws.Bool(true),
	}

	var usages []models.BucketUsage
	paginator := dynamodb.NewQueryPaginator(d.c, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query samples for %s: %w", bucketName, err)
		}

		var items []sampleItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, err
		}
		for _, item := range items {
			usages = append(usages, item.usage())
		}
	}
	return usages, nil
}

// GetMaxBucketUsage reads the first entry of the size index in descending order.
func (d *DynamoStore) GetMaxBucketUsage(ctx context.Context, bucketName string) (*models.BucketUsage, error) {
	out, err := d.c.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		IndexName:              aws.String(d.sizeIndex),
		KeyConditionExpression: aws.String("#b = :b"),
		ExpressionAttributeNames: map[string]string{
			"#b": bucketAttributeKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":b": &types.AttributeValueMemberS{Value: bucketName},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query max sample for %s: %w", bucketName, err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}

	var item sampleItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &item); err != nil {
		return nil, err
	}
	u := item.usage()
	return &u, nil
}

// CreateTable creates the sample table with its size index and waits for it to
// become active. An existing table is reported as AlreadyExisted.
func (d *DynamoStore) CreateTable(ctx context.Context) (provision.Result, error) {
	_, err := d.c.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(d.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(bucketAttributeKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(timestampAttributeKey), AttributeType: types.ScalarAttributeTypeN},
			{AttributeName: aws.String(sizeAttributeKey), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(bucketAttributeKey), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(timestampAttributeKey), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String(d.sizeIndex),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String(bucketAttributeKey), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String(sizeAttributeKey), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return provision.AlreadyExisted, nil
		}
		return provision.Created, fmt.Errorf("failed to create table %s: %w", d.tableName, err)
	}

	d.logger.Info().Str("table", d.tableName).Msg("Table creation initiated, waiting for it to become active")
	waiter := dynamodb.NewTableExistsWaiter(d.c)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.tableName)}, tableActiveTimeout); err != nil {
		return provision.Created, fmt.Errorf("table %s did not become active: %w", d.tableName, err)
	}
	return provision.Created, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (d *DynamoStore) Close() error {
	return nil
}

func numberValue(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}
