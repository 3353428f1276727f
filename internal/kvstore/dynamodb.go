package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	dynamoKeyAttr   = "Key"
	dynamoValueAttr = "Value"

	TableCreationTimeout = 2 * time.Minute
)

// DynamoDBAPI is the subset of *dynamodb.Client the store uses.
type DynamoDBAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDBStore keeps one item per key in a table whose hash key is "Key" (S)
// and whose payload lives in "Value" (B).
type DynamoDBStore struct {
	client DynamoDBAPI
	table  string
}

var (
	_ Store         = (*DynamoDBStore)(nil)
	_ AtomicCreator = (*DynamoDBStore)(nil)
)

type DynamoDBOptions struct {
	Table       string
	Region      string
	Endpoint    string // e.g. DynamoDB Local
	CreateTable bool
}

func NewDynamoDBStore(ctx context.Context, opts DynamoDBOptions) (*DynamoDBStore, error) {
	if opts.Table == "" {
		return nil, fmt.Errorf("dynamodb table is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	cli := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})

	store := NewDynamoDBStoreFromClient(cli, opts.Table)
	if opts.CreateTable {
		if err := store.CreateTableIfNotExists(ctx); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func NewDynamoDBStoreFromClient(client DynamoDBAPI, table string) *DynamoDBStore {
	return &DynamoDBStore{client: client, table: table}
}

func isResourceNotFoundException(err error) bool {
	var rnf *types.ResourceNotFoundException
	return errors.As(err, &rnf)
}

// CreateTableIfNotExists creates the backing table in on-demand billing mode
// and waits for it to become active.
func (s *DynamoDBStore) CreateTableIfNotExists(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		slog.Debug("DynamoDB table already exists", "tableName", s.table)
		return nil
	}
	if !isResourceNotFoundException(err) {
		return fmt.Errorf("describe table %s: %w", s.table, err)
	}

	slog.Info("Creating DynamoDB table", "tableName", s.table)
	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(dynamoKeyAttr), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(dynamoKeyAttr), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, TableCreationTimeout); err != nil {
		slog.Error("Error waiting for DynamoDB table creation", "tableName", s.table, "error", err)
		return err
	}
	slog.Info("DynamoDB table created successfully", "tableName", s.table)
	return nil
}

func (s *DynamoDBStore) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKeyAttr: &types.AttributeValueMemberS{Value: key},
	}
}

func (s *DynamoDBStore) item(key string, value []byte) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKeyAttr:   &types.AttributeValueMemberS{Value: key},
		dynamoValueAttr: &types.AttributeValueMemberB{Value: nonNil(value)},
	}
}

type dynamoItem struct {
	Key   string `dynamodbav:"Key"`
	Value []byte `dynamodbav:"Value"`
}

func itemValue(item map[string]types.AttributeValue) ([]byte, error) {
	var it dynamoItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return nil, fmt.Errorf("decode dynamodb item: %w", err)
	}
	return nonNil(it.Value), nil
}

func (s *DynamoDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get %q: %w", key, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	return itemValue(out.Item)
}

func (s *DynamoDBStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      s.item(key, value),
	})
	if err != nil {
		return fmt.Errorf("dynamodb put %q: %w", key, err)
	}
	return nil
}

func (s *DynamoDBStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete %q: %w", key, err)
	}
	return nil
}

// SetIfAbsent is a PutItem guarded by attribute_not_exists(Key). On a failed
// condition DynamoDB hands back the existing item (ALL_OLD), so no second read
// is needed unless the service omits it.
func (s *DynamoDBStore) SetIfAbsent(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(dynamoKeyAttr))).
		Build()
	if err != nil {
		return nil, false, fmt.Errorf("build condition: %w", err)
	}

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                           aws.String(s.table),
			Item:                                s.item(key, value),
			ConditionExpression:                 expr.Condition(),
			ExpressionAttributeNames:            expr.Names(),
			ExpressionAttributeValues:           expr.Values(),
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		})
		if err == nil {
			return nil, true, nil
		}

		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return nil, false, fmt.Errorf("dynamodb conditional put %q: %w", key, err)
		}
		if len(ccf.Item) > 0 {
			existing, err := itemValue(ccf.Item)
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}

		existing, err := s.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("dynamodb conditional put %q: %w", key, errCreateContention)
}

func (s *DynamoDBStore) Close() error {
	return nil
}
