package kvstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/strata/internal/core"
	"github.com/rzpsarthak13/strata/internal/registry"
)

// DynamoDB limits a transaction to 100 items.
const maxTransactItems = 100

// DynamoDB attribute names. The table has the partition key "bucket"
// (string) and the sort key "key" (binary), so a Query returns keys in
// byte order.
const (
	attrBucket = "bucket"
	attrKey    = "key"
	attrValue  = "value"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoDBKVStore implements the core.KVStore interface using AWS DynamoDB.
// Every key of the store lives in one partition named by the key prefix.
type DynamoDBKVStore struct {
	client    DynamoDBAPI
	logger    *zap.Logger
	tableName string
	bucket    string
	closed    bool
}

var _ core.KVStore = (*DynamoDBKVStore)(nil)

// NewDynamoDBKVStore creates a new DynamoDB KV store and checks that the table exists.
func NewDynamoDBKVStore(ctx context.Context, cfg KVStoreConfig) (*DynamoDBKVStore, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if cfg.TableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Override credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	clientOptions := []func(*dynamodb.Options){}
	if cfg.Endpoint != "" {
		// Custom endpoint (e.g., for LocalStack)
		clientOptions = append(clientOptions, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	client := dynamodb.NewFromConfig(awsCfg, clientOptions...)

	describeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := client.DescribeTable(describeCtx, &dynamodb.DescribeTableInput{
		TableName: aws.String(cfg.TableName),
	}); err != nil {
		return nil, fmt.Errorf("failed to connect to DynamoDB table %s: %w", cfg.TableName, err)
	}

	return NewDynamoDBKVStoreFromClient(client, cfg.TableName, cfg.keyPrefix(), cfg.logger()), nil
}

// NewDynamoDBKVStoreFromClient wraps an existing client.
func NewDynamoDBKVStoreFromClient(client DynamoDBAPI, tableName, bucket string, logger *zap.Logger) *DynamoDBKVStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoDBKVStore{
		client:    client,
		logger:    logger.Named("kvstore.dynamodb"),
		tableName: tableName,
		bucket:    bucket,
	}
}

func (d *DynamoDBKVStore) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrBucket: &types.AttributeValueMemberS{Value: d.bucket},
		attrKey:    &types.AttributeValueMemberB{Value: []byte(key)},
	}
}

// Get retrieves a value by key from the store.
func (d *DynamoDBKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if d.closed {
		return nil, fmt.Errorf("KV store is closed")
	}

	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get key %q: %w", key, err)
	}
	if result.Item == nil {
		return nil, core.ErrKeyNotFound
	}

	value, err := itemValue(result.Item)
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", key, err)
	}
	d.logger.Debug("get", zap.ByteString("key", []byte(key)), zap.Int("size", len(value)))
	return value, nil
}

// Exists checks if a key exists in the store.
func (d *DynamoDBKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if d.closed {
		return false, fmt.Errorf("KV store is closed")
	}

	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(d.tableName),
		Key:                      d.itemKey(key),
		ConsistentRead:           aws.Bool(true),
		ProjectionExpression:     aws.String("#k"),
		ExpressionAttributeNames: map[string]string{"#k": attrKey},
	})
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %q: %w", key, err)
	}
	return result.Item != nil, nil
}

// ScanPage queries the partition in sort key order. With a cursor the key
// condition is a strict bound and the prefix is checked on the results.
func (d *DynamoDBKVStore) ScanPage(ctx context.Context, prefix, after string, reverse bool, limit int) ([]core.KVPair, error) {
	if d.closed {
		return nil, fmt.Errorf("KV store is closed")
	}
	if limit <= 0 {
		return nil, nil
	}

	var (
		names  = map[string]string{"#b": attrBucket, "#k": attrKey}
		values = map[string]types.AttributeValue{":b": &types.AttributeValueMemberS{Value: d.bucket}}
		cond   = "#b = :b"
	)
	switch {
	case after != "" && reverse:
		cond += " AND #k < :after"
		values[":after"] = &types.AttributeValueMemberB{Value: []byte(after)}
	case after != "":
		cond += " AND #k > :after"
		values[":after"] = &types.AttributeValueMemberB{Value: []byte(after)}
	case prefix != "":
		cond += " AND begins_with(#k, :p)"
		values[":p"] = &types.AttributeValueMemberB{Value: []byte(prefix)}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(!reverse),
		ConsistentRead:            aws.Bool(true),
		Limit:                     aws.Int32(int32(limit)),
	}

	var out []core.KVPair
	for {
		result, err := d.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query keys: %w", err)
		}
		for _, item := range result.Items {
			k, ok := item[attrKey].(*types.AttributeValueMemberB)
			if !ok {
				return nil, fmt.Errorf("invalid key format in table %s", d.tableName)
			}
			key := string(k.Value)
			if !strings.HasPrefix(key, prefix) {
				return out, nil
			}
			value, err := itemValue(item)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			out = append(out, core.KVPair{Key: key, Value: value})
			if len(out) == limit {
				return out, nil
			}
		}
		if result.LastEvaluatedKey == nil {
			return out, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// Apply writes the mutations with TransactWriteItems. Batches above the
// DynamoDB transaction limit are split, and only each chunk is atomic.
func (d *DynamoDBKVStore) Apply(ctx context.Context, mutations []core.Mutation) error {
	if d.closed {
		return fmt.Errorf("KV store is closed")
	}
	if len(mutations) > maxTransactItems {
		d.logger.Warn("mutation batch exceeds the transaction limit and is split",
			zap.Int("count", len(mutations)), zap.Int("limit", maxTransactItems))
	}

	for i := 0; i < len(mutations); i += maxTransactItems {
		chunk := mutations[i:min(i+maxTransactItems, len(mutations))]
		items := make([]types.TransactWriteItem, 0, len(chunk))
		for _, m := range chunk {
			if m.Delete {
				items = append(items, types.TransactWriteItem{Delete: &types.Delete{
					TableName: aws.String(d.tableName),
					Key:       d.itemKey(m.Key),
				}})
				continue
			}
			item := d.itemKey(m.Key)
			item[attrValue] = &types.AttributeValueMemberB{Value: m.Value}
			items = append(items, types.TransactWriteItem{Put: &types.Put{
				TableName: aws.String(d.tableName),
				Item:      item,
			}})
		}

		if _, err := d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items,
		}); err != nil {
			return fmt.Errorf("failed to apply %d mutations: %w", len(chunk), err)
		}
	}
	d.logger.Debug("mutations applied", zap.Int("count", len(mutations)))
	return nil
}

// Close closes the connection to the KV store.
func (d *DynamoDBKVStore) Close() error {
	d.closed = true
	// DynamoDB client doesn't need explicit closing, but we mark it as closed
	return nil
}

func itemValue(item map[string]types.AttributeValue) ([]byte, error) {
	valueAttr, ok := item[attrValue]
	if !ok {
		return []byte{}, nil // DynamoDB drops empty binary attributes
	}
	valueMember, ok := valueAttr.(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("value is not binary")
	}
	return valueMember.Value, nil
}

// DynamoDBKVStoreFactory implements the KVStoreFactory interface for DynamoDB.
type DynamoDBKVStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *DynamoDBKVStoreFactory) Type() string {
	return "dynamodb"
}

// Validate validates the DynamoDB-specific configuration.
func (f *DynamoDBKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "dynamodb" {
		return fmt.Errorf("invalid type for DynamoDB factory: %s", config.Type)
	}
	if config.Region == "" {
		return fmt.Errorf("region is required for DynamoDB")
	}
	if config.TableName == "" {
		return fmt.Errorf("table_name is required for DynamoDB")
	}
	return nil
}

// Create creates a new DynamoDB KV store instance based on the provided configuration.
func (f *DynamoDBKVStoreFactory) Create(ctx context.Context, config KVStoreConfig) (core.KVStore, error) {
	dynamoStore, err := NewDynamoDBKVStore(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB KV store: %w", err)
	}
	return dynamoStore, nil
}

// DynamoDBConfigValidator implements the ConfigValidator interface for DynamoDB.
type DynamoDBConfigValidator struct{}

// Type returns the type identifier for this validator.
func (v *DynamoDBConfigValidator) Type() string {
	return "dynamodb"
}

// Validate validates the DynamoDB-specific configuration in the internal config.
func (v *DynamoDBConfigValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	kvConfig := config.KVStore
	if kvConfig.Type != "dynamodb" {
		return fmt.Errorf("invalid type for DynamoDB validator: %s", kvConfig.Type)
	}
	if kvConfig.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got: %d", kvConfig.MaxRetries)
	}
	return (&DynamoDBKVStoreFactory{}).Validate(StoreConfig(config))
}

// init auto-registers the DynamoDB factory and validator on package initialization.
func init() {
	RegisterFactory(&DynamoDBKVStoreFactory{})
	registry.RegisterValidator(&DynamoDBConfigValidator{})
}
