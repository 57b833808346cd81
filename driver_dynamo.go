package forumcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/goforj/forumcache/cachecore"
)

// DynamoAPI captures the subset of DynamoDB client methods used by the driver.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

var _ DynamoAPI = (*dynamodb.Client)(nil)

const (
	dynamoEnsureTableMaxAttempts = 20
	dynamoEnsureTableRetryDelay  = 150 * time.Millisecond
	dynamoBatchWriteLimit        = 25
)

// DynamoDriver stores entries in a DynamoDB table keyed by "k", with the
// payload in "v" and the expiry (unix ms) in "ea".
type DynamoDriver struct {
	client DynamoAPI
	table  string
	base   cachecore.BaseConfig
}

// NewDynamoDriver binds to cfg.DynamoClient, or builds a client for
// cfg.DynamoRegion/cfg.DynamoEndpoint, and ensures the table exists.
// @group Drivers
func NewDynamoDriver(ctx context.Context, cfg Config) (*DynamoDriver, error) {
	cfg = cfg.withDefaults()
	client := cfg.DynamoClient
	if client == nil && cfg.DynamoEndpoint == "" && cfg.DynamoTable == "" {
		return nil, errors.New("dynamodb driver requires an endpoint, table or client")
	}
	if cfg.DynamoTable == "" {
		cfg.DynamoTable = defaultDynamoTable
	}
	if client == nil {
		c, err := newDynamoClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client = c
	}
	if err := ensureDynamoTable(ctx, client, cfg.DynamoTable); err != nil {
		return nil, err
	}
	return &DynamoDriver{client: client, table: cfg.DynamoTable, base: cfg.base()}, nil
}

func newDynamoClient(ctx context.Context, cfg Config) (*dynamodb.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.DynamoRegion)}
	if cfg.DynamoEndpoint != "" {
		// local endpoints accept any credentials
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("local", "local", "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.DynamoEndpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.DynamoEndpoint, HostnameImmutable: true}, nil
		})
		awsCfg.EndpointResolverWithOptions = resolver
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}

func (d *DynamoDriver) ID() cachecore.DriverID { return cachecore.DriverDynamo }

func (d *DynamoDriver) IsSupported(ctx context.Context) bool {
	if d.client == nil {
		return false
	}
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.table)})
	return err == nil
}

func (d *DynamoDriver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key:       d.itemKey(key),
	})
	if err != nil {
		return nil, false, err
	}
	if out.Item == nil {
		return nil, false, nil
	}
	if d.expired(out.Item) {
		_ = d.Delete(ctx, key)
		return nil, false, nil
	}
	v, ok := out.Item["v"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, false, errors.New("dynamodb item missing binary value")
	}
	return cloneBytes(v.Value), true, nil
}

func (d *DynamoDriver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if value == nil {
		return d.Delete(ctx, key)
	}
	if ttl <= 0 {
		ttl = d.base.DefaultTTL
	}
	exp := d.base.Now().Add(ttl).UnixMilli()
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item: map[string]types.AttributeValue{
			"k":  &types.AttributeValueMemberS{Value: d.cacheKey(key)},
			"v":  &types.AttributeValueMemberB{Value: cloneBytes(value)},
			"ea": &types.AttributeValueMemberN{Value: strconv.FormatInt(exp, 10)},
		},
	})
	return err
}

func (d *DynamoDriver) Delete(ctx context.Context, key string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       d.itemKey(key),
	})
	return err
}

// Clear scans for keys beginning with the namespaced match and deletes them
// in batches.
func (d *DynamoDriver) Clear(ctx context.Context, match string) error {
	var startKey map[string]types.AttributeValue
	prefix := d.cacheKey(match)
	for {
		input := &dynamodb.ScanInput{
			TableName:            aws.String(d.table),
			ProjectionExpression: aws.String("k"),
			ExclusiveStartKey:    startKey,
		}
		if prefix != "" {
			input.FilterExpression = aws.String("begins_with(k, :p)")
			input.ExpressionAttributeValues = map[string]types.AttributeValue{":p": &types.AttributeValueMemberS{Value: prefix}}
		}
		out, err := d.client.Scan(ctx, input)
		if err != nil {
			return err
		}
		if err := d.deleteItems(ctx, out.Items); err != nil {
			return err
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (d *DynamoDriver) deleteItems(ctx context.Context, items []map[string]types.AttributeValue) error {
	writes := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		k, ok := item["k"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		writes = append(writes, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{
				Key: map[string]types.AttributeValue{"k": &types.AttributeValueMemberS{Value: k.Value}},
			},
		})
	}
	for len(writes) > 0 {
		n := min(len(writes), dynamoBatchWriteLimit)
		if _, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{d.table: writes[:n]},
		}); err != nil {
			return err
		}
		writes = writes[n:]
	}
	return nil
}

func (d *DynamoDriver) InvalidateCache(context.Context) error {
	return touchBaseSentinel(d.base)
}

func (d *DynamoDriver) cacheKey(key string) string {
	return namespacedKey(d.base.Namespace, key)
}

func (d *DynamoDriver) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"k": &types.AttributeValueMemberS{Value: d.cacheKey(key)}}
}

func (d *DynamoDriver) expired(item map[string]types.AttributeValue) bool {
	av, ok := item["ea"].(*types.AttributeValueMemberN)
	if !ok {
		return true
	}
	exp, err := strconv.ParseInt(av.Value, 10, 64)
	if err != nil {
		return true
	}
	return d.base.Now().UnixMilli() > exp
}

func ensureDynamoTable(ctx context.Context, client DynamoAPI, table string) error {
	var lastErr error
	for attempt := 1; attempt <= dynamoEnsureTableMaxAttempts; attempt++ {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err == nil {
			return nil
		}

		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			_, createErr := client.CreateTable(ctx, &dynamodb.CreateTableInput{
				TableName: aws.String(table),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("k"), KeyType: types.KeyTypeHash},
				},
				AttributeDefinitions: []types.AttributeDefinition{
					{AttributeName: aws.String("k"), AttributeType: types.ScalarAttributeTypeS},
				},
				BillingMode: types.BillingModePayPerRequest,
			})
			if createErr == nil {
				return nil
			}
			var inUse *types.ResourceInUseException
			if errors.As(createErr, &inUse) {
				return nil
			}
			if !isDynamoStartupRetryable(createErr) {
				return createErr
			}
			lastErr = createErr
		} else {
			if !isDynamoStartupRetryable(err) {
				return err
			}
			lastErr = err
		}

		if attempt == dynamoEnsureTableMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dynamoEnsureTableRetryDelay):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("dynamo table ensure failed")
	}
	return fmt.Errorf("ensure dynamo table %q: %w", table, lastErr)
}

func isDynamoStartupRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "request send failed") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "eof")
}
