package forumcache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/goforj/forumcache/cachetest"
)

// dynStub is an in-memory table that pages scans two items at a time.
type dynStub struct {
	mu          sync.Mutex
	items       map[string]map[string]types.AttributeValue
	tableExists bool
	describeErr []error
	created     int
	scans       int
	batches     int
}

func newDynStub() *dynStub {
	return &dynStub{items: make(map[string]map[string]types.AttributeValue), tableExists: true}
}

func (s *dynStub) key(m map[string]types.AttributeValue) string {
	return m["k"].(*types.AttributeValueMemberS).Value
}

func (s *dynStub) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: s.items[s.key(in.Key)]}, nil
}

func (s *dynStub) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[s.key(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (s *dynStub) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, s.key(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (s *dynStub) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	for _, writes := range in.RequestItems {
		if len(writes) > dynamoBatchWriteLimit {
			return nil, errors.New("too many items in batch")
		}
		for _, w := range writes {
			delete(s.items, s.key(w.DeleteRequest.Key))
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (s *dynStub) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	prefix := ""
	if in.FilterExpression != nil {
		prefix = in.ExpressionAttributeValues[":p"].(*types.AttributeValueMemberS).Value
	}
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	start := ""
	if in.ExclusiveStartKey != nil {
		start = s.key(in.ExclusiveStartKey)
	}
	out := &dynamodb.ScanOutput{}
	page := 0
	for _, k := range keys {
		if start != "" && k <= start {
			continue
		}
		if page == 2 {
			out.LastEvaluatedKey = map[string]types.AttributeValue{"k": &types.AttributeValueMemberS{Value: start}}
			break
		}
		page++
		start = k
		if strings.HasPrefix(k, prefix) {
			out.Items = append(out.Items, map[string]types.AttributeValue{"k": &types.AttributeValueMemberS{Value: k}})
		}
	}
	return out, nil
}

func (s *dynStub) CreateTable(context.Context, *dynamodb.CreateTableInput, ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	s.tableExists = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (s *dynStub) DescribeTable(context.Context, *dynamodb.DescribeTableInput, ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.describeErr) > 0 {
		err := s.describeErr[0]
		s.describeErr = s.describeErr[1:]
		return nil, err
	}
	if !s.tableExists {
		return nil, &types.ResourceNotFoundException{Message: aws.String("missing")}
	}
	return &dynamodb.DescribeTableOutput{}, nil
}

func newStubDynamoDriver(t *testing.T, stub *dynStub) (*DynamoDriver, *fakeClock) {
	t.Helper()
	cfg, clock := testConfigWithClock(t)
	cfg.DynamoClient = stub
	d, err := NewDynamoDriver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new dynamo driver: %v", err)
	}
	return d, clock
}

func TestDynamoDriverContract(t *testing.T) {
	d, clock := newStubDynamoDriver(t, newDynStub())
	cachetest.RunDriverContract(t, d, cachetest.Options{Advance: clock.Advance})
}

func TestDynamoDriverCreatesMissingTable(t *testing.T) {
	stub := newDynStub()
	stub.tableExists = false
	d, _ := newStubDynamoDriver(t, stub)
	if stub.created != 1 {
		t.Fatalf("expected table creation, got %d", stub.created)
	}
	if d.table != defaultDynamoTable {
		t.Fatalf("expected default table, got %q", d.table)
	}
}

func TestEnsureDynamoTableRetriesStartupErrors(t *testing.T) {
	stub := newDynStub()
	stub.describeErr = []error{errors.New("request send failed: connection refused")}
	if err := ensureDynamoTable(context.Background(), stub, "tbl"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}

	stub.describeErr = []error{errors.New("access denied")}
	if err := ensureDynamoTable(context.Background(), stub, "tbl"); err == nil {
		t.Fatalf("expected non-retryable error")
	}
}

func TestDynamoDriverClearPagesAndBatches(t *testing.T) {
	ctx := context.Background()
	stub := newDynStub()
	d, _ := newStubDynamoDriver(t, stub)
	for i := 0; i < 30; i++ {
		_ = d.Set(ctx, "users:"+strings.Repeat("x", i+1), []byte(`1`), time.Minute)
	}
	_ = d.Set(ctx, "boards:1", []byte(`1`), time.Minute)

	if err := d.Clear(ctx, "users:"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(stub.items) != 1 {
		t.Fatalf("expected only boards:1 to remain, have %d items", len(stub.items))
	}
	if stub.scans < 2 {
		t.Fatalf("expected paged scans, got %d", stub.scans)
	}
}

func TestDynamoDriverTreatsMissingExpiryAsExpired(t *testing.T) {
	ctx := context.Background()
	stub := newDynStub()
	d, _ := newStubDynamoDriver(t, stub)
	stub.items["forum:k"] = map[string]types.AttributeValue{
		"k": &types.AttributeValueMemberS{Value: "forum:k"},
		"v": &types.AttributeValueMemberB{Value: []byte(`1`)},
	}
	if _, ok, err := d.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if _, ok := stub.items["forum:k"]; ok {
		t.Fatalf("expired item not deleted")
	}
}

func TestNewDynamoDriverNeedsTarget(t *testing.T) {
	if _, err := NewDynamoDriver(context.Background(), testConfig(t)); err == nil {
		t.Fatalf("expected error without endpoint, table or client")
	}
}
