package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DDBClient is the subset of the DynamoDB API used by DynamoStore.
// *dynamodb.Client satisfies it.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoConfig locates the table of a FormatDynamoDB store.
type DynamoConfig struct {
	Client DDBClient
	Table  string
	// Timeout bounds each Append. Zero means DefaultDynamoTimeout.
	Timeout time.Duration
}

// DefaultDynamoTimeout bounds a single PutItem.
const DefaultDynamoTimeout = 30 * time.Second

// DynamoStore keeps the records of one run in a DynamoDB table. Writes go
// straight to the table, so Flush has nothing to do. A comparison appended
// twice is stored once.
//
// Table schema:
//   - Partition key: run_id (string)
//   - Sort key: idx (number), the flat index of the comparison
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name kwip-checkpoints \
//	  --attribute-definitions AttributeName=run_id,AttributeType=S AttributeName=idx,AttributeType=N \
//	  --key-schema AttributeName=run_id,KeyType=HASH AttributeName=idx,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DynamoStore struct {
	mu      sync.RWMutex
	client  DDBClient
	table   string
	runID   string
	timeout time.Duration
	closed  bool
}

// NewDynamoStore returns a store for the records of runID.
func NewDynamoStore(cfg DynamoConfig, runID string) (*DynamoStore, error) {
	if cfg.Client == nil || cfg.Table == "" {
		return nil, errors.New("checkpoint: dynamodb store needs a client and a table")
	}
	if runID == "" {
		return nil, errors.New("checkpoint: dynamodb store needs a run id")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultDynamoTimeout
	}
	return &DynamoStore{client: cfg.Client, table: cfg.Table, runID: runID, timeout: timeout}, nil
}

func (s *DynamoStore) key(idx uint64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"run_id": &types.AttributeValueMemberS{Value: s.runID},
		"idx":    &types.AttributeValueMemberN{Value: strconv.FormatUint(idx, 10)},
	}
}

// Append stores rec, replacing any record with the same index.
func (s *DynamoStore) Append(rec Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	item := s.key(rec.Index)
	item["a"] = &types.AttributeValueMemberS{Value: rec.A}
	item["b"] = &types.AttributeValueMemberS{Value: rec.B}
	// A string keeps NaN and infinities, which DynamoDB numbers reject.
	item["value"] = &types.AttributeValueMemberS{Value: strconv.FormatFloat(rec.Value, 'g', -1, 64)}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put checkpoint record %d: %w", rec.Index, err)
	}
	return nil
}

// Load returns every record of the run in index order.
func (s *DynamoStore) Load(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var records []Record
	err := s.query(ctx, false, func(item map[string]types.AttributeValue) error {
		rec, err := decodeItem(item)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	return records, nil
}

// Reset deletes every record of the run.
func (s *DynamoStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	var keys []map[string]types.AttributeValue
	err := s.query(ctx, true, func(item map[string]types.AttributeValue) error {
		keys = append(keys, map[string]types.AttributeValue{"run_id": item["run_id"], "idx": item["idx"]})
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key:       k,
		}); err != nil {
			return fmt.Errorf("delete checkpoint record: %w", err)
		}
	}
	return nil
}

// query pages through the items of the run.
func (s *DynamoStore) query(ctx context.Context, keysOnly bool, fn func(map[string]types.AttributeValue) error) error {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("run_id = :run"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":run": &types.AttributeValueMemberS{Value: s.runID},
		},
		ConsistentRead: aws.Bool(true),
	}
	if keysOnly {
		in.ProjectionExpression = aws.String("run_id, idx")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := s.client.Query(ctx, in)
		if err != nil {
			return fmt.Errorf("query checkpoint records: %w", err)
		}
		for _, item := range out.Items {
			if err := fn(item); err != nil {
				return err
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func decodeItem(item map[string]types.AttributeValue) (Record, error) {
	idxAttr, ok := item["idx"].(*types.AttributeValueMemberN)
	if !ok {
		return Record{}, fmt.Errorf("%w: item without idx", ErrCorrupt)
	}
	idx, err := strconv.ParseUint(idxAttr.Value, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: idx %q", ErrCorrupt, idxAttr.Value)
	}
	a, okA := item["a"].(*types.AttributeValueMemberS)
	b, okB := item["b"].(*types.AttributeValueMemberS)
	val, okV := item["value"].(*types.AttributeValueMemberS)
	if !okA || !okB || !okV {
		return Record{}, fmt.Errorf("%w: record %d has missing attributes", ErrCorrupt, idx)
	}
	v, err := strconv.ParseFloat(val.Value, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: record %d value %q", ErrCorrupt, idx, val.Value)
	}
	return Record{A: a.Value, B: b.Value, Index: idx, Value: v}, nil
}

// Flush is a no-op; every Append is already stored.
func (s *DynamoStore) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the store closed. The client is owned by the caller.
func (s *DynamoStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
