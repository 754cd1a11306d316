package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockAPI is a mock implementation of API for testing.
type mockAPI struct {
	getItemFunc      func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	putItemFunc      func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	updateItemFunc   func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	deleteItemFunc   func(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	queryFunc        func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	scanFunc         func(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	batchGetItemFunc func(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
}

func (m *mockAPI) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getItemFunc != nil {
		return m.getItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockAPI) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putItemFunc != nil {
		return m.putItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockAPI) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if m.updateItemFunc != nil {
		return m.updateItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockAPI) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if m.deleteItemFunc != nil {
		return m.deleteItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *mockAPI) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, params, optFns...)
	}
	return &dynamodb.QueryOutput{}, nil
}

func (m *mockAPI) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if m.scanFunc != nil {
		return m.scanFunc(ctx, params, optFns...)
	}
	return &dynamodb.ScanOutput{}, nil
}

func (m *mockAPI) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	if m.batchGetItemFunc != nil {
		return m.batchGetItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.BatchGetItemOutput{}, nil
}

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestStore(api API) *Store {
	return New(api, Config{TableName: "arbor-test"}, WithClock(func() time.Time { return testNow }))
}

func rawItem(pk, sk string, extra map[string]types.AttributeValue) map[string]types.AttributeValue {
	raw := map[string]types.AttributeValue{
		PartitionKey: &types.AttributeValueMemberS{Value: pk},
		SortKey:      &types.AttributeValueMemberS{Value: sk},
	}
	for k, v := range extra {
		raw[k] = v
	}
	return raw
}

func numAttr(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func TestGet(t *testing.T) {
	var captured *dynamodb.GetItemInput
	api := &mockAPI{
		getItemFunc: func(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			captured = params
			return &dynamodb.GetItemOutput{
				Item: rawItem("BLOG#1", "METADATA", map[string]types.AttributeValue{
					EntityTypeAttr: &types.AttributeValueMemberS{Value: "CONTENT"},
					StatusAttr:     &types.AttributeValueMemberS{Value: "DRAFT"},
					"title":        &types.AttributeValueMemberS{Value: "hello"},
				}),
			}, nil
		},
	}
	s := newTestStore(api)

	item, err := s.Get(context.Background(), Key{PK: "BLOG#1", SK: "METADATA"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if got := aws.ToString(captured.TableName); got != "arbor-test" {
		t.Errorf("TableName = %q, want arbor-test", got)
	}
	if got := stringAttr(captured.Key[PartitionKey]); got != "BLOG#1" {
		t.Errorf("key pk = %q, want BLOG#1", got)
	}

	if item.EntityType != "CONTENT" || item.Status != "DRAFT" {
		t.Errorf("item = %+v, want CONTENT/DRAFT", item)
	}
	if got := item.Data["title"]; got != "hello" {
		t.Errorf("title = %v, want hello", got)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(&mockAPI{})

	_, err := s.Get(context.Background(), Key{PK: "BLOG#1", SK: "METADATA"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetExpiredIsNotFound(t *testing.T) {
	api := &mockAPI{
		getItemFunc: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{
				Item: rawItem("VISITOR#SESSION#x", "TRACKED", map[string]types.AttributeValue{
					TTLAttr: numAttr(testNow.Add(-time.Hour).Unix()),
				}),
			}, nil
		},
	}
	s := newTestStore(api)

	_, err := s.Get(context.Background(), Key{PK: "VISITOR#SESSION#x", SK: "TRACKED"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for expired item", err)
	}
}

func TestPutIfAbsent(t *testing.T) {
	var captured *dynamodb.PutItemInput
	api := &mockAPI{
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			captured = params
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	s := newTestStore(api)

	item := Item{
		Key:        Key{PK: "VISITOR#SESSION#abc", SK: "TRACKED"},
		EntityType: "VISITOR_SESSION",
		ExpiresAt:  testNow.Add(14 * time.Hour).Unix(),
	}
	if err := s.Put(context.Background(), item, PutOptions{IfAbsent: true}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	cond := aws.ToString(captured.ConditionExpression)
	if !strings.Contains(cond, "attribute_not_exists(#pk)") {
		t.Errorf("condition %q missing absence check", cond)
	}
	// An expired leftover must be overwritable.
	if !strings.Contains(cond, "#exp <= :now") {
		t.Errorf("condition %q missing expiry escape hatch", cond)
	}
	if _, ok := captured.Item[TTLAttr]; !ok {
		t.Error("expiry attribute not written")
	}
}

func TestPutIfAbsentConflict(t *testing.T) {
	api := &mockAPI{
		putItemFunc: func(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("conditional check failed")}
		},
	}
	s := newTestStore(api)

	err := s.Put(context.Background(), Item{Key: Key{PK: "a", SK: "b"}}, PutOptions{IfAbsent: true})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestPutUnconditional(t *testing.T) {
	var captured *dynamodb.PutItemInput
	api := &mockAPI{
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			captured = params
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	s := newTestStore(api)

	if err := s.Put(context.Background(), Item{Key: Key{PK: "a", SK: "b"}}, PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if captured.ConditionExpression != nil {
		t.Errorf("unexpected condition %q", aws.ToString(captured.ConditionExpression))
	}
}

func TestPutRejectsReservedPayload(t *testing.T) {
	s := newTestStore(&mockAPI{})

	item := Item{
		Key:  Key{PK: "a", SK: "b"},
		Data: map[string]any{CountAttr: 7},
	}
	err := s.Put(context.Background(), item, PutOptions{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestUpdateExpressionShape(t *testing.T) {
	var captured *dynamodb.UpdateItemInput
	api := &mockAPI{
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			captured = params
			return &dynamodb.UpdateItemOutput{
				Attributes: rawItem("BLOG#1", "METADATA", map[string]types.AttributeValue{
					StatusAttr: &types.AttributeValueMemberS{Value: "PUBLISHED"},
				}),
			}, nil
		},
	}
	s := newTestStore(api)

	item, err := s.Update(context.Background(), Key{PK: "BLOG#1", SK: "METADATA"}, Mutation{
		Set:    map[string]any{"publishedAt": "2024-03-15T10:00:00Z"},
		Remove: []string{"draftNote"},
		Status: "PUBLISHED",
		Index:  &IndexKey{Partition: "BLOG#STATUS#PUBLISHED", Sort: "BLOG#2024-03-15T10:00:00Z"},
	}, UpdateOptions{ExpectedStatus: "DRAFT"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if item.Status != "PUBLISHED" {
		t.Errorf("status = %q, want PUBLISHED", item.Status)
	}

	expr := aws.ToString(captured.UpdateExpression)
	if !strings.HasPrefix(expr, "SET ") || !strings.Contains(expr, "REMOVE ") {
		t.Errorf("expression %q missing SET/REMOVE sections", expr)
	}
	if !strings.Contains(expr, "#status = :status") {
		t.Errorf("expression %q does not set status", expr)
	}
	if !strings.Contains(expr, "#gsi1pk = :gsi1pk") || !strings.Contains(expr, "#gsi1sk = :gsi1sk") {
		t.Errorf("expression %q does not rewrite index keys", expr)
	}

	cond := aws.ToString(captured.ConditionExpression)
	if !strings.Contains(cond, "attribute_exists(#pk)") {
		t.Errorf("condition %q missing existence check", cond)
	}
	if !strings.Contains(cond, "#status = :expected_status") {
		t.Errorf("condition %q missing status guard", cond)
	}
	if captured.ReturnValuesOnConditionCheckFailure != types.ReturnValuesOnConditionCheckFailureAllOld {
		t.Error("old image not requested on condition failure")
	}
}

func TestUpdateConditionFailureMapping(t *testing.T) {
	tests := []struct {
		name     string
		oldImage map[string]types.AttributeValue
		want     error
	}{
		{
			name: "absent item",
			want: ErrNotFound,
		},
		{
			name: "expired item",
			oldImage: rawItem("a", "b", map[string]types.AttributeValue{
				TTLAttr: numAttr(testNow.Add(-time.Minute).Unix()),
			}),
			want: ErrNotFound,
		},
		{
			name: "wrong state",
			oldImage: rawItem("a", "b", map[string]types.AttributeValue{
				StatusAttr: &types.AttributeValueMemberS{Value: "PUBLISHED"},
			}),
			want: ErrPreconditionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{
				updateItemFunc: func(_ context.Context, _ *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
					return nil, &types.ConditionalCheckFailedException{
						Message: aws.String("conditional check failed"),
						Item:    tt.oldImage,
					}
				},
			}
			s := newTestStore(api)

			_, err := s.Update(context.Background(), Key{PK: "a", SK: "b"},
				Mutation{Status: "PUBLISHED"}, UpdateOptions{ExpectedStatus: "DRAFT"})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUpdateEmptyMutation(t *testing.T) {
	s := newTestStore(&mockAPI{})

	_, err := s.Update(context.Background(), Key{PK: "a", SK: "b"}, Mutation{}, UpdateOptions{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestIncrement(t *testing.T) {
	var captured *dynamodb.UpdateItemInput
	api := &mockAPI{
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			captured = params
			return &dynamodb.UpdateItemOutput{
				Attributes: rawItem("ANALYTICS#blog#1", "VIEWS", map[string]types.AttributeValue{
					CountAttr: numAttr(4),
				}),
			}, nil
		},
	}
	s := newTestStore(api)

	count, err := s.Increment(context.Background(), Key{PK: "ANALYTICS#blog#1", SK: "VIEWS"}, 1, IncrementOptions{
		EntityType: "ANALYTICS_VIEWS",
		Index:      &IndexKey{Partition: "ANALYTICS#blog", Sort: "ANALYTICS#VIEWS#0000000001"},
		Init:       map[string]any{"contentId": "1"},
	})
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if count != 4 {
		t.Errorf("count = %d, want 4", count)
	}

	expr := aws.ToString(captured.UpdateExpression)
	if !strings.Contains(expr, "ADD #count :delta") {
		t.Errorf("expression %q missing ADD clause", expr)
	}
	// First-write attributes must never clobber existing values.
	if !strings.Contains(expr, "if_not_exists(#gsi1sk, :init_gsi1sk)") {
		t.Errorf("expression %q does not guard index init", expr)
	}
	if captured.ConditionExpression != nil {
		t.Errorf("positive delta has unexpected condition %q", aws.ToString(captured.ConditionExpression))
	}
}

func TestIncrementNegativeFloored(t *testing.T) {
	var captured *dynamodb.UpdateItemInput
	api := &mockAPI{
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			captured = params
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("conditional check failed")}
		},
	}
	s := newTestStore(api)

	_, err := s.Increment(context.Background(), Key{PK: "BLOG#CATEGORY#aws", SK: "COUNT"}, -1, IncrementOptions{})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("err = %v, want ErrPreconditionFailed", err)
	}

	cond := aws.ToString(captured.ConditionExpression)
	if !strings.Contains(cond, "#count >= :floor") {
		t.Errorf("condition %q missing floor", cond)
	}
}

func TestQueryBySecondary(t *testing.T) {
	var captured *dynamodb.QueryInput
	lastKey := map[string]types.AttributeValue{
		PartitionKey:      &types.AttributeValueMemberS{Value: "BLOG#2"},
		SortKey:           &types.AttributeValueMemberS{Value: "METADATA"},
		IndexPartitionKey: &types.AttributeValueMemberS{Value: "BLOG#STATUS#PUBLISHED"},
		IndexSortKey:      &types.AttributeValueMemberS{Value: "BLOG#2024-03-14T00:00:00Z"},
	}
	api := &mockAPI{
		queryFunc: func(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			captured = params
			return &dynamodb.QueryOutput{
				Items: []map[string]types.AttributeValue{
					rawItem("BLOG#1", "METADATA", map[string]types.AttributeValue{
						IndexPartitionKey: &types.AttributeValueMemberS{Value: "BLOG#STATUS#PUBLISHED"},
						IndexSortKey:      &types.AttributeValueMemberS{Value: "BLOG#2024-03-15T00:00:00Z"},
					}),
				},
				LastEvaluatedKey: lastKey,
			}, nil
		},
	}
	s := newTestStore(api)

	page, err := s.QueryBySecondary(context.Background(), SecondaryQuery{
		Partition: "BLOG#STATUS#PUBLISHED",
		Ascending: false,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("QueryBySecondary: %v", err)
	}

	if got := aws.ToString(captured.IndexName); got != DefaultIndexName {
		t.Errorf("IndexName = %q, want %q", got, DefaultIndexName)
	}
	if aws.ToBool(captured.ScanIndexForward) {
		t.Error("ScanIndexForward = true, want false for descending")
	}
	if filter := aws.ToString(captured.FilterExpression); !strings.Contains(filter, "#exp > :now") {
		t.Errorf("filter %q does not exclude expired items", filter)
	}

	if len(page.Items) != 1 || page.Items[0].Index == nil {
		t.Fatalf("page = %+v, want one indexed item", page)
	}
	if page.NextCursor == "" {
		t.Fatal("NextCursor empty, want resume token")
	}

	// Feeding the cursor back must reproduce the LastEvaluatedKey.
	start, err := decodeCursor(page.NextCursor)
	if err != nil {
		t.Fatalf("decodeCursor: %v", err)
	}
	for name, want := range lastKey {
		if got := stringAttr(start[name]); got != stringAttr(want) {
			t.Errorf("cursor key %s = %q, want %q", name, got, stringAttr(want))
		}
	}
}

func TestQueryBySecondaryBadCursor(t *testing.T) {
	s := newTestStore(&mockAPI{})

	_, err := s.QueryBySecondary(context.Background(), SecondaryQuery{
		Partition: "BLOG#STATUS#PUBLISHED",
		Cursor:    "not a cursor!",
	})
	if !errors.Is(err, ErrBadCursor) {
		t.Fatalf("err = %v, want ErrBadCursor", err)
	}
}

func TestCursorAfterRoundTrip(t *testing.T) {
	s := newTestStore(&mockAPI{})

	item := &Item{
		Key:   Key{PK: "BLOG#7", SK: "METADATA"},
		Index: &IndexKey{Partition: "BLOG#STATUS#DRAFT", Sort: "BLOG#2024-01-01T00:00:00Z"},
	}
	cursor, err := s.CursorAfter(item)
	if err != nil {
		t.Fatalf("CursorAfter: %v", err)
	}
	start, err := decodeCursor(cursor)
	if err != nil {
		t.Fatalf("decodeCursor: %v", err)
	}
	if got := stringAttr(start[IndexSortKey]); got != "BLOG#2024-01-01T00:00:00Z" {
		t.Errorf("gsi1sk = %q, want sort key preserved", got)
	}

	if _, err := s.CursorAfter(&Item{Key: Key{PK: "x", SK: "y"}}); !errors.Is(err, ErrValidation) {
		t.Errorf("unindexed item: err = %v, want ErrValidation", err)
	}
}

func TestBatchGetRetriesUnprocessed(t *testing.T) {
	calls := 0
	api := &mockAPI{
		batchGetItemFunc: func(_ context.Context, params *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
			calls++
			table := "arbor-test"
			if calls == 1 {
				return &dynamodb.BatchGetItemOutput{
					Responses: map[string][]map[string]types.AttributeValue{
						table: {rawItem("VISITOR#DAILY#2024-03-14", "COUNT", map[string]types.AttributeValue{
							CountAttr: numAttr(3),
						})},
					},
					UnprocessedKeys: map[string]types.KeysAndAttributes{
						table: {Keys: []map[string]types.AttributeValue{
							keyAttrs(Key{PK: "VISITOR#DAILY#2024-03-15", SK: "COUNT"}),
						}},
					},
				}, nil
			}
			return &dynamodb.BatchGetItemOutput{
				Responses: map[string][]map[string]types.AttributeValue{
					table: {rawItem("VISITOR#DAILY#2024-03-15", "COUNT", map[string]types.AttributeValue{
						CountAttr: numAttr(5),
					})},
				},
			}, nil
		},
	}
	s := newTestStore(api)

	items, err := s.BatchGet(context.Background(), []Key{
		{PK: "VISITOR#DAILY#2024-03-14", SK: "COUNT"},
		{PK: "VISITOR#DAILY#2024-03-15", SK: "COUNT"},
	})
	if err != nil {
		t.Fatalf("BatchGet: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
}

func TestBatchGetSkipsExpired(t *testing.T) {
	api := &mockAPI{
		batchGetItemFunc: func(_ context.Context, _ *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
			return &dynamodb.BatchGetItemOutput{
				Responses: map[string][]map[string]types.AttributeValue{
					"arbor-test": {
						rawItem("a", "COUNT", map[string]types.AttributeValue{
							TTLAttr: numAttr(testNow.Add(-time.Hour).Unix()),
						}),
						rawItem("b", "COUNT", nil),
					},
				},
			}, nil
		},
	}
	s := newTestStore(api)

	items, err := s.BatchGet(context.Background(), []Key{{PK: "a", SK: "COUNT"}, {PK: "b", SK: "COUNT"}})
	if err != nil {
		t.Fatalf("BatchGet: %v", err)
	}
	if len(items) != 1 || items[0].Key.PK != "b" {
		t.Errorf("items = %+v, want only the live one", items)
	}
}

func TestQueryPrefixPaginates(t *testing.T) {
	calls := 0
	api := &mockAPI{
		scanFunc: func(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
			calls++
			if calls == 1 {
				return &dynamodb.ScanOutput{
					Items:            []map[string]types.AttributeValue{rawItem("BLOG#CATEGORY#aws", "COUNT", nil)},
					LastEvaluatedKey: keyAttrs(Key{PK: "BLOG#CATEGORY#aws", SK: "COUNT"}),
				}, nil
			}
			return &dynamodb.ScanOutput{
				Items: []map[string]types.AttributeValue{rawItem("BLOG#CATEGORY#go", "COUNT", nil)},
			}, nil
		},
	}
	s := newTestStore(api)

	items, err := s.QueryPrefix(context.Background(), "BLOG#CATEGORY#", "COUNT")
	if err != nil {
		t.Fatalf("QueryPrefix: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
}

func TestRetryOnThrottle(t *testing.T) {
	calls := 0
	api := &mockAPI{
		putItemFunc: func(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			calls++
			if calls < 3 {
				return nil, &types.ProvisionedThroughputExceededException{Message: aws.String("throttled")}
			}
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	s := newTestStore(api)

	if err := s.Put(context.Background(), Item{Key: Key{PK: "a", SK: "b"}}, PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustion(t *testing.T) {
	api := &mockAPI{
		putItemFunc: func(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, &types.InternalServerError{Message: aws.String("oops")}
		},
	}
	s := newTestStore(api)

	err := s.Put(context.Background(), Item{Key: Key{PK: "a", SK: "b"}}, PutOptions{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
