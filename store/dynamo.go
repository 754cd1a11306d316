package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// API is the subset of the DynamoDB client the engine uses. Inject a custom
// implementation for testing.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
}

// Store is the DynamoDB-backed [Engine].
type Store struct {
	client API
	config Config
	opts   *options
}

var _ Engine = (*Store)(nil)

// New creates a Store on top of an initialized DynamoDB client.
func New(client API, config Config, opts ...Option) *Store {
	config.validate()
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Store{
		client: client,
		config: config,
		opts:   o,
	}
}

const defaultQueryLimit = 20

var reservedAttrs = map[string]bool{
	PartitionKey:      true,
	SortKey:           true,
	IndexPartitionKey: true,
	IndexSortKey:      true,
	EntityTypeAttr:    true,
	StatusAttr:        true,
	CountAttr:         true,
	TTLAttr:           true,
}

// Get retrieves an item by key, returning ErrNotFound if absent or expired.
func (s *Store) Get(ctx context.Context, key Key) (*Item, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	var out *dynamodb.GetItemOutput
	err := s.withRetry(ctx, "get", func(ctx context.Context) error {
		var err error
		out, err = s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.config.TableName),
			Key:       keyAttrs(key),
		})
		return err
	})
	if err != nil {
		return nil, mapUnknown(err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	if isExpiredRaw(out.Item, s.opts.clock()) {
		return nil, ErrNotFound
	}

	return unmarshalItem(out.Item)
}

// Put writes an item. With IfAbsent, it fails with ErrAlreadyExists when a
// non-expired item already holds the key; an expired leftover is
// overwritable, which is what lets dedup markers come back the next day.
func (s *Store) Put(ctx context.Context, item Item, opts PutOptions) error {
	raw, err := marshalItem(item)
	if err != nil {
		return err
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.config.TableName),
		Item:      raw,
	}
	if opts.IfAbsent {
		input.ConditionExpression = aws.String(
			"attribute_not_exists(#pk) OR (attribute_exists(#exp) AND #exp <= :now)")
		input.ExpressionAttributeNames = map[string]string{
			"#pk":  PartitionKey,
			"#exp": TTLAttr,
		}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":now": nowAttr(s.opts.clock()),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	err = s.withRetry(ctx, "put", func(ctx context.Context) error {
		_, err := s.client.PutItem(ctx, input)
		return err
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrAlreadyExists
		}
		return mapUnknown(err)
	}
	return nil
}

// Update atomically applies mut to the item at key. Payload fields, status,
// and secondary-index coordinates are rewritten in one UpdateItem call so
// there is never a window where they disagree.
func (s *Store) Update(ctx context.Context, key Key, mut Mutation, opts UpdateOptions) (*Item, error) {
	if len(mut.Set) == 0 && len(mut.Remove) == 0 && mut.Status == "" && mut.Index == nil {
		return nil, fmt.Errorf("%w: empty mutation", ErrValidation)
	}

	now := s.opts.clock()
	names := map[string]string{
		"#pk":  PartitionKey,
		"#exp": TTLAttr,
	}
	values := map[string]types.AttributeValue{
		":now": nowAttr(now),
	}

	var setClauses, removeClauses []string
	i := 0
	for name, value := range mut.Set {
		if reservedAttrs[name] {
			return nil, fmt.Errorf("%w: %q is a reserved attribute", ErrValidation, name)
		}
		av, err := attributevalue.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal %q: %v", ErrValidation, name, err)
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		names[nameKey] = name
		values[valueKey] = av
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
		i++
	}
	for j, name := range mut.Remove {
		if reservedAttrs[name] {
			return nil, fmt.Errorf("%w: %q is a reserved attribute", ErrValidation, name)
		}
		nameKey := fmt.Sprintf("#rm%d", j)
		names[nameKey] = name
		removeClauses = append(removeClauses, nameKey)
	}
	if mut.Status != "" {
		names["#status"] = StatusAttr
		values[":status"] = &types.AttributeValueMemberS{Value: mut.Status}
		setClauses = append(setClauses, "#status = :status")
	}
	if mut.Index != nil {
		names["#gsi1pk"] = IndexPartitionKey
		names["#gsi1sk"] = IndexSortKey
		values[":gsi1pk"] = &types.AttributeValueMemberS{Value: mut.Index.Partition}
		values[":gsi1sk"] = &types.AttributeValueMemberS{Value: mut.Index.Sort}
		setClauses = append(setClauses, "#gsi1pk = :gsi1pk", "#gsi1sk = :gsi1sk")
	}

	expr := ""
	if len(setClauses) > 0 {
		expr = "SET " + strings.Join(setClauses, ", ")
	}
	if len(removeClauses) > 0 {
		if expr != "" {
			expr += " "
		}
		expr += "REMOVE " + strings.Join(removeClauses, ", ")
	}

	cond := "attribute_exists(#pk) AND " + notExpiredExpr
	if opts.ExpectedStatus != "" {
		names["#status"] = StatusAttr
		values[":expected_status"] = &types.AttributeValueMemberS{Value: opts.ExpectedStatus}
		cond += " AND #status = :expected_status"
	}
	if opts.ExpectedCount != nil {
		names["#count"] = CountAttr
		values[":expected_count"] = &types.AttributeValueMemberN{
			Value: strconv.FormatInt(*opts.ExpectedCount, 10),
		}
		cond += " AND #count = :expected_count"
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.config.TableName),
		Key:                                 keyAttrs(key),
		UpdateExpression:                    aws.String(expr),
		ConditionExpression:                 aws.String(cond),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	var out *dynamodb.UpdateItemOutput
	err := s.withRetry(ctx, "update", func(ctx context.Context) error {
		var err error
		out, err = s.client.UpdateItem(ctx, input)
		return err
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			// The old image distinguishes "no such item" from "item in the
			// wrong state".
			if len(condErr.Item) == 0 || isExpiredRaw(condErr.Item, now) {
				return nil, ErrNotFound
			}
			return nil, ErrPreconditionFailed
		}
		return nil, mapUnknown(err)
	}

	return unmarshalItem(out.Attributes)
}

// Delete removes the item at key. With MustExist it fails with ErrNotFound
// when the key is absent or expired.
func (s *Store) Delete(ctx context.Context, key Key, opts DeleteOptions) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.TableName),
		Key:       keyAttrs(key),
	}
	if opts.MustExist {
		input.ConditionExpression = aws.String("attribute_exists(#pk) AND " + notExpiredExpr)
		input.ExpressionAttributeNames = map[string]string{
			"#pk":  PartitionKey,
			"#exp": TTLAttr,
		}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":now": nowAttr(s.opts.clock()),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	err := s.withRetry(ctx, "delete", func(ctx context.Context) error {
		_, err := s.client.DeleteItem(ctx, input)
		return err
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrNotFound
		}
		return mapUnknown(err)
	}
	return nil
}

// Increment atomically adds delta to the item's counter and returns the new
// value, creating the counter at delta when absent. First-write attributes
// from opts are set with if_not_exists in the same call, so exactly one of
// any number of racing incrementers initializes them.
func (s *Store) Increment(ctx context.Context, key Key, delta int64, opts IncrementOptions) (int64, error) {
	names := map[string]string{
		"#count": CountAttr,
	}
	values := map[string]types.AttributeValue{
		":delta": &types.AttributeValueMemberN{Value: strconv.FormatInt(delta, 10)},
	}

	var setClauses []string
	if opts.EntityType != "" {
		names["#entity_type"] = EntityTypeAttr
		values[":entity_type"] = &types.AttributeValueMemberS{Value: opts.EntityType}
		setClauses = append(setClauses, "#entity_type = if_not_exists(#entity_type, :entity_type)")
	}
	if opts.Index != nil {
		names["#gsi1pk"] = IndexPartitionKey
		names["#gsi1sk"] = IndexSortKey
		values[":init_gsi1pk"] = &types.AttributeValueMemberS{Value: opts.Index.Partition}
		values[":init_gsi1sk"] = &types.AttributeValueMemberS{Value: opts.Index.Sort}
		setClauses = append(setClauses,
			"#gsi1pk = if_not_exists(#gsi1pk, :init_gsi1pk)",
			"#gsi1sk = if_not_exists(#gsi1sk, :init_gsi1sk)",
		)
	}
	i := 0
	for name, value := range opts.Init {
		if reservedAttrs[name] {
			return 0, fmt.Errorf("%w: %q is a reserved attribute", ErrValidation, name)
		}
		av, err := attributevalue.Marshal(value)
		if err != nil {
			return 0, fmt.Errorf("%w: marshal %q: %v", ErrValidation, name, err)
		}
		nameKey := fmt.Sprintf("#init%d", i)
		valueKey := fmt.Sprintf(":init%d", i)
		names[nameKey] = name
		values[valueKey] = av
		setClauses = append(setClauses, fmt.Sprintf("%s = if_not_exists(%s, %s)", nameKey, nameKey, valueKey))
		i++
	}

	expr := ""
	if len(setClauses) > 0 {
		expr = "SET " + strings.Join(setClauses, ", ") + " "
	}
	expr += "ADD #count :delta"

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.TableName),
		Key:                       keyAttrs(key),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	}

	// Negative deltas are floored: never drive a counter below zero.
	if delta < 0 {
		names["#pk"] = PartitionKey
		values[":floor"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(-delta, 10)}
		input.ConditionExpression = aws.String("attribute_exists(#pk) AND #count >= :floor")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	var out *dynamodb.UpdateItemOutput
	err := s.withRetry(ctx, "increment", func(ctx context.Context) error {
		var err error
		out, err = s.client.UpdateItem(ctx, input)
		return err
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, ErrPreconditionFailed
		}
		return 0, mapUnknown(err)
	}

	num, ok := out.Attributes[CountAttr].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("%w: counter attribute missing from update result", ErrUnavailable)
	}
	value, err := strconv.ParseInt(num.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse counter: %v", ErrUnavailable, err)
	}
	return value, nil
}

// QueryBySecondary range-scans one secondary-index partition. Expired items
// are filtered out server-side; the cursor wraps DynamoDB's own resume key.
func (s *Store) QueryBySecondary(ctx context.Context, q SecondaryQuery) (*Page, error) {
	startKey, err := decodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.config.TableName),
		IndexName:              aws.String(s.config.IndexName),
		KeyConditionExpression: aws.String("#gsi1pk = :partition"),
		FilterExpression:       aws.String(notExpiredExpr),
		ExpressionAttributeNames: map[string]string{
			"#gsi1pk": IndexPartitionKey,
			"#exp":    TTLAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":partition": &types.AttributeValueMemberS{Value: q.Partition},
			":now":       nowAttr(s.opts.clock()),
		},
		ScanIndexForward:  aws.Bool(q.Ascending),
		Limit:             aws.Int32(limit),
		ExclusiveStartKey: startKey,
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	var out *dynamodb.QueryOutput
	err = s.withRetry(ctx, "query", func(ctx context.Context) error {
		var err error
		out, err = s.client.Query(ctx, input)
		return err
	})
	if err != nil {
		return nil, mapUnknown(err)
	}

	page := &Page{}
	for _, raw := range out.Items {
		item, err := unmarshalItem(raw)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, item)
	}
	if len(out.LastEvaluatedKey) > 0 {
		cursor, err := encodeCursor(out.LastEvaluatedKey)
		if err != nil {
			return nil, mapUnknown(err)
		}
		page.NextCursor = cursor
	}
	return page, nil
}

// CursorAfter synthesizes a cursor that resumes a secondary query
// immediately after item. The item must have been read from the index.
func (s *Store) CursorAfter(item *Item) (string, error) {
	if item == nil || item.Index == nil {
		return "", fmt.Errorf("%w: item is not in the secondary index", ErrValidation)
	}
	return encodeCursor(map[string]types.AttributeValue{
		PartitionKey:      &types.AttributeValueMemberS{Value: item.Key.PK},
		SortKey:           &types.AttributeValueMemberS{Value: item.Key.SK},
		IndexPartitionKey: &types.AttributeValueMemberS{Value: item.Index.Partition},
		IndexSortKey:      &types.AttributeValueMemberS{Value: item.Index.Sort},
	})
}

const batchGetChunk = 100

// BatchGet returns the non-expired items among keys, chunked at the
// DynamoDB BatchGetItem limit, retrying unprocessed keys with backoff.
func (s *Store) BatchGet(ctx context.Context, keys []Key) ([]*Item, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	now := s.opts.clock()
	var items []*Item

	for start := 0; start < len(keys); start += batchGetChunk {
		end := min(start+batchGetChunk, len(keys))

		pending := make([]map[string]types.AttributeValue, 0, end-start)
		for _, key := range keys[start:end] {
			pending = append(pending, keyAttrs(key))
		}

		const maxUnprocessedRetries = 5
		backoff := baseBackoff

		for attempt := 0; len(pending) > 0; attempt++ {
			input := &dynamodb.BatchGetItemInput{
				RequestItems: map[string]types.KeysAndAttributes{
					s.config.TableName: {Keys: pending},
				},
			}

			var out *dynamodb.BatchGetItemOutput
			err := s.withRetry(ctx, "batch_get", func(ctx context.Context) error {
				var err error
				out, err = s.client.BatchGetItem(ctx, input)
				return err
			})
			if err != nil {
				return nil, mapUnknown(err)
			}

			for _, raw := range out.Responses[s.config.TableName] {
				if isExpiredRaw(raw, now) {
					continue
				}
				item, err := unmarshalItem(raw)
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}

			unprocessed, ok := out.UnprocessedKeys[s.config.TableName]
			if !ok || len(unprocessed.Keys) == 0 {
				break
			}
			if attempt == maxUnprocessedRetries {
				return nil, fmt.Errorf("%w: %d unprocessed keys after %d retries",
					ErrUnavailable, len(unprocessed.Keys), maxUnprocessedRetries)
			}

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			pending = unprocessed.Keys
		}
	}

	return items, nil
}

// QueryPrefix returns all non-expired items whose partition key begins with
// pkPrefix and whose sort key equals sk. This is a full table scan and is
// reserved for administrative reads (category lists, monthly trends).
func (s *Store) QueryPrefix(ctx context.Context, pkPrefix, sk string) ([]*Item, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.config.TableName),
		FilterExpression: aws.String("begins_with(#pk, :prefix) AND #sk = :sk AND " + notExpiredExpr),
		ExpressionAttributeNames: map[string]string{
			"#pk":  PartitionKey,
			"#sk":  SortKey,
			"#exp": TTLAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: pkPrefix},
			":sk":     &types.AttributeValueMemberS{Value: sk},
			":now":    nowAttr(s.opts.clock()),
		},
	}

	var items []*Item
	for {
		var out *dynamodb.ScanOutput
		err := s.withRetry(ctx, "query_prefix", func(ctx context.Context) error {
			var err error
			out, err = s.client.Scan(ctx, input)
			return err
		})
		if err != nil {
			return nil, mapUnknown(err)
		}

		for _, raw := range out.Items {
			item, err := unmarshalItem(raw)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	return items, nil
}

// --- marshalling helpers ---

func keyAttrs(key Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		PartitionKey: &types.AttributeValueMemberS{Value: key.PK},
		SortKey:      &types.AttributeValueMemberS{Value: key.SK},
	}
}

func marshalItem(item Item) (map[string]types.AttributeValue, error) {
	if item.Key.PK == "" || item.Key.SK == "" {
		return nil, fmt.Errorf("%w: item key is incomplete", ErrValidation)
	}

	raw, err := attributevalue.MarshalMap(item.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %v", ErrValidation, err)
	}
	for name := range raw {
		if reservedAttrs[name] {
			return nil, fmt.Errorf("%w: payload field %q is a reserved attribute", ErrValidation, name)
		}
	}

	raw[PartitionKey] = &types.AttributeValueMemberS{Value: item.Key.PK}
	raw[SortKey] = &types.AttributeValueMemberS{Value: item.Key.SK}
	if item.EntityType != "" {
		raw[EntityTypeAttr] = &types.AttributeValueMemberS{Value: item.EntityType}
	}
	if item.Status != "" {
		raw[StatusAttr] = &types.AttributeValueMemberS{Value: item.Status}
	}
	if item.Index != nil {
		raw[IndexPartitionKey] = &types.AttributeValueMemberS{Value: item.Index.Partition}
		raw[IndexSortKey] = &types.AttributeValueMemberS{Value: item.Index.Sort}
	}
	if item.Count != 0 {
		raw[CountAttr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(item.Count, 10)}
	}
	if item.ExpiresAt != 0 {
		raw[TTLAttr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(item.ExpiresAt, 10)}
	}
	return raw, nil
}

func unmarshalItem(raw map[string]types.AttributeValue) (*Item, error) {
	item := &Item{}

	payload := make(map[string]types.AttributeValue)
	for name, attr := range raw {
		switch name {
		case PartitionKey:
			item.Key.PK = stringAttr(attr)
		case SortKey:
			item.Key.SK = stringAttr(attr)
		case EntityTypeAttr:
			item.EntityType = stringAttr(attr)
		case StatusAttr:
			item.Status = stringAttr(attr)
		case IndexPartitionKey, IndexSortKey:
			// handled below
		case CountAttr:
			if n, ok := attr.(*types.AttributeValueMemberN); ok {
				item.Count, _ = strconv.ParseInt(n.Value, 10, 64)
			}
		case TTLAttr:
			if n, ok := attr.(*types.AttributeValueMemberN); ok {
				item.ExpiresAt, _ = strconv.ParseInt(n.Value, 10, 64)
			}
		default:
			payload[name] = attr
		}
	}

	if partition := stringAttr(raw[IndexPartitionKey]); partition != "" {
		item.Index = &IndexKey{
			Partition: partition,
			Sort:      stringAttr(raw[IndexSortKey]),
		}
	}

	if len(payload) > 0 {
		item.Data = make(map[string]any, len(payload))
		if err := attributevalue.UnmarshalMap(payload, &item.Data); err != nil {
			return nil, fmt.Errorf("%w: unmarshal payload: %v", ErrUnavailable, err)
		}
	}
	return item, nil
}

func stringAttr(attr types.AttributeValue) string {
	if s, ok := attr.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func mapUnknown(err error) error {
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrBadCursor) || errors.Is(err, ErrValidation) {
		return err
	}
	return unavailable(err)
}
