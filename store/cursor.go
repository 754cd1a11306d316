package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Pagination cursors wrap the DynamoDB LastEvaluatedKey as an opaque token.
// All key attributes in this schema are strings, so the key maps cleanly to
// JSON. Cursors are never offsets: offsets are unstable under concurrent
// writes.

func encodeCursor(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", nil
	}

	plain := make(map[string]string, len(key))
	for name, attr := range key {
		s, ok := attr.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("cursor attribute %s is not a string", name)
		}
		plain[name] = s.Value
	}

	raw, err := json.Marshal(plain)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}

	var plain map[string]string
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	if len(plain) == 0 {
		return nil, ErrBadCursor
	}

	key := make(map[string]types.AttributeValue, len(plain))
	for name, value := range plain {
		key[name] = &types.AttributeValueMemberS{Value: value}
	}
	return key, nil
}
