package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// isExpiredRaw checks whether a raw DynamoDB item carries an expiry instant
// at or before now.
func isExpiredRaw(item map[string]types.AttributeValue, now time.Time) bool {
	attr, ok := item[TTLAttr]
	if !ok {
		return false
	}
	num, ok := attr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	exp, err := strconv.ParseInt(num.Value, 10, 64)
	if err != nil {
		return false
	}
	return exp <= now.Unix()
}

// Expired reports whether the item's expiry instant has passed. Items with
// no expiry never expire.
func (it *Item) Expired(now time.Time) bool {
	return it.ExpiresAt != 0 && it.ExpiresAt <= now.Unix()
}

// notExpiredExpr is the condition fragment excluding expired items.
// Callers must bind #exp to TTLAttr and :now to the current unix time.
const notExpiredExpr = "(attribute_not_exists(#exp) OR #exp > :now)"

func nowAttr(now time.Time) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)}
}
