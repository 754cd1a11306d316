package store

import "time"

// Attribute names of the physical table. Payload fields are stored as
// additional top-level attributes and must not collide with these.
const (
	// PartitionKey is the table's partition key attribute.
	PartitionKey = "pk"

	// SortKey is the table's sort key attribute.
	SortKey = "sk"

	// IndexPartitionKey is the secondary index partition key attribute.
	IndexPartitionKey = "gsi1pk"

	// IndexSortKey is the secondary index sort key attribute.
	IndexSortKey = "gsi1sk"

	// EntityTypeAttr tags the entity family of an item.
	EntityTypeAttr = "entity_type"

	// StatusAttr holds the content status ("DRAFT"/"PUBLISHED").
	StatusAttr = "status"

	// CountAttr holds the value of counter items.
	CountAttr = "count"

	// TTLAttr is the expiry instant in unix seconds. The table should have
	// DynamoDB TTL enabled on it, but expiry is enforced lazily on read
	// either way.
	TTLAttr = "expires_at"
)

// DefaultIndexName is the name of the secondary index.
const DefaultIndexName = "GSI1"

// Config holds configuration for the DynamoDB-backed engine.
type Config struct {
	// TableName is the single table everything is stored in.
	// Default: "arbor"
	TableName string

	// IndexName is the secondary index name. Default: "GSI1"
	IndexName string

	// OpTimeout bounds every engine operation. Default: 10s
	OpTimeout time.Duration

	// MaxAttempts is the total number of tries for operations hitting
	// transient failures. Default: 3
	MaxAttempts int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TableName:   "arbor",
		IndexName:   DefaultIndexName,
		OpTimeout:   10 * time.Second,
		MaxAttempts: 3,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TableName == "" {
		c.TableName = "arbor"
	}
	if c.IndexName == "" {
		c.IndexName = DefaultIndexName
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
}
