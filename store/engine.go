package store

import "context"

// Key is the composite primary key of an item.
type Key struct {
	// PK is the partition component, e.g. "BLOG#<id>".
	PK string

	// SK is the fixed sort suffix, e.g. "METADATA" or "COUNT".
	SK string
}

// IndexKey locates an item in the secondary index.
type IndexKey struct {
	// Partition groups items for range queries, e.g. "BLOG#STATUS#PUBLISHED".
	Partition string

	// Sort is lexicographically ordered: an RFC 3339 timestamp or a
	// zero-padded integer.
	Sort string
}

// Item is the only physical record shape. Every entity type is encoded
// into it.
type Item struct {
	Key Key

	// Index is non-nil only on items discoverable by secondary range query.
	Index *IndexKey

	// EntityType tags the entity family, e.g. "CONTENT" or "VISITOR_DAILY".
	EntityType string

	// Status is set on content items only ("DRAFT" or "PUBLISHED").
	Status string

	// Count is the value of counter items; zero otherwise.
	Count int64

	// ExpiresAt is a unix-seconds expiry instant, 0 for no expiry. Items
	// past this instant are treated as absent by all read paths.
	ExpiresAt int64

	// Data is the entity-specific payload.
	Data map[string]any
}

// Mutation describes a field-level rewrite applied by [Engine.Update].
// Payload changes, a status change, and a secondary-index rewrite are
// applied together as one indivisible operation.
type Mutation struct {
	// Set maps payload fields to new values.
	Set map[string]any

	// Remove lists payload fields to delete.
	Remove []string

	// Status, when non-empty, replaces the stored status.
	Status string

	// Index, when non-nil, replaces both secondary-index coordinates.
	Index *IndexKey
}

// PutOptions configures [Engine.Put].
type PutOptions struct {
	// IfAbsent makes the put fail with [ErrAlreadyExists] when a
	// non-expired item already holds the key. This is the dedup gate.
	IfAbsent bool
}

// UpdateOptions configures [Engine.Update].
type UpdateOptions struct {
	// ExpectedStatus, when non-empty, makes the update fail with
	// [ErrPreconditionFailed] unless the stored status matches.
	ExpectedStatus string

	// ExpectedCount, when non-nil, makes the update fail with
	// [ErrPreconditionFailed] unless the stored counter matches. Used for
	// ranking sort-key rewrites: a stale writer's rewrite is dropped.
	ExpectedCount *int64
}

// DeleteOptions configures [Engine.Delete].
type DeleteOptions struct {
	// MustExist makes the delete fail with [ErrNotFound] when the key is
	// absent or expired.
	MustExist bool
}

// IncrementOptions configures attributes initialized when an increment
// creates the counter item. All of them are set-if-not-exists, so they are
// written exactly once regardless of racing incrementers.
type IncrementOptions struct {
	// EntityType tags the counter on first write.
	EntityType string

	// Index places the counter in the secondary index on first write.
	Index *IndexKey

	// Init seeds payload fields on first write.
	Init map[string]any
}

// SecondaryQuery describes a range query over the secondary index.
type SecondaryQuery struct {
	Partition string

	// Ascending orders by sort key; false gives newest-first or
	// highest-count-first.
	Ascending bool

	// Limit caps the page size; 0 means the engine default.
	Limit int32

	// Cursor resumes a previous page. Opaque; never an offset.
	Cursor string
}

// Page is one page of secondary-index query results.
type Page struct {
	Items []*Item

	// NextCursor is empty when the range is exhausted.
	NextCursor string
}

// Engine is the storage primitive every repository is built on. It is the
// sole synchronization boundary: all operations are atomic per key, and
// there are no cross-key transactions.
//
// Implementations must treat expired items as absent on every read path,
// must bound every operation with a timeout, and must surface only the
// package sentinel errors.
type Engine interface {
	// Get returns the item at key, or ErrNotFound.
	Get(ctx context.Context, key Key) (*Item, error)

	// Put writes an item. With IfAbsent it fails with ErrAlreadyExists
	// when a non-expired item holds the key.
	Put(ctx context.Context, item Item, opts PutOptions) error

	// Update atomically applies mut to the item at key and returns the
	// resulting item. Fails with ErrNotFound when the item is absent and
	// ErrPreconditionFailed when an expectation is not met.
	Update(ctx context.Context, key Key, mut Mutation, opts UpdateOptions) (*Item, error)

	// Delete removes the item at key.
	Delete(ctx context.Context, key Key, opts DeleteOptions) error

	// Increment atomically adds delta to the item's counter, creating it
	// at delta when absent, and returns the new value. Negative deltas
	// carry a floor condition: ErrPreconditionFailed when the stored value
	// is smaller than |delta|.
	Increment(ctx context.Context, key Key, delta int64, opts IncrementOptions) (int64, error)

	// QueryBySecondary range-scans one secondary-index partition with
	// cursor pagination.
	QueryBySecondary(ctx context.Context, q SecondaryQuery) (*Page, error)

	// CursorAfter synthesizes a cursor resuming immediately after an item
	// previously returned from QueryBySecondary. Needed by callers that
	// merge several partitions and consume pages partially.
	CursorAfter(item *Item) (string, error)

	// BatchGet returns the non-expired items among keys, in no particular
	// order. Absent keys are silently skipped.
	BatchGet(ctx context.Context, keys []Key) ([]*Item, error)

	// QueryPrefix returns all non-expired items whose partition key starts
	// with pkPrefix and whose sort key equals sk. This is a table scan:
	// administrative reads only, never the request hot path.
	QueryPrefix(ctx context.Context, pkPrefix, sk string) ([]*Item, error)
}
