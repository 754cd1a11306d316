// Package store provides the single-table storage engine behind arbor.
//
// Everything the system persists (content metadata, counters, dedup
// markers) is encoded into one generic [Item] shape: a composite primary
// key, optional secondary-index coordinates, an entity tag, a status, a
// counter value, an expiry instant, and an opaque payload map. The engine
// knows nothing about what keys mean; key derivation lives in
// internal/keys and business rules live in the repository packages.
//
// # Engine contract
//
// [Engine] is the sole synchronization boundary of the system. It provides
// per-key atomicity only:
//
//   - [Engine.Put] with IfAbsent is an atomic create-if-missing gate.
//   - [Engine.Update] applies payload, status, and secondary-index rewrites
//     as one indivisible operation on the owning item, optionally guarded
//     by an expected status or counter value.
//   - [Engine.Increment] is an atomic numeric add, never read-modify-write.
//   - [Engine.QueryBySecondary] is a cursor-paginated range scan over the
//     secondary index, in either direction.
//
// There are no cross-key transactions: callers needing several attributes
// to change together must model them as attributes of a single item.
//
// # Expiry
//
// Items may carry an expiry instant. Expired items are treated as absent by
// every read path and are overwritable by conditional puts, regardless of
// whether the physical row still exists. DynamoDB TTL reaping is an
// optimization, not a correctness requirement.
//
// # Errors
//
// The engine surfaces only the package sentinel errors ([ErrNotFound],
// [ErrAlreadyExists], [ErrPreconditionFailed], [ErrValidation],
// [ErrUnavailable]); underlying SDK error types never escape. Transient
// failures are retried internally with bounded exponential backoff before
// being reported as [ErrUnavailable].
package store
