// Package memstore provides an in-memory implementation of the arbor
// storage engine contract, for tests and local development.
//
// It honors the same semantics as the DynamoDB engine: per-key atomicity
// behind a single mutex, conditional puts and updates, floored decrements,
// lazy expiry, and cursor-paginated secondary queries.
package memstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jacentio/arbor/store"
)

// Store is an in-memory [store.Engine].
type Store struct {
	mu    sync.Mutex
	items map[store.Key]*store.Item
	clock func() time.Time
}

var _ store.Engine = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for expiry checks. Defaults to [time.Now].
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		items: make(map[store.Key]*store.Item),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) live(key store.Key, now time.Time) *store.Item {
	item, ok := s.items[key]
	if !ok || item.Expired(now) {
		return nil
	}
	return item
}

// Get returns the item at key, or store.ErrNotFound.
func (s *Store) Get(_ context.Context, key store.Key) (*store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.live(key, s.clock())
	if item == nil {
		return nil, store.ErrNotFound
	}
	return copyItem(item), nil
}

// Put writes an item, honoring the IfAbsent gate.
func (s *Store) Put(_ context.Context, item store.Item, opts store.PutOptions) error {
	if item.Key.PK == "" || item.Key.SK == "" {
		return fmt.Errorf("%w: item key is incomplete", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.IfAbsent && s.live(item.Key, s.clock()) != nil {
		return store.ErrAlreadyExists
	}
	s.items[item.Key] = copyItem(&item)
	return nil
}

// Update applies mut atomically under the store lock.
func (s *Store) Update(_ context.Context, key store.Key, mut store.Mutation, opts store.UpdateOptions) (*store.Item, error) {
	if len(mut.Set) == 0 && len(mut.Remove) == 0 && mut.Status == "" && mut.Index == nil {
		return nil, fmt.Errorf("%w: empty mutation", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.live(key, s.clock())
	if item == nil {
		return nil, store.ErrNotFound
	}
	if opts.ExpectedStatus != "" && item.Status != opts.ExpectedStatus {
		return nil, store.ErrPreconditionFailed
	}
	if opts.ExpectedCount != nil && item.Count != *opts.ExpectedCount {
		return nil, store.ErrPreconditionFailed
	}

	if len(mut.Set) > 0 && item.Data == nil {
		item.Data = make(map[string]any)
	}
	for name, value := range mut.Set {
		item.Data[name] = value
	}
	for _, name := range mut.Remove {
		delete(item.Data, name)
	}
	if mut.Status != "" {
		item.Status = mut.Status
	}
	if mut.Index != nil {
		idx := *mut.Index
		item.Index = &idx
	}
	return copyItem(item), nil
}

// Delete removes the item at key.
func (s *Store) Delete(_ context.Context, key store.Key, opts store.DeleteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.MustExist && s.live(key, s.clock()) == nil {
		return store.ErrNotFound
	}
	delete(s.items, key)
	return nil
}

// Increment atomically adds delta to the counter at key.
func (s *Store) Increment(_ context.Context, key store.Key, delta int64, opts store.IncrementOptions) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if ok && item.Expired(s.clock()) {
		// Expired counters are as good as gone.
		delete(s.items, key)
		ok = false
	}

	if !ok {
		if delta < 0 {
			return 0, store.ErrPreconditionFailed
		}
		item = &store.Item{Key: key}
		s.items[key] = item
	}
	if delta < 0 && item.Count < -delta {
		return 0, store.ErrPreconditionFailed
	}

	// First-write attributes mirror DynamoDB's if_not_exists semantics.
	if opts.EntityType != "" && item.EntityType == "" {
		item.EntityType = opts.EntityType
	}
	if opts.Index != nil && item.Index == nil {
		idx := *opts.Index
		item.Index = &idx
	}
	for name, value := range opts.Init {
		if item.Data == nil {
			item.Data = make(map[string]any)
		}
		if _, exists := item.Data[name]; !exists {
			item.Data[name] = value
		}
	}

	item.Count += delta
	return item.Count, nil
}

type memCursor struct {
	Sort string `json:"s"`
	PK   string `json:"p"`
}

// QueryBySecondary range-scans a secondary partition with cursor pagination.
func (s *Store) QueryBySecondary(_ context.Context, q store.SecondaryQuery) (*store.Page, error) {
	var after *memCursor
	if q.Cursor != "" {
		raw, err := base64.RawURLEncoding.DecodeString(q.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrBadCursor, err)
		}
		after = &memCursor{}
		if err := json.Unmarshal(raw, after); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrBadCursor, err)
		}
	}
	limit := int(q.Limit)
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	now := s.clock()
	var matches []*store.Item
	for _, item := range s.items {
		if item.Index == nil || item.Index.Partition != q.Partition || item.Expired(now) {
			continue
		}
		matches = append(matches, copyItem(item))
	}
	s.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		less := a.Index.Sort < b.Index.Sort ||
			(a.Index.Sort == b.Index.Sort && a.Key.PK < b.Key.PK)
		if q.Ascending {
			return less
		}
		return !less
	})

	if after != nil {
		cut := 0
		for cut < len(matches) {
			item := matches[cut]
			passed := item.Index.Sort > after.Sort ||
				(item.Index.Sort == after.Sort && item.Key.PK > after.PK)
			if !q.Ascending {
				passed = item.Index.Sort < after.Sort ||
					(item.Index.Sort == after.Sort && item.Key.PK < after.PK)
			}
			if passed {
				break
			}
			cut++
		}
		matches = matches[cut:]
	}

	page := &store.Page{}
	if len(matches) > limit {
		page.Items = matches[:limit]
		cursor, err := s.CursorAfter(page.Items[limit-1])
		if err != nil {
			return nil, err
		}
		page.NextCursor = cursor
	} else {
		page.Items = matches
	}
	return page, nil
}

// CursorAfter synthesizes a cursor resuming after item.
func (s *Store) CursorAfter(item *store.Item) (string, error) {
	if item == nil || item.Index == nil {
		return "", fmt.Errorf("%w: item is not in the secondary index", store.ErrValidation)
	}
	raw, err := json.Marshal(memCursor{Sort: item.Index.Sort, PK: item.Key.PK})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// BatchGet returns the non-expired items among keys.
func (s *Store) BatchGet(_ context.Context, keys []store.Key) ([]*store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var items []*store.Item
	for _, key := range keys {
		if item := s.live(key, now); item != nil {
			items = append(items, copyItem(item))
		}
	}
	return items, nil
}

// QueryPrefix returns all non-expired items under a partition-key prefix
// with the given sort key.
func (s *Store) QueryPrefix(_ context.Context, pkPrefix, sk string) ([]*store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var items []*store.Item
	for key, item := range s.items {
		if key.SK != sk || !strings.HasPrefix(key.PK, pkPrefix) || item.Expired(now) {
			continue
		}
		items = append(items, copyItem(item))
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Key.PK < items[j].Key.PK
	})
	return items, nil
}

func copyItem(item *store.Item) *store.Item {
	cp := *item
	if item.Index != nil {
		idx := *item.Index
		cp.Index = &idx
	}
	if item.Data != nil {
		cp.Data = make(map[string]any, len(item.Data))
		for k, v := range item.Data {
			cp.Data[k] = v
		}
	}
	return &cp
}
