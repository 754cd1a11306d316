// Package analytics counts content views and ranks content by view count.
//
// A view is unique per session, per content item, within a 24 hour window:
// the first view writes a dedup marker and bumps the item's counter, later
// views within the window are no-ops. Each counter mirrors its value into
// the secondary index as a zero-padded sort key, so "most viewed" is a
// single descending range query rather than a scan.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jacentio/arbor/content"
	"github.com/jacentio/arbor/internal/keys"
	"github.com/jacentio/arbor/store"
)

// Entity type tags written to stored items.
const (
	EntityTypeSession = "ANALYTICS_SESSION"
	EntityTypeViews   = "ANALYTICS_VIEWS"
	EntityTypeTotal   = "ANALYTICS_TOTAL"
)

// sessionTTL is the dedup window for repeat views of one item by one
// session.
const sessionTTL = 24 * time.Hour

// Payload field names on view counter items.
const (
	fieldContentType = "contentType"
	fieldContentID   = "contentId"
)

// Tracker records and reports view counts.
type Tracker struct {
	engine store.Engine
	kinds  *content.Registry
	clock  func() time.Time
	logger *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the time source. Defaults to [time.Now].
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		t.clock = clock
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithKinds sets the registry of content kinds accepted by Track. Defaults
// to [content.DefaultRegistry].
func WithKinds(kinds *content.Registry) Option {
	return func(t *Tracker) {
		t.kinds = kinds
	}
}

// NewTracker creates a tracker backed by engine.
func NewTracker(engine store.Engine, opts ...Option) *Tracker {
	t := &Tracker{
		engine: engine,
		kinds:  content.DefaultRegistry(),
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// View is the outcome of one Track call.
type View struct {
	// Counted is true when this view was the session's first for the item
	// within the dedup window and the counter was bumped.
	Counted bool

	// Count is the item's view count after the call.
	Count int64
}

// Track records a view of one content item by one session. The dedup
// marker is written first, conditionally: only the request that wins the
// marker increments the counter, so concurrent first views from one
// session can never double-count.
func (t *Tracker) Track(ctx context.Context, contentType, contentID, sessionID string) (*View, error) {
	if _, ok := t.kinds.ByType(contentType); !ok {
		return nil, fmt.Errorf("%w: unknown content type %q", store.ErrValidation, contentType)
	}
	if contentID == "" || sessionID == "" {
		return nil, fmt.Errorf("%w: content ID and session ID are required", store.ErrValidation)
	}

	now := t.clock().UTC()
	marker := store.Item{
		Key: store.Key{
			PK: keys.ViewSessionPK(sessionID),
			SK: keys.ViewSessionSK(contentType, contentID),
		},
		EntityType: EntityTypeSession,
		ExpiresAt:  now.Add(sessionTTL).Unix(),
	}
	err := t.engine.Put(ctx, marker, store.PutOptions{IfAbsent: true})
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		count, err := t.ViewCount(ctx, contentType, contentID)
		if err != nil {
			return nil, err
		}
		return &View{Count: count}, nil
	case err != nil:
		return nil, fmt.Errorf("track view: %w", err)
	}

	viewsKey := store.Key{PK: keys.ViewsPK(contentType, contentID), SK: keys.SortViews}
	count, err := t.engine.Increment(ctx, viewsKey, 1, store.IncrementOptions{
		EntityType: EntityTypeViews,
		Index: &store.IndexKey{
			Partition: keys.ViewsPartition(contentType),
			Sort:      keys.ViewsSort(1),
		},
		Init: map[string]any{
			fieldContentType: contentType,
			fieldContentID:   contentID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("track view: %w", err)
	}

	// Mirror the new count into the ranking sort key. The rewrite is
	// conditional on the counter still holding this value: when racing
	// writers interleave, stale rewrites are dropped and the index settles
	// on the latest count.
	_, err = t.engine.Update(ctx, viewsKey, store.Mutation{
		Index: &store.IndexKey{
			Partition: keys.ViewsPartition(contentType),
			Sort:      keys.ViewsSort(count),
		},
	}, store.UpdateOptions{ExpectedCount: &count})
	if err != nil && !errors.Is(err, store.ErrPreconditionFailed) {
		return nil, fmt.Errorf("track view: %w", err)
	}

	if _, err := t.engine.Increment(ctx, totalKey(), 1, store.IncrementOptions{
		EntityType: EntityTypeTotal,
	}); err != nil {
		return nil, fmt.Errorf("track view: %w", err)
	}

	return &View{Counted: true, Count: count}, nil
}

// ViewCount returns one item's view count, zero when it has never been
// viewed.
func (t *Tracker) ViewCount(ctx context.Context, contentType, contentID string) (int64, error) {
	item, err := t.engine.Get(ctx, store.Key{
		PK: keys.ViewsPK(contentType, contentID),
		SK: keys.SortViews,
	})
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return item.Count, nil
}

// ViewStat is one content item's view tally.
type ViewStat struct {
	ContentType string
	ContentID   string
	Count       int64
}

// TopContent returns the most viewed items of one content type, highest
// first, at most limit of them.
func (t *Tracker) TopContent(ctx context.Context, contentType string, limit int) ([]ViewStat, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", store.ErrValidation)
	}

	page, err := t.engine.QueryBySecondary(ctx, store.SecondaryQuery{
		Partition: keys.ViewsPartition(contentType),
		Ascending: false,
		Limit:     int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("top content: %w", err)
	}

	stats := make([]ViewStat, 0, len(page.Items))
	for _, item := range page.Items {
		stats = append(stats, decodeStat(item))
	}
	return stats, nil
}

// AllViews returns the view count of every item of one content type, keyed
// by content ID.
func (t *Tracker) AllViews(ctx context.Context, contentType string) (map[string]int64, error) {
	views := make(map[string]int64)
	cursor := ""
	for {
		page, err := t.engine.QueryBySecondary(ctx, store.SecondaryQuery{
			Partition: keys.ViewsPartition(contentType),
			Ascending: false,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("all views: %w", err)
		}
		for _, item := range page.Items {
			stat := decodeStat(item)
			views[stat.ContentID] = stat.Count
		}
		if page.NextCursor == "" {
			return views, nil
		}
		cursor = page.NextCursor
	}
}

// TotalViews returns the all-time view count across all content.
func (t *Tracker) TotalViews(ctx context.Context) (int64, error) {
	item, err := t.engine.Get(ctx, totalKey())
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return item.Count, nil
}

// Forget removes one item's view counter. The stream handler calls this
// when the content item itself is deleted.
func (t *Tracker) Forget(ctx context.Context, contentType, contentID string) error {
	err := t.engine.Delete(ctx, store.Key{
		PK: keys.ViewsPK(contentType, contentID),
		SK: keys.SortViews,
	}, store.DeleteOptions{})
	if err != nil {
		return fmt.Errorf("forget views: %w", err)
	}
	return nil
}

func decodeStat(item *store.Item) ViewStat {
	stat := ViewStat{Count: item.Count}
	stat.ContentType, _ = item.Data[fieldContentType].(string)
	stat.ContentID, _ = item.Data[fieldContentID].(string)
	if stat.ContentID == "" {
		// Older counters carry no payload; fall back to the key itself.
		if rest, ok := strings.CutPrefix(item.Key.PK, "ANALYTICS#"); ok {
			if ct, id, ok := strings.Cut(rest, "#"); ok {
				stat.ContentType, stat.ContentID = ct, id
			}
		}
	}
	return stat
}

func totalKey() store.Key {
	return store.Key{PK: keys.TotalViewsPK, SK: keys.SortCount}
}
