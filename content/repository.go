package content

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/arbor/internal/keys"
	"github.com/jacentio/arbor/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Repository manages the content items of one kind.
type Repository struct {
	engine store.Engine
	kind   Kind
	clock  func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock sets the timestamp source. Defaults to [time.Now].
func WithClock(clock func() time.Time) Option {
	return func(r *Repository) {
		r.clock = clock
	}
}

// WithIDGenerator sets the ID source. Defaults to [uuid.NewString].
func WithIDGenerator(newID func() string) Option {
	return func(r *Repository) {
		r.newID = newID
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// NewRepository creates a repository for one content kind backed by engine.
func NewRepository(engine store.Engine, kind Kind, opts ...Option) *Repository {
	r := &Repository{
		engine: engine,
		kind:   kind,
		clock:  time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores a new draft and returns it. The category, when non-empty,
// has its counter bumped.
func (r *Repository) Create(ctx context.Context, fields map[string]any, category string) (*Content, error) {
	if err := checkFields(fields); err != nil {
		return nil, err
	}

	now := r.clock().UTC()
	c := &Content{
		ID:        r.newID(),
		Status:    StatusDraft,
		Category:  category,
		CreatedAt: now,
		UpdatedAt: now,
		Fields:    derive(fields),
	}

	err := r.engine.Put(ctx, r.encode(c), store.PutOptions{IfAbsent: true})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", r.kind.Type, err)
	}

	if category != "" {
		r.bumpCategory(ctx, category, 1)
	}
	return c, nil
}

// Get returns the content item with the given ID, or store.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*Content, error) {
	item, err := r.engine.Get(ctx, r.metadataKey(id))
	if err != nil {
		return nil, err
	}
	return decode(item)
}

// Changes describes an edit applied by [Repository.Update].
type Changes struct {
	// Fields maps payload fields to new values.
	Fields map[string]any

	// Remove lists payload fields to delete.
	Remove []string

	// Category, when non-nil, moves the item to a new category. The empty
	// string clears the category.
	Category *string
}

// Update edits a content item in place. Status and listing position are
// untouched; use Publish and Unpublish for lifecycle transitions.
func (r *Repository) Update(ctx context.Context, id string, changes Changes) (*Content, error) {
	if err := checkFields(changes.Fields); err != nil {
		return nil, err
	}
	for _, name := range changes.Remove {
		if managedFields[name] {
			return nil, fmt.Errorf("%w: field %q is managed", store.ErrValidation, name)
		}
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	mut := store.Mutation{
		Set:    derive(changes.Fields),
		Remove: changes.Remove,
	}
	mut.Set[fieldUpdatedAt] = r.clock().UTC().Format(time.RFC3339)

	moved := changes.Category != nil && *changes.Category != current.Category
	if moved {
		if *changes.Category == "" {
			mut.Remove = append(mut.Remove, fieldCategory)
		} else {
			mut.Set[fieldCategory] = *changes.Category
		}
	}

	item, err := r.engine.Update(ctx, r.metadataKey(id), mut, store.UpdateOptions{})
	if err != nil {
		return nil, fmt.Errorf("update %s %s: %w", r.kind.Type, id, err)
	}

	if moved {
		if current.Category != "" {
			r.bumpCategory(ctx, current.Category, -1)
		}
		if *changes.Category != "" {
			r.bumpCategory(ctx, *changes.Category, 1)
		}
	}
	return decode(item)
}

// Delete removes a content item and releases its category slot.
func (r *Repository) Delete(ctx context.Context, id string) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	err = r.engine.Delete(ctx, r.metadataKey(id), store.DeleteOptions{MustExist: true})
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", r.kind.Type, id, err)
	}

	if current.Category != "" {
		r.bumpCategory(ctx, current.Category, -1)
	}
	return nil
}

// Publish transitions a draft to published, stamping publishedAt and moving
// the item into the published listing at that instant. Publishing anything
// but a draft fails with store.ErrPreconditionFailed and changes nothing.
func (r *Repository) Publish(ctx context.Context, id string) (*Content, error) {
	now := r.clock().UTC()
	stamp := now.Format(time.RFC3339)

	item, err := r.engine.Update(ctx, r.metadataKey(id), store.Mutation{
		Set: map[string]any{
			fieldPublishedAt: stamp,
			fieldUpdatedAt:   stamp,
		},
		Status: StatusPublished,
		Index: &store.IndexKey{
			Partition: keys.ContentStatusPartition(r.kind.Prefix, StatusPublished),
			Sort:      keys.ContentSort(r.kind.Prefix, now),
		},
	}, store.UpdateOptions{ExpectedStatus: StatusDraft})
	if err != nil {
		return nil, fmt.Errorf("publish %s %s: %w", r.kind.Type, id, err)
	}
	return decode(item)
}

// Unpublish transitions a published item back to draft, clearing
// publishedAt and restoring the item's creation-time listing position.
// Unpublishing a draft fails with store.ErrPreconditionFailed.
func (r *Repository) Unpublish(ctx context.Context, id string) (*Content, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	item, err := r.engine.Update(ctx, r.metadataKey(id), store.Mutation{
		Set: map[string]any{
			fieldUpdatedAt: r.clock().UTC().Format(time.RFC3339),
		},
		Remove: []string{fieldPublishedAt},
		Status: StatusDraft,
		Index: &store.IndexKey{
			Partition: keys.ContentStatusPartition(r.kind.Prefix, StatusDraft),
			Sort:      keys.ContentSort(r.kind.Prefix, current.CreatedAt),
		},
	}, store.UpdateOptions{ExpectedStatus: StatusPublished})
	if err != nil {
		return nil, fmt.Errorf("unpublish %s %s: %w", r.kind.Type, id, err)
	}
	return decode(item)
}

// List returns one page of content newest-first. Drafts sort by creation
// time, published items by publication time; the "all" filter merges both
// into a single ordered page.
func (r *Repository) List(ctx context.Context, opts ListOptions) (*ListPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	switch opts.Status {
	case FilterPublished, "":
		return r.listStatus(ctx, StatusPublished, opts.Category, limit, opts.Cursor)
	case FilterDraft:
		return r.listStatus(ctx, StatusDraft, opts.Category, limit, opts.Cursor)
	case FilterAll:
		return r.listAll(ctx, opts.Category, limit, opts.Cursor)
	default:
		return nil, fmt.Errorf("%w: unknown status filter %q", store.ErrValidation, opts.Status)
	}
}

func (r *Repository) listStatus(ctx context.Context, status, category string, limit int, cursor string) (*ListPage, error) {
	page := &ListPage{}
	for {
		p, err := r.engine.QueryBySecondary(ctx, store.SecondaryQuery{
			Partition: keys.ContentStatusPartition(r.kind.Prefix, status),
			Ascending: false,
			Limit:     int32(limit),
			Cursor:    cursor,
		})
		if err != nil {
			return nil, err
		}

		for i, item := range p.Items {
			c, err := decode(item)
			if err != nil {
				return nil, err
			}
			if category != "" && c.Category != category {
				continue
			}
			page.Items = append(page.Items, c)
			if len(page.Items) < limit {
				continue
			}
			if i == len(p.Items)-1 {
				page.NextCursor = p.NextCursor
			} else {
				page.NextCursor, err = r.engine.CursorAfter(item)
				if err != nil {
					return nil, err
				}
			}
			return page, nil
		}

		if p.NextCursor == "" {
			return page, nil
		}
		cursor = p.NextCursor
	}
}

// allCursor is the compound cursor of a merged listing: one sub-cursor per
// status partition, plus done flags once a partition is exhausted.
type allCursor struct {
	Published     string `json:"p,omitempty"`
	Draft         string `json:"d,omitempty"`
	PublishedDone bool   `json:"pd,omitempty"`
	DraftDone     bool   `json:"dd,omitempty"`
}

func (r *Repository) listAll(ctx context.Context, category string, limit int, cursor string) (*ListPage, error) {
	var cur allCursor
	if cursor != "" {
		raw, err := base64.RawURLEncoding.DecodeString(cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrBadCursor, err)
		}
		if err := json.Unmarshal(raw, &cur); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrBadCursor, err)
		}
	}

	published := r.newStream(StatusPublished, cur.Published, cur.PublishedDone, limit)
	draft := r.newStream(StatusDraft, cur.Draft, cur.DraftDone, limit)

	page := &ListPage{}
	for len(page.Items) < limit {
		pubHead, err := published.peek(ctx, category)
		if err != nil {
			return nil, err
		}
		draftHead, err := draft.peek(ctx, category)
		if err != nil {
			return nil, err
		}
		if pubHead == nil && draftHead == nil {
			break
		}

		// Newest item across both partitions wins.
		next := published
		if pubHead == nil || (draftHead != nil && draftHead.EffectiveTime().After(pubHead.EffectiveTime())) {
			next = draft
		}
		page.Items = append(page.Items, next.take())
	}

	if published.drained() && draft.drained() {
		return page, nil
	}

	next := allCursor{PublishedDone: published.drained(), DraftDone: draft.drained()}
	var err error
	if next.Published, err = published.resumeCursor(); err != nil {
		return nil, err
	}
	if next.Draft, err = draft.resumeCursor(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	page.NextCursor = base64.RawURLEncoding.EncodeToString(raw)
	return page, nil
}

// statusStream reads one status partition lazily for the merged listing.
type statusStream struct {
	repo      *Repository
	partition string
	pageSize  int

	cursor    string
	done      bool
	buf       []*store.Item
	head      *Content
	headItem  *store.Item
	consumed  *store.Item
	preCursor string
}

func (r *Repository) newStream(status, cursor string, done bool, pageSize int) *statusStream {
	return &statusStream{
		repo:      r,
		partition: keys.ContentStatusPartition(r.kind.Prefix, status),
		pageSize:  pageSize,
		cursor:    cursor,
		preCursor: cursor,
		done:      done,
	}
}

// peek returns the next item matching the category filter without consuming
// it, or nil when the partition is exhausted.
func (s *statusStream) peek(ctx context.Context, category string) (*Content, error) {
	for s.head == nil {
		for len(s.buf) == 0 {
			if s.done {
				return nil, nil
			}
			p, err := s.repo.engine.QueryBySecondary(ctx, store.SecondaryQuery{
				Partition: s.partition,
				Ascending: false,
				Limit:     int32(s.pageSize),
				Cursor:    s.cursor,
			})
			if err != nil {
				return nil, err
			}
			s.buf = p.Items
			s.cursor = p.NextCursor
			s.done = p.NextCursor == ""
		}

		item := s.buf[0]
		s.buf = s.buf[1:]
		c, err := decode(item)
		if err != nil {
			return nil, err
		}
		if category != "" && c.Category != category {
			// Filtered items still advance the resume position.
			s.consumed = item
			continue
		}
		s.head = c
		s.headItem = item
	}
	return s.head, nil
}

func (s *statusStream) take() *Content {
	c := s.head
	s.consumed = s.headItem
	s.head = nil
	s.headItem = nil
	return c
}

func (s *statusStream) drained() bool {
	return s.done && s.head == nil && len(s.buf) == 0
}

// resumeCursor is the sub-cursor a follow-up page should pass for this
// partition.
func (s *statusStream) resumeCursor() (string, error) {
	if s.drained() {
		return "", nil
	}
	if s.consumed != nil {
		return s.repo.engine.CursorAfter(s.consumed)
	}
	return s.preCursor, nil
}

// Categories returns every category of this kind with its item count,
// sorted by name. Counts include drafts.
func (r *Repository) Categories(ctx context.Context) ([]CategoryCount, error) {
	items, err := r.engine.QueryPrefix(ctx, keys.CategoryPK(r.kind.Prefix, ""), keys.SortCount)
	if err != nil {
		return nil, err
	}

	counts := make([]CategoryCount, 0, len(items))
	for _, item := range items {
		name, _ := item.Data[fieldCategory].(string)
		if name == "" {
			continue
		}
		counts = append(counts, CategoryCount{Name: name, Count: item.Count})
	}
	return counts, nil
}

func (r *Repository) metadataKey(id string) store.Key {
	return store.Key{PK: keys.ContentPK(r.kind.Prefix, id), SK: keys.SortMetadata}
}

// bumpCategory adjusts a per-category counter. Counter drift is tolerable,
// so failures are logged rather than surfaced; decrements below zero are
// dropped by the engine's floor condition.
func (r *Repository) bumpCategory(ctx context.Context, category string, delta int64) {
	key := store.Key{PK: keys.CategoryPK(r.kind.Prefix, category), SK: keys.SortCount}
	_, err := r.engine.Increment(ctx, key, delta, store.IncrementOptions{
		EntityType: EntityTypeCategory,
		Init:       map[string]any{fieldCategory: category},
	})
	if err != nil && !errors.Is(err, store.ErrPreconditionFailed) {
		r.logger.Warn("category counter update failed",
			"kind", r.kind.Type,
			"category", category,
			"delta", delta,
			"error", err,
		)
	}
}

// derive fills computed payload fields: a slug from the title when none is
// given, and an estimated read time from the body.
func derive(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+2)
	for name, value := range fields {
		out[name] = value
	}
	if title, ok := out["title"].(string); ok && title != "" {
		if _, set := out["slug"]; !set {
			out["slug"] = Slug(title)
		}
	}
	if body, ok := out["content"].(string); ok {
		out["readTime"] = ReadTime(body)
	}
	return out
}
