// Package content manages the publication lifecycle of blog posts,
// projects, and certifications stored in the arbor table.
//
// Every item enters as a draft, is published and unpublished through
// guarded status transitions, and is listed newest-first by status.
// Per-category counters are maintained alongside, so category listings
// never scan the table.
package content

import (
	"fmt"
	"strings"
	"time"

	"github.com/jacentio/arbor/internal/keys"
	"github.com/jacentio/arbor/store"
)

// Lifecycle states of a content item.
const (
	StatusDraft     = "DRAFT"
	StatusPublished = "PUBLISHED"
)

// Entity type tags written to stored items.
const (
	EntityType         = "CONTENT"
	EntityTypeCategory = "CONTENT_CATEGORY"
)

// Content is one content item of any kind.
type Content struct {
	ID       string
	Status   string
	Category string

	CreatedAt time.Time
	UpdatedAt time.Time

	// PublishedAt is zero while the item is a draft.
	PublishedAt time.Time

	// Fields carries the kind-specific payload (title, body, tags, ...).
	Fields map[string]any
}

// Published reports whether the item is visible to readers.
func (c *Content) Published() bool {
	return c.Status == StatusPublished
}

// EffectiveTime is the instant the item sorts by in listings: publishedAt
// once published, createdAt while a draft.
func (c *Content) EffectiveTime() time.Time {
	if !c.PublishedAt.IsZero() {
		return c.PublishedAt
	}
	return c.CreatedAt
}

// CategoryCount is one per-category item tally.
type CategoryCount struct {
	Name  string
	Count int64
}

// StatusFilter selects which lifecycle states a listing covers.
type StatusFilter string

const (
	FilterPublished StatusFilter = "published"
	FilterDraft     StatusFilter = "draft"
	FilterAll       StatusFilter = "all"
)

// ListOptions configures [Repository.List].
type ListOptions struct {
	// Status defaults to FilterPublished.
	Status StatusFilter

	// Category, when non-empty, keeps only items in that category.
	Category string

	// Limit caps the page size; 0 means the default.
	Limit int

	// Cursor resumes a previous page.
	Cursor string
}

// ListPage is one page of listing results, newest first.
type ListPage struct {
	Items []*Content

	// NextCursor is empty when the listing is exhausted.
	NextCursor string
}

// Payload field names managed by the repository. Callers may not set them
// directly.
const (
	fieldID          = "id"
	fieldCategory    = "category"
	fieldCreatedAt   = "createdAt"
	fieldUpdatedAt   = "updatedAt"
	fieldPublishedAt = "publishedAt"
)

var managedFields = map[string]bool{
	fieldID:          true,
	fieldCategory:    true,
	fieldCreatedAt:   true,
	fieldUpdatedAt:   true,
	fieldPublishedAt: true,
}

func checkFields(fields map[string]any) error {
	for name := range fields {
		if managedFields[name] {
			return fmt.Errorf("%w: field %q is managed", store.ErrValidation, name)
		}
	}
	return nil
}

func (r *Repository) encode(c *Content) store.Item {
	data := make(map[string]any, len(c.Fields)+5)
	for name, value := range c.Fields {
		data[name] = value
	}
	data[fieldID] = c.ID
	data[fieldCreatedAt] = c.CreatedAt.UTC().Format(time.RFC3339)
	data[fieldUpdatedAt] = c.UpdatedAt.UTC().Format(time.RFC3339)
	if c.Category != "" {
		data[fieldCategory] = c.Category
	}
	if !c.PublishedAt.IsZero() {
		data[fieldPublishedAt] = c.PublishedAt.UTC().Format(time.RFC3339)
	}

	return store.Item{
		Key: store.Key{
			PK: keys.ContentPK(r.kind.Prefix, c.ID),
			SK: keys.SortMetadata,
		},
		Index: &store.IndexKey{
			Partition: keys.ContentStatusPartition(r.kind.Prefix, c.Status),
			Sort:      keys.ContentSort(r.kind.Prefix, c.EffectiveTime()),
		},
		EntityType: EntityType,
		Status:     c.Status,
		Data:       data,
	}
}

func decode(item *store.Item) (*Content, error) {
	c := &Content{Status: item.Status}

	var err error
	for name, value := range item.Data {
		switch name {
		case fieldID:
			c.ID, _ = value.(string)
		case fieldCategory:
			c.Category, _ = value.(string)
		case fieldCreatedAt:
			c.CreatedAt, err = parseTime(name, value)
		case fieldUpdatedAt:
			c.UpdatedAt, err = parseTime(name, value)
		case fieldPublishedAt:
			c.PublishedAt, err = parseTime(name, value)
		default:
			if c.Fields == nil {
				c.Fields = make(map[string]any)
			}
			c.Fields[name] = value
		}
		if err != nil {
			return nil, err
		}
	}
	if c.ID == "" {
		return nil, fmt.Errorf("%w: content item has no id", store.ErrValidation)
	}
	return c, nil
}

func parseTime(name string, value any) (time.Time, error) {
	s, ok := value.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: field %q is not a timestamp", store.ErrValidation, name)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: field %q: %v", store.ErrValidation, name, err)
	}
	return t, nil
}

// Slug derives a URL-safe slug from a title: lowercase, alphanumeric runs
// joined by single hyphens.
func Slug(title string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
		default:
			pending = true
		}
	}
	return b.String()
}

// wordsPerMinute is the reading speed assumed by ReadTime.
const wordsPerMinute = 200

// ReadTime estimates reading time in whole minutes, never below one.
func ReadTime(body string) int {
	words := len(strings.Fields(body))
	minutes := (words + wordsPerMinute - 1) / wordsPerMinute
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
