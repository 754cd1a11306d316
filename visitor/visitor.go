// Package visitor counts unique site visitors per UTC calendar day.
//
// Uniqueness is per session and per day: the first request a session makes
// on a given day writes a dedup marker and bumps the daily and all-time
// counters; every later request that day is a no-op. The marker expires at
// the next UTC midnight, so a returning session counts again tomorrow.
package visitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacentio/arbor/internal/keys"
	"github.com/jacentio/arbor/store"
)

// Entity type tags written to stored items.
const (
	EntityTypeSession = "VISITOR_SESSION"
	EntityTypeDaily   = "VISITOR_DAILY"
	EntityTypeTotal   = "VISITOR_TOTAL"
)

// Tracker records and reports visitor counts.
type Tracker struct {
	engine store.Engine
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

// NewTracker creates a tracker backed by engine.
func NewTracker(engine store.Engine, opts ...Option) *Tracker {
	t := &Tracker{
		engine: engine,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Visit is the outcome of one Track call.
type Visit struct {
	// NewSession is true when this call was the session's first today and
	// the counters were bumped.
	NewSession bool

	// TodayCount is today's unique visitor count after the call.
	TodayCount int64

	// TotalCount is the all-time unique visitor count after the call.
	TotalCount int64
}

// Track records a visit for the given session. The dedup marker is written
// first, conditionally: only the request that wins the marker increments
// the counters, so concurrent first requests from one session can never
// double-count.
func (t *Tracker) Track(ctx context.Context, sessionID string) (*Visit, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session ID is empty", store.ErrValidation)
	}

	now := t.clock().UTC()
	day := now.Format(keys.DayFormat)

	marker := store.Item{
		Key:        store.Key{PK: keys.VisitorSessionPK(sessionID), SK: keys.SortTracked},
		EntityType: EntityTypeSession,
		ExpiresAt:  keys.NextUTCMidnight(now).Unix(),
		Data:       map[string]any{"date": day},
	}
	err := t.engine.Put(ctx, marker, store.PutOptions{IfAbsent: true})
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		// Returning session: report current counts without bumping.
		today, err := t.counter(ctx, dailyKey(now))
		if err != nil {
			return nil, err
		}
		total, err := t.counter(ctx, totalKey())
		if err != nil {
			return nil, err
		}
		return &Visit{TodayCount: today, TotalCount: total}, nil
	case err != nil:
		return nil, fmt.Errorf("track visitor: %w", err)
	}

	today, err := t.engine.Increment(ctx, dailyKey(now), 1, store.IncrementOptions{
		EntityType: EntityTypeDaily,
		Init:       map[string]any{"date": day},
	})
	if err != nil {
		return nil, fmt.Errorf("track visitor: %w", err)
	}
	total, err := t.engine.Increment(ctx, totalKey(), 1, store.IncrementOptions{
		EntityType: EntityTypeTotal,
	})
	if err != nil {
		return nil, fmt.Errorf("track visitor: %w", err)
	}

	return &Visit{NewSession: true, TodayCount: today, TotalCount: total}, nil
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	TodayCount int64
	TotalCount int64
}

// Stats returns today's and the all-time unique visitor counts.
func (t *Tracker) Stats(ctx context.Context) (*Stats, error) {
	now := t.clock().UTC()

	today, err := t.counter(ctx, dailyKey(now))
	if err != nil {
		return nil, err
	}
	total, err := t.counter(ctx, totalKey())
	if err != nil {
		return nil, err
	}
	return &Stats{TodayCount: today, TotalCount: total}, nil
}

// DayCount is one day's unique visitor tally.
type DayCount struct {
	// Date is the UTC calendar day, formatted 2006-01-02.
	Date  string
	Count int64
}

// DailyTrend returns per-day counts for the last days calendar days ending
// today, oldest first. Days with no visitors appear with a zero count.
func (t *Tracker) DailyTrend(ctx context.Context, days int) ([]DayCount, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", store.ErrValidation)
	}

	now := t.clock().UTC()
	batch := make([]store.Key, 0, days)
	for i := days - 1; i >= 0; i-- {
		batch = append(batch, dailyKey(now.AddDate(0, 0, -i)))
	}

	items, err := t.engine.BatchGet(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("daily trend: %w", err)
	}
	counts := make(map[string]int64, len(items))
	for _, item := range items {
		counts[item.Key.PK] = item.Count
	}

	trend := make([]DayCount, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i)
		trend = append(trend, DayCount{
			Date:  day.Format(keys.DayFormat),
			Count: counts[keys.DailyVisitorPK(day)],
		})
	}
	return trend, nil
}

// MonthCount is one month's unique visitor tally.
type MonthCount struct {
	// Month is the UTC calendar month, formatted 2006-01.
	Month string
	Count int64
}

// MonthlyTrend returns per-month counts for the last months calendar months
// ending with the current one, oldest first. Each month is the sum of its
// daily counters.
func (t *Tracker) MonthlyTrend(ctx context.Context, months int) ([]MonthCount, error) {
	if months <= 0 {
		return nil, fmt.Errorf("%w: months must be positive", store.ErrValidation)
	}

	now := t.clock().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	trend := make([]MonthCount, 0, months)
	for i := months - 1; i >= 0; i-- {
		month := first.AddDate(0, -i, 0)
		items, err := t.engine.QueryPrefix(ctx, keys.DailyVisitorPrefix(month), keys.SortCount)
		if err != nil {
			return nil, fmt.Errorf("monthly trend: %w", err)
		}
		var sum int64
		for _, item := range items {
			sum += item.Count
		}
		trend = append(trend, MonthCount{Month: month.Format(keys.MonthFormat), Count: sum})
	}
	return trend, nil
}

// counter reads a counter value, treating an absent item as zero.
func (t *Tracker) counter(ctx context.Context, key store.Key) (int64, error) {
	item, err := t.engine.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return item.Count, nil
}

func dailyKey(t time.Time) store.Key {
	return store.Key{PK: keys.DailyVisitorPK(t), SK: keys.SortCount}
}

func totalKey() store.Key {
	return store.Key{PK: keys.TotalVisitorsPK, SK: keys.SortCount}
}
