// Package keys derives every composite key used by the arbor table.
//
// All key construction lives here so that no call site ever assembles a
// "TYPE#id"-style string inline. Every function is pure and total: given the
// same logical identity it always returns the same key, and none of them
// perform I/O.
package keys

import (
	"fmt"
	"time"
)

// Sort key suffixes. One entity prefix can own several logically distinct
// items, distinguished by these fixed suffixes.
const (
	SortMetadata = "METADATA"
	SortCount    = "COUNT"
	SortViews    = "VIEWS"
	SortTracked  = "TRACKED"
)

// RankWidth is the zero-padding width for numeric secondary sort keys.
// Lexicographic ordering of the padded string equals numeric ordering only
// while counts stay below 10^RankWidth; at 10 digits that is ten billion
// views, beyond any plausible count for this system.
const RankWidth = 10

// DayFormat is the calendar-day layout used in daily visitor counter keys.
const DayFormat = "2006-01-02"

// MonthFormat is the calendar-month layout used for monthly trend prefixes.
const MonthFormat = "2006-01"

// ContentPK returns the primary partition key of a content metadata item,
// e.g. "BLOG#<id>".
func ContentPK(prefix, id string) string {
	return prefix + "#" + id
}

// ContentStatusPartition returns the GSI partition key grouping content of
// one kind by status, e.g. "BLOG#STATUS#PUBLISHED".
func ContentStatusPartition(prefix, status string) string {
	return prefix + "#STATUS#" + status
}

// ContentSort returns the GSI sort key for a content item. The timestamp is
// publishedAt for published items and createdAt for drafts, so drafts still
// sort sensibly when listed.
func ContentSort(prefix string, ts time.Time) string {
	return prefix + "#" + ts.UTC().Format(time.RFC3339)
}

// CategoryPK returns the primary partition key of a per-category counter,
// e.g. "BLOG#CATEGORY#aws".
func CategoryPK(prefix, category string) string {
	return prefix + "#CATEGORY#" + category
}

// DailyVisitorPK returns the primary partition key of the daily visitor
// counter for the given instant's UTC calendar day.
func DailyVisitorPK(t time.Time) string {
	return "VISITOR#DAILY#" + t.UTC().Format(DayFormat)
}

// DailyVisitorPrefix returns the partition key prefix shared by all daily
// counters in the given instant's UTC month. Used by monthly trend scans.
func DailyVisitorPrefix(t time.Time) string {
	return "VISITOR#DAILY#" + t.UTC().Format(MonthFormat)
}

// TotalVisitorsPK is the primary partition key of the running all-time
// visitor counter.
const TotalVisitorsPK = "VISITOR#TOTAL"

// VisitorSessionPK returns the primary partition key of a visitor session
// dedup marker.
func VisitorSessionPK(sessionID string) string {
	return "VISITOR#SESSION#" + sessionID
}

// ViewsPK returns the primary partition key of a per-content view counter,
// e.g. "ANALYTICS#blog#<id>".
func ViewsPK(contentType, contentID string) string {
	return "ANALYTICS#" + contentType + "#" + contentID
}

// ViewsPartition returns the GSI partition key grouping view counters of one
// content type for ranking queries.
func ViewsPartition(contentType string) string {
	return "ANALYTICS#" + contentType
}

// ViewsSort returns the GSI sort key encoding a view count so that
// lexicographic order equals numeric order. The count is left-padded with
// zeros to RankWidth digits.
func ViewsSort(count int64) string {
	return fmt.Sprintf("ANALYTICS#VIEWS#%0*d", RankWidth, count)
}

// TotalViewsPK is the primary partition key of the running all-time view
// counter.
const TotalViewsPK = "ANALYTICS#TOTAL"

// ViewSessionPK returns the primary partition key of a per-session view
// dedup marker.
func ViewSessionPK(sessionID string) string {
	return "ANALYTICS#SESSION#" + sessionID
}

// ViewSessionSK returns the sort key of a view dedup marker, scoping the
// marker to one piece of content.
func ViewSessionSK(contentType, contentID string) string {
	return contentType + "#" + contentID
}

// NextUTCMidnight returns the first instant of the next UTC calendar day
// after t. Visitor session markers expire at this instant so a returning
// session counts again the following day.
func NextUTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
