// Package stream provides DynamoDB Streams handlers for cascade cleanup.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/arbor/analytics"
	"github.com/jacentio/arbor/content"
	"github.com/jacentio/arbor/internal/keys"
	"github.com/jacentio/arbor/store"
)

// Handler processes DynamoDB stream events to remove analytics counters
// left behind when their content item is deleted.
type Handler struct {
	tracker *analytics.Tracker
	kinds   *content.Registry
	logger  *slog.Logger
}

// NewHandler creates a new stream handler. A nil registry defaults to all
// built-in content kinds.
func NewHandler(tracker *analytics.Tracker, kinds *content.Registry, logger *slog.Logger) *Handler {
	if kinds == nil {
		kinds = content.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		tracker: tracker,
		kinds:   kinds,
		logger:  logger,
	}
}

// HandleOrphanCleanup processes DynamoDB stream events to delete the view
// counter of removed content. This function is designed to be used as an
// AWS Lambda handler.
func (h *Handler) HandleOrphanCleanup(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	// Only content metadata removals matter. REMOVE covers both explicit
	// deletes and TTL reaping.
	if record.EventName != "REMOVE" {
		return nil
	}
	if getStringAttr(record.Change.OldImage, store.SortKey) != keys.SortMetadata {
		return nil
	}
	if getStringAttr(record.Change.OldImage, store.EntityTypeAttr) != content.EntityType {
		return nil
	}

	pk := getStringAttr(record.Change.OldImage, store.PartitionKey)
	prefix, id, ok := strings.Cut(pk, "#")
	if !ok || id == "" {
		return nil
	}
	kind, ok := h.kinds.ByPrefix(prefix)
	if !ok {
		return nil
	}

	h.logger.Info("removing orphaned view counter",
		"contentType", kind.Type,
		"contentID", id,
	)

	// Idempotent: the counter may already be gone on retry.
	if err := h.tracker.Forget(ctx, kind.Type, id); err != nil {
		return fmt.Errorf("forget views for %s: %w", pk, err)
	}
	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}
