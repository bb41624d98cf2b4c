// Package events handles event emission for catalog and review-queue changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sprout/pkg/kafka"
	"github.com/Ramsey-B/sprout/pkg/models"
	"github.com/Ramsey-B/sprout/pkg/tracing"
)

// EventType defines the type of event
type EventType string

const (
	EventTypeRunCompleted   EventType = "run.completed"
	EventTypeProductCreated EventType = "product.created"
	EventTypeVariantCreated EventType = "variant.created"
	EventTypeFlagCreated    EventType = "flag.created"
	EventTypeFlagResolved   EventType = "flag.resolved"
)

// Publisher delivers a batch of events
type Publisher interface {
	PublishCatalogEvents(ctx context.Context, events []*kafka.CatalogEvent) error
}

// Emitter builds catalog events and hands them to a publisher. An Emitter
// without a publisher drops everything.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

// NewNoopEmitter returns an emitter that publishes nothing
func NewNoopEmitter() *Emitter {
	return &Emitter{}
}

// Enabled reports whether events are delivered anywhere
func (e *Emitter) Enabled() bool {
	return e != nil && e.publisher != nil
}

// Batch collects events during a unit of work so they are only published after it commits
type Batch struct {
	events []*kafka.CatalogEvent
}

// Len returns the number of collected events
func (b *Batch) Len() int {
	return len(b.events)
}

// Events returns the collected events
func (b *Batch) Events() []*kafka.CatalogEvent {
	return b.events
}

// Append moves other's events onto b
func (b *Batch) Append(other *Batch) {
	if other == nil {
		return
	}
	b.events = append(b.events, other.events...)
	other.events = nil
}

func (b *Batch) add(eventType EventType, dispensaryID, entityID, runID string, data any) {
	raw, _ := json.Marshal(data)
	b.events = append(b.events, &kafka.CatalogEvent{
		EventType:    string(eventType),
		DispensaryID: dispensaryID,
		EntityID:     entityID,
		RunID:        runID,
		Data:         raw,
	})
}

// ProductCreated records a new parent product
func (b *Batch) ProductCreated(runID, dispensaryID string, parent models.Parent) {
	b.add(EventTypeProductCreated, dispensaryID, parent.ID, runID, map[string]any{
		"name":      parent.Name,
		"brand":     parent.BrandName,
		"category":  parent.Category,
		"match_key": parent.MatchKey,
	})
}

// VariantCreated records a new variant under an existing or new parent
func (b *Batch) VariantCreated(runID, dispensaryID string, variant models.Variant) {
	b.add(EventTypeVariantCreated, dispensaryID, variant.ID, runID, map[string]any{
		"parent_id": variant.ParentID,
		"weight":    variant.Weight,
	})
}

// FlagCreated records a new review-queue item
func (b *Batch) FlagCreated(flag models.ScraperFlag) {
	b.add(EventTypeFlagCreated, flag.DispensaryID, flag.ID, deref(flag.RunID), map[string]any{
		"name":               flag.Original.Name,
		"matched_product_id": flag.MatchedProductID,
		"confidence_score":   flag.ConfidenceScore,
		"merge_reason":       flag.MergeReason,
	})
}

// FlagResolved records a reviewer action
func (b *Batch) FlagResolved(flag models.ScraperFlag) {
	b.add(EventTypeFlagResolved, flag.DispensaryID, flag.ID, deref(flag.RunID), map[string]any{
		"status":              flag.Status,
		"resolved_product_id": flag.ResolvedProductID,
		"resolved_variant_id": flag.ResolvedVariantID,
		"corrections":         len(flag.Corrections),
		"issue_tags":          flag.IssueTags,
	})
}

// RunCompleted records the end of a run
func (b *Batch) RunCompleted(run models.ScraperRun) {
	b.add(EventTypeRunCompleted, run.DispensaryID, run.ID, run.ID, run)
}

// Publish sends a batch. Failures are logged and returned; the catalog change they
// describe is already committed.
func (e *Emitter) Publish(ctx context.Context, batch *Batch) error {
	if !e.Enabled() || batch == nil || batch.Len() == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.Publish")
	defer span.End()

	if err := e.publisher.PublishCatalogEvents(ctx, batch.events); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"events": batch.Len(),
		}).Error("Failed to emit catalog events")
		tracing.RecordError(span, err)
		return err
	}

	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
