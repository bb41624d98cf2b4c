package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sprout/pkg/kafka"
	"github.com/Ramsey-B/sprout/pkg/models"
)

type recordingPublisher struct {
	published [][]*kafka.CatalogEvent
	err       error
}

func (p *recordingPublisher) PublishCatalogEvents(_ context.Context, events []*kafka.CatalogEvent) error {
	p.published = append(p.published, events)
	return p.err
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestEmitter_Publish(t *testing.T) {
	publisher := &recordingPublisher{}
	emitter := NewEmitter(publisher, testLogger())

	runID := "r1"
	batch := &Batch{}
	batch.ProductCreated(runID, "d1", models.Parent{ID: "p1", Name: "Blue Dream"})
	batch.FlagCreated(models.ScraperFlag{ID: "f1", RunID: &runID, DispensaryID: "d1", ConfidenceScore: 72})
	batch.RunCompleted(models.ScraperRun{ID: runID, DispensaryID: "d1", Status: models.ScraperRunStatusCompleted})

	require.NoError(t, emitter.Publish(context.Background(), batch))
	require.Len(t, publisher.published, 1)

	events := publisher.published[0]
	require.Len(t, events, 3)
	assert.Equal(t, string(EventTypeProductCreated), events[0].EventType)
	assert.Equal(t, "p1", events[0].EntityID)
	assert.Equal(t, "r1", events[1].RunID)
	assert.Equal(t, string(EventTypeRunCompleted), events[2].EventType)

	var data map[string]any
	require.NoError(t, json.Unmarshal(events[1].Data, &data))
	assert.Equal(t, 72.0, data["confidence_score"])
}

func TestEmitter_PublishError(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("broker down")}
	emitter := NewEmitter(publisher, testLogger())

	batch := &Batch{}
	batch.FlagResolved(models.ScraperFlag{ID: "f1", Status: models.ScraperFlagStatusApproved})
	assert.Error(t, emitter.Publish(context.Background(), batch))
}

func TestEmitter_Noop(t *testing.T) {
	emitter := NewNoopEmitter()
	assert.False(t, emitter.Enabled())

	batch := &Batch{}
	batch.VariantCreated("r1", "d1", models.Variant{ID: "v1", ParentID: "p1", Weight: "3.5g"})
	assert.NoError(t, emitter.Publish(context.Background(), batch))

	var nilEmitter *Emitter
	assert.NoError(t, nilEmitter.Publish(context.Background(), batch))
}
