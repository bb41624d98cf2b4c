package kafka

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Ramsey-B/sprout/pkg/models"
)

// ErrMissingDispensary is returned for a batch that names no dispensary
var ErrMissingDispensary = errors.New("listing batch has no dispensary_id")

// ListingBatch is one scraped page (or full scrape) for a single dispensary
type ListingBatch struct {
	DispensaryID string              `json:"dispensary_id"`
	ScrapedAt    *time.Time          `json:"scraped_at,omitempty"`
	Listings     []models.RawListing `json:"listings"`
}

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Trace context (extracted from Kafka headers)
	TraceParent string

	Batch *ListingBatch
}

// ParseListingBatch decodes the message value. The dispensary falls back to the
// dispensary_id header and then the message key.
func (m *IncomingMessage) ParseListingBatch() error {
	var batch ListingBatch
	if err := json.Unmarshal(m.Value, &batch); err != nil {
		return err
	}
	if strings.TrimSpace(batch.DispensaryID) == "" {
		batch.DispensaryID = m.Headers["dispensary_id"]
	}
	if strings.TrimSpace(batch.DispensaryID) == "" {
		batch.DispensaryID = m.Key
	}
	if strings.TrimSpace(batch.DispensaryID) == "" {
		return ErrMissingDispensary
	}
	m.Batch = &batch
	return nil
}
