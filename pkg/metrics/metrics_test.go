package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordListing(t *testing.T) {
	before := testutil.ToFloat64(ListingsTotal.WithLabelValues(OutcomeParseError))
	RecordListing(OutcomeParseError)
	RecordListing(OutcomeParseError)
	assert.Equal(t, before+2, testutil.ToFloat64(ListingsTotal.WithLabelValues(OutcomeParseError)))
}

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(RunsTotal.WithLabelValues("d1", "completed"))
	RecordRun("d1", "completed", 1.5)
	assert.Equal(t, before+1, testutil.ToFloat64(RunsTotal.WithLabelValues("d1", "completed")))
}

func TestRecordReviewAction(t *testing.T) {
	before := testutil.ToFloat64(ReviewActionsTotal.WithLabelValues("approve"))
	RecordReviewAction("approve")
	assert.Equal(t, before+1, testutil.ToFloat64(ReviewActionsTotal.WithLabelValues("approve")))
}
