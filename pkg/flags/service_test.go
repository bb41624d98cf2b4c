package flags

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sprout/pkg/catalog"
	"github.com/Ramsey-B/sprout/pkg/catalog/memory"
	"github.com/Ramsey-B/sprout/pkg/confidence"
	"github.com/Ramsey-B/sprout/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func f64(v float64) *float64 { return &v }
func str(s string) *string   { return &s }

type fixture struct {
	ctx      context.Context
	store    *memory.Store
	service  *Service
	resolver *confidence.Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	resolver := confidence.NewResolver(testLogger(), 0)
	return &fixture{
		ctx:      context.Background(),
		store:    store,
		service:  NewService(store, resolver, nil, testLogger()),
		resolver: resolver,
	}
}

func (fx *fixture) seedParent(t *testing.T, name, brand string) models.Parent {
	t.Helper()
	tx, err := fx.store.Begin(fx.ctx)
	require.NoError(t, err)
	parent, _, err := fx.resolver.FindOrCreateParent(fx.ctx, tx, confidence.ParentFields{Name: name, Brand: brand, Category: "flower"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(fx.ctx))
	return parent
}

func (fx *fixture) createFlag(t *testing.T, listing models.RawListing, candidateID *string, score float64) *models.ScraperFlag {
	t.Helper()
	tx, err := fx.store.Begin(fx.ctx)
	require.NoError(t, err)
	flag, err := fx.service.Create(fx.ctx, tx, CreateRequest{
		DispensaryID: "disp-1",
		Listing:      listing,
		CandidateID:  candidateID,
		Score:        score,
		Reason:       "possible match",
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(fx.ctx))
	return flag
}

func (fx *fixture) parents(t *testing.T) []models.Parent {
	t.Helper()
	tx, err := fx.store.Begin(fx.ctx)
	require.NoError(t, err)
	defer tx.Rollback(fx.ctx)
	parents, err := tx.ListParents(fx.ctx)
	require.NoError(t, err)
	return parents
}

func (fx *fixture) price(t *testing.T, variantID string) *models.Price {
	t.Helper()
	tx, err := fx.store.Begin(fx.ctx)
	require.NoError(t, err)
	defer tx.Rollback(fx.ctx)
	price, err := tx.GetPrice(fx.ctx, variantID, "disp-1")
	require.NoError(t, err)
	return price
}

var typoListing = models.RawListing{Name: "Bleu Dreem", Brand: "Zion Cultivators", Price: f64(36), Category: "flower", WeightText: "3.5g"}

func TestService_Create(t *testing.T) {
	fx := newFixture(t)
	parent := fx.seedParent(t, "Blue Dream", "Zion Cultivar")

	flag := fx.createFlag(t, typoListing, &parent.ID, 72)
	assert.Equal(t, models.ScraperFlagStatusPending, flag.Status)
	assert.Equal(t, "Bleu Dreem", flag.Original.Name)
	assert.Equal(t, "Zion Cultivators", flag.Original.Brand)
	assert.Equal(t, flag.Original, flag.Working)
	assert.Empty(t, flag.Corrections)

	items, err := fx.service.ListPending(fx.ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "72%", items[0].ConfidencePercent)
	require.NotNil(t, items[0].Candidate)
	assert.Equal(t, "Blue Dream", items[0].Candidate.Name)
	assert.Equal(t, "Zion Cultivar", items[0].Candidate.Brand)
}

func TestService_ApproveWithCorrectedName(t *testing.T) {
	fx := newFixture(t)
	parent := fx.seedParent(t, "Blue Dream", "Zion Cultivar")
	flag := fx.createFlag(t, typoListing, &parent.ID, 72)

	approved, err := fx.service.Approve(fx.ctx, flag.ID, ReviewInput{
		Edits:      &Edits{Name: str("Blue Dream")},
		ReviewedBy: "reviewer@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ScraperFlagStatusApproved, approved.Status)
	require.Len(t, approved.Corrections, 1)
	assert.Equal(t, models.Correction{Field: models.CorrectionFieldName, OldValue: "Bleu Dreem", NewValue: "Blue Dream"}, approved.Corrections[0])
	assert.Equal(t, parent.ID, *approved.ResolvedProductID)
	assert.Equal(t, "reviewer@example.com", *approved.ResolvedBy)
	assert.NotNil(t, approved.ResolvedAt)

	assert.Len(t, fx.parents(t), 1, "approve merges onto the matched parent")

	tx, _ := fx.store.Begin(fx.ctx)
	defer tx.Rollback(fx.ctx)
	variants, err := tx.ListVariants(fx.ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, "3.5g", variants[0].Weight)
	assert.Equal(t, *approved.ResolvedVariantID, variants[0].ID)

	price := fx.price(t, variants[0].ID)
	assert.Equal(t, 36.0, price.Amount)

	stored, err := fx.service.Get(fx.ctx, flag.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScraperFlagStatusApproved, stored.Status)
	assert.Equal(t, "Blue Dream", stored.Working.Name)
	assert.Equal(t, "Bleu Dreem", stored.Original.Name)
}

func TestService_ApproveWithoutCandidateCreatesParent(t *testing.T) {
	fx := newFixture(t)
	flag := fx.createFlag(t, models.RawListing{Name: "Mystery Kush 1g", Price: f64(12), Category: "flower"}, nil, 0)

	approved, err := fx.service.Approve(fx.ctx, flag.ID, ReviewInput{})
	require.NoError(t, err)
	assert.Empty(t, approved.Corrections)

	parents := fx.parents(t)
	require.Len(t, parents, 1)
	assert.Equal(t, "Mystery Kush", parents[0].Name)
	assert.Equal(t, parents[0].ID, *approved.ResolvedProductID)
}

func TestService_RejectNeverUsesCandidate(t *testing.T) {
	fx := newFixture(t)
	parent := fx.seedParent(t, "Blue Dream", "Zion Cultivar")
	flag := fx.createFlag(t, typoListing, &parent.ID, 72)

	// corrected fields collide with the rejected candidate's match key
	rejected, err := fx.service.Reject(fx.ctx, flag.ID, ReviewInput{
		Edits: &Edits{Name: str("Blue Dream"), Brand: str("Zion Cultivar")},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ScraperFlagStatusRejected, rejected.Status)
	assert.NotEqual(t, parent.ID, *rejected.ResolvedProductID)
	assert.Len(t, rejected.Corrections, 2)

	parents := fx.parents(t)
	require.Len(t, parents, 2)
	for _, p := range parents {
		if p.ID != parent.ID {
			assert.Equal(t, parent.MatchKey+"#"+flag.ID, p.MatchKey)
		}
	}
}

func (fx *fixture) variants(t *testing.T, parentID string) []models.Variant {
	t.Helper()
	tx, err := fx.store.Begin(fx.ctx)
	require.NoError(t, err)
	defer tx.Rollback(fx.ctx)
	variants, err := tx.ListVariants(fx.ctx, parentID)
	require.NoError(t, err)
	return variants
}

func TestService_UnparseableWeightLandsOnUnspecifiedVariant(t *testing.T) {
	listing := models.RawListing{Name: "Blue Dreem", Brand: "Zion Cultivar", Category: "flower", WeightText: "N/A", Price: f64(30)}

	tests := []struct {
		name   string
		review func(fx *fixture, id string) (*models.ScraperFlag, error)
		status string
	}{
		{
			name: "approve",
			review: func(fx *fixture, id string) (*models.ScraperFlag, error) {
				return fx.service.Approve(fx.ctx, id, ReviewInput{})
			},
			status: models.ScraperFlagStatusApproved,
		},
		{
			name: "reject",
			review: func(fx *fixture, id string) (*models.ScraperFlag, error) {
				return fx.service.Reject(fx.ctx, id, ReviewInput{})
			},
			status: models.ScraperFlagStatusRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			parent := fx.seedParent(t, "Blue Dream", "Zion Cultivar")
			flag := fx.createFlag(t, listing, &parent.ID, 55)

			resolved, err := tt.review(fx, flag.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resolved.Status)
			assert.Empty(t, resolved.Corrections)

			variants := fx.variants(t, *resolved.ResolvedProductID)
			require.Len(t, variants, 1)
			assert.True(t, variants[0].Unspecified())
			assert.Equal(t, *resolved.ResolvedVariantID, variants[0].ID)
			assert.Equal(t, 30.0, fx.price(t, variants[0].ID).Amount)
		})
	}
}

func TestService_ReviewKeepsScrapedStock(t *testing.T) {
	outOfStock := false
	tests := []struct {
		name    string
		inStock *bool
		want    bool
	}{
		{name: "out of stock", inStock: &outOfStock, want: false},
		{name: "not reported", inStock: nil, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			parent := fx.seedParent(t, "Blue Dream", "Zion Cultivar")
			listing := typoListing
			listing.InStock = tt.inStock
			flag := fx.createFlag(t, listing, &parent.ID, 72)
			assert.Equal(t, tt.want, flag.InStock)

			approved, err := fx.service.Approve(fx.ctx, flag.ID, ReviewInput{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, fx.price(t, *approved.ResolvedVariantID).InStock)
		})
	}
}

func TestService_DismissDoesNotTouchCatalog(t *testing.T) {
	fx := newFixture(t)
	parent := fx.seedParent(t, "Blue Dream", "Zion Cultivar")
	flag := fx.createFlag(t, models.RawListing{Name: "<b>$$$ BUY NOW</b>", Price: f64(1)}, &parent.ID, 61)

	dismissed, err := fx.service.Dismiss(fx.ctx, flag.ID, DismissInput{IssueTags: []models.IssueTag{models.IssueTagGarbageInName}})
	require.NoError(t, err)
	assert.Equal(t, models.ScraperFlagStatusDismissed, dismissed.Status)
	assert.Equal(t, []models.IssueTag{models.IssueTagGarbageInName}, dismissed.IssueTags)
	assert.Nil(t, dismissed.ResolvedProductID)

	parents := fx.parents(t)
	require.Len(t, parents, 1)

	tx, _ := fx.store.Begin(fx.ctx)
	defer tx.Rollback(fx.ctx)
	variants, err := tx.ListVariants(fx.ctx, parent.ID)
	require.NoError(t, err)
	assert.Empty(t, variants)
}

func TestService_WorkflowErrors(t *testing.T) {
	fx := newFixture(t)
	flag := fx.createFlag(t, typoListing, nil, 65)

	_, err := fx.service.Dismiss(fx.ctx, flag.ID, DismissInput{})
	require.NoError(t, err)

	verbs := map[string]func() error{
		"approve": func() error { _, err := fx.service.Approve(fx.ctx, flag.ID, ReviewInput{}); return err },
		"reject":  func() error { _, err := fx.service.Reject(fx.ctx, flag.ID, ReviewInput{}); return err },
		"dismiss": func() error { _, err := fx.service.Dismiss(fx.ctx, flag.ID, DismissInput{}); return err },
		"toggle": func() error {
			_, err := fx.service.ToggleIssueTag(fx.ctx, flag.ID, models.IssueTagMissingFields, true)
			return err
		},
	}
	for name, verb := range verbs {
		t.Run(name+" on resolved flag", func(t *testing.T) {
			err := verb()
			assert.True(t, errors.Is(err, ErrFlagAlreadyResolved), "got %v", err)
		})
	}

	t.Run("unknown id", func(t *testing.T) {
		_, err := fx.service.Approve(fx.ctx, "missing", ReviewInput{})
		assert.True(t, errors.Is(err, ErrFlagNotFound))
		_, err = fx.service.Get(fx.ctx, "missing")
		assert.True(t, errors.Is(err, ErrFlagNotFound))
	})
}

func TestService_InvalidEditsLeaveFlagPending(t *testing.T) {
	fx := newFixture(t)
	flag := fx.createFlag(t, typoListing, nil, 65)

	tests := []struct {
		name  string
		input ReviewInput
		field string
	}{
		{name: "thc above 100", input: ReviewInput{Edits: &Edits{THC: f64(150)}}, field: "thc"},
		{name: "negative price", input: ReviewInput{Edits: &Edits{Price: f64(-1)}}, field: "price"},
		{name: "blank name", input: ReviewInput{Edits: &Edits{Name: str("  ")}}, field: "name"},
		{name: "weight too long", input: ReviewInput{Edits: &Edits{Weight: str(strings.Repeat("g", 65))}}, field: "weight"},
		{name: "bad url", input: ReviewInput{Edits: &Edits{URL: str("not a url")}}, field: "url"},
		{name: "unknown tag", input: ReviewInput{IssueTags: []models.IssueTag{"typo"}}, field: "issue_tags"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.service.Approve(fx.ctx, flag.ID, tt.input)
			var validationErr *ValidationError
			require.True(t, errors.As(err, &validationErr), "got %v", err)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}

	stored, err := fx.service.Get(fx.ctx, flag.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScraperFlagStatusPending, stored.Status)
	assert.Empty(t, stored.Corrections)
	assert.Empty(t, fx.parents(t))
}

func TestService_ToggleIssueTagRoundTrip(t *testing.T) {
	fx := newFixture(t)
	flag := fx.createFlag(t, models.RawListing{Name: "Blue Dream 3.5g", Price: f64(30), Category: "flower"}, nil, 70)

	on, err := fx.service.ToggleIssueTag(fx.ctx, flag.ID, models.IssueTagWeightInName, true)
	require.NoError(t, err)
	assert.Equal(t, "Blue Dream", on.Working.Name)
	assert.Equal(t, "3.5g", on.Working.Weight)
	assert.Equal(t, []models.IssueTag{models.IssueTagWeightInName}, on.IssueTags)
	assert.Contains(t, on.TagSnapshots, models.IssueTagWeightInName)

	again, err := fx.service.ToggleIssueTag(fx.ctx, flag.ID, models.IssueTagWeightInName, true)
	require.NoError(t, err)
	assert.Equal(t, on.Working, again.Working)

	off, err := fx.service.ToggleIssueTag(fx.ctx, flag.ID, models.IssueTagWeightInName, false)
	require.NoError(t, err)
	assert.Equal(t, flag.Original, off.Working)
	assert.Empty(t, off.IssueTags)
	assert.NotContains(t, off.TagSnapshots, models.IssueTagWeightInName)

	stored, err := fx.service.Get(fx.ctx, flag.ID)
	require.NoError(t, err)
	assert.Equal(t, flag.Original, stored.Working)
}

func TestService_ToggledEditsFlowIntoApproval(t *testing.T) {
	fx := newFixture(t)
	flag := fx.createFlag(t, models.RawListing{Name: "Sour Diesel 1g", Price: f64(10), Category: "flower"}, nil, 70)

	_, err := fx.service.ToggleIssueTag(fx.ctx, flag.ID, models.IssueTagWeightInName, true)
	require.NoError(t, err)

	approved, err := fx.service.Approve(fx.ctx, flag.ID, ReviewInput{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.Correction{
		{Field: models.CorrectionFieldName, OldValue: "Sour Diesel 1g", NewValue: "Sour Diesel"},
		{Field: models.CorrectionFieldWeight, OldValue: "", NewValue: "1g"},
	}, approved.Corrections)
	assert.Equal(t, []models.IssueTag{models.IssueTagWeightInName}, approved.IssueTags)
}

func TestService_MarkDuplicateMerged(t *testing.T) {
	fx := newFixture(t)
	parent := fx.seedParent(t, "Blue Dream", "Zion Cultivar")
	flag := fx.createFlag(t, typoListing, nil, 65)

	_, err := fx.service.MarkDuplicateMerged(fx.ctx, flag.ID, "nope", "")
	var validationErr *ValidationError
	assert.True(t, errors.As(err, &validationErr))

	merged, err := fx.service.MarkDuplicateMerged(fx.ctx, flag.ID, parent.ID, "lead")
	require.NoError(t, err)
	assert.Equal(t, models.ScraperFlagStatusMerged, merged.Status)
	assert.Equal(t, parent.ID, *merged.ResolvedProductID)
}

func TestService_ConcurrentReviewersResolveOnce(t *testing.T) {
	fx := newFixture(t)
	flag := fx.createFlag(t, typoListing, nil, 65)

	results := make(chan error, 2)
	go func() { _, err := fx.service.Approve(fx.ctx, flag.ID, ReviewInput{}); results <- err }()
	go func() { _, err := fx.service.Dismiss(fx.ctx, flag.ID, DismissInput{}); results <- err }()

	var succeeded, resolved int
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrFlagAlreadyResolved):
				resolved++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("reviewers deadlocked")
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, resolved)
}

func TestService_Analytics(t *testing.T) {
	fx := newFixture(t)
	parent := fx.seedParent(t, "Blue Dream", "Zion Cultivar")

	a := fx.createFlag(t, typoListing, &parent.ID, 72)
	b := fx.createFlag(t, models.RawListing{Name: "Blu Dream", Price: f64(30)}, &parent.ID, 80)
	c := fx.createFlag(t, models.RawListing{Name: "junk", Price: f64(1)}, nil, 60)
	fx.createFlag(t, models.RawListing{Name: "pending one", Price: f64(5)}, nil, 60)

	_, err := fx.service.Approve(fx.ctx, a.ID, ReviewInput{Edits: &Edits{Name: str("Blue Dream")}})
	require.NoError(t, err)
	_, err = fx.service.Approve(fx.ctx, b.ID, ReviewInput{})
	require.NoError(t, err)
	_, err = fx.service.Dismiss(fx.ctx, c.ID, DismissInput{})
	require.NoError(t, err)

	stats, err := fx.service.Analytics(fx.ctx, AnalyticsQuery{})
	require.NoError(t, err)
	require.Len(t, stats, 1)

	got := stats[0]
	assert.Equal(t, "disp-1", got.DispensaryID)
	assert.Equal(t, 4, got.Total)
	assert.Equal(t, 2, got.Approved)
	assert.Equal(t, 1, got.Dismissed)
	assert.Equal(t, 1, got.Pending)
	assert.InDelta(t, 0.5, got.CorrectionRate, 1e-9)
	require.Len(t, got.TopCorrectedFields, 1)
	assert.Equal(t, FieldCorrection{Field: models.CorrectionFieldName, Count: 1, ExampleFrom: "Bleu Dreem", ExampleTo: "Blue Dream"}, got.TopCorrectedFields[0])

	future := time.Now().Add(time.Hour)
	stats, err = fx.service.Analytics(fx.ctx, AnalyticsQuery{Since: &future})
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestAggregate_TopFields(t *testing.T) {
	flags := []models.ScraperFlag{
		{DispensaryID: "b", Status: models.ScraperFlagStatusRejected, Corrections: []models.Correction{
			{Field: models.CorrectionFieldBrand, OldValue: "Zion", NewValue: "Zion Cultivar"},
		}},
		{DispensaryID: "b", Status: models.ScraperFlagStatusApproved, Corrections: []models.Correction{
			{Field: models.CorrectionFieldBrand, OldValue: "ZC", NewValue: "Zion Cultivar"},
			{Field: models.CorrectionFieldCategory, OldValue: "", NewValue: "flower"},
		}},
		{DispensaryID: "b", Status: models.ScraperFlagStatusApproved, Corrections: []models.Correction{
			{Field: models.CorrectionFieldBrand, OldValue: "ZC", NewValue: "Zion Cultivar"},
		}},
		{DispensaryID: "a", Status: models.ScraperFlagStatusApproved},
	}

	stats := Aggregate(flags)
	require.Len(t, stats, 2)
	assert.Equal(t, "a", stats[0].DispensaryID)
	assert.Zero(t, stats[0].CorrectionRate)
	assert.Empty(t, stats[0].TopCorrectedFields)

	b := stats[1]
	assert.Equal(t, 1.0, b.CorrectionRate)
	require.Len(t, b.TopCorrectedFields, 2)
	assert.Equal(t, FieldCorrection{Field: models.CorrectionFieldBrand, Count: 3, ExampleFrom: "ZC", ExampleTo: "Zion Cultivar"}, b.TopCorrectedFields[0])
	assert.Equal(t, models.CorrectionFieldCategory, b.TopCorrectedFields[1].Field)
}

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{err: notFound("f1"), code: http.StatusNotFound},
		{err: alreadyResolved("f1", "approved"), code: http.StatusConflict},
		{err: &ValidationError{Field: "thc", Message: "must be at most 100"}, code: http.StatusBadRequest},
		{err: catalog.ErrConflict, code: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		mapped := ToHTTPError(tt.err)
		require.True(t, httperror.IsHTTPError(mapped))
		assert.Equal(t, tt.code, httperror.GetStatusCode(mapped), tt.err.Error())
	}
	assert.Nil(t, ToHTTPError(nil))
}

func TestConfidencePercent(t *testing.T) {
	assert.Equal(t, "87%", ConfidencePercent(87))
	assert.Equal(t, "80%", ConfidencePercent(80.375))
	assert.Equal(t, "100%", ConfidencePercent(130))
	assert.Equal(t, "0%", ConfidencePercent(-4))
}
