package flags

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/sprout/pkg/catalog"
	"github.com/Ramsey-B/sprout/pkg/models"
	"github.com/Ramsey-B/sprout/pkg/tracing"
)

// DefaultAnalyticsWindow is the trailing window used when a query names none
const DefaultAnalyticsWindow = 30 * 24 * time.Hour

const topCorrectedFields = 5

// CandidateSummary describes the parent the scorer proposed
type CandidateSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Brand    string `json:"brand,omitempty"`
	Category string `json:"category,omitempty"`
}

// ReviewItem is one pending flag as the review UI shows it
type ReviewItem struct {
	Flag              models.ScraperFlag `json:"flag"`
	Candidate         *CandidateSummary  `json:"candidate,omitempty"`
	ConfidencePercent string             `json:"confidence_percent"`
	ProposedTags      []models.IssueTag  `json:"proposed_tags"`
}

// ListFilter narrows the pending queue
type ListFilter struct {
	DispensaryID string
	Since        *time.Time
	Limit        int
}

// ConfidencePercent renders a 0..100 score as a whole percentage, "87%"
func ConfidencePercent(score float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(clampScore(score))))
}

// ListPending returns pending flags, oldest first, with their candidate summaries
func (s *Service) ListPending(ctx context.Context, filter ListFilter) ([]ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "flags.Service.ListPending")
	defer span.End()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	flags, err := tx.ListFlags(ctx, models.FlagFilter{
		Status:       models.ScraperFlagStatusPending,
		DispensaryID: filter.DispensaryID,
		Since:        filter.Since,
		Limit:        filter.Limit,
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list pending flags")
		return nil, fmt.Errorf("list flags: %w", err)
	}

	candidates := make(map[string]*CandidateSummary)
	items := make([]ReviewItem, 0, len(flags))
	for _, flag := range flags {
		item := ReviewItem{
			Flag:              flag,
			ConfidencePercent: ConfidencePercent(flag.ConfidenceScore),
			ProposedTags:      ProposeIssueTags(flag),
		}
		if flag.MatchedProductID != nil {
			summary, err := s.candidate(ctx, tx, *flag.MatchedProductID, candidates)
			if err != nil {
				return nil, err
			}
			item.Candidate = summary
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) candidate(ctx context.Context, tx catalog.ProductStore, id string, cache map[string]*CandidateSummary) (*CandidateSummary, error) {
	if summary, ok := cache[id]; ok {
		return summary, nil
	}
	parent, err := tx.GetParent(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		cache[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load candidate %s: %w", id, err)
	}
	summary := &CandidateSummary{ID: parent.ID, Name: parent.Name, Brand: parent.BrandName, Category: parent.Category}
	cache[id] = summary
	return summary, nil
}

// AnalyticsQuery selects the flags analytics are computed over. Since wins over Window.
type AnalyticsQuery struct {
	DispensaryID string
	Since        *time.Time
	Window       time.Duration
}

// FieldCorrection counts corrections to one field with a representative change
type FieldCorrection struct {
	Field       models.CorrectionField `json:"field"`
	Count       int                    `json:"count"`
	ExampleFrom string                 `json:"example_from"`
	ExampleTo   string                 `json:"example_to"`
}

// DispensaryAnalytics aggregates one dispensary's flags
type DispensaryAnalytics struct {
	DispensaryID       string            `json:"dispensary_id"`
	Total              int               `json:"total"`
	Pending            int               `json:"pending"`
	Approved           int               `json:"approved"`
	Rejected           int               `json:"rejected"`
	Dismissed          int               `json:"dismissed"`
	Merged             int               `json:"merged"`
	CorrectedApproved  int               `json:"corrected_approved"`
	CorrectionRate     float64           `json:"correction_rate"`
	TopCorrectedFields []FieldCorrection `json:"top_corrected_fields"`
}

// Analytics aggregates persisted flags per dispensary over the trailing window.
// It only reads.
func (s *Service) Analytics(ctx context.Context, query AnalyticsQuery) ([]DispensaryAnalytics, error) {
	ctx, span := tracing.StartSpan(ctx, "flags.Service.Analytics")
	defer span.End()

	since := query.Since
	if since == nil {
		window := query.Window
		if window <= 0 {
			window = DefaultAnalyticsWindow
		}
		start := s.now().Add(-window)
		since = &start
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	flags, err := tx.ListFlags(ctx, models.FlagFilter{DispensaryID: query.DispensaryID, Since: since})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list flags for analytics")
		return nil, fmt.Errorf("list flags: %w", err)
	}

	return Aggregate(flags), nil
}

// Aggregate computes per-dispensary analytics from flags ordered oldest first
func Aggregate(flags []models.ScraperFlag) []DispensaryAnalytics {
	byDispensary := make(map[string][]models.ScraperFlag)
	for _, flag := range flags {
		byDispensary[flag.DispensaryID] = append(byDispensary[flag.DispensaryID], flag)
	}

	ids := make([]string, 0, len(byDispensary))
	for id := range byDispensary {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ectolinq.Map(ids, func(id string) DispensaryAnalytics {
		return aggregateDispensary(id, byDispensary[id])
	})
}

func aggregateDispensary(id string, flags []models.ScraperFlag) DispensaryAnalytics {
	out := DispensaryAnalytics{DispensaryID: id, Total: len(flags)}
	for _, flag := range flags {
		switch flag.Status {
		case models.ScraperFlagStatusPending:
			out.Pending++
		case models.ScraperFlagStatusApproved:
			out.Approved++
			if len(flag.Corrections) > 0 {
				out.CorrectedApproved++
			}
		case models.ScraperFlagStatusRejected:
			out.Rejected++
		case models.ScraperFlagStatusDismissed:
			out.Dismissed++
		case models.ScraperFlagStatusMerged:
			out.Merged++
		}
	}
	if out.Approved > 0 {
		out.CorrectionRate = float64(out.CorrectedApproved) / float64(out.Approved)
	}
	out.TopCorrectedFields = topFields(flags)
	return out
}

type changePair struct{ from, to string }

type fieldTally struct {
	count     int
	pairs     map[changePair]int
	pairOrder []changePair
}

// topFields ranks fields by correction count. The example is the field's most frequent
// change, earliest first on ties.
func topFields(flags []models.ScraperFlag) []FieldCorrection {
	tallies := make(map[models.CorrectionField]*fieldTally)
	for _, flag := range flags {
		for _, c := range flag.Corrections {
			tally, ok := tallies[c.Field]
			if !ok {
				tally = &fieldTally{pairs: make(map[changePair]int)}
				tallies[c.Field] = tally
			}
			tally.count++
			pair := changePair{from: c.OldValue, to: c.NewValue}
			if tally.pairs[pair] == 0 {
				tally.pairOrder = append(tally.pairOrder, pair)
			}
			tally.pairs[pair]++
		}
	}

	fields := append([]models.CorrectionField(nil), ectolinq.Filter(models.CorrectionFields, func(f models.CorrectionField) bool {
		return tallies[f] != nil
	})...)
	// stable keeps vocabulary order for equal counts
	sort.SliceStable(fields, func(i, j int) bool {
		return tallies[fields[i]].count > tallies[fields[j]].count
	})
	if len(fields) > topCorrectedFields {
		fields = fields[:topCorrectedFields]
	}

	out := make([]FieldCorrection, 0, len(fields))
	for _, field := range fields {
		tally := tallies[field]
		best := tally.pairOrder[0]
		for _, pair := range tally.pairOrder[1:] {
			if tally.pairs[pair] > tally.pairs[best] {
				best = pair
			}
		}
		out = append(out, FieldCorrection{Field: field, Count: tally.count, ExampleFrom: best.from, ExampleTo: best.to})
	}
	return out
}
