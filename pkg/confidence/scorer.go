package confidence

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sprout/pkg/catalog"
	"github.com/Ramsey-B/sprout/pkg/matching"
	"github.com/Ramsey-B/sprout/pkg/models"
	"github.com/Ramsey-B/sprout/pkg/tracing"
	"github.com/Ramsey-B/sprout/pkg/weight"
)

// Config holds the decision thresholds. Scores equal to a threshold take the lower band.
type Config struct {
	// AutoMergeThreshold: scores strictly above merge without review
	AutoMergeThreshold float64
	// ReviewThreshold: scores at or above (up to AutoMergeThreshold) go to review
	ReviewThreshold float64
	// AmbiguityFloor: below ReviewThreshold, a listing with an unparseable weight still goes to
	// review when the best candidate scores at least this much
	AmbiguityFloor float64
}

// DefaultConfig returns the production thresholds
func DefaultConfig() Config {
	return Config{
		AutoMergeThreshold: 90,
		ReviewThreshold:    60,
		AmbiguityFloor:     50,
	}
}

// Ranker produces scored candidates, best first
type Ranker interface {
	Candidates(raw models.RawListing, pool []models.Parent) []matching.Candidate
}

// Scorer applies the decision policy to the matcher's ranking
type Scorer struct {
	ranker   Ranker
	resolver *Resolver
	config   Config
	logger   ectologger.Logger
}

// NewScorer creates a Scorer
func NewScorer(ranker Ranker, resolver *Resolver, config Config, logger ectologger.Logger) *Scorer {
	return &Scorer{
		ranker:   ranker,
		resolver: resolver,
		config:   config,
		logger:   logger,
	}
}

// Decide scores raw against the pool and picks a decision. On auto-merge the target variant
// is resolved, creating it when needed. A panic while matching is downgraded to a failed
// review so the listing still reaches a human; store errors are returned.
func (s *Scorer) Decide(ctx context.Context, tx catalog.ProductStore, raw models.RawListing, pool *catalog.CandidatePool) (decision Decision, err error) {
	ctx, span := tracing.StartSpan(ctx, "confidence.Scorer.Decide")
	defer span.End()

	candidates, failure := s.rank(ctx, raw, pool)
	if failure != nil {
		return failure, nil
	}
	if len(candidates) == 0 {
		return NewProduct{}, nil
	}

	best := candidates[0]
	total := best.Score.Total
	weightText := ListingWeight(raw.Name, raw.WeightText)

	switch {
	case total > s.config.AutoMergeThreshold:
		variant, created, err := s.resolver.FindOrCreateVariant(ctx, tx, best.Parent, weightText)
		if err != nil {
			return nil, err
		}
		return AutoMerge{
			ParentID:       best.Parent.ID,
			VariantID:      variant.ID,
			VariantCreated: created,
			Score:          best.Score,
		}, nil

	case total >= s.config.ReviewThreshold:
		id := best.Parent.ID
		return FlagForReview{
			CandidateID: &id,
			Score:       total,
			Reason:      "possible match for " + describeParent(best.Parent) + ": " + Explain(best.Score),
		}, nil

	case total >= s.config.AmbiguityFloor && !parseable(weightText):
		id := best.Parent.ID
		return FlagForReview{
			CandidateID: &id,
			Score:       total,
			Reason:      "weight unparseable and near-duplicate " + describeParent(best.Parent) + " exists: " + Explain(best.Score),
		}, nil
	}

	return NewProduct{BestScore: total}, nil
}

// rank runs the matcher, converting a panic into a failed review decision
func (s *Scorer) rank(ctx context.Context, raw models.RawListing, pool *catalog.CandidatePool) (candidates []matching.Candidate, failure Decision) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithContext(ctx).WithFields(map[string]any{
				"listing": raw.Name,
				"panic":   fmt.Sprint(r),
				"stack":   string(debug.Stack()),
			}).Error("Matching panicked, flagging listing for review")
			candidates = nil
			failure = FlagForReview{
				Score:  0,
				Reason: fmt.Sprintf("matching failed: %v", r),
				Failed: true,
			}
		}
	}()

	var parents []models.Parent
	if pool != nil {
		parents = pool.Parents()
	}
	return s.ranker.Candidates(raw, parents), nil
}

// Explain renders a score as the human-readable merge reason
func Explain(score matching.Score) string {
	if !score.BrandCompared {
		return fmt.Sprintf("name %.0f%% similar, no brand to compare (score %.1f)", score.Name, score.Total)
	}
	return fmt.Sprintf("name %.0f%% similar, brand %.0f%% similar (score %.1f)", score.Name, score.Brand, score.Total)
}

func describeParent(p models.Parent) string {
	if p.BrandName == "" {
		return fmt.Sprintf("%q", p.Name)
	}
	return fmt.Sprintf("%q by %s", p.Name, p.BrandName)
}

func parseable(weightText string) bool {
	_, ok := weight.Parse(weightText)
	return ok
}
