// Package flags owns the review queue: flag creation, the reviewer verbs,
// issue tags and correction analytics.
package flags

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/sprout/pkg/catalog"
	"github.com/Ramsey-B/sprout/pkg/confidence"
	"github.com/Ramsey-B/sprout/pkg/events"
	"github.com/Ramsey-B/sprout/pkg/metrics"
	"github.com/Ramsey-B/sprout/pkg/models"
	"github.com/Ramsey-B/sprout/pkg/tracing"
)

// Review actions
const (
	ActionApprove   = "approve"
	ActionReject    = "reject"
	ActionDismiss   = "dismiss"
	ActionMerge     = "merge"
	ActionToggleTag = "toggle_tag"
)

// CreateRequest describes a listing the scorer could not resolve on its own
type CreateRequest struct {
	RunID        *string
	DispensaryID string
	Listing      models.RawListing
	CandidateID  *string
	Score        float64
	Reason       string
}

// ReviewInput carries an approve or reject call
type ReviewInput struct {
	Edits      *Edits
	IssueTags  []models.IssueTag
	ReviewedBy string
}

// DismissInput carries a dismiss call
type DismissInput struct {
	IssueTags  []models.IssueTag
	ReviewedBy string
}

// Service implements the review-queue state machine
type Service struct {
	store    catalog.Store
	resolver *confidence.Resolver
	emitter  *events.Emitter
	logger   ectologger.Logger
	now      func() time.Time
}

// NewService creates a flag service. emitter may be nil.
func NewService(store catalog.Store, resolver *confidence.Resolver, emitter *events.Emitter, logger ectologger.Logger) *Service {
	if emitter == nil {
		emitter = events.NewNoopEmitter()
	}
	return &Service{
		store:    store,
		resolver: resolver,
		emitter:  emitter,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a pending flag inside the caller's transaction. Originals are captured
// verbatim and the working copy starts equal to them.
func (s *Service) Create(ctx context.Context, tx catalog.FlagStore, req CreateRequest) (*models.ScraperFlag, error) {
	ctx, span := tracing.StartSpan(ctx, "flags.Service.Create")
	defer span.End()

	now := s.now()
	original := models.FieldsFromListing(req.Listing)
	flag := &models.ScraperFlag{
		ID:               uuid.NewString(),
		RunID:            req.RunID,
		DispensaryID:     req.DispensaryID,
		Original:         original,
		Working:          original.Clone(),
		MatchedProductID: req.CandidateID,
		ConfidenceScore:  clampScore(req.Score),
		MergeReason:      req.Reason,
		InStock:          req.Listing.Available(),
		Status:           models.ScraperFlagStatusPending,
		Corrections:      []models.Correction{},
		IssueTags:        []models.IssueTag{},
		RawPayload:       req.Listing.RawPayload,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := tx.CreateFlag(ctx, flag); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"dispensary_id": req.DispensaryID,
			"listing":       req.Listing.Name,
		}).Error("Failed to create flag")
		return nil, fmt.Errorf("create flag: %w", err)
	}
	return flag, nil
}

// Get returns a flag by id
func (s *Service) Get(ctx context.Context, id string) (*models.ScraperFlag, error) {
	ctx, span := tracing.StartSpan(ctx, "flags.Service.Get")
	defer span.End()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	flag, err := tx.GetFlag(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, notFound(id)
	}
	return flag, err
}

// Approve merges the (possibly corrected) listing into the catalog: onto the matched
// parent when the scorer proposed one, otherwise as a new parent.
func (s *Service) Approve(ctx context.Context, id string, input ReviewInput) (*models.ScraperFlag, error) {
	ctx, span := tracing.StartSpan(ctx, "flags.Service.Approve")
	defer span.End()

	return s.resolve(ctx, id, ActionApprove, input.IssueTags, func(tx catalog.Tx, flag *models.ScraperFlag) error {
		fields, err := s.review(flag, input.Edits)
		if err != nil {
			return err
		}

		var parent models.Parent
		if flag.MatchedProductID != nil {
			matched, err := tx.GetParent(ctx, *flag.MatchedProductID)
			if err != nil {
				return fmt.Errorf("load matched parent %s: %w", *flag.MatchedProductID, err)
			}
			parent = *matched
		} else {
			parent, _, err = s.resolver.FindOrCreateParent(ctx, tx, confidence.ParentFieldsFromEdits(fields))
			if err != nil {
				return err
			}
		}

		if err := s.land(ctx, tx, flag, parent, fields); err != nil {
			return err
		}
		flag.Status = models.ScraperFlagStatusApproved
		s.stamp(flag, input.ReviewedBy)
		return nil
	})
}

// Reject never uses the matched parent: it always creates a fresh parent from the
// (possibly corrected) fields, disambiguating its match key when it collides.
func (s *Service) Reject(ctx context.Context, id string, input ReviewInput) (*models.ScraperFlag, error) {
	ctx, span := tracing.StartSpan(ctx, "flags.Service.Reject")
	defer span.End()

	return s.resolve(ctx, id, ActionReject, input.IssueTags, func(tx catalog.Tx, flag *models.ScraperFlag) error {
		fields, err := s.review(flag, input.Edits)
		if err != nil {
			return err
		}

		parent, err := s.resolver.CreateDistinctParent(ctx, tx, confidence.ParentFieldsFromEdits(fields), flag.ID)
		if err != nil {
			return err
		}

		if err := s.land(ctx, tx, flag, parent, fields); err != nil {
			return err
		}
		flag.Status = models.ScraperFlagStatusRejected
		s.stamp(flag, input.ReviewedBy)
		return nil
	})
}

// Dismiss closes an unusable listing without touching the catalog
func (s *Service) Dismiss(ctx context.Context, id string, input DismissInput) (*models.ScraperFlag, error) {
	ctx, span := tracing.StartSpan(ctx, "flags.Service.Dismiss")
	defer span.End()

	return s.resolve(ctx, id, ActionDismiss, input.IssueTags, func(_ catalog.Tx, flag *models.ScraperFlag) error {
		flag.Status = models.ScraperFlagStatusDismissed
		s.stamp(flag, input.ReviewedBy)
		return nil
	})
}

// MarkDuplicateMerged closes a pending flag as a duplicate of an existing parent.
// Only the status and resolution are recorded; the catalog is not changed.
func (s *Service) MarkDuplicateMerged(ctx context.Context, id, parentID, reviewedBy string) (*models.ScraperFlag, error) {
	ctx, span := tracing.StartSpan(ctx, "flags.Service.MarkDuplicateMerged")
	defer span.End()

	return s.resolve(ctx, id, ActionMerge, nil, func(tx catalog.Tx, flag *models.ScraperFlag) error {
		parent, err := tx.GetParent(ctx, parentID)
		if errors.Is(err, catalog.ErrNotFound) {
			return &ValidationError{Field: "parent_id", Message: fmt.Sprintf("parent %s does not exist", parentID)}
		}
		if err != nil {
			return err
		}
		flag.ResolvedProductID = &parent.ID
		flag.Status = models.ScraperFlagStatusMerged
		s.stamp(flag, reviewedBy)
		return nil
	})
}

// ToggleIssueTag turns a tag on or off. Turning a tag on snapshots the working fields
// and applies the tag's suggested edit; turning it off restores that snapshot exactly.
// Toggling to the current state is a no-op.
func (s *Service) ToggleIssueTag(ctx context.Context, id string, tag models.IssueTag, on bool) (*models.ScraperFlag, error) {
	ctx, span := tracing.StartSpan(ctx, "flags.Service.ToggleIssueTag")
	defer span.End()

	if err := validateTags([]models.IssueTag{tag}); err != nil {
		return nil, err
	}

	return s.withPendingFlag(ctx, id, ActionToggleTag, func(_ catalog.Tx, flag *models.ScraperFlag) error {
		if flag.HasTag(tag) == on {
			return errUnchanged
		}

		if on {
			if flag.TagSnapshots == nil {
				flag.TagSnapshots = make(map[models.IssueTag]models.EditableFields)
			}
			flag.TagSnapshots[tag] = flag.Working.Clone()
			flag.Working = applyTagEdit(tag, flag.Working)
			flag.IssueTags = withTag(flag.IssueTags, tag)
		} else {
			if snapshot, ok := flag.TagSnapshots[tag]; ok {
				flag.Working = snapshot.Clone()
				delete(flag.TagSnapshots, tag)
			}
			flag.IssueTags = withoutTag(flag.IssueTags, tag)
		}
		flag.UpdatedAt = s.now()
		return nil
	})
}

// review applies edits over the working values, validates the result and records
// one correction per field that differs from the scraped original
func (s *Service) review(flag *models.ScraperFlag, edits *Edits) (models.EditableFields, error) {
	fields := edits.Apply(flag.Working)
	if err := validateFields(fields); err != nil {
		return models.EditableFields{}, err
	}
	flag.Working = fields
	flag.Corrections = append(flag.Corrections, models.Diff(flag.Original, fields)...)
	return fields, nil
}

// land resolves the variant under parent and writes the dispensary's price
func (s *Service) land(ctx context.Context, tx catalog.Tx, flag *models.ScraperFlag, parent models.Parent, fields models.EditableFields) error {
	variant, _, err := s.resolver.FindOrCreateVariant(ctx, tx, parent, confidence.ListingWeight(fields.Name, fields.Weight))
	if err != nil {
		return err
	}

	if fields.Price != nil {
		price := &models.Price{
			VariantID:    variant.ID,
			DispensaryID: flag.DispensaryID,
			Amount:       *fields.Price,
			InStock:      flag.InStock,
			LastUpdated:  s.now(),
		}
		if url := strings.TrimSpace(fields.URL); url != "" {
			price.ProductURL = &url
		}
		if err := tx.UpsertPrice(ctx, price); err != nil {
			return fmt.Errorf("upsert price: %w", err)
		}
	}

	flag.ResolvedProductID = &parent.ID
	flag.ResolvedVariantID = &variant.ID
	return nil
}

func (s *Service) stamp(flag *models.ScraperFlag, reviewedBy string) {
	now := s.now()
	flag.ResolvedAt = &now
	flag.UpdatedAt = now
	if reviewedBy = strings.TrimSpace(reviewedBy); reviewedBy != "" {
		flag.ResolvedBy = &reviewedBy
	}
}

// resolve runs a terminal verb: tags are validated and recorded, then fn decides the outcome
func (s *Service) resolve(ctx context.Context, id, action string, tags []models.IssueTag, fn func(tx catalog.Tx, flag *models.ScraperFlag) error) (*models.ScraperFlag, error) {
	if err := validateTags(tags); err != nil {
		return nil, err
	}

	flag, err := s.withPendingFlag(ctx, id, action, func(tx catalog.Tx, flag *models.ScraperFlag) error {
		flag.IssueTags = orderTags(append(flag.IssueTags, tags...))
		return fn(tx, flag)
	})
	if err != nil {
		return nil, err
	}

	batch := &events.Batch{}
	batch.FlagResolved(*flag)
	_ = s.emitter.Publish(ctx, batch)
	return flag, nil
}

var errUnchanged = errors.New("flag unchanged")

// withPendingFlag locks the flag in its own transaction, enforces pending, runs fn and
// commits. fn returning errUnchanged commits nothing and returns the flag as read.
func (s *Service) withPendingFlag(ctx context.Context, id, action string, fn func(tx catalog.Tx, flag *models.ScraperFlag) error) (*models.ScraperFlag, error) {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"flag_id": id,
		"action":  action,
	})

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	flag, err := tx.GetFlagForUpdate(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("load flag: %w", err)
	}
	if flag.Status != models.ScraperFlagStatusPending {
		return nil, alreadyResolved(id, flag.Status)
	}

	if err := fn(tx, flag); err != nil {
		if errors.Is(err, errUnchanged) {
			return flag, nil
		}
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			log.WithError(err).Error("Failed to apply review action")
		}
		return nil, err
	}

	if err := tx.UpdateFlag(ctx, flag); err != nil {
		log.WithError(err).Error("Failed to update flag")
		return nil, fmt.Errorf("update flag: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.WithError(err).Error("Failed to commit review action")
		return nil, fmt.Errorf("commit: %w", err)
	}

	metrics.RecordReviewAction(action)
	log.WithFields(map[string]any{
		"status": flag.Status,
	}).Info("Review action applied")
	return flag, nil
}

func clampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}
