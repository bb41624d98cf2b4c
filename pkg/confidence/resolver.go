package confidence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Ramsey-B/sprout/pkg/catalog"
	"github.com/Ramsey-B/sprout/pkg/models"
	"github.com/Ramsey-B/sprout/pkg/normalizers"
	"github.com/Ramsey-B/sprout/pkg/tracing"
	"github.com/Ramsey-B/sprout/pkg/weight"
)

// CatalogWriter is the part of a transaction the resolver writes through
type CatalogWriter interface {
	catalog.BrandStore
	catalog.ProductStore
}

// ParentFields are the listing values a new parent is built from
type ParentFields struct {
	Name     string
	Brand    string
	Category string
	THC      *float64
	CBD      *float64
}

// ParentFieldsFromListing picks the parent-level fields of a listing
func ParentFieldsFromListing(l models.RawListing) ParentFields {
	return ParentFields{Name: l.Name, Brand: l.Brand, Category: l.Category, THC: l.THC, CBD: l.CBD}
}

// ParentFieldsFromEdits picks the parent-level fields of reviewer-edited values
func ParentFieldsFromEdits(f models.EditableFields) ParentFields {
	return ParentFields{Name: f.Name, Brand: f.Brand, Category: f.Category, THC: f.THC, CBD: f.CBD}
}

// Resolver finds or creates the catalog rows a decision resolves to
type Resolver struct {
	logger    ectologger.Logger
	tolerance float64
	now       func() time.Time
}

// NewResolver creates a Resolver. tolerance is the relative weight tolerance for reusing variants.
func NewResolver(logger ectologger.Logger, tolerance float64) *Resolver {
	if tolerance <= 0 {
		tolerance = weight.DefaultTolerance
	}
	return &Resolver{
		logger:    logger,
		tolerance: tolerance,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ListingWeight returns the listing's weight text, falling back to a weight embedded in the name
func ListingWeight(name, weightText string) string {
	if strings.TrimSpace(weightText) != "" {
		return weightText
	}
	if match, _, ok := weight.Extract(name); ok {
		return match
	}
	return ""
}

// FindOrCreateVariant reuses the parent's variant within tolerance of the parsed weight or creates
// one. Unparseable weights resolve to the parent's single unspecified variant.
func (r *Resolver) FindOrCreateVariant(ctx context.Context, tx catalog.ProductStore, parent models.Parent, weightText string) (models.Variant, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "confidence.Resolver.FindOrCreateVariant")
	defer span.End()

	grams, parsed := weight.Parse(weightText)

	variants, err := tx.ListVariants(ctx, parent.ID)
	if err != nil {
		return models.Variant{}, false, err
	}
	if existing, ok := r.matchVariant(variants, grams, parsed); ok {
		return existing, false, nil
	}

	now := r.now()
	variant := models.Variant{
		ID:        uuid.NewString(),
		ParentID:  parent.ID,
		Weight:    weight.Unspecified,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if parsed {
		variant.Weight = weight.Format(grams)
		variant.WeightGrams = &grams
	}

	err = tx.CreateVariant(ctx, &variant)
	if errors.Is(err, catalog.ErrDuplicate) {
		// same label already exists, either from a concurrent run or a rounding collision
		variants, listErr := tx.ListVariants(ctx, parent.ID)
		if listErr != nil {
			return models.Variant{}, false, listErr
		}
		for _, v := range variants {
			if v.Weight == variant.Weight {
				return v, false, nil
			}
		}
		return models.Variant{}, false, err
	}
	if err != nil {
		return models.Variant{}, false, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"parent_id":  parent.ID,
		"variant_id": variant.ID,
		"weight":     variant.Weight,
	}).Debug("Created variant")
	return variant, true, nil
}

func (r *Resolver) matchVariant(variants []models.Variant, grams float64, parsed bool) (models.Variant, bool) {
	for _, v := range variants {
		if !parsed {
			if v.Unspecified() {
				return v, true
			}
			continue
		}
		if v.WeightGrams != nil && weight.WithinTolerance(*v.WeightGrams, grams, r.tolerance) {
			return v, true
		}
	}
	return models.Variant{}, false
}

// FindOrCreateBrand returns the brand with the same normalized name, creating it on first sight.
// A blank brand resolves to nil.
func (r *Resolver) FindOrCreateBrand(ctx context.Context, tx catalog.BrandStore, name string) (*models.Brand, error) {
	ctx, span := tracing.StartSpan(ctx, "confidence.Resolver.FindOrCreateBrand")
	defer span.End()

	normalized := normalizers.BrandName(name)
	if normalized == "" {
		return nil, nil
	}

	existing, err := tx.FindBrand(ctx, normalized)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}

	brand := &models.Brand{
		ID:             uuid.NewString(),
		Name:           DisplayName(name),
		NormalizedName: normalized,
		CreatedAt:      r.now(),
	}
	err = tx.CreateBrand(ctx, brand)
	if errors.Is(err, catalog.ErrDuplicate) {
		return tx.FindBrand(ctx, normalized)
	}
	if err != nil {
		return nil, err
	}
	return brand, nil
}

// FindOrCreateParent returns the parent whose match key equals the fields' key, creating it
// when absent. created is false when an existing parent was reused.
func (r *Resolver) FindOrCreateParent(ctx context.Context, tx CatalogWriter, fields ParentFields) (models.Parent, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "confidence.Resolver.FindOrCreateParent")
	defer span.End()

	parent, err := r.buildParent(ctx, tx, fields)
	if err != nil {
		return models.Parent{}, false, err
	}

	if existing, err := tx.FindParentByMatchKey(ctx, parent.MatchKey); err == nil {
		return *existing, false, nil
	} else if !errors.Is(err, catalog.ErrNotFound) {
		return models.Parent{}, false, err
	}

	err = tx.CreateParent(ctx, &parent)
	if errors.Is(err, catalog.ErrDuplicate) {
		existing, findErr := tx.FindParentByMatchKey(ctx, parent.MatchKey)
		if findErr != nil {
			return models.Parent{}, false, err
		}
		return *existing, false, nil
	}
	if err != nil {
		return models.Parent{}, false, err
	}
	return parent, true, nil
}

// CreateDistinctParent always creates a new parent. When the fields collide with an existing
// parent's match key the new key is suffixed with disambiguator.
func (r *Resolver) CreateDistinctParent(ctx context.Context, tx CatalogWriter, fields ParentFields, disambiguator string) (models.Parent, error) {
	ctx, span := tracing.StartSpan(ctx, "confidence.Resolver.CreateDistinctParent")
	defer span.End()

	parent, err := r.buildParent(ctx, tx, fields)
	if err != nil {
		return models.Parent{}, err
	}

	_, err = tx.FindParentByMatchKey(ctx, parent.MatchKey)
	switch {
	case err == nil:
		parent.MatchKey = parent.MatchKey + "#" + disambiguator
	case !errors.Is(err, catalog.ErrNotFound):
		return models.Parent{}, err
	}

	if err := tx.CreateParent(ctx, &parent); err != nil {
		return models.Parent{}, err
	}
	return parent, nil
}

func (r *Resolver) buildParent(ctx context.Context, tx catalog.BrandStore, fields ParentFields) (models.Parent, error) {
	name := DisplayName(weight.Strip(fields.Name))
	if name == "" {
		name = DisplayName(fields.Name)
	}
	if name == "" {
		return models.Parent{}, fmt.Errorf("parent name is required")
	}

	brand, err := r.FindOrCreateBrand(ctx, tx, fields.Brand)
	if err != nil {
		return models.Parent{}, err
	}

	category := normalizers.Category(fields.Category)
	now := r.now()
	parent := models.Parent{
		ID:         uuid.NewString(),
		Name:       name,
		Category:   category,
		THCPercent: fields.THC,
		CBDPercent: fields.CBD,
		MatchKey:   normalizers.MatchKey(name, fields.Brand, category),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if brand != nil {
		parent.BrandID = &brand.ID
		parent.BrandName = brand.Name
	}
	return parent, nil
}

// DisplayName tidies whitespace and title-cases names scraped entirely in upper or lower case.
// Mixed-case names are kept as written.
func DisplayName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, " -|,")
	if s == "" {
		return ""
	}
	if s == strings.ToUpper(s) || s == strings.ToLower(s) {
		// a Caser is stateful, so one per call
		return cases.Title(language.English).String(strings.ToLower(s))
	}
	return s
}
