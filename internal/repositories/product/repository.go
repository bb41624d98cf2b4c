package product

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/sprout/internal/repositories"
	"github.com/Ramsey-B/sprout/pkg/catalog"
	"github.com/Ramsey-B/sprout/pkg/database"
	"github.com/Ramsey-B/sprout/pkg/models"
	"github.com/Ramsey-B/sprout/pkg/tracing"
)

const table = "products"

var selectColumns = []string{
	"p.id", "p.name", "p.brand_id", "b.name AS brand_name", "p.category", "p.thc_percent", "p.cbd_percent",
	"p.is_master", "p.master_product_id", "p.weight", "p.weight_grams", "p.match_key", "p.created_at", "p.updated_at",
}

var insertColumns = []string{
	"id", "name", "brand_id", "category", "thc_percent", "cbd_percent",
	"is_master", "master_product_id", "weight", "weight_grams", "match_key", "created_at", "updated_at",
}

// Repository persists parents and variants in the shared products table
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

var _ catalog.ProductStore = (*Repository)(nil)

func (r *Repository) selectBuilder() *sqlbuilder.SelectBuilder {
	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(selectColumns...)
	sb.From(table + " p")
	sb.JoinWithOption(sqlbuilder.LeftJoin, "brands b", "b.id = p.brand_id")
	return sb
}

func (r *Repository) ListParents(ctx context.Context) ([]models.Parent, error) {
	ctx, span := tracing.StartSpan(ctx, "product.Repository.ListParents")
	defer span.End()

	sb := r.selectBuilder()
	sb.Where(sb.Equal("p.is_master", true))
	sb.OrderBy("p.created_at", "p.id")
	query, args := sb.Build()

	var records []models.ProductRecord
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list parent products")
		return nil, repositories.StoreError("list parents", err)
	}

	parents := make([]models.Parent, 0, len(records))
	for _, record := range records {
		parent, err := record.AsParent()
		if err != nil {
			return nil, err
		}
		parents = append(parents, parent)
	}
	return parents, nil
}

func (r *Repository) GetParent(ctx context.Context, id string) (*models.Parent, error) {
	ctx, span := tracing.StartSpan(ctx, "product.Repository.GetParent")
	defer span.End()

	sb := r.selectBuilder()
	sb.Where(sb.Equal("p.id", id), sb.Equal("p.is_master", true))
	return r.getParent(ctx, sb, "get parent")
}

func (r *Repository) FindParentByMatchKey(ctx context.Context, matchKey string) (*models.Parent, error) {
	ctx, span := tracing.StartSpan(ctx, "product.Repository.FindParentByMatchKey")
	defer span.End()

	sb := r.selectBuilder()
	sb.Where(sb.Equal("p.match_key", matchKey), sb.Equal("p.is_master", true))
	return r.getParent(ctx, sb, "find parent by match key")
}

func (r *Repository) getParent(ctx context.Context, sb *sqlbuilder.SelectBuilder, op string) (*models.Parent, error) {
	query, args := sb.Build()

	var record models.ProductRecord
	if err := database.Executor(ctx, r.db).GetContext(ctx, &record, query, args...); err != nil {
		if !database.IsNoRows(err) {
			r.logger.WithContext(ctx).WithError(err).Errorf("Failed to %s", op)
		}
		return nil, repositories.StoreError(op, err)
	}

	parent, err := record.AsParent()
	if err != nil {
		return nil, err
	}
	return &parent, nil
}

func (r *Repository) CreateParent(ctx context.Context, parent *models.Parent) error {
	ctx, span := tracing.StartSpan(ctx, "product.Repository.CreateParent")
	defer span.End()

	if err := r.insert(ctx, models.ParentRecord(*parent)); err != nil {
		if !database.IsUniqueViolation(err) {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"product_id": parent.ID,
				"match_key":  parent.MatchKey,
			}).Error("Failed to create parent product")
		}
		return repositories.StoreError("create parent", err)
	}
	return nil
}

func (r *Repository) ListVariants(ctx context.Context, parentID string) ([]models.Variant, error) {
	ctx, span := tracing.StartSpan(ctx, "product.Repository.ListVariants")
	defer span.End()

	sb := r.selectBuilder()
	sb.Where(sb.Equal("p.master_product_id", parentID), sb.Equal("p.is_master", false))
	sb.OrderBy("p.created_at", "p.id")
	query, args := sb.Build()

	var records []models.ProductRecord
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("parent_id", parentID).Error("Failed to list variants")
		return nil, repositories.StoreError("list variants", err)
	}

	variants := make([]models.Variant, 0, len(records))
	for _, record := range records {
		variant, err := record.AsVariant()
		if err != nil {
			return nil, err
		}
		variants = append(variants, variant)
	}
	return variants, nil
}

func (r *Repository) CreateVariant(ctx context.Context, variant *models.Variant) error {
	ctx, span := tracing.StartSpan(ctx, "product.Repository.CreateVariant")
	defer span.End()

	parent, err := r.GetParent(ctx, variant.ParentID)
	if err != nil {
		return err
	}

	if err := r.insert(ctx, models.VariantRecord(*variant, *parent)); err != nil {
		if !database.IsUniqueViolation(err) {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"parent_id": variant.ParentID,
				"weight":    variant.Weight,
			}).Error("Failed to create variant")
		}
		return repositories.StoreError("create variant", err)
	}
	return nil
}

func (r *Repository) insert(ctx context.Context, record models.ProductRecord) error {
	ib := r.db.Flavor().NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(insertColumns...)
	ib.Values(
		record.ID, record.Name, record.BrandID, record.Category, record.THCPercent, record.CBDPercent,
		record.IsMaster, record.MasterProductID, record.Weight, record.WeightGrams, record.MatchKey,
		record.CreatedAt, record.UpdatedAt,
	)
	query, args := ib.Build()
	_, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...)
	return err
}
