package price

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

const table = "prices"

// Repository keeps the latest price per (variant, dispensary)
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

var _ catalog.PriceStore = (*Repository)(nil)

// UpsertPrice overwrites the row for the price's variant and dispensary
func (r *Repository) UpsertPrice(ctx context.Context, price *models.Price) error {
	ctx, span := tracing.StartSpan(ctx, "price.Repository.UpsertPrice")
	defer span.End()

	ib := database.NewInsertBuilder(r.db.Flavor()).
		InsertInto(table).
		Cols("variant_product_id", "dispensary_id", "amount", "in_stock", "product_url", "last_updated").
		Values(price.VariantID, price.DispensaryID, price.Amount, price.InStock, price.ProductURL, price.LastUpdated)
	ib.OnConflictUpdate([]string{"variant_product_id", "dispensary_id"}, "amount", "in_stock", "product_url", "last_updated")

	query, args := ib.Build()
	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"variant_id":    price.VariantID,
			"dispensary_id": price.DispensaryID,
		}).Error("Failed to upsert price")
		return repositories.StoreError("upsert price", err)
	}
	return nil
}

func (r *Repository) GetPrice(ctx context.Context, variantID, dispensaryID string) (*models.Price, error) {
	ctx, span := tracing.StartSpan(ctx, "price.Repository.GetPrice")
	defer span.End()

	s := sqlbuilder.NewStruct(models.Price{}).For(r.db.Flavor())
	sb := s.SelectFrom(table)
	sb.Where(sb.Equal("variant_product_id", variantID), sb.Equal("dispensary_id", dispensaryID))
	query, args := sb.Build()

	var price models.Price
	if err := database.Executor(ctx, r.db).GetContext(ctx, &price, query, args...); err != nil {
		if !database.IsNoRows(err) {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"variant_id":    variantID,
				"dispensary_id": dispensaryID,
			}).Error("Failed to get price")
		}
		return nil, repositories.StoreError("get price", err)
	}
	return &price, nil
}
