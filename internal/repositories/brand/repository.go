package brand

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

const table = "brands"

// Repository persists the brand dictionary
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

var _ catalog.BrandStore = (*Repository)(nil)

func (r *Repository) FindBrand(ctx context.Context, normalizedName string) (*models.Brand, error) {
	ctx, span := tracing.StartSpan(ctx, "brand.Repository.FindBrand")
	defer span.End()

	s := sqlbuilder.NewStruct(models.Brand{}).For(r.db.Flavor())
	sb := s.SelectFrom(table)
	sb.Where(sb.Equal("normalized_name", normalizedName))
	query, args := sb.Build()

	var brand models.Brand
	if err := database.Executor(ctx, r.db).GetContext(ctx, &brand, query, args...); err != nil {
		if !database.IsNoRows(err) {
			r.logger.WithContext(ctx).WithError(err).WithField("normalized_name", normalizedName).Error("Failed to find brand")
		}
		return nil, repositories.StoreError("find brand", err)
	}
	return &brand, nil
}

func (r *Repository) CreateBrand(ctx context.Context, brand *models.Brand) error {
	ctx, span := tracing.StartSpan(ctx, "brand.Repository.CreateBrand")
	defer span.End()

	s := sqlbuilder.NewStruct(models.Brand{}).For(r.db.Flavor())
	query, args := s.InsertInto(table, brand).Build()
	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		if !database.IsUniqueViolation(err) {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"brand":           brand.Name,
				"normalized_name": brand.NormalizedName,
			}).Error("Failed to create brand")
		}
		return repositories.StoreError("create brand", err)
	}
	return nil
}
