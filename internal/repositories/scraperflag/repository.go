package scraperflag

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/sprout/internal/repositories"
	"github.com/Ramsey-B/sprout/pkg/catalog"
	"github.com/Ramsey-B/sprout/pkg/database"
	"github.com/Ramsey-B/sprout/pkg/models"
	"github.com/Ramsey-B/sprout/pkg/tracing"
)

const table = "scraper_flags"

// FlagRow is the persisted shape of a ScraperFlag; JSON columns hold the nested values
type FlagRow struct {
	ID                string                                                    `db:"id" fieldtag:"pk"`
	RunID             *string                                                   `db:"run_id"`
	DispensaryID      string                                                    `db:"dispensary_id"`
	Original          database.JSONB[models.EditableFields]                     `db:"original"`
	Working           database.JSONB[models.EditableFields]                     `db:"working"`
	TagSnapshots      database.JSONB[map[models.IssueTag]models.EditableFields] `db:"tag_snapshots"`
	MatchedProductID  *string                                                   `db:"matched_product_id"`
	ConfidenceScore   float64                                                   `db:"confidence_score"`
	MergeReason       string                                                    `db:"merge_reason"`
	InStock           bool                                                      `db:"in_stock"`
	Status            string                                                    `db:"status"`
	Corrections       database.JSONB[[]models.Correction]                       `db:"corrections"`
	IssueTags         database.JSONB[[]models.IssueTag]                         `db:"issue_tags"`
	ResolvedProductID *string                                                   `db:"resolved_product_id"`
	ResolvedVariantID *string                                                   `db:"resolved_variant_id"`
	ResolvedBy        *string                                                   `db:"resolved_by"`
	ResolvedAt        *time.Time                                                `db:"resolved_at"`
	RawPayload        database.JSONB[json.RawMessage]                           `db:"raw_payload"`
	CreatedAt         time.Time                                                 `db:"created_at"`
	UpdatedAt         time.Time                                                 `db:"updated_at"`
}

func toRow(f *models.ScraperFlag) FlagRow {
	snapshots := f.TagSnapshots
	if snapshots == nil {
		snapshots = map[models.IssueTag]models.EditableFields{}
	}
	corrections := f.Corrections
	if corrections == nil {
		corrections = []models.Correction{}
	}
	tags := f.IssueTags
	if tags == nil {
		tags = []models.IssueTag{}
	}
	payload := f.RawPayload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return FlagRow{
		ID:                f.ID,
		RunID:             f.RunID,
		DispensaryID:      f.DispensaryID,
		Original:          database.NewJSONB(f.Original),
		Working:           database.NewJSONB(f.Working),
		TagSnapshots:      database.NewJSONB(snapshots),
		MatchedProductID:  f.MatchedProductID,
		ConfidenceScore:   f.ConfidenceScore,
		MergeReason:       f.MergeReason,
		InStock:           f.InStock,
		Status:            f.Status,
		Corrections:       database.NewJSONB(corrections),
		IssueTags:         database.NewJSONB(tags),
		ResolvedProductID: f.ResolvedProductID,
		ResolvedVariantID: f.ResolvedVariantID,
		ResolvedBy:        f.ResolvedBy,
		ResolvedAt:        f.ResolvedAt,
		RawPayload:        database.NewJSONB(payload),
		CreatedAt:         f.CreatedAt,
		UpdatedAt:         f.UpdatedAt,
	}
}

func (row FlagRow) toModel() models.ScraperFlag {
	flag := models.ScraperFlag{
		ID:                row.ID,
		RunID:             row.RunID,
		DispensaryID:      row.DispensaryID,
		Original:          row.Original.GetValue(),
		Working:           row.Working.GetValue(),
		TagSnapshots:      row.TagSnapshots.GetValue(),
		MatchedProductID:  row.MatchedProductID,
		ConfidenceScore:   row.ConfidenceScore,
		MergeReason:       row.MergeReason,
		InStock:           row.InStock,
		Status:            row.Status,
		Corrections:       row.Corrections.GetValue(),
		IssueTags:         row.IssueTags.GetValue(),
		ResolvedProductID: row.ResolvedProductID,
		ResolvedVariantID: row.ResolvedVariantID,
		ResolvedBy:        row.ResolvedBy,
		ResolvedAt:        row.ResolvedAt,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
	if payload := row.RawPayload.GetValue(); len(payload) > 0 && string(payload) != "null" {
		flag.RawPayload = payload
	}
	if len(flag.TagSnapshots) == 0 {
		flag.TagSnapshots = nil
	}
	return flag
}

// Repository persists review-queue flags
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

var _ catalog.FlagStore = (*Repository)(nil)

func (r *Repository) structFor() *sqlbuilder.Struct {
	return sqlbuilder.NewStruct(FlagRow{}).For(r.db.Flavor())
}

func (r *Repository) CreateFlag(ctx context.Context, flag *models.ScraperFlag) error {
	ctx, span := tracing.StartSpan(ctx, "scraperflag.Repository.CreateFlag")
	defer span.End()

	row := toRow(flag)
	query, args := r.structFor().InsertInto(table, &row).Build()
	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_id":       flag.ID,
			"dispensary_id": flag.DispensaryID,
		}).Error("Failed to create scraper flag")
		return repositories.StoreError("create flag", err)
	}
	return nil
}

func (r *Repository) GetFlag(ctx context.Context, id string) (*models.ScraperFlag, error) {
	ctx, span := tracing.StartSpan(ctx, "scraperflag.Repository.GetFlag")
	defer span.End()

	sb := r.structFor().SelectFrom(table)
	sb.Where(sb.Equal("id", id))
	return r.get(ctx, sb, id)
}

// GetFlagForUpdate row-locks the flag on Postgres until the transaction ends
func (r *Repository) GetFlagForUpdate(ctx context.Context, id string) (*models.ScraperFlag, error) {
	ctx, span := tracing.StartSpan(ctx, "scraperflag.Repository.GetFlagForUpdate")
	defer span.End()

	sb := r.structFor().SelectFrom(table)
	sb.Where(sb.Equal("id", id))
	return r.get(ctx, database.ForUpdate(sb, r.db.Flavor()), id)
}

func (r *Repository) get(ctx context.Context, sb *sqlbuilder.SelectBuilder, id string) (*models.ScraperFlag, error) {
	query, args := sb.Build()

	var row FlagRow
	if err := database.Executor(ctx, r.db).GetContext(ctx, &row, query, args...); err != nil {
		if !database.IsNoRows(err) {
			r.logger.WithContext(ctx).WithError(err).WithField("flag_id", id).Error("Failed to get scraper flag")
		}
		return nil, repositories.StoreError("get flag", err)
	}
	flag := row.toModel()
	return &flag, nil
}

func (r *Repository) UpdateFlag(ctx context.Context, flag *models.ScraperFlag) error {
	ctx, span := tracing.StartSpan(ctx, "scraperflag.Repository.UpdateFlag")
	defer span.End()

	row := toRow(flag)
	ub := r.structFor().WithoutTag("pk").Update(table, &row)
	ub.Where(ub.Equal("id", flag.ID))
	query, args := ub.Build()

	result, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("flag_id", flag.ID).Error("Failed to update scraper flag")
		return repositories.StoreError("update flag", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return repositories.StoreError("update flag", catalog.ErrNotFound)
	}
	return nil
}

func (r *Repository) ListFlags(ctx context.Context, filter models.FlagFilter) ([]models.ScraperFlag, error) {
	ctx, span := tracing.StartSpan(ctx, "scraperflag.Repository.ListFlags")
	defer span.End()

	sb := r.structFor().SelectFrom(table)
	if filter.Status != "" {
		sb.Where(sb.Equal("status", filter.Status))
	}
	if filter.DispensaryID != "" {
		sb.Where(sb.Equal("dispensary_id", filter.DispensaryID))
	}
	if filter.Since != nil {
		sb.Where(sb.GreaterEqualThan("created_at", *filter.Since))
	}
	sb.OrderBy("created_at", "id")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	query, args := sb.Build()

	var rows []FlagRow
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"status":        filter.Status,
			"dispensary_id": filter.DispensaryID,
		}).Error("Failed to list scraper flags")
		return nil, repositories.StoreError("list flags", err)
	}

	flags := make([]models.ScraperFlag, 0, len(rows))
	for _, row := range rows {
		flags = append(flags, row.toModel())
	}
	return flags, nil
}
