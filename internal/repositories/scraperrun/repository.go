package scraperrun

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

const table = "scraper_runs"

// Repository persists scraper run records
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

var _ catalog.RunStore = (*Repository)(nil)

func (r *Repository) CreateRun(ctx context.Context, run *models.ScraperRun) error {
	ctx, span := tracing.StartSpan(ctx, "scraperrun.Repository.CreateRun")
	defer span.End()

	s := sqlbuilder.NewStruct(models.ScraperRun{}).For(r.db.Flavor())
	query, args := s.InsertInto(table, run).Build()
	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id":        run.ID,
			"dispensary_id": run.DispensaryID,
		}).Error("Failed to create scraper run")
		return repositories.StoreError("create run", err)
	}
	return nil
}

// UpdateRun overwrites status, counters and finish time
func (r *Repository) UpdateRun(ctx context.Context, run *models.ScraperRun) error {
	ctx, span := tracing.StartSpan(ctx, "scraperrun.Repository.UpdateRun")
	defer span.End()

	ub := r.db.Flavor().NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("status", run.Status),
		ub.Assign("finished_at", run.FinishedAt),
		ub.Assign("found", run.Found),
		ub.Assign("processed", run.Processed),
		ub.Assign("flags_created", run.FlagsCreated),
		ub.Assign("auto_merged", run.AutoMerged),
		ub.Assign("new_products", run.NewProducts),
		ub.Assign("errors", run.Errors),
		ub.Assign("parse_errors", run.ParseErrors),
		ub.Assign("match_failures", run.MatchFailures),
		ub.Assign("conflicts", run.Conflicts),
		ub.Assign("error_message", run.ErrorMessage),
	)
	ub.Where(ub.Equal("id", run.ID))
	query, args := ub.Build()

	result, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", run.ID).Error("Failed to update scraper run")
		return repositories.StoreError("update run", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return repositories.StoreError("update run", catalog.ErrNotFound)
	}
	return nil
}

func (r *Repository) GetRun(ctx context.Context, id string) (*models.ScraperRun, error) {
	ctx, span := tracing.StartSpan(ctx, "scraperrun.Repository.GetRun")
	defer span.End()

	s := sqlbuilder.NewStruct(models.ScraperRun{}).For(r.db.Flavor())
	sb := s.SelectFrom(table)
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()

	var run models.ScraperRun
	if err := database.Executor(ctx, r.db).GetContext(ctx, &run, query, args...); err != nil {
		if !database.IsNoRows(err) {
			r.logger.WithContext(ctx).WithError(err).WithField("run_id", id).Error("Failed to get scraper run")
		}
		return nil, repositories.StoreError("get run", err)
	}
	return &run, nil
}
