// Package catalogstore implements catalog.Store on top of the SQL repositories.
package catalogstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sprout/internal/repositories"
	"github.com/Ramsey-B/sprout/internal/repositories/brand"
	"github.com/Ramsey-B/sprout/internal/repositories/price"
	"github.com/Ramsey-B/sprout/internal/repositories/product"
	"github.com/Ramsey-B/sprout/internal/repositories/scraperflag"
	"github.com/Ramsey-B/sprout/internal/repositories/scraperrun"
	"github.com/Ramsey-B/sprout/pkg/catalog"
	"github.com/Ramsey-B/sprout/pkg/database"
	"github.com/Ramsey-B/sprout/pkg/models"
	"github.com/Ramsey-B/sprout/pkg/tracing"
)

// insertSavepoint guards unique inserts so a violation leaves the transaction usable
const insertSavepoint = "sprout_unique_insert"

type Store struct {
	db       database.DB
	logger   ectologger.Logger
	brands   *brand.Repository
	products *product.Repository
	prices   *price.Repository
	flags    *scraperflag.Repository
	runs     *scraperrun.Repository
}

func NewStore(db database.DB, logger ectologger.Logger) *Store {
	return &Store{
		db:       db,
		logger:   logger,
		brands:   brand.NewRepository(db, logger),
		products: product.NewRepository(db, logger),
		prices:   price.NewRepository(db, logger),
		flags:    scraperflag.NewRepository(db, logger),
		runs:     scraperrun.NewRepository(db, logger),
	}
}

var _ catalog.Store = (*Store)(nil)

// Begin opens a database transaction. Cancelling ctx rolls it back.
func (s *Store) Begin(ctx context.Context) (catalog.Tx, error) {
	ctx, span := tracing.StartSpan(ctx, "catalogstore.Store.Begin")
	defer span.End()

	raw, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to begin catalog transaction")
		return nil, repositories.StoreError("begin", err)
	}
	return &Tx{store: s, tx: database.NewTx(raw, s.logger)}, nil
}

// Tx routes every repository call through one database transaction
type Tx struct {
	store *Store
	tx    *database.Transaction
}

var _ catalog.Tx = (*Tx)(nil)

func (t *Tx) bind(ctx context.Context) (context.Context, error) {
	if !t.tx.IsOpen() {
		return ctx, catalog.ErrTxClosed
	}
	return database.WithTx(ctx, t.tx), nil
}

// guarded runs insert inside a savepoint, rolling back to it on failure
func (t *Tx) guarded(ctx context.Context, insert func(context.Context) error) error {
	ctx, err := t.bind(ctx)
	if err != nil {
		return err
	}
	if err := t.tx.Savepoint(ctx, insertSavepoint); err != nil {
		return repositories.StoreError("savepoint", err)
	}
	if insertErr := insert(ctx); insertErr != nil {
		if err := t.tx.RollbackToSavepoint(ctx, insertSavepoint); err != nil {
			return repositories.StoreError("rollback insert", err)
		}
		if err := t.tx.ReleaseSavepoint(ctx, insertSavepoint); err != nil {
			return repositories.StoreError("release insert", err)
		}
		return insertErr
	}
	if err := t.tx.ReleaseSavepoint(ctx, insertSavepoint); err != nil {
		return repositories.StoreError("release insert", err)
	}
	return nil
}

func (t *Tx) FindBrand(ctx context.Context, normalizedName string) (*models.Brand, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}
	return t.store.brands.FindBrand(ctx, normalizedName)
}

func (t *Tx) CreateBrand(ctx context.Context, b *models.Brand) error {
	return t.guarded(ctx, func(ctx context.Context) error {
		return t.store.brands.CreateBrand(ctx, b)
	})
}

func (t *Tx) ListParents(ctx context.Context) ([]models.Parent, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}
	return t.store.products.ListParents(ctx)
}

func (t *Tx) GetParent(ctx context.Context, id string) (*models.Parent, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}
	return t.store.products.GetParent(ctx, id)
}

func (t *Tx) FindParentByMatchKey(ctx context.Context, matchKey string) (*models.Parent, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}
	return t.store.products.FindParentByMatchKey(ctx, matchKey)
}

func (t *Tx) CreateParent(ctx context.Context, parent *models.Parent) error {
	return t.guarded(ctx, func(ctx context.Context) error {
		return t.store.products.CreateParent(ctx, parent)
	})
}

func (t *Tx) ListVariants(ctx context.Context, parentID string) ([]models.Variant, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}
	return t.store.products.ListVariants(ctx, parentID)
}

func (t *Tx) CreateVariant(ctx context.Context, variant *models.Variant) error {
	return t.guarded(ctx, func(ctx context.Context) error {
		return t.store.products.CreateVariant(ctx, variant)
	})
}

func (t *Tx) UpsertPrice(ctx context.Context, p *models.Price) error {
	return t.guarded(ctx, func(ctx context.Context) error {
		return t.store.prices.UpsertPrice(ctx, p)
	})
}

func (t *Tx) GetPrice(ctx context.Context, variantID, dispensaryID string) (*models.Price, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}
	return t.store.prices.GetPrice(ctx, variantID, dispensaryID)
}

func (t *Tx) CreateFlag(ctx context.Context, flag *models.ScraperFlag) error {
	ctx, err := t.bind(ctx)
	if err != nil {
		return err
	}
	return t.store.flags.CreateFlag(ctx, flag)
}

func (t *Tx) GetFlag(ctx context.Context, id string) (*models.ScraperFlag, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}
	return t.store.flags.GetFlag(ctx, id)
}

func (t *Tx) GetFlagForUpdate(ctx context.Context, id string) (*models.ScraperFlag, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}
	return t.store.flags.GetFlagForUpdate(ctx, id)
}

func (t *Tx) UpdateFlag(ctx context.Context, flag *models.ScraperFlag) error {
	ctx, err := t.bind(ctx)
	if err != nil {
		return err
	}
	return t.store.flags.UpdateFlag(ctx, flag)
}

func (t *Tx) ListFlags(ctx context.Context, filter models.FlagFilter) ([]models.ScraperFlag, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}
	return t.store.flags.ListFlags(ctx, filter)
}

func (t *Tx) CreateRun(ctx context.Context, run *models.ScraperRun) error {
	ctx, err := t.bind(ctx)
	if err != nil {
		return err
	}
	return t.store.runs.CreateRun(ctx, run)
}

func (t *Tx) UpdateRun(ctx context.Context, run *models.ScraperRun) error {
	ctx, err := t.bind(ctx)
	if err != nil {
		return err
	}
	return t.store.runs.UpdateRun(ctx, run)
}

func (t *Tx) GetRun(ctx context.Context, id string) (*models.ScraperRun, error) {
	ctx, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}
	return t.store.runs.GetRun(ctx, id)
}

func (t *Tx) Savepoint(ctx context.Context, name string) error {
	ctx, err := t.bind(ctx)
	if err != nil {
		return err
	}
	return repositories.StoreError("savepoint", t.tx.Savepoint(ctx, name))
}

func (t *Tx) Flush(ctx context.Context, name string) error {
	ctx, err := t.bind(ctx)
	if err != nil {
		return err
	}
	return repositories.StoreError("release savepoint", t.tx.ReleaseSavepoint(ctx, name))
}

func (t *Tx) RollbackTo(ctx context.Context, name string) error {
	ctx, err := t.bind(ctx)
	if err != nil {
		return err
	}
	return repositories.StoreError("rollback to savepoint", t.tx.RollbackToSavepoint(ctx, name))
}

func (t *Tx) Commit(ctx context.Context) error {
	if !t.tx.IsOpen() {
		return catalog.ErrTxClosed
	}
	return repositories.StoreError("commit", t.tx.Commit(ctx))
}

// Rollback is a no-op once the transaction is closed, including when database/sql
// already rolled it back because the begin context was cancelled.
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
