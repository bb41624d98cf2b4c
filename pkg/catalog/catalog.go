// Package catalog defines the transactional store the resolution core runs against.
package catalog

import (
	"context"
	"errors"

	"github.com/Ramsey-B/sprout/pkg/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint
	ErrDuplicate = errors.New("duplicate key")
	// ErrConflict is returned when a concurrent transaction blocks this one in a way that cannot resolve (deadlock)
	ErrConflict = errors.New("concurrent transaction conflict")
	// ErrTxClosed is returned when a committed or rolled back transaction is used
	ErrTxClosed = errors.New("transaction already closed")
)

// IsConflict reports whether err is a uniqueness or concurrency conflict the caller can converge from
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicate) || errors.Is(err, ErrConflict)
}

// Store opens transactions
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// BrandStore persists brands. Normalized names are unique.
type BrandStore interface {
	FindBrand(ctx context.Context, normalizedName string) (*models.Brand, error)
	CreateBrand(ctx context.Context, brand *models.Brand) error
}

// ProductStore persists parents and variants. Parent match keys are unique,
// as are (parent, weight label) pairs for variants.
type ProductStore interface {
	ListParents(ctx context.Context) ([]models.Parent, error)
	GetParent(ctx context.Context, id string) (*models.Parent, error)
	FindParentByMatchKey(ctx context.Context, matchKey string) (*models.Parent, error)
	CreateParent(ctx context.Context, parent *models.Parent) error
	ListVariants(ctx context.Context, parentID string) ([]models.Variant, error)
	CreateVariant(ctx context.Context, variant *models.Variant) error
}

// PriceStore persists the latest price per (variant, dispensary)
type PriceStore interface {
	UpsertPrice(ctx context.Context, price *models.Price) error
	GetPrice(ctx context.Context, variantID, dispensaryID string) (*models.Price, error)
}

// FlagStore persists review-queue flags
type FlagStore interface {
	CreateFlag(ctx context.Context, flag *models.ScraperFlag) error
	GetFlag(ctx context.Context, id string) (*models.ScraperFlag, error)
	// GetFlagForUpdate reads a flag and holds it against concurrent reviewers until the transaction ends
	GetFlagForUpdate(ctx context.Context, id string) (*models.ScraperFlag, error)
	UpdateFlag(ctx context.Context, flag *models.ScraperFlag) error
	ListFlags(ctx context.Context, filter models.FlagFilter) ([]models.ScraperFlag, error)
}

// RunStore persists scraper run records
type RunStore interface {
	CreateRun(ctx context.Context, run *models.ScraperRun) error
	UpdateRun(ctx context.Context, run *models.ScraperRun) error
	GetRun(ctx context.Context, id string) (*models.ScraperRun, error)
}

// Tx is one unit of work. Reads see committed data plus this transaction's own
// writes. Savepoint/Flush/RollbackTo bracket individual items inside a run.
type Tx interface {
	BrandStore
	ProductStore
	PriceStore
	FlagStore
	RunStore

	Savepoint(ctx context.Context, name string) error
	// Flush releases the savepoint, keeping its writes visible to later reads in this transaction
	Flush(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
