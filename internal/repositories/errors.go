// Package repositories holds helpers shared by the SQL repositories.
package repositories

import (
	"fmt"

	"github.com/Ramsey-B/sprout/pkg/catalog"
	"github.com/Ramsey-B/sprout/pkg/database"
)

// StoreError maps a driver error onto the catalog error vocabulary
func StoreError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case database.IsNoRows(err), database.IsForeignKeyViolation(err):
		return fmt.Errorf("%s: %w", op, catalog.ErrNotFound)
	case database.IsUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, catalog.ErrDuplicate)
	case database.IsConcurrencyFailure(err):
		return fmt.Errorf("%s: %w", op, catalog.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
