package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/Ramsey-B/sprout/pkg/catalog"
	"github.com/Ramsey-B/sprout/pkg/models"
)

type savepoint struct {
	name     string
	writes   *dataset
	reserved map[string]bool
}

// Tx buffers writes until Commit
type Tx struct {
	store      *Store
	writes     *dataset
	reserved   map[string]bool
	savepoints []savepoint
	closed     bool
}

var _ catalog.Tx = (*Tx)(nil)

func brandKey(normalizedName string) string { return "brand:" + normalizedName }
func parentKey(matchKey string) string      { return "parent:" + matchKey }
func variantKey(parentID, weight string) string {
	return "variant:" + parentID + "|" + weight
}
func flagLockKey(id string) string { return "flag:" + id }

// lock acquires s.mu and fails if the transaction is closed
func (tx *Tx) lock() error {
	tx.store.mu.Lock()
	if tx.closed {
		tx.store.mu.Unlock()
		return catalog.ErrTxClosed
	}
	return nil
}

func (tx *Tx) unlock() {
	tx.store.mu.Unlock()
}

// reserve takes ownership of key, waiting while another open transaction holds it.
// Must be called with s.mu held.
func (tx *Tx) reserve(ctx context.Context, key string) error {
	s := tx.store
	for {
		owner := s.owners[key]
		if owner == nil || owner == tx {
			s.owners[key] = tx
			tx.reserved[key] = true
			return nil
		}
		if s.deadlocks(tx, owner) {
			return fmt.Errorf("%w: waiting on %s", catalog.ErrConflict, key)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		stop := context.AfterFunc(ctx, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		s.waits[tx] = owner
		s.cond.Wait()
		delete(s.waits, tx)
		stop()
	}
}

// claim reserves a unique key that is about to be written.
// Must be called with s.mu held.
func (tx *Tx) claim(ctx context.Context, key string) error {
	s := tx.store
	if _, ok := tx.writes.keys[key]; ok {
		return fmt.Errorf("%w: %s", catalog.ErrDuplicate, key)
	}
	if _, ok := s.data.keys[key]; ok {
		return fmt.Errorf("%w: %s", catalog.ErrDuplicate, key)
	}

	held := tx.reserved[key]
	if err := tx.reserve(ctx, key); err != nil {
		return err
	}
	if _, ok := s.data.keys[key]; ok {
		if !held {
			s.release(tx, key)
		}
		return fmt.Errorf("%w: %s", catalog.ErrDuplicate, key)
	}
	return nil
}

func (tx *Tx) lookupKey(key string) (string, bool) {
	if id, ok := tx.writes.keys[key]; ok {
		return id, true
	}
	id, ok := tx.store.data.keys[key]
	return id, ok
}

// Savepoint marks the current write set
func (tx *Tx) Savepoint(ctx context.Context, name string) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()

	reserved := make(map[string]bool, len(tx.reserved))
	for k := range tx.reserved {
		reserved[k] = true
	}
	tx.savepoints = append(tx.savepoints, savepoint{name: name, writes: tx.writes.clone(), reserved: reserved})
	return nil
}

func (tx *Tx) findSavepoint(name string) (int, error) {
	for i := len(tx.savepoints) - 1; i >= 0; i-- {
		if tx.savepoints[i].name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("savepoint %q does not exist", name)
}

// Flush releases the savepoint; its writes stay visible inside the transaction
func (tx *Tx) Flush(ctx context.Context, name string) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()

	i, err := tx.findSavepoint(name)
	if err != nil {
		return err
	}
	tx.savepoints = tx.savepoints[:i]
	return nil
}

// RollbackTo discards writes made after the savepoint and frees their key reservations
func (tx *Tx) RollbackTo(ctx context.Context, name string) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()

	i, err := tx.findSavepoint(name)
	if err != nil {
		return err
	}
	sp := tx.savepoints[i]
	for key := range tx.reserved {
		if !sp.reserved[key] {
			tx.store.release(tx, key)
		}
	}
	tx.writes = sp.writes.clone()
	for key := range sp.reserved {
		tx.reserved[key] = true
	}
	tx.savepoints = tx.savepoints[:i+1]
	tx.store.cond.Broadcast()
	return nil
}

// Commit publishes the write set
func (tx *Tx) Commit(ctx context.Context) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()

	tx.writes.mergeInto(tx.store.data)
	tx.close()
	return nil
}

// Rollback discards the write set. Rolling back a closed transaction is a no-op.
func (tx *Tx) Rollback(ctx context.Context) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.closed {
		return nil
	}
	tx.close()
	return nil
}

func (tx *Tx) close() {
	for key := range tx.reserved {
		tx.store.release(tx, key)
	}
	tx.closed = true
	tx.writes = newDataset()
	tx.savepoints = nil
	tx.store.cond.Broadcast()
}

// FindBrand returns a brand by normalized name
func (tx *Tx) FindBrand(ctx context.Context, normalizedName string) (*models.Brand, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()

	id, ok := tx.lookupKey(brandKey(normalizedName))
	if !ok {
		return nil, catalog.ErrNotFound
	}
	brand, ok := tx.writes.brands[id]
	if !ok {
		brand = tx.store.data.brands[id]
	}
	return &brand, nil
}

// CreateBrand inserts a brand
func (tx *Tx) CreateBrand(ctx context.Context, brand *models.Brand) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()

	key := brandKey(brand.NormalizedName)
	if err := tx.claim(ctx, key); err != nil {
		return err
	}
	tx.writes.brands[brand.ID] = *brand
	tx.writes.keys[key] = brand.ID
	return nil
}

// ListParents returns every visible parent ordered by creation
func (tx *Tx) ListParents(ctx context.Context) ([]models.Parent, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()

	merged := make(map[string]models.Parent, len(tx.store.data.parents)+len(tx.writes.parents))
	for id, p := range tx.store.data.parents {
		merged[id] = p
	}
	for id, p := range tx.writes.parents {
		merged[id] = p
	}

	parents := make([]models.Parent, 0, len(merged))
	for _, p := range merged {
		parents = append(parents, p)
	}
	sort.Slice(parents, func(i, j int) bool {
		if !parents[i].CreatedAt.Equal(parents[j].CreatedAt) {
			return parents[i].CreatedAt.Before(parents[j].CreatedAt)
		}
		return parents[i].ID < parents[j].ID
	})
	return parents, nil
}

func (tx *Tx) parent(id string) (models.Parent, bool) {
	if p, ok := tx.writes.parents[id]; ok {
		return p, true
	}
	p, ok := tx.store.data.parents[id]
	return p, ok
}

// GetParent returns a parent by id
func (tx *Tx) GetParent(ctx context.Context, id string) (*models.Parent, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()

	p, ok := tx.parent(id)
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

// FindParentByMatchKey returns the parent owning a match key
func (tx *Tx) FindParentByMatchKey(ctx context.Context, matchKey string) (*models.Parent, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()

	id, ok := tx.lookupKey(parentKey(matchKey))
	if !ok {
		return nil, catalog.ErrNotFound
	}
	p, ok := tx.parent(id)
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

// CreateParent inserts a parent, blocking while another transaction holds its match key
func (tx *Tx) CreateParent(ctx context.Context, parent *models.Parent) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()

	key := parentKey(parent.MatchKey)
	if err := tx.claim(ctx, key); err != nil {
		return err
	}
	tx.writes.parents[parent.ID] = *parent
	tx.writes.keys[key] = parent.ID
	return nil
}

// ListVariants returns a parent's variants ordered by creation
func (tx *Tx) ListVariants(ctx context.Context, parentID string) ([]models.Variant, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()

	merged := make(map[string]models.Variant)
	for id, v := range tx.store.data.variants {
		if v.ParentID == parentID {
			merged[id] = v
		}
	}
	for id, v := range tx.writes.variants {
		if v.ParentID == parentID {
			merged[id] = v
		}
	}

	variants := make([]models.Variant, 0, len(merged))
	for _, v := range merged {
		variants = append(variants, v)
	}
	sort.Slice(variants, func(i, j int) bool {
		if !variants[i].CreatedAt.Equal(variants[j].CreatedAt) {
			return variants[i].CreatedAt.Before(variants[j].CreatedAt)
		}
		return variants[i].ID < variants[j].ID
	})
	return variants, nil
}

// CreateVariant inserts a variant under an existing parent
func (tx *Tx) CreateVariant(ctx context.Context, variant *models.Variant) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()

	if _, ok := tx.parent(variant.ParentID); !ok {
		return fmt.Errorf("parent %s: %w", variant.ParentID, catalog.ErrNotFound)
	}
	key := variantKey(variant.ParentID, variant.Weight)
	if err := tx.claim(ctx, key); err != nil {
		return err
	}
	tx.writes.variants[variant.ID] = *variant
	tx.writes.keys[key] = variant.ID
	return nil
}

// UpsertPrice overwrites the (variant, dispensary) price row
func (tx *Tx) UpsertPrice(ctx context.Context, price *models.Price) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()

	_, inTx := tx.writes.variants[price.VariantID]
	_, committed := tx.store.data.variants[price.VariantID]
	if !inTx && !committed {
		return fmt.Errorf("variant %s: %w", price.VariantID, catalog.ErrNotFound)
	}
	tx.writes.prices[priceKey{price.VariantID, price.DispensaryID}] = *price
	return nil
}

// GetPrice returns the price row for a variant at a dispensary
func (tx *Tx) GetPrice(ctx context.Context, variantID, dispensaryID string) (*models.Price, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()

	key := priceKey{variantID, dispensaryID}
	if p, ok := tx.writes.prices[key]; ok {
		return &p, nil
	}
	if p, ok := tx.store.data.prices[key]; ok {
		return &p, nil
	}
	return nil, catalog.ErrNotFound
}

// CreateFlag inserts a flag
func (tx *Tx) CreateFlag(ctx context.Context, flag *models.ScraperFlag) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()

	if _, ok := tx.flag(flag.ID); ok {
		return fmt.Errorf("%w: flag %s", catalog.ErrDuplicate, flag.ID)
	}
	tx.writes.flags[flag.ID] = flag.Clone()
	return nil
}

func (tx *Tx) flag(id string) (models.ScraperFlag, bool) {
	if f, ok := tx.writes.flags[id]; ok {
		return f, true
	}
	f, ok := tx.store.data.flags[id]
	return f, ok
}

// GetFlag returns a flag by id
func (tx *Tx) GetFlag(ctx context.Context, id string) (*models.ScraperFlag, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()

	f, ok := tx.flag(id)
	if !ok {
		return nil, catalog.ErrNotFound
	}
	out := f.Clone()
	return &out, nil
}

// GetFlagForUpdate locks the flag for the rest of the transaction, then reads it
func (tx *Tx) GetFlagForUpdate(ctx context.Context, id string) (*models.ScraperFlag, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()

	if err := tx.reserve(ctx, flagLockKey(id)); err != nil {
		return nil, err
	}
	f, ok := tx.flag(id)
	if !ok {
		return nil, catalog.ErrNotFound
	}
	out := f.Clone()
	return &out, nil
}

// UpdateFlag replaces an existing flag
func (tx *Tx) UpdateFlag(ctx context.Context, flag *models.ScraperFlag) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()

	if _, ok := tx.flag(flag.ID); !ok {
		return catalog.ErrNotFound
	}
	tx.writes.flags[flag.ID] = flag.Clone()
	return nil
}

// ListFlags returns visible flags matching the filter ordered by creation
func (tx *Tx) ListFlags(ctx context.Context, filter models.FlagFilter) ([]models.ScraperFlag, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()

	merged := make(map[string]models.ScraperFlag)
	for id, f := range tx.store.data.flags {
		merged[id] = f
	}
	for id, f := range tx.writes.flags {
		merged[id] = f
	}

	flags := make([]models.ScraperFlag, 0, len(merged))
	for _, f := range merged {
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		if filter.DispensaryID != "" && f.DispensaryID != filter.DispensaryID {
			continue
		}
		if filter.Since != nil && f.CreatedAt.Before(*filter.Since) {
			continue
		}
		flags = append(flags, f.Clone())
	}
	sort.Slice(flags, func(i, j int) bool {
		if !flags[i].CreatedAt.Equal(flags[j].CreatedAt) {
			return flags[i].CreatedAt.Before(flags[j].CreatedAt)
		}
		return flags[i].ID < flags[j].ID
	})
	if filter.Limit > 0 && len(flags) > filter.Limit {
		flags = flags[:filter.Limit]
	}
	return flags, nil
}

// CreateRun inserts a run record
func (tx *Tx) CreateRun(ctx context.Context, run *models.ScraperRun) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()

	tx.writes.runs[run.ID] = *run
	return nil
}

// UpdateRun replaces a run record
func (tx *Tx) UpdateRun(ctx context.Context, run *models.ScraperRun) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()

	if _, ok := tx.writes.runs[run.ID]; !ok {
		if _, ok := tx.store.data.runs[run.ID]; !ok {
			return catalog.ErrNotFound
		}
	}
	tx.writes.runs[run.ID] = *run
	return nil
}

// GetRun returns a run record
func (tx *Tx) GetRun(ctx context.Context, id string) (*models.ScraperRun, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()

	if run, ok := tx.writes.runs[id]; ok {
		return &run, nil
	}
	if run, ok := tx.store.data.runs[id]; ok {
		return &run, nil
	}
	return nil, catalog.ErrNotFound
}
