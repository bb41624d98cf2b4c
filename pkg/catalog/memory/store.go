// Package memory is an in-process catalog.Store with read-committed visibility.
// Unique keys are reserved by the first transaction that writes them; a second
// transaction writing the same key waits until the owner commits or rolls back.
package memory

import (
	"context"
	"sync"

	"github.com/Ramsey-B/sprout/pkg/catalog"
	"github.com/Ramsey-B/sprout/pkg/models"
)

type priceKey struct {
	variantID    string
	dispensaryID string
}

type dataset struct {
	brands   map[string]models.Brand
	parents  map[string]models.Parent
	variants map[string]models.Variant
	prices   map[priceKey]models.Price
	flags    map[string]models.ScraperFlag
	runs     map[string]models.ScraperRun
	// unique key -> row id
	keys map[string]string
}

func newDataset() *dataset {
	return &dataset{
		brands:   make(map[string]models.Brand),
		parents:  make(map[string]models.Parent),
		variants: make(map[string]models.Variant),
		prices:   make(map[priceKey]models.Price),
		flags:    make(map[string]models.ScraperFlag),
		runs:     make(map[string]models.ScraperRun),
		keys:     make(map[string]string),
	}
}

func (d *dataset) clone() *dataset {
	out := newDataset()
	for k, v := range d.brands {
		out.brands[k] = v
	}
	for k, v := range d.parents {
		out.parents[k] = v
	}
	for k, v := range d.variants {
		out.variants[k] = v
	}
	for k, v := range d.prices {
		out.prices[k] = v
	}
	for k, v := range d.flags {
		out.flags[k] = v.Clone()
	}
	for k, v := range d.runs {
		out.runs[k] = v
	}
	for k, v := range d.keys {
		out.keys[k] = v
	}
	return out
}

// mergeInto copies every row of d over target
func (d *dataset) mergeInto(target *dataset) {
	for k, v := range d.brands {
		target.brands[k] = v
	}
	for k, v := range d.parents {
		target.parents[k] = v
	}
	for k, v := range d.variants {
		target.variants[k] = v
	}
	for k, v := range d.prices {
		target.prices[k] = v
	}
	for k, v := range d.flags {
		target.flags[k] = v
	}
	for k, v := range d.runs {
		target.runs[k] = v
	}
	for k, v := range d.keys {
		target.keys[k] = v
	}
}

// Store is the shared committed state
type Store struct {
	mu   sync.Mutex
	cond *sync.Cond
	data *dataset
	// reservation key -> owning transaction
	owners map[string]*Tx
	// waiting transaction -> transaction it waits for
	waits map[*Tx]*Tx
}

// NewStore creates an empty store
func NewStore() *Store {
	s := &Store{
		data:   newDataset(),
		owners: make(map[string]*Tx),
		waits:  make(map[*Tx]*Tx),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

var _ catalog.Store = (*Store)(nil)

// Begin opens a transaction
func (s *Store) Begin(ctx context.Context) (catalog.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{
		store:    s,
		writes:   newDataset(),
		reserved: make(map[string]bool),
	}, nil
}

// deadlocks reports whether tx waiting on owner would close a wait cycle
func (s *Store) deadlocks(tx, owner *Tx) bool {
	seen := make(map[*Tx]bool)
	for cur := owner; cur != nil && !seen[cur]; cur = s.waits[cur] {
		if cur == tx {
			return true
		}
		seen[cur] = true
	}
	return false
}

func (s *Store) release(tx *Tx, key string) {
	if s.owners[key] == tx {
		delete(s.owners, key)
	}
	delete(tx.reserved, key)
}
