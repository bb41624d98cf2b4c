package catalog

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/sprout/pkg/models"
)

// CandidatePool caches the parents known to one run. It is created per run
// and is not safe for concurrent use.
type CandidatePool struct {
	parents []models.Parent
	byID    map[string]int
}

// NewCandidatePool builds a pool from parents
func NewCandidatePool(parents []models.Parent) *CandidatePool {
	p := &CandidatePool{
		byID: make(map[string]int, len(parents)),
	}
	for _, parent := range parents {
		p.Add(parent)
	}
	return p
}

// LoadPool reads every parent once
func LoadPool(ctx context.Context, store ProductStore) (*CandidatePool, error) {
	parents, err := store.ListParents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate pool: %w", err)
	}
	return NewCandidatePool(parents), nil
}

// Add inserts or replaces a parent
func (p *CandidatePool) Add(parent models.Parent) {
	if i, ok := p.byID[parent.ID]; ok {
		p.parents[i] = parent
	} else {
		p.byID[parent.ID] = len(p.parents)
		p.parents = append(p.parents, parent)
	}
}

// Parents returns the cached parents
func (p *CandidatePool) Parents() []models.Parent {
	return p.parents
}

// Len returns the number of cached parents
func (p *CandidatePool) Len() int {
	return len(p.parents)
}
