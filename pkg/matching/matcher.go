// Package matching scores raw listings against candidate parent products
package matching

import (
	"math"
	"sort"

	"github.com/Ramsey-B/sprout/pkg/models"
	"github.com/Ramsey-B/sprout/pkg/normalizers"
)

// Config holds the matcher weights
type Config struct {
	NameWeight  float64
	BrandWeight float64
	// TieEpsilon is the score distance within which candidates are ranked by THC proximity and recency
	TieEpsilon float64
}

// DefaultConfig returns the production weights
func DefaultConfig() Config {
	return Config{
		NameWeight:  0.7,
		BrandWeight: 0.3,
		TieEpsilon:  2.0,
	}
}

// Score is a 0-100 similarity with its components
type Score struct {
	Total float64 `json:"total"`
	Name  float64 `json:"name"`
	Brand float64 `json:"brand"`
	// BrandCompared is false when either side had no brand and the name carried the full weight
	BrandCompared bool `json:"brand_compared"`
}

// Candidate is a scored parent
type Candidate struct {
	Parent models.Parent
	Score  Score
}

// Matcher compares normalized listings with parent products
type Matcher struct {
	scorer *Scorer
	config Config
}

// NewMatcher creates a new Matcher
func NewMatcher(config Config) *Matcher {
	if config.NameWeight <= 0 && config.BrandWeight <= 0 {
		config = DefaultConfig()
	}
	return &Matcher{
		scorer: NewScorer(),
		config: config,
	}
}

type normalizedListing struct {
	name     string
	brand    string
	category string
}

func normalizeListing(name, brand, category string) normalizedListing {
	return normalizedListing{
		name:     normalizers.ProductName(name),
		brand:    normalizers.BrandName(brand),
		category: normalizers.Category(category),
	}
}

// Score computes the similarity between a raw listing and one candidate
func (m *Matcher) Score(raw models.RawListing, candidate models.Parent) Score {
	return m.score(
		normalizeListing(raw.Name, raw.Brand, raw.Category),
		normalizeListing(candidate.Name, candidate.BrandName, candidate.Category),
	)
}

func (m *Matcher) score(raw, candidate normalizedListing) Score {
	var result Score
	if raw.name != "" && candidate.name != "" {
		result.Name = m.scorer.TokenSortRatio(raw.name, candidate.name) * 100
	}

	if raw.brand == "" || candidate.brand == "" {
		result.Total = result.Name
		return result
	}

	result.BrandCompared = true
	result.Brand = m.scorer.Levenshtein(raw.brand, candidate.brand) * 100

	weights := m.config.NameWeight + m.config.BrandWeight
	result.Total = (m.config.NameWeight*result.Name + m.config.BrandWeight*result.Brand) / weights
	return result
}

// Excluded reports whether the categories are both known and disagree
func (m *Matcher) Excluded(raw models.RawListing, candidate models.Parent) bool {
	return excluded(normalizers.Category(raw.Category), normalizers.Category(candidate.Category))
}

func excluded(a, b string) bool {
	return a != "" && b != "" && a != b
}

// Candidates scores every non-excluded parent and ranks them best first.
// Entries within TieEpsilon of their cluster head are ordered by smallest
// THC delta (unknown last), then most recently updated.
func (m *Matcher) Candidates(raw models.RawListing, pool []models.Parent) []Candidate {
	rawNorm := normalizeListing(raw.Name, raw.Brand, raw.Category)

	candidates := make([]Candidate, 0, len(pool))
	for _, parent := range pool {
		parentNorm := normalizeListing(parent.Name, parent.BrandName, parent.Category)
		if excluded(rawNorm.category, parentNorm.category) {
			continue
		}
		candidates = append(candidates, Candidate{Parent: parent, Score: m.score(rawNorm, parentNorm)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score.Total > candidates[j].Score.Total
	})

	for start := 0; start < len(candidates); {
		end := start + 1
		for end < len(candidates) && candidates[start].Score.Total-candidates[end].Score.Total <= m.config.TieEpsilon {
			end++
		}
		cluster := candidates[start:end]
		sort.SliceStable(cluster, func(i, j int) bool {
			di, dj := thcDelta(raw.THC, cluster[i].Parent.THCPercent), thcDelta(raw.THC, cluster[j].Parent.THCPercent)
			if di != dj {
				return di < dj
			}
			return cluster[i].Parent.UpdatedAt.After(cluster[j].Parent.UpdatedAt)
		})
		start = end
	}

	return candidates
}

func thcDelta(a, b *float64) float64 {
	if a == nil || b == nil {
		return math.Inf(1)
	}
	return math.Abs(*a - *b)
}
