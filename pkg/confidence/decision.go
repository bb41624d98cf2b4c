// Package confidence turns match scores into resolution decisions and resolves
// the parent, variant and brand rows a decision lands on.
package confidence

import (
	"github.com/Ramsey-B/sprout/pkg/matching"
)

// Kind names a decision variant
type Kind string

const (
	KindAutoMerge     Kind = "auto_merge"
	KindFlagForReview Kind = "flag_for_review"
	KindNewProduct    Kind = "new_product"
)

// Decision is one of AutoMerge, FlagForReview or NewProduct
type Decision interface {
	Kind() Kind
	decision()
}

// AutoMerge resolves the listing onto an existing parent's variant
type AutoMerge struct {
	ParentID       string
	VariantID      string
	VariantCreated bool
	Score          matching.Score
}

// FlagForReview sends the listing to a human. CandidateID is nil when no parent was close enough.
type FlagForReview struct {
	CandidateID *string
	Score       float64
	Reason      string
	// Failed marks a review created because matching itself failed
	Failed bool
}

// NewProduct creates a fresh parent for the listing
type NewProduct struct {
	// BestScore is the closest candidate's score, zero when the pool was empty
	BestScore float64
}

func (AutoMerge) Kind() Kind     { return KindAutoMerge }
func (FlagForReview) Kind() Kind { return KindFlagForReview }
func (NewProduct) Kind() Kind    { return KindNewProduct }

func (AutoMerge) decision()     {}
func (FlagForReview) decision() {}
func (NewProduct) decision()    {}
