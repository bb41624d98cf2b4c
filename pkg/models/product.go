package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidProductRole is returned when a product row violates the parent/variant invariants
var ErrInvalidProductRole = errors.New("invalid product role")

// Parent is the canonical catalog product, independent of package size
type Parent struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	BrandID    *string   `json:"brand_id,omitempty"`
	BrandName  string    `json:"brand_name,omitempty"`
	Category   string    `json:"category,omitempty"`
	THCPercent *float64  `json:"thc_percent,omitempty"`
	CBDPercent *float64  `json:"cbd_percent,omitempty"`
	MatchKey   string    `json:"match_key"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Variant is one package size of a Parent. Prices attach to variants only.
type Variant struct {
	ID          string    `json:"id"`
	ParentID    string    `json:"parent_id"`
	Weight      string    `json:"weight"`
	WeightGrams *float64  `json:"weight_grams,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Unspecified reports whether this is the parent's unknown-weight variant
func (v Variant) Unspecified() bool {
	return v.WeightGrams == nil
}

// ProductRecord is the persisted shape of a product row. Both roles share the
// products table; AsParent and AsVariant enforce the role invariants on read.
type ProductRecord struct {
	ID              string    `db:"id"`
	Name            string    `db:"name"`
	BrandID         *string   `db:"brand_id"`
	BrandName       *string   `db:"brand_name"`
	Category        *string   `db:"category"`
	THCPercent      *float64  `db:"thc_percent"`
	CBDPercent      *float64  `db:"cbd_percent"`
	IsMaster        bool      `db:"is_master"`
	MasterProductID *string   `db:"master_product_id"`
	Weight          *string   `db:"weight"`
	WeightGrams     *float64  `db:"weight_grams"`
	MatchKey        *string   `db:"match_key"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// AsParent converts the record into a Parent
func (r ProductRecord) AsParent() (Parent, error) {
	if !r.IsMaster || r.MasterProductID != nil || r.Weight != nil {
		return Parent{}, fmt.Errorf("%w: product %s is not a parent", ErrInvalidProductRole, r.ID)
	}
	return Parent{
		ID:         r.ID,
		Name:       r.Name,
		BrandID:    r.BrandID,
		BrandName:  deref(r.BrandName),
		Category:   deref(r.Category),
		THCPercent: r.THCPercent,
		CBDPercent: r.CBDPercent,
		MatchKey:   deref(r.MatchKey),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

// AsVariant converts the record into a Variant
func (r ProductRecord) AsVariant() (Variant, error) {
	if r.IsMaster || r.MasterProductID == nil || *r.MasterProductID == "" || r.Weight == nil {
		return Variant{}, fmt.Errorf("%w: product %s is not a variant", ErrInvalidProductRole, r.ID)
	}
	return Variant{
		ID:          r.ID,
		ParentID:    *r.MasterProductID,
		Weight:      *r.Weight,
		WeightGrams: r.WeightGrams,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

// ParentRecord builds the row for a parent
func ParentRecord(p Parent) ProductRecord {
	return ProductRecord{
		ID:         p.ID,
		Name:       p.Name,
		BrandID:    p.BrandID,
		Category:   optional(p.Category),
		THCPercent: p.THCPercent,
		CBDPercent: p.CBDPercent,
		IsMaster:   true,
		MatchKey:   optional(p.MatchKey),
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

// VariantRecord builds the row for a variant. Name is copied from the parent for display.
func VariantRecord(v Variant, parent Parent) ProductRecord {
	weight := v.Weight
	parentID := v.ParentID
	return ProductRecord{
		ID:              v.ID,
		Name:            parent.Name,
		BrandID:         parent.BrandID,
		Category:        optional(parent.Category),
		IsMaster:        false,
		MasterProductID: &parentID,
		Weight:          &weight,
		WeightGrams:     v.WeightGrams,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
