package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// ScraperFlagStatus constants
const (
	ScraperFlagStatusPending   = "pending"
	ScraperFlagStatusApproved  = "approved"
	ScraperFlagStatusRejected  = "rejected"
	ScraperFlagStatusDismissed = "dismissed"
	ScraperFlagStatusMerged    = "merged"
)

// IssueTag is a reviewer-toggled data-quality defect category
type IssueTag string

const (
	IssueTagWeightInName  IssueTag = "weight-embedded-in-name"
	IssueTagGarbageInName IssueTag = "garbage-in-name"
	IssueTagMissingFields IssueTag = "missing-fields"
	IssueTagWrongCategory IssueTag = "wrong-category"
)

// IssueTags is the closed tag vocabulary in display order
var IssueTags = []IssueTag{IssueTagWeightInName, IssueTagGarbageInName, IssueTagMissingFields, IssueTagWrongCategory}

// Valid reports whether t belongs to the vocabulary
func (t IssueTag) Valid() bool {
	for _, known := range IssueTags {
		if t == known {
			return true
		}
	}
	return false
}

// CorrectionField names a reviewer-editable field
type CorrectionField string

const (
	CorrectionFieldName     CorrectionField = "name"
	CorrectionFieldBrand    CorrectionField = "brand"
	CorrectionFieldCategory CorrectionField = "category"
	CorrectionFieldTHC      CorrectionField = "thc"
	CorrectionFieldCBD      CorrectionField = "cbd"
	CorrectionFieldWeight   CorrectionField = "weight"
	CorrectionFieldPrice    CorrectionField = "price"
	CorrectionFieldURL      CorrectionField = "url"
)

// CorrectionFields lists every editable field in a stable order
var CorrectionFields = []CorrectionField{
	CorrectionFieldName,
	CorrectionFieldBrand,
	CorrectionFieldCategory,
	CorrectionFieldTHC,
	CorrectionFieldCBD,
	CorrectionFieldWeight,
	CorrectionFieldPrice,
	CorrectionFieldURL,
}

// Correction records one reviewer change relative to the scraped value
type Correction struct {
	Field    CorrectionField `json:"field"`
	OldValue string          `json:"old_value"`
	NewValue string          `json:"new_value"`
}

// EditableFields are the listing fields a reviewer may change
type EditableFields struct {
	Name     string   `json:"name"`
	Brand    string   `json:"brand,omitempty"`
	Category string   `json:"category,omitempty"`
	THC      *float64 `json:"thc,omitempty"`
	CBD      *float64 `json:"cbd,omitempty"`
	Weight   string   `json:"weight,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	URL      string   `json:"url,omitempty"`
}

// FieldsFromListing captures a raw listing's editable values verbatim
func FieldsFromListing(l RawListing) EditableFields {
	return EditableFields{
		Name:     l.Name,
		Brand:    l.Brand,
		Category: l.Category,
		THC:      copyFloat(l.THC),
		CBD:      copyFloat(l.CBD),
		Weight:   l.WeightText,
		Price:    copyFloat(l.Price),
		URL:      l.URL,
	}
}

// Clone returns a deep copy
func (f EditableFields) Clone() EditableFields {
	out := f
	out.THC = copyFloat(f.THC)
	out.CBD = copyFloat(f.CBD)
	out.Price = copyFloat(f.Price)
	return out
}

// Value renders one field the way corrections store it
func (f EditableFields) Value(field CorrectionField) string {
	switch field {
	case CorrectionFieldName:
		return f.Name
	case CorrectionFieldBrand:
		return f.Brand
	case CorrectionFieldCategory:
		return f.Category
	case CorrectionFieldTHC:
		return formatFloat(f.THC)
	case CorrectionFieldCBD:
		return formatFloat(f.CBD)
	case CorrectionFieldWeight:
		return f.Weight
	case CorrectionFieldPrice:
		return formatFloat(f.Price)
	case CorrectionFieldURL:
		return f.URL
	}
	return ""
}

// Diff returns one correction per field whose value differs between from and to
func Diff(from, to EditableFields) []Correction {
	var corrections []Correction
	for _, field := range CorrectionFields {
		oldValue, newValue := from.Value(field), to.Value(field)
		if oldValue != newValue {
			corrections = append(corrections, Correction{Field: field, OldValue: oldValue, NewValue: newValue})
		}
	}
	return corrections
}

// ScraperFlag is a review-queue item. Flags are never deleted.
type ScraperFlag struct {
	ID                string                      `json:"id"`
	RunID             *string                     `json:"run_id,omitempty"`
	DispensaryID      string                      `json:"dispensary_id"`
	Original          EditableFields              `json:"original"`
	Working           EditableFields              `json:"working"`
	TagSnapshots      map[IssueTag]EditableFields `json:"tag_snapshots,omitempty"`
	MatchedProductID  *string                     `json:"matched_product_id,omitempty"`
	ConfidenceScore   float64                     `json:"confidence_score"`
	MergeReason       string                      `json:"merge_reason"`
	InStock           bool                        `json:"in_stock"`
	Status            string                      `json:"status"`
	Corrections       []Correction                `json:"corrections"`
	IssueTags         []IssueTag                  `json:"issue_tags"`
	ResolvedProductID *string                     `json:"resolved_product_id,omitempty"`
	ResolvedVariantID *string                     `json:"resolved_variant_id,omitempty"`
	ResolvedBy        *string                     `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time                  `json:"resolved_at,omitempty"`
	RawPayload        json.RawMessage             `json:"raw_payload,omitempty"`
	CreatedAt         time.Time                   `json:"created_at"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}

// HasTag reports whether the tag is currently applied
func (f *ScraperFlag) HasTag(tag IssueTag) bool {
	for _, t := range f.IssueTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never share mutable state with callers
func (f ScraperFlag) Clone() ScraperFlag {
	out := f
	out.Original = f.Original.Clone()
	out.Working = f.Working.Clone()
	if f.TagSnapshots != nil {
		out.TagSnapshots = make(map[IssueTag]EditableFields, len(f.TagSnapshots))
		for tag, snapshot := range f.TagSnapshots {
			out.TagSnapshots[tag] = snapshot.Clone()
		}
	}
	out.Corrections = append([]Correction(nil), f.Corrections...)
	out.IssueTags = append([]IssueTag(nil), f.IssueTags...)
	out.RawPayload = append(json.RawMessage(nil), f.RawPayload...)
	return out
}

// FlagFilter narrows flag listings
type FlagFilter struct {
	Status       string
	DispensaryID string
	Since        *time.Time
	Limit        int
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
