package models

import "time"

// Price is the latest observation of a variant at one dispensary
type Price struct {
	VariantID    string    `json:"variant_id" db:"variant_product_id"`
	DispensaryID string    `json:"dispensary_id" db:"dispensary_id"`
	Amount       float64   `json:"amount" db:"amount"`
	InStock      bool      `json:"in_stock" db:"in_stock"`
	ProductURL   *string   `json:"product_url,omitempty" db:"product_url"`
	LastUpdated  time.Time `json:"last_updated" db:"last_updated"`
}
