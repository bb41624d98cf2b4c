package models

import (
	"encoding/json"
	"strings"
)

// RawListing is one scraped record before resolution
type RawListing struct {
	Name       string          `json:"name"`
	Price      *float64        `json:"price"`
	Brand      string          `json:"brand,omitempty"`
	Category   string          `json:"category,omitempty"`
	THC        *float64        `json:"thc,omitempty"`
	CBD        *float64        `json:"cbd,omitempty"`
	WeightText string          `json:"weight_text,omitempty"`
	URL        string          `json:"url,omitempty"`
	InStock    *bool           `json:"in_stock,omitempty"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}

// HasRequiredFields reports whether the listing carries a name and a price
func (l RawListing) HasRequiredFields() bool {
	return strings.TrimSpace(l.Name) != "" && l.Price != nil
}

// Available defaults to in stock when the scraper did not say otherwise
func (l RawListing) Available() bool {
	return l.InStock == nil || *l.InStock
}
