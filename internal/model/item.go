package model

import "fmt"

const DefaultCurrency = "KRW"

// ResearchItem is the immutable input descriptor for one product in a batch.
// Partner-marketplace fields are optional and only present when the item was
// sourced from the Coupang partner API.
type ResearchItem struct {
	ProductName   string  `json:"product_name"`
	Category      string  `json:"category"`
	PriceExact    float64 `json:"price_exact"`
	Currency      string  `json:"currency"`
	SellerOrStore *string `json:"seller_or_store,omitempty"`

	ProductID      *int64  `json:"product_id,omitempty"`
	ProductImage   *string `json:"product_image,omitempty"`
	ProductURL     *string `json:"product_url,omitempty"`
	IsRocket       *bool   `json:"is_rocket,omitempty"`
	IsFreeShipping *bool   `json:"is_free_shipping,omitempty"`
	CategoryName   *string `json:"category_name,omitempty"`

	Keyword *string `json:"keyword,omitempty"`
	Rank    *int    `json:"rank,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate checks the item invariants: non-empty name and category, non-negative price.
func (i ResearchItem) Validate() error {
	if i.ProductName == "" {
		return fmt.Errorf("product name cannot be empty")
	}
	if i.Category == "" {
		return fmt.Errorf("category cannot be empty")
	}
	if i.PriceExact < 0 {
		return fmt.Errorf("price cannot be negative, got %v", i.PriceExact)
	}
	return nil
}

// HasPartnerData reports whether the item carries Coupang identifiers usable
// for an immediate preview result.
func (i ResearchItem) HasPartnerData() bool {
	return i.ProductID != nil || i.ProductURL != nil || i.ProductImage != nil
}
