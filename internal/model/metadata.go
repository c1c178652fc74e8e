package model

import "time"

// CoupangInfo carries the partner-marketplace identifiers captured from the
// input item when building a preview result. The full research call never
// touches these fields.
type CoupangInfo struct {
	ProductID      *int64  `json:"product_id,omitempty"`
	ProductURL     *string `json:"product_url,omitempty"`
	ProductImage   *string `json:"product_image,omitempty"`
	IsRocket       *bool   `json:"is_rocket,omitempty"`
	IsFreeShipping *bool   `json:"is_free_shipping,omitempty"`
	CategoryName   *string `json:"category_name,omitempty"`
	Keyword        *string `json:"keyword,omitempty"`
	Rank           *int    `json:"rank,omitempty"`
}

// TooManyItemsDetail records the rejection that produced a synthetic
// too_many_items result.
type TooManyItemsDetail struct {
	Status     string `json:"status"`
	MaxAllowed int    `json:"max_allowed"`
	Received   int    `json:"received"`
}

// ResultMetadata is the typed metadata vocabulary attached to a result, plus
// an open extension bag for fields with no fixed shape. AvailableFields and
// MissingFields describe partner-field coverage on a preview result; the
// root-level MissingFields on the result itself names research gaps instead.
type ResultMetadata struct {
	CoupangInfo       *CoupangInfo        `json:"coupang_info,omitempty"`
	TooManyItems      *TooManyItemsDetail `json:"too_many_items,omitempty"`
	Preview           bool                `json:"preview,omitempty"`
	ResearchCompleted bool                `json:"research_completed,omitempty"`
	AvailableFields   []string            `json:"available_fields,omitempty"`
	MissingFields     []string            `json:"missing_fields,omitempty"`
	Extra             map[string]any      `json:"extra,omitempty"`
}

func (m ResultMetadata) IsZero() bool {
	return m.CoupangInfo == nil && m.TooManyItems == nil &&
		!m.Preview && !m.ResearchCompleted &&
		len(m.AvailableFields) == 0 && len(m.MissingFields) == 0 &&
		len(m.Extra) == 0
}

// JobMetadata is the typed metadata vocabulary attached to a job.
type JobMetadata struct {
	PreviewEnabled bool           `json:"preview_enabled,omitempty"`
	Cancelled      bool           `json:"cancelled,omitempty"`
	CancelledAt    *time.Time     `json:"cancelled_at,omitempty"`
	Error          *string        `json:"error,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}
