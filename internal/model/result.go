package model

import "time"

type ResultStatus string

const (
	ResultStatusPending             ResultStatus = "pending"
	ResultStatusSuccess             ResultStatus = "success"
	ResultStatusError               ResultStatus = "error"
	ResultStatusInsufficientSources ResultStatus = "insufficient_sources"
	ResultStatusTooManyItems        ResultStatus = "too_many_items"
	ResultStatusPreview             ResultStatus = "preview"
)

// MinSourcesRequired is the minimum number of source URLs a result needs
// before it can be marked successful.
const MinSourcesRequired = 3

type SpecAttribute struct {
	Name  string  `json:"name"`
	Value string  `json:"value"`
	Unit  *string `json:"unit,omitempty"`
}

type ProductSpecs struct {
	Main          []string        `json:"main,omitempty"`
	Attributes    []SpecAttribute `json:"attributes,omitempty"`
	SizeOrWeight  *string         `json:"size_or_weight,omitempty"`
	Options       []string        `json:"options,omitempty"`
	IncludedItems []string        `json:"included_items,omitempty"`
}

type NotableReview struct {
	Source string   `json:"source"`
	Quote  string   `json:"quote"`
	URL    *string  `json:"url,omitempty"`
	Rating *float64 `json:"rating,omitempty"`
}

// ProductReviews aggregates review evidence. RatingAvg is always on a 5-point
// scale; the parser normalizes 100-point and 10-point scales before storing.
type ProductReviews struct {
	RatingAvg       float64         `json:"rating_avg"`
	ReviewCount     int             `json:"review_count"`
	SummaryPositive []string        `json:"summary_positive,omitempty"`
	SummaryNegative []string        `json:"summary_negative,omitempty"`
	NotableReviews  []NotableReview `json:"notable_reviews,omitempty"`
}

// ResearchResult is one item's outcome. Identity fields are copied from the
// input item; enrichment fields are filled by the parser or the preview
// extractor. Expected business outcomes (too many items, insufficient
// sources) are status variants, never errors.
type ResearchResult struct {
	ID                   int64          `json:"id"`
	ProductName          string         `json:"product_name"`
	Brand                string         `json:"brand"`
	Category             string         `json:"category"`
	ModelOrVariant       string         `json:"model_or_variant"`
	PriceExact           float64        `json:"price_exact"`
	Currency             string         `json:"currency"`
	SellerOrStore        *string        `json:"seller_or_store,omitempty"`
	DeeplinkOrProductURL *string        `json:"deeplink_or_product_url,omitempty"`
	CoupangPrice         *float64       `json:"coupang_price,omitempty"`
	Specs                ProductSpecs   `json:"specs"`
	Reviews              ProductReviews `json:"reviews"`
	Sources              []string       `json:"sources"`
	CapturedAt           string         `json:"captured_at"`
	Status               ResultStatus   `json:"status"`
	ErrorMessage         *string        `json:"error_message,omitempty"`
	MissingFields        []string       `json:"missing_fields,omitempty"`
	SuggestedQueries     []string       `json:"suggested_queries,omitempty"`
	Metadata             ResultMetadata `json:"metadata,omitempty"`
}

// NewResult creates a pending result seeded with the item's identity fields.
func NewResult(id int64, item ResearchItem) ResearchResult {
	return ResearchResult{
		ID:          id,
		ProductName: item.ProductName,
		Category:    item.Category,
		PriceExact:  item.PriceExact,
		Currency:    item.Currency,
		CapturedAt:  time.Now().UTC().Format("2006-01-02"),
		Status:      ResultStatusPending,
	}
}

func (r *ResearchResult) MarkSuccess() {
	r.Status = ResultStatusSuccess
	r.ErrorMessage = nil
	r.MissingFields = nil
	r.SuggestedQueries = nil
}

func (r *ResearchResult) MarkError(msg string) {
	r.Status = ResultStatusError
	r.ErrorMessage = &msg
}

func (r *ResearchResult) MarkInsufficientSources(missingFields, suggestedQueries []string) {
	r.Status = ResultStatusInsufficientSources
	r.MissingFields = missingFields
	r.SuggestedQueries = suggestedQueries
}

// IsValid reports whether the result satisfies the success invariant:
// positive rating, positive review count, and at least MinSourcesRequired sources.
func (r *ResearchResult) IsValid() bool {
	return r.Status == ResultStatusSuccess &&
		r.Reviews.RatingAvg > 0 &&
		r.Reviews.ReviewCount > 0 &&
		len(r.Sources) >= MinSourcesRequired
}
