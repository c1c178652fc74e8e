package dto

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"shopscout.app/research/internal/model"
)

// ProductItemRequest is one product in a research batch. The partner fields
// are optional and only meaningful when the item was picked from the Coupang
// partner API; they feed the preview path and are otherwise carried through
// untouched.
type ProductItemRequest struct {
	ProductName   string  `json:"product_name" binding:"required,min=1,max=500"`
	Category      string  `json:"category" binding:"required,min=1,max=100"`
	PriceExact    float64 `json:"price_exact" binding:"required,gt=0"`
	Currency      string  `json:"currency" binding:"omitempty,oneof=KRW USD EUR JPY CNY"`
	SellerOrStore *string `json:"seller_or_store,omitempty" binding:"omitempty,max=200"`

	ProductID      *int64  `json:"product_id,omitempty"`
	ProductImage   *string `json:"product_image,omitempty"`
	ProductURL     *string `json:"product_url,omitempty"`
	IsRocket       *bool   `json:"is_rocket,omitempty"`
	IsFreeShipping *bool   `json:"is_free_shipping,omitempty"`
	CategoryName   *string `json:"category_name,omitempty"`

	Keyword *string `json:"keyword,omitempty"`
	Rank    *int    `json:"rank,omitempty" binding:"omitempty,min=1"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// ProductResearchRequest is the batch create payload. The batch-size upper
// bound is enforced in the handler so it can answer with a dedicated error
// code instead of a generic binding failure.
type ProductResearchRequest struct {
	Items       []ProductItemRequest `json:"items" binding:"required,min=1,dive"`
	Priority    int                  `json:"priority" binding:"omitempty,min=1,max=10"`
	CallbackURL *string              `json:"callback_url,omitempty"`
}

func ToResearchItem(req ProductItemRequest) model.ResearchItem {
	currency := req.Currency
	if currency == "" {
		currency = model.DefaultCurrency
	}
	return model.ResearchItem{
		ProductName:    req.ProductName,
		Category:       req.Category,
		PriceExact:     req.PriceExact,
		Currency:       currency,
		SellerOrStore:  req.SellerOrStore,
		ProductID:      req.ProductID,
		ProductImage:   req.ProductImage,
		ProductURL:     req.ProductURL,
		IsRocket:       req.IsRocket,
		IsFreeShipping: req.IsFreeShipping,
		CategoryName:   req.CategoryName,
		Keyword:        req.Keyword,
		Rank:           req.Rank,
		Metadata:       req.Metadata,
	}
}

func ToResearchItems(reqs []ProductItemRequest) []model.ResearchItem {
	items := make([]model.ResearchItem, len(reqs))
	for i, req := range reqs {
		items[i] = ToResearchItem(req)
	}
	return items
}

// CoupangInfoResponse surfaces the partner identifiers of a preview result.
type CoupangInfoResponse struct {
	ProductID      *int64  `json:"product_id,omitempty"`
	ProductURL     *string `json:"product_url,omitempty"`
	ProductImage   *string `json:"product_image,omitempty"`
	IsRocket       *bool   `json:"is_rocket,omitempty"`
	IsFreeShipping *bool   `json:"is_free_shipping,omitempty"`
	CategoryName   *string `json:"category_name,omitempty"`
	ProductPrice   float64 `json:"product_price"`
}

type ProductResultResponse struct {
	ProductName          string               `json:"product_name"`
	Brand                string               `json:"brand"`
	Category             string               `json:"category"`
	ModelOrVariant       string               `json:"model_or_variant"`
	PriceExact           float64              `json:"price_exact"`
	Currency             string               `json:"currency"`
	SellerOrStore        *string              `json:"seller_or_store,omitempty"`
	DeeplinkOrProductURL *string              `json:"deeplink_or_product_url,omitempty"`
	CoupangPrice         *float64             `json:"coupang_price,omitempty"`
	CoupangInfo          *CoupangInfoResponse `json:"coupang_info,omitempty"`
	Specs                model.ProductSpecs   `json:"specs"`
	Reviews              model.ProductReviews `json:"reviews"`
	Sources              []string             `json:"sources"`
	CapturedAt           string               `json:"captured_at"`
	Status               string               `json:"status"`
	ErrorMessage         *string              `json:"error_message,omitempty"`
	MissingFields        []string             `json:"missing_fields,omitempty"`
	SuggestedQueries     []string             `json:"suggested_queries,omitempty"`
}

type ResearchMetadataResponse struct {
	TotalItems       int        `json:"total_items"`
	SuccessfulItems  int        `json:"successful_items"`
	FailedItems      int        `json:"failed_items"`
	SuccessRate      float64    `json:"success_rate"`
	ProcessingTimeMS *int64     `json:"processing_time_ms,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

type ProductResearchResponse struct {
	JobID    uuid.UUID                `json:"job_id"`
	Status   string                   `json:"status"`
	Results  []ProductResultResponse  `json:"results"`
	Metadata ResearchMetadataResponse `json:"metadata"`
}

// ToProductResultResponse maps a stored result onto the wire shape. The
// internal result metadata never leaves the server; withPartnerInfo lifts
// the partner identifiers out of it for the immediate preview response.
func ToProductResultResponse(r model.ResearchResult, withPartnerInfo bool) ProductResultResponse {
	resp := ProductResultResponse{
		ProductName:          r.ProductName,
		Brand:                r.Brand,
		Category:             r.Category,
		ModelOrVariant:       r.ModelOrVariant,
		PriceExact:           r.PriceExact,
		Currency:             r.Currency,
		SellerOrStore:        r.SellerOrStore,
		DeeplinkOrProductURL: r.DeeplinkOrProductURL,
		CoupangPrice:         r.CoupangPrice,
		Specs:                r.Specs,
		Reviews:              r.Reviews,
		Sources:              r.Sources,
		CapturedAt:           r.CapturedAt,
		Status:               string(r.Status),
		ErrorMessage:         r.ErrorMessage,
		MissingFields:        r.MissingFields,
		SuggestedQueries:     r.SuggestedQueries,
	}
	if withPartnerInfo && r.Metadata.CoupangInfo != nil {
		info := r.Metadata.CoupangInfo
		resp.CoupangInfo = &CoupangInfoResponse{
			ProductID:      info.ProductID,
			ProductURL:     info.ProductURL,
			ProductImage:   info.ProductImage,
			IsRocket:       info.IsRocket,
			IsFreeShipping: info.IsFreeShipping,
			CategoryName:   info.CategoryName,
			ProductPrice:   r.PriceExact,
		}
	}
	return resp
}

func ToProductResearchResponse(job *model.ResearchJob, withPartnerInfo bool) ProductResearchResponse {
	results := make([]ProductResultResponse, len(job.Results))
	for i, r := range job.Results {
		results[i] = ToProductResultResponse(r, withPartnerInfo)
	}
	return ProductResearchResponse{
		JobID:   job.ID,
		Status:  string(job.Status),
		Results: results,
		Metadata: ResearchMetadataResponse{
			TotalItems:       job.TotalItems,
			SuccessfulItems:  job.SuccessfulItems,
			FailedItems:      job.FailedItems,
			SuccessRate:      job.SuccessRate(),
			ProcessingTimeMS: job.ProcessingTimeMS,
			CreatedAt:        job.CreatedAt,
			UpdatedAt:        job.UpdatedAt,
			StartedAt:        job.StartedAt,
			CompletedAt:      job.CompletedAt,
		},
	}
}

type JobStatusResponse struct {
	JobID    uuid.UUID      `json:"job_id"`
	Status   string         `json:"status"`
	Progress float64        `json:"progress"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func ToJobStatusResponse(job *model.ResearchJob) JobStatusResponse {
	processed := job.SuccessfulItems + job.FailedItems
	return JobStatusResponse{
		JobID:    job.ID,
		Status:   string(job.Status),
		Progress: job.Progress(),
		Message:  fmt.Sprintf("%d개 중 %d개 처리 완료", job.TotalItems, processed),
		Metadata: map[string]any{
			"total":      job.TotalItems,
			"successful": job.SuccessfulItems,
			"failed":     job.FailedItems,
		},
	}
}
