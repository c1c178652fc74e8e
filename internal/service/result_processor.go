package service

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"shopscout.app/research/common/id"
	"shopscout.app/research/internal/model"
)

const (
	// PreviewSource labels the origin of partner-preview results.
	PreviewSource = "쿠팡 파트너스 API"
	// DefaultPreviewSeller is assumed when the item carries no seller.
	DefaultPreviewSeller = "쿠팡"

	callbackTimeout = 10 * time.Second
)

// ResultProcessor turns partner data into preview results, merges full
// research results into them, and delivers the completion callback.
type ResultProcessor struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewResultProcessor(httpClient *http.Client, logger *slog.Logger) *ResultProcessor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: callbackTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultProcessor{
		httpClient: httpClient,
		logger:     logger,
	}
}

// ExtractPreviewResults builds immediate preview results for the items that
// carry partner identifiers. Items without any partner data contribute
// nothing; no external call is made.
func (p *ResultProcessor) ExtractPreviewResults(ctx context.Context, items []model.ResearchItem) []model.ResearchResult {
	results := make([]model.ResearchResult, 0, len(items))
	for _, item := range items {
		if r, ok := p.extractPreview(ctx, item); ok {
			results = append(results, r)
		}
	}

	p.logger.InfoContext(ctx, "extracted partner preview results",
		"previews", len(results),
		"items", len(items),
	)
	return results
}

func (p *ResultProcessor) extractPreview(ctx context.Context, item model.ResearchItem) (model.ResearchResult, bool) {
	var available, missing []string
	track := func(field string, ok bool) {
		if ok {
			available = append(available, field)
		} else {
			missing = append(missing, field)
		}
	}
	track("product_id", item.ProductID != nil)
	track("product_url", item.ProductURL != nil)
	track("product_image", item.ProductImage != nil)

	if len(available) == 0 {
		return model.ResearchResult{}, false
	}

	r := model.NewResult(id.New(), item)
	r.Status = model.ResultStatusPreview
	r.CapturedAt = time.Now().UTC().Format("2006-01-02 15:04:05")
	r.Sources = []string{PreviewSource}

	seller := DefaultPreviewSeller
	if item.SellerOrStore != nil && *item.SellerOrStore != "" {
		seller = *item.SellerOrStore
	}
	r.SellerOrStore = &seller

	if item.ProductURL != nil {
		r.DeeplinkOrProductURL = item.ProductURL
	}
	if item.PriceExact > 0 {
		price := item.PriceExact
		r.CoupangPrice = &price
	}

	r.Metadata = model.ResultMetadata{
		CoupangInfo: &model.CoupangInfo{
			ProductID:      item.ProductID,
			ProductURL:     item.ProductURL,
			ProductImage:   item.ProductImage,
			IsRocket:       item.IsRocket,
			IsFreeShipping: item.IsFreeShipping,
			CategoryName:   item.CategoryName,
			Keyword:        item.Keyword,
			Rank:           item.Rank,
		},
		Preview:         true,
		AvailableFields: available,
		MissingFields:   missing,
	}

	if len(missing) > 0 {
		p.logger.InfoContext(ctx, "partial partner data for preview",
			"product", item.ProductName,
			"available", available,
			"missing", missing,
		)
	}

	return r, true
}

// MergeResearchResults overlays full research results onto the job's existing
// results positionally; indexes past the existing list are appended. The
// overlay is a deterministic overwrite, so replaying the same results leaves
// the job unchanged. Counters are recomputed afterwards.
func (p *ResultProcessor) MergeResearchResults(ctx context.Context, job *model.ResearchJob, results []model.ResearchResult) {
	p.logger.InfoContext(ctx, "merging research results into previews",
		"job_id", job.ID,
		"research_results", len(results),
		"existing_results", len(job.Results),
	)

	for i, r := range results {
		if i < len(job.Results) {
			mergeIntoPreview(&job.Results[i], r)
		} else {
			job.AddResult(r)
		}
	}

	job.RecountResults()
}

// mergeIntoPreview overwrites the research-derived fields of a preview while
// preserving the partner fields (URL, price, image) the research call does
// not provide.
func mergeIntoPreview(preview *model.ResearchResult, full model.ResearchResult) {
	preview.Brand = full.Brand
	preview.ModelOrVariant = full.ModelOrVariant
	preview.Specs = full.Specs
	preview.Reviews = full.Reviews
	preview.Sources = appendNewSources(preview.Sources, full.Sources)
	preview.Status = full.Status
	preview.CapturedAt = full.CapturedAt

	if preview.Metadata.CoupangInfo != nil {
		preview.Metadata.ResearchCompleted = true
	} else {
		preview.Metadata = full.Metadata
	}

	if full.ErrorMessage != nil {
		preview.ErrorMessage = full.ErrorMessage
	}
	if len(full.MissingFields) > 0 {
		preview.MissingFields = full.MissingFields
	}
	if len(full.SuggestedQueries) > 0 {
		preview.SuggestedQueries = full.SuggestedQueries
	}
}

// appendNewSources appends the incoming sources not already present, keeping
// the preview's partner source first. Re-merging cannot duplicate entries.
func appendNewSources(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		seen[s] = struct{}{}
	}
	for _, s := range incoming {
		if _, ok := seen[s]; ok {
			continue
		}
		existing = append(existing, s)
		seen[s] = struct{}{}
	}
	return existing
}

// ExecuteCallback delivers the final job representation to the job's callback
// URL. Best effort: failures are logged, never surfaced.
func (p *ResultProcessor) ExecuteCallback(ctx context.Context, job *model.ResearchJob) {
	if job.CallbackURL == nil || *job.CallbackURL == "" {
		return
	}

	body, err := json.Marshal(job)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to marshal callback payload", "error", err, "job_id", job.ID)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *job.CallbackURL, bytes.NewReader(body))
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to build callback request", "error", err, "job_id", job.ID)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.ErrorContext(ctx, "callback request failed", "error", err, "job_id", job.ID)
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusMultipleChoices {
		p.logger.WarnContext(ctx, "callback returned non-success status", "status", resp.StatusCode, "job_id", job.ID)
		return
	}

	p.logger.InfoContext(ctx, "callback delivered", "job_id", job.ID)
}
