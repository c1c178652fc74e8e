package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"shopscout.app/research/common/id"
	"shopscout.app/research/internal/model"
)

const (
	parseFailureMessage  = "Failed to parse API response"
	missingResultMessage = "No result returned from API"
)

// requiredReviewFields are reported as missing when a result lacks usable
// review data.
var requiredReviewFields = []string{"rating_avg", "review_count"}

// ParseBatchResponse turns the model's completion into one result per input
// item, in input order. A response that cannot be decoded yields error
// results for every item; a single error object yields one synthetic result;
// a short array is padded with error results; extra entries are dropped.
func ParseBatchResponse(ctx context.Context, content string, citations []string, items []model.ResearchItem) []model.ResearchResult {
	parsed, ok := extractJSON(content)
	if !ok {
		slog.ErrorContext(ctx, "failed to extract JSON from API response", "content_chars", len(content))
		return errorResults(items, parseFailureMessage)
	}

	if obj, isObj := parsed.(map[string]any); isObj && isErrorResponse(obj) {
		return handleErrorResponse(obj)
	}

	entries, isArray := parsed.([]any)
	if !isArray {
		slog.ErrorContext(ctx, "unexpected response shape", "type", fmt.Sprintf("%T", parsed))
		return errorResults(items, parseFailureMessage)
	}

	if len(entries) > len(items) {
		slog.WarnContext(ctx, "response has more items than requested", "got", len(entries), "want", len(items))
	}

	results := make([]model.ResearchResult, 0, len(items))
	for i, item := range items {
		if i >= len(entries) {
			r := model.NewResult(id.New(), item)
			r.MarkError(missingResultMessage)
			results = append(results, r)
			continue
		}
		data, isObj := entries[i].(map[string]any)
		if !isObj {
			r := model.NewResult(id.New(), item)
			r.MarkError(parseFailureMessage)
			results = append(results, r)
			continue
		}
		results = append(results, parseSingleResult(data, item))
	}

	addCitations(results, citations)
	return results
}

// extractJSON strips markdown code fences the model sometimes wraps the
// payload in, then decodes it.
func extractJSON(content string) (any, bool) {
	if idx := strings.Index(content, "```json"); idx >= 0 {
		content = content[idx+len("```json"):]
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	} else if idx := strings.Index(content, "```"); idx >= 0 {
		content = content[idx+3:]
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	}

	var parsed any
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

func isErrorResponse(obj map[string]any) bool {
	status, _ := asString(obj["status"])
	return status == string(model.ResultStatusTooManyItems) ||
		status == string(model.ResultStatusInsufficientSources)
}

// handleErrorResponse maps a top-level error object to a single synthetic
// result carrying the rejection detail.
func handleErrorResponse(obj map[string]any) []model.ResearchResult {
	status, _ := asString(obj["status"])

	r := newEmptyResult()
	if status == string(model.ResultStatusTooManyItems) {
		r.Status = model.ResultStatusTooManyItems
		msg := TooManyItemsMessage
		r.ErrorMessage = &msg
		maxAllowed, _ := asInt(obj["max_allowed"])
		received, _ := asInt(obj["received"])
		r.Metadata.TooManyItems = &model.TooManyItemsDetail{
			Status:     status,
			MaxAllowed: maxAllowed,
			Received:   received,
		}
		return []model.ResearchResult{r}
	}

	r.MarkError(fmt.Sprintf("API returned error: %s", status))
	r.Metadata.Extra = obj
	return []model.ResearchResult{r}
}

func parseSingleResult(data map[string]any, item model.ResearchItem) model.ResearchResult {
	r := model.NewResult(id.New(), item)
	if v, ok := asString(data["product_name"]); ok {
		r.ProductName = v
	}
	if v, ok := asString(data["category"]); ok {
		r.Category = v
	}
	if v, ok := asFloat(data["price_exact"]); ok {
		r.PriceExact = v
	}
	if v, ok := asString(data["currency"]); ok {
		r.Currency = v
	}

	// The model reports per-item failures inline with a status field.
	if status, _ := asString(data["status"]); status == string(model.ResultStatusInsufficientSources) {
		missing := asStringSlice(data["missing_fields"])
		if missing == nil {
			missing = slices.Clone(requiredReviewFields)
		}
		r.MarkInsufficientSources(missing, asStringSlice(data["suggested_queries"]))
		return r
	}

	if v, ok := asString(data["brand"]); ok {
		r.Brand = v
	}
	if v, ok := asString(data["model_or_variant"]); ok {
		r.ModelOrVariant = v
	}
	if v, ok := asString(data["seller_or_store"]); ok {
		r.SellerOrStore = &v
	}
	if v, ok := asString(data["deeplink_or_product_url"]); ok {
		r.DeeplinkOrProductURL = &v
	}
	if v, ok := asFloat(data["coupang_price"]); ok {
		r.CoupangPrice = &v
	}
	if v, ok := asString(data["captured_at"]); ok {
		r.CapturedAt = v
	}

	r.Specs = parseSpecs(data["specs"])
	r.Reviews = parseReviews(data["reviews"])
	r.Sources = asStringSlice(data["sources"])

	validateResult(&r)
	return r
}

func parseSpecs(v any) model.ProductSpecs {
	data, ok := v.(map[string]any)
	if !ok {
		return model.ProductSpecs{}
	}

	specs := model.ProductSpecs{
		Main:          asStringSlice(data["main"]),
		SizeOrWeight:  asOptString(data["size_or_weight"]),
		Options:       asStringSlice(data["options"]),
		IncludedItems: asStringSlice(data["included_items"]),
	}

	rawAttrs, _ := data["attributes"].([]any)
	for _, raw := range rawAttrs {
		attr, isObj := raw.(map[string]any)
		if !isObj {
			continue
		}
		name, nameOK := asScalarString(attr["name"])
		value, valueOK := asScalarString(attr["value"])
		if !nameOK || !valueOK {
			continue
		}
		specs.Attributes = append(specs.Attributes, model.SpecAttribute{
			Name:  name,
			Value: value,
			Unit:  asOptString(attr["unit"]),
		})
	}
	return specs
}

func parseReviews(v any) model.ProductReviews {
	data, ok := v.(map[string]any)
	if !ok {
		return model.ProductReviews{}
	}

	reviews := model.ProductReviews{
		SummaryPositive: asStringSlice(data["summary_positive"]),
		SummaryNegative: asStringSlice(data["summary_negative"]),
	}
	if rating, ok := asFloat(data["rating_avg"]); ok {
		reviews.RatingAvg = normalizeRating(rating)
	}
	if count, ok := asInt(data["review_count"]); ok {
		reviews.ReviewCount = count
	}

	rawNotable, _ := data["notable_reviews"].([]any)
	for _, raw := range rawNotable {
		nr, isObj := raw.(map[string]any)
		if !isObj {
			continue
		}
		quote, ok := asString(nr["text"])
		if !ok {
			quote, _ = asString(nr["quote"])
		}
		source, _ := asString(nr["source"])

		review := model.NotableReview{Source: source, Quote: quote}
		if url, ok := asString(nr["source_url"]); ok {
			review.URL = &url
		} else if url, ok := asString(nr["url"]); ok {
			review.URL = &url
		}
		if rating, ok := asFloat(nr["rating"]); ok {
			review.Rating = &rating
		}
		reviews.NotableReviews = append(reviews.NotableReviews, review)
	}
	return reviews
}

// normalizeRating converts ratings the model failed to rescale onto the
// 5-point scale: above 10 is read as a 100-point score, above 5 as a
// 10-point score. Converted values are rounded to one decimal.
func normalizeRating(rating float64) float64 {
	switch {
	case rating > 10:
		rating /= 20
	case rating > 5:
		rating /= 2
	default:
		return rating
	}
	return math.Round(rating*10) / 10
}

// validateResult settles the final status: usable review data means success,
// anything else is an insufficient-sources outcome with retry queries the
// caller can surface.
func validateResult(r *model.ResearchResult) {
	if r.Reviews.RatingAvg > 0 && r.Reviews.ReviewCount > 0 {
		r.MarkSuccess()
		return
	}
	r.MarkInsufficientSources(
		slices.Clone(requiredReviewFields),
		[]string{
			strings.TrimSpace(r.Brand + " " + r.ModelOrVariant + " 리뷰"),
			r.ProductName + " 평점",
		},
	)
}

// addCitations tops up results that came back with fewer than the minimum
// number of sources, using the provider's citation list.
func addCitations(results []model.ResearchResult, citations []string) {
	if len(citations) == 0 {
		return
	}
	for i := range results {
		r := &results[i]
		if len(r.Sources) >= model.MinSourcesRequired {
			continue
		}
		needed := model.MinSourcesRequired - len(r.Sources)
		if needed > len(citations) {
			needed = len(citations)
		}
		r.Sources = append(r.Sources, citations[:needed]...)
	}
}

func errorResults(items []model.ResearchItem, msg string) []model.ResearchResult {
	results := make([]model.ResearchResult, 0, len(items))
	for _, item := range items {
		r := model.NewResult(id.New(), item)
		r.MarkError(msg)
		results = append(results, r)
	}
	return results
}

func newEmptyResult() model.ResearchResult {
	return model.ResearchResult{
		ID:         id.New(),
		Currency:   model.DefaultCurrency,
		CapturedAt: time.Now().UTC().Format("2006-01-02"),
		Status:     model.ResultStatusPending,
	}
}

// Stats summarizes a parsed batch for logging and job bookkeeping.
type Stats struct {
	Total               int     `json:"total"`
	Successful          int     `json:"successful"`
	InsufficientSources int     `json:"insufficient_sources"`
	Errors              int     `json:"errors"`
	TooManyItems        int     `json:"too_many_items"`
	SuccessRate         float64 `json:"success_rate"`
}

func Statistics(results []model.ResearchResult) Stats {
	s := Stats{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case model.ResultStatusSuccess:
			s.Successful++
		case model.ResultStatusInsufficientSources:
			s.InsufficientSources++
		case model.ResultStatusError:
			s.Errors++
		case model.ResultStatusTooManyItems:
			s.TooManyItems++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.Total)
	}
	return s
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func asOptString(v any) *string {
	if s, ok := asString(v); ok {
		return &s
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// asStringSlice normalizes the string-or-array variance in model output:
// a bare string becomes a single-element slice.
func asStringSlice(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// asScalarString renders spec attribute values that may arrive as numbers.
func asScalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
