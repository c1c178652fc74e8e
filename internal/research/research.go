// Package research implements the product research flow against the
// Perplexity API: prompt construction, the circuit-protected call, and
// parsing of the model's answer into research results.
package research

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shopscout.app/research/common/id"
	"shopscout.app/research/common/llm"
	"shopscout.app/research/internal/breaker"
	"shopscout.app/research/internal/model"
)

const (
	// ServiceName keys the circuit breaker guarding the research API.
	ServiceName = "perplexity_api"
	// DefaultMaxBatchSize bounds the number of items in one research call.
	DefaultMaxBatchSize = 10
	// defaultTemperature keeps completions factual.
	defaultTemperature = 0.1
)

// Korean user-facing messages for expected business outcomes.
const (
	TooManyItemsMessage        = "요청한 아이템 수가 최대 허용 개수를 초과했습니다."
	InsufficientSourcesMessage = "충분한 정보 소스를 찾을 수 없습니다."
)

// BreakerConfig returns the circuit tuning for the research API. The slow
// call threshold tracks the request timeout so a hung request counts as
// a failure.
func BreakerConfig(requestTimeout time.Duration) breaker.Config {
	slow := requestTimeout
	if slow <= 0 {
		slow = 30 * time.Second
	}
	return breaker.Config{
		FailureThreshold:     3,
		SuccessThreshold:     2,
		Timeout:              120 * time.Second,
		MaxFailuresPerWindow: 5,
		Window:               300 * time.Second,
		SlowCallThreshold:    slow,
		ErrorRateThreshold:   0.6,
	}
}

// Service coordinates one research batch end to end: size validation, query
// building, the guarded API call, and response parsing.
type Service struct {
	client   llm.Client
	breaker  *breaker.CircuitBreaker
	logger   *slog.Logger
	maxBatch int
}

func New(client llm.Client, cb *breaker.CircuitBreaker, maxBatchSize int, logger *slog.Logger) *Service {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &Service{
		client:   client,
		breaker:  cb,
		logger:   logger,
		maxBatch: maxBatchSize,
	}
}

func (s *Service) MaxBatchSize() int { return s.maxBatch }

// Breaker exposes the guarding circuit breaker for health reporting.
func (s *Service) Breaker() *breaker.CircuitBreaker { return s.breaker }

func (s *Service) Model() string { return s.client.Model() }

// ResearchProducts researches a batch of products. Expected outcomes come
// back as result statuses, never as errors: an oversized batch yields a
// single too_many_items result without any outbound call, and an upstream
// failure yields an error result per item. The error return is reserved for
// empty input.
func (s *Service) ResearchProducts(ctx context.Context, items []model.ResearchItem) ([]model.ResearchResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("items list cannot be empty")
	}

	if len(items) > s.maxBatch {
		s.logger.WarnContext(ctx, "batch size exceeds maximum", "batch_size", len(items), "max_batch_size", s.maxBatch)
		return []model.ResearchResult{s.tooManyItemsResult(len(items))}, nil
	}

	query, err := BuildBatchQuery(items, s.maxBatch)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "starting product research", "items", len(items), "model", s.client.Model(), "query_chars", len(query))

	var resp *llm.Response
	callErr := s.breaker.Call(ctx, func(ctx context.Context) error {
		var chatErr error
		resp, chatErr = s.client.Chat(ctx, llm.Request{
			Prompt:      query,
			MaxTokens:   llm.DefaultMaxTokens,
			Temperature: llm.Temp(defaultTemperature),
		})
		return chatErr
	})
	if callErr != nil {
		s.logger.ErrorContext(ctx, "research call failed", "error", callErr, "items", len(items))
		return errorResults(items, fmt.Sprintf("Research failed: %v", callErr)), nil
	}

	results := ParseBatchResponse(ctx, resp.Content, resp.Citations, items)

	stats := Statistics(results)
	s.logger.InfoContext(ctx, "research completed",
		"total", stats.Total,
		"successful", stats.Successful,
		"insufficient_sources", stats.InsufficientSources,
		"errors", stats.Errors,
		"success_rate", stats.SuccessRate)

	return results, nil
}

// ResearchSingle researches one product.
func (s *Service) ResearchSingle(ctx context.Context, item model.ResearchItem) (model.ResearchResult, error) {
	results, err := s.ResearchProducts(ctx, []model.ResearchItem{item})
	if err != nil {
		return model.ResearchResult{}, err
	}
	if len(results) == 0 {
		r := model.NewResult(id.New(), item)
		r.MarkError(missingResultMessage)
		return r, nil
	}
	return results[0], nil
}

func (s *Service) tooManyItemsResult(received int) model.ResearchResult {
	r := newEmptyResult()
	r.Status = model.ResultStatusTooManyItems
	msg := TooManyItemsMessage
	r.ErrorMessage = &msg
	r.Metadata.TooManyItems = &model.TooManyItemsDetail{
		Status:     string(model.ResultStatusTooManyItems),
		MaxAllowed: s.maxBatch,
		Received:   received,
	}
	return r
}
