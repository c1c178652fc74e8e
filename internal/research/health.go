package research

import (
	"context"

	"shopscout.app/research/internal/model"
)

// Check is the outcome of one self-probe component.
type Check struct {
	Status string         `json:"status"`
	Detail map[string]any `json:"detail,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Health is the coordinator's self-probe report: the circuit state plus a
// dry run of the query builder and the response parser.
type Health struct {
	Status string           `json:"status"`
	Checks map[string]Check `json:"checks"`
}

// HealthCheck probes the research pipeline without touching the upstream
// API: it reports the breaker state, builds a throwaway query, and parses
// an empty response. Failures degrade the report, they never propagate.
func (s *Service) HealthCheck(ctx context.Context) Health {
	h := Health{Status: "healthy", Checks: make(map[string]Check, 3)}

	// The breaker state is reported as-is; the executor health owns the
	// open-circuit issue.
	h.Checks["api_client"] = Check{
		Status: "healthy",
		Detail: map[string]any{"circuit_breaker_state": s.breaker.Stats().State},
	}

	probe := []model.ResearchItem{{
		ProductName: "Test Product",
		Category:    "Test Category",
		PriceExact:  100,
		Currency:    model.DefaultCurrency,
	}}
	if query, err := BuildBatchQuery(probe, s.maxBatch); err != nil {
		h.Status = "degraded"
		h.Checks["query_builder"] = Check{Status: "error", Error: err.Error()}
	} else {
		h.Checks["query_builder"] = Check{
			Status: "healthy",
			Detail: map[string]any{"query_length": len(query)},
		}
	}

	if results := ParseBatchResponse(ctx, "[]", nil, nil); len(results) != 0 {
		h.Status = "degraded"
		h.Checks["response_parser"] = Check{Status: "error", Error: "empty response produced results"}
	} else {
		h.Checks["response_parser"] = Check{
			Status: "healthy",
			Detail: map[string]any{"test_parsing": "success"},
		}
	}

	return h
}

// Status reports the coordinator configuration for the status API.
func (s *Service) Status() map[string]any {
	return map[string]any{
		"model":           s.client.Model(),
		"max_batch_size":  s.maxBatch,
		"circuit_breaker": s.breaker.Stats(),
	}
}
