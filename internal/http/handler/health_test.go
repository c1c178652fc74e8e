package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"shopscout.app/research/internal/breaker"
	"shopscout.app/research/internal/http/handler"
	"shopscout.app/research/internal/research"
	"shopscout.app/research/internal/service"
	"shopscout.app/research/internal/store"
)

var _ = Describe("HealthHandler", func() {
	var (
		router       *gin.Engine
		registry     *breaker.Registry
		orchestrator *mockOrchestrator
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		registry = breaker.NewRegistry(discardLogger())
		orchestrator = &mockOrchestrator{}
		h := handler.NewHealthHandler(registry, orchestrator)

		rg := router.Group("/api/v1/health")
		rg.GET("", h.Health)
		rg.GET("/status", h.Status)
		rg.GET("/circuit-breakers", h.CircuitBreakers)
		rg.POST("/circuit-breakers/reset", h.ResetCircuitBreakers)
		rg.GET("/ready", h.Ready)
		rg.GET("/live", h.Live)
	})

	Describe("Health", func() {
		It("reports healthy while every breaker is closed", func() {
			registry.GetOrCreate(research.ServiceName, breaker.DefaultConfig())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["status"]).To(Equal("healthy"))
			Expect(resp).NotTo(HaveKey("issues"))

			services := resp["services"].(map[string]any)
			Expect(services["api"].(map[string]any)["status"]).To(Equal("healthy"))
			Expect(services["external_apis"].(map[string]any)).To(HaveKey(research.ServiceName))
		})

		It("degrades when a breaker is open", func() {
			cb := registry.GetOrCreate(research.ServiceName, breaker.DefaultConfig())
			cb.ForceOpen(context.Background())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["status"]).To(Equal("degraded"))

			issues := resp["issues"].([]any)
			Expect(issues).To(HaveLen(1))

			issue := issues[0].(map[string]any)
			Expect(issue["service"]).To(Equal(research.ServiceName))
			Expect(issue["status"]).To(Equal("circuit_open"))
			Expect(issue).To(HaveKey("time_until_retry"))
		})

		It("warns on an elevated error rate before the breaker trips", func() {
			cb := registry.GetOrCreate(research.ServiceName, breaker.DefaultConfig())
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				Expect(cb.Call(ctx, func(context.Context) error { return nil })).To(Succeed())
			}
			boom := errors.New("upstream timeout")
			for i := 0; i < 2; i++ {
				Expect(cb.Call(ctx, func(context.Context) error { return boom })).To(MatchError(boom))
			}
			Expect(cb.State()).To(Equal(breaker.StateClosed))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["status"]).To(Equal("warning"))

			issue := resp["issues"].([]any)[0].(map[string]any)
			Expect(issue["status"]).To(Equal("high_error_rate"))
			Expect(issue["error_rate"]).To(BeNumerically("==", 0.4))
		})
	})

	Describe("Status", func() {
		It("returns the aggregated system status", func() {
			orchestrator.systemStatusFn = func(context.Context) (*service.SystemStatus, error) {
				return &service.SystemStatus{
					JobStatistics:  &store.JobStatistics{Total: 12, Completed: 9, Failed: 1},
					ExecutorStatus: map[string]breaker.Stats{},
					ActiveTasks:    2,
					Services:       map[string]string{"redis": "connected"},
				}, nil
			}

			req := httptest.NewRequest(http.MethodGet, "/api/v1/health/status", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["active_tasks"]).To(Equal(float64(2)))

			stats := resp["job_statistics"].(map[string]any)
			Expect(stats["total"]).To(Equal(float64(12)))
			Expect(stats["completed"]).To(Equal(float64(9)))
		})

		It("returns 500 when the status collection fails", func() {
			orchestrator.systemStatusFn = func(context.Context) (*service.SystemStatus, error) {
				return nil, errors.New("database unreachable")
			}

			req := httptest.NewRequest(http.MethodGet, "/api/v1/health/status", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("CircuitBreakers", func() {
		It("summarizes breaker states", func() {
			registry.GetOrCreate(research.ServiceName, breaker.DefaultConfig())
			other := registry.GetOrCreate("callback_delivery", breaker.DefaultConfig())
			other.ForceOpen(context.Background())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/health/circuit-breakers", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["circuit_breakers"].(map[string]any)).To(HaveLen(2))

			summary := resp["summary"].(map[string]any)
			Expect(summary["total_services"]).To(Equal(float64(2)))
			Expect(summary["healthy"]).To(Equal(float64(1)))
			Expect(summary["failed"]).To(Equal(float64(1)))
			Expect(summary["degraded"]).To(Equal(float64(0)))
		})
	})

	Describe("ResetCircuitBreakers", func() {
		It("closes every breaker", func() {
			cb := registry.GetOrCreate(research.ServiceName, breaker.DefaultConfig())
			cb.ForceOpen(context.Background())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/health/circuit-breakers/reset", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(cb.State()).To(Equal(breaker.StateClosed))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["message"]).To(ContainSubstring("reset to CLOSED"))
		})
	})

	Describe("Ready", func() {
		It("returns 200 while the research upstream is reachable", func() {
			registry.GetOrCreate(research.ServiceName, breaker.DefaultConfig())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["ready"]).To(BeTrue())
			Expect(resp["healthy_services"]).To(Equal(float64(1)))
		})

		It("returns 503 while a critical breaker is open", func() {
			cb := registry.GetOrCreate(research.ServiceName, breaker.DefaultConfig())
			cb.ForceOpen(context.Background())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["ready"]).To(BeFalse())
			Expect(resp["unavailable_services"]).To(ContainElement(research.ServiceName))
		})
	})

	Describe("Live", func() {
		It("always answers alive", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["status"]).To(Equal("alive"))
		})
	})
})
