package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"shopscout.app/research/internal/http/handler"
	"shopscout.app/research/internal/model"
	"shopscout.app/research/internal/service"
)

func researchPayload(n int) []byte {
	items := make([]map[string]any, n)
	for i := range items {
		items[i] = map[string]any{
			"product_name": fmt.Sprintf("Galaxy Buds %d", i+1),
			"category":     "electronics",
			"price_exact":  129000,
		}
	}
	body, _ := json.Marshal(map[string]any{"items": items})
	return body
}

var _ = Describe("ResearchHandler", func() {
	var (
		router       *gin.Engine
		orchestrator *mockOrchestrator
		jobs         *mockJobManager
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		orchestrator = &mockOrchestrator{}
		jobs = &mockJobManager{}
		h := handler.NewResearchHandler(orchestrator, jobs, 10)

		rg := router.Group("/api/v1/research/products")
		rg.POST("", h.Create)
		rg.GET("/:job_id", h.GetResults)
		rg.GET("/:job_id/status", h.GetStatus)
		rg.DELETE("/:job_id", h.Cancel)
	})

	Describe("Create", func() {
		It("returns 201 with the pending job", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/research/products", bytes.NewBuffer(researchPayload(2)))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(orchestrator.createCalls).To(Equal(1))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["status"]).To(Equal("pending"))
			Expect(resp["job_id"]).NotTo(BeEmpty())

			metadata := resp["metadata"].(map[string]any)
			Expect(metadata["total_items"]).To(Equal(float64(2)))
			Expect(metadata["successful_items"]).To(Equal(float64(0)))
		})

		It("defaults the currency to KRW", func() {
			orchestrator.createFn = func(_ context.Context, items []model.ResearchItem, priority int, callbackURL *string) (*model.ResearchJob, *service.Task, error) {
				Expect(items).To(HaveLen(1))
				Expect(items[0].Currency).To(Equal("KRW"))
				return model.NewResearchJob(items, priority, callbackURL), nil, nil
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/research/products", bytes.NewBuffer(researchPayload(1)))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusCreated))
		})

		It("returns 400 on a malformed body", func() {
			body, _ := json.Marshal(map[string]any{
				"items": []map[string]any{{"category": "electronics"}},
			})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/research/products", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["error_code"]).To(Equal("VALIDATION_ERROR"))
		})

		It("returns 400 on an unsupported currency", func() {
			body, _ := json.Marshal(map[string]any{
				"items": []map[string]any{{
					"product_name": "Galaxy Buds",
					"category":     "electronics",
					"price_exact":  129000,
					"currency":     "GBP",
				}},
			})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/research/products", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 400 with BATCH_SIZE_EXCEEDED when the batch is too large", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/research/products", bytes.NewBuffer(researchPayload(11)))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(orchestrator.createCalls).To(BeZero())

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["error_code"]).To(Equal("BATCH_SIZE_EXCEEDED"))

			metadata := resp["metadata"].(map[string]any)
			Expect(metadata["received_count"]).To(Equal(float64(11)))
			Expect(metadata["max_allowed"]).To(Equal(float64(10)))
		})

		It("returns 400 with INVALID_REQUEST when the service rejects the batch", func() {
			orchestrator.createFn = func(context.Context, []model.ResearchItem, int, *string) (*model.ResearchJob, *service.Task, error) {
				return nil, nil, fmt.Errorf("%w: item 0: product name is empty", service.ErrInvalidRequest)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/research/products", bytes.NewBuffer(researchPayload(1)))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["error_code"]).To(Equal("INVALID_REQUEST"))
		})

		It("returns 500 when job creation fails", func() {
			orchestrator.createFn = func(context.Context, []model.ResearchItem, int, *string) (*model.ResearchJob, *service.Task, error) {
				return nil, nil, errors.New("insert failed")
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/research/products", bytes.NewBuffer(researchPayload(1)))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})

		Context("with use_queue=true", func() {
			It("enqueues instead of running in process", func() {
				orchestrator.enqueueFn = func(_ context.Context, items []model.ResearchItem, priority int, callbackURL *string, previewEnabled bool) (*model.ResearchJob, error) {
					Expect(previewEnabled).To(BeFalse())
					return model.NewResearchJob(items, priority, callbackURL), nil
				}

				req := httptest.NewRequest(http.MethodPost, "/api/v1/research/products?use_queue=true", bytes.NewBuffer(researchPayload(1)))
				req.Header.Set("Content-Type", "application/json")
				w := httptest.NewRecorder()

				router.ServeHTTP(w, req)

				Expect(w.Code).To(Equal(http.StatusCreated))
				Expect(orchestrator.enqueueCalls).To(Equal(1))
				Expect(orchestrator.createCalls).To(BeZero())
			})

			It("returns 503 when the queue is not configured", func() {
				orchestrator.enqueueFn = func(context.Context, []model.ResearchItem, int, *string, bool) (*model.ResearchJob, error) {
					return nil, service.ErrQueueNotConfigured
				}

				req := httptest.NewRequest(http.MethodPost, "/api/v1/research/products?use_queue=true", bytes.NewBuffer(researchPayload(1)))
				req.Header.Set("Content-Type", "application/json")
				w := httptest.NewRecorder()

				router.ServeHTTP(w, req)

				Expect(w.Code).To(Equal(http.StatusServiceUnavailable))

				var resp map[string]any
				Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
				Expect(resp["error_code"]).To(Equal("SERVICE_UNAVAILABLE"))
			})
		})

		Context("with return_coupang_preview=true", func() {
			It("includes partner info on the preview results", func() {
				productID := int64(8123456789)
				rocket := true
				orchestrator.createWithPreviewFn = func(_ context.Context, items []model.ResearchItem, priority int, callbackURL *string) (*model.ResearchJob, *service.Task, error) {
					job := model.NewResearchJob(items, priority, callbackURL)
					result := model.NewResult(1, items[0])
					result.Metadata.Preview = true
					result.Metadata.CoupangInfo = &model.CoupangInfo{
						ProductID: &productID,
						IsRocket:  &rocket,
					}
					job.AddResult(result)
					return job, nil, nil
				}

				req := httptest.NewRequest(http.MethodPost, "/api/v1/research/products?return_coupang_preview=true", bytes.NewBuffer(researchPayload(1)))
				req.Header.Set("Content-Type", "application/json")
				w := httptest.NewRecorder()

				router.ServeHTTP(w, req)

				Expect(w.Code).To(Equal(http.StatusCreated))
				Expect(orchestrator.previewCalls).To(Equal(1))

				var resp map[string]any
				Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
				results := resp["results"].([]any)
				Expect(results).To(HaveLen(1))

				info := results[0].(map[string]any)["coupang_info"].(map[string]any)
				Expect(info["product_id"]).To(Equal(float64(productID)))
				Expect(info["is_rocket"]).To(BeTrue())
				Expect(info["product_price"]).To(Equal(float64(129000)))
			})

			It("falls back to a regular job when the preview fails", func() {
				orchestrator.createWithPreviewFn = func(context.Context, []model.ResearchItem, int, *string) (*model.ResearchJob, *service.Task, error) {
					return nil, nil, errors.New("partner api down")
				}

				req := httptest.NewRequest(http.MethodPost, "/api/v1/research/products?return_coupang_preview=true", bytes.NewBuffer(researchPayload(1)))
				req.Header.Set("Content-Type", "application/json")
				w := httptest.NewRecorder()

				router.ServeHTTP(w, req)

				Expect(w.Code).To(Equal(http.StatusCreated))
				Expect(orchestrator.previewCalls).To(Equal(1))
				Expect(orchestrator.createCalls).To(Equal(1))
			})

			It("does not fall back on an invalid request", func() {
				orchestrator.createWithPreviewFn = func(context.Context, []model.ResearchItem, int, *string) (*model.ResearchJob, *service.Task, error) {
					return nil, nil, fmt.Errorf("%w: bad batch", service.ErrInvalidRequest)
				}

				req := httptest.NewRequest(http.MethodPost, "/api/v1/research/products?return_coupang_preview=true", bytes.NewBuffer(researchPayload(1)))
				req.Header.Set("Content-Type", "application/json")
				w := httptest.NewRecorder()

				router.ServeHTTP(w, req)

				Expect(w.Code).To(Equal(http.StatusBadRequest))
				Expect(orchestrator.createCalls).To(BeZero())
			})
		})
	})

	Describe("GetResults", func() {
		It("returns 200 with the job and its results", func() {
			jobID := uuid.New()
			jobs.getFilteredFn = func(_ context.Context, id uuid.UUID, includeFailed bool) (*model.ResearchJob, error) {
				Expect(id).To(Equal(jobID))
				Expect(includeFailed).To(BeTrue())

				job := model.NewResearchJob([]model.ResearchItem{{ProductName: "Galaxy Buds", Category: "electronics", PriceExact: 129000, Currency: "KRW"}}, 5, nil)
				job.ID = jobID
				result := model.NewResult(1, job.Items[0])
				result.Status = model.ResultStatusSuccess
				result.Brand = "Samsung"
				job.AddResult(result)
				job.Complete()
				return job, nil
			}

			req := httptest.NewRequest(http.MethodGet, "/api/v1/research/products/"+jobID.String(), nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["job_id"]).To(Equal(jobID.String()))
			Expect(resp["status"]).To(Equal("completed"))

			results := resp["results"].([]any)
			Expect(results).To(HaveLen(1))
			Expect(results[0].(map[string]any)["brand"]).To(Equal("Samsung"))
			Expect(results[0].(map[string]any)).NotTo(HaveKey("coupang_info"))
		})

		It("passes include_failed=false through to the service", func() {
			jobs.getFilteredFn = func(_ context.Context, _ uuid.UUID, includeFailed bool) (*model.ResearchJob, error) {
				Expect(includeFailed).To(BeFalse())
				return model.NewResearchJob(nil, 5, nil), nil
			}

			req := httptest.NewRequest(http.MethodGet, "/api/v1/research/products/"+uuid.NewString()+"?include_failed=false", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
		})

		It("returns 404 when the job does not exist", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/research/products/"+uuid.NewString(), nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNotFound))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["error_code"]).To(Equal("JOB_NOT_FOUND"))
		})

		It("returns 400 on a malformed job id", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/research/products/not-a-uuid", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["error_code"]).To(Equal("INVALID_UUID_FORMAT"))

			metadata := resp["metadata"].(map[string]any)
			Expect(metadata["provided_id"]).To(Equal("not-a-uuid"))
		})
	})

	Describe("GetStatus", func() {
		It("returns the progress view of a running job", func() {
			jobID := uuid.New()
			jobs.getFn = func(_ context.Context, id uuid.UUID) (*model.ResearchJob, error) {
				job := &model.ResearchJob{
					ID:              jobID,
					Status:          model.JobStatusProcessing,
					TotalItems:      4,
					SuccessfulItems: 1,
					FailedItems:     1,
				}
				return job, nil
			}

			req := httptest.NewRequest(http.MethodGet, "/api/v1/research/products/"+jobID.String()+"/status", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["status"]).To(Equal("processing"))
			Expect(resp["progress"]).To(Equal(0.5))
			Expect(resp["message"]).To(Equal("4개 중 2개 처리 완료"))

			metadata := resp["metadata"].(map[string]any)
			Expect(metadata["successful"]).To(Equal(float64(1)))
			Expect(metadata["failed"]).To(Equal(float64(1)))
		})

		It("returns 404 when the job does not exist", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/research/products/"+uuid.NewString()+"/status", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Cancel", func() {
		It("returns 204 when the job is cancelled", func() {
			jobs.cancelFn = func(_ context.Context, _ uuid.UUID) (bool, error) {
				return true, nil
			}

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/research/products/"+uuid.NewString(), nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNoContent))
			Expect(w.Body.Len()).To(BeZero())
		})

		It("returns 400 when the job is already terminal", func() {
			jobID := uuid.New()
			jobs.getFn = func(_ context.Context, _ uuid.UUID) (*model.ResearchJob, error) {
				return &model.ResearchJob{ID: jobID, Status: model.JobStatusCompleted}, nil
			}

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/research/products/"+jobID.String(), nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["error_code"]).To(Equal("JOB_CANNOT_BE_CANCELLED"))

			metadata := resp["metadata"].(map[string]any)
			Expect(metadata["current_status"]).To(Equal("completed"))
		})

		It("returns 404 when the job does not exist", func() {
			req := httptest.NewRequest(http.MethodDelete, "/api/v1/research/products/"+uuid.NewString(), nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns 500 when the cancel write fails", func() {
			jobs.cancelFn = func(context.Context, uuid.UUID) (bool, error) {
				return false, errors.New("connection reset")
			}

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/research/products/"+uuid.NewString(), nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})
	})
})
