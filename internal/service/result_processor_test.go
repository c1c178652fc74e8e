package service_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"shopscout.app/research/common/id"
	"shopscout.app/research/internal/model"
	"shopscout.app/research/internal/service"
)

func partnerItem() model.ResearchItem {
	return model.ResearchItem{
		ProductName:    "에어팟 프로 2",
		Category:       "가전디지털",
		PriceExact:     359000,
		Currency:       "KRW",
		ProductID:      i64Ptr(7582913),
		ProductURL:     strPtr("https://www.coupang.com/vp/products/7582913"),
		ProductImage:   strPtr("https://image.coupang.com/7582913.jpg"),
		IsRocket:       boolPtr(true),
		IsFreeShipping: boolPtr(true),
		CategoryName:   strPtr("이어폰"),
		Keyword:        strPtr("노이즈캔슬링 이어폰"),
		Rank:           intPtr(1),
	}
}

func successResult(name string) model.ResearchResult {
	return model.ResearchResult{
		ProductName:    name,
		Brand:          "Apple",
		ModelOrVariant: "2세대",
		Status:         model.ResultStatusSuccess,
		CapturedAt:     "2025-06-01",
		Sources: []string{
			"https://www.apple.com/kr/airpods-pro/",
			"https://blog.naver.com/review/airpods",
			"https://prod.danawa.com/info/?pcode=17482940",
		},
		Reviews: model.ProductReviews{RatingAvg: 4.7, ReviewCount: 1523},
		Specs:   model.ProductSpecs{Main: []string{"액티브 노이즈 캔슬링", "H2 칩"}},
	}
}

var _ = Describe("ResultProcessor", func() {
	var (
		processor *service.ResultProcessor
		ctx       context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		processor = service.NewResultProcessor(nil, discardLogger())
		Expect(id.Init(1)).To(Succeed())
	})

	Describe("ExtractPreviewResults", func() {
		It("builds a preview from complete partner data", func() {
			results := processor.ExtractPreviewResults(ctx, []model.ResearchItem{partnerItem()})
			Expect(results).To(HaveLen(1))

			r := results[0]
			Expect(r.Status).To(Equal(model.ResultStatusPreview))
			Expect(r.Sources).To(Equal([]string{service.PreviewSource}))
			Expect(r.SellerOrStore).To(HaveValue(Equal("쿠팡")))
			Expect(r.DeeplinkOrProductURL).To(HaveValue(Equal("https://www.coupang.com/vp/products/7582913")))
			Expect(r.CoupangPrice).To(HaveValue(Equal(359000.0)))

			Expect(r.Metadata.Preview).To(BeTrue())
			Expect(r.Metadata.CoupangInfo).NotTo(BeNil())
			Expect(r.Metadata.CoupangInfo.ProductID).To(HaveValue(Equal(int64(7582913))))
			Expect(r.Metadata.CoupangInfo.Keyword).To(HaveValue(Equal("노이즈캔슬링 이어폰")))
			Expect(r.Metadata.AvailableFields).To(ConsistOf("product_id", "product_url", "product_image"))
			Expect(r.Metadata.MissingFields).To(BeEmpty())

			_, err := time.Parse("2006-01-02 15:04:05", r.CapturedAt)
			Expect(err).NotTo(HaveOccurred())
		})

		It("skips items without any partner identifiers", func() {
			plain := validItem("LG 그램 17")
			results := processor.ExtractPreviewResults(ctx, []model.ResearchItem{plain, partnerItem()})
			Expect(results).To(HaveLen(1))
			Expect(results[0].ProductName).To(Equal("에어팟 프로 2"))
		})

		It("tracks missing partner fields on a partial item", func() {
			item := validItem("다이슨 V15")
			item.ProductID = i64Ptr(4417382)

			results := processor.ExtractPreviewResults(ctx, []model.ResearchItem{item})
			Expect(results).To(HaveLen(1))
			Expect(results[0].Metadata.AvailableFields).To(Equal([]string{"product_id"}))
			Expect(results[0].Metadata.MissingFields).To(ConsistOf("product_url", "product_image"))
			Expect(results[0].DeeplinkOrProductURL).To(BeNil())
		})

		It("keeps the item's own seller when present", func() {
			item := partnerItem()
			item.SellerOrStore = strPtr("애플 공식스토어")

			results := processor.ExtractPreviewResults(ctx, []model.ResearchItem{item})
			Expect(results[0].SellerOrStore).To(HaveValue(Equal("애플 공식스토어")))
		})
	})

	Describe("MergeResearchResults", func() {
		var job *model.ResearchJob

		BeforeEach(func() {
			job = model.NewResearchJob([]model.ResearchItem{partnerItem()}, 5, nil)
			job.Metadata.PreviewEnabled = true
			for _, r := range processor.ExtractPreviewResults(ctx, job.Items) {
				job.AddResult(r)
			}
			job.Start()
		})

		It("overlays research fields while keeping partner fields", func() {
			processor.MergeResearchResults(ctx, job, []model.ResearchResult{successResult("에어팟 프로 2")})

			Expect(job.Results).To(HaveLen(1))
			merged := job.Results[0]
			Expect(merged.Status).To(Equal(model.ResultStatusSuccess))
			Expect(merged.Brand).To(Equal("Apple"))
			Expect(merged.Reviews.ReviewCount).To(Equal(1523))
			Expect(merged.CapturedAt).To(Equal("2025-06-01"))

			// Partner fields survive the overlay.
			Expect(merged.CoupangPrice).To(HaveValue(Equal(359000.0)))
			Expect(merged.DeeplinkOrProductURL).To(HaveValue(Equal("https://www.coupang.com/vp/products/7582913")))
			Expect(merged.Metadata.CoupangInfo).NotTo(BeNil())
			Expect(merged.Metadata.ResearchCompleted).To(BeTrue())

			// Partner source stays first, research sources follow.
			Expect(merged.Sources[0]).To(Equal(service.PreviewSource))
			Expect(merged.Sources).To(HaveLen(4))

			Expect(job.SuccessfulItems).To(Equal(1))
			Expect(job.FailedItems).To(BeZero())
		})

		It("is idempotent when the same results are merged again", func() {
			results := []model.ResearchResult{successResult("에어팟 프로 2")}
			processor.MergeResearchResults(ctx, job, results)

			snapshot := append([]model.ResearchResult{}, job.Results...)
			processor.MergeResearchResults(ctx, job, results)

			Expect(job.Results).To(Equal(snapshot))
			Expect(job.SuccessfulItems).To(Equal(1))
		})

		It("appends results past the existing previews", func() {
			second := successResult("LG 그램 17")
			processor.MergeResearchResults(ctx, job, []model.ResearchResult{successResult("에어팟 프로 2"), second})

			Expect(job.Results).To(HaveLen(2))
			Expect(job.Results[1].ProductName).To(Equal("LG 그램 17"))
			Expect(job.SuccessfulItems).To(Equal(2))
		})

		It("carries error details onto the preview", func() {
			failed := model.ResearchResult{
				ProductName:      "에어팟 프로 2",
				Status:           model.ResultStatusInsufficientSources,
				ErrorMessage:     strPtr("충분한 정보 소스를 찾을 수 없습니다."),
				MissingFields:    []string{"reviews"},
				SuggestedQueries: []string{"에어팟 프로 2 리뷰"},
			}

			processor.MergeResearchResults(ctx, job, []model.ResearchResult{failed})

			merged := job.Results[0]
			Expect(merged.Status).To(Equal(model.ResultStatusInsufficientSources))
			Expect(merged.ErrorMessage).To(HaveValue(ContainSubstring("소스")))
			Expect(merged.MissingFields).To(Equal([]string{"reviews"}))
			Expect(job.FailedItems).To(Equal(1))
			Expect(job.SuccessfulItems).To(BeZero())
		})
	})

	Describe("ExecuteCallback", func() {
		It("posts the job to the callback URL", func() {
			var (
				gotBody        []byte
				gotContentType string
			)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotBody, _ = io.ReadAll(r.Body)
				gotContentType = r.Header.Get("Content-Type")
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			job := model.NewResearchJob([]model.ResearchItem{validItem("에어팟 프로 2")}, 5, strPtr(server.URL))
			job.Complete()

			processor.ExecuteCallback(ctx, job)

			Expect(gotContentType).To(Equal("application/json"))
			var payload map[string]any
			Expect(json.Unmarshal(gotBody, &payload)).To(Succeed())
			Expect(payload["id"]).To(Equal(job.ID.String()))
			Expect(payload["status"]).To(Equal("completed"))
		})

		It("does nothing without a callback URL", func() {
			called := false
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
			}))
			defer server.Close()

			job := model.NewResearchJob([]model.ResearchItem{validItem("에어팟 프로 2")}, 5, nil)
			processor.ExecuteCallback(ctx, job)
			Expect(called).To(BeFalse())
		})

		It("swallows a non-success response", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			}))
			defer server.Close()

			job := model.NewResearchJob([]model.ResearchItem{validItem("에어팟 프로 2")}, 5, strPtr(server.URL))
			Expect(func() { processor.ExecuteCallback(ctx, job) }).NotTo(Panic())
		})
	})
})
