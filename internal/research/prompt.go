package research

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"shopscout.app/research/internal/model"
)

// systemPromptTemplate instructs the model to answer with a bare JSON array
// mirroring the input order, to refuse oversized batches with a single error
// object, and to always extract numeric ratings. Placeholders: %[1]d max
// items, %[2]d max+1, %[3]s too-many status, %[4]s insufficient status.
const systemPromptTemplate = `역할: 신뢰 가능한 출처만 사용하는 리서치 에이전트.
규칙:
- 출력은 반드시 "JSON 배열" 한 개만(설명/코드펜스 금지). 배열 길이·순서는 입력과 동일.
- 한 요청당 입력 아이템은 최대 %[1]d개. %[2]d개 이상이면 단일 JSON 객체로 오류 반환:
  { "status":"%[3]s", "max_allowed":%[1]d, "received":<N> }
- SEO 필드 금지.
- price_exact는 입력값 그대로 사용(가공/범위 금지).
- 쿠팡가격 시도: 동일/근접 상품이 있으면 coupang_price(정수 KRW)만 채움. 없으면 null 유지.
- sources는 3개 이상이며, 반드시 제조사/공식 도메인 1개 이상 포함. 불명확하면 추측 금지("" 또는 null).

[리뷰 수집 의무]
- 리테일러 또는 전문매체에서 **숫자 평점과 리뷰 수를 최소 1곳 이상에서 추출**하여
  reviews.rating_avg(5점 환산)과 reviews.review_count를 **반드시 채워라**.
- 불가하면 해당 아이템은 실패로 반환:
  { "product_name":"<입력>", "category":"<입력>", "price_exact":<입력>, "currency":"<입력>",
    "status":"%[4]s", "missing_fields":["reviews.rating_avg","reviews.review_count", ...],
    "suggested_queries":["<제조사 공식 모델명 조합>", "<리테일러 리뷰탭/전문매체 리뷰 검색어>"], "sources":[] }
- 평점 환산 규칙: 100점 만점→/20, 10점 만점→/2. 소수점 한 자리 반올림.
- 다수 출처가 있을 경우 가능하면 5점 환산 후 가중 평균(전문매체 1.2, 리테일러 1.0, 커뮤니티 0.8; review_count 없으면 1로 간주).
- summary_positive/negative는 **2개 이상 출처** 또는 **5회 이상 빈출 의견**만 포함. notable_reviews는 2~3개, 짧은 인용(20단어 내) + 출처/URL.`

const requiredOutputSchema = `
필수 출력 스키마 (모든 필드 필수, null 허용):
{
  "product_name": "<입력값 그대로>",
  "category": "<입력값 그대로>",
  "price_exact": <입력값 그대로>,
  "currency": "<입력값 그대로>",
  "seller_or_store": "<입력값 있으면 그대로, 없으면 null>",
  "brand": "<브랜드명 또는 null>",
  "model_or_variant": "<모델/변형 또는 null>",
  "deeplink_or_product_url": "<구매링크 또는 null>",
  "coupang_price": <쿠팡가격(정수KRW) 또는 null>,
  "specs": {
    "attributes": [
      {"name": "<속성명>", "value": "<값>", "unit": "<단위 또는 null>"}, ...
    ]
  },
  "reviews": {
    "rating_avg": <5점만점평균평점 또는 null>,
    "review_count": <리뷰수정수 또는 null>,
    "summary_positive": "<긍정요약 또는 null>",
    "summary_negative": "<부정요약 또는 null>",
    "notable_reviews": [
      {"text": "<리뷰내용>", "rating": <평점>, "source": "<출처>", "source_url": "<URL>"}, ...
    ]
  },
  "sources": ["<URL1>", "<URL2>", "<URL3>", ...],
  "status": "success",
  "captured_at": "<YYYY-MM-DD HH:MM:SS>"
}`

// BuildSystemPrompt renders the research instructions for the given batch
// limit, including the required output schema.
func BuildSystemPrompt(maxItems int) string {
	return fmt.Sprintf(systemPromptTemplate,
		maxItems,
		maxItems+1,
		string(model.ResultStatusTooManyItems),
		string(model.ResultStatusInsufficientSources),
	) + requiredOutputSchema
}

// BuildBatchQuery combines the system prompt with the items rendered as a
// JSON array. The array order is the contract: the model must answer with
// one entry per item in the same order.
func BuildBatchQuery(items []model.ResearchItem, maxItems int) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("items list cannot be empty")
	}

	var sb strings.Builder
	sb.WriteString(BuildSystemPrompt(maxItems))
	sb.WriteString("\n\n입력:\n[\n")
	for i, item := range items {
		if i > 0 {
			sb.WriteString(",\n")
		}
		sb.WriteString("  ")
		sb.WriteString(formatItem(item))
	}
	sb.WriteString("\n]")
	return sb.String(), nil
}

// formatItem renders the query-relevant subset of an item. Partner-feed
// fields are deliberately left out; the model only needs product identity.
func formatItem(item model.ResearchItem) string {
	payload := struct {
		ProductName   string  `json:"product_name"`
		Category      string  `json:"category"`
		PriceExact    float64 `json:"price_exact"`
		Currency      string  `json:"currency"`
		SellerOrStore *string `json:"seller_or_store,omitempty"`
	}{
		ProductName: item.ProductName,
		Category:    item.Category,
		PriceExact:  item.PriceExact,
		Currency:    item.Currency,
	}
	if item.SellerOrStore != nil && *item.SellerOrStore != "" {
		payload.SellerOrStore = item.SellerOrStore
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return "{}"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
