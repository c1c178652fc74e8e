package dto

// Error codes on the research API wire.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeInvalidUUIDFormat    = "INVALID_UUID_FORMAT"
	CodeBatchSizeExceeded    = "BATCH_SIZE_EXCEEDED"
	CodeJobNotFound          = "JOB_NOT_FOUND"
	CodeJobCannotBeCancelled = "JOB_CANNOT_BE_CANCELLED"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	CodeInternalServerError  = "INTERNAL_SERVER_ERROR"
)

// errorMessages maps every error code onto its user-facing Korean message.
// Details stay English and technical; the message is what a client shows.
var errorMessages = map[string]string{
	CodeValidationError:      "입력 데이터 검증에 실패했습니다.",
	CodeInvalidRequest:       "잘못된 요청입니다.",
	CodeInvalidUUIDFormat:    "잘못된 작업 ID 형식입니다.",
	CodeBatchSizeExceeded:    "한 번에 처리할 수 있는 항목 수를 초과했습니다.",
	CodeJobNotFound:          "요청한 작업을 찾을 수 없습니다.",
	CodeJobCannotBeCancelled: "작업이 이미 완료되었거나 취소할 수 없는 상태입니다.",
	CodeServiceUnavailable:   "서비스가 일시적으로 사용할 수 없습니다.",
	CodeInternalServerError:  "서버 내부 오류가 발생했습니다.",
}

// ErrorResponse is the error body every endpoint returns.
type ErrorResponse struct {
	ErrorCode string         `json:"error_code"`
	Message   string         `json:"message"`
	Details   string         `json:"details,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewError(code, details string) ErrorResponse {
	return ErrorResponse{
		ErrorCode: code,
		Message:   errorMessages[code],
		Details:   details,
	}
}
