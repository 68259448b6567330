// Package apierror is the JSON error envelope every 4xx/5xx response uses.
// Driver errors and stack traces never reach it.
package apierror

// Stable codes for errors raised outside the service layer.
const (
	CodeBadRequest   = "bad_request"
	CodeValidation   = "validation_failed"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal_error"
)

// APIError carries a machine-readable Code and a human Detail. Fields is set
// only for validation failures, keyed by struct field.
type APIError struct {
	Code   string            `json:"code,omitempty"`
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields,omitempty"`
}

func New(msg string) *APIError {
	return &APIError{Detail: msg}
}

func WithCode(code, msg string) *APIError {
	return &APIError{Code: code, Detail: msg}
}

func NewValidation(fields map[string]string) *APIError {
	return &APIError{Code: CodeValidation, Detail: "Error de validacion", Fields: fields}
}
