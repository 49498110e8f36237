// Package apierr provides structured API error types and HTTP status
// mapping compatible with the OpenAI error format.
package apierr

import (
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"
)

// ErrorType constants.
const (
	TypeProviderError     = "provider_error"
	TypeRateLimitError    = "rate_limit_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypeServerError       = "server_error"
)

// Code constants.
const (
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeInvalidAPIKey     = "invalid_api_key"
	CodeInternalError     = "internal_error"
	CodeProviderError     = "provider_error"
	CodeRequestTimeout    = "request_timeout"
	CodeNotImplemented    = "not_implemented"
	CodeInvalidRequest    = "invalid_request"
	CodeModelNotFound     = "model_not_found"
	CodeUpstreamError     = "upstream_error"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the
// given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteProviderError maps a provider HTTP status to the appropriate
// gateway status.
//
//	Provider 429  → 429 + Retry-After: 60
//	Provider 5xx  → 502
//	Default       → 502
func WriteProviderError(ctx *fasthttp.RequestCtx, providerStatus int, msg string) {
	if providerStatus == fasthttp.StatusTooManyRequests {
		ctx.Response.Header.Set("Retry-After", "60")
		Write(ctx, fasthttp.StatusTooManyRequests, msg, TypeRateLimitError, CodeRateLimitExceeded)
		return
	}
	Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeProviderError)
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "provider request timed out", TypeProviderError, CodeRequestTimeout)
}

// WriteRateLimit writes a 429 rate limit error with the given
// retry-after seconds.
func WriteRateLimit(ctx *fasthttp.RequestCtx, retryAfterSeconds int) {
	ctx.Response.Header.Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	Write(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded", TypeRateLimitError, CodeRateLimitExceeded)
}

// WriteInvalidAPIKey writes a 401 invalid-key error.
func WriteInvalidAPIKey(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusUnauthorized, "invalid API key", TypeInvalidRequest, CodeInvalidAPIKey)
}

// WriteModelNotFound writes a 404 model-not-found error.
func WriteModelNotFound(ctx *fasthttp.RequestCtx, model string) {
	Write(ctx, fasthttp.StatusNotFound, "no provider supports model \""+model+"\"", TypeInvalidRequest, CodeModelNotFound)
}

// WriteUpstreamError writes a 502 upstream-error envelope, used when
// the orchestrator exhausts every candidate provider.
func WriteUpstreamError(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusBadGateway, message, TypeProviderError, CodeUpstreamError)
}
