package core

import (
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	WearablesErrorAuthRequired    = "WEARABLES_AUTH_REQUIRED"
	WearablesErrorRateLimited     = "WEARABLES_RATE_LIMITED"
	WearablesErrorProviderFailed  = "WEARABLES_PROVIDER_FAILED"
	WearablesErrorValidation      = "WEARABLES_BAD_PAYLOAD"
	WearablesErrorSourceNotFound  = "WEARABLES_SOURCE_NOT_FOUND"
	WearablesErrorSyncInFlight    = "WEARABLES_SYNC_IN_FLIGHT"
	WearablesErrorUnsupported     = "WEARABLES_CAPABILITY_UNSUPPORTED"
	WearablesErrorInternal        = "WEARABLES_INTERNAL_ERROR"
	errorMetadataRetryAfterMillis = "retry_after_ms"
	errorMetadataSourceType       = "source_type"
)

// NewAuthError marks a credential problem the system cannot recover from
// without the user reconnecting. Never auto-retried.
func NewAuthError(message string, sourceType SourceType) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, goerrors.CategoryAuth).
			WithTextCode(WearablesErrorAuthRequired).
			WithMetadata(map[string]any{errorMetadataSourceType: string(sourceType)}),
	)
}

// NewRateLimitError carries the provider's retry-after hint so the caller can
// back off one provider without failing the whole sync.
func NewRateLimitError(message string, sourceType SourceType, retryAfter time.Duration) *goerrors.Error {
	metadata := map[string]any{errorMetadataSourceType: string(sourceType)}
	if retryAfter > 0 {
		metadata[errorMetadataRetryAfterMillis] = retryAfter.Milliseconds()
	}
	return ensureErrorEnvelope(
		goerrors.New(message, goerrors.CategoryRateLimit).
			WithTextCode(WearablesErrorRateLimited).
			WithMetadata(metadata),
	)
}

// NewProviderError wraps a generic upstream failure (5xx, transport error).
// Logged and recorded on the run, not retried within it.
func NewProviderError(message string, sourceType SourceType) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, goerrors.CategoryExternal).
			WithTextCode(WearablesErrorProviderFailed).
			WithMetadata(map[string]any{errorMetadataSourceType: string(sourceType)}),
	)
}

// NewValidationError rejects malformed inbound payloads before processing.
func NewValidationError(message string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, goerrors.CategoryValidation).
			WithTextCode(WearablesErrorValidation),
	)
}

func IsAuthError(err error) bool {
	return hasTextCode(err, WearablesErrorAuthRequired)
}

func IsRateLimitError(err error) bool {
	return hasTextCode(err, WearablesErrorRateLimited)
}

func IsValidationError(err error) bool {
	return hasTextCode(err, WearablesErrorValidation)
}

// RetryAfterHint extracts the provider back-off hint from a rate-limit
// error, zero when none was supplied.
func RetryAfterHint(err error) time.Duration {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return 0
	}
	raw, ok := richErr.Metadata[errorMetadataRetryAfterMillis]
	if !ok {
		return 0
	}
	switch value := raw.(type) {
	case int64:
		return time.Duration(value) * time.Millisecond
	case int:
		return time.Duration(value) * time.Millisecond
	case float64:
		return time.Duration(int64(value)) * time.Millisecond
	default:
		return 0
	}
}

func hasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

func wearablesErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "token") && (strings.Contains(msg, "expired") || strings.Contains(msg, "invalid")):
		return newEnvelopedError(err.Error(), goerrors.CategoryAuth, WearablesErrorAuthRequired)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newEnvelopedError(err.Error(), goerrors.CategoryRateLimit, WearablesErrorRateLimited)
	case strings.Contains(msg, "not connected"), strings.Contains(msg, "not found"):
		return newEnvelopedError(err.Error(), goerrors.CategoryNotFound, WearablesErrorSourceNotFound)
	case strings.Contains(msg, "signature"), strings.Contains(msg, "malformed"), strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newEnvelopedError(err.Error(), goerrors.CategoryValidation, WearablesErrorValidation)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func newEnvelopedError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = wearablesHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultWearablesTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultWearablesTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return WearablesErrorValidation
	case goerrors.CategoryNotFound:
		return WearablesErrorSourceNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return WearablesErrorAuthRequired
	case goerrors.CategoryConflict:
		return WearablesErrorSyncInFlight
	case goerrors.CategoryRateLimit:
		return WearablesErrorRateLimited
	case goerrors.CategoryExternal:
		return WearablesErrorProviderFailed
	case goerrors.CategoryOperation:
		return WearablesErrorUnsupported
	default:
		return WearablesErrorInternal
	}
}

func wearablesHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// MapError normalizes any error into the wearables envelope.
func MapError(err error) *goerrors.Error {
	return wearablesErrorMapper(err)
}
