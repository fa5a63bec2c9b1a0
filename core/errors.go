package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	SyncErrorConfigInvalid    = "SYNC_CONFIG_INVALID"
	SyncErrorSystemUnknown    = "SYNC_SYSTEM_UNKNOWN"
	SyncErrorResolutionFailed = "SYNC_RESOLUTION_FAILED"
	SyncErrorTransient        = "SYNC_TRANSIENT"
	SyncErrorAuthFailed       = "SYNC_AUTH_FAILED"
	SyncErrorPartialApply     = "SYNC_PARTIAL_APPLY"
	SyncErrorBadInput         = "SYNC_BAD_INPUT"
	SyncErrorInternal         = "SYNC_INTERNAL_ERROR"
)

func syncErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureSyncErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not registered"), strings.Contains(msg, "unknown system"):
		return newSyncError(err.Error(), goerrors.CategoryNotFound, SyncErrorSystemUnknown)
	case strings.Contains(msg, "matrix"), strings.Contains(msg, "permissions matrix"):
		return newSyncError(err.Error(), goerrors.CategoryValidation, SyncErrorConfigInvalid)
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"), strings.Contains(msg, "credentials"):
		return newSyncError(err.Error(), goerrors.CategoryAuth, SyncErrorAuthFailed)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "temporar"), strings.Contains(msg, "unavailable"):
		return newSyncError(err.Error(), goerrors.CategoryExternal, SyncErrorTransient)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newSyncError(err.Error(), goerrors.CategoryBadInput, SyncErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureSyncErrorEnvelope(mapped)
}

func newSyncError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureSyncErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func newConfigError(message string) *goerrors.Error {
	return newSyncError(message, goerrors.CategoryValidation, SyncErrorConfigInvalid)
}

func ensureSyncErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = syncHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultSyncTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultSyncTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput:
		return SyncErrorBadInput
	case goerrors.CategoryValidation:
		return SyncErrorConfigInvalid
	case goerrors.CategoryNotFound:
		return SyncErrorResolutionFailed
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return SyncErrorAuthFailed
	case goerrors.CategoryExternal, goerrors.CategoryRateLimit, goerrors.CategoryConflict:
		return SyncErrorTransient
	case goerrors.CategoryOperation:
		return SyncErrorPartialApply
	default:
		return SyncErrorInternal
	}
}

func syncHTTPStatus(category goerrors.Category) int {
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

// IsAuthError reports whether err is a credentials rejection. Auth failures
// are never retried and short-circuit the failing system for the rest of
// the run.
func IsAuthError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryAuth || richErr.Category == goerrors.CategoryAuthz
}

// IsTransientError reports whether err is worth retrying: network trouble,
// 5xx responses, or rate limiting.
func IsTransientError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return true
	}
	switch richErr.Category {
	case goerrors.CategoryExternal, goerrors.CategoryRateLimit, goerrors.CategoryConflict:
		return true
	}
	return false
}

// IsConfigError reports whether err is a matrix or configuration rejection,
// the only class that aborts a whole run.
func IsConfigError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == SyncErrorConfigInvalid
}
