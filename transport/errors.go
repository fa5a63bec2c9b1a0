package transport

import (
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/ateliercommun/groupsync/core"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapTransportError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// statusError maps a non-2xx response onto the error taxonomy: 401/403
// are credential rejections, 429 is rate limiting, remaining 4xx are bad
// input, 5xx are transient.
func statusError(systemID string, req Request, res Response) error {
	category := categoryForStatus(res.StatusCode)
	message := fmt.Sprintf("transport: %s returned status %d", systemID, res.StatusCode)
	return transportError(message, category, res.StatusCode, map[string]any{
		"system":      systemID,
		"path":        req.Path,
		"status_code": res.StatusCode,
	})
}

// IsNotFound reports whether err came from a 404. Providers use it to
// treat missing remote resources as an empty lookup rather than a failure.
func IsNotFound(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryNotFound
}

func categoryForStatus(status int) goerrors.Category {
	switch {
	case status == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case status == http.StatusForbidden:
		return goerrors.CategoryAuthz
	case status == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case status == http.StatusConflict:
		return goerrors.CategoryConflict
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case status >= http.StatusInternalServerError:
		return goerrors.CategoryExternal
	default:
		return goerrors.CategoryBadInput
	}
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.SyncErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return core.SyncErrorAuthFailed
	case goerrors.CategoryNotFound:
		return core.SyncErrorResolutionFailed
	case goerrors.CategoryRateLimit, goerrors.CategoryExternal, goerrors.CategoryConflict:
		return core.SyncErrorTransient
	default:
		return core.SyncErrorInternal
	}
}
