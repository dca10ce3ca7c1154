package api

import (
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

// categoryStatus maps error categories to HTTP status codes. Agent failures
// surface as 502 since they come from upstream providers.
var categoryStatus = map[core.ErrorCategory]int{
	core.ErrCatValidation:  http.StatusUnprocessableEntity,
	core.ErrCatNotFound:    http.StatusNotFound,
	core.ErrCatState:       http.StatusConflict,
	core.ErrCatDeadlock:    http.StatusConflict,
	core.ErrCatAbort:       http.StatusConflict,
	core.ErrCatAuth:        http.StatusUnauthorized,
	core.ErrCatRateLimit:   http.StatusTooManyRequests,
	core.ErrCatTimeout:     http.StatusGatewayTimeout,
	core.ErrCatRecoverable: http.StatusBadGateway,
	core.ErrCatFatal:       http.StatusBadGateway,
}

// httpStatusForDomainError reports the status for err. ok is false when err
// is not a DomainError.
func httpStatusForDomainError(err error) (status int, ok bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}
	if status, found := categoryStatus[domErr.Category]; found {
		return status, true
	}
	return http.StatusInternalServerError, true
}
