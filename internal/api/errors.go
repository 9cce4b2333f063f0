package api

import (
	"errors"
	"net/http"

	"github.com/org/checkoutgate/internal/errclass"
	"github.com/rs/zerolog/log"
)

var errorStatus = []struct {
	class  *errclass.Error
	status int
}{
	{errclass.ErrCapExceeded, http.StatusBadRequest},
	{errclass.ErrQtyExceeded, http.StatusBadRequest},
	{errclass.ErrInvalidLimits, http.StatusBadRequest},
	{errclass.ErrInvalidRequest, http.StatusBadRequest},
	{errclass.ErrUnsupportedSite, http.StatusBadRequest},
	{errclass.ErrApprovalRequired, http.StatusForbidden},
	{errclass.ErrApprovalNotFound, http.StatusForbidden},
	{errclass.ErrApprovalDenied, http.StatusForbidden},
	{errclass.ErrUpstreamTimeout, http.StatusGatewayTimeout},
	{errclass.ErrAuthenticationFailed, http.StatusInternalServerError},
	{errclass.ErrUpstream, http.StatusInternalServerError},
}

// statusFor maps an error class to its HTTP status. Unclassed errors are 500.
func statusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.class) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// writeFailure writes err with the status its class maps to.
func writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeError(w, status, errclass.Message(err))
}
