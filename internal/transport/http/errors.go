package http

import (
	"net/http"

	"github.com/blindmix/coordinator/internal/core/domain"
)

// writeError maps a core error onto a status code and JSON body. Anything
// that isn't a *domain.Rejection is treated as an unexpected failure.
func writeError(w http.ResponseWriter, err error) {
	rej, ok := domain.AsRejection(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Kind: "INTERNAL", Message: err.Error()})
		return
	}

	writeJSON(w, statusFor(rej.Kind), errorBody{
		Kind:    rej.Kind.String(),
		Message: rej.Msg,
		BanMins: rej.BanMinutesRemaining,
	})
}

func statusFor(kind domain.RejectionKind) int {
	switch kind {
	case domain.KindInvalidRequest, domain.KindInvalidProof, domain.KindInsufficientFunds:
		return http.StatusBadRequest
	case domain.KindInputDisallowed:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindPhaseMismatch, domain.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
