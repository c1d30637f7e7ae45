package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"collarfi/native/common"
	"collarfi/native/escrow"
	"collarfi/native/loans"
	"collarfi/native/provider"
	"collarfi/native/rolls"
	"collarfi/native/taker"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

var notFound = []error{
	taker.ErrPositionNotFound,
	provider.ErrPositionNotFound,
	provider.ErrOfferNotFound,
	escrow.ErrEscrowNotFound,
	escrow.ErrOfferNotFound,
	loans.ErrLoanNotFound,
	rolls.ErrInvalidOffer,
}

// statusFor maps an engine error to an HTTP status by its kind. Lookups of
// missing records are 404 regardless of kind.
func statusFor(err error) int {
	for _, target := range notFound {
		if errors.Is(err, target) {
			return http.StatusNotFound
		}
	}
	switch common.KindOf(err) {
	case common.KindAuthorization:
		return http.StatusForbidden
	case common.KindValidation:
		return http.StatusBadRequest
	case common.KindState:
		return http.StatusConflict
	case common.KindEconomic:
		return http.StatusUnprocessableEntity
	case common.KindOracle:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Kind: common.KindOf(err).String()}
	if status == http.StatusNotFound {
		body.Kind = "not_found"
	}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
