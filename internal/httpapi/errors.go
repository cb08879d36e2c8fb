// Package httpapi exposes the kiosk front-end HTTP API.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bft-labs/kiosk/internal/domain"
)

// jsonError represents a JSON error payload.
type jsonError struct {
	Error string `json:"error"`
}

// WriteJSONError writes a JSON error payload with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, jsonError{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// rejections are order failures caused by the customer's request or card.
var rejections = []error{
	domain.ErrEmptyOrder,
	domain.ErrNoCard,
	domain.ErrLowBalance,
	domain.ErrUnknownUser,
	domain.ErrInsufficientBalance,
}

// orderStatus maps an order error to its HTTP status.
func orderStatus(err error) int {
	if errors.Is(err, domain.ErrOrderInProgress) {
		return http.StatusConflict
	}
	for _, r := range rejections {
		if errors.Is(err, r) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}
