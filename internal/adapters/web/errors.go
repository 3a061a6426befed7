package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"facturador/internal/core"
	"facturador/internal/fiscal"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps domain and gateway errors to HTTP status codes:
// bad input 400, missing resources 404, business-rule rejections 422,
// authority rejections 502, everything else 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *core.ValidationError
		notFound   *core.NotFoundError
		missingTax *core.MissingTaxIDError
		rejection  *fiscal.RejectionError
	)

	switch {
	case errors.As(err, &validation):
		writeError(w, r, validation.Error(), "BAD_REQUEST", http.StatusBadRequest)
	case errors.As(err, &notFound):
		writeError(w, r, notFound.Error(), "NOT_FOUND", http.StatusNotFound)
	case errors.As(err, &missingTax):
		writeError(w, r, missingTax.Error(), "TAX_ID_REQUIRED", http.StatusUnprocessableEntity)
	case errors.As(err, &rejection):
		writeError(w, r, rejection.Error(), "AUTHORITY_REJECTED", http.StatusBadGateway)
	default:
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}
