// Package httputil translates domain errors into HTTP responses. The mapping
// lives here so services stay transport-agnostic.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "github.com/yocase11/uhias-secure-ehr-sharing/pkg/domain-errors"
)

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusForbidden
	case dErrors.CodeAuthenticationFailed:
		// Stored ciphertext failing verification is a server-side integrity
		// fault from the caller's perspective.
		return http.StatusInternalServerError
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodePartialDelete:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteError maps a domain error to a status code and JSON body. Internal
// failures omit the description so wrapped details never reach callers.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := statusFor(code)

	body := errorResponse{Error: string(code)}
	if status < http.StatusInternalServerError {
		body.ErrorDescription = dErrors.MessageOf(err)
	}

	WriteJSON(w, status, body)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
