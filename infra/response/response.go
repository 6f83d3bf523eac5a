// Package response writes the standard API envelope and maps error kinds to
// HTTP status codes.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/metinweb/ors-payment-service/payerr"
)

// Response is the standard API envelope.
type Response struct {
	Code    int    `json:"code"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(v)
}

// Success writes a successful response with data.
func Success(w http.ResponseWriter, statusCode int, message string, data any) {
	_ = WriteJSON(w, statusCode, Response{
		Code:    statusCode,
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error writes an error response.
func Error(w http.ResponseWriter, statusCode int, message string, err error) {
	resp := Response{
		Code:    statusCode,
		Success: false,
		Message: message,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	_ = WriteJSON(w, statusCode, resp)
}

// StatusOf maps an error kind to the HTTP status the API responds with.
func StatusOf(err error) int {
	switch payerr.KindOf(err) {
	case payerr.KindValidation, payerr.KindConflict, payerr.KindState:
		return http.StatusBadRequest
	case payerr.KindNotFound:
		return http.StatusNotFound
	case payerr.KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// FromError writes an error response with the status StatusOf chooses.
func FromError(w http.ResponseWriter, message string, err error) {
	Error(w, StatusOf(err), message, err)
}
