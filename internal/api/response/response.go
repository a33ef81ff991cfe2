package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/c00lpeace/project-template-final/pkg/apperr"
)

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Outcome is the body of operations that report their own status, such as
// program registration.
type Outcome struct {
	Status           string `json:"status"`
	Message          string `json:"message"`
	Data             any    `json:"data,omitempty"`
	ValidationResult any    `json:"validation_result,omitempty"`
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

// WithStatus writes outcome as-is with the given status code.
func WithStatus(w http.ResponseWriter, status int, outcome Outcome) {
	writeJSON(w, status, outcome)
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// FromError writes err as an error envelope. Handled errors keep their code
// and message; anything else is logged and reported as INTERNAL_ERROR.
func FromError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "code", code, "error", err)
	}
	Error(w, status, code, apperr.PublicMessage(err), nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
