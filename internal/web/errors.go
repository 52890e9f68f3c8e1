package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is mapped through core.MapError. The technical error is logged
// with the request ID; the client receives the user message and its code,
// with the HTTP status derived from the code.

import (
	"net/http"

	"github.com/JonMunkholm/dpmconv/internal/core"
	"github.com/JonMunkholm/dpmconv/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

var statusByCode = map[string]int{
	"CFG001": http.StatusBadRequest,
	"REF001": http.StatusUnprocessableEntity,
	"RUN001": http.StatusNotFound,
	"RUN002": http.StatusServiceUnavailable,
	"RUN003": http.StatusConflict,
	"RUN004": http.StatusGatewayTimeout,
	"RUN005": http.StatusConflict,
	"DB001":  http.StatusServiceUnavailable,
}

// statusFor returns the HTTP status of a user message.
func statusFor(msg core.UserMessage) int {
	if status, ok := statusByCode[msg.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError maps err to a user message, logs it and writes it as JSON.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := core.MapError(err)
	status := statusFor(msg)

	logging.Enrich(r.Context(), s.log).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	s.writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// Request errors that never reach core.
const (
	codeBadRequest  = "REQ001"
	codeUnavailable = "REQ002"
)

// respondRequestError rejects a request the API cannot serve.
func (s *Server) respondRequestError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Message: message,
		Code:    code,
	})
}
