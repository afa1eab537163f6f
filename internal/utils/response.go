package utils

import (
	"encoding/json"
	"net/http"
	"time"

	"ms-marketplace/internal/apperr"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func ErrorResponse(message, error string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     error,
		Timestamp: time.Now(),
	}
}

func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError maps err to a status code and writes only its public message.
func WriteError(w http.ResponseWriter, message string, err error) {
	kind := apperr.KindOf(err)
	resp := ErrorResponse(message, apperr.Message(err))
	resp.Code = string(kind)
	if kind == apperr.KindServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	WriteJSON(w, apperr.HTTPStatus(kind), resp)
}
