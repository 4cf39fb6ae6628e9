package response

import (
	"encoding/json"
	"net/http"

	"github.com/devcollab/notifyd/internal/api/errors"
	"github.com/go-chi/chi/v5/middleware"
)

// Response represents a standardized API response
type Response struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Error     any    `json:"error,omitempty"`
	Meta      any    `json:"meta,omitempty"`
}

// ListMeta describes a list payload
type ListMeta struct {
	Count int `json:"count"`
}

// Success builds a success envelope
func Success(requestID string, statusCode int, data any, meta any) Response {
	return Response{
		Success:   statusCode >= 200 && statusCode < 300,
		RequestID: requestID,
		Data:      data,
		Meta:      meta,
	}
}

// Failure builds an error envelope, converting err to an APIError
func Failure(requestID string, err error) (*errors.APIError, Response) {
	apiErr := errors.FromError(err).WithRequestID(requestID)
	return apiErr, Response{
		Success:   false,
		RequestID: requestID,
		Error:     apiErr,
	}
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	sendJSON(w, statusCode, Success(middleware.GetReqID(r.Context()), statusCode, data, nil))
}

// WithMeta adds metadata to a successful response
func WithMeta(w http.ResponseWriter, r *http.Request, statusCode int, data any, meta any) {
	sendJSON(w, statusCode, Success(middleware.GetReqID(r.Context()), statusCode, data, meta))
}

// Error sends an error response
func Error(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, resp := Failure(middleware.GetReqID(r.Context()), err)
	sendJSON(w, apiErr.HTTPCode, resp)
}

// sendJSON is a helper function to send a JSON response
func sendJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"success":false,"error":{"type":"internal","code":"json_encode_error","message":"Failed to encode JSON response"}}`, http.StatusInternalServerError)
	}
}
