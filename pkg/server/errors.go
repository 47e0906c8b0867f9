package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorType classifies outer-router failures for clients.
type ErrorType string

const (
	ErrorTypeBadRequest ErrorType = "bad_request"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeUpstream   ErrorType = "upstream_error"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal_error"
)

// ErrorBody is the structured error envelope served by the admin and
// routing layers. The per-source gateway keeps its own fixed body
// shapes.
type ErrorBody struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp string    `json:"timestamp"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// writeError writes the envelope, stamping the request's correlation
// id when one is set.
func writeError(w http.ResponseWriter, r *http.Request, status int, typ ErrorType, message, details string) {
	body := ErrorBody{
		Type:      typ,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if r != nil {
		body.RequestID = correlationFrom(r.Context())
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
