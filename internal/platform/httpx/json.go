package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultBodyLimit caps request bodies read by DecodeJSON.
const DefaultBodyLimit = 64 * 1024

var (
	// ErrEmptyBody is returned when a JSON body is required but missing.
	ErrEmptyBody = errors.New("request body is required")
	// ErrBodyTooLarge is returned when the body exceeds the limit.
	ErrBodyTooLarge = errors.New("request body too large")
)

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// DecodeJSON reads at most limit bytes from the request body into dst. Unknown fields are rejected so
// typos in patch bodies surface as 400s instead of silent no-ops.
func DecodeJSON(r *http.Request, limit int64, dst any) error {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	if r.Body == nil {
		return ErrEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return ErrBodyTooLarge
	}
	if strings.TrimSpace(string(data)) == "" {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}

// WriteDecodeError maps a DecodeJSON failure to a 400 or 413 response.
func WriteDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrBodyTooLarge) {
		WriteError(r.Context(), w, NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
		return
	}
	WriteError(r.Context(), w, NewError("invalid_request", err.Error(), http.StatusBadRequest))
}
