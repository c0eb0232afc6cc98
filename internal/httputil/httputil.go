package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"tradearena/internal/apperr"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

// WriteError maps business errors to their status and code; anything else is
// reported as an opaque internal error.
func WriteError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		WriteJSON(w, status, ErrorResponse{Error: "internal error", Code: "internal"})
		return
	}
	WriteJSON(w, status, ErrorResponse{Error: err.Error(), Code: apperr.CodeOf(err)})
}
