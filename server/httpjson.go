package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"itembay/market"
)

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the failure class to an HTTP status. Internal causes are
// logged and never shown to the caller.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var me *market.Error
	if !errors.As(err, &me) {
		me = market.Internal(err)
	}

	status := http.StatusInternalServerError
	switch me.Code {
	case market.CodeUnauthorized:
		status = http.StatusUnauthorized
	case market.CodeForbidden:
		status = http.StatusForbidden
	case market.CodeNotFound:
		status = http.StatusNotFound
	case market.CodeValidation:
		status = http.StatusBadRequest
	case market.CodeConflict:
		status = http.StatusConflict
	case market.CodeInternal:
		s.logger.Error("internal error", "error", err)
	}

	s.writeJSON(w, status, errorBody{Error: me.Message, Fields: me.Fields})
}

func (s *Server) readJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return market.Invalid("invalid payload", nil)
	}
	return nil
}
