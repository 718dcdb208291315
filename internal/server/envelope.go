package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/meridian/newsgraph/internal/domain"
)

// successEnvelope is the uniform tool response body
type successEnvelope struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data"`
	Message string      `json:"message,omitempty"`
}

// errorEnvelope carries the error code, operator guidance, and bounded
// details. Tokens, secrets, and full document content never appear here.
type errorEnvelope struct {
	Status           string                 `json:"status"`
	ErrorCode        domain.ErrorCode       `json:"error_code"`
	Message          string                 `json:"message"`
	RecoveryStrategy string                 `json:"recovery_strategy"`
	Details          map[string]interface{} `json:"details,omitempty"`
}

// writeSuccess renders the success envelope
func (s *Server) writeSuccess(w http.ResponseWriter, data interface{}, message string) {
	s.writeJSON(w, http.StatusOK, successEnvelope{Status: "success", Data: data, Message: message})
}

// writeError renders the error envelope with the HTTP status mapped from
// the error code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	envelope := errorEnvelope{
		Status:           "error",
		ErrorCode:        code,
		Message:          err.Error(),
		RecoveryStrategy: domain.RecoveryStrategy(code),
	}
	var se *domain.Error
	if errors.As(err, &se) {
		if se.Details != nil {
			envelope.Details = se.Details
		}
		if se.Stage != "" {
			if envelope.Details == nil {
				envelope.Details = map[string]interface{}{}
			}
			envelope.Details["stage"] = se.Stage
		}
	}
	s.writeJSON(w, httpStatusFor(code), envelope)
}

func httpStatusFor(code domain.ErrorCode) int {
	switch code {
	case domain.ErrInvalidInput, domain.ErrWordLimit, domain.ErrSchemaViolation:
		return http.StatusBadRequest
	case domain.ErrAuthMissing, domain.ErrAuthInvalidToken:
		return http.StatusUnauthorized
	case domain.ErrAccessDenied, domain.ErrAdminRequired:
		return http.StatusForbidden
	case domain.ErrNotFound, domain.ErrSourceNotFound:
		return http.StatusNotFound
	case domain.ErrDuplicate:
		return http.StatusConflict
	case domain.ErrLLMRateLimited, domain.ErrUpstreamUnavailable, domain.ErrStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// unmarshalBody parses a JSON tool body into dst; an empty body is an
// empty object.
func unmarshalBody(body []byte, dst interface{}) error {
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return domain.WrapError(domain.ErrSchemaViolation, "request body is not valid JSON for this tool", err)
	}
	return nil
}
