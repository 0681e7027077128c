package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/weave/internal/engine"
)

// errorBody is the uniform error response shape.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// respondEngineError maps the engine's error taxonomy onto HTTP
// statuses. Unrecognized errors are infrastructure failures and stay
// opaque 500s.
func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	var ee *engine.Error
	if !errors.As(err, &ee) {
		s.log.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	respondError(w, statusForCode(ee.Code), string(ee.Code), ee.Message)
}

func statusForCode(code engine.ErrorCode) int {
	switch code {
	case engine.ErrCodeNotFound, engine.ErrCodeEdgeNotFound, engine.ErrCodeSnapshotNotFound:
		return http.StatusNotFound
	case engine.ErrCodeAlreadyStarted, engine.ErrCodeVoteAlreadyActive,
		engine.ErrCodeEdgeConflict, engine.ErrCodeSessionEnded,
		engine.ErrCodeEdgeNotFromCurrentNode, engine.ErrCodeNoCurrentNode,
		engine.ErrCodeNoActiveVote, engine.ErrCodeEdgeNotInVote:
		return http.StatusConflict
	case engine.ErrCodeInvalidReference, engine.ErrCodeNothingToRewind,
		engine.ErrCodeStepsExceedHistory, engine.ErrCodeOptionsInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody parses and validates a JSON request body. An empty body
// decodes to the zero value so bodyless POSTs stay legal.
func (s *Server) decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return s.validate.Struct(dst)
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	return nil
}

// pathID parses a numeric chi URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}
