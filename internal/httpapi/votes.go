package httpapi

import (
	"net/http"
)

type startVoteRequest struct {
	Options     []int64 `json:"options" validate:"omitempty,min=1,dive,min=1"`
	DurationSec int64   `json:"durationSec" validate:"omitempty,min=1"`
}

func (s *Server) handleStartVote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req startVoteRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.requireRunning(r, id); err != nil {
		s.respondEngineError(w, err)
		return
	}
	vote, err := s.engine.StartVote(r.Context(), id, req.Options, req.DurationSec)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, vote)
}

type castVoteRequest struct {
	EdgeID  int64  `json:"edgeId" validate:"required,min=1"`
	VoterID string `json:"voterId"`
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req castVoteRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	vote, err := s.engine.CastVote(r.Context(), id, req.EdgeID, req.VoterID)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, vote)
}

func (s *Server) handleGetVote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	vote, ok, err := s.engine.GetVote(r.Context(), id)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	if !ok {
		respondJSON(w, http.StatusOK, map[string]any{"vote": nil})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"vote": vote})
}

type closeVoteRequest struct {
	Apply bool `json:"apply"`
}

func (s *Server) handleCloseVote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req closeVoteRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if req.Apply {
		if err := s.requireRunning(r, id); err != nil {
			s.respondEngineError(w, err)
			return
		}
	}
	result, err := s.engine.CloseVote(r.Context(), id, req.Apply)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
