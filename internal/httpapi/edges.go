package httpapi

import (
	"net/http"

	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/ingest"
	"github.com/roach88/weave/internal/store"
)

func (s *Server) handleUpdateEdge(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "edgeID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var patch engine.EdgePatch
	if err := s.decodeBody(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if patch.Label != nil && *patch.Label == "" {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "label must not be empty")
		return
	}
	edge, err := s.engine.UpdateEdge(r.Context(), id, patch)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, edge)
}

func (s *Server) handleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "edgeID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.engine.DeleteEdge(r.Context(), id); err != nil {
		s.respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleIngestMessage accepts a normalized chat message from a bridge
// process and runs it through the ingest pipeline. The response always
// reports what became of the message; only infrastructure failures 500.
func (s *Server) handleIngestMessage(w http.ResponseWriter, r *http.Request) {
	var msg ingest.Message
	if err := s.decodeBody(r, &msg); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if msg.SessionID < 1 || msg.Platform == "" {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "sessionId and platform are required")
		return
	}
	result, err := s.ingest.HandleMessage(r.Context(), msg)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleAdminClear wipes all sessions, decisions, snapshots, and chat
// events; the graph stays.
func (s *Server) handleAdminClear(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Store().WithTx(r.Context(), func(tx *store.Tx) error {
		return tx.ClearSessions(r.Context())
	})
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.log.Info("admin clear")
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleAdminReset wipes everything, graph included.
func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Store().WithTx(r.Context(), func(tx *store.Tx) error {
		return tx.ResetAll(r.Context())
	})
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.log.Info("admin reset")
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
