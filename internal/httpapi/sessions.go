package httpapi

import (
	"net/http"

	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/expr"
	"github.com/roach88/weave/internal/story"
)

type createSessionRequest struct {
	StartNodeID *int64 `json:"startNodeId" validate:"omitempty,min=1"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	sess, err := s.engine.CreateSession(r.Context(), req.StartNodeID)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.engine.Store().ListSessions(r.Context())
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	view, err := s.engine.View(r.Context(), id)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

type startRequest struct {
	Title   string         `json:"title" validate:"required"`
	Content map[string]any `json:"content"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req startRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	node, err := s.engine.SetStart(r.Context(), id, req.Title, req.Content)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, node)
}

type decisionRequest struct {
	EdgeID int64 `json:"edgeId" validate:"required,min=1"`
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req decisionRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.requireRunning(r, id); err != nil {
		s.respondEngineError(w, err)
		return
	}
	result, err := s.engine.ApplyDecision(r.Context(), id, req.EdgeID)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// requireRunning rejects decision traffic against ended sessions. The
// data layer deliberately does not enforce this.
func (s *Server) requireRunning(r *http.Request, sessionID int64) error {
	sess, err := s.engine.Store().GetSession(r.Context(), sessionID)
	if err != nil {
		return &engine.Error{Code: engine.ErrCodeNotFound, Message: "session not found", SessionID: sessionID}
	}
	if sess.Status == story.StatusEnded {
		return &engine.Error{Code: engine.ErrCodeSessionEnded, Message: "session has ended", SessionID: sessionID}
	}
	return nil
}

type rewindRequest struct {
	Steps int `json:"steps" validate:"required,min=1"`
}

func (s *Server) handleRewind(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req rewindRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	result, err := s.engine.Rewind(r.Context(), id, req.Steps)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type jumpRequest struct {
	ToNodeID int64 `json:"toNodeId" validate:"required,min=1"`
}

func (s *Server) handleJump(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req jumpRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.engine.Jump(r.Context(), id, req.ToNodeID); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"currentNodeId": req.ToNodeID})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.engine.End(r.Context(), id); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": story.StatusEnded})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	history, err := s.engine.History(r.Context(), id)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	options, err := s.engine.VisibleOptions(r.Context(), id)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"options": options})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	mode := engine.GraphMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = engine.GraphModeVisited
	}
	if mode != engine.GraphModeAll && mode != engine.GraphModeVisited {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "mode must be all or visited")
		return
	}
	view, err := s.engine.Graph(r.Context(), id, mode)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// stateRequest either replaces the whole document (state set) or
// applies effect operations to it.
type stateRequest struct {
	State  expr.Doc           `json:"state"`
	Set    map[string]any     `json:"set"`
	Add    map[string]float64 `json:"add"`
	Toggle []string           `json:"toggle"`
	Push   map[string]any     `json:"push"`
	Remove []string           `json:"remove"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req stateRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	var state expr.Doc
	if req.State != nil {
		state, err = s.engine.ReplaceState(r.Context(), id, req.State)
	} else {
		effect := expr.Effect{Set: req.Set, Add: req.Add, Toggle: req.Toggle, Push: req.Push, Remove: req.Remove}
		if effect.IsZero() {
			respondError(w, http.StatusBadRequest, "BAD_REQUEST", "body must carry state or at least one operation")
			return
		}
		state, err = s.engine.PatchState(r.Context(), id, effect)
	}
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"state": state})
}

type expandRequest struct {
	Edges []engine.ExpandEdge `json:"edges" validate:"required,min=1,dive"`
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req expandRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	for _, spec := range req.Edges {
		if spec.Label == "" {
			respondError(w, http.StatusBadRequest, "BAD_REQUEST", "every edge needs a label")
			return
		}
	}
	edges, err := s.engine.Expand(r.Context(), id, req.Edges)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"edges": edges})
}

type addOptionRequest struct {
	Label       string         `json:"label" validate:"required"`
	NodeTitle   string         `json:"nodeTitle" validate:"required"`
	NodeContent map[string]any `json:"nodeContent"`
}

func (s *Server) handleAddOption(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sessionID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req addOptionRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	edge, node, err := s.engine.AddOption(r.Context(), id, req.Label, req.NodeTitle, req.NodeContent)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"edge": edge, "node": node})
}
