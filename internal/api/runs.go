package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/marketflow/internal/core"
)

// CreateRunRequest is the body of POST /api/v1/runs.
type CreateRunRequest struct {
	Request string `json:"request"`
}

// RunCreatedResponse acknowledges a started run.
type RunCreatedResponse struct {
	RunID   core.RunID `json:"run_id"`
	Intents []string   `json:"intents,omitempty"`
	Status  string     `json:"status"`
}

// AgentResponse describes a registered agent.
type AgentResponse struct {
	ID             core.AgentID   `json:"id"`
	Critical       bool           `json:"critical"`
	Priority       int            `json:"priority"`
	MaxRetries     int            `json:"max_retries"`
	Timeout        string         `json:"timeout"`
	RequiredInputs []core.AgentID `json:"required_inputs"`
	OptionalInputs []core.AgentID `json:"optional_inputs"`
	// Level is the agent's layer in the dependency graph, starting at 0.
	Level      int            `json:"level"`
	Dependents []core.AgentID `json:"dependents"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	reg := s.runs.Registry()
	levels := make(map[core.AgentID]int)
	for i, level := range reg.Levels() {
		for _, id := range level {
			levels[id] = i
		}
	}
	descs := reg.Descriptors()
	out := make([]AgentResponse, 0, len(descs))
	for _, d := range descs {
		out = append(out, AgentResponse{
			ID:             d.ID,
			Critical:       d.Critical,
			Priority:       d.Priority,
			MaxRetries:     d.AttemptLimit(),
			Timeout:        d.Timeout.String(),
			RequiredInputs: nonNil(d.RequiredInputs),
			OptionalInputs: nonNil(d.OptionalInputs),
			Level:          levels[d.ID],
			Dependents:     nonNil(reg.Dependents(d.ID)),
		})
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.List(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := runs[:0]
		for _, run := range runs {
			if strings.EqualFold(string(run.Status), status) {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}
	if runs == nil {
		runs = []core.RunSummary{}
	}
	s.respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.runs.Start(s.runCtx, req.Request)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	resp := RunCreatedResponse{RunID: id, Status: string(core.StatusRunning)}
	if snap, err := s.runs.Get(r.Context(), id); err == nil {
		resp.Status = string(snap.Status)
		for _, in := range snap.Intents.Sorted() {
			resp.Intents = append(resp.Intents, string(in))
		}
	}
	w.Header().Set("Location", "/api/v1/runs/"+string(id))
	s.respondJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	snap, err := s.runs.Get(r.Context(), runID(r))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRunLog(w http.ResponseWriter, r *http.Request) {
	log, err := s.runs.ExecutionLog(r.Context(), runID(r))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if log == nil {
		log = []core.HistoryEntry{}
	}
	s.respondJSON(w, http.StatusOK, log)
}

func (s *Server) handleRunDone(w http.ResponseWriter, r *http.Request) {
	id := runID(r)
	done, err := s.runs.IsDone(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"run_id": id, "done": done})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := runID(r)
	if s.runs.Cancel(id) {
		s.respondJSON(w, http.StatusAccepted, map[string]interface{}{"run_id": id, "cancelled": true})
		return
	}
	snap, err := s.runs.Get(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusConflict, map[string]string{
		"error": "run is not active",
		"code":  core.CodeRunAlreadyFinal,
		"state": string(snap.Status),
	})
}

func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	id := runID(r)
	snap, err := s.runs.Get(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if snap.Status.IsTerminal() {
		s.respondJSON(w, http.StatusConflict, map[string]string{
			"error": "run already finished",
			"code":  core.CodeRunAlreadyFinal,
			"state": string(snap.Status),
		})
		return
	}
	go func() {
		if _, err := s.runs.Resume(s.runCtx, id); err != nil {
			s.logger.Warn("resumed run ended with error", "run_id", id, "error", err)
		}
	}()
	s.respondJSON(w, http.StatusAccepted, RunCreatedResponse{RunID: id, Status: string(core.StatusRunning)})
}

func runID(r *http.Request) core.RunID {
	return core.RunID(chi.URLParam(r, "runID"))
}

func nonNil(ids []core.AgentID) []core.AgentID {
	if ids == nil {
		return []core.AgentID{}
	}
	return ids
}
