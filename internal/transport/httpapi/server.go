// Package httpapi is the control-thread boundary of the engine: plans come
// in, get scheduled, and the request blocks until the run is consumed.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"cranesim.dev/internal/persistence/indexdb"
	"cranesim.dev/internal/protocol"
	"cranesim.dev/internal/sim/engine"
	"cranesim.dev/internal/sim/grid"
	"cranesim.dev/internal/sim/plan"
	"cranesim.dev/internal/sim/tuning"
)

type Server struct {
	engine *engine.Engine
	tune   tuning.Tuning
	index  *indexdb.SQLiteIndex // may be nil
	log    *log.Logger
}

func NewServer(e *engine.Engine, tune tuning.Tuning, index *indexdb.SQLiteIndex, logger *log.Logger) *Server {
	return &Server{engine: e, tune: tune, index: index, log: logger}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/plan", s.handlePlan)
	mux.HandleFunc("/v1/fill", s.handleFill)
	mux.HandleFunc("/v1/state", s.handleState)
	mux.HandleFunc("/v1/runs", s.handleRuns)
}

// handlePlan builds and submits a timeline, then blocks until the engine
// has consumed it. A container failure is a 200 with a failure reason; only
// rejected submissions are HTTP errors.
func (s *Server) handlePlan(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req protocol.PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "malformed plan: "+err.Error())
		return
	}
	if len(req.Actions) == 0 {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "plan has no actions")
		return
	}

	tl, err := plan.Build(s.tune.Size(), s.tune.Speeds.Move, s.tune.Speeds.AttachDetach, req.Actions)
	if err != nil {
		code := protocol.ErrBadRequest
		if errors.Is(err, grid.ErrOutOfBounds) {
			code = protocol.ErrOutOfBounds
		}
		writeError(rw, http.StatusBadRequest, code, err.Error())
		return
	}

	out, err := s.engine.Submit(tl)
	switch {
	case errors.Is(err, engine.ErrBusy):
		writeError(rw, http.StatusConflict, protocol.ErrEngineBusy, "a timeline is already running")
		return
	case errors.Is(err, engine.ErrTerminated):
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrEngineDown, "engine loop has stopped")
		return
	case err != nil:
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}

	resp := protocol.PlanResponse{
		RunID:     out.RunID,
		Reason:    out.Reason,
		Commands:  out.Commands,
		Executed:  out.Executed,
		ElapsedMs: out.ElapsedMs,
	}
	if out.Failed {
		at := out.FailedAt.ToArray()
		resp.FailedAt = &at
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (s *Server) handleFill(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req protocol.FillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "malformed fill: "+err.Error())
		return
	}
	if err := s.engine.Fill(req.Columns); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrOutOfBounds, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap := s.engine.Snapshot(true)
	writeJSON(rw, http.StatusOK, protocol.StateResponse{
		Tick:     snap.Tick,
		Running:  snap.Running,
		Crane:    snap.Crane.ToArray(),
		Attached: snap.Attached,
		Heights:  snap.Heights,
	})
}

func (s *Server) handleRuns(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.index == nil {
		writeError(rw, http.StatusNotFound, protocol.ErrBadRequest, "run index disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.index.RecentRuns(limit)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, rows)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSON(rw, status, protocol.ErrorResponse{Code: code, Message: msg})
}
