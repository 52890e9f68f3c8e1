package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/dpmconv/internal/core"
	"github.com/JonMunkholm/dpmconv/internal/logging"
	"github.com/JonMunkholm/dpmconv/internal/store"
)

// maxRequestBody bounds the JSON body of a run request.
const maxRequestBody = 1 << 20

// HealthResponse reports service readiness.
type HealthResponse struct {
	Status   string                `json:"status"`
	Database string                `json:"database"`
	Runs     core.RunLimiterStatus `json:"runs"`
}

// handleHealth reports the limiter state and, when configured, pings the
// database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "disabled", Runs: s.service.Limiter().Status()}
	status := http.StatusOK

	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			logging.Enrich(r.Context(), s.log).Warn("health check failed", "error", err)
			resp.Status, resp.Database = "degraded", "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}
	s.writeJSON(w, status, resp)
}

// handleKinds lists the registered kinds in processing order.
func (s *Server) handleKinds(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Kinds())
}

// StartRunResponse is returned when a run is accepted.
type StartRunResponse struct {
	RunID     string `json:"run_id"`
	StatusURL string `json:"status_url"`
}

// handleStartRun starts a run. An empty body runs the configured source
// directory.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req core.RunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondRequestError(w, http.StatusBadRequest, codeBadRequest, "invalid run request: "+err.Error())
		return
	}
	if req.Workers < 0 {
		s.respondRequestError(w, http.StatusBadRequest, codeBadRequest, "workers must be positive")
		return
	}

	ctx := core.ContextWithTrigger(r.Context(), core.TriggerAPI)
	id, err := s.service.Start(ctx, req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.Enrich(r.Context(), s.log).Info("run accepted", "run_id", id, "source_dir", req.SourceDir)
	s.writeJSON(w, http.StatusAccepted, StartRunResponse{RunID: id, StatusURL: "/api/runs/" + id})
}

// handleListRuns returns all tracked runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.List())
}

// handleGetRun returns the status of one run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Status(chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// handleCancelRun cancels an in-progress run.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	if err := s.service.Cancel(id); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "run_id": id})
}

// handleRunMetadata returns the full metadata of a finished run.
func (s *Server) handleRunMetadata(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Result(chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result.Metadata)
}

// GraphResponse summarizes the relationship graph of a run.
type GraphResponse struct {
	Nodes   int                `json:"nodes"`
	Summary core.Summary       `json:"summary"`
	Missing []core.MissingLink `json:"missing"`
}

// handleRunGraph returns the graph summary and the missing links of a
// finished run.
func (s *Server) handleRunGraph(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Result(chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	g := result.Graph
	missing := g.Missing()
	if missing == nil {
		missing = []core.MissingLink{}
	}
	s.writeJSON(w, http.StatusOK, GraphResponse{Nodes: g.NodeCount(), Summary: g.Summary(), Missing: missing})
}

// LinkResponse lists the edges of one graph link, or the neighbours of a
// single node when the node query parameter is set.
type LinkResponse struct {
	Link     string      `json:"link"`
	Edges    []core.Edge `json:"edges,omitempty"`
	Node     string      `json:"node,omitempty"`
	Children []string    `json:"children,omitempty"`
	Parents  []string    `json:"parents,omitempty"`
}

// handleGraphLink returns the edges of a named link of a finished run.
func (s *Server) handleGraphLink(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Result(chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	g, link := result.Graph, chi.URLParam(r, "link")
	if !slices.ContainsFunc(g.Links(), func(l core.LinkSpec) bool { return l.Name == link }) {
		s.respondRequestError(w, http.StatusNotFound, codeUnavailable, "unknown graph link "+link)
		return
	}

	resp := LinkResponse{Link: link}
	if node := r.URL.Query().Get("node"); node != "" {
		resp.Node = node
		resp.Children = g.Children(link, node)
		resp.Parents = g.Parents(link, node)
	} else {
		resp.Edges = g.Edges(link)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleDocument streams the document of a finished run. Errors detected
// before the first byte are returned as JSON; later ones can only be logged.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	if _, err := s.service.Result(id); err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.json"`)
	w.Header().Set("X-Accel-Buffering", "no")
	if err := s.service.WriteDocument(r.Context(), id, w); err != nil {
		logging.Enrich(r.Context(), s.log).Error("document stream failed", "run_id", id, "error", err)
	}
}

// StoredRowsResponse lists the persisted rows of a section.
type StoredRowsResponse struct {
	Section string            `json:"section"`
	Rows    []store.StoredRow `json:"rows"`
}

// handleStoredRows lists the persisted rows of a section.
func (s *Server) handleStoredRows(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondRequestError(w, http.StatusNotFound, codeUnavailable, "no database configured")
		return
	}

	section := chi.URLParam(r, "section")
	rows, err := s.store.Rows(r.Context(), section)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if rows == nil {
		rows = []store.StoredRow{}
	}
	s.writeJSON(w, http.StatusOK, StoredRowsResponse{Section: section, Rows: rows})
}
