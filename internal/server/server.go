// Package server exposes the download engine over HTTP: starting runs,
// streaming progress, browsing the audit trail, and managing saved
// configurations and schedules.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tdhoang/reportfetch/internal/auditlog"
	"github.com/tdhoang/reportfetch/internal/catalog"
	"github.com/tdhoang/reportfetch/internal/config"
	"github.com/tdhoang/reportfetch/internal/coordinator"
	"github.com/tdhoang/reportfetch/internal/runstate"
	"github.com/tdhoang/reportfetch/internal/scheduler"
	"github.com/tdhoang/reportfetch/internal/store"
)

// streamPoll is how often the status stream checks for new messages.
const streamPoll = 500 * time.Millisecond

// finishedSentinel ends the status stream so clients know the run is over
// rather than the connection having dropped.
const finishedSentinel = "FINISHED"

// Server wires the engine's pieces to HTTP handlers.
type Server struct {
	Cfg    config.Config
	Log    *slog.Logger
	Coord  *coordinator.Coordinator
	State  *runstate.State
	Audit  *auditlog.Log
	Store  *store.Store
	Sched  *scheduler.Scheduler
	// RunCtx bounds background runs; it outlives individual requests.
	RunCtx context.Context
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/start-download", s.handleStartDownload)
	mux.HandleFunc("GET /api/stream-status", s.handleStreamStatus)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/reports-regions", s.handleReportsRegions)
	mux.HandleFunc("GET /api/configs", s.handleListConfigs)
	mux.HandleFunc("POST /api/configs", s.handleSaveConfig)
	mux.HandleFunc("GET /api/configs/{name}", s.handleGetConfig)
	mux.HandleFunc("DELETE /api/configs/{name}", s.handleDeleteConfig)
	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", s.handleAddSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleCancelSchedule)
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.Log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

// StartRun injects the server-held one-time seed and hands the request to
// the coordinator. The scheduler uses it too, via StartSaved.
func (s *Server) StartRun(req coordinator.Request) error {
	req.OTPSeed = s.Cfg.OTPSeed
	return s.Coord.Start(s.RunCtx, req)
}

// StartSaved starts a run from a saved configuration, for scheduled fires.
func (s *Server) StartSaved(ctx context.Context, name string) error {
	saved, err := s.Store.LoadConfig(ctx, name)
	if err != nil {
		return err
	}
	return s.StartRun(saved.Request)
}

func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req coordinator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if err := s.StartRun(req); err != nil {
		if errors.Is(err, coordinator.ErrRunActive) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	cursor := 0
	if c := r.URL.Query().Get("cursor"); c != "" {
		fmt.Sscanf(c, "%d", &cursor)
	}

	for {
		msgs, next, active := s.State.Snapshot(cursor)
		cursor = next
		for _, m := range msgs {
			fmt.Fprintf(w, "data: %s\n\n", m)
		}
		if len(msgs) > 0 {
			flusher.Flush()
		}
		if !active {
			fmt.Fprintf(w, "data: %s\n\n", finishedSentinel)
			flusher.Flush()
			return
		}
		select {
		case <-time.After(streamPoll):
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Audit.Read()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	type row struct {
		SessionID string `json:"session_id"`
		Timestamp string `json:"timestamp"`
		FileName  string `json:"file_name"`
		StartDate string `json:"start_date"`
		Status    string `json:"status"`
		EndDate   string `json:"end_date"`
		Error     string `json:"error,omitempty"`
	}
	out := make([]row, 0, len(rows))
	for _, o := range rows {
		out = append(out, row{
			SessionID: o.SessionID,
			Timestamp: o.Timestamp.Format("2006-01-02 15:04:05"),
			FileName:  o.FileName,
			StartDate: o.StartDate,
			Status:    o.Status,
			EndDate:   o.EndDate,
			Error:     o.Err,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReportsRegions(w http.ResponseWriter, r *http.Request) {
	type report struct {
		Key             string `json:"key"`
		Name            string `json:"name"`
		RequiresRegions bool   `json:"requires_regions"`
	}
	type region struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	var reports []report
	for _, rs := range catalog.Reports() {
		reports = append(reports, report{Key: rs.Key, Name: rs.Name, RequiresRegions: rs.RequiresRegions})
	}
	var regions []region
	for _, id := range catalog.RegionIDs() {
		rg, _ := catalog.RegionByID(id)
		regions = append(regions, region{ID: rg.ID, Name: rg.Name})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"reports": reports, "regions": regions})
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.Store.ListConfigs(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	type item struct {
		Name      string              `json:"name"`
		Request   coordinator.Request `json:"request"`
		UpdatedAt time.Time           `json:"updated_at"`
	}
	out := make([]item, 0, len(configs))
	for _, c := range configs {
		out = append(out, item{Name: c.Name, Request: c.Request, UpdatedAt: c.UpdatedAt})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string              `json:"name"`
		Request coordinator.Request `json:"request"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if body.Name == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("configuration name is required"))
		return
	}
	if err := body.Request.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Store.SaveConfig(r.Context(), body.Name, body.Request); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "name": body.Name})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	saved, err := s.Store.LoadConfig(r.Context(), r.PathValue("name"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"name": saved.Name, "request": saved.Request, "updated_at": saved.UpdatedAt})
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteConfig(r.Context(), r.PathValue("name")); err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.Sched.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	type item struct {
		ID         string    `json:"id"`
		ConfigName string    `json:"config_name"`
		RunAt      time.Time `json:"run_at"`
	}
	out := make([]item, 0, len(schedules))
	for _, sc := range schedules {
		out = append(out, item{ID: sc.ID, ConfigName: sc.ConfigName, RunAt: sc.RunAt})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ConfigName string    `json:"config_name"`
		RunAt      time.Time `json:"run_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	sched, err := s.Sched.Schedule(r.Context(), body.ConfigName, body.RunAt)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"id": sched.ID, "config_name": sched.ConfigName, "run_at": sched.RunAt})
}

func (s *Server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.Sched.Cancel(r.Context(), r.PathValue("id")); err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeError(w, http.StatusInternalServerError, err)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log.Error("encoding response failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
