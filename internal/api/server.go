// Package api serves the operator-facing HTTP surface: round lifecycle
// control, history browsing, settings, device presence, and the live
// event stream.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/strikelab/impact.report/internal/classify"
	"github.com/strikelab/impact.report/internal/db"
	"github.com/strikelab/impact.report/internal/httputil"
	"github.com/strikelab/impact.report/internal/metrics"
	"github.com/strikelab/impact.report/internal/presence"
	"github.com/strikelab/impact.report/internal/report"
	"github.com/strikelab/impact.report/internal/round"
	"github.com/strikelab/impact.report/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	db       *db.DB
	rounds   *round.Lifecycle
	presence *presence.Tracker
	metrics  *metrics.Metrics

	// streamTick overrides the stream poll period in tests; zero means
	// the dispatcher default.
	streamTick time.Duration
}

func NewServer(database *db.DB, rounds *round.Lifecycle, tracker *presence.Tracker, m *metrics.Metrics) *Server {
	return &Server{
		db:       database,
		rounds:   rounds,
		presence: tracker,
		metrics:  m,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/rounds/start", s.startRound)
	mux.HandleFunc("POST /api/rounds/stop", s.stopRound)
	mux.HandleFunc("GET /api/rounds", s.listRounds)
	mux.HandleFunc("GET /api/rounds/{id}", s.showRound)
	mux.HandleFunc("DELETE /api/rounds/{id}", s.deleteRound)
	mux.HandleFunc("GET /api/rounds/{id}/summary", s.showSummary)
	mux.HandleFunc("GET /api/rounds/{id}/chart", s.showChart)
	mux.HandleFunc("GET /api/online", s.showOnline)
	mux.HandleFunc("GET /api/settings", s.showSettings)
	mux.HandleFunc("POST /api/settings", s.updateSettings)
	mux.HandleFunc("GET /api/stream", s.streamEvents)
	mux.HandleFunc("GET /api/version", s.showVersion)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

type startRoundRequest struct {
	TrainingName string `json:"training_name"`
	DeviceID     string `json:"device_id"`
	// Channels optionally remaps positions to sensor channels for this
	// round only; empty means the settings defaults.
	Channels     *[classify.Positions]string `json:"channels"`
	CustomFields map[string]string           `json:"custom_fields"`
}

func (s *Server) startRound(w http.ResponseWriter, r *http.Request) {
	var req startRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if req.TrainingName == "" {
		httputil.BadRequest(w, "training_name is required")
		return
	}
	if req.DeviceID == "" {
		httputil.BadRequest(w, "device_id is required")
		return
	}

	settings, err := s.db.Settings()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load settings: %v", err))
		return
	}

	// The round snapshots the settings at start; later settings edits do
	// not touch a running round.
	custom := make(map[string]string)
	for _, f := range settings.CustomFields {
		custom[f.Name] = f.Default
	}
	for k, v := range req.CustomFields {
		custom[k] = v
	}

	channels := settings.Channels
	if req.Channels != nil {
		channels = *req.Channels
	}

	newRound := &db.Round{
		TrainingName: req.TrainingName,
		DeviceID:     req.DeviceID,
		Channels:     channels,
		Labels:       settings.Labels,
		Bands:        settings.Bands,
		CustomFields: custom,
	}
	if _, err := s.rounds.Start(newRound); err != nil {
		if errors.Is(err, round.ErrAlreadyActive) {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to start round: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, newRound)
}

func (s *Server) stopRound(w http.ResponseWriter, r *http.Request) {
	if err := s.rounds.Stop(); err != nil {
		if errors.Is(err, round.ErrNotActive) {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to stop round: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "stopped"})
}

func (s *Server) listRounds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := db.RoundFilter{
		TrainingName: q.Get("training_name"),
		DeviceID:     q.Get("device_id"),
		SortBy:       q.Get("sort_by"),
		SortOrder:    q.Get("sort_order"),
	}
	rounds, err := s.db.ListRounds(filter)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list rounds: %v", err))
		return
	}
	if rounds == nil {
		rounds = []db.Round{}
	}
	httputil.WriteJSONOK(w, rounds)
}

func (s *Server) roundID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		httputil.BadRequest(w, "invalid round id")
		return 0, false
	}
	return id, true
}

func (s *Server) showRound(w http.ResponseWriter, r *http.Request) {
	id, ok := s.roundID(w, r)
	if !ok {
		return
	}
	rnd, err := s.db.GetRound(id)
	if err != nil {
		if errors.Is(err, db.ErrRoundNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to get round: %v", err))
		return
	}
	events, err := s.db.RoundEvents(id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to get round events: %v", err))
		return
	}
	if events == nil {
		events = []db.Event{}
	}
	httputil.WriteJSONOK(w, map[string]any{
		"round":  rnd,
		"events": events,
	})
}

func (s *Server) deleteRound(w http.ResponseWriter, r *http.Request) {
	id, ok := s.roundID(w, r)
	if !ok {
		return
	}
	if activeID, _, active := s.rounds.Active(); active && activeID == id {
		httputil.Conflict(w, "cannot delete the active round")
		return
	}
	if err := s.db.DeleteRound(id); err != nil {
		if errors.Is(err, db.ErrRoundNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to delete round: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "deleted"})
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := s.roundID(w, r)
	if !ok {
		return
	}
	if _, err := s.db.GetRound(id); err != nil {
		if errors.Is(err, db.ErrRoundNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to get round: %v", err))
		return
	}
	events, err := s.db.RoundEvents(id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to get round events: %v", err))
		return
	}
	httputil.WriteJSONOK(w, report.Summarize(id, events))
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	id, ok := s.roundID(w, r)
	if !ok {
		return
	}
	rnd, err := s.db.GetRound(id)
	if err != nil {
		if errors.Is(err, db.ErrRoundNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to get round: %v", err))
		return
	}
	events, err := s.db.EventsAfter(id, 0)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to get round events: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderForceChart(w, rnd, events); err != nil {
		log.Printf("failed to render chart for round %d: %v", id, err)
	}
}

func (s *Server) showOnline(w http.ResponseWriter, r *http.Request) {
	devices := s.presence.Online(time.Now())
	if devices == nil {
		devices = []presence.Device{}
	}
	httputil.WriteJSONOK(w, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

func (s *Server) showSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.db.Settings()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load settings: %v", err))
		return
	}
	httputil.WriteJSONOK(w, settings)
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var settings db.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	for i, b := range settings.Bands {
		if b.Min > b.Max {
			httputil.BadRequest(w, fmt.Sprintf("band %d: min exceeds max", i+1))
			return
		}
	}
	if err := s.db.UpdateSettings(settings); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to update settings: %v", err))
		return
	}
	httputil.WriteJSONOK(w, settings)
}
