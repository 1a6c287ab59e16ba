package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/agrovista/agromonitor/pkg/model"
	"github.com/agrovista/agromonitor/pkg/monitor"
)

// Server exposes the monitoring engine over a JSON HTTP API. Authentication
// happens upstream; the caller's identity arrives in the X-User-ID header.
type Server struct {
	engine *monitor.Engine
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates an API server.
func NewServer(engine *monitor.Engine, logger *slog.Logger) *Server {
	s := &Server{
		engine: engine,
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /api/v1/consumption", s.handleRecordConsumption)
	s.mux.HandleFunc("GET /api/v1/projects/{id}/consumption", s.handleProjectConsumption)
	s.mux.HandleFunc("GET /api/v1/thresholds", s.handleListThresholds)
	s.mux.HandleFunc("PUT /api/v1/thresholds", s.handleSetThreshold)
	s.mux.HandleFunc("GET /api/v1/alerts", s.handleListAlerts)
	s.mux.HandleFunc("GET /api/v1/alerts/recent", s.handleRecentAlerts)
	s.mux.HandleFunc("PUT /api/v1/alerts/{id}/state", s.handleAlertState)
	s.mux.HandleFunc("GET /api/v1/notification-preferences", s.handleGetPreferences)
	s.mux.HandleFunc("PUT /api/v1/notification-preferences", s.handlePutPreferences)
	s.mux.HandleFunc("POST /api/v1/sweep", s.handleSweep)
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type consumptionRequest struct {
	PlannedResourceID string  `json:"planned_resource_id"`
	Quantity          float64 `json:"quantity"`
	Date              string  `json:"date,omitempty"`
	Note              string  `json:"note,omitempty"`
}

func (s *Server) handleRecordConsumption(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	var req consumptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	input := monitor.RecordInput{
		PlannedResourceID: req.PlannedResourceID,
		Quantity:          req.Quantity,
		Note:              req.Note,
	}
	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD", map[string]any{"field": "date"})
			return
		}
		input.Date = date
	}

	record, err := s.engine.Recorder.Record(ctx, userID(r), input)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleProjectConsumption(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	projectID := r.PathValue("id")
	ok, err := s.engine.Access.CanAccess(ctx, userID(r), projectID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "project not found or not accessible", nil)
		return
	}

	summary, err := s.engine.Evaluator.ProjectConsumption(ctx, projectID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListThresholds(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	filter := model.ThresholdFilter{
		ProjectID:       r.URL.Query().Get("project"),
		ResourceTypeID:  r.URL.Query().Get("resource_type"),
		Kind:            model.AlertKind(r.URL.Query().Get("kind")),
		IncludeInactive: r.URL.Query().Get("include_inactive") == "true",
	}

	thresholds, err := s.engine.Storage.ListThresholds(ctx, filter)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thresholds": thresholds})
}

type thresholdRequest struct {
	ResourceTypeID string  `json:"resource_type_id,omitempty"`
	ProjectID      string  `json:"project_id,omitempty"`
	Kind           string  `json:"kind"`
	Percent        float64 `json:"percent,omitempty"`
	Days           int     `json:"days,omitempty"`
	MinQuantity    float64 `json:"min_quantity,omitempty"`
	Severity       string  `json:"severity,omitempty"`
	Active         *bool   `json:"active,omitempty"`
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	threshold := &model.Threshold{
		ResourceTypeID: req.ResourceTypeID,
		ProjectID:      req.ProjectID,
		Kind:           model.AlertKind(req.Kind),
		Percent:        req.Percent,
		Days:           req.Days,
		MinQuantity:    req.MinQuantity,
		Severity:       model.Severity(req.Severity),
		CreatedBy:      userID(r),
		Active:         true,
	}
	if req.Active != nil {
		threshold.Active = *req.Active
	}

	if err := s.engine.SetThreshold(ctx, threshold); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threshold)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	filter := model.AlertFilter{
		ProjectID: r.URL.Query().Get("project"),
		State:     model.AlertState(r.URL.Query().Get("state")),
		Severity:  model.Severity(r.URL.Query().Get("severity")),
		Limit:     50,
	}
	if filter.State != "" && filter.State != model.StateAll && !filter.State.Valid() {
		writeError(w, http.StatusBadRequest, "unknown alert state", map[string]any{"field": "state"})
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit", map[string]any{"field": "limit"})
			return
		}
		filter.Limit = n
	}

	alerts, err := s.engine.Storage.ListAlerts(ctx, filter)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	alerts, err := s.engine.Storage.ListAlerts(ctx, model.AlertFilter{
		State: model.StateActive,
		Limit: 10,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

type alertStateRequest struct {
	State string `json:"state"`
	Note  string `json:"note,omitempty"`
}

func (s *Server) handleAlertState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	var req alertStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	alert, err := s.engine.Alerts.Transition(ctx, r.PathValue("id"), model.AlertState(req.State), userID(r), req.Note)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	pref, err := s.engine.Filter.Preference(ctx, userID(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	var pref model.NotificationPreference
	if err := json.NewDecoder(r.Body).Decode(&pref); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	pref.UserID = userID(r)

	if err := s.engine.Filter.UpdatePreference(ctx, &pref); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &pref)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	created, err := s.engine.Evaluator.Sweep(ctx)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts_created": len(created)})
}

// writeEngineError maps the engine's error taxonomy to HTTP responses.
// Inaccessible records report as not found, matching how the lookup behaves
// for records that do not exist.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var overErr *model.OverconsumptionError
	var transErr *model.InvalidTransitionError
	var fieldErr *model.ValidationError
	var fieldErrs model.ValidationErrors

	switch {
	case errors.Is(err, model.ErrResourceNotFound):
		writeError(w, http.StatusNotFound, "planned resource not found or not accessible", nil)
	case errors.Is(err, model.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, "alert not found or not accessible", nil)
	case errors.Is(err, model.ErrAccessDenied):
		writeError(w, http.StatusNotFound, "not found or not accessible", nil)
	case errors.As(err, &overErr):
		writeError(w, http.StatusBadRequest, overErr.Error(), map[string]any{
			"prior":     overErr.Prior,
			"attempted": overErr.Attempted,
			"limit":     overErr.Limit,
		})
	case errors.As(err, &transErr):
		writeError(w, http.StatusConflict, transErr.Error(), map[string]any{
			"from": transErr.From,
			"to":   transErr.To,
		})
	case errors.As(err, &fieldErrs):
		details := make([]map[string]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			details = append(details, map[string]string{"field": fe.Field, "message": fe.Message})
		}
		writeError(w, http.StatusBadRequest, "invalid input", map[string]any{"fields": details})
	case errors.As(err, &fieldErr):
		writeError(w, http.StatusBadRequest, "invalid input", map[string]any{
			"fields": []map[string]string{{"field": fieldErr.Field, "message": fieldErr.Message}},
		})
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 10*time.Second)
}

func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string, details map[string]any) {
	body := map[string]any{"error": message}
	for k, v := range details {
		body[k] = v
	}
	writeJSON(w, status, body)
}
