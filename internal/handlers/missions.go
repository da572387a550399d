package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/flight"
	"github.com/ukydev/hems-dispatch/internal/middleware"
	"github.com/ukydev/hems-dispatch/internal/models"
	"github.com/ukydev/hems-dispatch/internal/telemetry"
	"github.com/ukydev/hems-dispatch/internal/tracking"
)

// MissionService is the mission control surface the handlers drive.
// *tracking.Registry implements it.
type MissionService interface {
	Dispatch(ctx context.Context, req tracking.DispatchRequest) (models.Mission, error)
	Snapshot(ctx context.Context, missionID string) (models.TrackingSnapshot, error)
	ApplyOverride(ctx context.Context, missionID string, patch models.TrackingPatch) (tracking.ApplyResult, error)
	SetOverride(ctx context.Context, missionID string, active bool) (models.TrackingSnapshot, error)
	SetSource(ctx context.Context, missionID string, src telemetry.Source) (models.TrackingSnapshot, error)
	Complete(ctx context.Context, missionID string, final *models.TrackingPatch) (models.Mission, error)
	Cancel(ctx context.Context, missionID string) (models.Mission, error)
	ActiveMissionForUser(ctx context.Context, userID string) (models.Mission, error)
	Ingest(ctx context.Context, missionID string, rec models.TrackingRecord, phase string) (tracking.ApplyResult, error)
}

// MissionHandler handles flight planning and mission control requests
type MissionHandler struct {
	missions MissionService
	metrics  flight.MetricsConfig
	log      *logrus.Entry
}

// NewMissionHandler creates a new mission handler
func NewMissionHandler(missions MissionService, metrics flight.MetricsConfig) *MissionHandler {
	return &MissionHandler{
		missions: missions,
		metrics:  metrics,
		log:      logrus.WithField("component", "handlers"),
	}
}

type flightMetricsRequest struct {
	Waypoints []models.Waypoint      `json:"waypoints"`
	Aircraft  models.AircraftProfile `json:"aircraft"`
}

// FlightMetrics computes distance, time, fuel and the go/no-go verdict of a
// circuit without dispatching anything.
func (h *MissionHandler) FlightMetrics(w http.ResponseWriter, r *http.Request) {
	var req flightMetricsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	metrics, err := flight.CalculateMetrics(req.Waypoints, req.Aircraft, h.metrics)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

type noGoResponse struct {
	Error   string               `json:"error"`
	Metrics models.FlightMetrics `json:"metrics"`
}

// Dispatch launches a mission for the caller
func (h *MissionHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}
	var req tracking.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	req.UserID = claims.UserID
	if req.Callsign == "" {
		http.Error(w, "callsign is required", http.StatusBadRequest)
		return
	}

	mission, err := h.missions.Dispatch(r.Context(), req)
	var noGo *tracking.NoGoError
	switch {
	case errors.As(err, &noGo):
		writeJSON(w, http.StatusUnprocessableEntity, noGoResponse{Error: noGo.Error(), Metrics: noGo.Metrics})
		return
	case errors.Is(err, flight.ErrInvalidProfile), errors.Is(err, flight.ErrInsufficientWaypoints):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		h.log.WithError(err).Error("Dispatch failed")
		http.Error(w, "Failed to dispatch mission", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, mission)
}

// Tracking returns the current tracking snapshot
func (h *MissionHandler) Tracking(w http.ResponseWriter, r *http.Request) {
	snap, err := h.missions.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeMissionError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// PatchTracking applies a tactical override partial update
func (h *MissionHandler) PatchTracking(w http.ResponseWriter, r *http.Request) {
	var patch models.TrackingPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	res, err := h.missions.ApplyOverride(r.Context(), chi.URLParam(r, "id"), patch)
	if errors.Is(err, telemetry.ErrEmptyOverride) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		writeMissionError(w, h.log, err)
		return
	}
	if !res.Accepted {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type overrideRequest struct {
	Active *bool `json:"active"`
}

// Override toggles tactical override
func (h *MissionHandler) Override(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		http.Error(w, "active is required", http.StatusBadRequest)
		return
	}
	snap, err := h.missions.SetOverride(r.Context(), chi.URLParam(r, "id"), *req.Active)
	if err != nil {
		writeMissionError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type sourceRequest struct {
	Source string `json:"source"`
}

// Source engages the autonomous simulation or the simulator bridge
func (h *MissionHandler) Source(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	src, err := telemetry.ParseSource(req.Source)
	if err != nil || src == telemetry.SourceOverride {
		http.Error(w, "source must be autonomous or bridge", http.StatusBadRequest)
		return
	}
	snap, err := h.missions.SetSource(r.Context(), chi.URLParam(r, "id"), src)
	if err != nil {
		writeMissionError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type completeRequest struct {
	Final *models.TrackingPatch `json:"final,omitempty"`
}

// Complete closes a mission and scores it
func (h *MissionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}
	mission, err := h.missions.Complete(r.Context(), chi.URLParam(r, "id"), req.Final)
	if err != nil {
		writeMissionError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, mission)
}

// Cancel closes a mission without scoring it
func (h *MissionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	mission, err := h.missions.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeMissionError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, mission)
}

func writeMissionError(w http.ResponseWriter, log *logrus.Entry, err error) {
	switch {
	case errors.Is(err, tracking.ErrMissionNotFound):
		http.Error(w, "Mission not found", http.StatusNotFound)
	case errors.Is(err, tracking.ErrMissionClosed):
		http.Error(w, "Mission is closed", http.StatusConflict)
	default:
		log.WithError(err).Error("Mission request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
