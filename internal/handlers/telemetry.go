package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/db"
	"github.com/ukydev/hems-dispatch/internal/events"
	"github.com/ukydev/hems-dispatch/internal/middleware"
	"github.com/ukydev/hems-dispatch/internal/models"
	"github.com/ukydev/hems-dispatch/internal/telemetry"
	"github.com/ukydev/hems-dispatch/internal/tracking"
)

// chatFallbackReply answers crew messages when the narrator is unavailable.
const chatFallbackReply = "Dispatch copies. Stand by."

// TelemetryHandler ingests simulator telemetry and relays crew chat
type TelemetryHandler struct {
	missions MissionService
	pilots   db.PilotStatusCollection
	logs     db.LogCollection
	narrator events.Narrator
	timeout  time.Duration
	log      *logrus.Entry
}

// NewTelemetryHandler creates a new telemetry handler. pilots, logs and
// narrator may be nil.
func NewTelemetryHandler(missions MissionService, pilots db.PilotStatusCollection, logs db.LogCollection, narrator events.Narrator, timeout time.Duration) *TelemetryHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelemetryHandler{
		missions: missions,
		pilots:   pilots,
		logs:     logs,
		narrator: narrator,
		timeout:  timeout,
		log:      logrus.WithField("component", "ingest"),
	}
}

// Ingest records the caller's live position, feeds it to their active
// mission and answers with the tactical status line as text/plain.
func (h *TelemetryHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var rep telemetry.Report
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		writeTactical(w, http.StatusBadRequest, "ERR:invalid telemetry")
		return
	}
	now := time.Now()
	entry := h.log.WithField("user_id", claims.UserID)

	h.upsertPilot(r.Context(), claims, rep, now)

	mission, err := h.missions.ActiveMissionForUser(r.Context(), claims.UserID)
	if errors.Is(err, tracking.ErrMissionNotFound) {
		writeTactical(w, http.StatusOK, telemetry.Standby.String())
		return
	}
	if err != nil {
		entry.WithError(err).Error("Active mission lookup failed")
		writeTactical(w, http.StatusInternalServerError, "ERR:mission lookup failed")
		return
	}
	if rep.MissionID != "" && rep.MissionID != mission.MissionID {
		entry.WithFields(logrus.Fields{"reported": rep.MissionID, "active": mission.MissionID}).Debug("Telemetry names another mission, using the active one")
	}

	res, err := h.missions.Ingest(r.Context(), mission.MissionID, rep.Record(), rep.Phase)
	switch {
	case errors.Is(err, tracking.ErrMissionClosed), errors.Is(err, tracking.ErrMissionNotFound):
		writeTactical(w, http.StatusOK, telemetry.Standby.String())
		return
	case err != nil:
		entry.WithError(err).WithField("mission_id", mission.MissionID).Error("Telemetry ingest failed")
		writeTactical(w, http.StatusInternalServerError, "ERR:ingest failed")
		return
	}
	if !res.Accepted {
		entry.WithFields(logrus.Fields{"mission_id": mission.MissionID, "reason": res.Reason}).Debug("Telemetry dropped")
	}
	if res.Completed {
		writeTactical(w, http.StatusOK, telemetry.Standby.String())
		return
	}
	// DIST and REM come from the tracker's record, which may differ from the
	// reported sample when the update was dropped.
	writeTactical(w, http.StatusOK, telemetry.NewTacticalStatus(mission, res.Record).String())
}

func (h *TelemetryHandler) upsertPilot(ctx context.Context, claims *models.Claims, rep telemetry.Report, now time.Time) {
	if h.pilots == nil {
		return
	}
	callsign := rep.Callsign
	if callsign == "" {
		callsign = claims.Username
	}
	err := h.pilots.UpsertPilotStatus(ctx, models.PilotStatus{
		UserID:           claims.UserID,
		Callsign:         callsign,
		LastSeen:         now,
		Latitude:         rep.Latitude,
		Longitude:        rep.Longitude,
		AltitudeFt:       rep.AltitudeFt,
		GroundSpeedKts:   rep.GroundSpeedKts,
		HeadingDeg:       rep.HeadingDeg,
		FuelRemainingLbs: rep.FuelRemainingLbs,
		Phase:            rep.Phase,
	})
	if err != nil {
		h.log.WithError(err).WithField("user_id", claims.UserID).Warn("Failed to update live pilot status")
	}
}

type chatRequest struct {
	MissionID   string `json:"mission_id"`
	CrewMessage string `json:"crew_message"`
}

type chatReply struct {
	ResponseText string `json:"response_text"`
}

// ChatRelay logs a crew message, asks the narrator for the dispatcher's
// answer and logs that too.
func (h *TelemetryHandler) ChatRelay(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	req.CrewMessage = strings.TrimSpace(req.CrewMessage)
	if req.CrewMessage == "" {
		http.Error(w, "crew_message is required", http.StatusBadRequest)
		return
	}
	if req.MissionID == "" {
		m, err := h.missions.ActiveMissionForUser(r.Context(), claims.UserID)
		if err != nil {
			http.Error(w, "No active mission", http.StatusNotFound)
			return
		}
		req.MissionID = m.MissionID
	}

	entry := h.log.WithFields(logrus.Fields{"mission_id": req.MissionID, "user_id": claims.UserID})
	h.appendLog(r.Context(), req.MissionID, models.SenderCrew, req.CrewMessage)

	reply := chatFallbackReply
	if h.narrator != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		text, err := h.narrator.Narrate(ctx, req.MissionID, req.CrewMessage)
		cancel()
		if err != nil {
			entry.WithError(err).Warn("Narrator unavailable, using fallback reply")
		} else {
			reply = text
		}
	}
	h.appendLog(r.Context(), req.MissionID, models.SenderDispatch, reply)
	writeJSON(w, http.StatusOK, chatReply{ResponseText: reply})
}

func (h *TelemetryHandler) appendLog(ctx context.Context, missionID, sender, message string) {
	if h.logs == nil {
		return
	}
	err := h.logs.InsertLog(ctx, models.LogEntry{
		MissionID: missionID,
		Sender:    sender,
		Message:   message,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.log.WithError(err).WithField("mission_id", missionID).Warn("Failed to append mission log")
	}
}

func writeTactical(w http.ResponseWriter, status int, line string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, line)
}
