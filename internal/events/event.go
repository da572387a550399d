// Package events reacts to tracking transitions: it writes the mission log,
// asks the narrative collaborator for a dispatcher reply and fans events out
// to the broker. Nothing here may block the tracking path.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ukydev/hems-dispatch/internal/models"
)

// Kind classifies an event.
type Kind string

const (
	KindWaypointReached  Kind = "waypoint_reached"
	KindPhaseChanged     Kind = "phase_changed"
	KindMissionCompleted Kind = "mission_completed"
	KindMissionCancelled Kind = "mission_cancelled"
)

// Event is one notable transition of a mission.
type Event struct {
	ID        string                `json:"id"`
	MissionID string                `json:"missionId"`
	Callsign  string                `json:"callsign,omitempty"`
	Kind      Kind                  `json:"kind"`
	Code      string                `json:"code"`
	Waypoint  *models.Waypoint      `json:"waypoint,omitempty"`
	From      models.Phase          `json:"from,omitempty"`
	To        models.Phase          `json:"to,omitempty"`
	Record    models.TrackingRecord `json:"record"`
	At        time.Time             `json:"at"`
}

func newEvent(missionID string, kind Kind, code string, rec models.TrackingRecord, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		MissionID: missionID,
		Kind:      kind,
		Code:      code,
		Record:    rec,
		At:        at,
	}
}

// WaypointReached is emitted on the sample where the aircraft arrives at wp.
func WaypointReached(missionID string, wp models.Waypoint, from models.Phase, rec models.TrackingRecord, at time.Time) Event {
	e := newEvent(missionID, KindWaypointReached, "EVENT_WAYPOINT_REACHED:"+wp.Name, rec, at)
	e.Waypoint = &wp
	e.From = from
	e.To = rec.Phase
	return e
}

// PhaseChanged is emitted when the phase moves without a waypoint arrival.
func PhaseChanged(missionID string, from models.Phase, rec models.TrackingRecord, at time.Time) Event {
	e := newEvent(missionID, KindPhaseChanged, "EVENT_PHASE_CHANGED:"+string(rec.Phase), rec, at)
	e.From = from
	e.To = rec.Phase
	return e
}

// MissionCompleted is emitted once when a mission reaches its terminal
// completed state.
func MissionCompleted(missionID string, rec models.TrackingRecord, at time.Time) Event {
	e := newEvent(missionID, KindMissionCompleted, "EVENT_MISSION_COMPLETE", rec, at)
	e.To = models.PhaseComplete
	return e
}

// MissionCancelled is emitted once when a mission is cancelled.
func MissionCancelled(missionID string, rec models.TrackingRecord, at time.Time) Event {
	return newEvent(missionID, KindMissionCancelled, "EVENT_MISSION_CANCELLED", rec, at)
}

// SystemMessage is the mission log line recorded for e.
func (e Event) SystemMessage() string {
	switch e.Kind {
	case KindWaypointReached:
		return fmt.Sprintf("Waypoint reached: %s. Phase %s.", e.Waypoint.Name, e.To.Label())
	case KindPhaseChanged:
		return fmt.Sprintf("Phase changed: %s -> %s.", e.From.Label(), e.To.Label())
	case KindMissionCompleted:
		return "Mission complete. Tracking frozen."
	case KindMissionCancelled:
		return "Mission cancelled. Tracking frozen."
	}
	return e.Code
}

// FallbackReply is the canned dispatcher reply used when the narrative
// collaborator is unavailable.
func (e Event) FallbackReply() string {
	switch e.Kind {
	case KindWaypointReached:
		return fmt.Sprintf("Dispatch copies, arrival at %s. Continue as briefed.", e.Waypoint.Name)
	case KindPhaseChanged:
		return fmt.Sprintf("Dispatch copies, %s.", e.To.Label())
	case KindMissionCompleted:
		return "Dispatch copies, mission complete. Good work, crew."
	case KindMissionCancelled:
		return "Dispatch copies, mission cancelled. Return to base."
	}
	return "Dispatch copies."
}
