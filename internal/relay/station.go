// Package relay connects a desktop flight simulator to the cloud tracking
// service: it reads the simulator (X-Plane Web API, a plugin WebSocket, or a
// local bridge), keeps the newest reading and uplinks it to the cloud.
package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/ukydev/hems-dispatch/internal/telemetry"
)

var (
	// ErrUnauthorized is returned when the cloud rejects the bridge's
	// credentials. The uplink stops until the bridge is restarted with new
	// ones; the simulator inputs and local surface keep running.
	ErrUnauthorized = errors.New("cloud rejected bridge credentials")
	// ErrNotConnected is returned when a command is sent while the plugin
	// connection is down.
	ErrNotConnected = errors.New("plugin not connected")
)

// SimConnectedWindow is how recent the last packet must be for the
// simulator to count as connected.
const SimConnectedWindow = 5 * time.Second

// BridgeStatus is the link health shown by the local bridge UI.
type BridgeStatus struct {
	SimConnected       bool    `json:"simConnected"`
	CloudConnected     bool    `json:"cloudConnected"`
	ActiveMissionID    *string `json:"activeMissionId"`
	LastPacketReceived int64   `json:"lastPacketReceived"`
	// CloudAuthRejected is set once the cloud refused the credentials.
	CloudAuthRejected bool `json:"cloudAuthRejected"`
}

// StatusResponse is the body of GET /api/status on the local bridge.
type StatusResponse struct {
	Status    BridgeStatus      `json:"status"`
	Telemetry *telemetry.Report `json:"telemetry"`
}

// Station holds the newest simulator reading and the link health shared by
// the bridge loops. A reading not yet uplinked is replaced by a newer one.
type Station struct {
	missionID string

	mu         sync.Mutex
	report     *telemetry.Report
	pending    bool
	lastPacket time.Time
	cloud      bool
	rejected   bool
	tactical   telemetry.TacticalStatus
}

// NewStation creates a station. missionID, when set, is stamped on readings
// that name no mission.
func NewStation(missionID string) *Station {
	return &Station{missionID: missionID, tactical: telemetry.Standby}
}

// Record stores a reading received at.
func (s *Station) Record(r telemetry.Report, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = &r
	s.pending = true
	s.lastPacket = at
}

// RecordPlugin stores a plugin telemetry message received now.
func (s *Station) RecordPlugin(p telemetry.PluginTelemetry) {
	r := telemetry.NewReport(p.MissionID, p.Record())
	r.Phase = p.Phase
	s.Record(r, time.Now())
}

// Take returns the pending reading, if any, and marks it sent.
func (s *Station) Take() (telemetry.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending || s.report == nil {
		return telemetry.Report{}, false
	}
	s.pending = false
	r := *s.report
	if r.MissionID == "" {
		r.MissionID = s.activeMissionLocked()
	}
	return r, true
}

// MarkCloud records the outcome of an uplink. status is nil on failure.
func (s *Station) MarkCloud(status *telemetry.TacticalStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cloud = status != nil
	if status != nil {
		s.tactical = *status
	}
}

// MarkUnauthorized records that the cloud refused the credentials.
func (s *Station) MarkUnauthorized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cloud = false
	s.rejected = true
}

// Unauthorized reports whether the cloud refused the credentials.
func (s *Station) Unauthorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// Tactical is the last status the cloud replied with.
func (s *Station) Tactical() telemetry.TacticalStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tactical
}

// ActiveMission is the mission the cloud last reported, or the configured
// one.
func (s *Station) ActiveMission() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeMissionLocked()
}

func (s *Station) activeMissionLocked() string {
	if s.tactical.Active() {
		return s.tactical.MissionID
	}
	return s.missionID
}

// Status builds the local bridge status as of now.
func (s *Station) Status(now time.Time) StatusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := StatusResponse{
		Status: BridgeStatus{
			SimConnected:      !s.lastPacket.IsZero() && now.Sub(s.lastPacket) < SimConnectedWindow,
			CloudConnected:    s.cloud,
			CloudAuthRejected: s.rejected,
		},
	}
	if !s.lastPacket.IsZero() {
		resp.Status.LastPacketReceived = s.lastPacket.UnixMilli()
	}
	if id := s.activeMissionLocked(); id != "" {
		resp.Status.ActiveMissionID = &id
	}
	if s.report != nil {
		r := *s.report
		resp.Telemetry = &r
	}
	return resp
}
