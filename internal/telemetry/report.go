package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ukydev/hems-dispatch/internal/flight"
	"github.com/ukydev/hems-dispatch/internal/models"
)

// DefaultBurnRateLbPerHr is assumed for endurance when a mission's profile
// carries no burn rate.
const DefaultBurnRateLbPerHr = 450.0

// Report is the body a simulator plugin or desktop bridge posts to the
// ingestion endpoint.
type Report struct {
	MissionID          string  `json:"mission_id,omitempty"`
	Callsign           string  `json:"callsign,omitempty"`
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	AltitudeFt         float64 `json:"altitudeFt"`
	GroundSpeedKts     float64 `json:"groundSpeedKts"`
	HeadingDeg         float64 `json:"headingDeg"`
	VerticalSpeedFtMin float64 `json:"verticalSpeedFtMin,omitempty"`
	FuelRemainingLbs   float64 `json:"fuelRemainingLbs"`
	TimeEnrouteMinutes float64 `json:"timeEnrouteMinutes,omitempty"`
	EngineStatus       string  `json:"engineStatus,omitempty"`
	Phase              string  `json:"phase,omitempty"`
}

// NewReport builds a report carrying rec for missionID.
func NewReport(missionID string, rec models.TrackingRecord) Report {
	rec = rec.Sanitize()
	r := Report{
		MissionID:          missionID,
		Latitude:           rec.Latitude,
		Longitude:          rec.Longitude,
		AltitudeFt:         rec.AltitudeFt,
		GroundSpeedKts:     rec.GroundSpeedKts,
		HeadingDeg:         rec.HeadingDeg,
		VerticalSpeedFtMin: rec.VerticalSpeedFtMin,
		FuelRemainingLbs:   rec.FuelRemainingLbs,
		TimeEnrouteMinutes: rec.TimeEnrouteMinutes,
		EngineStatus:       rec.EngineStatus,
	}
	if rec.Phase != "" {
		r.Phase = string(rec.Phase)
	}
	return r
}

// Record returns the canonical record with non-finite values zeroed. The
// phase is left for the adapter to resolve.
func (r Report) Record() models.TrackingRecord {
	return models.TrackingRecord{
		Latitude:           r.Latitude,
		Longitude:          r.Longitude,
		AltitudeFt:         r.AltitudeFt,
		GroundSpeedKts:     r.GroundSpeedKts,
		HeadingDeg:         r.HeadingDeg,
		VerticalSpeedFtMin: r.VerticalSpeedFtMin,
		FuelRemainingLbs:   r.FuelRemainingLbs,
		TimeEnrouteMinutes: r.TimeEnrouteMinutes,
		EngineStatus:       r.EngineStatus,
	}.Sanitize()
}

// TacticalStatus is the compact reply read by cockpit scripts.
type TacticalStatus struct {
	MissionID    string
	Destination  string
	Phase        string
	DistanceNM   float64
	RemainingMin int
	Patient      string
}

// Standby is the reply when the pilot has no active mission.
var Standby = TacticalStatus{
	MissionID:   "NONE",
	Destination: "STANDBY",
	Phase:       "ONLINE",
	Patient:     "NONE",
}

// NewTacticalStatus describes m as seen from position rec.
func NewTacticalStatus(m models.Mission, rec models.TrackingRecord) TacticalStatus {
	burn := m.Helicopter.FuelBurnRateLbPerHr
	if burn <= 0 {
		burn = DefaultBurnRateLbPerHr
	}
	phase := string(rec.Phase)
	if phase == "" {
		phase = "ENROUTE"
	}
	age := "?"
	if m.Patient.Age > 0 {
		age = strconv.Itoa(m.Patient.Age)
	}
	gender := m.Patient.Gender
	if gender == "" {
		gender = "?"
	}
	return TacticalStatus{
		MissionID:    m.MissionID,
		Destination:  m.Destination.Name,
		Phase:        phase,
		DistanceNM:   flight.DistanceNM(rec.Latitude, rec.Longitude, m.Destination.Latitude, m.Destination.Longitude),
		RemainingMin: int(math.Floor(math.Max(0, rec.FuelRemainingLbs) / burn * 60)),
		Patient:      age + gender,
	}
}

// String renders the pipe-delimited wire form.
func (s TacticalStatus) String() string {
	if s == Standby {
		return "ID:NONE|TO:STANDBY|PHASE:ONLINE|DIST:0|REM:0|PT:NONE"
	}
	return fmt.Sprintf("ID:%s|TO:%s|PHASE:%s|DIST:%.1f|REM:%d|PT:%s",
		s.MissionID, s.Destination, s.Phase, s.DistanceNM, s.RemainingMin, s.Patient)
}

// Active reports whether the status names a mission.
func (s TacticalStatus) Active() bool {
	return s.MissionID != "" && s.MissionID != Standby.MissionID
}

// ParseTacticalStatus reads the wire form. Unknown keys are ignored.
func ParseTacticalStatus(raw string) (TacticalStatus, error) {
	var s TacticalStatus
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s, fmt.Errorf("empty tactical status")
	}
	for _, field := range strings.Split(raw, "|") {
		key, value, ok := strings.Cut(field, ":")
		if !ok {
			return s, fmt.Errorf("malformed tactical status field %q", field)
		}
		switch key {
		case "ID":
			s.MissionID = value
		case "TO":
			s.Destination = value
		case "PHASE":
			s.Phase = value
		case "DIST":
			d, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return s, fmt.Errorf("tactical status distance: %w", err)
			}
			s.DistanceNM = d
		case "REM":
			n, err := strconv.Atoi(value)
			if err != nil {
				return s, fmt.Errorf("tactical status endurance: %w", err)
			}
			s.RemainingMin = n
		case "PT":
			s.Patient = value
		}
	}
	if s.MissionID == "" {
		return s, fmt.Errorf("tactical status has no mission id")
	}
	return s, nil
}
