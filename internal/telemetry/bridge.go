package telemetry

import (
	"math"
	"sync"
	"time"

	"github.com/ukydev/hems-dispatch/internal/flight"
	"github.com/ukydev/hems-dispatch/internal/models"
)

// Unit conversions from simulator units to tracking units.
const (
	MetersToFeet = 3.28084
	MpsToKnots   = 1.94384
	KgToLbs      = 2.20462

	// EngineRunningN1Pct is the N1 above which an engine counts as running.
	EngineRunningN1Pct = 20.0
)

// X-Plane datarefs read by the bridge, in SimSample field order.
const (
	DatarefLatitude      = "sim/flightmodel/position/latitude"
	DatarefLongitude     = "sim/flightmodel/position/longitude"
	DatarefElevation     = "sim/flightmodel/position/elevation"
	DatarefGroundSpeed   = "sim/flightmodel/position/groundspeed"
	DatarefHeading       = "sim/flightmodel/position/true_psi"
	DatarefVerticalSpeed = "sim/flightmodel/position/vh_ind_fpm"
	DatarefFuelTotal     = "sim/flightmodel/weight/m_fuel_total"
	DatarefEngineN1      = "sim/flightmodel2/engines/n1_percent[0]"
)

// Datarefs lists every dataref a SimSample is built from.
var Datarefs = []string{
	DatarefLatitude,
	DatarefLongitude,
	DatarefElevation,
	DatarefGroundSpeed,
	DatarefHeading,
	DatarefVerticalSpeed,
	DatarefFuelTotal,
	DatarefEngineN1,
}

// SimSample is a raw reading in simulator units.
type SimSample struct {
	Latitude           float64
	Longitude          float64
	AltitudeMslM       float64
	GroundSpeedMs      float64
	HeadingDeg         float64
	VerticalSpeedFtMin float64
	FuelKg             float64
	EngineN1Pct        float64
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// SampleFromDatarefs builds a sample from fetched dataref values. Missing,
// nil or non-finite values read as zero.
func SampleFromDatarefs(values map[string]*float64) SimSample {
	get := func(name string) float64 {
		if v, ok := values[name]; ok && v != nil {
			return finite(*v)
		}
		return 0
	}
	return SimSample{
		Latitude:           get(DatarefLatitude),
		Longitude:          get(DatarefLongitude),
		AltitudeMslM:       get(DatarefElevation),
		GroundSpeedMs:      get(DatarefGroundSpeed),
		HeadingDeg:         get(DatarefHeading),
		VerticalSpeedFtMin: get(DatarefVerticalSpeed),
		FuelKg:             get(DatarefFuelTotal),
		EngineN1Pct:        get(DatarefEngineN1),
	}
}

// Record converts the sample to tracking units, rounded to whole units.
func (s SimSample) Record() models.TrackingRecord {
	engine := models.EngineShutdown
	if finite(s.EngineN1Pct) > EngineRunningN1Pct {
		engine = models.EngineRunning
	}
	return models.TrackingRecord{
		Latitude:           finite(s.Latitude),
		Longitude:          finite(s.Longitude),
		AltitudeFt:         math.Round(finite(s.AltitudeMslM) * MetersToFeet),
		GroundSpeedKts:     math.Round(finite(s.GroundSpeedMs) * MpsToKnots),
		HeadingDeg:         math.Round(finite(s.HeadingDeg)),
		VerticalSpeedFtMin: math.Round(finite(s.VerticalSpeedFtMin)),
		FuelRemainingLbs:   math.Max(0, math.Round(finite(s.FuelKg)*KgToLbs)),
		EngineStatus:       engine,
	}
}

// PluginTelemetry is the payload of a simulator plugin "telemetry" message.
// Values are already in tracking units.
type PluginTelemetry struct {
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	AltitudeFt         float64 `json:"altitudeFt"`
	GroundSpeedKts     float64 `json:"groundSpeedKts"`
	HeadingDeg         float64 `json:"headingDeg"`
	VerticalSpeedFtMin float64 `json:"verticalSpeedFtMin"`
	FuelRemainingLbs   float64 `json:"fuelRemainingLbs"`
	TimeEnrouteMinutes float64 `json:"timeEnrouteMinutes,omitempty"`
	EngineStatus       string  `json:"engineStatus,omitempty"`
	OnGround           bool    `json:"onGround,omitempty"`
	Phase              string  `json:"phase,omitempty"`
	MissionID          string  `json:"missionId,omitempty"`
	Paused             bool    `json:"paused,omitempty"`
}

// Record returns the canonical record with non-finite values zeroed.
func (p PluginTelemetry) Record() models.TrackingRecord {
	return models.TrackingRecord{
		Latitude:           p.Latitude,
		Longitude:          p.Longitude,
		AltitudeFt:         p.AltitudeFt,
		GroundSpeedKts:     p.GroundSpeedKts,
		HeadingDeg:         p.HeadingDeg,
		VerticalSpeedFtMin: p.VerticalSpeedFtMin,
		FuelRemainingLbs:   p.FuelRemainingLbs,
		TimeEnrouteMinutes: p.TimeEnrouteMinutes,
		EngineStatus:       p.EngineStatus,
	}.Sanitize()
}

// BridgeConfig tunes waypoint detection on live simulator feeds.
type BridgeConfig struct {
	ArrivalNM float64
	// StartLeg is the index of the last waypoint already reached.
	StartLeg int
}

// Bridge turns live simulator readings into updates, detecting waypoint
// arrival and deriving the phase from circuit progress.
type Bridge struct {
	missionID string
	waypoints []models.Waypoint
	arrivalNM float64
	seq       sequencer

	mu       sync.Mutex
	reached  int
	enroute  float64
	lastSeen time.Time
}

// NewBridge builds the adapter for a mission whose aircraft has flown
// enrouteMinutes so far.
func NewBridge(missionID string, waypoints []models.Waypoint, enrouteMinutes float64, cfg BridgeConfig) *Bridge {
	if cfg.ArrivalNM <= 0 {
		cfg.ArrivalNM = flight.DefaultArrivalNM
	}
	if cfg.StartLeg < 0 || cfg.StartLeg >= len(waypoints) {
		cfg.StartLeg = 0
	}
	return &Bridge{
		missionID: missionID,
		waypoints: waypoints,
		arrivalNM: cfg.ArrivalNM,
		reached:   cfg.StartLeg,
		enroute:   enrouteMinutes,
	}
}

// MissionID is the mission this adapter feeds.
func (b *Bridge) MissionID() string {
	return b.missionID
}

// SetReached moves circuit progress to leg, the last waypoint the tracker
// accepted. Out of range values are ignored.
func (b *Bridge) SetReached(leg int) {
	if leg < 0 || leg >= len(b.waypoints) {
		return
	}
	b.mu.Lock()
	b.reached = leg
	b.mu.Unlock()
}

// FromRecord builds an update from a reading already in tracking units. An
// explicit phase from the simulator wins over the derived one.
func (b *Bridge) FromRecord(rec models.TrackingRecord, phase string, now time.Time) Update {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec = rec.Sanitize()
	if !b.lastSeen.IsZero() && now.After(b.lastSeen) {
		b.enroute += now.Sub(b.lastSeen).Minutes()
	}
	b.lastSeen = now
	if rec.TimeEnrouteMinutes <= 0 {
		rec.TimeEnrouteMinutes = b.enroute
	} else {
		b.enroute = rec.TimeEnrouteMinutes
	}

	u := Update{
		MissionID:  b.missionID,
		Source:     SourceBridge,
		Sequence:   b.seq.next(),
		ProducedAt: now,
	}

	total := len(b.waypoints)
	if next := b.reached + 1; total >= 2 && next < total {
		target := b.waypoints[next]
		if flight.DistanceNM(rec.Latitude, rec.Longitude, target.Latitude, target.Longitude) < b.arrivalNM {
			b.reached = next
			u.ArrivedAt = &target
		}
	}
	u.LegIndex = b.reached
	u.Landed = total >= 2 && b.reached >= total-1

	rec.Phase = flight.PhaseForLeg(b.reached, total)
	if phase != "" {
		if p, err := models.ParsePhase(phase); err == nil {
			rec.Phase = p
		}
	}
	u.Patch = models.FullPatch(rec)
	return u
}

// FromSample converts a raw simulator reading and builds its update.
func (b *Bridge) FromSample(s SimSample, now time.Time) Update {
	return b.FromRecord(s.Record(), "", now)
}

// FromPlugin builds an update from a plugin telemetry message.
func (b *Bridge) FromPlugin(p PluginTelemetry, now time.Time) Update {
	return b.FromRecord(p.Record(), p.Phase, now)
}
