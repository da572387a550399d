package models

import (
	"math"
	"time"
)

// Engine states reported by simulator feeds.
const (
	EngineRunning  = "Running"
	EngineShutdown = "Shutdown"
)

// TrackingRecord is the authoritative live state of one mission's aircraft.
type TrackingRecord struct {
	Latitude           float64   `bson:"latitude" json:"latitude"`
	Longitude          float64   `bson:"longitude" json:"longitude"`
	AltitudeFt         float64   `bson:"altitude_ft" json:"altitudeFt"`
	GroundSpeedKts     float64   `bson:"ground_speed_kts" json:"groundSpeedKts"`
	HeadingDeg         float64   `bson:"heading_deg" json:"headingDeg"`
	VerticalSpeedFtMin float64   `bson:"vertical_speed_ft_min" json:"verticalSpeedFtMin"`
	FuelRemainingLbs   float64   `bson:"fuel_remaining_lbs" json:"fuelRemainingLbs"`
	TimeEnrouteMinutes float64   `bson:"time_enroute_minutes" json:"timeEnrouteMinutes"`
	Phase              Phase     `bson:"phase" json:"phase"`
	EngineStatus       string    `bson:"engine_status,omitempty" json:"engineStatus,omitempty"`
	LastUpdate         time.Time `bson:"last_update" json:"lastUpdate"`
	// Revision increases by one for every accepted update of the mission.
	Revision uint64 `bson:"revision" json:"revision"`
}

// TrackingPatch is a partial TrackingRecord. Nil fields leave the previous
// value untouched when merged.
type TrackingPatch struct {
	Latitude           *float64 `json:"latitude,omitempty"`
	Longitude          *float64 `json:"longitude,omitempty"`
	AltitudeFt         *float64 `json:"altitudeFt,omitempty"`
	GroundSpeedKts     *float64 `json:"groundSpeedKts,omitempty"`
	HeadingDeg         *float64 `json:"headingDeg,omitempty"`
	VerticalSpeedFtMin *float64 `json:"verticalSpeedFtMin,omitempty"`
	FuelRemainingLbs   *float64 `json:"fuelRemainingLbs,omitempty"`
	TimeEnrouteMinutes *float64 `json:"timeEnrouteMinutes,omitempty"`
	Phase              *Phase   `json:"phase,omitempty"`
	EngineStatus       *string  `json:"engineStatus,omitempty"`
}

// FullPatch returns a patch that sets every field of r.
func FullPatch(r TrackingRecord) TrackingPatch {
	p := TrackingPatch{
		Latitude:           Float(r.Latitude),
		Longitude:          Float(r.Longitude),
		AltitudeFt:         Float(r.AltitudeFt),
		GroundSpeedKts:     Float(r.GroundSpeedKts),
		HeadingDeg:         Float(r.HeadingDeg),
		VerticalSpeedFtMin: Float(r.VerticalSpeedFtMin),
		FuelRemainingLbs:   Float(r.FuelRemainingLbs),
		TimeEnrouteMinutes: Float(r.TimeEnrouteMinutes),
	}
	if r.Phase != "" {
		phase := r.Phase
		p.Phase = &phase
	}
	if r.EngineStatus != "" {
		status := r.EngineStatus
		p.EngineStatus = &status
	}
	return p
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// IsEmpty reports whether the patch sets nothing.
func (p TrackingPatch) IsEmpty() bool {
	return p.Latitude == nil && p.Longitude == nil && p.AltitudeFt == nil &&
		p.GroundSpeedKts == nil && p.HeadingDeg == nil && p.VerticalSpeedFtMin == nil &&
		p.FuelRemainingLbs == nil && p.TimeEnrouteMinutes == nil && p.Phase == nil &&
		p.EngineStatus == nil
}

// ApplyTo shallow-merges the patch over r and returns the result. Revision
// and LastUpdate are left for the caller to stamp.
func (p TrackingPatch) ApplyTo(r TrackingRecord) TrackingRecord {
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&r.Latitude, p.Latitude)
	set(&r.Longitude, p.Longitude)
	set(&r.AltitudeFt, p.AltitudeFt)
	set(&r.GroundSpeedKts, p.GroundSpeedKts)
	set(&r.HeadingDeg, p.HeadingDeg)
	set(&r.VerticalSpeedFtMin, p.VerticalSpeedFtMin)
	set(&r.FuelRemainingLbs, p.FuelRemainingLbs)
	set(&r.TimeEnrouteMinutes, p.TimeEnrouteMinutes)
	if p.Phase != nil {
		r.Phase = *p.Phase
	}
	if p.EngineStatus != nil {
		r.EngineStatus = *p.EngineStatus
	}
	return r
}

// Sanitize replaces NaN and infinite values with zero and clamps fuel at zero.
func (r TrackingRecord) Sanitize() TrackingRecord {
	for _, f := range []*float64{
		&r.Latitude, &r.Longitude, &r.AltitudeFt, &r.GroundSpeedKts, &r.HeadingDeg,
		&r.VerticalSpeedFtMin, &r.FuelRemainingLbs, &r.TimeEnrouteMinutes,
	} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
	if r.FuelRemainingLbs < 0 {
		r.FuelRemainingLbs = 0
	}
	return r
}

// InitialTracking is the record a mission starts with: parked at its base
// with full tanks.
func InitialTracking(base Waypoint, profile AircraftProfile, now time.Time) TrackingRecord {
	return TrackingRecord{
		Latitude:         base.Latitude,
		Longitude:        base.Longitude,
		FuelRemainingLbs: profile.FuelCapacityLbs,
		Phase:            PhasePreFlight,
		EngineStatus:     EngineShutdown,
		LastUpdate:       now,
	}
}

// TrackingSnapshot is a read-only view of a mission's tracking state handed to
// displays and API callers.
type TrackingSnapshot struct {
	MissionID    string         `json:"missionId"`
	Record       TrackingRecord `json:"record"`
	ActiveSource string         `json:"activeSource"`
	Status       MissionStatus  `json:"status"`
	LegIndex     int            `json:"legIndex"`
}
