package telemetry

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ukydev/hems-dispatch/internal/flight"
	"github.com/ukydev/hems-dispatch/internal/models"
)

// ErrEmptyOverride is returned when an operator submits no fields.
var ErrEmptyOverride = errors.New("override sets no fields")

// Override wraps operator-entered values. Fields are applied verbatim; only
// physically impossible values are rejected.
type Override struct {
	missionID string
	seq       sequencer
}

// NewOverride builds the override adapter for a mission.
func NewOverride(missionID string) *Override {
	return &Override{missionID: missionID}
}

// Update validates the patch and wraps it for the tracker.
func (o *Override) Update(p models.TrackingPatch, now time.Time) (Update, error) {
	if p.IsEmpty() {
		return Update{}, ErrEmptyOverride
	}
	for name, v := range map[string]*float64{
		"latitude":           p.Latitude,
		"longitude":          p.Longitude,
		"altitudeFt":         p.AltitudeFt,
		"groundSpeedKts":     p.GroundSpeedKts,
		"headingDeg":         p.HeadingDeg,
		"verticalSpeedFtMin": p.VerticalSpeedFtMin,
		"fuelRemainingLbs":   p.FuelRemainingLbs,
		"timeEnrouteMinutes": p.TimeEnrouteMinutes,
	} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return Update{}, fmt.Errorf("%s must be a finite number", name)
		}
	}
	if p.Latitude != nil && (*p.Latitude < -90 || *p.Latitude > 90) {
		return Update{}, fmt.Errorf("latitude %v out of range", *p.Latitude)
	}
	if p.Longitude != nil && (*p.Longitude < -180 || *p.Longitude > 180) {
		return Update{}, fmt.Errorf("longitude %v out of range", *p.Longitude)
	}
	if p.FuelRemainingLbs != nil && *p.FuelRemainingLbs < 0 {
		return Update{}, fmt.Errorf("fuel remaining must not be negative")
	}
	if p.GroundSpeedKts != nil && *p.GroundSpeedKts < 0 {
		return Update{}, fmt.Errorf("ground speed must not be negative")
	}
	if p.Phase != nil && !p.Phase.Valid() {
		return Update{}, fmt.Errorf("unknown flight phase %q", *p.Phase)
	}
	if p.HeadingDeg != nil {
		h := flight.NormalizeHeading(*p.HeadingDeg)
		p.HeadingDeg = &h
	}

	return Update{
		MissionID:  o.missionID,
		Source:     SourceOverride,
		Sequence:   o.seq.next(),
		Patch:      p,
		LegIndex:   -1,
		ProducedAt: now,
	}, nil
}
