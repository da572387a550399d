package flight

import (
	"math"
	"time"

	"github.com/ukydev/hems-dispatch/internal/models"
)

const (
	DefaultStepFraction     = 0.05
	DefaultArrivalNM        = 0.3
	DefaultCruiseAltitudeFt = 1500.0
	DefaultClimbRateFtMin   = 500.0
)

// Step describes one autonomous tick along a circuit.
//
// Motion is a fixed fraction of the remaining latitude/longitude delta per
// tick, not constant ground speed: the aircraft slows as it nears a waypoint.
// This is a deliberate simplification of the simulation, not kinematics.
type Step struct {
	Waypoints []models.Waypoint
	// LegIndex is the index of the last waypoint reached; the target is
	// LegIndex+1.
	LegIndex int
	Interval time.Duration
	Profile  models.AircraftProfile

	StepFraction     float64
	ArrivalNM        float64
	CruiseAltitudeFt float64
	ClimbRateFtMin   float64
}

func (s Step) withDefaults() Step {
	if s.StepFraction <= 0 || s.StepFraction > 1 {
		s.StepFraction = DefaultStepFraction
	}
	if s.ArrivalNM <= 0 {
		s.ArrivalNM = DefaultArrivalNM
	}
	if s.CruiseAltitudeFt <= 0 {
		s.CruiseAltitudeFt = DefaultCruiseAltitudeFt
	}
	if s.ClimbRateFtMin <= 0 {
		s.ClimbRateFtMin = DefaultClimbRateFtMin
	}
	return s
}

// Result is the state after one tick.
type Result struct {
	Record   models.TrackingRecord
	LegIndex int
	// Arrived is set on the tick a waypoint is reached; ArrivedAt names it.
	Arrived   bool
	ArrivedAt models.Waypoint
	// Landed is set once the final waypoint of the circuit is reached.
	Landed bool
}

// PhaseForLeg maps the index of the last reached waypoint to the phase flown
// next on a base -> pickup -> dropoff -> base circuit.
func PhaseForLeg(reached, total int) models.Phase {
	switch {
	case total < 2:
		return models.PhasePreFlight
	case reached >= total-1:
		return models.PhaseLanded
	case reached <= 0:
		return models.PhaseEnrouteOutbound
	case reached == 1:
		return models.PhaseOnScene
	default:
		return models.PhaseEnrouteInbound
	}
}

// Advance moves prev one tick toward the next waypoint. The returned phase is
// never earlier than prev.Phase and fuel never drops below zero.
func Advance(prev models.TrackingRecord, s Step) Result {
	s = s.withDefaults()
	rec := prev
	total := len(s.Waypoints)

	if total < 2 || s.LegIndex >= total-1 {
		rec.GroundSpeedKts = 0
		rec.VerticalSpeedFtMin = 0
		landed := total >= 2
		if landed {
			rec.Phase = models.MaxPhase(prev.Phase, models.PhaseLanded)
			rec.EngineStatus = models.EngineShutdown
		}
		return Result{Record: rec, LegIndex: s.LegIndex, Landed: landed}
	}

	leg := s.LegIndex
	if leg < 0 {
		leg = 0
	}
	target := s.Waypoints[leg+1]

	rec.Latitude = prev.Latitude + (target.Latitude-prev.Latitude)*s.StepFraction
	rec.Longitude = prev.Longitude + (target.Longitude-prev.Longitude)*s.StepFraction
	if prev.Latitude != target.Latitude || prev.Longitude != target.Longitude {
		rec.HeadingDeg = BearingDeg(prev.Latitude, prev.Longitude, target.Latitude, target.Longitude)
	}
	rec.GroundSpeedKts = s.Profile.CruiseSpeedKts
	rec.EngineStatus = models.EngineRunning

	minutes := s.Interval.Minutes()
	rec.FuelRemainingLbs = math.Max(0, prev.FuelRemainingLbs-s.Profile.FuelBurnRateLbPerHr*s.Interval.Hours())
	rec.TimeEnrouteMinutes = prev.TimeEnrouteMinutes + minutes

	rec.AltitudeFt = math.Min(s.CruiseAltitudeFt, prev.AltitudeFt+s.ClimbRateFtMin*minutes)
	rec.VerticalSpeedFtMin = 0
	if minutes > 0 {
		rec.VerticalSpeedFtMin = (rec.AltitudeFt - prev.AltitudeFt) / minutes
	}

	res := Result{LegIndex: leg}
	if DistanceNM(rec.Latitude, rec.Longitude, target.Latitude, target.Longitude) < s.ArrivalNM {
		rec.Latitude = target.Latitude
		rec.Longitude = target.Longitude
		rec.AltitudeFt = 0
		rec.VerticalSpeedFtMin = 0
		res.LegIndex = leg + 1
		res.Arrived = true
		res.ArrivedAt = target
	}

	rec.Phase = models.MaxPhase(prev.Phase, PhaseForLeg(res.LegIndex, total))
	if res.LegIndex >= total-1 {
		res.Landed = true
		rec.GroundSpeedKts = 0
		rec.EngineStatus = models.EngineShutdown
	}
	res.Record = rec
	return res
}
