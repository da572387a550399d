package telemetry

import (
	"time"

	"github.com/ukydev/hems-dispatch/internal/flight"
	"github.com/ukydev/hems-dispatch/internal/models"
)

// AutonomousConfig tunes the simulated flight.
type AutonomousConfig struct {
	Interval         time.Duration
	StepFraction     float64
	ArrivalNM        float64
	CruiseAltitudeFt float64
}

// Autonomous advances a mission along its circuit one tick at a time. It
// holds no circuit progress of its own: the caller passes the leg the
// tracker last accepted, so a switch between sources never desyncs it.
type Autonomous struct {
	missionID string
	waypoints []models.Waypoint
	profile   models.AircraftProfile
	cfg       AutonomousConfig
	seq       sequencer
}

// NewAutonomous builds the adapter for a mission.
func NewAutonomous(m models.Mission, cfg AutonomousConfig) *Autonomous {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Autonomous{
		missionID: m.MissionID,
		waypoints: m.Waypoints,
		profile:   m.Helicopter,
		cfg:       cfg,
	}
}

// LegForPhase estimates the last waypoint reached from a stored phase. It
// seeds circuit progress for missions resumed from the store.
func LegForPhase(p models.Phase, total int) int {
	switch p {
	case models.PhaseOnScene:
		return 1
	case models.PhaseEnrouteInbound:
		return 2
	case models.PhaseLanded, models.PhaseComplete:
		return total - 1
	}
	return 0
}

// Interval is the tick period.
func (a *Autonomous) Interval() time.Duration {
	return a.cfg.Interval
}

// Next computes the update for one tick starting from current, whose last
// reached waypoint is leg.
func (a *Autonomous) Next(current models.TrackingRecord, leg int, now time.Time) Update {
	res := flight.Advance(current, flight.Step{
		Waypoints:        a.waypoints,
		LegIndex:         leg,
		Interval:         a.cfg.Interval,
		Profile:          a.profile,
		StepFraction:     a.cfg.StepFraction,
		ArrivalNM:        a.cfg.ArrivalNM,
		CruiseAltitudeFt: a.cfg.CruiseAltitudeFt,
	})

	u := Update{
		MissionID:  a.missionID,
		Source:     SourceAutonomous,
		Sequence:   a.seq.next(),
		Patch:      models.FullPatch(res.Record),
		LegIndex:   res.LegIndex,
		Landed:     res.Landed,
		ProducedAt: now,
	}
	if res.Arrived {
		wp := res.ArrivedAt
		u.ArrivedAt = &wp
	}
	return u
}
