package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackingPatch_ApplyTo(t *testing.T) {
	prev := TrackingRecord{
		Latitude:         51.0,
		Longitude:        -1.0,
		AltitudeFt:       1500,
		HeadingDeg:       90,
		FuelRemainingLbs: 900,
		Phase:            PhaseEnrouteOutbound,
	}

	t.Run("partial patch keeps untouched fields", func(t *testing.T) {
		phase := PhaseOnScene
		out := TrackingPatch{FuelRemainingLbs: Float(850), Phase: &phase}.ApplyTo(prev)
		assert.Equal(t, 850.0, out.FuelRemainingLbs)
		assert.Equal(t, PhaseOnScene, out.Phase)
		assert.Equal(t, 51.0, out.Latitude)
		assert.Equal(t, 1500.0, out.AltitudeFt)
		assert.Equal(t, 90.0, out.HeadingDeg)
	})

	t.Run("empty patch is identity", func(t *testing.T) {
		assert.True(t, TrackingPatch{}.IsEmpty())
		assert.Equal(t, prev, TrackingPatch{}.ApplyTo(prev))
	})

	t.Run("full patch replaces everything", func(t *testing.T) {
		next := TrackingRecord{Latitude: 1, Longitude: 2, AltitudeFt: 3, Phase: PhaseLanded, EngineStatus: EngineRunning}
		out := FullPatch(next).ApplyTo(prev)
		assert.Equal(t, next.Latitude, out.Latitude)
		assert.Equal(t, 0.0, out.FuelRemainingLbs)
		assert.Equal(t, PhaseLanded, out.Phase)
		assert.Equal(t, EngineRunning, out.EngineStatus)
	})
}

func TestTrackingRecord_Sanitize(t *testing.T) {
	r := TrackingRecord{Latitude: math.NaN(), AltitudeFt: math.Inf(1), FuelRemainingLbs: -4}.Sanitize()
	assert.Equal(t, 0.0, r.Latitude)
	assert.Equal(t, 0.0, r.AltitudeFt)
	assert.Equal(t, 0.0, r.FuelRemainingLbs)
}

func TestInitialTracking(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := Waypoint{Name: "Base", Latitude: 40.1, Longitude: -75.2}
	r := InitialTracking(base, AircraftProfile{FuelCapacityLbs: 1500}, now)
	assert.Equal(t, PhasePreFlight, r.Phase)
	assert.Equal(t, 1500.0, r.FuelRemainingLbs)
	assert.Equal(t, base.Latitude, r.Latitude)
	assert.Equal(t, now, r.LastUpdate)
}

func TestParsePhase(t *testing.T) {
	tests := []struct {
		in   string
		want Phase
	}{
		{"en-route-outbound", PhaseEnrouteOutbound},
		{"Dispatch", PhasePreFlight},
		{"Enroute Pickup", PhaseEnrouteOutbound},
		{"At Scene/Transfer", PhaseOnScene},
		{"Returning to Base", PhaseEnrouteInbound},
		{" LANDED ", PhaseLanded},
		{"Mission Complete", PhaseComplete},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePhase(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParsePhase("hovering")
	assert.Error(t, err)
}

func TestPhaseOrdering(t *testing.T) {
	for i := 1; i < len(phaseOrder); i++ {
		assert.True(t, phaseOrder[i-1].Before(phaseOrder[i]))
	}
	assert.Equal(t, PhaseOnScene, MaxPhase(PhaseOnScene, PhasePreFlight))
	assert.Equal(t, PhaseLanded, MaxPhase(PhaseOnScene, PhaseLanded))
	assert.Equal(t, -1, Phase("bogus").Ordinal())
}

func TestMissionStatus_CanTransition(t *testing.T) {
	assert.True(t, MissionActive.CanTransition(MissionCompleted))
	assert.True(t, MissionActive.CanTransition(MissionCancelled))
	assert.False(t, MissionCompleted.CanTransition(MissionActive))
	assert.False(t, MissionCancelled.CanTransition(MissionCompleted))
	assert.False(t, MissionActive.CanTransition(MissionActive))
}

func TestCircuit(t *testing.T) {
	c := Circuit(Waypoint{Name: "B"}, Waypoint{Name: "P"}, Waypoint{Name: "H"})
	require.Len(t, c, 4)
	assert.Equal(t, WaypointBase, c[0].Kind)
	assert.Equal(t, WaypointPickup, c[1].Kind)
	assert.Equal(t, WaypointDropoff, c[2].Kind)
	assert.Equal(t, c[0], c[3])
}
