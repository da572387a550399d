package telemetry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/hems-dispatch/internal/models"
)

func testCircuit() []models.Waypoint {
	return models.Circuit(
		models.Waypoint{Name: "Base", Latitude: 0, Longitude: 0},
		models.Waypoint{Name: "Pickup", Latitude: 0, Longitude: 1},
		models.Waypoint{Name: "Hospital", Latitude: 1, Longitude: 1},
	)
}

func TestSimSample_Record_UnitConversion(t *testing.T) {
	rec := SimSample{AltitudeMslM: 1000, GroundSpeedMs: 50, FuelKg: 300, EngineN1Pct: 85}.Record()

	assert.Equal(t, 3281.0, rec.AltitudeFt)
	assert.Equal(t, 97.0, rec.GroundSpeedKts)
	assert.Equal(t, 661.0, rec.FuelRemainingLbs)
	assert.Equal(t, models.EngineRunning, rec.EngineStatus)
}

func TestSimSample_Record_EngineThreshold(t *testing.T) {
	assert.Equal(t, models.EngineShutdown, SimSample{EngineN1Pct: 20}.Record().EngineStatus)
	assert.Equal(t, models.EngineRunning, SimSample{EngineN1Pct: 20.5}.Record().EngineStatus)
	assert.Equal(t, models.EngineShutdown, SimSample{EngineN1Pct: math.NaN()}.Record().EngineStatus)
}

func TestSampleFromDatarefs_MissingValuesDefaultToZero(t *testing.T) {
	lat := 51.5
	nan := math.NaN()
	s := SampleFromDatarefs(map[string]*float64{
		DatarefLatitude:  &lat,
		DatarefElevation: &nan,
		DatarefFuelTotal: nil,
	})

	assert.Equal(t, 51.5, s.Latitude)
	assert.Equal(t, 0.0, s.AltitudeMslM)
	assert.Equal(t, 0.0, s.FuelKg)
	assert.Equal(t, 0.0, s.GroundSpeedMs)

	rec := s.Record()
	assert.Equal(t, 0.0, rec.AltitudeFt)
	assert.Equal(t, models.EngineShutdown, rec.EngineStatus)
}

func TestBridge_DetectsArrivalAndPhase(t *testing.T) {
	b := NewBridge("M-1", testCircuit(), 0, BridgeConfig{})
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	u := b.FromRecord(models.TrackingRecord{Latitude: 0, Longitude: 0.5}, "", now)
	assert.Nil(t, u.ArrivedAt)
	assert.Equal(t, SourceBridge, u.Source)
	assert.Equal(t, models.PhaseEnrouteOutbound, *u.Patch.Phase)

	u2 := b.FromRecord(models.TrackingRecord{Latitude: 0.001, Longitude: 1}, "", now.Add(4*time.Second))
	require.NotNil(t, u2.ArrivedAt)
	assert.Equal(t, "Pickup", u2.ArrivedAt.Name)
	assert.Equal(t, 1, u2.LegIndex)
	assert.Equal(t, models.PhaseOnScene, *u2.Patch.Phase)
	assert.Greater(t, u2.Sequence, u.Sequence)
	assert.InDelta(t, 4.0/60, *u2.Patch.TimeEnrouteMinutes, 1e-9)
}

func TestBridge_FullCircuitLands(t *testing.T) {
	b := NewBridge("M-1", testCircuit(), 0, BridgeConfig{ArrivalNM: 0.3})
	now := time.Now()

	b.FromRecord(models.TrackingRecord{Latitude: 0, Longitude: 1}, "", now)
	b.FromRecord(models.TrackingRecord{Latitude: 1, Longitude: 1}, "", now)
	u := b.FromRecord(models.TrackingRecord{Latitude: 0, Longitude: 0}, "", now)

	assert.True(t, u.Landed)
	assert.Equal(t, models.PhaseLanded, *u.Patch.Phase)
	require.NotNil(t, u.ArrivedAt)
	assert.Equal(t, models.WaypointBase, u.ArrivedAt.Kind)
}

func TestBridge_ExplicitPhaseWins(t *testing.T) {
	b := NewBridge("M-1", testCircuit(), 0, BridgeConfig{})
	u := b.FromPlugin(PluginTelemetry{Latitude: 0, Longitude: 0.2, Phase: "Enroute Dropoff"}, time.Now())
	assert.Equal(t, models.PhaseOnScene, *u.Patch.Phase)

	u = b.FromPlugin(PluginTelemetry{Latitude: 0, Longitude: 0.2, Phase: "hovering"}, time.Now())
	assert.Equal(t, models.PhaseEnrouteOutbound, *u.Patch.Phase, "unknown phases fall back to progress")
}

func TestBridge_ReportedTimeEnrouteWins(t *testing.T) {
	b := NewBridge("M-1", testCircuit(), 3, BridgeConfig{})
	now := time.Now()

	u := b.FromRecord(models.TrackingRecord{TimeEnrouteMinutes: 12}, "", now)
	assert.Equal(t, 12.0, *u.Patch.TimeEnrouteMinutes)

	u = b.FromRecord(models.TrackingRecord{}, "", now.Add(time.Minute))
	assert.InDelta(t, 13.0, *u.Patch.TimeEnrouteMinutes, 1e-9)
}

func TestBridge_FromSampleEmitsCompleteRecord(t *testing.T) {
	b := NewBridge("M-1", testCircuit(), 0, BridgeConfig{})
	u := b.FromSample(SimSample{Latitude: 0, Longitude: 0.3, AltitudeMslM: 300, FuelKg: 200, EngineN1Pct: 60}, time.Now())

	p := u.Patch
	for _, f := range []*float64{p.Latitude, p.Longitude, p.AltitudeFt, p.GroundSpeedKts, p.HeadingDeg,
		p.VerticalSpeedFtMin, p.FuelRemainingLbs, p.TimeEnrouteMinutes} {
		require.NotNil(t, f)
	}
	require.NotNil(t, p.Phase)
	require.NotNil(t, p.EngineStatus)
	assert.Equal(t, 984.0, *p.AltitudeFt)
	assert.Equal(t, 441.0, *p.FuelRemainingLbs)
}

func TestBridge_StartLegResumesProgress(t *testing.T) {
	b := NewBridge("M-1", testCircuit(), 0, BridgeConfig{StartLeg: 2})
	u := b.FromRecord(models.TrackingRecord{Latitude: 0.5, Longitude: 0.5}, "", time.Now())
	assert.Equal(t, 2, u.LegIndex)
	assert.Equal(t, models.PhaseEnrouteInbound, *u.Patch.Phase)

	assert.Equal(t, 0, NewBridge("M-1", testCircuit(), 0, BridgeConfig{StartLeg: 7}).reached)
}

func TestBridge_SetReachedFollowsTracker(t *testing.T) {
	b := NewBridge("M-1", testCircuit(), 0, BridgeConfig{})
	b.SetReached(2)
	u := b.FromRecord(models.TrackingRecord{Latitude: 0, Longitude: 0}, "", time.Now())
	assert.Equal(t, 3, u.LegIndex, "base is the next target after the hospital")
	assert.True(t, u.Landed)

	b = NewBridge("M-1", testCircuit(), 0, BridgeConfig{StartLeg: 1})
	b.SetReached(-1)
	b.SetReached(9)
	assert.Equal(t, 1, b.reached)
}
