package tracking

import (
	"math"

	"github.com/ukydev/hems-dispatch/internal/models"
)

// Scorer rates a finished mission from 0 to 100.
type Scorer interface {
	Score(m models.Mission, final models.TrackingRecord) int
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(m models.Mission, final models.TrackingRecord) int

// Score implements Scorer.
func (f ScorerFunc) Score(m models.Mission, final models.TrackingRecord) int {
	return f(m, final)
}

// DefaultScorer deducts for time flown beyond the plan and for landing with
// less than the reserve fuel.
type DefaultScorer struct {
	FuelReserveMinutes float64
}

// Score implements Scorer.
func (s DefaultScorer) Score(m models.Mission, final models.TrackingRecord) int {
	score := 100.0

	planned := m.Metrics.EstimatedFlightTimeMinutes
	if planned > 0 && final.TimeEnrouteMinutes > planned {
		over := (final.TimeEnrouteMinutes - planned) / planned
		score -= math.Min(40, over*50)
	}

	required := s.FuelReserveMinutes / 60 * m.Helicopter.FuelBurnRateLbPerHr
	if required > 0 && final.FuelRemainingLbs < required {
		short := (required - math.Max(0, final.FuelRemainingLbs)) / required
		score -= 40 * short
	}

	return int(math.Round(math.Max(0, math.Min(100, score))))
}

// Summarize builds the flight summary recorded at completion.
func Summarize(m models.Mission, final models.TrackingRecord) models.FlightSummary {
	return models.FlightSummary{
		TotalTimeMinutes: final.TimeEnrouteMinutes,
		FuelConsumedLbs:  math.Max(0, m.Helicopter.FuelCapacityLbs-final.FuelRemainingLbs),
		FinalFuelLbs:     final.FuelRemainingLbs,
	}
}
