// Package flight holds the pure flight calculations: circuit planning
// metrics and the per-tick position and phase advance.
package flight

import (
	"errors"
	"fmt"
	"math"

	"github.com/ukydev/hems-dispatch/internal/models"
)

var (
	ErrInsufficientWaypoints = errors.New("circuit needs at least two waypoints")
	ErrInvalidProfile        = errors.New("invalid aircraft profile")
)

// MetricsConfig holds the planning policy applied to every circuit.
type MetricsConfig struct {
	// FuelReserveMinutes of flight at the burn rate must remain after the
	// planned burn for a go verdict.
	FuelReserveMinutes float64
}

// CalculateMetrics computes distance, time, fuel burn, reserve and the go/no-go
// verdict for flying the circuit in order. It is deterministic: identical
// inputs give identical outputs, which the dispatch acknowledgment relies on.
func CalculateMetrics(circuit []models.Waypoint, profile models.AircraftProfile, cfg MetricsConfig) (models.FlightMetrics, error) {
	if len(circuit) < 2 {
		return models.FlightMetrics{}, ErrInsufficientWaypoints
	}
	if err := profile.Validate(); err != nil {
		return models.FlightMetrics{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	legs := make([]models.Leg, 0, len(circuit)-1)
	var totalNM, totalMin float64
	for i := 0; i < len(circuit)-1; i++ {
		from, to := circuit[i], circuit[i+1]
		dist := DistanceNM(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
		minutes := dist / profile.CruiseSpeedKts * 60
		totalNM += dist
		totalMin += minutes
		legs = append(legs, models.Leg{
			Name:        from.Name + " -> " + to.Name,
			DistanceNM:  dist,
			TimeMinutes: minutes,
		})
	}

	// Burn is rounded to whole pounds, never truncated.
	burn := math.Round(totalMin / 60 * profile.FuelBurnRateLbPerHr)
	reserveMargin := cfg.FuelReserveMinutes / 60 * profile.FuelBurnRateLbPerHr
	reserve := profile.FuelCapacityLbs - burn - reserveMargin

	m := models.FlightMetrics{
		DistanceNM:                 totalNM,
		EstimatedFlightTimeMinutes: totalMin,
		EstimatedFuelBurnLbs:       burn,
		FuelReserveLbs:             reserve,
		GoNoGo:                     reserve >= 0,
		Reason:                     "All metrics within operational limits.",
		Legs:                       legs,
	}
	if !m.GoNoGo {
		m.Reason = fmt.Sprintf("Insufficient fuel: %.0f lbs short. Circuit requires %.0f lbs including a %.0f min reserve, capacity is %.0f lbs.",
			math.Ceil(-reserve), math.Ceil(burn+reserveMargin), cfg.FuelReserveMinutes, profile.FuelCapacityLbs)
	}
	return m, nil
}
