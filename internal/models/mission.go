package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// WaypointKind classifies a stop in a mission circuit.
type WaypointKind string

const (
	WaypointBase    WaypointKind = "base"
	WaypointPickup  WaypointKind = "pickup"
	WaypointDropoff WaypointKind = "dropoff"
)

// Waypoint is a named stop in a mission circuit.
type Waypoint struct {
	Name      string       `bson:"name" json:"name"`
	Latitude  float64      `bson:"latitude" json:"latitude"`
	Longitude float64      `bson:"longitude" json:"longitude"`
	Kind      WaypointKind `bson:"kind" json:"kind"`
}

// Circuit returns the closed route base -> pickup -> dropoff -> base.
func Circuit(base, pickup, dropoff Waypoint) []Waypoint {
	base.Kind = WaypointBase
	pickup.Kind = WaypointPickup
	dropoff.Kind = WaypointDropoff
	return []Waypoint{base, pickup, dropoff, base}
}

// AircraftProfile is the performance envelope of a helicopter.
type AircraftProfile struct {
	Registration        string  `bson:"registration,omitempty" json:"registration,omitempty"`
	Model               string  `bson:"model,omitempty" json:"model,omitempty"`
	CruiseSpeedKts      float64 `bson:"cruise_speed_kts" json:"cruiseSpeedKts"`
	FuelCapacityLbs     float64 `bson:"fuel_capacity_lbs" json:"fuelCapacityLbs"`
	FuelBurnRateLbPerHr float64 `bson:"fuel_burn_rate_lb_hr" json:"fuelBurnRateLbPerHr"`
}

// Validate rejects profiles the flight calculations cannot use.
func (p AircraftProfile) Validate() error {
	if p.CruiseSpeedKts <= 0 {
		return fmt.Errorf("cruise speed must be positive, got %v", p.CruiseSpeedKts)
	}
	if p.FuelCapacityLbs <= 0 {
		return fmt.Errorf("fuel capacity must be positive, got %v", p.FuelCapacityLbs)
	}
	if p.FuelBurnRateLbPerHr < 0 {
		return fmt.Errorf("fuel burn rate must not be negative, got %v", p.FuelBurnRateLbPerHr)
	}
	return nil
}

// Leg is one segment of a circuit.
type Leg struct {
	Name        string  `bson:"name" json:"name"`
	DistanceNM  float64 `bson:"distance_nm" json:"distanceNM"`
	TimeMinutes float64 `bson:"time_minutes" json:"timeMinutes"`
}

// FlightMetrics is the planning summary for a circuit flown by a profile.
type FlightMetrics struct {
	DistanceNM                 float64 `bson:"distance_nm" json:"distanceNM"`
	EstimatedFlightTimeMinutes float64 `bson:"estimated_flight_time_minutes" json:"estimatedFlightTimeMinutes"`
	EstimatedFuelBurnLbs       float64 `bson:"estimated_fuel_burn_lbs" json:"estimatedFuelBurnLbs"`
	FuelReserveLbs             float64 `bson:"fuel_reserve_lbs" json:"fuelReserveLbs"`
	GoNoGo                     bool    `bson:"go_no_go" json:"goNoGo"`
	Reason                     string  `bson:"reason" json:"reason"`
	Legs                       []Leg   `bson:"legs" json:"legs"`
}

// MissionStatus is the lifecycle state of a mission.
type MissionStatus string

const (
	MissionActive    MissionStatus = "active"
	MissionCompleted MissionStatus = "completed"
	MissionCancelled MissionStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s MissionStatus) Terminal() bool {
	return s == MissionCompleted || s == MissionCancelled
}

// CanTransition reports whether s may move to next. Completed and cancelled
// missions are never resurrected.
func (s MissionStatus) CanTransition(next MissionStatus) bool {
	return s == MissionActive && next.Terminal()
}

// Patient holds the clinical summary shown to the crew.
type Patient struct {
	Age       int     `bson:"age,omitempty" json:"age,omitempty"`
	Gender    string  `bson:"gender,omitempty" json:"gender,omitempty"`
	WeightLbs float64 `bson:"weight_lbs,omitempty" json:"weightLbs,omitempty"`
	Details   string  `bson:"details,omitempty" json:"details,omitempty"`
}

// CrewMember is a person assigned to the mission.
type CrewMember struct {
	Name string `bson:"name" json:"name"`
	Role string `bson:"role" json:"role"`
}

// FlightSummary is recorded when a mission completes.
type FlightSummary struct {
	TotalTimeMinutes float64 `bson:"total_time_minutes" json:"totalTimeMinutes"`
	FuelConsumedLbs  float64 `bson:"fuel_consumed_lbs" json:"fuelConsumedLbs"`
	FinalFuelLbs     float64 `bson:"final_fuel_lbs" json:"finalFuelLbs"`
}

// Mission is a dispatched HEMS flight with exactly one tracking record.
type Mission struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MissionID        string             `bson:"mission_id" json:"mission_id"`
	UserID           string             `bson:"user_id" json:"user_id"`
	Callsign         string             `bson:"callsign" json:"callsign"`
	MissionType      string             `bson:"mission_type" json:"mission_type"`
	HemsBase         Waypoint           `bson:"hems_base" json:"hems_base"`
	Helicopter       AircraftProfile    `bson:"helicopter" json:"helicopter"`
	Crew             []CrewMember       `bson:"crew,omitempty" json:"crew,omitempty"`
	Patient          Patient            `bson:"patient" json:"patient"`
	Origin           Waypoint           `bson:"origin" json:"origin"`
	Destination      Waypoint           `bson:"destination" json:"destination"`
	Waypoints        []Waypoint         `bson:"waypoints" json:"waypoints"`
	Metrics          FlightMetrics      `bson:"metrics" json:"metrics"`
	Tracking         TrackingRecord     `bson:"tracking" json:"tracking"`
	Status           MissionStatus      `bson:"status" json:"status"`
	PerformanceScore *int               `bson:"performance_score,omitempty" json:"performance_score,omitempty"`
	FlightSummary    *FlightSummary     `bson:"flight_summary,omitempty" json:"flight_summary,omitempty"`
	CreatedAt        time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `bson:"updated_at" json:"updated_at"`
}

// PilotStatus is the last position seen from a user's simulator, whether or
// not a mission is active.
type PilotStatus struct {
	UserID           string    `bson:"user_id" json:"user_id"`
	Callsign         string    `bson:"callsign" json:"callsign"`
	LastSeen         time.Time `bson:"last_seen" json:"last_seen"`
	Latitude         float64   `bson:"latitude" json:"latitude"`
	Longitude        float64   `bson:"longitude" json:"longitude"`
	AltitudeFt       float64   `bson:"altitude_ft" json:"altitude_ft"`
	GroundSpeedKts   float64   `bson:"ground_speed_kts" json:"ground_speed_kts"`
	HeadingDeg       float64   `bson:"heading_deg" json:"heading_deg"`
	FuelRemainingLbs float64   `bson:"fuel_remaining_lbs" json:"fuel_remaining_lbs"`
	Phase            string    `bson:"phase" json:"phase"`
}

// Log senders.
const (
	SenderSystem   = "system"
	SenderDispatch = "dispatch"
	SenderCrew     = "crew"
)

// LogEntry is one line of a mission's radio/system log.
type LogEntry struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MissionID string             `bson:"mission_id" json:"mission_id"`
	Sender    string             `bson:"sender" json:"sender"`
	Message   string             `bson:"message" json:"message"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}
