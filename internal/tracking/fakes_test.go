package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/ukydev/hems-dispatch/internal/db"
	"github.com/ukydev/hems-dispatch/internal/events"
	"github.com/ukydev/hems-dispatch/internal/models"
)

// memStore is an in-memory db.MissionCollection.
type memStore struct {
	mu        sync.Mutex
	missions  map[string]models.Mission
	upserts   int
	finalized []models.Mission
	// gate, when set, blocks UpsertTracking until it is closed.
	gate chan struct{}
}

func newMemStore() *memStore {
	return &memStore{missions: make(map[string]models.Mission)}
}

func (s *memStore) InsertMission(ctx context.Context, m models.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missions[m.MissionID] = m
	return nil
}

func (s *memStore) FindMission(ctx context.Context, id string) (*models.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &m, nil
}

func (s *memStore) FindActiveMissions(ctx context.Context) ([]models.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Mission
	for _, m := range s.missions {
		if m.Status == models.MissionActive {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) FindActiveMissionForUser(ctx context.Context, userID string) (*models.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.missions {
		if m.UserID == userID && m.Status == models.MissionActive {
			return &m, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *memStore) UpsertTracking(ctx context.Context, id string, rec models.TrackingRecord) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return db.ErrNotFound
	}
	if m.Tracking.Revision >= rec.Revision {
		return db.ErrStaleRevision
	}
	m.Tracking = rec
	s.missions[id] = m
	s.upserts++
	return nil
}

func (s *memStore) FinalizeMission(ctx context.Context, mission models.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[mission.MissionID]
	if !ok {
		return db.ErrNotFound
	}
	if m.Status != models.MissionActive {
		return db.ErrMissionClosed
	}
	m.Status = mission.Status
	m.Tracking = mission.Tracking
	m.PerformanceScore = mission.PerformanceScore
	m.FlightSummary = mission.FlightSummary
	s.missions[mission.MissionID] = m
	s.finalized = append(s.finalized, mission)
	return nil
}

func (s *memStore) stored(id string) models.Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missions[id]
}

func (s *memStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Code)
	}
	return out
}

type recordingPublisher struct {
	mu        sync.Mutex
	snaps     []models.TrackingSnapshot
	forgotten []string
}

func (r *recordingPublisher) Forget(missionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgotten = append(r.forgotten, missionID)
}

func (r *recordingPublisher) forgottenIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.forgotten...)
}

func (r *recordingPublisher) Publish(s models.TrackingSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func testMission() models.Mission {
	circuit := models.Circuit(
		models.Waypoint{Name: "Base", Latitude: 0, Longitude: 0},
		models.Waypoint{Name: "Pickup", Latitude: 0, Longitude: 1},
		models.Waypoint{Name: "Hospital", Latitude: 1, Longitude: 1},
	)
	profile := models.AircraftProfile{CruiseSpeedKts: 120, FuelCapacityLbs: 1500, FuelBurnRateLbPerHr: 450}
	tr := models.InitialTracking(circuit[0], profile, time.Time{})
	tr.Revision = 1
	return models.Mission{
		MissionID:  "HEMS-TEST",
		UserID:     "pilot-1",
		Callsign:   "MEDIC 1",
		HemsBase:   circuit[0],
		Helicopter: profile,
		Waypoints:  circuit,
		Metrics:    models.FlightMetrics{EstimatedFlightTimeMinutes: 102.5},
		Tracking:   tr,
		Status:     models.MissionActive,
	}
}
