package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/db"
	"github.com/ukydev/hems-dispatch/internal/flight"
	"github.com/ukydev/hems-dispatch/internal/models"
	"github.com/ukydev/hems-dispatch/internal/telemetry"
)

const (
	closedCacheSize = 256
	closedCacheTTL  = 15 * time.Minute
)

// ErrNoGo is matched by a NoGoError.
var ErrNoGo = errors.New("flight plan is no-go")

// NoGoError refuses a dispatch whose plan fails the fuel check and was not
// acknowledged by the pilot.
type NoGoError struct {
	Metrics models.FlightMetrics
}

func (e *NoGoError) Error() string {
	return "flight plan is no-go: " + e.Metrics.Reason
}

// Is reports ErrNoGo.
func (e *NoGoError) Is(target error) bool {
	return target == ErrNoGo
}

// RegistryConfig carries the planning and simulation settings.
type RegistryConfig struct {
	Metrics    flight.MetricsConfig
	Autonomous telemetry.AutonomousConfig
	Bridge     telemetry.BridgeConfig
	// BridgeTakesOver lets live simulator telemetry take control from the
	// autonomous simulation. It never pre-empts an active override.
	BridgeTakesOver bool
}

// DispatchRequest is what a crew submits to launch a mission.
type DispatchRequest struct {
	UserID            string                 `json:"-"`
	Callsign          string                 `json:"callsign"`
	MissionType       string                 `json:"mission_type"`
	Base              models.Waypoint        `json:"hems_base"`
	Pickup            models.Waypoint        `json:"pickup"`
	Dropoff           models.Waypoint        `json:"dropoff"`
	Helicopter        models.AircraftProfile `json:"helicopter"`
	Crew              []models.CrewMember    `json:"crew,omitempty"`
	Patient           models.Patient         `json:"patient"`
	PilotAcknowledged bool                   `json:"pilot_acknowledged"`
}

type entry struct {
	tracker  *Tracker
	runner   *Runner
	bridge   *telemetry.Bridge
	override *telemetry.Override
}

// Registry owns the trackers of all missions served by this process.
type Registry struct {
	store db.MissionCollection
	opts  Options
	cfg   RegistryConfig
	log   *logrus.Entry

	ctx      context.Context
	mu       sync.Mutex
	missions map[string]*entry
	// closed keeps recently closed missions readable without a store round
	// trip. They never return to missions.
	closed *expirable.LRU[string, *entry]
}

// NewRegistry builds a registry. Autonomous runners live until ctx is done
// or Close is called.
func NewRegistry(ctx context.Context, store db.MissionCollection, cfg RegistryConfig, opts Options) *Registry {
	if opts.Store == nil && store != nil {
		opts.Store = store
	}
	return &Registry{
		store:    store,
		opts:     opts.withDefaults(),
		cfg:      cfg,
		log:      logrus.WithField("component", "registry"),
		ctx:      ctx,
		missions: make(map[string]*entry),
		closed:   expirable.NewLRU[string, *entry](closedCacheSize, nil, closedCacheTTL),
	}
}

// Plan computes the metrics of a dispatch request without launching it.
func (r *Registry) Plan(req DispatchRequest) (models.FlightMetrics, error) {
	return flight.CalculateMetrics(models.Circuit(req.Base, req.Pickup, req.Dropoff), req.Helicopter, r.cfg.Metrics)
}

// Dispatch plans, stores and starts tracking a new mission. A no-go plan is
// refused with a *NoGoError unless the pilot acknowledged it.
func (r *Registry) Dispatch(ctx context.Context, req DispatchRequest) (models.Mission, error) {
	metrics, err := r.Plan(req)
	if err != nil {
		return models.Mission{}, err
	}
	if !metrics.GoNoGo && !req.PilotAcknowledged {
		return models.Mission{}, &NoGoError{Metrics: metrics}
	}

	now := r.opts.Clock()
	circuit := models.Circuit(req.Base, req.Pickup, req.Dropoff)
	m := models.Mission{
		MissionID:   "HEMS-" + strings.ToUpper(uuid.NewString()[:8]),
		UserID:      req.UserID,
		Callsign:    req.Callsign,
		MissionType: req.MissionType,
		HemsBase:    circuit[0],
		Helicopter:  req.Helicopter,
		Crew:        req.Crew,
		Patient:     req.Patient,
		Origin:      circuit[0],
		Destination: circuit[2],
		Waypoints:   circuit,
		Metrics:     metrics,
		Tracking:    models.InitialTracking(circuit[0], req.Helicopter, now),
		Status:      models.MissionActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.Tracking.Revision = 1

	if r.store != nil {
		if err := r.store.InsertMission(ctx, m); err != nil {
			return models.Mission{}, fmt.Errorf("insert mission: %w", err)
		}
	}
	r.log.WithFields(logrus.Fields{
		"mission_id": m.MissionID,
		"callsign":   m.Callsign,
		"distance":   metrics.DistanceNM,
		"go":         metrics.GoNoGo,
	}).Info("Mission dispatched")

	r.mu.Lock()
	e := r.trackLocked(m)
	r.mu.Unlock()
	e.runner.Start(r.ctx)
	return m, nil
}

// Resume starts tracking every active mission found in the store.
func (r *Registry) Resume(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	missions, err := r.store.FindActiveMissions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active missions: %w", err)
	}
	n := 0
	for _, m := range missions {
		r.mu.Lock()
		_, known := r.missions[m.MissionID]
		var e *entry
		if !known {
			e = r.trackLocked(m)
		}
		r.mu.Unlock()
		if e != nil {
			e.runner.Start(r.ctx)
			n++
		}
	}
	return n, nil
}

func (r *Registry) trackLocked(m models.Mission) *entry {
	e := r.newEntry(m)
	if m.Status.Terminal() {
		r.closed.Add(m.MissionID, e)
	} else {
		r.missions[m.MissionID] = e
	}
	return e
}

func (r *Registry) newEntry(m models.Mission) *entry {
	t := NewTracker(m, r.opts)
	bridgeCfg := r.cfg.Bridge
	bridgeCfg.StartLeg = t.Leg()
	runner := NewRunner(t, telemetry.NewAutonomous(m, r.cfg.Autonomous))
	runner.onClosed = func() { r.retire(m.MissionID) }
	return &entry{
		tracker:  t,
		runner:   runner,
		bridge:   telemetry.NewBridge(m.MissionID, m.Waypoints, m.Tracking.TimeEnrouteMinutes, bridgeCfg),
		override: telemetry.NewOverride(m.MissionID),
	}
}

// retire moves a closed mission out of the live set and drops what the
// publisher cached for it.
func (r *Registry) retire(missionID string) {
	r.mu.Lock()
	e, ok := r.missions[missionID]
	if !ok || !e.tracker.Mission().Status.Terminal() {
		r.mu.Unlock()
		return
	}
	delete(r.missions, missionID)
	r.closed.Add(missionID, e)
	r.mu.Unlock()

	if f, ok := r.opts.Publisher.(Forgetter); ok {
		f.Forget(missionID)
	}
	r.log.WithField("mission_id", missionID).Debug("Mission retired")
}

func (r *Registry) lookup(missionID string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.missions[missionID]; ok {
		return e, true
	}
	return r.closed.Get(missionID)
}

func (r *Registry) get(ctx context.Context, missionID string) (*entry, error) {
	if e, ok := r.lookup(missionID); ok {
		return e, nil
	}
	if r.store == nil {
		return nil, ErrMissionNotFound
	}

	m, err := r.store.FindMission(ctx, missionID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrMissionNotFound
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	e, ok := r.missions[missionID]
	if !ok {
		e, ok = r.closed.Get(missionID)
	}
	if !ok {
		e = r.trackLocked(*m)
	}
	r.mu.Unlock()
	if !ok && !m.Status.Terminal() {
		e.runner.Start(r.ctx)
	}
	return e, nil
}

// Tracker returns the tracker of a mission, loading it from the store when
// this process has not seen it yet.
func (r *Registry) Tracker(ctx context.Context, missionID string) (*Tracker, error) {
	e, err := r.get(ctx, missionID)
	if err != nil {
		return nil, err
	}
	return e.tracker, nil
}

// Snapshot returns the current tracking view of a mission.
func (r *Registry) Snapshot(ctx context.Context, missionID string) (models.TrackingSnapshot, error) {
	t, err := r.Tracker(ctx, missionID)
	if err != nil {
		return models.TrackingSnapshot{}, err
	}
	return t.Snapshot(), nil
}

// ActiveMissionForUser returns the user's most recent active mission.
func (r *Registry) ActiveMissionForUser(ctx context.Context, userID string) (models.Mission, error) {
	r.mu.Lock()
	var best *models.Mission
	for _, e := range r.missions {
		m := e.tracker.Mission()
		if m.UserID != userID || m.Status.Terminal() {
			continue
		}
		if best == nil || m.CreatedAt.After(best.CreatedAt) {
			best = &m
		}
	}
	r.mu.Unlock()
	if best != nil {
		return *best, nil
	}
	if r.store == nil {
		return models.Mission{}, ErrMissionNotFound
	}
	m, err := r.store.FindActiveMissionForUser(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return models.Mission{}, ErrMissionNotFound
	}
	if err != nil {
		return models.Mission{}, err
	}
	t, err := r.Tracker(ctx, m.MissionID)
	if err != nil {
		return models.Mission{}, err
	}
	return t.Mission(), nil
}

// SetOverride toggles tactical override. The autonomous runner is halted
// while it cannot write and resumes from the current record afterwards.
func (r *Registry) SetOverride(ctx context.Context, missionID string, active bool) (models.TrackingSnapshot, error) {
	e, err := r.get(ctx, missionID)
	if err != nil {
		return models.TrackingSnapshot{}, err
	}
	if err := e.tracker.SetOverrideActive(active); err != nil {
		return models.TrackingSnapshot{}, err
	}
	r.syncRunner(e)
	return e.tracker.Snapshot(), nil
}

// SetSource engages the autonomous simulation or the simulator bridge.
func (r *Registry) SetSource(ctx context.Context, missionID string, src telemetry.Source) (models.TrackingSnapshot, error) {
	e, err := r.get(ctx, missionID)
	if err != nil {
		return models.TrackingSnapshot{}, err
	}
	if err := e.tracker.SetActiveSource(src); err != nil {
		return models.TrackingSnapshot{}, err
	}
	r.syncRunner(e)
	return e.tracker.Snapshot(), nil
}

func (r *Registry) syncRunner(e *entry) {
	if e.tracker.ActiveSource() == telemetry.SourceAutonomous {
		e.runner.Start(r.ctx)
	} else {
		e.runner.Stop()
	}
}

// ApplyOverride applies an operator-entered partial record.
func (r *Registry) ApplyOverride(ctx context.Context, missionID string, patch models.TrackingPatch) (ApplyResult, error) {
	e, err := r.get(ctx, missionID)
	if err != nil {
		return ApplyResult{}, err
	}
	u, err := e.override.Update(patch, r.opts.Clock())
	if err != nil {
		return ApplyResult{}, err
	}
	return e.tracker.Apply(ctx, u)
}

// Ingest applies a live simulator reading already in tracking units.
func (r *Registry) Ingest(ctx context.Context, missionID string, rec models.TrackingRecord, phase string) (ApplyResult, error) {
	e, err := r.get(ctx, missionID)
	if err != nil {
		return ApplyResult{}, err
	}
	if r.cfg.BridgeTakesOver && e.tracker.ActiveSource() == telemetry.SourceAutonomous {
		if err := e.tracker.SetActiveSource(telemetry.SourceBridge); err != nil {
			return ApplyResult{Record: e.tracker.Record()}, err
		}
		r.syncRunner(e)
	}
	e.bridge.SetReached(e.tracker.Leg())
	res, err := e.tracker.Apply(ctx, e.bridge.FromRecord(rec, phase, r.opts.Clock()))
	if res.Completed {
		r.retire(missionID)
	}
	return res, err
}

// Complete closes a mission with an optional final partial record.
func (r *Registry) Complete(ctx context.Context, missionID string, final *models.TrackingPatch) (models.Mission, error) {
	e, err := r.get(ctx, missionID)
	if err != nil {
		return models.Mission{}, err
	}
	e.runner.Stop()
	defer r.retire(missionID)
	return e.tracker.CompleteMission(ctx, final)
}

// Cancel closes a mission without scoring it.
func (r *Registry) Cancel(ctx context.Context, missionID string) (models.Mission, error) {
	e, err := r.get(ctx, missionID)
	if err != nil {
		return models.Mission{}, err
	}
	e.runner.Stop()
	defer r.retire(missionID)
	return e.tracker.Cancel(ctx)
}

// Close stops every runner and flushes pending writes.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.missions))
	for _, e := range r.missions {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.runner.Stop()
		e.tracker.Close()
	}
}
