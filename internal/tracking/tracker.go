// Package tracking owns the authoritative tracking record of each active
// mission. A Tracker arbitrates which telemetry source may write, merges
// accepted updates, persists them off the hot path and announces
// transitions.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/events"
	"github.com/ukydev/hems-dispatch/internal/models"
	"github.com/ukydev/hems-dispatch/internal/telemetry"
)

var (
	// ErrMissionClosed is returned for any mutation of a completed or
	// cancelled mission.
	ErrMissionClosed = errors.New("mission is closed")
	// ErrMissionNotFound is returned when no mission has the requested ID.
	ErrMissionNotFound = errors.New("mission not found")
)

// Publisher receives every accepted snapshot.
type Publisher interface {
	Publish(s models.TrackingSnapshot)
}

// Forgetter is implemented by publishers that cache per-mission state. The
// registry calls Forget once a mission closes.
type Forgetter interface {
	Forget(missionID string)
}

// Emitter receives mission events. Emit must not block.
type Emitter interface {
	Emit(e events.Event)
}

// Options wires a tracker to its collaborators. Every field is optional.
type Options struct {
	Store        TrackingStore
	Publisher    Publisher
	Emitter      Emitter
	Scorer       Scorer
	Clock        func() time.Time
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Scorer == nil {
		o.Scorer = DefaultScorer{FuelReserveMinutes: 20}
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// ApplyResult reports what became of an update.
type ApplyResult struct {
	Record   models.TrackingRecord
	Accepted bool
	// Reason says why an update was dropped.
	Reason string
	// Completed is set when the update landed the aircraft and closed the
	// mission.
	Completed bool
}

// Tracker is the single writer-arbitration point for one mission.
type Tracker struct {
	opts   Options
	log    *logrus.Entry
	writer *writer

	mu      sync.Mutex
	mission models.Mission
	active  telemetry.Source
	// resume is the source that regains control when override is released.
	resume  telemetry.Source
	lastSeq map[telemetry.Source]uint64
	// engagedAt is when the active source took control.
	engagedAt time.Time
	// leg is the last waypoint reached. Adapters read it instead of
	// tracking progress themselves.
	leg int
}

// NewTracker takes ownership of m's tracking record. The autonomous source
// starts in control.
func NewTracker(m models.Mission, opts Options) *Tracker {
	opts = opts.withDefaults()
	t := &Tracker{
		opts:    opts,
		log:     logrus.WithFields(logrus.Fields{"component": "tracking", "mission_id": m.MissionID}),
		mission: m,
		active:  telemetry.SourceAutonomous,
		resume:  telemetry.SourceAutonomous,
		lastSeq: make(map[telemetry.Source]uint64),
		leg:     telemetry.LegForPhase(m.Tracking.Phase, len(m.Waypoints)),
	}
	if opts.Store != nil && !m.Status.Terminal() {
		t.writer = newWriter(m.MissionID, opts.Store, opts.WriteTimeout, t.log)
	}
	return t
}

// MissionID identifies the tracked mission.
func (t *Tracker) MissionID() string {
	return t.mission.MissionID
}

// Record returns a copy of the current tracking record.
func (t *Tracker) Record() models.TrackingRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mission.Tracking
}

// Mission returns a copy of the mission with its current record.
func (t *Tracker) Mission() models.Mission {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mission
}

// ActiveSource is the source currently allowed to write.
func (t *Tracker) ActiveSource() telemetry.Source {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Leg returns the index of the last waypoint reached.
func (t *Tracker) Leg() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leg
}

// Snapshot returns a read-only view for displays.
func (t *Tracker) Snapshot() models.TrackingSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() models.TrackingSnapshot {
	return models.TrackingSnapshot{
		MissionID:    t.mission.MissionID,
		Record:       t.mission.Tracking,
		ActiveSource: string(t.active),
		Status:       t.mission.Status,
		LegIndex:     t.leg,
	}
}

// Apply merges u into the record when u comes from the active source and is
// newer than the last sample accepted from it. Dropped updates are not
// errors; updates to a closed mission are.
func (t *Tracker) Apply(ctx context.Context, u telemetry.Update) (ApplyResult, error) {
	if u.MissionID != "" && u.MissionID != t.mission.MissionID {
		return ApplyResult{}, fmt.Errorf("update for mission %s sent to tracker of %s", u.MissionID, t.mission.MissionID)
	}

	t.mu.Lock()
	if t.mission.Status.Terminal() {
		rec := t.mission.Tracking
		t.mu.Unlock()
		return ApplyResult{Record: rec}, ErrMissionClosed
	}
	if active := t.active; u.Source != active {
		rec := t.mission.Tracking
		t.mu.Unlock()
		t.log.WithFields(logrus.Fields{"source": u.Source, "active": active}).Debug("Dropped update from inactive source")
		return ApplyResult{Record: rec, Reason: "inactive source"}, nil
	}
	if engaged := t.engagedAt; !u.ProducedAt.IsZero() && u.ProducedAt.Before(engaged) {
		rec := t.mission.Tracking
		t.mu.Unlock()
		t.log.WithFields(logrus.Fields{"source": u.Source, "produced_at": u.ProducedAt, "engaged_at": engaged}).Debug("Dropped update produced before source was engaged")
		return ApplyResult{Record: rec, Reason: "produced before engagement"}, nil
	}
	if u.Sequence != 0 && u.Sequence <= t.lastSeq[u.Source] {
		rec := t.mission.Tracking
		last := t.lastSeq[u.Source]
		t.mu.Unlock()
		t.log.WithFields(logrus.Fields{"source": u.Source, "sequence": u.Sequence, "last": last}).Debug("Dropped stale update")
		return ApplyResult{Record: rec, Reason: "stale sequence"}, nil
	}

	now := t.opts.Clock()
	prev := t.mission.Tracking
	next := u.Patch.ApplyTo(prev).Sanitize()
	if !next.Phase.Valid() {
		next.Phase = prev.Phase
	}
	if u.Source != telemetry.SourceOverride {
		next.Phase = models.MaxPhase(prev.Phase, next.Phase)
		if u.LegIndex > t.leg {
			t.leg = u.LegIndex
		}
	}
	next.LastUpdate = now
	next.Revision = prev.Revision + 1

	t.mission.Tracking = next
	t.mission.UpdatedAt = now
	if u.Sequence != 0 {
		t.lastSeq[u.Source] = u.Sequence
	}

	switch {
	case u.ArrivedAt != nil:
		t.emit(events.WaypointReached(t.mission.MissionID, *u.ArrivedAt, prev.Phase, next, now))
	case next.Phase != prev.Phase:
		t.emit(events.PhaseChanged(t.mission.MissionID, prev.Phase, next, now))
	}

	res := ApplyResult{Record: next, Accepted: true}
	if u.Landed && u.Source != telemetry.SourceOverride {
		t.completeLocked(now)
		res.Record = t.mission.Tracking
		res.Completed = true
		final := t.mission
		t.mu.Unlock()
		if err := t.finalize(ctx, final); err != nil {
			t.log.WithError(err).Warn("Failed to persist mission completion")
		}
		return res, nil
	}

	t.persistLocked()
	t.mu.Unlock()
	return res, nil
}

// SetOverrideActive hands exclusive control to the tactical override, or
// returns it to the source that held it before. Progress is never reset.
func (t *Tracker) SetOverrideActive(active bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mission.Status.Terminal() {
		return ErrMissionClosed
	}
	if active {
		if t.active != telemetry.SourceOverride {
			t.resume = t.active
			t.activateLocked(telemetry.SourceOverride)
		}
	} else if t.active == telemetry.SourceOverride {
		t.activateLocked(t.resume)
	}
	t.publishLocked()
	return nil
}

// SetActiveSource engages src. While override holds control the choice
// takes effect once override is released.
func (t *Tracker) SetActiveSource(src telemetry.Source) error {
	if src == telemetry.SourceOverride {
		return t.SetOverrideActive(true)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mission.Status.Terminal() {
		return ErrMissionClosed
	}
	t.resume = src
	if t.active != telemetry.SourceOverride {
		t.activateLocked(src)
	}
	t.publishLocked()
	return nil
}

func (t *Tracker) activateLocked(src telemetry.Source) {
	if t.active == src {
		return
	}
	t.log.WithFields(logrus.Fields{"from": t.active, "to": src}).Info("Telemetry source changed")
	t.active = src
	t.engagedAt = t.opts.Clock()
}

// CompleteMission closes the mission, optionally merging a final partial
// record first. The record is frozen and scored.
func (t *Tracker) CompleteMission(ctx context.Context, final *models.TrackingPatch) (models.Mission, error) {
	t.mu.Lock()
	if t.mission.Status.Terminal() {
		m := t.mission
		t.mu.Unlock()
		return m, ErrMissionClosed
	}
	now := t.opts.Clock()
	if final != nil {
		t.mission.Tracking = final.ApplyTo(t.mission.Tracking).Sanitize()
	}
	t.completeLocked(now)
	m := t.mission
	t.mu.Unlock()

	if err := t.finalize(ctx, m); err != nil {
		return m, fmt.Errorf("persist completion: %w", err)
	}
	return m, nil
}

func (t *Tracker) completeLocked(now time.Time) {
	rec := t.mission.Tracking
	rec.Phase = models.PhaseComplete
	rec.GroundSpeedKts = 0
	rec.VerticalSpeedFtMin = 0
	rec.LastUpdate = now
	rec.Revision++
	t.mission.Tracking = rec

	score := t.opts.Scorer.Score(t.mission, rec)
	summary := Summarize(t.mission, rec)
	t.mission.PerformanceScore = &score
	t.mission.FlightSummary = &summary
	t.mission.Status = models.MissionCompleted
	t.mission.UpdatedAt = now

	t.log.WithFields(logrus.Fields{"score": score, "minutes": summary.TotalTimeMinutes}).Info("Mission completed")
	t.publishLocked()
	t.emit(events.MissionCompleted(t.mission.MissionID, rec, now))
}

// Cancel closes the mission without scoring it.
func (t *Tracker) Cancel(ctx context.Context) (models.Mission, error) {
	t.mu.Lock()
	if t.mission.Status.Terminal() {
		m := t.mission
		t.mu.Unlock()
		return m, ErrMissionClosed
	}
	now := t.opts.Clock()
	t.mission.Tracking.LastUpdate = now
	t.mission.Tracking.Revision++
	t.mission.Status = models.MissionCancelled
	t.mission.UpdatedAt = now
	t.log.Info("Mission cancelled")
	t.publishLocked()
	t.emit(events.MissionCancelled(t.mission.MissionID, t.mission.Tracking, now))
	m := t.mission
	t.mu.Unlock()

	if err := t.finalize(ctx, m); err != nil {
		return m, fmt.Errorf("persist cancellation: %w", err)
	}
	return m, nil
}

// finalize drains pending tracking writes, then records the terminal state.
func (t *Tracker) finalize(ctx context.Context, m models.Mission) error {
	if t.writer != nil {
		t.writer.close()
	}
	if t.opts.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.opts.WriteTimeout)
	defer cancel()
	return t.opts.Store.FinalizeMission(ctx, m)
}

// Close flushes pending writes. The tracker still serves reads afterwards.
func (t *Tracker) Close() {
	if t.writer != nil {
		t.writer.close()
	}
}

func (t *Tracker) persistLocked() {
	if t.writer != nil {
		t.writer.save(t.mission.Tracking)
	}
	t.publishLocked()
}

func (t *Tracker) publishLocked() {
	if t.opts.Publisher != nil {
		t.opts.Publisher.Publish(t.snapshotLocked())
	}
}

func (t *Tracker) emit(e events.Event) {
	if t.opts.Emitter == nil {
		return
	}
	e.Callsign = t.mission.Callsign
	t.opts.Emitter.Emit(e)
}
