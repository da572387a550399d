package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/telemetry"
)

// Runner drives the autonomous source of one mission on a ticker. Ticks
// are skipped while another source holds control.
type Runner struct {
	tracker *Tracker
	adapter *telemetry.Autonomous
	clock   func() time.Time
	log     *logrus.Entry
	// onClosed runs on the loop goroutine once ticking ends because the
	// mission closed.
	onClosed func()

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner pairs a tracker with its autonomous adapter.
func NewRunner(t *Tracker, a *telemetry.Autonomous) *Runner {
	return &Runner{
		tracker: t,
		adapter: a,
		clock:   t.opts.Clock,
		log:     t.log.WithField("runner", "autonomous"),
	}
}

// Start launches the tick loop unless it is already running.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	go r.loop(ctx, done)
}

// Stop cancels the tick loop and waits for it to exit. An in-flight apply
// finishes first.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.adapter.Interval())
	defer ticker.Stop()

	r.log.WithField("interval", r.adapter.Interval()).Debug("Autonomous ticking started")
	for {
		select {
		case <-ctx.Done():
			r.log.Debug("Autonomous ticking stopped")
			return
		case <-ticker.C:
			if !r.Tick(ctx) {
				r.detach(done)
				if r.onClosed != nil {
					r.onClosed()
				}
				return
			}
		}
	}
}

// detach clears the loop handle after the loop ended by itself.
func (r *Runner) detach(done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == done {
		r.cancel()
		r.cancel, r.done = nil, nil
	}
}

// Tick advances the mission once. It reports false when the mission is
// closed and ticking should end.
func (r *Runner) Tick(ctx context.Context) bool {
	if r.tracker.ActiveSource() != telemetry.SourceAutonomous {
		return true
	}
	snap := r.tracker.Snapshot()
	u := r.adapter.Next(snap.Record, snap.LegIndex, r.clock())
	res, err := r.tracker.Apply(ctx, u)
	if errors.Is(err, ErrMissionClosed) {
		return false
	}
	if err != nil {
		r.log.WithError(err).Warn("Autonomous tick failed")
		return true
	}
	return !res.Completed
}
