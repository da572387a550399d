// Package hub fans accepted tracking snapshots out to dispatcher displays.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/models"
)

// SnapshotSink relays snapshots off-process, e.g. to an MQTT broker.
type SnapshotSink interface {
	PublishSnapshot(ctx context.Context, s models.TrackingSnapshot) error
}

// Hub keeps the latest snapshot per mission and pushes every new one to the
// mission's subscribers. Slow subscribers miss snapshots rather than stall
// the publisher.
type Hub struct {
	mu          sync.RWMutex
	latest      map[string]models.TrackingSnapshot
	subscribers map[string]map[chan models.TrackingSnapshot]struct{}
	bufferSize  int

	relay *relay
}

// New builds a hub. sink may be nil.
func New(bufferSize int, sink SnapshotSink) *Hub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	h := &Hub{
		latest:      make(map[string]models.TrackingSnapshot),
		subscribers: make(map[string]map[chan models.TrackingSnapshot]struct{}),
		bufferSize:  bufferSize,
	}
	if sink != nil {
		h.relay = newRelay(sink)
	}
	return h
}

// Publish records s as the latest snapshot of its mission and fans it out.
func (h *Hub) Publish(s models.TrackingSnapshot) {
	h.mu.Lock()
	h.latest[s.MissionID] = s
	for ch := range h.subscribers[s.MissionID] {
		select {
		case ch <- s:
		default:
		}
	}
	h.mu.Unlock()

	if h.relay != nil {
		h.relay.offer(s)
	}
}

// Latest returns the last snapshot published for a mission.
func (h *Hub) Latest(missionID string) (models.TrackingSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.latest[missionID]
	return s, ok
}

// Subscribe registers a listener for one mission. The latest snapshot, if
// any, is delivered first.
func (h *Hub) Subscribe(missionID string) (<-chan models.TrackingSnapshot, func()) {
	ch := make(chan models.TrackingSnapshot, h.bufferSize)
	h.mu.Lock()
	subs, ok := h.subscribers[missionID]
	if !ok {
		subs = make(map[chan models.TrackingSnapshot]struct{})
		h.subscribers[missionID] = subs
	}
	subs[ch] = struct{}{}
	if s, ok := h.latest[missionID]; ok {
		ch <- s
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers[missionID], ch)
			if len(h.subscribers[missionID]) == 0 {
				delete(h.subscribers, missionID)
			}
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers reports how many listeners a mission has.
func (h *Hub) Subscribers(missionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[missionID])
}

// Forget drops the cached snapshot of a closed mission.
func (h *Hub) Forget(missionID string) {
	h.mu.Lock()
	delete(h.latest, missionID)
	h.mu.Unlock()
}

// Close stops the off-process relay.
func (h *Hub) Close() {
	if h.relay != nil {
		h.relay.close()
	}
}

// relay forwards the newest pending snapshot per mission to the sink on its
// own goroutine.
type relay struct {
	sink    SnapshotSink
	log     *logrus.Entry
	mu      sync.Mutex
	pending map[string]models.TrackingSnapshot
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

func newRelay(sink SnapshotSink) *relay {
	r := &relay{
		sink:    sink,
		log:     logrus.WithField("component", "hub"),
		pending: make(map[string]models.TrackingSnapshot),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *relay) offer(s models.TrackingSnapshot) {
	r.mu.Lock()
	r.pending[s.MissionID] = s
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *relay) run() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			r.flush()
			return
		case <-r.wake:
			r.flush()
		}
	}
}

func (r *relay) flush() {
	r.mu.Lock()
	batch := r.pending
	r.pending = make(map[string]models.TrackingSnapshot)
	r.mu.Unlock()

	for id, s := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.PublishSnapshot(ctx, s); err != nil {
			r.log.WithError(err).WithField("mission_id", id).Warn("Failed to relay snapshot")
		}
		cancel()
	}
}

func (r *relay) close() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done
}
