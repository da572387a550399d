package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/db"
	"github.com/ukydev/hems-dispatch/internal/models"
)

// Sink receives every event after it is logged, e.g. a broker publisher.
type Sink interface {
	PublishEvent(ctx context.Context, e Event) error
}

// Config tunes the dispatcher.
type Config struct {
	// QueueSize bounds pending events; Emit drops when the queue is full.
	QueueSize int
	// Timeout bounds each external call made for one event.
	Timeout time.Duration
}

// Dispatcher handles events on its own goroutine so that a slow or failing
// collaborator never stalls tracking.
type Dispatcher struct {
	logs     db.LogCollection
	narrator Narrator
	sinks    []Sink
	timeout  time.Duration
	log      *logrus.Entry

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	dropped atomic.Uint64
}

// NewDispatcher builds a dispatcher. logs and narrator may be nil.
func NewDispatcher(cfg Config, logs db.LogCollection, narrator Narrator, sinks ...Sink) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		logs:     logs,
		narrator: narrator,
		sinks:    sinks,
		timeout:  cfg.Timeout,
		log:      logrus.WithField("component", "events"),
		queue:    make(chan Event, cfg.QueueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the worker.
func (d *Dispatcher) Start() {
	go d.run()
}

// Emit queues e without blocking.
func (d *Dispatcher) Emit(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		n := d.dropped.Add(1)
		d.log.WithFields(logrus.Fields{"mission_id": e.MissionID, "code": e.Code, "dropped": n}).Warn("Event queue full, dropping event")
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.handle(e)
	}
}

func (d *Dispatcher) handle(e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{"mission_id": e.MissionID, "code": e.Code, "panic": r}).Error("Event handler panicked")
		}
	}()
	entry := d.log.WithFields(logrus.Fields{"mission_id": e.MissionID, "code": e.Code})
	entry.Info("Mission event")

	d.appendLog(e.MissionID, models.SenderSystem, e.SystemMessage(), e.At)

	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := s.PublishEvent(ctx, e); err != nil {
			entry.WithError(err).Warn("Failed to publish event")
		}
		cancel()
	}

	reply := e.FallbackReply()
	if d.narrator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		text, err := d.narrator.Narrate(ctx, e.MissionID, e.Code)
		cancel()
		if err != nil {
			entry.WithError(err).Warn("Narrator unavailable, using fallback reply")
		} else {
			reply = text
		}
	}
	d.appendLog(e.MissionID, models.SenderDispatch, reply, time.Now())
}

func (d *Dispatcher) appendLog(missionID, sender, message string, at time.Time) {
	if d.logs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	err := d.logs.InsertLog(ctx, models.LogEntry{
		MissionID: missionID,
		Sender:    sender,
		Message:   message,
		Timestamp: at,
	})
	if err != nil {
		d.log.WithError(err).WithField("mission_id", missionID).Warn("Failed to append mission log")
	}
}
