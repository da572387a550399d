package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/db"
	"github.com/ukydev/hems-dispatch/internal/models"
)

// TrackingStore is the persistence a tracker needs.
type TrackingStore interface {
	UpsertTracking(ctx context.Context, missionID string, rec models.TrackingRecord) error
	FinalizeMission(ctx context.Context, mission models.Mission) error
}

// writer persists the newest tracking record of one mission on its own
// goroutine. A record still pending when a newer one arrives is replaced,
// never written.
type writer struct {
	missionID string
	store     TrackingStore
	timeout   time.Duration
	log       *logrus.Entry

	mu      sync.Mutex
	pending *models.TrackingRecord
	written uint64

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newWriter(missionID string, store TrackingStore, timeout time.Duration, log *logrus.Entry) *writer {
	w := &writer{
		missionID: missionID,
		store:     store,
		timeout:   timeout,
		log:       log,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

// save queues rec and returns at once.
func (w *writer) save(rec models.TrackingRecord) {
	w.mu.Lock()
	w.pending = &rec
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// lastWritten is the revision of the newest record the store accepted.
func (w *writer) lastWritten() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func (w *writer) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			w.flush()
			return
		case <-w.wake:
			w.flush()
		}
	}
}

func (w *writer) flush() {
	w.mu.Lock()
	rec := w.pending
	w.pending = nil
	w.mu.Unlock()
	if rec == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	err := w.store.UpsertTracking(ctx, w.missionID, *rec)
	switch {
	case err == nil:
		w.mu.Lock()
		if rec.Revision > w.written {
			w.written = rec.Revision
		}
		w.mu.Unlock()
	case errors.Is(err, db.ErrStaleRevision):
		w.log.WithField("revision", rec.Revision).Debug("Stored tracking is newer, skipping write")
	default:
		w.log.WithError(err).WithField("revision", rec.Revision).Warn("Failed to persist tracking")
	}
}

// close writes whatever is pending and stops the goroutine.
func (w *writer) close() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
}
