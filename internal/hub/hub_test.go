package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/hems-dispatch/internal/models"
)

func snap(id string, rev uint64) models.TrackingSnapshot {
	return models.TrackingSnapshot{MissionID: id, Record: models.TrackingRecord{Revision: rev}}
}

func TestHub_SubscribeReceivesLatestThenUpdates(t *testing.T) {
	h := New(4, nil)
	h.Publish(snap("M-1", 1))

	ch, cancel := h.Subscribe("M-1")
	defer cancel()

	first := <-ch
	assert.Equal(t, uint64(1), first.Record.Revision)

	h.Publish(snap("M-1", 2))
	h.Publish(snap("M-2", 9))
	second := <-ch
	assert.Equal(t, uint64(2), second.Record.Revision)

	select {
	case s := <-ch:
		t.Fatalf("unexpected snapshot for %s", s.MissionID)
	default:
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := New(1, nil)
	_, cancel := h.Subscribe("M-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := uint64(0); i < 100; i++ {
			h.Publish(snap("M-1", i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	latest, ok := h.Latest("M-1")
	require.True(t, ok)
	assert.Equal(t, uint64(99), latest.Record.Revision)
}

func TestHub_CancelUnsubscribes(t *testing.T) {
	h := New(1, nil)
	ch, cancel := h.Subscribe("M-1")
	assert.Equal(t, 1, h.Subscribers("M-1"))
	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers("M-1"))
	_, open := <-ch
	assert.False(t, open)

	h.Forget("M-1")
	_, ok := h.Latest("M-1")
	assert.False(t, ok)
}

type recordingSink struct {
	mu   sync.Mutex
	got  []models.TrackingSnapshot
	wait chan struct{}
}

func (r *recordingSink) PublishSnapshot(ctx context.Context, s models.TrackingSnapshot) error {
	r.mu.Lock()
	r.got = append(r.got, s)
	r.mu.Unlock()
	select {
	case r.wait <- struct{}{}:
	default:
	}
	return nil
}

func TestHub_RelaysToSink(t *testing.T) {
	sink := &recordingSink{wait: make(chan struct{}, 1)}
	h := New(1, sink)
	h.Publish(snap("M-1", 5))

	select {
	case <-sink.wait:
	case <-time.After(time.Second):
		t.Fatal("snapshot not relayed")
	}
	h.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.got)
	assert.Equal(t, uint64(5), sink.got[len(sink.got)-1].Record.Revision)
}
