package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/models"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// SnapshotSource is the fan-out a stream subscribes to. *hub.Hub implements it.
type SnapshotSource interface {
	Latest(missionID string) (models.TrackingSnapshot, bool)
	Subscribe(missionID string) (<-chan models.TrackingSnapshot, func())
}

// StreamHandler pushes tracking snapshots to dispatcher displays over
// WebSocket
type StreamHandler struct {
	missions MissionService
	source   SnapshotSource
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(missions MissionService, source SnapshotSource) *StreamHandler {
	return &StreamHandler{
		missions: missions,
		source:   source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Stream sends the current snapshot, then every accepted one, until the
// mission closes or the client goes away.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "id")
	current, err := h.missions.Snapshot(r.Context(), missionID)
	if err != nil {
		writeMissionError(w, logrus.WithField("component", "stream"), err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).WithField("mission_id", missionID).Warn("Unable to upgrade stream")
		return
	}
	defer conn.Close()
	entry := logrus.WithFields(logrus.Fields{"component": "stream", "mission_id": missionID})
	entry.Debug("Stream opened")

	updates, unsubscribe := h.source.Subscribe(missionID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(s models.TrackingSnapshot) bool {
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(s); err != nil {
			entry.WithError(err).Debug("Stream write failed")
			return false
		}
		return !s.Status.Terminal()
	}

	if _, ok := h.source.Latest(missionID); !ok {
		if !send(current) {
			return
		}
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-updates:
			if !ok || !send(s) {
				conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "mission closed"))
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
