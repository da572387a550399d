package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/telemetry"
)

// ConnState is the lifecycle state of the plugin connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateError        ConnState = "error"
)

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultReconnectDelay    = 3 * time.Second
	DefaultHandshakeTimeout  = 5 * time.Second
)

// WSConfig addresses a simulator plugin WebSocket.
type WSConfig struct {
	URL               string
	HeartbeatInterval time.Duration
	// ReconnectDelay is constant between attempts.
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
}

func (c WSConfig) withDefaults() WSConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return c
}

// WSHandlers receive what the plugin sends. Every field is optional.
type WSHandlers struct {
	OnTelemetry func(telemetry.PluginTelemetry)
	OnState     func(ConnState)
	OnError     func(error)
}

type wsMessage struct {
	Type      string          `json:"type"`
	MissionID string          `json:"missionId,omitempty"`
	Phase     string          `json:"phase,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// WSClient keeps a connection to a simulator plugin open, reconnecting after
// a fixed delay whenever it drops.
type WSClient struct {
	cfg      WSConfig
	handlers WSHandlers
	dialer   *websocket.Dialer
	log      *logrus.Entry

	mu        sync.Mutex
	state     ConnState
	conn      *websocket.Conn
	missionID string
	phase     string

	writeMu sync.Mutex
}

// NewWSClient creates a disconnected client. Run connects it.
func NewWSClient(cfg WSConfig, h WSHandlers) *WSClient {
	cfg = cfg.withDefaults()
	return &WSClient{
		cfg:      cfg,
		handlers: h,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		log:      logrus.WithFields(logrus.Fields{"component": "plugin-ws", "url": cfg.URL}),
		state:    StateDisconnected,
	}
}

// State returns the current connection state.
func (c *WSClient) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *WSClient) setState(s ConnState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if !changed {
		return
	}
	c.log.WithField("state", s).Debug("Plugin connection state changed")
	if c.handlers.OnState != nil {
		c.handlers.OnState(s)
	}
}

// Run connects and keeps reconnecting until ctx is done.
func (c *WSClient) Run(ctx context.Context) error {
	retry := backoff.NewConstantBackOff(c.cfg.ReconnectDelay)
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return nil
		}
		wait := retry.NextBackOff()
		c.log.WithError(err).WithField("retry_in", wait).Warn("Plugin connection lost")
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return nil
		case <-time.After(wait):
		}
	}
}

// session runs one connection until it drops.
func (c *WSClient) session(ctx context.Context) error {
	c.setState(StateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	conn, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	timedOut := dialCtx.Err() != nil
	cancel()
	if err != nil {
		// An unanswered handshake is a plain disconnect, not an error.
		if timedOut || ctx.Err() != nil {
			c.setState(StateDisconnected)
		} else {
			c.setState(StateError)
			c.reportError(err)
		}
		return err
	}

	c.mu.Lock()
	c.conn = conn
	missionID, phase := c.missionID, c.phase
	c.mu.Unlock()
	c.setState(StateConnected)
	c.log.Info("Connected to simulator plugin")
	c.announce(conn, missionID, phase)

	sessCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.heartbeat(sessCtx, conn)
	}()
	go func() {
		defer wg.Done()
		<-sessCtx.Done()
		conn.Close()
	}()

	err = c.readLoop(conn)
	stop()
	wg.Wait()

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.setState(StateDisconnected)
	return err
}

// announce replays the mission state to a freshly connected plugin.
func (c *WSClient) announce(conn *websocket.Conn, missionID, phase string) {
	if missionID == "" {
		return
	}
	err := c.write(conn, wsMessage{Type: "start_mission", MissionID: missionID})
	if err == nil && phase != "" {
		err = c.write(conn, wsMessage{Type: "set_phase", MissionID: missionID, Phase: phase})
	}
	if err != nil {
		c.log.WithError(err).WithField("mission_id", missionID).Debug("Mission replay failed")
	}
}

func (c *WSClient) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(conn, wsMessage{Type: "ping", MissionID: c.mission()}); err != nil {
				c.log.WithError(err).Debug("Heartbeat failed")
				conn.Close()
				return
			}
		}
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handle(data)
	}
}

func (c *WSClient) handle(data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.WithError(err).Debug("Failed to parse plugin message")
		return
	}
	switch msg.Type {
	case "telemetry":
		var t telemetry.PluginTelemetry
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			c.log.WithError(err).Debug("Failed to parse plugin telemetry")
			return
		}
		if c.handlers.OnTelemetry != nil {
			c.handlers.OnTelemetry(t)
		}
	case "status":
		c.log.WithField("status", string(data)).Debug("Plugin status")
	case "error":
		c.reportError(errors.New(msg.Message))
	case "pong":
	default:
		c.log.WithField("type", msg.Type).Debug("Unknown plugin message")
	}
}

func (c *WSClient) reportError(err error) {
	if c.handlers.OnError != nil {
		c.handlers.OnError(err)
	}
}

func (c *WSClient) write(conn *websocket.Conn, msg wsMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.HandshakeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func (c *WSClient) send(msg wsMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, msg)
}

func (c *WSClient) mission() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.missionID
}

// StartMission tells the plugin which mission it is flying. The mission is
// announced again on every reconnect until EndMission.
func (c *WSClient) StartMission(missionID string) error {
	c.mu.Lock()
	c.missionID = missionID
	c.phase = ""
	c.mu.Unlock()
	return c.send(wsMessage{Type: "start_mission", MissionID: missionID})
}

// EndMission tells the plugin the mission is over.
func (c *WSClient) EndMission() error {
	c.mu.Lock()
	id := c.missionID
	c.missionID = ""
	c.phase = ""
	c.mu.Unlock()
	return c.send(wsMessage{Type: "end_mission", MissionID: id})
}

// SetPhase pushes a phase label to the plugin.
func (c *WSClient) SetPhase(phase string) error {
	c.mu.Lock()
	id := c.missionID
	c.phase = phase
	c.mu.Unlock()
	return c.send(wsMessage{Type: "set_phase", MissionID: id, Phase: phase})
}
