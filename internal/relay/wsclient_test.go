package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/hems-dispatch/internal/telemetry"
)

// pluginServer is a fake simulator plugin.
type pluginServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []wsMessage
	accepts  int
}

func newPluginServer(t *testing.T) *pluginServer {
	t.Helper()
	ps := &pluginServer{}
	ps.Server = httptest.NewServer(http.HandlerFunc(ps.handle))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pluginServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := ps.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ps.mu.Lock()
	ps.conns = append(ps.conns, conn)
	ps.accepts++
	ps.mu.Unlock()
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		ps.mu.Lock()
		ps.received = append(ps.received, msg)
		ps.mu.Unlock()
	}
}

func (ps *pluginServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ps.URL, "http")
}

func (ps *pluginServer) latest() *websocket.Conn {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if len(ps.conns) == 0 {
		return nil
	}
	return ps.conns[len(ps.conns)-1]
}

func (ps *pluginServer) acceptCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.accepts
}

func (ps *pluginServer) messages(kind string) []wsMessage {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	var out []wsMessage
	for _, m := range ps.received {
		if m.Type == kind {
			out = append(out, m)
		}
	}
	return out
}

type stateLog struct {
	mu     sync.Mutex
	states []ConnState
}

func (l *stateLog) add(s ConnState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) snapshot() []ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConnState(nil), l.states...)
}

func runClient(t *testing.T, c *WSClient) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestWSClient_ReceivesTelemetryAndSendsCommands(t *testing.T) {
	ps := newPluginServer(t)
	got := make(chan telemetry.PluginTelemetry, 1)
	c := NewWSClient(WSConfig{URL: ps.wsURL(), HeartbeatInterval: 20 * time.Millisecond}, WSHandlers{
		OnTelemetry: func(p telemetry.PluginTelemetry) { got <- p },
	})

	assert.ErrorIs(t, c.StartMission("HEMS-1"), ErrNotConnected)
	runClient(t, c)
	require.Eventually(t, func() bool { return c.State() == StateConnected && ps.latest() != nil }, 2*time.Second, 5*time.Millisecond)

	data, _ := json.Marshal(telemetry.PluginTelemetry{Latitude: 51.5, AltitudeFt: 1200, Phase: "Enroute to Scene"})
	require.NoError(t, ps.latest().WriteJSON(wsMessage{Type: "telemetry", Data: data}))
	select {
	case p := <-got:
		assert.Equal(t, 51.5, p.Latitude)
		assert.Equal(t, "Enroute to Scene", p.Phase)
	case <-time.After(2 * time.Second):
		t.Fatal("telemetry not delivered")
	}

	require.NoError(t, c.StartMission("HEMS-1"))
	require.NoError(t, c.SetPhase("On Scene"))
	require.NoError(t, c.EndMission())

	require.Eventually(t, func() bool { return len(ps.messages("end_mission")) == 1 }, 2*time.Second, 5*time.Millisecond)
	start := ps.messages("start_mission")[0]
	assert.Equal(t, "HEMS-1", start.MissionID)
	assert.NotZero(t, start.Timestamp)
	phase := ps.messages("set_phase")[0]
	assert.Equal(t, "On Scene", phase.Phase)
	assert.Equal(t, "HEMS-1", phase.MissionID)
	assert.Equal(t, "HEMS-1", ps.messages("end_mission")[0].MissionID)

	assert.Eventually(t, func() bool { return len(ps.messages("ping")) >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestWSClient_ReconnectsAfterForcedClose(t *testing.T) {
	ps := newPluginServer(t)
	states := &stateLog{}
	c := NewWSClient(WSConfig{URL: ps.wsURL(), ReconnectDelay: 100 * time.Millisecond}, WSHandlers{OnState: states.add})
	runClient(t, c)

	require.Eventually(t, func() bool { return c.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	ps.latest().Close()

	require.Eventually(t, func() bool { return ps.acceptCount() == 2 && c.State() == StateConnected }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, []ConnState{
		StateConnecting, StateConnected,
		StateDisconnected,
		StateConnecting, StateConnected,
	}, states.snapshot())
}

func TestWSClient_ReplaysMissionAfterReconnect(t *testing.T) {
	ps := newPluginServer(t)
	c := NewWSClient(WSConfig{
		URL:               ps.wsURL(),
		HeartbeatInterval: 20 * time.Millisecond,
		ReconnectDelay:    50 * time.Millisecond,
	}, WSHandlers{})
	runClient(t, c)
	require.Eventually(t, func() bool { return c.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.StartMission("HEMS-1"))
	require.NoError(t, c.SetPhase("On Scene"))
	require.Eventually(t, func() bool { return len(ps.messages("set_phase")) == 1 }, 2*time.Second, 5*time.Millisecond)

	ps.latest().Close()
	require.Eventually(t, func() bool { return len(ps.messages("set_phase")) == 2 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, ps.acceptCount())
	starts := ps.messages("start_mission")
	require.Len(t, starts, 2)
	assert.Equal(t, "HEMS-1", starts[1].MissionID)
	assert.Equal(t, "On Scene", ps.messages("set_phase")[1].Phase)

	assert.Eventually(t, func() bool {
		pings := ps.messages("ping")
		return len(pings) > 0 && pings[len(pings)-1].MissionID == "HEMS-1"
	}, 2*time.Second, 5*time.Millisecond, "heartbeats name the mission")

	require.NoError(t, c.EndMission())
	ps.latest().Close()
	require.Eventually(t, func() bool { return ps.acceptCount() == 3 && c.State() == StateConnected }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, ps.messages("start_mission"), 2, "ended missions are not replayed")
}

func TestWSClient_ErrorMessageReported(t *testing.T) {
	ps := newPluginServer(t)
	errs := make(chan error, 1)
	c := NewWSClient(WSConfig{URL: ps.wsURL()}, WSHandlers{OnError: func(err error) { errs <- err }})
	runClient(t, c)
	require.Eventually(t, func() bool { return ps.latest() != nil }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ps.latest().WriteJSON(wsMessage{Type: "error", Message: "SimConnect lost"}))
	select {
	case err := <-errs:
		assert.EqualError(t, err, "SimConnect lost")
	case <-time.After(2 * time.Second):
		t.Fatal("error not reported")
	}
}

func TestWSClient_HandshakeTimeoutDisconnects(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })

	states := &stateLog{}
	c := NewWSClient(WSConfig{
		URL:              "ws" + strings.TrimPrefix(slow.URL, "http"),
		HandshakeTimeout: 50 * time.Millisecond,
		ReconnectDelay:   time.Hour,
	}, WSHandlers{OnState: states.add})
	runClient(t, c)

	require.Eventually(t, func() bool { return len(states.snapshot()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []ConnState{StateConnecting, StateDisconnected}, states.snapshot()[:2])
}

func TestWSClient_StopsOnCancel(t *testing.T) {
	ps := newPluginServer(t)
	c := NewWSClient(WSConfig{URL: ps.wsURL()}, WSHandlers{})
	cancel := runClient(t, c)
	require.Eventually(t, func() bool { return c.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool { return c.State() == StateDisconnected }, 2*time.Second, 5*time.Millisecond)
}
