package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/hems-dispatch/internal/telemetry"
)

func TestBridge_SamplesUplinksAndMirrorsMission(t *testing.T) {
	xp := newXPlaneServer(t, map[string]interface{}{
		telemetry.DatarefLatitude:  51.5,
		telemetry.DatarefElevation: 1000.0,
		telemetry.DatarefFuelTotal: 300.0,
	})
	cs := newCloudServer(t, http.StatusOK, activeReply)
	ps := newPluginServer(t)

	station := NewStation("")
	plugin := NewWSClient(WSConfig{URL: ps.wsURL()}, WSHandlers{OnTelemetry: station.RecordPlugin})
	b := NewBridge(BridgeConfig{SampleInterval: 10 * time.Millisecond, UplinkInterval: 10 * time.Millisecond},
		station, NewUplink(UplinkConfig{BaseURL: cs.URL, APIKey: "key"}),
		WithXPlane(NewXPlaneClient(xp.URL, time.Second)),
		WithPlugin(plugin),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return len(cs.received()) > 0 }, 2*time.Second, 5*time.Millisecond)
	first := cs.received()[0]
	assert.Equal(t, 51.5, first.Latitude)
	assert.Equal(t, 3281.0, first.AltitudeFt)
	assert.Equal(t, 661.0, first.FuelRemainingLbs)

	require.Eventually(t, func() bool { return len(ps.messages("set_phase")) > 0 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, "HEMS-1", ps.messages("start_mission")[0].MissionID)
	assert.Equal(t, "At Scene/Transfer", ps.messages("set_phase")[0].Phase)
	assert.Equal(t, "HEMS-1", station.ActiveMission())
	assert.True(t, station.Status(time.Now()).Status.CloudConnected)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestBridge_UnauthorizedHaltsOnlyUplink(t *testing.T) {
	cs := newCloudServer(t, http.StatusUnauthorized, "Unauthorized")
	xp := newXPlaneServer(t, map[string]interface{}{telemetry.DatarefLatitude: 51.5})
	station := NewStation("HEMS-1")
	station.Record(telemetry.Report{Latitude: 1}, time.Now())
	b := NewBridge(BridgeConfig{SampleInterval: 10 * time.Millisecond, UplinkInterval: 10 * time.Millisecond},
		station, NewUplink(UplinkConfig{BaseURL: cs.URL, APIKey: "revoked"}),
		WithXPlane(NewXPlaneClient(xp.URL, time.Second)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, station.Unauthorized, 2*time.Second, 5*time.Millisecond)
	status := station.Status(time.Now()).Status
	assert.True(t, status.CloudAuthRejected)
	assert.False(t, status.CloudConnected)

	station.Record(telemetry.Report{Latitude: 2}, time.Now())
	require.Eventually(t, func() bool {
		r := station.Status(time.Now()).Telemetry
		return r != nil && r.Latitude == 51.5
	}, 2*time.Second, 5*time.Millisecond, "sampling continues after the uplink halted")

	select {
	case err := <-done:
		t.Fatalf("bridge stopped early: %v", err)
	default:
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestBridge_FlushKeepsGoingOnTransientFailure(t *testing.T) {
	cs := newCloudServer(t, http.StatusBadGateway, "")
	station := NewStation("HEMS-1")
	b := NewBridge(BridgeConfig{}, station, NewUplink(UplinkConfig{BaseURL: cs.URL}))

	assert.NoError(t, b.Flush(context.Background()), "nothing pending")
	station.Record(telemetry.Report{Latitude: 1}, time.Now())
	err := b.Flush(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestLocalServer_TelemetryAndStatus(t *testing.T) {
	station := NewStation("")
	h := NewLocalServer(":0", station, nil).Handler()

	body, _ := json.Marshal(telemetry.Report{Latitude: 51.5, AltitudeFt: 900, Phase: "On Scene"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telemetry", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.True(t, status.Status.SimConnected)
	assert.False(t, status.Status.CloudConnected)
	assert.Nil(t, status.Status.ActiveMissionID)
	require.NotNil(t, status.Telemetry)
	assert.Equal(t, 900.0, status.Telemetry.AltitudeFt)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telemetry", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat-relay", bytes.NewReader([]byte(`{"crew_message":"hi"}`))))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLocalServer_ChatRelay(t *testing.T) {
	cs := newCloudServer(t, http.StatusOK, "")
	station := NewStation("HEMS-7")
	h := NewLocalServer(":0", station, NewUplink(UplinkConfig{BaseURL: cs.URL})).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat-relay", bytes.NewReader([]byte(`{"crew_message":"Wheels up"}`))))
	require.Equal(t, http.StatusOK, rec.Code)
	var reply ChatReply
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&reply))
	assert.Equal(t, "Dispatch copies.", reply.ResponseText)
	assert.Equal(t, "HEMS-7", cs.chats[0].MissionID)
}

func TestLocalServer_DispatchPassthrough(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]interface{}
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error":"no-go","metrics":{"go_no_go":false}}`)
	}))
	t.Cleanup(cloud.Close)

	h := NewLocalServer(":0", NewStation(""), NewUplink(UplinkConfig{BaseURL: cloud.URL, APIKey: "hems_k.s"})).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/dispatch", bytes.NewReader([]byte(`{"callsign":"HEMS 7"}`))))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"error":"no-go","metrics":{"go_no_go":false}}`, rec.Body.String())
	assert.Equal(t, "/api/missions", gotPath)
	assert.Equal(t, "hems_k.s", gotKey)
	assert.Equal(t, "HEMS 7", gotBody["callsign"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/dispatch", bytes.NewReader([]byte(`{`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPoller_RecordsFreshPackets(t *testing.T) {
	source := NewStation("")
	src := httptest.NewServer(NewLocalServer(":0", source, nil).Handler())
	t.Cleanup(src.Close)

	station := NewStation("")
	p := NewPoller(src.URL, 10*time.Millisecond, station)

	p.tick(context.Background())
	_, ok := station.Take()
	assert.False(t, ok, "sim not connected yet")

	source.Record(telemetry.Report{Latitude: 12}, time.Now())
	p.tick(context.Background())
	r, ok := station.Take()
	require.True(t, ok)
	assert.Equal(t, 12.0, r.Latitude)

	p.tick(context.Background())
	_, ok = station.Take()
	assert.False(t, ok, "same packet is not recorded twice")
}
