package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/hems-dispatch/internal/auth"
	"github.com/ukydev/hems-dispatch/internal/db"
	"github.com/ukydev/hems-dispatch/internal/flight"
	"github.com/ukydev/hems-dispatch/internal/hub"
	"github.com/ukydev/hems-dispatch/internal/middleware"
	"github.com/ukydev/hems-dispatch/internal/models"
	"github.com/ukydev/hems-dispatch/internal/telemetry"
	"github.com/ukydev/hems-dispatch/internal/tracking"
)

type memKeys struct {
	keys map[string]models.APIKey
}

func (m *memKeys) InsertAPIKey(ctx context.Context, key models.APIKey) error {
	m.keys[key.KeyID] = key
	return nil
}

func (m *memKeys) FindAPIKey(ctx context.Context, keyID string) (*models.APIKey, error) {
	k, ok := m.keys[keyID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &k, nil
}

func (m *memKeys) TouchAPIKey(ctx context.Context, keyID string, at time.Time) error {
	return nil
}

type testServer struct {
	*httptest.Server
	auth *auth.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	authService, err := auth.NewService("secret", time.Hour, &memKeys{keys: map[string]models.APIKey{}}, 8)
	require.NoError(t, err)

	snapshots := hub.New(8, nil)
	registry := tracking.NewRegistry(context.Background(), nil, tracking.RegistryConfig{
		Metrics:    flight.MetricsConfig{FuelReserveMinutes: 20},
		Autonomous: telemetry.AutonomousConfig{Interval: time.Hour},
	}, tracking.Options{Publisher: snapshots})
	t.Cleanup(registry.Close)

	router := NewRouter(RouterConfig{
		Auth:                middleware.NewAuthMiddleware(authService),
		RateLimit:           middleware.NewRateLimitMiddleware(),
		IngestRatePerMinute: 100,
		Missions:            NewMissionHandler(registry, flight.MetricsConfig{FuelReserveMinutes: 20}),
		Telemetry:           NewTelemetryHandler(registry, nil, nil, nil, time.Second),
		Keys:                NewKeyHandler(authService),
		Stream:              NewStreamHandler(registry, snapshots),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, auth: authService}
}

func (s *testServer) token(t *testing.T, userID string, role models.Role) string {
	t.Helper()
	tok, err := s.auth.GenerateToken(models.Claims{UserID: userID, Username: userID, Role: role})
	require.NoError(t, err)
	return tok
}

func (s *testServer) call(t *testing.T, method, path string, headers map[string]string, body interface{}) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

func TestRouter_MissionLifecycle(t *testing.T) {
	s := newTestServer(t)
	pilotTok := s.token(t, "pilot-1", models.RolePilot)
	dispatchTok := s.token(t, "ops-1", models.RoleDispatcher)
	viewerTok := s.token(t, "viewer-1", models.RoleViewer)

	code, body := s.call(t, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", string(body))

	code, _ = s.call(t, "POST", "/api/missions", nil, tracking.DispatchRequest{})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = s.call(t, "POST", "/api/missions", bearer(pilotTok), tracking.DispatchRequest{
		Callsign: "HEMS 1", Base: base, Pickup: pickup, Dropoff: hospital, Helicopter: profile,
		Patient: models.Patient{Age: 34, Gender: "F"},
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	var mission models.Mission
	require.NoError(t, json.Unmarshal(body, &mission))
	assert.Equal(t, "pilot-1", mission.UserID)
	missionPath := "/api/missions/" + mission.MissionID

	code, _ = s.call(t, "POST", missionPath+"/override", bearer(viewerTok), map[string]bool{"active": true})
	assert.Equal(t, http.StatusForbidden, code)

	header := http.Header{"Authorization": {"Bearer " + dispatchTok}}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+missionPath+"/stream", header)
	require.NoError(t, err)
	defer conn.Close()
	next := func() models.TrackingSnapshot {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var snap models.TrackingSnapshot
		require.NoError(t, conn.ReadJSON(&snap))
		return snap
	}
	first := next()
	assert.Equal(t, mission.MissionID, first.MissionID)
	assert.Equal(t, "autonomous", first.ActiveSource)

	code, _ = s.call(t, "POST", missionPath+"/override", bearer(dispatchTok), map[string]bool{"active": true})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "override", next().ActiveSource)

	alt := 2200.0
	code, _ = s.call(t, "PATCH", missionPath+"/tracking", bearer(dispatchTok), models.TrackingPatch{AltitudeFt: &alt})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2200.0, next().Record.AltitudeFt)

	code, body = s.call(t, "POST", "/api/keys", bearer(pilotTok), map[string]string{"label": "desk sim"})
	require.Equal(t, http.StatusCreated, code)
	var issued issueKeyResponse
	require.NoError(t, json.Unmarshal(body, &issued))

	code, body = s.call(t, "POST", "/api/telemetry", map[string]string{middleware.APIKeyHeader: issued.APIKey},
		telemetry.Report{Latitude: 0.5, Longitude: 0.5, FuelRemainingLbs: 900})
	require.Equal(t, http.StatusOK, code)
	status, err := telemetry.ParseTacticalStatus(string(body))
	require.NoError(t, err)
	assert.Equal(t, mission.MissionID, status.MissionID)
	assert.Equal(t, "34F", status.Patient)

	code, body = s.call(t, "GET", missionPath+"/tracking", bearer(viewerTok), nil)
	require.Equal(t, http.StatusOK, code)
	var snap models.TrackingSnapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, 2200.0, snap.Record.AltitudeFt, "override blocks bridge writes")

	code, _ = s.call(t, "POST", missionPath+"/complete", bearer(pilotTok), nil)
	require.Equal(t, http.StatusOK, code)
	final := next()
	assert.Equal(t, models.MissionCompleted, final.Status)

	code, _ = s.call(t, "POST", missionPath+"/complete", bearer(pilotTok), nil)
	assert.Equal(t, http.StatusConflict, code)

	code, body = s.call(t, "POST", "/api/telemetry", map[string]string{middleware.APIKeyHeader: issued.APIKey}, telemetry.Report{})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, telemetry.Standby.String(), string(body))

	code, _ = s.call(t, "GET", "/api/missions/HEMS-NOPE/tracking", bearer(viewerTok), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRouter_IngestRateLimit(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "pilot-9", models.RolePilot)
	for i := 0; i < 100; i++ {
		code, _ := s.call(t, "POST", "/api/telemetry", bearer(tok), telemetry.Report{})
		require.Equal(t, http.StatusOK, code)
	}
	code, _ := s.call(t, "POST", "/api/telemetry", bearer(tok), telemetry.Report{})
	assert.Equal(t, http.StatusTooManyRequests, code)

	code, _ = s.call(t, "POST", "/api/telemetry", bearer(s.token(t, "pilot-10", models.RolePilot)), telemetry.Report{})
	assert.Equal(t, http.StatusOK, code)
}

func TestRouter_FlightMetrics(t *testing.T) {
	s := newTestServer(t)
	req := flightMetricsRequest{
		Waypoints: models.Circuit(base, pickup, hospital),
		Aircraft:  models.AircraftProfile{CruiseSpeedKts: 120, FuelCapacityLbs: 500, FuelBurnRateLbPerHr: 450},
	}
	code, _ := s.call(t, "POST", "/api/flight-metrics", nil, req)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := s.call(t, "POST", "/api/flight-metrics", bearer(s.token(t, "viewer-1", models.RoleViewer)), req)
	require.Equal(t, http.StatusOK, code)
	var metrics models.FlightMetrics
	require.NoError(t, json.Unmarshal(body, &metrics))
	assert.False(t, metrics.GoNoGo)
	assert.True(t, strings.HasPrefix(metrics.Reason, "Insufficient fuel"))
}
