package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/telemetry"
)

// LocalServer is the HTTP surface of the desktop bridge: cockpit scripts post
// readings to it and the bridge UI polls its status.
type LocalServer struct {
	addr    string
	station *Station
	uplink  *Uplink
	log     *logrus.Entry
}

// NewLocalServer serves station on addr. uplink may be nil, in which case
// chat relay is unavailable.
func NewLocalServer(addr string, station *Station, uplink *Uplink) *LocalServer {
	return &LocalServer{
		addr:    addr,
		station: station,
		uplink:  uplink,
		log:     logrus.WithFields(logrus.Fields{"component": "local-bridge", "addr": addr}),
	}
}

// Handler returns the routes.
func (s *LocalServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/telemetry", s.handleTelemetry)
	r.Get("/api/status", s.handleStatus)
	r.Post("/api/chat-relay", s.handleChat)
	r.Post("/api/dispatch", s.handleDispatch)
	return r
}

func (s *LocalServer) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var report telemetry.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, "invalid telemetry: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.station.Record(report, time.Now())
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *LocalServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.station.Status(time.Now()))
}

func (s *LocalServer) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.uplink == nil {
		http.Error(w, "cloud uplink not configured", http.StatusServiceUnavailable)
		return
	}
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CrewMessage == "" {
		http.Error(w, "invalid chat request", http.StatusBadRequest)
		return
	}
	if req.MissionID == "" {
		req.MissionID = s.station.ActiveMission()
	}
	reply, err := s.uplink.Chat(r.Context(), req.MissionID, req.CrewMessage)
	switch {
	case errors.Is(err, ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	case err != nil:
		s.log.WithError(err).Warn("Chat relay failed")
		http.Error(w, "chat relay failed", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reply)
}

func (s *LocalServer) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if s.uplink == nil {
		http.Error(w, "cloud uplink not configured", http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || !json.Valid(body) {
		http.Error(w, "invalid dispatch request", http.StatusBadRequest)
		return
	}
	status, reply, err := s.uplink.Dispatch(r.Context(), body)
	switch {
	case errors.Is(err, ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	case err != nil:
		s.log.WithError(err).Warn("Dispatch relay failed")
		http.Error(w, "dispatch relay failed", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(reply)
}

// Run serves until ctx is done.
func (s *LocalServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Local bridge listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
