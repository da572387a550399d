package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is how often a local bridge is polled.
const DefaultPollInterval = time.Second

// Poller reads telemetry from another local bridge's status endpoint.
type Poller struct {
	baseURL  string
	interval time.Duration
	client   *http.Client
	station  *Station
	log      *logrus.Entry

	lastPacket int64
}

// NewPoller polls baseURL/api/status and records fresh readings on station.
func NewPoller(baseURL string, interval time.Duration, station *Station) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		baseURL:  strings.TrimRight(baseURL, "/"),
		interval: interval,
		client:   &http.Client{Timeout: interval},
		station:  station,
		log:      logrus.WithFields(logrus.Fields{"component": "poller", "url": baseURL}),
	}
}

// Poll fetches the status once.
func (p *Poller) Poll(ctx context.Context) (StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/status", nil)
	if err != nil {
		return StatusResponse{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return StatusResponse{}, fmt.Errorf("poll local bridge: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return StatusResponse{}, fmt.Errorf("poll local bridge: unexpected status %d", resp.StatusCode)
	}
	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return StatusResponse{}, fmt.Errorf("decode local bridge status: %w", err)
	}
	return status, nil
}

// Run polls until ctx is done. Poll failures are logged and retried on the
// next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	status, err := p.Poll(ctx)
	if err != nil {
		p.log.WithError(err).Debug("Local bridge poll failed")
		return
	}
	if status.Telemetry == nil || !status.Status.SimConnected {
		return
	}
	if status.Status.LastPacketReceived != 0 && status.Status.LastPacketReceived <= p.lastPacket {
		return
	}
	p.lastPacket = status.Status.LastPacketReceived
	p.station.Record(*status.Telemetry, time.Now())
}
