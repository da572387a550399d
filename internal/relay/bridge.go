package relay

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/models"
	"github.com/ukydev/hems-dispatch/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSampleInterval = 4 * time.Second
	DefaultUplinkInterval = 4 * time.Second
)

// BridgeConfig paces the bridge loops.
type BridgeConfig struct {
	SampleInterval time.Duration
	UplinkInterval time.Duration
}

// BridgeOption attaches an optional input to a Bridge.
type BridgeOption func(*Bridge)

// WithXPlane samples the X-Plane Web API on every sample tick.
func WithXPlane(c *XPlaneClient) BridgeOption {
	return func(b *Bridge) { b.xplane = c }
}

// WithPlugin keeps a simulator plugin connected and mirrors the active
// mission to it. Its OnTelemetry handler should feed the bridge's station.
func WithPlugin(c *WSClient) BridgeOption {
	return func(b *Bridge) { b.plugin = c }
}

// WithPoller polls another local bridge.
func WithPoller(p *Poller) BridgeOption {
	return func(b *Bridge) { b.poller = p }
}

// WithLocalServer serves the local bridge HTTP surface.
func WithLocalServer(s *LocalServer) BridgeOption {
	return func(b *Bridge) { b.server = s }
}

// Bridge runs the simulator inputs and the cloud uplink as independent
// loops sharing one Station.
type Bridge struct {
	cfg     BridgeConfig
	station *Station
	uplink  *Uplink
	xplane  *XPlaneClient
	plugin  *WSClient
	poller  *Poller
	server  *LocalServer
	log     *logrus.Entry

	// mission and phase last pushed to the plugin; owned by the uplink loop.
	pluginMission string
	pluginPhase   string
}

// NewBridge builds a bridge around station. uplink may be nil for a
// local-only bridge.
func NewBridge(cfg BridgeConfig, station *Station, uplink *Uplink, opts ...BridgeOption) *Bridge {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.UplinkInterval <= 0 {
		cfg.UplinkInterval = DefaultUplinkInterval
	}
	b := &Bridge{
		cfg:     cfg,
		station: station,
		uplink:  uplink,
		log:     logrus.WithField("component", "bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Station is the shared reading and link state.
func (b *Bridge) Station() *Station {
	return b.station
}

// Run starts every configured loop and blocks until ctx is done. A credential
// rejection halts only the uplink loop; it is reported through the station.
func (b *Bridge) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if b.server != nil {
		g.Go(func() error { return b.server.Run(ctx) })
	}
	if b.plugin != nil {
		g.Go(func() error { return b.plugin.Run(ctx) })
	}
	if b.poller != nil {
		g.Go(func() error { return b.poller.Run(ctx) })
	}
	if b.xplane != nil {
		g.Go(func() error { return b.sampleLoop(ctx) })
	}
	if b.uplink != nil {
		g.Go(func() error { return b.uplinkLoop(ctx) })
	}
	return g.Wait()
}

func (b *Bridge) sampleLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s, err := b.xplane.Sample(ctx)
			if err != nil {
				b.log.WithError(err).Debug("X-Plane sample failed")
				continue
			}
			b.station.Record(telemetry.NewReport("", s.Record()), time.Now())
		}
	}
}

func (b *Bridge) uplinkLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.UplinkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.Flush(ctx); errors.Is(err, ErrUnauthorized) {
				b.station.MarkUnauthorized()
				return nil
			}
		}
	}
}

// Flush uplinks the pending reading, if any.
func (b *Bridge) Flush(ctx context.Context) error {
	r, ok := b.station.Take()
	if !ok {
		return nil
	}
	status, err := b.uplink.SendTelemetry(ctx, r)
	if err != nil {
		b.station.MarkCloud(nil)
		if errors.Is(err, ErrUnauthorized) {
			b.log.Error("Cloud rejected the bridge credentials, uplink halted")
			return err
		}
		b.log.WithError(err).Warn("Telemetry uplink failed")
		return err
	}
	b.station.MarkCloud(&status)
	b.log.WithFields(logrus.Fields{"mission_id": status.MissionID, "phase": status.Phase}).Debug("Telemetry uplinked")
	b.syncPlugin(status)
	return nil
}

// syncPlugin mirrors the cloud's view of the mission onto the plugin.
func (b *Bridge) syncPlugin(status telemetry.TacticalStatus) {
	if b.plugin == nil {
		return
	}
	mission := ""
	if status.Active() {
		mission = status.MissionID
	}
	var err error
	switch {
	case mission != b.pluginMission && mission == "":
		err = b.plugin.EndMission()
		b.pluginPhase = ""
	case mission != b.pluginMission:
		err = b.plugin.StartMission(mission)
		b.pluginPhase = ""
	}
	if err != nil {
		b.log.WithError(err).Debug("Plugin mission command not delivered")
		return
	}
	b.pluginMission = mission
	if mission == "" || status.Phase == b.pluginPhase {
		return
	}
	label := status.Phase
	if p, perr := models.ParsePhase(status.Phase); perr == nil {
		label = p.Label()
	}
	if err := b.plugin.SetPhase(label); err != nil {
		b.log.WithError(err).Debug("Plugin phase command not delivered")
		return
	}
	b.pluginPhase = status.Phase
}
