// Package telemetry normalizes the three producers of tracking state
// (autonomous simulation, simulator bridge, tactical override) into one
// canonical Update.
package telemetry

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ukydev/hems-dispatch/internal/models"
)

// Source identifies which adapter produced an update.
type Source string

const (
	SourceAutonomous Source = "autonomous"
	SourceOverride   Source = "override"
	SourceBridge     Source = "bridge"
)

// ParseSource validates a source name.
func ParseSource(s string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceAutonomous, SourceOverride, SourceBridge:
		return src, nil
	}
	return "", fmt.Errorf("unknown telemetry source %q", s)
}

// Update is one normalized sample headed for a mission's tracker.
type Update struct {
	MissionID string
	Source    Source
	// Sequence increases monotonically per adapter instance; zero means
	// unsequenced.
	Sequence uint64
	Patch    models.TrackingPatch

	// LegIndex is the index of the last waypoint reached, when known.
	LegIndex int
	// ArrivedAt is set on the sample where a waypoint was reached.
	ArrivedAt *models.Waypoint
	// Landed is set when the final waypoint of the circuit was reached.
	Landed bool

	ProducedAt time.Time
}

type sequencer struct {
	n atomic.Uint64
}

func (s *sequencer) next() uint64 {
	return s.n.Add(1)
}
