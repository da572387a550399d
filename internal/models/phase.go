package models

import (
	"fmt"
	"strings"
)

// Phase is the discrete stage of a mission's flight progress.
type Phase string

const (
	PhaseStandby         Phase = "standby"
	PhasePreFlight       Phase = "pre-flight"
	PhaseEnrouteOutbound Phase = "en-route-outbound"
	PhaseOnScene         Phase = "on-scene"
	PhaseEnrouteInbound  Phase = "en-route-inbound"
	PhaseLanded          Phase = "landed"
	PhaseComplete        Phase = "complete"
)

var phaseOrder = []Phase{
	PhaseStandby,
	PhasePreFlight,
	PhaseEnrouteOutbound,
	PhaseOnScene,
	PhaseEnrouteInbound,
	PhaseLanded,
	PhaseComplete,
}

// Display labels used by dispatcher screens and cockpit scripts. Several
// labels share an ordinal with a canonical phase.
var phaseAliases = map[string]Phase{
	"standby":             PhaseStandby,
	"dispatch":            PhasePreFlight,
	"enroute pickup":      PhaseEnrouteOutbound,
	"enroute to scene":    PhaseEnrouteOutbound,
	"at scene/transfer":   PhaseOnScene,
	"on scene":            PhaseOnScene,
	"patient loaded":      PhaseOnScene,
	"enroute dropoff":     PhaseOnScene,
	"enroute to hospital": PhaseOnScene,
	"at hospital":         PhaseEnrouteInbound,
	"returning to base":   PhaseEnrouteInbound,
	"complete":            PhaseComplete,
	"mission complete":    PhaseComplete,
}

// Ordinal returns the position of p in the forward sequence, or -1 when p is
// not a known phase.
func (p Phase) Ordinal() int {
	for i, v := range phaseOrder {
		if v == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a canonical phase.
func (p Phase) Valid() bool {
	return p.Ordinal() >= 0
}

// Before reports whether p comes strictly earlier in the sequence than other.
func (p Phase) Before(other Phase) bool {
	return p.Ordinal() < other.Ordinal()
}

// Label returns the legacy display name for the phase.
func (p Phase) Label() string {
	switch p {
	case PhaseStandby:
		return "Standby"
	case PhasePreFlight:
		return "Dispatch"
	case PhaseEnrouteOutbound:
		return "Enroute Pickup"
	case PhaseOnScene:
		return "At Scene/Transfer"
	case PhaseEnrouteInbound:
		return "Returning to Base"
	case PhaseLanded:
		return "Landed"
	case PhaseComplete:
		return "Complete"
	}
	return string(p)
}

// ParsePhase accepts a canonical phase or any display alias, case-insensitive.
func ParsePhase(s string) (Phase, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if p := Phase(key); p.Valid() {
		return p, nil
	}
	if p, ok := phaseAliases[key]; ok {
		return p, nil
	}
	return "", fmt.Errorf("unknown flight phase %q", s)
}

// MaxPhase returns whichever of a and b is further along.
func MaxPhase(a, b Phase) Phase {
	if a.Ordinal() >= b.Ordinal() {
		return a
	}
	return b
}
