// Package phase defines the incident-response phase vocabulary used
// throughout Redoubt.
//
// The phases follow the NIST SP 800-61 incident handling lifecycle:
//
//	detection → analysis → containment → eradication → recovery → post_incident
//
// Incidents normally advance forward one phase at a time, but responders may
// step back one phase when new findings invalidate earlier conclusions
// (e.g. recovery back to eradication after a reinfection). post_incident is
// terminal except for reopening the analysis.
package phase

import (
	"fmt"
	"strings"
)

// Phase is one stage of the incident-response lifecycle.
type Phase string

const (
	Detection    Phase = "detection"
	Analysis     Phase = "analysis"
	Containment  Phase = "containment"
	Eradication  Phase = "eradication"
	Recovery     Phase = "recovery"
	PostIncident Phase = "post_incident"
)

// ordered is the canonical forward progression.
var ordered = []Phase{Detection, Analysis, Containment, Eradication, Recovery, PostIncident}

// All returns the phases in lifecycle order.
func All() []Phase {
	out := make([]Phase, len(ordered))
	copy(out, ordered)
	return out
}

// Parse converts a string into a Phase, accepting any case.
func Parse(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p.index() >= 0
}

// String returns the phase tag as stored and transmitted.
func (p Phase) String() string { return string(p) }

// index returns the position of p in the lifecycle, or -1 if unknown.
func (p Phase) index() int {
	for i, o := range ordered {
		if p == o {
			return i
		}
	}
	return -1
}

// CanTransition reports whether an incident may move from one phase to
// another. Allowed moves are one or more steps forward, or exactly one step
// back. From post_incident the only allowed move is back to analysis
// (reopening the investigation).
func CanTransition(from, to Phase) bool {
	fi, ti := from.index(), to.index()
	if fi < 0 || ti < 0 || fi == ti {
		return false
	}
	if from == PostIncident {
		return to == Analysis
	}
	if ti > fi {
		return true
	}
	return fi-ti == 1
}
