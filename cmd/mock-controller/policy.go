package main

import (
	"fmt"

	"airlock-hil/pkg/telegram"
)

// Phase of the scripted airlock cycle the mock controller runs.
type Phase int

const (
	// Idle waits for the rover to show up in the front zone.
	Idle Phase = iota
	// OpeningA waits for gate A to finish opening.
	OpeningA
	// TransitMiddle waits for the rover to be fully inside the middle zone.
	TransitMiddle
	// ClosingA waits for gate A to seal behind the rover.
	ClosingA
	// OpeningB waits for gate B to finish opening.
	OpeningB
	// TransitBack waits for the rover to clear gate B into the back zone.
	TransitBack
	// ClosingB waits for gate B to seal, completing the cycle.
	ClosingB
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case OpeningA:
		return "opening-a"
	case TransitMiddle:
		return "transit-middle"
	case ClosingA:
		return "closing-a"
	case OpeningB:
		return "opening-b"
	case TransitBack:
		return "transit-back"
	case ClosingB:
		return "closing-b"
	default:
		return "unknown"
	}
}

// Policy is the firmware-side airlock sequencer: ferry the rover from the
// front zone to the back zone with never more than one gate open. It is
// fed the rig's sensor telegrams and emits gate request telegrams.
//
// Gate completion is inferred from the MOVING flag: a request is only
// considered done after the gate has been seen moving and then stops.
type Policy struct {
	phase     Phase
	sawMoving bool
}

// NewPolicy returns a Policy in the Idle phase.
func NewPolicy() *Policy {
	return &Policy{}
}

// Phase returns the current cycle phase.
func (p *Policy) Phase() Phase {
	return p.phase
}

// Update feeds one sensor telegram to the sequencer and returns the
// telegram lines to send back, if any.
func (p *Policy) Update(s telegram.Sensors) []string {
	switch p.phase {
	case Idle:
		if s.PresenceFront {
			return p.advance(OpeningA, request(telegram.KeyGateRequestA, true))
		}

	case OpeningA:
		if p.motionDone(s.GateMovingA) {
			return p.advance(TransitMiddle, nil)
		}

	case TransitMiddle:
		// Close only once the rover is clear of the gate plane; the rig's
		// interlock would hold the gate anyway, but a good controller does
		// not rely on it.
		if s.PresenceMiddle && !s.GateSafetyA {
			return p.advance(ClosingA, request(telegram.KeyGateRequestA, false))
		}

	case ClosingA:
		if p.motionDone(s.GateMovingA) {
			return p.advance(OpeningB, request(telegram.KeyGateRequestB, true))
		}

	case OpeningB:
		if p.motionDone(s.GateMovingB) {
			return p.advance(TransitBack, nil)
		}

	case TransitBack:
		if s.PresenceBack && !s.GateSafetyB {
			return p.advance(ClosingB, request(telegram.KeyGateRequestB, false))
		}

	case ClosingB:
		if p.motionDone(s.GateMovingB) {
			return p.advance(Idle, nil)
		}
	}
	return nil
}

func (p *Policy) advance(next Phase, cmds []string) []string {
	p.phase = next
	p.sawMoving = false
	return cmds
}

// motionDone tracks one request's gate travel: true once the gate has
// been observed moving and has stopped again.
func (p *Policy) motionDone(moving bool) bool {
	if moving {
		p.sawMoving = true
		return false
	}
	return p.sawMoving
}

func request(key string, open bool) []string {
	v := 0
	if open {
		v = 1
	}
	return []string{fmt.Sprintf("<%s:%d>", key, v)}
}
