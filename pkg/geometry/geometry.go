// Package geometry describes the airlock chamber layout and derives the
// virtual sensor states from the rover's position. All coordinates are
// chamber-local: x=0 is the outer edge of the front zone and x grows toward
// the back zone.
package geometry

// Zone identifies one of the three chamber zones.
type Zone int

const (
	ZoneFront Zone = iota
	ZoneMiddle
	ZoneBack
)

func (z Zone) String() string {
	switch z {
	case ZoneFront:
		return "front"
	case ZoneMiddle:
		return "middle"
	case ZoneBack:
		return "back"
	default:
		return "unknown"
	}
}

// ZoneGeometry is the static chamber layout. Immutable after construction.
type ZoneGeometry struct {
	// Zone widths along the travel axis.
	FrontWidth  float64
	MiddleWidth float64
	BackWidth   float64

	// Gate positions (chamber-local x of the gate plane).
	GateAX float64
	GateBX float64

	// Half-width of each gate's safety interval.
	SafetyHalfWidth float64

	// Chamber height; presentation only, carried for completeness.
	ChamberHeight float64
}

// Reference returns the chamber layout of the reference deployment.
func Reference() ZoneGeometry {
	const scale = 0.5
	front := 408 * scale
	middle := 560 * scale
	back := 408 * scale
	return ZoneGeometry{
		FrontWidth:      front,
		MiddleWidth:     middle,
		BackWidth:       back,
		GateAX:          front,
		GateBX:          front + middle,
		SafetyHalfWidth: 30,
		ChamberHeight:   175,
	}
}

// ChamberWidth returns the total width of the chamber.
func (g ZoneGeometry) ChamberWidth() float64 {
	return g.FrontWidth + g.MiddleWidth + g.BackWidth
}

// SensorLine returns the x coordinate of a zone's presence sensor line,
// located at the horizontal center of the zone.
func (g ZoneGeometry) SensorLine(z Zone) float64 {
	switch z {
	case ZoneFront:
		return g.FrontWidth / 2
	case ZoneMiddle:
		return g.FrontWidth + g.MiddleWidth/2
	case ZoneBack:
		return g.FrontWidth + g.MiddleWidth + g.BackWidth/2
	default:
		return 0
	}
}

// GateX returns the gate plane position for gate index 0 (A) or 1 (B).
func (g ZoneGeometry) GateX(b bool) float64 {
	if b {
		return g.GateBX
	}
	return g.GateAX
}

// RoverPose is the rover's position on the travel axis. Only external move
// commands mutate it; the simulation tick never does.
type RoverPose struct {
	X     float64
	Width float64
}

// ReferenceRoverWidth is the rover footprint of the reference deployment.
const ReferenceRoverWidth = 638 * 0.5 * 0.4

// Left returns the left edge of the rover interval.
func (r RoverPose) Left() float64 { return r.X - r.Width/2 }

// Right returns the right edge of the rover interval.
func (r RoverPose) Right() float64 { return r.X + r.Width/2 }

// SensorSnapshot is the full set of virtual sensor booleans. It is a value:
// recomputed whole on every change, never partially mutated in place.
type SensorSnapshot struct {
	PresenceFront  bool
	PresenceMiddle bool
	PresenceBack   bool
	GateSafetyA    bool
	GateSafetyB    bool

	// Moving flags mirror the gate controllers' phase; Derive leaves them
	// false and the session fills them in.
	GateMovingA bool
	GateMovingB bool
}

// Derive computes the presence and safety sensors for a rover pose.
//
// A presence sensor trips iff the zone's sensor line lies within the closed
// interval [rover.Left, rover.Right]. A safety sensor trips iff the rover
// interval strictly overlaps the gate's safety interval; touching edges do
// not trip it.
func Derive(rover RoverPose, g ZoneGeometry) SensorSnapshot {
	left, right := rover.Left(), rover.Right()

	overlaps := func(gateX float64) bool {
		return right > gateX-g.SafetyHalfWidth && left < gateX+g.SafetyHalfWidth
	}
	spans := func(lineX float64) bool {
		return left <= lineX && lineX <= right
	}

	return SensorSnapshot{
		PresenceFront:  spans(g.SensorLine(ZoneFront)),
		PresenceMiddle: spans(g.SensorLine(ZoneMiddle)),
		PresenceBack:   spans(g.SensorLine(ZoneBack)),
		GateSafetyA:    overlaps(g.GateAX),
		GateSafetyB:    overlaps(g.GateBX),
	}
}
