// Package session owns the simulated airlock state and runs its periodic
// tasks. A Session is the single writer for rover pose, gate controllers
// and derived sensors; every entry point takes its mutex, so the sim tick,
// the controller link and the status API can all touch it safely.
package session

import (
	"sync"

	"airlock-hil/pkg/gate"
	"airlock-hil/pkg/geometry"
	"airlock-hil/pkg/telegram"
)

// GateID selects one of the two gates.
type GateID int

const (
	GateA GateID = iota
	GateB
)

func (g GateID) String() string {
	if g == GateB {
		return "B"
	}
	return "A"
}

// Params configures a new Session.
type Params struct {
	Geometry     geometry.ZoneGeometry
	RoverWidth   float64
	RoverX       float64
	GateDuration float64 // simulated seconds for full gate travel
	Interlock    bool    // close-side safety interlock
}

// Snapshot is a consistent copy of the simulation state, safe to hand to
// other goroutines.
type Snapshot struct {
	Sensors geometry.SensorSnapshot `json:"sensors"`
	GateA   gate.State              `json:"gate_a"`
	GateB   gate.State              `json:"gate_b"`
	RoverX  float64                 `json:"rover_x"`
	Seq     uint64                  `json:"seq"`
}

// Session holds the simulated chamber. All methods are safe for
// concurrent use.
type Session struct {
	mu      sync.Mutex
	geom    geometry.ZoneGeometry
	rover   geometry.RoverPose
	gateA   *gate.Controller
	gateB   *gate.Controller
	sensors geometry.SensorSnapshot
	seq     uint64
}

// New creates a Session with the rover parked at p.RoverX.
func New(p Params) *Session {
	s := &Session{
		geom:  p.Geometry,
		rover: geometry.RoverPose{X: p.RoverX, Width: p.RoverWidth},
		gateA: gate.New(p.GateDuration, p.Interlock),
		gateB: gate.New(p.GateDuration, p.Interlock),
	}
	s.refreshSensors()
	return s
}

// MoveRoverTo positions the rover's center at x, clamped so the rover
// stays inside the chamber. Sensors update immediately; the new state
// reaches the controller on the next telemetry period.
func (s *Session) MoveRoverTo(x float64) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	half := s.rover.Width / 2
	if max := s.geom.ChamberWidth() - half; x > max {
		x = max
	}
	if x < half {
		x = half
	}
	s.rover.X = x
	s.refreshSensors()
	s.seq++
	return s.snapshotLocked()
}

// Tick advances the simulation by dt simulated seconds. Gate motion sees
// the safety sensors as they stood at the start of the tick.
func (s *Session) Tick(dt float64) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	safetyA := s.sensors.GateSafetyA
	safetyB := s.sensors.GateSafetyB
	s.gateA.Tick(dt, safetyA)
	s.gateB.Tick(dt, safetyB)
	s.refreshSensors()
	s.seq++
	return s.snapshotLocked()
}

// OnLineReceived applies one line from the controller. Malformed lines
// are reported false and change nothing; recognized gate requests are
// forwarded to the gate controllers.
func (s *Session) OnLineReceived(line string) bool {
	req, ok := telegram.Decode(line)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.HasA {
		s.gateA.Request(req.A)
	}
	if req.HasB {
		s.gateB.Request(req.B)
	}
	if !req.Empty() {
		s.seq++
	}
	return true
}

// RequestGate commands a gate directly, bypassing the wire protocol. The
// status API uses this for manual operation.
func (s *Session) RequestGate(id GateID, open bool) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == GateB {
		s.gateB.Request(open)
	} else {
		s.gateA.Request(open)
	}
	s.seq++
	return s.snapshotLocked()
}

// CurrentTelegram encodes the cached sensor state as an outbound telegram.
func (s *Session) CurrentTelegram() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return telegram.Encode(telegram.Sensors{
		PresenceFront:  s.sensors.PresenceFront,
		PresenceMiddle: s.sensors.PresenceMiddle,
		PresenceBack:   s.sensors.PresenceBack,
		GateSafetyA:    s.sensors.GateSafetyA,
		GateSafetyB:    s.sensors.GateSafetyB,
		GateMovingA:    s.sensors.GateMovingA,
		GateMovingB:    s.sensors.GateMovingB,
	})
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Geometry returns the chamber layout the session was built with.
func (s *Session) Geometry() geometry.ZoneGeometry {
	return s.geom
}

func (s *Session) refreshSensors() {
	snap := geometry.Derive(s.rover, s.geom)
	snap.GateMovingA = s.gateA.Moving()
	snap.GateMovingB = s.gateB.Moving()
	s.sensors = snap
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Sensors: s.sensors,
		GateA:   s.gateA.State(),
		GateB:   s.gateB.State(),
		RoverX:  s.rover.X,
		Seq:     s.seq,
	}
}
