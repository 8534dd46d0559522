package session

import (
	"strings"
	"testing"

	"airlock-hil/pkg/gate"
	"airlock-hil/pkg/geometry"
)

func newTestSession() *Session {
	return New(Params{
		Geometry:     geometry.Reference(),
		RoverWidth:   geometry.ReferenceRoverWidth,
		RoverX:       50,
		GateDuration: 3.0,
		Interlock:    true,
	})
}

func TestInitialState(t *testing.T) {
	s := newTestSession()
	snap := s.Snapshot()

	if !snap.Sensors.PresenceFront {
		t.Error("rover at x=50 should trip the front presence sensor")
	}
	if snap.Sensors.PresenceMiddle || snap.Sensors.PresenceBack {
		t.Error("middle/back presence tripped at start")
	}
	if snap.GateA.Phase != gate.Sealed || snap.GateB.Phase != gate.Sealed {
		t.Errorf("gates not sealed at start: %v %v", snap.GateA.Phase, snap.GateB.Phase)
	}
}

func TestMoveRoverUpdatesSensorsImmediately(t *testing.T) {
	s := newTestSession()

	// Middle zone center: front width + half middle width.
	snap := s.MoveRoverTo(204 + 140)
	if !snap.Sensors.PresenceMiddle {
		t.Error("middle presence not tripped")
	}
	if snap.Sensors.PresenceFront || snap.Sensors.PresenceBack {
		t.Error("front/back presence tripped in middle zone")
	}
}

func TestMoveRoverClampsToChamber(t *testing.T) {
	s := newTestSession()
	g := s.Geometry()
	half := geometry.ReferenceRoverWidth / 2

	snap := s.MoveRoverTo(-1000)
	if snap.RoverX != half {
		t.Errorf("left clamp: RoverX = %v, want %v", snap.RoverX, half)
	}
	snap = s.MoveRoverTo(1e9)
	if want := g.ChamberWidth() - half; snap.RoverX != want {
		t.Errorf("right clamp: RoverX = %v, want %v", snap.RoverX, want)
	}
}

func TestTickAdvancesGates(t *testing.T) {
	s := newTestSession()
	s.RequestGate(GateA, true)

	var snap Snapshot
	for i := 0; i < 30; i++ {
		snap = s.Tick(0.1)
	}
	if snap.GateA.Phase != gate.Open || snap.GateA.Progress != 1.0 {
		t.Errorf("gate A after 3s: %+v", snap.GateA)
	}
	if snap.GateB.Phase != gate.Sealed {
		t.Errorf("gate B moved without a request: %+v", snap.GateB)
	}
}

func TestMovingFlagsTrackGatePhase(t *testing.T) {
	s := newTestSession()
	s.RequestGate(GateB, true)

	snap := s.Tick(0.1)
	if !snap.Sensors.GateMovingB {
		t.Error("GATE_MOVING_B not set while opening")
	}
	if snap.Sensors.GateMovingA {
		t.Error("GATE_MOVING_A set while gate A idle")
	}
	for i := 0; i < 30; i++ {
		snap = s.Tick(0.1)
	}
	if snap.Sensors.GateMovingB {
		t.Error("GATE_MOVING_B still set after travel completed")
	}
}

func TestOnLineReceivedAppliesRequests(t *testing.T) {
	s := newTestSession()

	if !s.OnLineReceived("<GATE_REQUEST_A:1>") {
		t.Fatal("valid telegram rejected")
	}
	snap := s.Tick(0.1)
	if snap.GateA.Phase != gate.Opening {
		t.Errorf("gate A phase = %v, want Opening", snap.GateA.Phase)
	}

	if !s.OnLineReceived("<GATE_REQUEST_A:0,GATE_REQUEST_B:1>") {
		t.Fatal("valid telegram rejected")
	}
	snap = s.Tick(0.1)
	if snap.GateA.Phase != gate.Closing {
		t.Errorf("gate A phase = %v, want Closing after reversal", snap.GateA.Phase)
	}
	if snap.GateB.Phase != gate.Opening {
		t.Errorf("gate B phase = %v, want Opening", snap.GateB.Phase)
	}
}

func TestMalformedLineChangesNothing(t *testing.T) {
	s := newTestSession()
	before := s.Snapshot()

	for _, line := range []string{"garbage", "<unterminated", "", "GATE_REQUEST_A:1"} {
		if s.OnLineReceived(line) {
			t.Errorf("malformed line %q accepted", line)
		}
	}
	after := s.Snapshot()
	if after.Seq != before.Seq {
		t.Error("malformed lines bumped the state sequence")
	}
}

func TestUnrecognizedKeysIgnored(t *testing.T) {
	s := newTestSession()

	if !s.OnLineReceived("<LIGHTS:1,GATE_REQUEST_B:1>") {
		t.Fatal("telegram with extra keys rejected")
	}
	snap := s.Tick(0.1)
	if snap.GateB.Phase != gate.Opening {
		t.Error("recognized key not applied alongside unrecognized one")
	}
}

func TestInterlockHoldsClosingGate(t *testing.T) {
	s := newTestSession()
	s.RequestGate(GateA, true)
	for i := 0; i < 30; i++ {
		s.Tick(0.1)
	}

	// Park the rover on gate A's plane, then ask the gate to close.
	snap := s.MoveRoverTo(204)
	if !snap.Sensors.GateSafetyA {
		t.Fatal("rover on gate plane did not trip the safety sensor")
	}
	s.RequestGate(GateA, false)
	for i := 0; i < 10; i++ {
		snap = s.Tick(0.1)
	}
	if snap.GateA.Progress != 1.0 || snap.GateA.Phase != gate.Closing {
		t.Errorf("interlock did not hold: %+v", snap.GateA)
	}

	// Clear the obstruction; closing resumes.
	s.MoveRoverTo(50)
	for i := 0; i < 31; i++ {
		snap = s.Tick(0.1)
	}
	if snap.GateA.Phase != gate.Sealed {
		t.Errorf("gate A did not seal after obstruction cleared: %+v", snap.GateA)
	}
}

func TestCurrentTelegramReflectsState(t *testing.T) {
	s := newTestSession()

	line := s.CurrentTelegram()
	if !strings.Contains(line, "PRESENCE_FRONT:1") {
		t.Errorf("telegram missing front presence: %q", line)
	}
	if !strings.Contains(line, "GATE_MOVING_A:0") {
		t.Errorf("telegram missing idle moving flag: %q", line)
	}

	s.RequestGate(GateA, true)
	s.Tick(0.1)
	if line := s.CurrentTelegram(); !strings.Contains(line, "GATE_MOVING_A:1") {
		t.Errorf("telegram missing moving flag: %q", line)
	}
}

func TestSeqAdvancesOnChange(t *testing.T) {
	s := newTestSession()
	a := s.Snapshot().Seq
	s.Tick(0.1)
	b := s.Snapshot().Seq
	if b <= a {
		t.Errorf("seq did not advance: %d -> %d", a, b)
	}
	if c := s.Snapshot().Seq; c != b {
		t.Errorf("Snapshot mutated seq: %d -> %d", b, c)
	}
}
