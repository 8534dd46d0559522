package main

import (
	"testing"

	"airlock-hil/pkg/telegram"
)

func TestFullAirlockCycle(t *testing.T) {
	p := NewPolicy()

	steps := []struct {
		name    string
		sensors telegram.Sensors
		want    []string
		phase   Phase
	}{
		{"empty chamber", telegram.Sensors{}, nil, Idle},
		{"rover arrives front",
			telegram.Sensors{PresenceFront: true},
			[]string{"<GATE_REQUEST_A:1>"}, OpeningA},
		{"gate A opening",
			telegram.Sensors{PresenceFront: true, GateMovingA: true},
			nil, OpeningA},
		{"gate A open",
			telegram.Sensors{PresenceFront: true},
			nil, TransitMiddle},
		{"rover straddles gate A",
			telegram.Sensors{PresenceFront: true, PresenceMiddle: true, GateSafetyA: true},
			nil, TransitMiddle},
		{"rover clear in middle",
			telegram.Sensors{PresenceMiddle: true},
			[]string{"<GATE_REQUEST_A:0>"}, ClosingA},
		{"gate A closing",
			telegram.Sensors{PresenceMiddle: true, GateMovingA: true},
			nil, ClosingA},
		{"gate A sealed",
			telegram.Sensors{PresenceMiddle: true},
			[]string{"<GATE_REQUEST_B:1>"}, OpeningB},
		{"gate B opening",
			telegram.Sensors{PresenceMiddle: true, GateMovingB: true},
			nil, OpeningB},
		{"gate B open",
			telegram.Sensors{PresenceMiddle: true},
			nil, TransitBack},
		{"rover straddles gate B",
			telegram.Sensors{PresenceMiddle: true, PresenceBack: true, GateSafetyB: true},
			nil, TransitBack},
		{"rover clear in back",
			telegram.Sensors{PresenceBack: true},
			[]string{"<GATE_REQUEST_B:0>"}, ClosingB},
		{"gate B closing",
			telegram.Sensors{PresenceBack: true, GateMovingB: true},
			nil, ClosingB},
		{"gate B sealed, cycle complete",
			telegram.Sensors{PresenceBack: true},
			nil, Idle},
	}

	for _, step := range steps {
		got := p.Update(step.sensors)
		if len(got) != len(step.want) {
			t.Fatalf("%s: commands = %v, want %v", step.name, got, step.want)
		}
		for i := range got {
			if got[i] != step.want[i] {
				t.Fatalf("%s: commands = %v, want %v", step.name, got, step.want)
			}
		}
		if p.Phase() != step.phase {
			t.Fatalf("%s: phase = %v, want %v", step.name, p.Phase(), step.phase)
		}
	}
}

func TestMotionMustBeObservedBeforeCompletion(t *testing.T) {
	p := NewPolicy()
	p.Update(telegram.Sensors{PresenceFront: true})

	// The gate has not started moving yet; repeated idle telegrams must
	// not be mistaken for a completed travel.
	for i := 0; i < 5; i++ {
		if cmds := p.Update(telegram.Sensors{PresenceFront: true}); cmds != nil {
			t.Fatalf("premature commands %v", cmds)
		}
		if p.Phase() != OpeningA {
			t.Fatalf("phase advanced without observed motion: %v", p.Phase())
		}
	}

	p.Update(telegram.Sensors{PresenceFront: true, GateMovingA: true})
	p.Update(telegram.Sensors{PresenceFront: true})
	if p.Phase() != TransitMiddle {
		t.Fatalf("phase = %v after motion completed", p.Phase())
	}
}

func TestInterlockNotAssumed(t *testing.T) {
	p := NewPolicy()
	p.Update(telegram.Sensors{PresenceFront: true})
	p.Update(telegram.Sensors{GateMovingA: true})
	p.Update(telegram.Sensors{})

	// Rover present in middle but still on the gate plane: no close yet.
	cmds := p.Update(telegram.Sensors{PresenceMiddle: true, GateSafetyA: true})
	if cmds != nil || p.Phase() != TransitMiddle {
		t.Fatalf("closed gate onto rover: cmds=%v phase=%v", cmds, p.Phase())
	}
}
