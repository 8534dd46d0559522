package session

import (
	"errors"
	"strings"
	"sync"
	"testing"

	rigerrors "airlock-hil/pkg/errors"
	"airlock-hil/pkg/gate"
	"airlock-hil/pkg/log"
	"airlock-hil/pkg/reactor"
)

// fakeTransport queues inbound lines and records outbound ones.
type fakeTransport struct {
	mu      sync.Mutex
	inbound []string
	sent    []string
	sendErr error
	pollErr error
	closed  bool
}

func (f *fakeTransport) SendLine(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, line)
	return nil
}

func (f *fakeTransport) PollLine() (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return "", false, f.pollErr
	}
	if len(f.inbound) == 0 {
		return "", false, nil
	}
	line := f.inbound[0]
	f.inbound = f.inbound[1:]
	return line, true, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// countingObserver tallies runner events.
type countingObserver struct {
	mu       sync.Mutex
	sent     int
	received int
	rejected int
	linkUps  int
	linkDown int
	observed int
}

func (c *countingObserver) TelegramSent() {
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
}

func (c *countingObserver) TelegramReceived(accepted bool) {
	c.mu.Lock()
	if accepted {
		c.received++
	} else {
		c.rejected++
	}
	c.mu.Unlock()
}

func (c *countingObserver) LinkChanged(up bool) {
	c.mu.Lock()
	if up {
		c.linkUps++
	} else {
		c.linkDown++
	}
	c.mu.Unlock()
}

func (c *countingObserver) Observe(Snapshot) {
	c.mu.Lock()
	c.observed++
	c.mu.Unlock()
}

func newTestRunner(t *testing.T) (*Runner, *countingObserver) {
	t.Helper()
	logger := log.New("test")
	logger.SetLevel(log.ERROR)
	obs := &countingObserver{}
	r := NewRunner(newTestSession(), reactor.New(), logger, obs)
	return r, obs
}

func TestTelemetrySentWhileAttached(t *testing.T) {
	r, obs := newTestRunner(t)
	ft := &fakeTransport{}
	r.Attach(ft, "fake")

	r.onTelemetry(0)
	r.onTelemetry(0)

	sent := ft.sentLines()
	if len(sent) != 2 {
		t.Fatalf("sent %d telegrams, want 2", len(sent))
	}
	if !strings.HasPrefix(sent[0], "<PRESENCE_FRONT:") {
		t.Errorf("unexpected telegram %q", sent[0])
	}
	if obs.sent != 2 {
		t.Errorf("observer sent count = %d", obs.sent)
	}
}

func TestTelemetrySkippedWhileDetached(t *testing.T) {
	r, obs := newTestRunner(t)

	next := r.onTelemetry(5.0)
	if next != 5.0+TelemetryInterval {
		t.Errorf("next wake = %v", next)
	}
	if obs.sent != 0 {
		t.Error("telemetry sent without a link")
	}
}

func TestInboundRequestReachesGate(t *testing.T) {
	r, obs := newTestRunner(t)
	ft := &fakeTransport{inbound: []string{"<GATE_REQUEST_A:1>", "not a telegram"}}
	r.Attach(ft, "fake")

	r.onRead(0)
	snap := r.session.Tick(0.1)

	if snap.GateA.Phase != gate.Opening {
		t.Errorf("gate A phase = %v, want Opening", snap.GateA.Phase)
	}
	if obs.received != 1 || obs.rejected != 1 {
		t.Errorf("observer counts: received=%d rejected=%d", obs.received, obs.rejected)
	}
}

func TestSendFailureDetachesButSimContinues(t *testing.T) {
	r, obs := newTestRunner(t)
	ft := &fakeTransport{sendErr: errors.New("EPIPE")}
	r.Attach(ft, "fake")

	r.onTelemetry(0)

	if r.Connected() {
		t.Error("runner still connected after send failure")
	}
	if !ft.closed {
		t.Error("transport not closed on detach")
	}
	if obs.linkDown != 1 {
		t.Errorf("linkDown = %d", obs.linkDown)
	}

	before := r.Snapshot().Seq
	r.onTick(0)
	if r.Snapshot().Seq == before {
		t.Error("sim stopped ticking after link loss")
	}
}

func TestReadFailureDetaches(t *testing.T) {
	r, _ := newTestRunner(t)
	ft := &fakeTransport{pollErr: errors.New("connection reset")}
	r.Attach(ft, "fake")

	r.onRead(0)
	if r.Connected() {
		t.Error("runner still connected after read failure")
	}
}

func TestSendRawFramesCommand(t *testing.T) {
	r, _ := newTestRunner(t)
	ft := &fakeTransport{}
	r.Attach(ft, "fake")

	if err := r.SendRaw("GATE_REQUEST_B:1"); err != nil {
		t.Fatal(err)
	}
	sent := ft.sentLines()
	if len(sent) != 1 || sent[0] != "<GATE_REQUEST_B:1>" {
		t.Errorf("sent = %v", sent)
	}
}

func TestSendRawWithoutLink(t *testing.T) {
	r, _ := newTestRunner(t)
	err := r.SendRaw("GATE_REQUEST_A:1")
	if !rigerrors.Is(err, rigerrors.ErrLinkDown) {
		t.Errorf("err = %v, want LINK_DOWN", err)
	}
}

func TestAttachReplacesExistingLink(t *testing.T) {
	r, obs := newTestRunner(t)
	first := &fakeTransport{}
	second := &fakeTransport{}

	r.Attach(first, "one")
	r.Attach(second, "two")

	if !first.closed {
		t.Error("first transport not closed on replacement")
	}
	if second.closed {
		t.Error("second transport closed")
	}
	if obs.linkUps != 2 {
		t.Errorf("linkUps = %d", obs.linkUps)
	}
}

func TestNotifyThrottledBySeq(t *testing.T) {
	r, _ := newTestRunner(t)
	var calls int
	r.SetNotify(func(Snapshot) { calls++ })

	r.onNotify(0) // initial state, seq 0 == lastSeq 0
	if calls != 0 {
		t.Fatalf("notified without a change: %d", calls)
	}

	r.session.Tick(0.1)
	r.onNotify(0)
	r.onNotify(0) // no further change
	if calls != 1 {
		t.Errorf("notify calls = %d, want 1", calls)
	}

	r.MoveRover(300)
	r.onNotify(0)
	if calls != 2 {
		t.Errorf("notify calls = %d, want 2", calls)
	}
}

func TestStopParksAllTimers(t *testing.T) {
	r, _ := newTestRunner(t)
	r.Start()

	timers := []*reactor.Timer{r.tickTimer, r.readTimer, r.telemetryTimer, r.notifyTimer}
	for i, tm := range timers {
		if tm == nil {
			t.Fatalf("timer %d not registered by Start", i)
		}
	}

	r.Stop()
	for i, tm := range timers {
		if tm.Waketime() != reactor.NEVER {
			t.Errorf("timer %d still scheduled after Stop", i)
		}
	}
	if r.tickTimer != nil || r.telemetryTimer != nil {
		t.Error("timer references kept after Stop")
	}
	r.Stop() // second Stop is a no-op
}

func TestAttachSchedulesImmediateTelemetry(t *testing.T) {
	r, _ := newTestRunner(t)
	r.Start()
	defer r.Stop()

	if w := r.telemetryTimer.Waketime(); w <= reactor.NOW {
		t.Fatalf("initial telemetry waketime = %v", w)
	}

	r.Attach(&fakeTransport{}, "fake")
	if w := r.telemetryTimer.Waketime(); w != reactor.NOW {
		t.Errorf("telemetry waketime after attach = %v, want NOW", w)
	}
}

func TestNilObserverDefaultsToNop(t *testing.T) {
	logger := log.New("test")
	logger.SetLevel(log.ERROR)
	r := NewRunner(newTestSession(), reactor.New(), logger, nil)

	if _, ok := r.obs.(NopObserver); !ok {
		t.Fatalf("observer = %T, want NopObserver", r.obs)
	}
	r.onTick(0) // must not panic without an observer
}

func TestTickObserved(t *testing.T) {
	r, obs := newTestRunner(t)
	next := r.onTick(1.0)
	if next != 1.0+TickInterval {
		t.Errorf("next wake = %v", next)
	}
	if obs.observed != 1 {
		t.Errorf("observed = %d", obs.observed)
	}
}
