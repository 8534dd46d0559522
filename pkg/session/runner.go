package session

import (
	"sync"

	"airlock-hil/pkg/errors"
	"airlock-hil/pkg/log"
	"airlock-hil/pkg/reactor"
	"airlock-hil/pkg/telegram"
)

// Task periods in seconds. The read poll runs twice per sim tick so a
// request arriving between ticks is applied before the next one.
const (
	TickInterval      = 0.1
	ReadInterval      = 0.05
	TelemetryInterval = 0.1
	NotifyInterval    = 0.1
)

// LineTransport is the controller link as the runner sees it: one line
// per telegram in each direction. *serial.LineConn satisfies it. PollLine
// runs on the reactor goroutine, so it must return promptly when no line
// is pending; keep the underlying read timeout well under ReadInterval.
type LineTransport interface {
	SendLine(line string) error
	PollLine() (line string, ok bool, err error)
	Close() error
}

// Observer receives runner events. Implementations must be cheap and
// must not call back into the runner.
type Observer interface {
	TelegramSent()
	TelegramReceived(accepted bool)
	LinkChanged(up bool)
	Observe(snap Snapshot)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) TelegramSent()         {}
func (NopObserver) TelegramReceived(bool) {}
func (NopObserver) LinkChanged(bool)      {}
func (NopObserver) Observe(Snapshot)      {}

// Runner drives a Session from reactor timers: the fixed-step sim tick,
// the inbound read poll, outbound telemetry while a controller is
// attached, and a throttled change notification for the status API.
// Losing the controller link stops telemetry only; the sim keeps ticking.
type Runner struct {
	session *Session
	reactor *reactor.Reactor
	logger  *log.Logger
	obs     Observer

	mu        sync.Mutex
	transport LineTransport
	linkName  string
	notify    func(Snapshot)
	lastSeq   uint64

	tickTimer      *reactor.Timer
	readTimer      *reactor.Timer
	telemetryTimer *reactor.Timer
	notifyTimer    *reactor.Timer
}

// NewRunner wires a Runner. obs may be nil.
func NewRunner(s *Session, r *reactor.Reactor, logger *log.Logger, obs Observer) *Runner {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Runner{
		session: s,
		reactor: r,
		logger:  logger,
		obs:     obs,
	}
}

// Start registers the periodic tasks. The reactor must be running (or
// about to run) for them to fire.
func (r *Runner) Start() {
	now := r.reactor.Monotonic()
	r.mu.Lock()
	r.tickTimer = r.reactor.RegisterTimer(r.onTick, now+TickInterval)
	r.readTimer = r.reactor.RegisterTimer(r.onRead, now+ReadInterval)
	r.telemetryTimer = r.reactor.RegisterTimer(r.onTelemetry, now+TelemetryInterval)
	r.notifyTimer = r.reactor.RegisterTimer(r.onNotify, now+NotifyInterval)
	r.mu.Unlock()
}

// Stop unregisters the periodic tasks. The link, if any, stays attached;
// use Detach to close it.
func (r *Runner) Stop() {
	r.mu.Lock()
	timers := []*reactor.Timer{r.tickTimer, r.readTimer, r.telemetryTimer, r.notifyTimer}
	r.tickTimer, r.readTimer, r.telemetryTimer, r.notifyTimer = nil, nil, nil, nil
	r.mu.Unlock()

	for _, t := range timers {
		if t != nil {
			r.reactor.UnregisterTimer(t)
		}
	}
}

// Attach puts a controller link in service. An existing link is closed
// first. The first telemetry telegram goes out immediately rather than
// waiting for the next period.
func (r *Runner) Attach(t LineTransport, name string) {
	r.mu.Lock()
	old := r.transport
	r.transport = t
	r.linkName = name
	telemetry := r.telemetryTimer
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if telemetry != nil {
		r.reactor.UpdateTimer(telemetry, reactor.NOW)
	}
	r.logger.WithField("link", name).Info("controller attached")
	r.obs.LinkChanged(true)
}

// Detach closes the controller link. The simulation keeps running.
func (r *Runner) Detach() {
	r.mu.Lock()
	t := r.transport
	name := r.linkName
	r.transport = nil
	r.linkName = ""
	r.mu.Unlock()

	if t == nil {
		return
	}
	t.Close()
	r.logger.WithField("link", name).Info("controller detached")
	r.obs.LinkChanged(false)
}

// Connected reports whether a controller link is attached.
func (r *Runner) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transport != nil
}

// SetNotify installs the throttled change callback. The runner invokes it
// from the reactor goroutine at most once per NotifyInterval, and only
// when the session state changed since the last call.
func (r *Runner) SetNotify(fn func(Snapshot)) {
	r.mu.Lock()
	r.notify = fn
	r.mu.Unlock()
}

// SendRaw sends an operator-supplied command to the controller, adding
// telegram delimiters if they are missing.
func (r *Runner) SendRaw(cmd string) error {
	r.mu.Lock()
	t := r.transport
	r.mu.Unlock()
	if t == nil {
		return errors.New(errors.ErrLinkDown, "no controller attached")
	}

	line := telegram.Frame(cmd)
	if err := t.SendLine(line); err != nil {
		r.logger.WithField("error", err).Warn("raw send failed")
		r.Detach()
		return errors.LinkError(errors.ErrLinkWrite, "send", err)
	}
	r.logger.WithField("tx", line).Debug("raw command sent")
	return nil
}

// MoveRover delegates to the session.
func (r *Runner) MoveRover(x float64) Snapshot {
	return r.session.MoveRoverTo(x)
}

// RequestGate delegates to the session.
func (r *Runner) RequestGate(id GateID, open bool) Snapshot {
	return r.session.RequestGate(id, open)
}

// Snapshot delegates to the session.
func (r *Runner) Snapshot() Snapshot {
	return r.session.Snapshot()
}

func (r *Runner) onTick(eventtime float64) float64 {
	// Fixed step. A late tick advances by one step, not by wall time.
	snap := r.session.Tick(TickInterval)
	r.obs.Observe(snap)
	return eventtime + TickInterval
}

func (r *Runner) onRead(eventtime float64) float64 {
	r.mu.Lock()
	t := r.transport
	r.mu.Unlock()
	if t == nil {
		return eventtime + ReadInterval
	}

	for {
		line, ok, err := t.PollLine()
		if err != nil {
			r.logger.WithField("error", err).Warn("controller read failed")
			r.Detach()
			return eventtime + ReadInterval
		}
		if !ok {
			return eventtime + ReadInterval
		}
		accepted := r.session.OnLineReceived(line)
		r.obs.TelegramReceived(accepted)
		if accepted {
			r.logger.WithField("rx", line).Debug("telegram received")
		} else {
			r.logger.WithField("rx", line).Warn("malformed telegram ignored")
		}
	}
}

func (r *Runner) onTelemetry(eventtime float64) float64 {
	r.mu.Lock()
	t := r.transport
	r.mu.Unlock()
	if t == nil {
		return eventtime + TelemetryInterval
	}

	line := r.session.CurrentTelegram()
	if err := t.SendLine(line); err != nil {
		r.logger.WithField("error", err).Warn("telemetry send failed")
		r.Detach()
		return eventtime + TelemetryInterval
	}
	r.obs.TelegramSent()
	r.logger.WithField("tx", line).Debug("telemetry sent")
	return eventtime + TelemetryInterval
}

func (r *Runner) onNotify(eventtime float64) float64 {
	r.mu.Lock()
	fn := r.notify
	last := r.lastSeq
	r.mu.Unlock()
	if fn == nil {
		return eventtime + NotifyInterval
	}

	snap := r.session.Snapshot()
	if snap.Seq == last {
		return eventtime + NotifyInterval
	}
	r.mu.Lock()
	r.lastSeq = snap.Seq
	r.mu.Unlock()

	fn(snap)
	return eventtime + NotifyInterval
}
