// Package metrics exposes rig counters and gauges over Prometheus. The
// Collector satisfies session.Observer, so wiring it into the runner is
// the only integration step.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"airlock-hil/pkg/session"
)

// Collector bundles the rig's Prometheus metrics. A nil *Collector is a
// valid no-op observer, so callers can disable metrics by passing nil.
type Collector struct {
	gatherer prometheus.Gatherer

	TelegramsSent     prometheus.Counter
	TelegramsReceived prometheus.Counter
	DecodeFailures    prometheus.Counter
	SimTicks          prometheus.Counter

	LinkUp        prometheus.Gauge
	RoverPosition prometheus.Gauge
	GateProgress  *prometheus.GaugeVec
	GateMoving    *prometheus.GaugeVec
	Presence      *prometheus.GaugeVec
}

// NewCollector registers the rig metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	sent, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airlock_telegrams_sent_total",
		Help: "Telemetry telegrams sent to the controller.",
	}), "airlock_telegrams_sent_total")
	if err != nil {
		return nil, err
	}
	received, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airlock_telegrams_received_total",
		Help: "Well-formed telegrams received from the controller.",
	}), "airlock_telegrams_received_total")
	if err != nil {
		return nil, err
	}
	failures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airlock_telegram_decode_failures_total",
		Help: "Inbound lines discarded as malformed.",
	}), "airlock_telegram_decode_failures_total")
	if err != nil {
		return nil, err
	}
	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airlock_sim_ticks_total",
		Help: "Fixed-step simulation ticks executed.",
	}), "airlock_sim_ticks_total")
	if err != nil {
		return nil, err
	}

	linkUp, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "airlock_link_up",
		Help: "1 while a controller link is attached.",
	}), "airlock_link_up")
	if err != nil {
		return nil, err
	}
	roverPos, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "airlock_rover_position",
		Help: "Rover center position in chamber coordinates.",
	}), "airlock_rover_position")
	if err != nil {
		return nil, err
	}

	progress := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "airlock_gate_progress",
		Help: "Gate opening fraction, 0 sealed through 1 open.",
	}, []string{"gate"})
	progress, err = registerGaugeVec(reg, progress, "airlock_gate_progress")
	if err != nil {
		return nil, err
	}
	moving := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "airlock_gate_moving",
		Help: "1 while the gate leaf is in motion.",
	}, []string{"gate"})
	moving, err = registerGaugeVec(reg, moving, "airlock_gate_moving")
	if err != nil {
		return nil, err
	}
	presence := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "airlock_presence",
		Help: "1 while the rover trips the zone's presence sensor.",
	}, []string{"zone"})
	presence, err = registerGaugeVec(reg, presence, "airlock_presence")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:          gatherer,
		TelegramsSent:     sent,
		TelegramsReceived: received,
		DecodeFailures:    failures,
		SimTicks:          ticks,
		LinkUp:            linkUp,
		RoverPosition:     roverPos,
		GateProgress:      progress,
		GateMoving:        moving,
		Presence:          presence,
	}, nil
}

// TelegramSent implements session.Observer.
func (c *Collector) TelegramSent() {
	if c == nil {
		return
	}
	c.TelegramsSent.Inc()
}

// TelegramReceived implements session.Observer.
func (c *Collector) TelegramReceived(accepted bool) {
	if c == nil {
		return
	}
	if accepted {
		c.TelegramsReceived.Inc()
	} else {
		c.DecodeFailures.Inc()
	}
}

// LinkChanged implements session.Observer.
func (c *Collector) LinkChanged(up bool) {
	if c == nil {
		return
	}
	c.LinkUp.Set(boolGauge(up))
}

// Observe implements session.Observer, mapping a sim snapshot onto the
// gauges. Called once per tick.
func (c *Collector) Observe(snap session.Snapshot) {
	if c == nil {
		return
	}
	c.SimTicks.Inc()
	c.RoverPosition.Set(snap.RoverX)

	c.GateProgress.WithLabelValues("a").Set(snap.GateA.Progress)
	c.GateProgress.WithLabelValues("b").Set(snap.GateB.Progress)
	c.GateMoving.WithLabelValues("a").Set(boolGauge(snap.GateA.Moving))
	c.GateMoving.WithLabelValues("b").Set(boolGauge(snap.GateB.Moving))

	c.Presence.WithLabelValues("front").Set(boolGauge(snap.Sensors.PresenceFront))
	c.Presence.WithLabelValues("middle").Set(boolGauge(snap.Sensors.PresenceMiddle))
	c.Presence.WithLabelValues("back").Set(boolGauge(snap.Sensors.PresenceBack))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
