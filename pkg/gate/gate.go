// Package gate implements the motion state machine for one airlock gate.
//
// A gate slides between two resting phases, Sealed and Open, through the
// transient phases Opening and Closing. The logical progress value is linear
// in time; any visual easing is a presentation transform applied downstream
// and never feeds back into phase decisions.
package gate

// Phase is the gate's logical motion phase.
type Phase int

const (
	// Sealed is the fully closed resting phase. Progress is 0.
	Sealed Phase = iota

	// Opening means the gate is traveling toward Open.
	Opening

	// Open is the fully open resting phase. Progress is 1.
	Open

	// Closing means the gate is traveling toward Sealed.
	Closing
)

func (p Phase) String() string {
	switch p {
	case Sealed:
		return "sealed"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// DefaultDuration is the nominal full-travel time in simulated seconds.
const DefaultDuration = 3.0

// State is a read-only snapshot of a controller.
type State struct {
	Phase      Phase
	Progress   float64
	TargetOpen bool
	Moving     bool
}

// Controller owns one gate's authoritative motion state. It is advanced by
// Tick and steered by Request. Not safe for concurrent use: the owning
// session serializes all access.
type Controller struct {
	phase      Phase
	progress   float64
	targetOpen bool
	elapsed    float64
	duration   float64

	// interlock enables the close-side safety pause. The reference tool
	// ships with it disabled; the rig defaults to enabled.
	interlock bool
}

// New returns a controller resting in Sealed.
func New(duration float64, interlock bool) *Controller {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Controller{
		phase:     Sealed,
		duration:  duration,
		interlock: interlock,
	}
}

// Request steers the gate toward the desired end state: open=true means the
// desired resting phase is Open, open=false means Sealed. Only the latest
// request matters; there is no queue.
func (c *Controller) Request(open bool) {
	switch c.phase {
	case Sealed, Open:
		if open == (c.phase == Open) {
			return // already at the requested resting phase
		}
		c.targetOpen = open
		c.beginMotion()
	case Opening, Closing:
		if open == c.targetOpen {
			return // already heading there
		}
		// Reverse in place: motion continues from the current progress
		// rather than restarting.
		c.targetOpen = open
		c.beginMotion()
	}
}

// beginMotion enters the transient phase for the current target and derives
// elapsed from the current progress so travel time remaining is proportional
// to the distance left.
func (c *Controller) beginMotion() {
	if c.targetOpen {
		c.phase = Opening
		c.elapsed = c.progress * c.duration
	} else {
		c.phase = Closing
		c.elapsed = (1 - c.progress) * c.duration
	}
}

// Tick advances the gate by dt simulated seconds. safetyTripped is the
// gate's own safety sensor: while it is tripped and the interlock is active,
// closing motion pauses in place. Opening is never blocked.
func (c *Controller) Tick(dt float64, safetyTripped bool) {
	if c.phase != Opening && c.phase != Closing {
		return
	}

	if !c.targetOpen && c.interlock && safetyTripped {
		return // paused; elapsed and progress hold
	}

	c.elapsed += dt
	p := c.elapsed / c.duration
	if p > 1 {
		p = 1
	}

	if c.targetOpen {
		c.progress = p
		if p >= 1 {
			c.progress = 1
			c.phase = Open
			c.elapsed = 0
		}
	} else {
		c.progress = 1 - p
		if p >= 1 {
			c.progress = 0
			c.phase = Sealed
			c.elapsed = 0
		}
	}
}

// Phase returns the current logical phase.
func (c *Controller) Phase() Phase { return c.phase }

// Progress returns the linear open fraction in [0,1].
func (c *Controller) Progress() float64 { return c.progress }

// Moving reports whether the gate is in a transient phase.
func (c *Controller) Moving() bool {
	return c.phase == Opening || c.phase == Closing
}

// TargetOpen returns the direction currently being pursued.
func (c *Controller) TargetOpen() bool { return c.targetOpen }

// Duration returns the configured full-travel time in simulated seconds.
func (c *Controller) Duration() float64 { return c.duration }

// InterlockActive reports whether the close-side safety pause is enabled.
func (c *Controller) InterlockActive() bool { return c.interlock }

// State returns a value snapshot of the controller.
func (c *Controller) State() State {
	return State{
		Phase:      c.phase,
		Progress:   c.progress,
		TargetOpen: c.targetOpen,
		Moving:     c.Moving(),
	}
}
