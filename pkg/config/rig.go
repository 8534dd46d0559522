package config

import (
	"os"

	"airlock-hil/pkg/errors"
	"airlock-hil/pkg/geometry"
)

// RigConfig is the fully-resolved rig configuration. Every field has a
// working default; a missing config file yields the reference deployment.
type RigConfig struct {
	// [serial]
	Device  string // serial device path; empty means use TCPAddr
	Baud    int
	TCPAddr string // TCP fallback for controller-in-CI setups

	// [rig]
	Geometry   geometry.ZoneGeometry
	RoverWidth float64
	RoverX     float64 // initial rover position

	// [gate]
	GateDuration float64 // full-travel time, simulated seconds
	Interlock    bool    // close-side safety interlock

	// [status]
	StatusAddr string // status API listen address, empty disables

	// [metrics]
	MetricsAddr string // Prometheus listen address, empty disables
}

// DefaultRigConfig returns the reference deployment configuration.
func DefaultRigConfig() *RigConfig {
	return &RigConfig{
		Baud:         115200,
		Geometry:     geometry.Reference(),
		RoverWidth:   geometry.ReferenceRoverWidth,
		RoverX:       50,
		GateDuration: 3.0,
		Interlock:    true,
		StatusAddr:   ":7130",
		MetricsAddr:  ":9100",
	}
}

// ParseRigConfig loads a rig configuration file over the defaults. A missing
// file is not an error; it simply yields the defaults.
func ParseRigConfig(path string) (*RigConfig, error) {
	rc := DefaultRigConfig()
	if path == "" {
		return rc, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return rc, nil
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := rc.apply(c); err != nil {
		return nil, err
	}
	return rc, nil
}

func (rc *RigConfig) apply(c *Config) error {
	var err error

	rc.Device = c.GetString("serial", "device", rc.Device)
	rc.TCPAddr = c.GetString("serial", "tcp", rc.TCPAddr)
	if rc.Baud, err = c.GetInt("serial", "baud", rc.Baud); err != nil {
		return err
	}

	g := &rc.Geometry
	if g.FrontWidth, err = c.GetFloat("rig", "front_width", g.FrontWidth); err != nil {
		return err
	}
	if g.MiddleWidth, err = c.GetFloat("rig", "middle_width", g.MiddleWidth); err != nil {
		return err
	}
	if g.BackWidth, err = c.GetFloat("rig", "back_width", g.BackWidth); err != nil {
		return err
	}
	if g.SafetyHalfWidth, err = c.GetFloat("rig", "safety_half_width", g.SafetyHalfWidth); err != nil {
		return err
	}
	if g.ChamberHeight, err = c.GetFloat("rig", "chamber_height", g.ChamberHeight); err != nil {
		return err
	}
	// Gate planes sit on the zone boundaries.
	g.GateAX = g.FrontWidth
	g.GateBX = g.FrontWidth + g.MiddleWidth

	if rc.RoverWidth, err = c.GetFloat("rig", "rover_width", rc.RoverWidth); err != nil {
		return err
	}
	if rc.RoverX, err = c.GetFloat("rig", "rover_start_x", rc.RoverX); err != nil {
		return err
	}

	if rc.GateDuration, err = c.GetFloat("gate", "duration", rc.GateDuration); err != nil {
		return err
	}
	if rc.Interlock, err = c.GetBool("gate", "interlock", rc.Interlock); err != nil {
		return err
	}

	rc.StatusAddr = c.GetString("status", "listen", rc.StatusAddr)
	rc.MetricsAddr = c.GetString("metrics", "listen", rc.MetricsAddr)

	return rc.Validate()
}

// Validate checks cross-field constraints.
func (rc *RigConfig) Validate() error {
	if rc.GateDuration <= 0 {
		return errors.ConfigValidationError("gate", "duration", "must be positive")
	}
	if rc.RoverWidth <= 0 {
		return errors.ConfigValidationError("rig", "rover_width", "must be positive")
	}
	g := rc.Geometry
	if g.FrontWidth <= 0 || g.MiddleWidth <= 0 || g.BackWidth <= 0 {
		return errors.ConfigValidationError("rig", "zone widths", "must all be positive")
	}
	if g.SafetyHalfWidth < 0 {
		return errors.ConfigValidationError("rig", "safety_half_width", "must not be negative")
	}
	if rc.Baud <= 0 {
		return errors.ConfigValidationError("serial", "baud", "must be positive")
	}
	return nil
}
