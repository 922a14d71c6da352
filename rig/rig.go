// Package rig ties a rotor controller to the station's RF chain: the
// converter local oscillators and the elevations at which a pass is
// considered acquired and lost.
package rig

import (
	"log"

	"github.com/w1xm/satrotor/rotor"
	"github.com/w1xm/satrotor/settings"
)

const SectionRig = "rig"

type Config struct {
	// DownconverterLO and UpconverterLO are in Hz. Zero means no converter.
	DownconverterLO float64
	UpconverterLO   float64
	// AOS and LOS are elevations in degrees. LOS below AOS gives hysteresis.
	AOS, LOS float64
}

func DefaultConfig() Config {
	return Config{AOS: 5, LOS: 3}
}

func (c *Config) ReadSettings(s settings.Section) {
	c.DownconverterLO = s.Float("downconverter_lo", c.DownconverterLO)
	c.UpconverterLO = s.Float("upconverter_lo", c.UpconverterLO)
	c.AOS = s.Float("aos", c.AOS)
	c.LOS = s.Float("los", c.LOS)
}

func (c Config) WriteSettings(s settings.Section) {
	s.Set("downconverter_lo", c.DownconverterLO)
	s.Set("upconverter_lo", c.UpconverterLO)
	s.Set("aos", c.AOS)
	s.Set("los", c.LOS)
}

type Rig struct {
	Rotor *rotor.Controller

	cfg    Config
	inView bool
}

func New(cfg Config, r *rotor.Controller) *Rig {
	return &Rig{Rotor: r, cfg: cfg}
}

func (r *Rig) Config() Config { return r.cfg }

// RxFrequency is the receiver tuning for a downlink at sky Hz.
func (r *Rig) RxFrequency(sky float64) float64 {
	if r.cfg.DownconverterLO == 0 {
		return sky
	}
	if sky < r.cfg.DownconverterLO {
		return r.cfg.DownconverterLO - sky
	}
	return sky - r.cfg.DownconverterLO
}

// TxFrequency is the exciter tuning for an uplink at sky Hz.
func (r *Rig) TxFrequency(sky float64) float64 {
	if r.cfg.UpconverterLO == 0 {
		return sky
	}
	return sky - r.cfg.UpconverterLO
}

// InView reports whether the last target passed to Point was above the
// horizon thresholds.
func (r *Rig) InView() bool { return r.inView }

func (r *Rig) update(el float64) {
	switch {
	case !r.inView && el >= r.cfg.AOS:
		log.Printf("AOS at %.1f deg", el)
		r.inView = true
	case r.inView && el < r.cfg.LOS:
		log.Printf("LOS at %.1f deg", el)
		r.inView = false
	}
}

// Point tracks a target: while it is in view the rotor follows it, and
// on LOS the rotor parks.
func (r *Rig) Point(az, el float64) error {
	was := r.inView
	r.update(el)
	switch {
	case r.inView:
		return r.Rotor.MoveTo(az, el)
	case was:
		return r.Rotor.Park()
	}
	return nil
}
