package rotor

import (
	"fmt"

	"github.com/w1xm/satrotor/gs232b"
	"github.com/w1xm/satrotor/jrk"
	"github.com/w1xm/satrotor/monstrum"
	"github.com/w1xm/satrotor/rotator"
	"github.com/w1xm/satrotor/settings"
	"github.com/w1xm/satrotor/spid"
	"github.com/w1xm/satrotor/stepper"
)

// Settings section names.
const (
	SectionRotor        = "rotor"
	SectionStepper      = "stepper"
	SectionGS232B       = "gs232b"
	SectionSPID         = "spid"
	SectionJrkAzimuth   = "jrk/azimuth"
	SectionJrkElevation = "jrk/elevation"
	SectionMonstrum     = "monstrum"
)

// BuildBackends constructs every driver from its settings section, so
// that inactive backends keep their settings.
func BuildBackends(store settings.Store) map[rotator.Kind]rotator.Backend {
	sc := stepper.DefaultConfig()
	sc.ReadSettings(store.Section(SectionStepper))

	gc := gs232b.DefaultConfig()
	gc.ReadSettings(store.Section(SectionGS232B))

	pc := spid.DefaultConfig()
	pc.ReadSettings(store.Section(SectionSPID))

	jc := jrk.DefaultConfig()
	jc.Azimuth.ReadSettings(store.Section(SectionJrkAzimuth))
	jc.Elevation.ReadSettings(store.Section(SectionJrkElevation))

	mc := monstrum.DefaultConfig()
	mc.ReadSettings(store.Section(SectionMonstrum))

	return map[rotator.Kind]rotator.Backend{
		rotator.Stepper:  stepper.New(sc),
		rotator.GS232B:   gs232b.New(gc),
		rotator.SPID:     spid.New(pc),
		rotator.Jrk:      jrk.New(jc),
		rotator.Monstrum: monstrum.New(mc),
	}
}

// NewFromSettings builds the controller and all of its backends.
func NewFromSettings(store settings.Store) (*Controller, error) {
	cfg := DefaultConfig()
	if err := cfg.ReadSettings(store.Section(SectionRotor)); err != nil {
		return nil, fmt.Errorf("rotor settings: %w", err)
	}
	return New(cfg, BuildBackends(store))
}

// WriteSettings stores the controller and backend configuration.
func (c *Controller) WriteSettings(store settings.Store) {
	c.Config().WriteSettings(store.Section(SectionRotor))
	for _, b := range c.Backends() {
		switch b := b.(type) {
		case *stepper.Rotator:
			b.Config().WriteSettings(store.Section(SectionStepper))
		case *gs232b.Rotator:
			b.Config().WriteSettings(store.Section(SectionGS232B))
		case *spid.Rotator:
			b.Config().WriteSettings(store.Section(SectionSPID))
		case *jrk.Rotator:
			b.Config().Azimuth.WriteSettings(store.Section(SectionJrkAzimuth))
			b.Config().Elevation.WriteSettings(store.Section(SectionJrkElevation))
		case *monstrum.Rig:
			b.Config().WriteSettings(store.Section(SectionMonstrum))
		}
	}
}
