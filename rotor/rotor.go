// Package rotor dispatches pointing requests to one of several
// motor-controller backends and applies the station's policy: axis
// limits, enable/park, rate limiting and conical-scan wobble.
package rotor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/w1xm/satrotor/rotator"
	"github.com/w1xm/satrotor/settings"
)

// samePosition is how close a target must be to the current position to
// count as already there.
const samePosition = 1e-6

// WobbleStep is the angular step of a conical scan, in degrees.
const WobbleStep = 2

// retryDelay is the shortest wait before retrying a rate-limited wobble step.
const retryDelay = 50 * time.Millisecond

type Limits struct {
	AzMin, AzMax float64
	ElMin, ElMax float64
}

func (l Limits) Contains(az, el float64) bool {
	return az >= l.AzMin && az <= l.AzMax && el >= l.ElMin && el <= l.ElMax
}

// WrapAz moves az by a full turn when that brings it inside the azimuth
// limits.
func (l Limits) WrapAz(az float64) float64 {
	switch {
	case az < l.AzMin && az+360 <= l.AzMax:
		return az + 360
	case az > l.AzMax && az-360 >= l.AzMin:
		return az - 360
	}
	return az
}

// RotationPolicy selects how GetRotationTime estimates a move.
type RotationPolicy int

const (
	// RotationKinematic is Spare plus the slower axis at the configured
	// speed constants.
	RotationKinematic RotationPolicy = iota
	// RotationSpareOnly is the fixed Spare time regardless of distance.
	RotationSpareOnly
	// RotationBackend asks the active backend, falling back to
	// RotationKinematic when it cannot estimate.
	RotationBackend
)

var policyNames = map[RotationPolicy]string{
	RotationKinematic: "kinematic",
	RotationSpareOnly: "spare",
	RotationBackend:   "backend",
}

func (p RotationPolicy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("RotationPolicy(%d)", int(p))
}

func ParsePolicy(name string) (RotationPolicy, error) {
	for p, s := range policyNames {
		if s == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown rotation policy %q", name)
}

type Config struct {
	Active rotator.Kind
	Limits Limits
	// AzSpeed and ElSpeed are milliseconds per degree.
	AzSpeed, ElSpeed float64
	// Spare is added to every estimate.
	Spare  time.Duration
	Policy RotationPolicy

	ParkEnabled    bool
	ParkAz, ParkEl float64
	WobbleRadius   float64
}

func DefaultConfig() Config {
	return Config{
		Active:       rotator.GS232B,
		Limits:       Limits{AzMin: 0, AzMax: 360, ElMin: 0, ElMax: 90},
		AzSpeed:      160,
		ElSpeed:      130,
		Spare:        500 * time.Millisecond,
		Policy:       RotationKinematic,
		ParkAz:       0,
		ParkEl:       90,
		WobbleRadius: 1,
	}
}

func (c *Config) ReadSettings(s settings.Section) error {
	if name := s.String("backend", ""); name != "" {
		k, err := rotator.ParseKind(name)
		if err != nil {
			return err
		}
		c.Active = k
	}
	if name := s.String("rotation_policy", ""); name != "" {
		p, err := ParsePolicy(name)
		if err != nil {
			return err
		}
		c.Policy = p
	}
	c.Limits.AzMin = s.Float("az_min", c.Limits.AzMin)
	c.Limits.AzMax = s.Float("az_max", c.Limits.AzMax)
	c.Limits.ElMin = s.Float("el_min", c.Limits.ElMin)
	c.Limits.ElMax = s.Float("el_max", c.Limits.ElMax)
	c.AzSpeed = s.Float("az_speed", c.AzSpeed)
	c.ElSpeed = s.Float("el_speed", c.ElSpeed)
	c.Spare = time.Duration(s.Int("spare_ms", int(c.Spare/time.Millisecond))) * time.Millisecond
	c.ParkEnabled = s.Bool("park_enabled", c.ParkEnabled)
	c.ParkAz = s.Float("park_az", c.ParkAz)
	c.ParkEl = s.Float("park_el", c.ParkEl)
	c.WobbleRadius = s.Float("wobble_radius", c.WobbleRadius)
	return nil
}

func (c Config) WriteSettings(s settings.Section) {
	s.Set("backend", c.Active.String())
	s.Set("rotation_policy", c.Policy.String())
	s.Set("az_min", c.Limits.AzMin)
	s.Set("az_max", c.Limits.AzMax)
	s.Set("el_min", c.Limits.ElMin)
	s.Set("el_max", c.Limits.ElMax)
	s.Set("az_speed", c.AzSpeed)
	s.Set("el_speed", c.ElSpeed)
	s.Set("spare_ms", int(c.Spare/time.Millisecond))
	s.Set("park_enabled", c.ParkEnabled)
	s.Set("park_az", c.ParkAz)
	s.Set("park_el", c.ParkEl)
	s.Set("wobble_radius", c.WobbleRadius)
}

// PowerSwitch switches motor power.
type PowerSwitch interface {
	SetEnabled(enabled bool) error
}

// Status is a snapshot for display.
type Status struct {
	Backend   string           `json:"backend"`
	Open      bool             `json:"open"`
	Enabled   bool             `json:"enabled"`
	Wobbling  bool             `json:"wobbling"`
	Azimuth   float64          `json:"azimuth"`
	Elevation float64          `json:"elevation"`
	Native    rotator.Position `json:"native"`
	Error     string           `json:"error,omitempty"`
	NextMove  time.Time        `json:"next_move"`
}

// Controller owns one driver per backend kind and routes commands to the
// active one. It is safe for concurrent use.
type Controller struct {
	// Now defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	cfg      Config
	backends map[rotator.Kind]rotator.Backend
	power    PowerSwitch
	enabled  bool
	wobbling bool
	next     time.Time
}

// New returns a disabled controller. backends must hold cfg.Active.
func New(cfg Config, backends map[rotator.Kind]rotator.Backend) (*Controller, error) {
	if _, ok := backends[cfg.Active]; !ok {
		return nil, fmt.Errorf("no %v backend registered", cfg.Active)
	}
	return &Controller{cfg: cfg, backends: backends}, nil
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetLimits replaces the axis limits.
func (c *Controller) SetLimits(l Limits) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Limits = l
}

// SetPower attaches a motor power switch used by Enable.
func (c *Controller) SetPower(p PowerSwitch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.power = p
}

// Backends returns the registry.
func (c *Controller) Backends() map[rotator.Kind]rotator.Backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[rotator.Kind]rotator.Backend, len(c.backends))
	for k, b := range c.backends {
		out[k] = b
	}
	return out
}

func (c *Controller) ActiveKind() rotator.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Active
}

func (c *Controller) Active() rotator.Backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backends[c.cfg.Active]
}

// SetActive switches backends, closing the one previously active.
func (c *Controller) SetActive(k rotator.Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.backends[k]; !ok {
		return fmt.Errorf("no %v backend registered", k)
	}
	if k == c.cfg.Active {
		return nil
	}
	if err := c.backends[c.cfg.Active].Close(); err != nil {
		log.Printf("closing %v: %v", c.cfg.Active, err)
	}
	log.Printf("switching backend %v -> %v", c.cfg.Active, k)
	c.cfg.Active = k
	c.next = time.Time{}
	return nil
}

func (c *Controller) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backends[c.cfg.Active].Open()
}

func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backends[c.cfg.Active].Close()
}

// Enable allows or forbids movement, switching motor power if a power
// switch is attached.
func (c *Controller) Enable(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.power != nil {
		if err := c.power.SetEnabled(enabled); err != nil {
			return fmt.Errorf("switching motor power: %w", err)
		}
	}
	c.enabled = enabled
	return nil
}

func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// position returns the active backend's position in az/el.
func (c *Controller) position() (az, el float64) {
	b := c.backends[c.cfg.Active]
	p := b.Position()
	if b.Space() == rotator.XY {
		return rotator.XYToAzEl(p.A, p.B)
	}
	return p.A, p.B
}

// Position returns the cached az/el of the active backend.
func (c *Controller) Position() (az, el float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position()
}

func (c *Controller) ReadPosition() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backends[c.cfg.Active].ReadPosition()
}

// GetRotationTime estimates how long a move from the current position to
// toAz/toEl takes.
func (c *Controller) GetRotationTime(toAz, toEl float64) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rotationTime(toAz, toEl)
}

func (c *Controller) rotationTime(toAz, toEl float64) time.Duration {
	switch c.cfg.Policy {
	case RotationSpareOnly:
		return c.cfg.Spare
	case RotationBackend:
		b := c.backends[c.cfg.Active]
		if e, ok := b.(rotator.Estimator); ok {
			a, bb := toAz, toEl
			if b.Space() == rotator.XY {
				a, bb = rotator.AzElToXY(toAz, toEl)
			}
			return c.cfg.Spare + e.MoveDuration(a, bb)
		}
	}
	az, el := c.position()
	ms := math.Max(math.Abs(toAz-az)*c.cfg.AzSpeed, math.Abs(toEl-el)*c.cfg.ElSpeed)
	return c.cfg.Spare + time.Duration(ms*float64(time.Millisecond))
}

type axis int

const (
	bothAxes axis = iota
	azimuthOnly
	elevationOnly
)

// moveTo applies the policy and dispatches. A disabled controller, a
// target equal to the current position or one outside the limits is
// accepted without touching hardware.
func (c *Controller) moveTo(az, el float64, which axis) error {
	if !c.enabled {
		return nil
	}
	curAz, curEl := c.position()
	if scalar.EqualWithinAbs(az, curAz, samePosition) && scalar.EqualWithinAbs(el, curEl, samePosition) {
		return nil
	}
	if !c.cfg.Limits.Contains(az, el) {
		log.Printf("ignoring move to %.2f/%.2f outside limits", az, el)
		return nil
	}
	now := c.now()
	if now.Before(c.next) {
		return rotator.ErrRateLimited
	}
	d := c.rotationTime(az, el)

	b := c.backends[c.cfg.Active]
	var err error
	switch {
	case b.Space() == rotator.XY:
		x, y := rotator.AzElToXY(az, el)
		err = b.MoveTo(x, y)
	case which == azimuthOnly:
		err = b.MoveToAxis1(az)
	case which == elevationOnly:
		err = b.MoveToAxis2(el)
	default:
		err = b.MoveTo(az, el)
	}
	if err != nil {
		return err
	}
	c.next = now.Add(d)
	return nil
}

func (c *Controller) MoveTo(az, el float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveTo(az, el, bothAxes)
}

// MoveToAzimuth moves azimuth only, keeping the current elevation.
func (c *Controller) MoveToAzimuth(az float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, el := c.position()
	return c.moveTo(az, el, azimuthOnly)
}

// MoveToElevation moves elevation only, keeping the current azimuth.
func (c *Controller) MoveToElevation(el float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	az, _ := c.position()
	return c.moveTo(az, el, elevationOnly)
}

func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = time.Time{}
	return c.backends[c.cfg.Active].Stop()
}

// Park moves to the park position if parking is enabled.
func (c *Controller) Park() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cfg.ParkEnabled {
		return nil
	}
	return c.moveTo(c.cfg.ParkAz, c.cfg.ParkEl, bothAxes)
}

// Wobble walks one circle of WobbleRadius around the current position in
// WobbleStep increments, waiting out each move before the next.
func (c *Controller) Wobble(ctx context.Context) error {
	c.mu.Lock()
	if c.wobbling {
		c.mu.Unlock()
		return fmt.Errorf("wobble already running")
	}
	c.wobbling = true
	centerAz, centerEl := c.position()
	radius := c.cfg.WobbleRadius
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.wobbling = false
		c.mu.Unlock()
	}()

	for deg := 0; deg < 360; {
		a := float64(deg) * math.Pi / 180
		el := centerEl + radius*math.Sin(a)

		c.mu.Lock()
		az := c.cfg.Limits.WrapAz(centerAz + radius*math.Cos(a))
		wait := c.rotationTime(az, el)
		err := c.moveTo(az, el, bothAxes)
		switch {
		case err == nil:
			deg += WobbleStep
		case errors.Is(err, rotator.ErrRateLimited):
			// Retry this step once the gate opens.
			if wait = c.next.Sub(c.now()); wait < retryDelay {
				wait = retryDelay
			}
		default:
			c.mu.Unlock()
			return err
		}
		c.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.backends[c.cfg.Active]
	az, el := c.position()
	return Status{
		Backend:   c.cfg.Active.String(),
		Open:      b.IsOpen(),
		Enabled:   c.enabled,
		Wobbling:  c.wobbling,
		Azimuth:   az,
		Elevation: el,
		Native:    b.Position(),
		Error:     b.ErrorString(),
		NextMove:  c.next,
	}
}
