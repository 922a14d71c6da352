// Package jrk drives a pair of Pololu Jrk USB motor controllers, one per
// axis. The Jrk closes the position loop itself; the driver only sends
// 12-bit targets and reads back feedback.
package jrk

import (
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"github.com/w1xm/satrotor/rotator"
	"github.com/w1xm/satrotor/settings"
)

const (
	reqTypeIn  = 0xC0
	reqTypeOut = 0x40

	reqGetVariables = 0x81
	reqSetTarget    = 0x84
	reqClearErrors  = 0x86
	reqMotorOff     = 0x87

	maxRaw = 4095
)

// AxisConfig binds an axis to a device and calibrates it.
type AxisConfig struct {
	// Serial selects the device by USB serial number. When empty, Index
	// selects among enumerated devices.
	Serial string
	Index  int
	// MinDeg..MaxDeg is the angle range spanned by MinFeedback..MaxFeedback.
	MinDeg, MaxDeg           float64
	MinFeedback, MaxFeedback int
	// TablePath names an optional lookup table replacing the linear map.
	TablePath string
	// Speed is milliseconds per degree.
	Speed float64
}

// Validate rejects a calibration the linear map cannot use.
func (c AxisConfig) Validate() error {
	switch {
	case c.MinFeedback == c.MaxFeedback:
		return fmt.Errorf("feedback range %d..%d is empty", c.MinFeedback, c.MaxFeedback)
	case c.MinDeg == c.MaxDeg:
		return fmt.Errorf("angle range %v..%v is empty", c.MinDeg, c.MaxDeg)
	case c.MinFeedback < 0 || c.MinFeedback > maxRaw || c.MaxFeedback < 0 || c.MaxFeedback > maxRaw:
		return fmt.Errorf("feedback range %d..%d outside 0..%d", c.MinFeedback, c.MaxFeedback, maxRaw)
	}
	return nil
}

func (c AxisConfig) Degrees(fb int) float64 {
	if fb < 0 {
		fb = 0
	}
	if fb > maxRaw {
		fb = maxRaw
	}
	return c.MinDeg + (c.MaxDeg-c.MinDeg)/float64(c.MaxFeedback-c.MinFeedback)*float64(fb-c.MinFeedback)
}

func (c AxisConfig) Target(deg float64) uint16 {
	raw := float64(c.MinFeedback) + float64(c.MaxFeedback-c.MinFeedback)/(c.MaxDeg-c.MinDeg)*(deg-c.MinDeg)
	return uint16(int(math.Round(raw)) & maxRaw)
}

func (c *AxisConfig) ReadSettings(s settings.Section) {
	c.Serial = s.String("serial", c.Serial)
	c.Index = s.Int("index", c.Index)
	c.MinDeg = s.Float("min_deg", c.MinDeg)
	c.MaxDeg = s.Float("max_deg", c.MaxDeg)
	c.MinFeedback = s.Int("min_feedback", c.MinFeedback)
	c.MaxFeedback = s.Int("max_feedback", c.MaxFeedback)
	c.TablePath = s.String("table", c.TablePath)
	c.Speed = s.Float("speed", c.Speed)
}

func (c AxisConfig) WriteSettings(s settings.Section) {
	s.Set("serial", c.Serial)
	s.Set("index", c.Index)
	s.Set("min_deg", c.MinDeg)
	s.Set("max_deg", c.MaxDeg)
	s.Set("min_feedback", c.MinFeedback)
	s.Set("max_feedback", c.MaxFeedback)
	s.Set("table", c.TablePath)
	s.Set("speed", c.Speed)
}

type Config struct {
	Azimuth, Elevation AxisConfig
}

func DefaultConfig() Config {
	return Config{
		Azimuth: AxisConfig{
			Index: 0, MinDeg: 0, MaxDeg: 360, MinFeedback: 0, MaxFeedback: maxRaw, Speed: 100,
		},
		Elevation: AxisConfig{
			Index: 1, MinDeg: 0, MaxDeg: 90, MinFeedback: 0, MaxFeedback: maxRaw, Speed: 100,
		},
	}
}

// Axis is one Jrk.
type Axis struct {
	Name string
	cfg  AxisConfig
	open OpenFunc

	dev   Device
	table Table
	vars  Variables
	fault error
}

func NewAxis(name string, cfg AxisConfig, open OpenFunc) *Axis {
	return &Axis{Name: name, cfg: cfg, open: open}
}

func (a *Axis) Open() error {
	if a.dev != nil {
		return nil
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("%s calibration: %w", a.Name, err)
	}
	a.table = nil
	if a.cfg.TablePath != "" {
		f, err := os.Open(a.cfg.TablePath)
		if err != nil {
			return fmt.Errorf("%s lookup table: %w", a.Name, err)
		}
		t, err := LoadTable(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s lookup table %q: %w", a.Name, a.cfg.TablePath, err)
		}
		a.table = t
	}
	dev, err := a.open(a.cfg)
	if err != nil {
		log.Printf("opening Jrk %s: %v", a.Name, err)
		return fmt.Errorf("opening Jrk %s: %v: %w", a.Name, err, rotator.ErrIO)
	}
	a.dev = dev
	a.fault = nil
	return nil
}

// SetTable overrides the linear calibration. A nil table restores it.
func (a *Axis) SetTable(t Table) { a.table = t }

func (a *Axis) Close() error {
	a.fault = nil
	a.vars = Variables{}
	if a.dev == nil {
		return nil
	}
	err := a.dev.Close()
	a.dev = nil
	return err
}

func (a *Axis) IsOpen() bool { return a.dev != nil }

func (a *Axis) usable() error {
	if a.dev == nil {
		return rotator.ErrNotOpen
	}
	return a.fault
}

func (a *Axis) control(rType, req uint8, val uint16, data []byte) error {
	if err := a.usable(); err != nil {
		return err
	}
	n, err := a.dev.Control(rType, req, val, 0, data)
	if err == nil && n < len(data) {
		err = fmt.Errorf("short transfer: %d of %d bytes", n, len(data))
	}
	if err != nil {
		a.fault = fmt.Errorf("Jrk %s request %#x: %v: %w", a.Name, req, err, rotator.ErrIO)
		return a.fault
	}
	return nil
}

// ReadVariables refreshes the telemetry block.
func (a *Axis) ReadVariables() (Variables, error) {
	buf := make([]byte, VariablesLen)
	if err := a.control(reqTypeIn, reqGetVariables, 0, buf); err != nil {
		return Variables{}, err
	}
	v, err := DecodeVariables(buf)
	if err != nil {
		return Variables{}, err
	}
	a.vars = v
	return v, nil
}

// Variables returns the last telemetry read.
func (a *Axis) Variables() Variables { return a.vars }

func (a *Axis) degrees(raw int) float64 {
	if a.table != nil {
		return a.table.Degrees(raw)
	}
	return a.cfg.Degrees(raw)
}

func (a *Axis) target(deg float64) uint16 {
	if a.table != nil {
		return uint16(a.table.Target(deg) & maxRaw)
	}
	return a.cfg.Target(deg)
}

// Position is the angle of the last scaled feedback read.
func (a *Axis) Position() float64 {
	return a.degrees(int(a.vars.ScaledFeedback))
}

// Errors lists the faults in the last telemetry read.
func (a *Axis) Errors() []string {
	return ErrorStrings(a.vars.Flags())
}

// SetTarget commands deg. It is refused while fault flags are latched.
func (a *Axis) SetTarget(deg float64) error {
	if err := a.usable(); err != nil {
		return err
	}
	if a.vars.Faulted() {
		return fmt.Errorf("Jrk %s: %s: %w", a.Name, strings.Join(a.Errors(), ", "), rotator.ErrFault)
	}
	t := a.target(deg)
	log.Printf("Jrk %s set target %d", a.Name, t)
	return a.control(reqTypeOut, reqSetTarget, t, nil)
}

// ClearErrors asks the device to drop its latched errors. There is no
// confirmation.
func (a *Axis) ClearErrors() error {
	if err := a.control(reqTypeOut, reqClearErrors, 0, nil); err != nil {
		return err
	}
	a.vars.ErrorFlagBits = 0
	a.vars.ErrorOccurredBits = 0
	return nil
}

func (a *Axis) MotorOff() error {
	return a.control(reqTypeOut, reqMotorOff, 0, nil)
}

func (a *Axis) ErrorString() string {
	if a.fault != nil {
		return rotator.Guidance("Jrk "+a.Name, a.fault)
	}
	if a.vars.Faulted() {
		return rotator.Guidance("Jrk "+a.Name, fmt.Errorf("%s: %w", strings.Join(a.Errors(), ", "), rotator.ErrFault))
	}
	return ""
}

// Status renders the telemetry for display.
func (a *Axis) Status() string {
	v := a.vars
	errs := "none"
	if e := a.Errors(); len(e) > 0 {
		errs = strings.Join(e, ", ")
	}
	return fmt.Sprintf("%s: target %d feedback %d scaled %d (%.2f deg) duty %d/%d current %d errors %s",
		a.Name, v.Target, v.Feedback, v.ScaledFeedback, a.Position(), v.DutyCycle, v.DutyCycleTarget, v.Current, errs)
}

// Rotator is the dual-axis Jrk backend.
type Rotator struct {
	Az, El *Axis

	Throttle rotator.Throttle

	cfg     Config
	pos     rotator.Position
	lastErr error
}

func New(cfg Config) *Rotator {
	return NewWithOpen(cfg, OpenUSB)
}

// NewWithOpen uses open instead of USB enumeration.
func NewWithOpen(cfg Config, open OpenFunc) *Rotator {
	return &Rotator{
		Az:  NewAxis("azimuth", cfg.Azimuth, open),
		El:  NewAxis("elevation", cfg.Elevation, open),
		cfg: cfg,
	}
}

func (r *Rotator) Config() Config { return r.cfg }

func (r *Rotator) Space() rotator.Space { return rotator.AzEl }

func (r *Rotator) axes() []*Axis { return []*Axis{r.Az, r.El} }

func (r *Rotator) fail(err error) error {
	r.lastErr = err
	return err
}

func (r *Rotator) Open() error {
	for _, a := range r.axes() {
		if err := a.Open(); err != nil {
			r.Close()
			return r.fail(err)
		}
	}
	r.lastErr = nil
	if err := r.ReadPosition(); err != nil {
		r.Close()
		return err
	}
	return nil
}

func (r *Rotator) Close() error {
	var first error
	for _, a := range r.axes() {
		if err := a.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.pos = rotator.Position{}
	r.Throttle.Reset()
	return first
}

func (r *Rotator) IsOpen() bool { return r.Az.IsOpen() && r.El.IsOpen() }

func (r *Rotator) Position() rotator.Position { return r.pos }

func (r *Rotator) ReadPosition() error {
	for _, a := range r.axes() {
		if _, err := a.ReadVariables(); err != nil {
			return r.fail(err)
		}
	}
	r.pos = rotator.Position{A: r.Az.Position(), B: r.El.Position()}
	r.lastErr = nil
	return nil
}

func (r *Rotator) MoveDuration(az, el float64) time.Duration {
	ms := math.Max(math.Abs(az-r.pos.A)*r.cfg.Azimuth.Speed, math.Abs(el-r.pos.B)*r.cfg.Elevation.Speed)
	return time.Duration(ms * float64(time.Millisecond))
}

func (r *Rotator) move(az, el float64, axes ...*Axis) error {
	if !r.IsOpen() {
		return r.fail(rotator.ErrNotOpen)
	}
	if !r.Throttle.Ready() {
		return rotator.ErrRateLimited
	}
	for _, a := range axes {
		deg := az
		if a == r.El {
			deg = el
		}
		if err := a.SetTarget(deg); err != nil {
			return r.fail(err)
		}
	}
	r.Throttle.Hold(r.MoveDuration(az, el))
	r.pos = rotator.Position{A: az, B: el}
	return nil
}

func (r *Rotator) MoveTo(az, el float64) error {
	return r.move(az, el, r.Az, r.El)
}

func (r *Rotator) MoveToAxis1(az float64) error {
	return r.move(az, r.pos.B, r.Az)
}

func (r *Rotator) MoveToAxis2(el float64) error {
	return r.move(r.pos.A, el, r.El)
}

// Stop turns both motors off.
func (r *Rotator) Stop() error {
	for _, a := range r.axes() {
		if err := a.MotorOff(); err != nil {
			return r.fail(err)
		}
	}
	r.Throttle.Reset()
	return nil
}

func (r *Rotator) ClearErrors() error {
	for _, a := range r.axes() {
		if err := a.ClearErrors(); err != nil {
			return r.fail(err)
		}
	}
	r.lastErr = nil
	return nil
}

func (r *Rotator) ErrorString() string {
	var lines []string
	for _, a := range r.axes() {
		if s := a.ErrorString(); s != "" {
			lines = append(lines, s)
		}
	}
	if len(lines) == 0 && r.lastErr != nil {
		return rotator.Guidance("Jrk", r.lastErr)
	}
	return strings.Join(lines, "; ")
}

// Status renders both axes.
func (r *Rotator) Status() string {
	return r.Az.Status() + "\n" + r.El.Status()
}
