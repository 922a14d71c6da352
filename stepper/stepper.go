// Package stepper drives two step/direction stepper axes from a parallel
// port data register (or GPIO lines wired the same way).
//
// There is no position feedback: the driver counts the steps it has
// sent, so Position is only as good as the mechanics.
package stepper

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/w1xm/satrotor/rotator"
	"github.com/w1xm/satrotor/settings"
)

// Pins is an 8-bit output register plus a status register.
type Pins interface {
	Write(data byte) error
	Status() (byte, error)
	Close() error
}

// OpenFunc opens the pins described by a Config.
type OpenFunc func(c Config) (Pins, error)

const (
	DriverParport = "parport"
	DriverGPIO    = "gpio"
)

type Config struct {
	// Driver is DriverParport or DriverGPIO.
	Driver string
	// Device is a ppdev node such as /dev/parport0, or a GPIO chip name.
	Device string
	// GPIOLines maps data bits 0-7 to line offsets; GPIOBusyLine is the
	// input standing in for the busy status bit.
	GPIOLines    []int
	GPIOBusyLine int

	StepsPerRev    int
	AzGear, ElGear float64
	AzCCW, ElCCW   bool

	// Data register bit numbers. EnableBit < 0 means no enable line.
	AzStepBit, AzDirBit int
	ElStepBit, ElDirBit int
	EnableBit           int
	// BusyBit is the status register bit that reports busy. On a PC
	// parallel port the busy line reads inverted.
	BusyBit      int
	BusyInverted bool

	// StepDelay is held after each pulse edge.
	StepDelay   time.Duration
	BusyRetries int
	BusyDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Driver:       DriverParport,
		Device:       "/dev/parport0",
		GPIOLines:    []int{17, 18, 27, 22, 23, 24, 25, 4},
		GPIOBusyLine: 5,
		StepsPerRev:  200,
		AzGear:       1,
		ElGear:       1,
		AzStepBit:    0,
		AzDirBit:     1,
		ElStepBit:    2,
		ElDirBit:     3,
		EnableBit:    4,
		BusyBit:      7,
		BusyInverted: true,
		StepDelay:    2 * time.Millisecond,
		BusyRetries:  50,
		BusyDelay:    time.Millisecond,
	}
}

func (c *Config) ReadSettings(s settings.Section) {
	c.Driver = s.String("driver", c.Driver)
	c.Device = s.String("device", c.Device)
	if lines := s.String("gpio_lines", ""); lines != "" {
		if l, err := parseLines(lines); err != nil {
			log.Printf("stepper gpio_lines: %v", err)
		} else {
			c.GPIOLines = l
		}
	}
	c.StepsPerRev = s.Int("steps_per_rev", c.StepsPerRev)
	c.AzGear = s.Float("az_gear", c.AzGear)
	c.ElGear = s.Float("el_gear", c.ElGear)
	c.AzCCW = s.Bool("az_ccw", c.AzCCW)
	c.ElCCW = s.Bool("el_ccw", c.ElCCW)
	c.AzStepBit = s.Int("az_step_bit", c.AzStepBit)
	c.AzDirBit = s.Int("az_dir_bit", c.AzDirBit)
	c.ElStepBit = s.Int("el_step_bit", c.ElStepBit)
	c.ElDirBit = s.Int("el_dir_bit", c.ElDirBit)
	c.EnableBit = s.Int("enable_bit", c.EnableBit)
	c.BusyBit = s.Int("busy_bit", c.BusyBit)
	// A GPIO input reads the busy signal as wired, without the parallel
	// port's inversion.
	inverted := c.BusyInverted && c.Driver != DriverGPIO
	c.BusyInverted = s.Bool("busy_inverted", inverted)
	c.GPIOBusyLine = s.Int("gpio_busy_line", c.GPIOBusyLine)
	c.StepDelay = time.Duration(s.Int("step_delay_us", int(c.StepDelay/time.Microsecond))) * time.Microsecond
	c.BusyRetries = s.Int("busy_retries", c.BusyRetries)
	c.BusyDelay = time.Duration(s.Int("busy_delay_us", int(c.BusyDelay/time.Microsecond))) * time.Microsecond
}

func (c Config) WriteSettings(s settings.Section) {
	s.Set("driver", c.Driver)
	s.Set("device", c.Device)
	s.Set("steps_per_rev", c.StepsPerRev)
	s.Set("az_gear", c.AzGear)
	s.Set("el_gear", c.ElGear)
	s.Set("az_ccw", c.AzCCW)
	s.Set("el_ccw", c.ElCCW)
	s.Set("az_step_bit", c.AzStepBit)
	s.Set("az_dir_bit", c.AzDirBit)
	s.Set("el_step_bit", c.ElStepBit)
	s.Set("el_dir_bit", c.ElDirBit)
	s.Set("enable_bit", c.EnableBit)
	s.Set("busy_bit", c.BusyBit)
	s.Set("busy_inverted", c.BusyInverted)
	s.Set("gpio_busy_line", c.GPIOBusyLine)
	s.Set("step_delay_us", int(c.StepDelay/time.Microsecond))
	s.Set("busy_retries", c.BusyRetries)
	s.Set("busy_delay_us", int(c.BusyDelay/time.Microsecond))
	s.Set("gpio_lines", formatLines(c.GPIOLines))
}

// parseLines reads a comma-separated list of GPIO line offsets.
func parseLines(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("bad line offset %q: %w", f, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func formatLines(lines []int) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = strconv.Itoa(l)
	}
	return strings.Join(parts, ",")
}

// Steps converts an angular distance into a step count.
func (c Config) Steps(delta, gear float64) int {
	return int(math.Round(math.Abs(delta) * float64(c.StepsPerRev) * gear / 360))
}

// Angle is the signed travel of n steps in the direction of delta.
func (c Config) Angle(n int, delta, gear float64) float64 {
	a := float64(n) * 360 / (float64(c.StepsPerRev) * gear)
	if delta < 0 {
		return -a
	}
	return a
}

// Plan returns the signed azimuth travel from current to target, taking
// the short way around.
func Plan(current, target float64) float64 {
	d := target - current
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	return d
}

// Open opens the pins using the configured driver.
func Open(c Config) (Pins, error) {
	switch c.Driver {
	case DriverParport, "":
		return OpenParport(c.Device)
	case DriverGPIO:
		return OpenGPIO(c.Device, c.GPIOLines, c.GPIOBusyLine, c.BusyBit)
	}
	return nil, fmt.Errorf("unknown stepper driver %q", c.Driver)
}

// Rotator is the stepper backend.
type Rotator struct {
	cfg  Config
	open OpenFunc
	pins Pins

	// Sleep defaults to time.Sleep.
	Sleep func(time.Duration)

	pos     rotator.Position
	lastErr error
	// fault latches an I/O failure until Close.
	fault error
	// fatal latches a failed Open until ClearFault.
	fatal error
}

func New(cfg Config) *Rotator {
	return NewWithOpen(cfg, Open)
}

func NewWithOpen(cfg Config, open OpenFunc) *Rotator {
	return &Rotator{cfg: cfg, open: open}
}

func (r *Rotator) Config() Config { return r.cfg }

func (r *Rotator) Space() rotator.Space { return rotator.AzEl }

func (r *Rotator) sleep(d time.Duration) {
	if r.Sleep != nil {
		r.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (r *Rotator) fail(err error) error {
	r.lastErr = err
	return err
}

func bit(n int) byte {
	if n < 0 || n > 7 {
		return 0
	}
	return 1 << uint(n)
}

func (r *Rotator) Open() error {
	if r.fatal != nil {
		return r.fatal
	}
	if r.pins != nil {
		return nil
	}
	pins, err := r.open(r.cfg)
	if err != nil {
		log.Printf("opening stepper %q: %v", r.cfg.Device, err)
		r.fatal = fmt.Errorf("opening %q: %v: %w", r.cfg.Device, err, rotator.ErrIO)
		return r.fail(r.fatal)
	}
	log.Printf("opened stepper %q", r.cfg.Device)
	r.pins = pins
	r.lastErr = nil
	if err := r.write(bit(r.cfg.EnableBit)); err != nil {
		r.Close()
		return err
	}
	return nil
}

// ClearFault allows Open to be retried after a failure.
func (r *Rotator) ClearFault() {
	r.fatal = nil
	r.lastErr = nil
}

// Close releases the pins. The step count is kept: the motors hold their
// place without power.
func (r *Rotator) Close() error {
	if r.pins == nil {
		return nil
	}
	r.pins.Write(0)
	err := r.pins.Close()
	r.pins = nil
	r.fault = nil
	return err
}

func (r *Rotator) IsOpen() bool { return r.pins != nil }

func (r *Rotator) ErrorString() string {
	name := "stepper " + r.cfg.Device
	if r.fatal != nil {
		return rotator.Guidance(name, r.fatal) + "; check permissions on the device"
	}
	return rotator.Guidance(name, r.lastErr)
}

func (r *Rotator) Position() rotator.Position { return r.pos }

// SetPosition tells the driver where the motors are, for homing.
func (r *Rotator) SetPosition(p rotator.Position) { r.pos = p }

// ReadPosition has nothing to read; it only reports whether the port is
// usable.
func (r *Rotator) ReadPosition() error {
	if r.pins == nil {
		return r.fail(rotator.ErrNotOpen)
	}
	return r.fault
}

func (r *Rotator) write(data byte) error {
	if err := r.pins.Write(data); err != nil {
		r.fault = fmt.Errorf("writing %q: %v: %w", r.cfg.Device, err, rotator.ErrIO)
		return r.fail(r.fault)
	}
	return nil
}

func (r *Rotator) waitReady() error {
	for i := 0; i < r.cfg.BusyRetries; i++ {
		st, err := r.pins.Status()
		if err != nil {
			r.fault = fmt.Errorf("reading status of %q: %v: %w", r.cfg.Device, err, rotator.ErrIO)
			return r.fail(r.fault)
		}
		busy := st&bit(r.cfg.BusyBit) != 0
		if r.cfg.BusyInverted {
			busy = !busy
		}
		if !busy {
			return nil
		}
		r.sleep(r.cfg.BusyDelay)
	}
	return r.fail(fmt.Errorf("stepper busy after %d polls: %w", r.cfg.BusyRetries, rotator.ErrTimeout))
}

func (r *Rotator) travel(az, el float64) (daz, del float64) {
	return Plan(r.pos.A, rotator.Wrap360(az)), el - r.pos.B
}

func (r *Rotator) MoveDuration(az, el float64) time.Duration {
	daz, del := r.travel(az, el)
	n := r.cfg.Steps(daz, r.cfg.AzGear)
	if m := r.cfg.Steps(del, r.cfg.ElGear); m > n {
		n = m
	}
	return time.Duration(n) * 2 * r.cfg.StepDelay
}

// MoveTo steps both axes, interleaving pulses until each has used up its
// own step budget. It returns when the last pulse has been sent, so there
// is no cool-down to enforce.
func (r *Rotator) MoveTo(az, el float64) error {
	if r.pins == nil {
		return r.fail(rotator.ErrNotOpen)
	}
	if r.fault != nil {
		return r.fault
	}
	az = rotator.Wrap360(az)
	daz, del := r.travel(az, el)
	azSteps := r.cfg.Steps(daz, r.cfg.AzGear)
	elSteps := r.cfg.Steps(del, r.cfg.ElGear)
	if azSteps == 0 && elSteps == 0 {
		return nil
	}
	azLeft, elLeft := azSteps, elSteps

	data := bit(r.cfg.EnableBit)
	if (daz >= 0) != r.cfg.AzCCW {
		data |= bit(r.cfg.AzDirBit)
	}
	if (del >= 0) != r.cfg.ElCCW {
		data |= bit(r.cfg.ElDirBit)
	}
	log.Printf("stepping az %d el %d (dir %#02x)", azLeft, elLeft, data)
	if err := r.write(data); err != nil {
		return err
	}

	for azLeft > 0 || elLeft > 0 {
		if err := r.waitReady(); err != nil {
			return err
		}
		pulse := data
		if azLeft > 0 {
			pulse |= bit(r.cfg.AzStepBit)
			azLeft--
		}
		if elLeft > 0 {
			pulse |= bit(r.cfg.ElStepBit)
			elLeft--
		}
		if err := r.write(pulse); err != nil {
			return err
		}
		r.sleep(r.cfg.StepDelay)
		if err := r.write(data); err != nil {
			return err
		}
		r.sleep(r.cfg.StepDelay)
	}
	// The cache holds where the whole steps actually put the shafts.
	r.pos = rotator.Position{
		A: rotator.Wrap360(r.pos.A + r.cfg.Angle(azSteps, daz, r.cfg.AzGear)),
		B: r.pos.B + r.cfg.Angle(elSteps, del, r.cfg.ElGear),
	}
	r.lastErr = nil
	return nil
}

func (r *Rotator) MoveToAxis1(az float64) error {
	return r.MoveTo(az, r.pos.B)
}

func (r *Rotator) MoveToAxis2(el float64) error {
	return r.MoveTo(r.pos.A, el)
}

// Stop is a no-op: a move in progress always finishes its step budget.
func (r *Rotator) Stop() error { return nil }
