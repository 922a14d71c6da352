// Package spid drives an Alfa-SPID rotator (Rot2Prog protocol) over
// RS-232.
//
// Commands are fixed 13-byte frames:
//
//	0x57 H1 H2 H3 H4 PH V1 V2 V3 V4 PV K 0x20
//
// where H and V are the ASCII digits of PH*(360+az) and PV*(360+el), and
// K is the command code. Status and stop are answered with 12 bytes:
//
//	0x57 H1 H2 H3 H4 PH V1 V2 V3 V4 PV 0x20
//
// holding hundreds, tens, units and tenths of angle+360.
package spid

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/w1xm/satrotor/internal/serialport"
	"github.com/w1xm/satrotor/rotator"
	"github.com/w1xm/satrotor/settings"
)

const (
	frameStart = 0x57
	frameEnd   = 0x20

	CmdStop   = 0x0F
	CmdStatus = 0x1F
	CmdMove   = 0x2F

	frameLen = 13
	replyLen = 12
)

type Config struct {
	Port string
	Baud int
	// PH and PV are pulses per degree, 1 or 2.
	PH, PV byte
	// AzSpeed and ElSpeed are milliseconds per degree.
	AzSpeed, ElSpeed float64
	Poll             serialport.Poll
}

func DefaultConfig() Config {
	return Config{
		Port:    "/dev/ttyUSB1",
		Baud:    600,
		PH:      2,
		PV:      2,
		AzSpeed: 60,
		ElSpeed: 60,
		Poll:    serialport.Poll{Attempts: 20, Delay: 50 * time.Millisecond},
	}
}

func (c *Config) ReadSettings(s settings.Section) {
	c.Port = s.String("port", c.Port)
	c.Baud = s.Int("baud", c.Baud)
	c.PH = byte(s.Int("ph", int(c.PH)))
	c.PV = byte(s.Int("pv", int(c.PV)))
	c.AzSpeed = s.Float("az_speed", c.AzSpeed)
	c.ElSpeed = s.Float("el_speed", c.ElSpeed)
}

func (c Config) WriteSettings(s settings.Section) {
	s.Set("port", c.Port)
	s.Set("baud", c.Baud)
	s.Set("ph", int(c.PH))
	s.Set("pv", int(c.PV))
	s.Set("az_speed", c.AzSpeed)
	s.Set("el_speed", c.ElSpeed)
}

// Valid rejects pulse settings the controller does not support.
func (c Config) Valid() error {
	for _, p := range []byte{c.PH, c.PV} {
		if p != 1 && p != 2 {
			return fmt.Errorf("pulses per degree must be 1 or 2, got %d", p)
		}
	}
	return nil
}

// Frame is one command to the controller.
type Frame [frameLen]byte

// Encode builds a command frame for the given angles.
func Encode(cmd byte, az, el float64, ph, pv byte) Frame {
	var f Frame
	f[0] = frameStart
	putDigits(f[1:5], pulses(az, ph))
	f[5] = ph
	putDigits(f[6:10], pulses(el, pv))
	f[10] = pv
	f[11] = cmd
	f[12] = frameEnd
	return f
}

// pulses is the wire count for angle at ppd pulses per degree.
func pulses(angle float64, ppd byte) int {
	return int(math.Round(float64(ppd) * (360 + angle)))
}

func putDigits(dst []byte, v int) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = 0x30 + byte(v%10)
		v /= 10
	}
}

// digit accepts both raw and ASCII-coded digits.
func digit(b byte) float64 {
	if b >= 0x30 {
		b -= 0x30
	}
	return float64(b)
}

// Decode parses a 12-byte status reply.
func Decode(b []byte) (az, el float64, err error) {
	if len(b) < replyLen {
		return 0, 0, fmt.Errorf("truncated reply % x", b)
	}
	if b[0] != frameStart || b[11] != frameEnd {
		return 0, 0, fmt.Errorf("malformed reply % x", b[:replyLen])
	}
	az = digit(b[1])*100 + digit(b[2])*10 + digit(b[3]) + digit(b[4])/10 - 360
	el = digit(b[6])*100 + digit(b[7])*10 + digit(b[8]) + digit(b[9])/10 - 360
	return az, el, nil
}

// Rotator is an Alfa-SPID backend.
type Rotator struct {
	cfg  Config
	link *serialport.Link

	Throttle rotator.Throttle

	pos     rotator.Position
	lastErr error
}

func New(cfg Config) *Rotator {
	return &Rotator{
		cfg:  cfg,
		link: serialport.NewLink(serialport.Config{Name: cfg.Port, Baud: cfg.Baud}),
	}
}

// NewWithDial uses dial instead of opening a serial port.
func NewWithDial(cfg Config, dial serialport.DialFunc) *Rotator {
	r := New(cfg)
	r.link.Dial = dial
	return r
}

func (r *Rotator) Config() Config { return r.cfg }

func (r *Rotator) Space() rotator.Space { return rotator.AzEl }

func (r *Rotator) fail(err error) error {
	r.lastErr = err
	return err
}

func (r *Rotator) Open() error {
	if err := r.cfg.Valid(); err != nil {
		return r.fail(err)
	}
	if err := r.link.Open(); err != nil {
		return r.fail(err)
	}
	r.lastErr = nil
	if err := r.ReadPosition(); err != nil {
		r.link.Close()
		return err
	}
	return nil
}

func (r *Rotator) Close() error {
	r.pos = rotator.Position{}
	r.Throttle.Reset()
	return r.link.Close()
}

func (r *Rotator) IsOpen() bool { return r.link.IsOpen() }

func (r *Rotator) ErrorString() string {
	return rotator.Guidance("SPID "+r.cfg.Port, r.lastErr)
}

func (r *Rotator) Position() rotator.Position { return r.pos }

// query sends cmd and decodes the status reply.
func (r *Rotator) query(cmd byte) error {
	r.link.Drain()
	// Status and stop frames carry no angle.
	f := Frame{0: frameStart, 11: cmd, 12: frameEnd}
	if err := r.link.Write(f[:]); err != nil {
		return r.fail(err)
	}
	buf := make([]byte, replyLen)
	if err := r.link.ReadFull(buf, r.cfg.Poll); err != nil {
		return r.fail(err)
	}
	az, el, err := Decode(buf)
	if err != nil {
		return r.fail(err)
	}
	r.pos = rotator.Position{A: az, B: el}
	r.lastErr = nil
	return nil
}

func (r *Rotator) ReadPosition() error {
	return r.query(CmdStatus)
}

func (r *Rotator) MoveDuration(az, el float64) time.Duration {
	ms := math.Max(math.Abs(az-r.pos.A)*r.cfg.AzSpeed, math.Abs(el-r.pos.B)*r.cfg.ElSpeed)
	return time.Duration(ms * float64(time.Millisecond))
}

func (r *Rotator) MoveTo(az, el float64) error {
	if err := r.link.Usable(); err != nil {
		return r.fail(err)
	}
	if !r.Throttle.Ready() {
		return rotator.ErrRateLimited
	}
	az = rotator.Wrap360(az)
	el = rotator.Clamp(el, 0, 180)
	f := Encode(CmdMove, az, el, r.cfg.PH, r.cfg.PV)
	log.Printf("Writing: % x", f[:])
	if err := r.link.Write(f[:]); err != nil {
		return r.fail(err)
	}
	target := rotator.Position{
		A: float64(pulses(az, r.cfg.PH))/float64(r.cfg.PH) - 360,
		B: float64(pulses(el, r.cfg.PV))/float64(r.cfg.PV) - 360,
	}
	r.Throttle.Hold(r.MoveDuration(target.A, target.B))
	r.pos = target
	return nil
}

func (r *Rotator) MoveToAxis1(az float64) error {
	return r.MoveTo(az, r.pos.B)
}

func (r *Rotator) MoveToAxis2(el float64) error {
	return r.MoveTo(r.pos.A, el)
}

// Stop halts both axes. The controller answers with the position it
// stopped at.
func (r *Rotator) Stop() error {
	if err := r.query(CmdStop); err != nil {
		return err
	}
	r.Throttle.Reset()
	return nil
}
