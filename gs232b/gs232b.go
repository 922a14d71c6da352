// Package gs232b drives a Yaesu GS-232B rotator interface over RS-232.
//
// Protocol: "C2" queries position and is answered with exactly
// "AZ=nnn  EL=nnn\r\n"; "Wnnn nnn" moves both axes; "Mnnn" moves azimuth
// only; "S" stops. Resolution is one degree.
package gs232b

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/w1xm/satrotor/internal/serialport"
	"github.com/w1xm/satrotor/rotator"
	"github.com/w1xm/satrotor/settings"
)

const replyLen = 16

type Config struct {
	Port string
	Baud int
	// CCW marks a mount flipped over the top: az is offset by 180 and el
	// mirrored to 180-el before transmission.
	CCW bool
	// AzSpeed and ElSpeed are milliseconds per degree.
	AzSpeed, ElSpeed float64
	Poll             serialport.Poll
}

func DefaultConfig() Config {
	return Config{
		Port:    "/dev/ttyUSB0",
		Baud:    9600,
		AzSpeed: 160,
		ElSpeed: 130,
		Poll:    serialport.Poll{Attempts: 10, Delay: 100 * time.Millisecond},
	}
}

func (c *Config) ReadSettings(s settings.Section) {
	c.Port = s.String("port", c.Port)
	c.Baud = s.Int("baud", c.Baud)
	c.CCW = s.Bool("ccw", c.CCW)
	c.AzSpeed = s.Float("az_speed", c.AzSpeed)
	c.ElSpeed = s.Float("el_speed", c.ElSpeed)
}

func (c Config) WriteSettings(s settings.Section) {
	s.Set("port", c.Port)
	s.Set("baud", c.Baud)
	s.Set("ccw", c.CCW)
	s.Set("az_speed", c.AzSpeed)
	s.Set("el_speed", c.ElSpeed)
}

// Rotator is a GS-232B backend.
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
	return rotator.Guidance("GS-232B "+r.cfg.Port, r.lastErr)
}

func (r *Rotator) Position() rotator.Position { return r.pos }

func (r *Rotator) ReadPosition() error {
	r.link.Drain()
	if err := r.link.Write([]byte("C2\r\n")); err != nil {
		return r.fail(err)
	}
	buf := make([]byte, replyLen)
	if err := r.link.ReadFull(buf, r.cfg.Poll); err != nil {
		return r.fail(err)
	}
	az, el, err := ParseReply(buf)
	if err != nil {
		return r.fail(err)
	}
	r.pos = r.unwire(int(az), int(el))
	r.lastErr = nil
	return nil
}

// ParseReply decodes "AZ=nnn  EL=nnn\r\n".
func ParseReply(b []byte) (az, el float64, err error) {
	if len(b) < replyLen {
		return 0, 0, fmt.Errorf("truncated reply %q", b)
	}
	s := string(b[:replyLen])
	if s[0:3] != "AZ=" || s[8:11] != "EL=" {
		return 0, 0, fmt.Errorf("malformed reply %q", s)
	}
	a, err := strconv.Atoi(strings.TrimSpace(s[3:6]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad azimuth in %q: %w", s, err)
	}
	e, err := strconv.Atoi(strings.TrimSpace(s[11:14]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad elevation in %q: %w", s, err)
	}
	return float64(a), float64(e), nil
}

// wire converts a pointing request into the integers sent on the line.
func (r *Rotator) wire(az, el float64) (int, int) {
	if r.cfg.CCW {
		az = rotator.Wrap360(az + 180)
		el = 180 - el
	}
	a := int(math.Round(rotator.Wrap360(az))) % 360
	e := int(math.Round(rotator.Clamp(el, 0, 180)))
	return a, e
}

// unwire is the inverse of wire, for the cached position.
func (r *Rotator) unwire(a, e int) rotator.Position {
	az, el := float64(a), float64(e)
	if r.cfg.CCW {
		az, el = rotator.Wrap360(az-180), 180-el
	}
	return rotator.Position{A: az, B: el}
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
	a, e := r.wire(az, el)
	cmd := fmt.Sprintf("W%03d %03d\r\n", a, e)
	log.Printf("Writing: %q", cmd)
	if err := r.link.Write([]byte(cmd)); err != nil {
		return r.fail(err)
	}
	target := r.unwire(a, e)
	r.Throttle.Hold(r.MoveDuration(target.A, target.B))
	r.pos = target
	return nil
}

func (r *Rotator) MoveToAxis1(az float64) error {
	if err := r.link.Usable(); err != nil {
		return r.fail(err)
	}
	if !r.Throttle.Ready() {
		return rotator.ErrRateLimited
	}
	if r.cfg.CCW {
		// M only moves azimuth; a flipped mount needs both axes.
		return r.MoveTo(az, r.pos.B)
	}
	a, _ := r.wire(az, r.pos.B)
	if err := r.link.Write([]byte(fmt.Sprintf("M%03d\r\n", a))); err != nil {
		return r.fail(err)
	}
	r.Throttle.Hold(r.MoveDuration(float64(a), r.pos.B))
	r.pos.A = float64(a)
	return nil
}

func (r *Rotator) MoveToAxis2(el float64) error {
	return r.MoveTo(r.pos.A, el)
}

func (r *Rotator) Stop() error {
	if err := r.link.Write([]byte("S\r\n")); err != nil {
		return r.fail(err)
	}
	r.Throttle.Reset()
	return nil
}
