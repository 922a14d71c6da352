// Package monstrum drives the Monstrum X-Y rig over RS-232.
//
// The rig works natively in X/Y actuator space, each axis in [0, 180].
// Frames are [0x53 'S', length, command, payload...] where length counts
// the whole frame. Angles travel as an axis tag, five ASCII digits of
// angle*100 and a 'P' suffix: "X01234P" is x=12.34.
package monstrum

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/w1xm/satrotor/internal/serialport"
	"github.com/w1xm/satrotor/rotator"
	"github.com/w1xm/satrotor/settings"
)

const (
	frameStart = 'S'
	suffix     = 'P'

	CmdMove     = 0x01
	CmdEnable   = 0x02
	CmdStatus   = 0x03
	CmdPosition = 0x06
	CmdStop     = 0x08

	shortLen  = 4
	axisLen   = 7
	moveLen   = 3 + 2*axisLen
	statusLen = 5

	maxAngle = 180
)

type Config struct {
	Port string
	Baud int
	// XSpeed and YSpeed are milliseconds per degree.
	XSpeed, YSpeed float64
	Poll           serialport.Poll
}

func DefaultConfig() Config {
	return Config{
		Port:   "/dev/ttyUSB2",
		Baud:   9600,
		XSpeed: 80,
		YSpeed: 80,
		Poll:   serialport.Poll{Attempts: 10, Delay: 50 * time.Millisecond},
	}
}

func (c *Config) ReadSettings(s settings.Section) {
	c.Port = s.String("port", c.Port)
	c.Baud = s.Int("baud", c.Baud)
	c.XSpeed = s.Float("x_speed", c.XSpeed)
	c.YSpeed = s.Float("y_speed", c.YSpeed)
}

func (c Config) WriteSettings(s settings.Section) {
	s.Set("port", c.Port)
	s.Set("baud", c.Baud)
	s.Set("x_speed", c.XSpeed)
	s.Set("y_speed", c.YSpeed)
}

// Short builds one of the fixed 4-byte command frames.
func Short(cmd byte) []byte {
	return []byte{frameStart, shortLen, cmd, suffix}
}

// EncodeAxis renders "X01234P" for tag 'X' and 12.34.
func EncodeAxis(tag byte, angle float64) []byte {
	v := int(math.Round(rotator.Clamp(angle, 0, maxAngle) * 100))
	return []byte(fmt.Sprintf("%c%05d%c", tag, v, suffix))
}

// EncodeMove builds a move frame for x/y.
func EncodeMove(x, y float64) []byte {
	f := []byte{frameStart, moveLen, CmdMove}
	f = append(f, EncodeAxis('X', x)...)
	return append(f, EncodeAxis('Y', y)...)
}

func decodeAxis(b []byte, tag byte) (float64, error) {
	if len(b) != axisLen || b[0] != tag || b[axisLen-1] != suffix {
		return 0, fmt.Errorf("malformed %c field %q", tag, b)
	}
	v, err := strconv.Atoi(string(b[1 : axisLen-1]))
	if err != nil {
		return 0, fmt.Errorf("bad %c field %q: %w", tag, b, err)
	}
	return float64(v) / 100, nil
}

// DecodePosition parses the reply to CmdPosition, which has the same
// layout as a move frame.
func DecodePosition(b []byte) (x, y float64, err error) {
	if len(b) < moveLen || b[0] != frameStart || b[1] != moveLen || b[2] != CmdPosition {
		return 0, 0, fmt.Errorf("malformed position reply %q", b)
	}
	if x, err = decodeAxis(b[3:3+axisLen], 'X'); err != nil {
		return 0, 0, err
	}
	if y, err = decodeAxis(b[3+axisLen:moveLen], 'Y'); err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

// Status is the rig status byte broken down.
type Status struct {
	Raw     byte
	Moving  bool
	Enabled bool
	Limit   bool
}

func DecodeStatus(b []byte) (Status, error) {
	if len(b) < statusLen || b[0] != frameStart || b[1] != statusLen || b[2] != CmdStatus || b[4] != suffix {
		return Status{}, fmt.Errorf("malformed status reply %q", b)
	}
	v := b[3]
	return Status{
		Raw:     v,
		Moving:  v&1 != 0,
		Enabled: v&2 != 0,
		Limit:   v&4 != 0,
	}, nil
}

// Rig is the Monstrum backend. Positions are X/Y.
type Rig struct {
	cfg  Config
	link *serialport.Link

	Throttle rotator.Throttle

	pos     rotator.Position
	status  Status
	lastErr error
}

func New(cfg Config) *Rig {
	return &Rig{
		cfg:  cfg,
		link: serialport.NewLink(serialport.Config{Name: cfg.Port, Baud: cfg.Baud}),
	}
}

// NewWithDial uses dial instead of opening a serial port.
func NewWithDial(cfg Config, dial serialport.DialFunc) *Rig {
	r := New(cfg)
	r.link.Dial = dial
	return r
}

func (r *Rig) Config() Config { return r.cfg }

func (r *Rig) Space() rotator.Space { return rotator.XY }

func (r *Rig) fail(err error) error {
	r.lastErr = err
	return err
}

func (r *Rig) Open() error {
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

func (r *Rig) Close() error {
	r.pos = rotator.Position{}
	r.status = Status{}
	r.Throttle.Reset()
	return r.link.Close()
}

func (r *Rig) IsOpen() bool { return r.link.IsOpen() }

func (r *Rig) ErrorString() string {
	return rotator.Guidance("Monstrum "+r.cfg.Port, r.lastErr)
}

func (r *Rig) Position() rotator.Position { return r.pos }

func (r *Rig) query(cmd byte, n int) ([]byte, error) {
	r.link.Drain()
	if err := r.link.Write(Short(cmd)); err != nil {
		return nil, r.fail(err)
	}
	buf := make([]byte, n)
	if err := r.link.ReadFull(buf, r.cfg.Poll); err != nil {
		return nil, r.fail(err)
	}
	return buf, nil
}

func (r *Rig) ReadPosition() error {
	buf, err := r.query(CmdPosition, moveLen)
	if err != nil {
		return err
	}
	x, y, err := DecodePosition(buf)
	if err != nil {
		return r.fail(err)
	}
	r.pos = rotator.Position{A: x, B: y}
	r.lastErr = nil
	return nil
}

// ReadStatus refreshes and returns the status byte.
func (r *Rig) ReadStatus() (Status, error) {
	buf, err := r.query(CmdStatus, statusLen)
	if err != nil {
		return Status{}, err
	}
	st, err := DecodeStatus(buf)
	if err != nil {
		return Status{}, r.fail(err)
	}
	r.status = st
	return st, nil
}

// Enable powers the actuators.
func (r *Rig) Enable() error {
	if err := r.link.Write(Short(CmdEnable)); err != nil {
		return r.fail(err)
	}
	return nil
}

func (r *Rig) MoveDuration(x, y float64) time.Duration {
	ms := math.Max(math.Abs(x-r.pos.A)*r.cfg.XSpeed, math.Abs(y-r.pos.B)*r.cfg.YSpeed)
	return time.Duration(ms * float64(time.Millisecond))
}

// MoveTo moves to x/y.
func (r *Rig) MoveTo(x, y float64) error {
	if err := r.link.Usable(); err != nil {
		return r.fail(err)
	}
	if !r.Throttle.Ready() {
		return rotator.ErrRateLimited
	}
	f := EncodeMove(x, y)
	log.Printf("Writing: %q", f)
	if err := r.link.Write(f); err != nil {
		return r.fail(err)
	}
	target := rotator.Position{A: quantize(x), B: quantize(y)}
	r.Throttle.Hold(r.MoveDuration(target.A, target.B))
	r.pos = target
	return nil
}

func quantize(v float64) float64 {
	return math.Round(rotator.Clamp(v, 0, maxAngle)*100) / 100
}

func (r *Rig) MoveToAxis1(x float64) error {
	return r.MoveTo(x, r.pos.B)
}

func (r *Rig) MoveToAxis2(y float64) error {
	return r.MoveTo(r.pos.A, y)
}

func (r *Rig) Stop() error {
	if err := r.link.Write(Short(CmdStop)); err != nil {
		return r.fail(err)
	}
	r.Throttle.Reset()
	return nil
}
