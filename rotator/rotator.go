package rotator

import (
	"errors"
	"fmt"
	"time"
)

// Backend is implemented by every motor-controller driver.
//
// Positions passed to MoveTo and returned from Position are in the
// backend's native Space: azimuth/elevation degrees for AzEl backends,
// X/Y actuator degrees for XY backends.
type Backend interface {
	Open() error
	Close() error
	IsOpen() bool
	// ReadPosition refreshes the cached position from hardware. On
	// failure the cache is left untouched.
	ReadPosition() error
	Position() Position
	MoveTo(a, b float64) error
	MoveToAxis1(v float64) error
	MoveToAxis2(v float64) error
	Stop() error
	ErrorString() string
	Space() Space
}

// Estimator is implemented by backends that know how long a move takes.
type Estimator interface {
	// MoveDuration estimates how long moving from the cached position to
	// (a, b) takes, in the backend's native space.
	MoveDuration(a, b float64) time.Duration
}

// Position is a pair of angles in degrees.
type Position struct {
	A, B float64
}

func (p Position) String() string {
	return fmt.Sprintf("(%.2f, %.2f)", p.A, p.B)
}

// Space identifies the coordinate system a backend works in.
type Space int

const (
	AzEl Space = iota
	XY
)

// Kind tags one of the supported backends.
type Kind int

const (
	Stepper Kind = iota
	GS232B
	SPID
	Jrk
	Monstrum
)

var kindNames = map[Kind]string{
	Stepper:  "stepper",
	GS232B:   "gs232b",
	SPID:     "spid",
	Jrk:      "jrk",
	Monstrum: "monstrum",
}

// Kinds lists every backend in registry order.
func Kinds() []Kind {
	return []Kind{Stepper, GS232B, SPID, Jrk, Monstrum}
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind returns the Kind with the given name.
func ParseKind(name string) (Kind, error) {
	for k, s := range kindNames {
		if s == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown backend %q", name)
}

var (
	// ErrNotOpen is returned when an operation is attempted before Open succeeded.
	ErrNotOpen = errors.New("link not open")
	// ErrIO wraps channel read/write failures. It latches until the link is reopened.
	ErrIO = errors.New("i/o failure")
	// ErrTimeout means the expected reply never arrived within the retry budget.
	ErrTimeout = errors.New("no reply from device")
	// ErrRateLimited is returned while a previous move is still expected to be running.
	ErrRateLimited = errors.New("previous move still in progress")
	// ErrFault reports hardware fault flags that must be cleared explicitly.
	ErrFault = errors.New("device fault")
)

// Guidance renders err as the single line shown to an operator.
func Guidance(device string, err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotOpen):
		return fmt.Sprintf("%s: not connected", device)
	case errors.Is(err, ErrIO):
		return fmt.Sprintf("%s: %v; check the cable and reopen the port", device, err)
	case errors.Is(err, ErrTimeout):
		return fmt.Sprintf("%s: %v; check the device is powered", device, err)
	case errors.Is(err, ErrFault):
		return fmt.Sprintf("%s: %v; clear errors before moving", device, err)
	}
	return fmt.Sprintf("%s: %v", device, err)
}
