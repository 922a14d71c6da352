// Package serialport owns the byte channel shared by the RS-232 rotor
// backends: opening the port, latching I/O faults, and polling for
// replies under a bounded retry budget.
package serialport

import (
	"fmt"
	"io"
	"log"
	"time"

	bugst "go.bug.st/serial"

	"github.com/tarm/serial"
	"github.com/w1xm/satrotor/rotator"
)

// Config describes a serial line.
type Config struct {
	Name string
	Baud int
	// Parity is 'N', 'O' or 'E'.
	Parity byte
	// StopBits is 1 or 2.
	StopBits byte
	// ReadTimeout bounds a single read; polling is done by Poll.
	ReadTimeout time.Duration
}

// Open opens the named port.
func Open(c Config) (io.ReadWriteCloser, error) {
	sc := &serial.Config{
		Name:        c.Name,
		Baud:        c.Baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: c.ReadTimeout,
	}
	switch c.Parity {
	case 'O':
		sc.Parity = serial.ParityOdd
	case 'E':
		sc.Parity = serial.ParityEven
	}
	if c.StopBits == 2 {
		sc.StopBits = serial.Stop2
	}
	if sc.ReadTimeout == 0 {
		sc.ReadTimeout = 10 * time.Millisecond
	}
	return serial.OpenPort(sc)
}

// ListPorts returns the serial ports present on this machine.
func ListPorts() ([]string, error) {
	return bugst.GetPortsList()
}

// DialFunc opens a channel.
type DialFunc func() (io.ReadWriteCloser, error)

// Link is an exclusively owned channel with a latched fault.
type Link struct {
	Name string
	Dial DialFunc

	conn  io.ReadWriteCloser
	fault error
}

// NewLink returns a link that dials the serial port described by c.
func NewLink(c Config) *Link {
	return &Link{
		Name: c.Name,
		Dial: func() (io.ReadWriteCloser, error) { return Open(c) },
	}
}

func (l *Link) Open() error {
	if l.conn != nil {
		return nil
	}
	conn, err := l.Dial()
	if err != nil {
		log.Printf("opening %q: %v", l.Name, err)
		return fmt.Errorf("opening %q: %v: %w", l.Name, err, rotator.ErrIO)
	}
	log.Printf("opened %q", l.Name)
	l.conn = conn
	l.fault = nil
	return nil
}

func (l *Link) Close() error {
	l.fault = nil
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

func (l *Link) IsOpen() bool {
	return l.conn != nil
}

// Usable returns nil when I/O may be attempted.
func (l *Link) Usable() error {
	if l.conn == nil {
		return rotator.ErrNotOpen
	}
	return l.fault
}

// Write sends p. A failure latches the fault.
func (l *Link) Write(p []byte) error {
	if err := l.Usable(); err != nil {
		return err
	}
	if _, err := l.conn.Write(p); err != nil {
		l.fault = fmt.Errorf("writing %q: %v: %w", l.Name, err, rotator.ErrIO)
		return l.fault
	}
	return nil
}

// ReadFull fills buf under the poll budget p.
func (l *Link) ReadFull(buf []byte, p Poll) error {
	if err := l.Usable(); err != nil {
		return err
	}
	err := p.ReadFull(l.conn, buf)
	if err != nil && !isTimeout(err) {
		l.fault = fmt.Errorf("reading %q: %v: %w", l.Name, err, rotator.ErrIO)
		return l.fault
	}
	return err
}

// Drain discards whatever is waiting on the line.
func (l *Link) Drain() {
	if l.Usable() != nil {
		return
	}
	var scratch [64]byte
	for i := 0; i < 16; i++ {
		n, err := readSome(l.conn, scratch[:])
		if n == 0 || err != nil {
			return
		}
	}
}
