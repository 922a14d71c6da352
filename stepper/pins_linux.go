//go:build linux

package stepper

import (
	"fmt"
	"unsafe"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
)

// ppdev ioctls from linux/ppdev.h.
const (
	ppClaim   = 0x708b
	ppRelease = 0x708c
	ppWData   = 0x40017086
	ppRStatus = 0x80017081
)

type parport struct {
	fd int
}

// OpenParport claims a ppdev parallel port.
func OpenParport(dev string) (Pins, error) {
	fd, err := unix.Open(dev, unix.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.IoctlSetInt(fd, ppClaim, 0); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("claiming %s: %w", dev, err)
	}
	return &parport{fd: fd}, nil
}

func (p *parport) ioctl(req uintptr, b *byte) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), req, uintptr(unsafe.Pointer(b)))
	if errno != 0 {
		return errno
	}
	return nil
}

func (p *parport) Write(data byte) error {
	return p.ioctl(ppWData, &data)
}

func (p *parport) Status() (byte, error) {
	var b byte
	err := p.ioctl(ppRStatus, &b)
	return b, err
}

func (p *parport) Close() error {
	unix.IoctlSetInt(p.fd, ppRelease, 0)
	return unix.Close(p.fd)
}

type gpioPins struct {
	out     *gpiocdev.Lines
	busy    *gpiocdev.Line
	busyBit int
	values  []int
}

// OpenGPIO requests lines[i] as data bit i and busyLine as the input
// reported in status bit busyBit.
func OpenGPIO(chip string, lines []int, busyLine, busyBit int) (Pins, error) {
	if len(lines) == 0 || len(lines) > 8 {
		return nil, fmt.Errorf("need 1 to 8 GPIO data lines, got %d", len(lines))
	}
	out, err := gpiocdev.RequestLines(chip, lines, gpiocdev.AsOutput(make([]int, len(lines))...))
	if err != nil {
		return nil, fmt.Errorf("requesting output lines on %s: %w", chip, err)
	}
	busy, err := gpiocdev.RequestLine(chip, busyLine, gpiocdev.AsInput)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("requesting busy line on %s: %w", chip, err)
	}
	return &gpioPins{out: out, busy: busy, busyBit: busyBit, values: make([]int, len(lines))}, nil
}

func (g *gpioPins) Write(data byte) error {
	for i := range g.values {
		g.values[i] = int(data>>uint(i)) & 1
	}
	return g.out.SetValues(g.values)
}

func (g *gpioPins) Status() (byte, error) {
	v, err := g.busy.Value()
	if err != nil {
		return 0, err
	}
	return byte(v) << uint(g.busyBit), nil
}

func (g *gpioPins) Close() error {
	g.busy.Close()
	return g.out.Close()
}
