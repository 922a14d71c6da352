package serialport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/w1xm/satrotor/rotator"
)

// Poll is a bounded busy-poll: up to Attempts reads, Delay apart.
type Poll struct {
	Attempts int
	Delay    time.Duration
}

var errShort = errors.New("short read")

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// readSome reads whatever is available. An empty line is (0, nil).
func readSome(r io.Reader, buf []byte) (int, error) {
	if d, ok := r.(deadliner); ok {
		d.SetReadDeadline(time.Now().Add(time.Millisecond))
	}
	n, err := r.Read(buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, os.ErrDeadlineExceeded):
		err = nil
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			err = nil
		}
	}
	return n, err
}

// ReadFull reads exactly len(buf) bytes from r. It returns an error
// wrapping rotator.ErrTimeout if the budget runs out, or the read error
// itself if the channel fails.
func (p Poll) ReadFull(r io.Reader, buf []byte) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	got := 0
	var ioErr error
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1))
	err := backoff.Retry(func() error {
		n, err := readSome(r, buf[got:])
		got += n
		if err != nil {
			ioErr = err
			return nil
		}
		if got < len(buf) {
			return errShort
		}
		return nil
	}, b)
	if ioErr != nil {
		return ioErr
	}
	if err != nil {
		return fmt.Errorf("got %d of %d bytes after %d attempts: %w", got, len(buf), attempts, rotator.ErrTimeout)
	}
	return nil
}

func isTimeout(err error) bool {
	return errors.Is(err, rotator.ErrTimeout)
}
