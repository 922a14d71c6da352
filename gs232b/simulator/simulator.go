// Package simulator is an in-process GS-232B controller with a crude
// rotator model behind it.
package simulator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// Maximum velocity in degrees/second
	azVel = 6
	elVel = 8
	// Discrete simulation step size
	stepSize = 25 * time.Millisecond
)

type state struct {
	AzPos, ElPos         float64
	CommandAz, CommandEl float64
	Moving               bool
}

type Simulator struct {
	conn  io.ReadWriteCloser
	mu    sync.Mutex
	state state
}

// New returns a simulator and the connection a driver should use to talk to it.
func New() (*Simulator, net.Conn) {
	a, b := net.Pipe()
	return &Simulator{conn: a}, b
}

// Position returns the simulated rotator position.
func (s *Simulator) Position() (az, el float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AzPos, s.state.ElPos
}

// Set places the rotator at az/el with no pending move.
func (s *Simulator) Set(az, el float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state{AzPos: az, ElPos: el, CommandAz: az, CommandEl: el}
}

func (s *Simulator) Run(ctx context.Context) error {
	t := time.NewTicker(stepSize)
	defer t.Stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return s.conn.Close()
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			s.step()
		}
	})
	g.Go(s.reader)
	return g.Wait()
}

func (s *Simulator) reader() error {
	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		reply, err := s.parseInput(input)
		if err != nil {
			log.Printf("parsing %q: %v", input, err)
			continue
		}
		if reply != "" {
			if _, err := io.WriteString(s.conn, reply); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading port: %w", err)
	}
	return io.EOF
}

// parseInput applies one command and returns the reply to send, if any.
func (s *Simulator) parseInput(input string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case input == "C2":
		az := int(math.Round(s.state.AzPos)) % 360
		el := int(math.Round(s.state.ElPos))
		return fmt.Sprintf("AZ=%03d  EL=%03d\r\n", az, el), nil
	case input == "S":
		s.state.CommandAz, s.state.CommandEl = s.state.AzPos, s.state.ElPos
		return "", nil
	case input[0] == 'W':
		parts := strings.Fields(input[1:])
		if len(parts) != 2 {
			return "", fmt.Errorf("bad W command %q", input)
		}
		az, err := strconv.Atoi(parts[0])
		if err != nil {
			return "", err
		}
		el, err := strconv.Atoi(parts[1])
		if err != nil {
			return "", err
		}
		s.state.CommandAz, s.state.CommandEl = float64(az), float64(el)
		return "", nil
	case input[0] == 'M':
		az, err := strconv.Atoi(input[1:])
		if err != nil {
			return "", err
		}
		s.state.CommandAz = float64(az)
		return "", nil
	}
	return "", fmt.Errorf("unknown command %q", input)
}

// servo returns the new position after one step towards t at vel deg/s.
func servo(p, t, vel float64) float64 {
	max := vel * stepSize.Seconds()
	if math.Abs(t-p) <= max {
		return t
	}
	return p + math.Copysign(max, t-p)
}

func (s *Simulator) step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AzPos = servo(s.state.AzPos, s.state.CommandAz, azVel)
	s.state.ElPos = servo(s.state.ElPos, s.state.CommandEl, elVel)
	s.state.Moving = s.state.AzPos != s.state.CommandAz || s.state.ElPos != s.state.CommandEl
}
