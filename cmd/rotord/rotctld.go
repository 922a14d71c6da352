package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"

	"github.com/w1xm/satrotor/rotator"
)

// Hamlib return codes.
const (
	rprtOK       = 0
	rprtEINVAL   = -1
	rprtENIMPL   = -4
	rprtEIO      = -6
	rprtBadParse = -22
)

func (s *Server) ListenRotctld(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing rotctld socket")
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("failed to accept: %v", err)
				}
				continue
			}
			go func() {
				defer conn.Close()
				log.Printf("accepted connection from %v", conn.RemoteAddr())
				s.handleRotctld(conn)
			}()
		}
	}()
	return nil
}

func rprtFor(err error) int {
	switch {
	case err == nil:
		return rprtOK
	case errors.Is(err, rotator.ErrRateLimited):
		// The client resends on its next tracking cycle.
		return rprtOK
	case errors.Is(err, errUnknownCommand):
		return rprtEINVAL
	}
	return rprtEIO
}

func parseFloats(args []string, n int) ([]float64, bool) {
	if len(args) != n {
		return nil, false
	}
	out := make([]float64, n)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (s *Server) handleRotctld(conn io.ReadWriter) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		// Two forms of command: single character, or "+\" followed by command name.
		cmd := scanner.Text()
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Fields(cmd)
			cmd = parts[0][2:]
			args = parts[1:]
			fmt.Fprintf(conn, "%s:\n", cmd)
		} else if cmd[0] == '\\' {
			parts := strings.Fields(cmd)
			cmd = parts[0][1:]
			args = parts[1:]
		} else {
			// Space after command is optional.
			if len(cmd) > 1 {
				args = strings.Fields(cmd[1:])
			}
			cmd = string(cmd[0])
		}
		rprt := rprtENIMPL
		switch cmd {
		case "1", "dump_caps":
			lo, hi := s.azimuthRange()
			fmt.Fprintf(conn, `Model name: satrotor
Mfg name: W1XM
Rot type: Az-El
Min Azimuth: %.2f
Max Azimuth: %.2f
Min Elevation: %.2f
Max Elevation: %.2f
Can set Position: Y
Can get Position: Y
Can Stop: Y
Can Park: Y
Can Reset: N
Can Move: N
Can get Info: Y
`, lo, hi, s.rotor().Config().Limits.ElMin, s.rotor().Config().Limits.ElMax)
			rprt = rprtOK
		case "_", "get_info":
			st := s.Status()
			if extended {
				fmt.Fprintf(conn, "Info: ")
			}
			fmt.Fprintf(conn, "satrotor %s\n", st.Backend)
			rprt = rprtOK
		case "S", "stop":
			extended = true // always print RPRT
			rprt = rprtFor(s.Execute(Command{Command: "stop"}))
		case "K", "park":
			extended = true // always print RPRT
			rprt = rprtFor(s.Execute(Command{Command: "park"}))
		case "P", "set_pos":
			extended = true // always print RPRT
			v, ok := parseFloats(args, 2)
			if !ok {
				rprt = rprtBadParse
				break
			}
			az, el := v[0], v[1]
			if az < 0 {
				az += 360
			}
			rprt = rprtFor(s.Execute(Command{Command: "move", Azimuth: az, Elevation: el}))
		case "p", "get_pos":
			st := s.Status()
			az := st.Azimuth
			if az > 180 {
				az -= 360
			}
			if extended {
				fmt.Fprintf(conn, "Azimuth: %.6f\nElevation: %.6f\n", az, st.Elevation)
			} else {
				fmt.Fprintf(conn, "%.6f\n%.6f\n", az, st.Elevation)
			}
			rprt = rprtOK
		case "q", "Q":
			return
		default:
			log.Printf("unsupported rotctld command %q", cmd)
		}
		if extended || rprt != rprtOK {
			fmt.Fprintf(conn, "RPRT %d\n", rprt)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading rotctld command: %v", err)
	}
}

// azimuthRange is the configured azimuth span as reported by get_pos,
// which folds azimuths past 180 to negative values.
func (s *Server) azimuthRange() (lo, hi float64) {
	l := s.rotor().Config().Limits
	if l.AzMax > 180 {
		return -180, 180
	}
	return l.AzMin, l.AzMax
}
