package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/w1xm/satrotor/jrk"
	"github.com/w1xm/satrotor/power"
	"github.com/w1xm/satrotor/rig"
	"github.com/w1xm/satrotor/rotator"
	"github.com/w1xm/satrotor/rotor"
	"github.com/w1xm/satrotor/stepper"
)

type Status struct {
	rotor.Status
	InView bool          `json:"in_view"`
	Power  *power.Status `json:"power,omitempty"`
}

type Server struct {
	rig   *rig.Rig
	power *power.Relay

	mu           sync.Mutex
	cancelWobble context.CancelFunc

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     Status
	lastError  string

	// listeners are called with every new status.
	listeners []func(Status)
}

func NewServer(r *rig.Rig, p *power.Relay) *Server {
	s := &Server{rig: r, power: p}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

func (s *Server) rotor() *rotor.Controller { return s.rig.Rotor }

// OnStatus registers f to receive status updates. It must be called
// before Poll starts.
func (s *Server) OnStatus(f func(Status)) {
	s.listeners = append(s.listeners, f)
}

func (s *Server) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Poll refreshes the position from hardware every interval and
// publishes the result.
func (s *Server) Poll(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s.pollOnce()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Server) pollOnce() {
	c := s.rotor()
	if !c.Active().IsOpen() {
		if err := c.Open(); err != nil {
			s.statusCallback()
			return
		}
	}
	// Errors are reported through the status error string. A link fault
	// latches until the link is reopened, which the next poll does.
	if err := c.ReadPosition(); errors.Is(err, rotator.ErrIO) {
		log.Printf("closing %v after link failure", c.ActiveKind())
		if err := c.Close(); err != nil {
			log.Printf("closing %v: %v", c.ActiveKind(), err)
		}
	}
	s.statusCallback()
}

func (s *Server) statusCallback() {
	s.mu.Lock()
	st := Status{Status: s.rotor().Status(), InView: s.rig.InView()}
	s.mu.Unlock()
	if s.power != nil {
		ps := s.power.Status()
		st.Power = &ps
	}

	s.statusMu.Lock()
	if st.Error != s.lastError {
		if st.Error != "" {
			log.Print(st.Error)
		}
		s.lastError = st.Error
	}
	s.status = st
	s.statusCond.Broadcast()
	s.statusMu.Unlock()

	for _, f := range s.listeners {
		f(st)
	}
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(s.Status())
	if err != nil {
		log.Print(err)
		return
	}
	w.Write(data)
}

type Command struct {
	Command   string  `json:"command"`
	Azimuth   float64 `json:"azimuth"`
	Elevation float64 `json:"elevation"`
	Backend   string  `json:"backend"`
	Enabled   bool    `json:"enabled"`
}

// Execute runs one command against the rig.
func (s *Server) Execute(msg Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.rotor()
	var err error
	switch msg.Command {
	case "move":
		s.stopWobble()
		err = c.MoveTo(msg.Azimuth, msg.Elevation)
	case "track":
		err = s.rig.Point(msg.Azimuth, msg.Elevation)
	case "move_azimuth":
		s.stopWobble()
		err = c.MoveToAzimuth(msg.Azimuth)
	case "move_elevation":
		s.stopWobble()
		err = c.MoveToElevation(msg.Elevation)
	case "stop":
		s.stopWobble()
		err = c.Stop()
	case "park":
		s.stopWobble()
		err = c.Park()
	case "enable":
		err = c.Enable(msg.Enabled)
	case "wobble":
		s.startWobble()
	case "set_backend":
		var k rotator.Kind
		if k, err = rotator.ParseKind(msg.Backend); err == nil {
			s.stopWobble()
			err = c.SetActive(k)
		}
	case "clear_errors":
		switch b := c.Active().(type) {
		case *jrk.Rotator:
			err = b.ClearErrors()
		case *stepper.Rotator:
			b.ClearFault()
		}
	default:
		err = errUnknownCommand
	}
	commandsTotal.WithLabelValues(msg.Command, result(err)).Inc()
	if err != nil {
		log.Printf("%s: %v", msg.Command, err)
	}
	return err
}

// startWobble runs a scan in the background. s.mu must be held.
func (s *Server) startWobble() {
	s.stopWobble()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelWobble = cancel
	go func() {
		if err := s.rotor().Wobble(ctx); err != nil && err != context.Canceled {
			log.Printf("wobble: %v", err)
		}
	}()
}

// stopWobble cancels a running scan. s.mu must be held.
func (s *Server) stopWobble() {
	if s.cancelWobble != nil {
		s.cancelWobble()
		s.cancelWobble = nil
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, cancel := context.WithCancel(ctx)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	// Read and process incoming messages
	go func() {
		defer cancel()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			s.Execute(msg)
			s.statusCallback()
		}
	}()

	send := func(status Status) error {
		data, err := json.Marshal(status)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	if err := send(s.Status()); err != nil {
		log.Print(err)
		return
	}
	for ctx.Err() == nil {
		s.statusMu.RLock()
		s.statusCond.Wait()
		status := s.status
		s.statusMu.RUnlock()
		if err := send(status); err != nil {
			log.Print(err)
			return
		}
	}
}
