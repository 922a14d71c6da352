// Package power switches rotor motor power through a Modbus relay board.
//
// Coil 0 drives the azimuth motor supply and coil 1 the elevation
// supply. Discrete inputs 0 and 1 read back the contactor state.
package power

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/w1xm/satrotor/internal/modbus"
)

const (
	coilAz = 0
	coilEl = 1
)

type Status struct {
	CommandAzEnabled bool `json:"command_az_enabled"`
	CommandElEnabled bool `json:"command_el_enabled"`

	AzActive bool `json:"az_active"`
	ElActive bool `json:"el_active"`
}

type StatusCallback func(status Status)

// coilClient is the part of a Modbus client the relay uses.
type coilClient interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
}

type Relay struct {
	statusCallback StatusCallback
	mu             sync.Mutex
	client         coilClient
	status         Status
}

// Connect starts polling a relay board on a serial port, or on a
// Modbus/TCP address if port contains a colon-separated host:port.
func Connect(ctx context.Context, port string, baud int, statusCallback StatusCallback) (*Relay, error) {
	mc := &modbus.Client{
		BaudRate:     baud,
		SlaveId:      1,
		PollInterval: 500 * time.Millisecond,
	}
	if isAddress(port) {
		mc.Address = port
	} else {
		mc.Port = port
	}
	r := &Relay{client: mc, statusCallback: statusCallback}
	mc.Poll = r.pollOnce
	return r, mc.Connect(ctx)
}

func isAddress(s string) bool {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i > 0 && s[0] != '/'
		}
	}
	return false
}

func (r *Relay) pollOnce() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	coils, err := r.client.ReadCoils(0, 2)
	if err != nil {
		return err
	}
	inputs, err := r.client.ReadDiscreteInputs(0, 2)
	if err != nil {
		return err
	}
	c := modbus.BytesToBits(coils)
	in := modbus.BytesToBits(inputs)
	r.status = Status{
		CommandAzEnabled: c[coilAz],
		CommandElEnabled: c[coilEl],
		AzActive:         in[0],
		ElActive:         in[1],
	}
	if r.statusCallback != nil {
		r.statusCallback(r.status)
	}
	return nil
}

func (r *Relay) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func writeCoil(c coilClient, coil uint16, on bool) error {
	var v uint16
	if on {
		v = 0xFF00
	}
	_, err := c.WriteSingleCoil(coil, v)
	return err
}

// SetEnabled switches both motor supplies.
func (r *Relay) SetEnabled(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := writeCoil(r.client, coilAz, enabled); err != nil {
		return fmt.Errorf("azimuth relay: %w", err)
	}
	if err := writeCoil(r.client, coilEl, enabled); err != nil {
		return fmt.Errorf("elevation relay: %w", err)
	}
	return nil
}
