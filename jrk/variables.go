package jrk

import (
	"encoding/binary"
	"fmt"
)

// VariablesLen is the size of the block returned by the get-variables
// request.
const VariablesLen = 22

// Variables is the Jrk telemetry block.
type Variables struct {
	Input             uint16
	Target            uint16
	Feedback          uint16
	ScaledFeedback    uint16
	ErrorSum          int16
	DutyCycleTarget   int16
	DutyCycle         int16
	Current           uint8
	PIDPeriodExceeded uint8
	PIDPeriodCount    uint16
	ErrorFlagBits     uint16
	ErrorOccurredBits uint16
}

// DecodeVariables parses the little-endian wire layout:
//
//	0 input, 2 target, 4 feedback, 6 scaledFeedback, 8 errorSum,
//	10 dutyCycleTarget, 12 dutyCycle, 14 current, 15 pidPeriodExceeded,
//	16 pidPeriodCount, 18 errorFlagBits, 20 errorOccurredBits
func DecodeVariables(b []byte) (Variables, error) {
	if len(b) < VariablesLen {
		return Variables{}, fmt.Errorf("short variables block: %d bytes", len(b))
	}
	le := binary.LittleEndian
	return Variables{
		Input:             le.Uint16(b[0:]),
		Target:            le.Uint16(b[2:]),
		Feedback:          le.Uint16(b[4:]),
		ScaledFeedback:    le.Uint16(b[6:]),
		ErrorSum:          int16(le.Uint16(b[8:])),
		DutyCycleTarget:   int16(le.Uint16(b[10:])),
		DutyCycle:         int16(le.Uint16(b[12:])),
		Current:           b[14],
		PIDPeriodExceeded: b[15],
		PIDPeriodCount:    le.Uint16(b[16:]),
		ErrorFlagBits:     le.Uint16(b[18:]),
		ErrorOccurredBits: le.Uint16(b[20:]),
	}, nil
}

// Encode is the inverse of DecodeVariables.
func (v Variables) Encode() []byte {
	b := make([]byte, VariablesLen)
	le := binary.LittleEndian
	le.PutUint16(b[0:], v.Input)
	le.PutUint16(b[2:], v.Target)
	le.PutUint16(b[4:], v.Feedback)
	le.PutUint16(b[6:], v.ScaledFeedback)
	le.PutUint16(b[8:], uint16(v.ErrorSum))
	le.PutUint16(b[10:], uint16(v.DutyCycleTarget))
	le.PutUint16(b[12:], uint16(v.DutyCycle))
	b[14] = v.Current
	b[15] = v.PIDPeriodExceeded
	le.PutUint16(b[16:], v.PIDPeriodCount)
	le.PutUint16(b[18:], v.ErrorFlagBits)
	le.PutUint16(b[20:], v.ErrorOccurredBits)
	return b
}

var errorNames = []string{
	"Awaiting command",
	"No power",
	"Motor driver error",
	"Input invalid",
	"Input disconnect",
	"Feedback disconnect",
	"Maximum current exceeded",
	"Serial signal error",
	"Serial overrun",
	"Serial RX buffer full",
	"Serial CRC error",
	"Serial protocol error",
	"Serial timeout",
}

// ErrorStrings lists the faults set in bits, lowest bit first.
func ErrorStrings(bits uint16) []string {
	var out []string
	for i, name := range errorNames {
		if bits&(1<<uint(i)) != 0 {
			out = append(out, name)
		}
	}
	return out
}

// Flags is the combined error register.
func (v Variables) Flags() uint16 {
	return v.ErrorFlagBits | v.ErrorOccurredBits
}

// Faulted reports faults other than "awaiting command", which only means
// no target has been sent yet.
func (v Variables) Faulted() bool {
	return v.Flags()&^1 != 0
}
