//go:build !linux

package stepper

import "errors"

var errUnsupported = errors.New("stepper pins require Linux")

func OpenParport(dev string) (Pins, error) {
	return nil, errUnsupported
}

func OpenGPIO(chip string, lines []int, busyLine, busyBit int) (Pins, error) {
	return nil, errUnsupported
}
