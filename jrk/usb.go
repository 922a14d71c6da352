package jrk

import (
	"fmt"
	"log"
	"time"

	"github.com/google/gousb"
)

// VendorID is Pololu's USB vendor ID.
const VendorID gousb.ID = 0x1ffb

const controlTimeout = 500 * time.Millisecond

// Device is the part of a USB device the driver uses.
type Device interface {
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
	Close() error
}

// OpenFunc opens the device an axis is bound to.
type OpenFunc func(c AxisConfig) (Device, error)

type usbDevice struct {
	ctx *gousb.Context
	dev *gousb.Device
}

func (d *usbDevice) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	return d.dev.Control(rType, request, val, idx, data)
}

func (d *usbDevice) Close() error {
	err := d.dev.Close()
	d.ctx.Close()
	return err
}

// OpenUSB opens the Pololu device matching c.Serial, or the c.Index'th
// one enumerated when no serial number is configured.
func OpenUSB(c AxisConfig) (Device, error) {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == VendorID
	})
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("enumerating USB devices: %w", err)
	}
	var chosen *gousb.Device
	n := 0
	for _, d := range devs {
		if chosen == nil {
			if c.Serial != "" {
				if s, err := d.SerialNumber(); err == nil && s == c.Serial {
					chosen = d
					continue
				}
			} else if n == c.Index {
				chosen = d
				continue
			}
			n++
		}
		d.Close()
	}
	if chosen == nil {
		ctx.Close()
		if c.Serial != "" {
			return nil, fmt.Errorf("no Jrk with serial number %q", c.Serial)
		}
		return nil, fmt.Errorf("no Jrk at index %d (%d found)", c.Index, n)
	}
	chosen.ControlTimeout = controlTimeout
	log.Printf("opened Jrk %s", chosen)
	return &usbDevice{ctx: ctx, dev: chosen}, nil
}

// DeviceInfo describes an attached Jrk.
type DeviceInfo struct {
	Bus, Address int
	Serial       string
	Product      string
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("bus %d addr %d: %s (serial %s)", d.Bus, d.Address, d.Product, d.Serial)
}

// List enumerates attached Pololu devices.
func List() ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == VendorID
	})
	var out []DeviceInfo
	for _, d := range devs {
		info := DeviceInfo{Bus: d.Desc.Bus, Address: d.Desc.Address}
		if s, err := d.SerialNumber(); err == nil {
			info.Serial = s
		}
		if s, err := d.Product(); err == nil {
			info.Product = s
		}
		out = append(out, info)
		d.Close()
	}
	if err != nil && len(out) == 0 {
		return nil, err
	}
	return out, nil
}
