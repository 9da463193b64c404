// Package usbcap records the raw byte stream a sniffer delivers over a USB
// bulk IN endpoint.
package usbcap

import (
	"context"
	"fmt"

	"github.com/google/gousb"
)

// DefaultPacketSize is used when the endpoint descriptor reports none.
const DefaultPacketSize = 512

// Endpoint is a readable bulk IN endpoint. *gousb.InEndpoint implements it.
type Endpoint interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

// Device is an opened sniffer.
type Device struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	ep   *gousb.InEndpoint

	packetSize int
}

// Open finds the device with the given IDs and claims its bulk IN endpoint.
func Open(vid, pid uint16) (*Device, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usbcap: open %04x:%04x: %w", vid, pid, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("usbcap: device %04x:%04x not found", vid, pid)
	}

	// Not supported on every platform.
	_ = dev.SetAutoDetach(true)

	d := &Device{ctx: ctx, dev: dev, packetSize: DefaultPacketSize}
	if err := d.claim(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// claim picks the vendor-specific interface, falling back to interface 0.
func (d *Device) claim() error {
	cfg, err := d.dev.Config(1)
	if err != nil {
		return fmt.Errorf("usbcap: get config: %w", err)
	}
	d.cfg = cfg

	num := 0
	for _, intf := range cfg.Desc.Interfaces {
		if len(intf.AltSettings) > 0 && intf.AltSettings[0].Class == gousb.ClassVendorSpec {
			num = intf.Number
			break
		}
	}

	intf, err := cfg.Interface(num, 0)
	if err != nil {
		return fmt.Errorf("usbcap: claim interface %d: %w", num, err)
	}
	d.intf = intf

	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk || ep.Direction != gousb.EndpointDirectionIn {
			continue
		}
		in, err := intf.InEndpoint(ep.Number)
		if err != nil {
			return fmt.Errorf("usbcap: open IN endpoint %d: %w", ep.Number, err)
		}
		d.ep = in
		if ep.MaxPacketSize > 0 {
			d.packetSize = ep.MaxPacketSize
		}
		return nil
	}
	return fmt.Errorf("usbcap: bulk IN endpoint not found on interface %d", num)
}

// Endpoint returns the bulk IN endpoint.
func (d *Device) Endpoint() Endpoint { return d.ep }

// PacketSize returns the endpoint's maximum packet size.
func (d *Device) PacketSize() int { return d.packetSize }

// Close releases everything Open acquired.
func (d *Device) Close() error {
	if d.intf != nil {
		d.intf.Close()
		d.intf = nil
	}
	if d.cfg != nil {
		d.cfg.Close()
		d.cfg = nil
	}
	if d.dev != nil {
		d.dev.Close()
		d.dev = nil
	}
	if d.ctx != nil {
		d.ctx.Close()
		d.ctx = nil
	}
	return nil
}
