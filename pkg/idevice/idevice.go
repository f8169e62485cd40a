// Package idevice is the entry point: discover attached devices, connect to
// one by identifier, and open lockdown sessions from it. Discovery opens a
// fresh muxer connection per call and closes it before returning; nothing is
// cached across calls.
package idevice

import (
	"fmt"
	"time"

	"github.com/devicekit/idevice/pkg/lockdown"
	"github.com/devicekit/idevice/pkg/status"
	"github.com/devicekit/idevice/pkg/usbmux"
)

// Transport narrows Connect to one attachment kind.
type Transport int

const (
	TransportAny Transport = iota
	TransportUSB
	TransportNetwork
)

func (t Transport) String() string {
	switch t {
	case TransportUSB:
		return "usb"
	case TransportNetwork:
		return "network"
	}
	return "any"
}

func (t Transport) matches(connectionType string) bool {
	switch t {
	case TransportUSB:
		return connectionType == usbmux.ConnectionTypeUSB
	case TransportNetwork:
		return connectionType == usbmux.ConnectionTypeNetwork
	}
	return true
}

// Device is one discovered device: an immutable snapshot of its muxer
// attachment plus the dial configuration sessions derived from it will use.
// Lockdown clients created from a Device never hold a reference back to it.
type Device struct {
	att     usbmux.DeviceAttachment
	dial    usbmux.Dialer
	timeout time.Duration
}

// Option configures discovery and the sessions derived from its results.
type Option func(*options)

type options struct {
	dial    usbmux.Dialer
	timeout time.Duration
}

// WithDialer routes all muxer traffic through a custom dialer.
func WithDialer(dial usbmux.Dialer) Option {
	return func(o *options) { o.dial = dial }
}

// WithTimeout bounds exchanges with the muxer and derived sessions.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func buildOptions(opts []Option) (*options, error) {
	o := &options{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(o)
	}
	if o.dial == nil {
		dial, err := usbmux.DefaultDialer()
		if err != nil {
			return nil, err
		}
		o.dial = dial
	}
	return o, nil
}

// List enumerates every device the muxer currently sees. A host with no
// devices attached returns an empty slice and no error.
func List(opts ...Option) ([]*Device, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	mux, err := usbmux.NewConnWith(o.dial, o.timeout)
	if err != nil {
		return nil, err
	}
	defer mux.Close()

	attachments, err := mux.ListDevices()
	if err != nil {
		return nil, err
	}
	devices := make([]*Device, 0, len(attachments))
	for _, att := range attachments {
		devices = append(devices, &Device{att: *att, dial: o.dial, timeout: o.timeout})
	}
	return devices, nil
}

// Connect finds one device by UDID, optionally narrowed to a transport.
// No match is DeviceNotFound, never a partial result.
func Connect(udid string, transport Transport, opts ...Option) (*Device, error) {
	devices, err := List(opts...)
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.UDID() != udid {
			continue
		}
		if !transport.matches(dev.att.ConnectionType) {
			continue
		}
		return dev, nil
	}
	return nil, &status.Error{
		Code:   status.DeviceNotFound,
		Op:     "idevice: connect",
		Detail: fmt.Sprintf("%s (%s)", udid, transport),
	}
}

// UDID returns the device's unique identifier.
func (d *Device) UDID() string {
	if d.att.UDID != "" {
		return d.att.UDID
	}
	return d.att.SerialNumber
}

// Transport reports how the device is attached.
func (d *Device) Transport() Transport {
	switch d.att.ConnectionType {
	case usbmux.ConnectionTypeNetwork:
		return TransportNetwork
	default:
		return TransportUSB
	}
}

// DeviceID returns the muxer's volatile numeric handle for this attachment.
func (d *Device) DeviceID() int { return d.att.DeviceID }

// Attachment returns a copy of the raw muxer record.
func (d *Device) Attachment() usbmux.DeviceAttachment { return d.att }

func (d *Device) String() string { return d.att.String() }

// NewLockdownClient opens a lockdown session against this device. The
// returned client stands on its own connections; the Device only seeds its
// identity and dial configuration.
func (d *Device) NewLockdownClient(label string, useEscrowBag bool) (*lockdown.Client, error) {
	return lockdown.NewClient(d.UDID(), label,
		lockdown.WithDialer(d.dial),
		lockdown.WithTimeout(d.timeout),
		lockdown.WithDeviceID(d.att.DeviceID),
		lockdown.WithEscrowBag(useEscrowBag),
	)
}
