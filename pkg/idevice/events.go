package idevice

import (
	"github.com/apex/log"

	"github.com/devicekit/idevice/pkg/status"
	"github.com/devicekit/idevice/pkg/usbmux"
)

// Event is one attach/detach/pair notification for a device.
type Event struct {
	Type     usbmux.EventType
	UDID     string
	DeviceID int
}

// Subscribe streams device events to fn from a dedicated muxer connection.
// udidFilter, when non-empty, drops events for other devices. fn runs on the
// subscription's own goroutine; the returned stop function ends the stream
// and is safe to call once the subscription has already died.
func Subscribe(fn func(Event), udidFilter string, opts ...Option) (stop func(), err error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	mux, err := usbmux.NewConnWith(o.dial, o.timeout)
	if err != nil {
		return nil, err
	}
	if err := mux.Listen(); err != nil {
		_ = mux.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// the muxer only sends UDIDs on attach; remember them so detach
		// events can be filtered too
		udids := make(map[int]string)
		for {
			ev, err := mux.ReadEvent(0)
			if err != nil {
				if !status.Is(err, status.ConnectionClosed) {
					log.WithError(err).Debug("idevice: event stream ended")
				}
				return
			}
			var udid string
			if ev.Properties != nil {
				udid = ev.Properties.UDID
				if udid == "" {
					udid = ev.Properties.SerialNumber
				}
			}
			switch ev.Type {
			case usbmux.EventAttached:
				udids[ev.DeviceID] = udid
			case usbmux.EventDetached:
				udid = udids[ev.DeviceID]
				delete(udids, ev.DeviceID)
			default:
				udid = udids[ev.DeviceID]
			}
			if udidFilter != "" && udid != udidFilter {
				continue
			}
			fn(Event{Type: ev.Type, UDID: udid, DeviceID: ev.DeviceID})
		}
	}()

	return func() {
		_ = mux.Close()
		<-done
	}, nil
}
