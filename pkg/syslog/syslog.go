// Package syslog relays the device's raw system log stream.
package syslog

import (
	"io"
	"time"

	"github.com/devicekit/idevice/pkg/lockdown"
	"github.com/devicekit/idevice/pkg/status"
)

const ServiceName = "com.apple.syslog_relay"

// Relay starts the relay service and returns the raw log stream. Closing
// the reader closes the service connection.
func Relay(lc *lockdown.Client) (io.ReadCloser, error) {
	svc, err := lc.StartService(ServiceName, false)
	if err != nil {
		return nil, err
	}
	if err := svc.SendObj("watch"); err != nil {
		_ = svc.Close()
		return nil, err
	}
	// The log stream is open-ended; clear the request deadline armed by the
	// trigger send before handing the stream over.
	stream := svc.Conn()
	if err := stream.SetDeadline(time.Time{}); err != nil {
		_ = svc.Close()
		return nil, status.Wrap(status.ConnectionClosed, "syslog: clear deadline", err)
	}
	return stream, nil
}
