package usbmux

import (
	"time"

	"github.com/devicekit/idevice/pkg/status"
)

// EventType distinguishes attach/detach push messages.
type EventType int

const (
	EventAttached EventType = iota + 1
	EventDetached
	EventPaired
)

func (t EventType) String() string {
	switch t {
	case EventAttached:
		return "attached"
	case EventDetached:
		return "detached"
	case EventPaired:
		return "paired"
	}
	return "unknown"
}

// Event is one device attach/detach notification from the daemon.
type Event struct {
	Type       EventType
	DeviceID   int
	Properties *DeviceAttachment
}

type listenRequest struct {
	BaseRequest
}

// Listen switches the connection into event-streaming mode. After a
// successful Listen the conn only delivers events via ReadEvent; regular
// requests are no longer answered.
func (c *Conn) Listen() error {
	req := &listenRequest{newBaseRequest("Listen")}
	var resp resultResponse
	if err := c.Request(req, &resp); err != nil {
		return err
	}
	return status.FromMuxReply(resp.Number, "usbmux: listen")
}

type eventMessage struct {
	MessageType string
	DeviceID    int
	Properties  *DeviceAttachment
}

// ReadEvent blocks for the next attach/detach message, up to timeout. Zero
// timeout blocks indefinitely.
func (c *Conn) ReadEvent(timeout time.Duration) (*Event, error) {
	saved := c.ioTimeout
	c.ioTimeout = timeout
	defer func() { c.ioTimeout = saved }()

	for {
		var msg eventMessage
		if err := c.Recv(&msg); err != nil {
			return nil, err
		}
		switch msg.MessageType {
		case "Attached":
			return &Event{Type: EventAttached, DeviceID: msg.DeviceID, Properties: msg.Properties}, nil
		case "Detached":
			return &Event{Type: EventDetached, DeviceID: msg.DeviceID}, nil
		case "Paired":
			return &Event{Type: EventPaired, DeviceID: msg.DeviceID}, nil
		default:
			// the daemon may interleave unrelated messages; skip them
		}
	}
}
