// Package heartbeat answers the device's Marco/Polo keepalive so long-lived
// network sessions are not dropped.
package heartbeat

import (
	"github.com/devicekit/idevice/pkg/lockdown"
	"github.com/devicekit/idevice/pkg/service"
)

const ServiceName = "com.apple.mobile.heartbeat"

// Response is the device's answer to one beat.
type Response struct {
	Command            string `plist:"Command,omitempty"`
	Interval           uint64 `plist:"Interval,omitempty"`
	SupportsSleepyTime bool   `plist:"SupportsSleepyTime,omitempty"`
}

// Client is a heartbeat session.
type Client struct {
	svc *service.Client
}

// NewClient starts the heartbeat service on a Ready lockdown client.
func NewClient(lc *lockdown.Client) (*Client, error) {
	svc, err := lc.StartService(ServiceName, false)
	if err != nil {
		return nil, err
	}
	return &Client{svc: svc}, nil
}

// New wraps an already-started heartbeat session.
func New(svc *service.Client) *Client {
	return &Client{svc: svc}
}

// Beat answers one keepalive round.
func (c *Client) Beat() (*Response, error) {
	var resp Response
	if err := c.svc.RequestObj(&map[string]any{"Command": "Polo"}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Close ends the session. Idempotent.
func (c *Client) Close() error {
	return c.svc.Close()
}
