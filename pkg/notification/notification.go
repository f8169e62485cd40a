// Package notification listens on the device's notification proxy: a
// long-lived service session that relays named push notifications to
// observers and lets the host post its own.
package notification

import (
	"errors"
	"syscall"
	"time"

	"github.com/apex/log"

	"github.com/devicekit/idevice/pkg/lockdown"
	"github.com/devicekit/idevice/pkg/service"
	"github.com/devicekit/idevice/pkg/status"
)

// ServiceName is the proxy's lockdown service name.
const ServiceName = "com.apple.mobile.notification_proxy"

// maxReadRetries bounds how often an interrupted read is retried before the
// failure surfaces. Trust and pairing failures are never retried.
const maxReadRetries = 3

// Event is one relayed notification.
type Event struct {
	Name string
}

type command struct {
	Command string `plist:"Command"`
	Name    string `plist:"Name,omitempty"`
}

// Client is a session with the notification proxy.
type Client struct {
	svc *service.Client
}

// NewClient starts the proxy service on a Ready lockdown client.
func NewClient(lc *lockdown.Client) (*Client, error) {
	svc, err := lc.StartService(ServiceName, false)
	if err != nil {
		return nil, err
	}
	return &Client{svc: svc}, nil
}

// New wraps an already-started proxy session. Test doubles enter here.
func New(svc *service.Client) *Client {
	return &Client{svc: svc}
}

// Observe registers interest in the given notification names.
func (c *Client) Observe(names ...string) error {
	for _, name := range names {
		if err := c.svc.SendObj(&command{Command: "ObserveNotification", Name: name}); err != nil {
			return err
		}
	}
	return nil
}

// Post sends a notification from the host into the device.
func (c *Client) Post(name string) error {
	return c.svc.SendObj(&command{Command: "PostNotification", Name: name})
}

// NextEvent blocks for the next observed notification, up to timeout. A
// clean timeout returns (nil, nil); a proxy shutdown returns
// ConnectionClosed. Interrupted reads are retried a bounded number of times.
func (c *Client) NextEvent(timeout time.Duration) (*Event, error) {
	c.svc.SetTimeout(timeout)
	retries := 0
	for {
		var msg command
		err := c.svc.RecvObj(&msg)
		if err != nil {
			if status.Is(err, status.Timeout) {
				return nil, nil
			}
			if errors.Is(err, syscall.EINTR) && retries < maxReadRetries {
				retries++
				log.WithField("attempt", retries).Debug("notification: retrying interrupted read")
				continue
			}
			return nil, err
		}
		switch msg.Command {
		case "RelayNotification":
			return &Event{Name: msg.Name}, nil
		case "ProxyDeath":
			return nil, &status.Error{
				Code:    status.ConnectionClosed,
				Op:      "notification: next event",
				Service: ServiceName,
				Detail:  "proxy died",
			}
		default:
			// unknown relay chatter, keep waiting
		}
	}
}

// Drain returns every notification already queued without blocking beyond a
// single short poll per event.
func (c *Client) Drain() ([]Event, error) {
	var events []Event
	for {
		ev, err := c.NextEvent(10 * time.Millisecond)
		if err != nil {
			return events, err
		}
		if ev == nil {
			return events, nil
		}
		events = append(events, *ev)
	}
}

// Close shuts the proxy session down. Idempotent.
func (c *Client) Close() error {
	return c.svc.Close()
}
