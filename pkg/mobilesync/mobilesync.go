// Package mobilesync runs sync sessions over the DeviceLink envelope
// protocol: a versioned handshake, then plist messages wrapped in
// DLMessageProcessMessage arrays. Sync rounds are anchored so both sides can
// resume from the last agreed point.
package mobilesync

import (
	"github.com/devicekit/idevice/pkg/lockdown"
	"github.com/devicekit/idevice/pkg/plistval"
	"github.com/devicekit/idevice/pkg/service"
	"github.com/devicekit/idevice/pkg/status"
)

const ServiceName = "com.apple.mobilesync"

// emptyParameter fills unused slots in sync message arrays.
const emptyParameter = "___EmptyParameterString___"

// SyncType selects how much state a sync round transfers.
type SyncType string

const (
	// SyncTypeFast transfers only changes since the last anchors.
	SyncTypeFast SyncType = "SDSyncTypeFast"
	// SyncTypeSlow replays everything for one data class.
	SyncTypeSlow SyncType = "SDSyncTypeSlow"
	// SyncTypeReset clears device state for the data class first.
	SyncTypeReset SyncType = "SDSyncTypeReset"
)

// Anchors is the pair of resume tokens exchanged each round.
type Anchors struct {
	Device   string
	Computer string
}

// Client is one mobile sync session.
type Client struct {
	svc   *service.Client
	ready bool
}

// NewClient starts the sync service on a Ready lockdown client and performs
// the DeviceLink handshake.
func NewClient(lc *lockdown.Client) (*Client, error) {
	svc, err := lc.StartService(ServiceName, false)
	if err != nil {
		return nil, err
	}
	c := &Client{svc: svc}
	if err := c.handshake(); err != nil {
		_ = svc.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an already-started sync session without handshaking. Test
// doubles and callers that manage DeviceLink themselves enter here.
func New(svc *service.Client) *Client {
	return &Client{svc: svc}
}

// Handshake performs the DeviceLink version exchange.
func (c *Client) Handshake() error {
	return c.handshake()
}

func (c *Client) handshake() error {
	var exchange []any
	if err := c.svc.RecvObj(&exchange); err != nil {
		return err
	}
	if len(exchange) < 2 || exchange[0] != "DLMessageVersionExchange" {
		return c.badMessage("version exchange", exchange)
	}
	reply := []any{"DLMessageVersionExchange", "DLVersionsOk", exchange[1]}
	if err := c.svc.SendObj(reply); err != nil {
		return err
	}
	var ready []any
	if err := c.svc.RecvObj(&ready); err != nil {
		return err
	}
	if len(ready) < 1 || ready[0] != "DLMessageDeviceReady" {
		return c.badMessage("device ready", ready)
	}
	c.ready = true
	return nil
}

// Send wraps a message in the DeviceLink envelope.
func (c *Client) Send(msg plistval.Value) error {
	if err := c.requireReady("send"); err != nil {
		return err
	}
	return c.svc.SendObj([]any{"DLMessageProcessMessage", plistval.ToAny(msg)})
}

// Recv unwraps the next DeviceLink message into an owned value tree.
func (c *Client) Recv() (plistval.Value, error) {
	if err := c.requireReady("recv"); err != nil {
		return nil, err
	}
	var envelope []any
	if err := c.svc.RecvObj(&envelope); err != nil {
		return nil, err
	}
	if len(envelope) < 2 {
		return nil, c.badMessage("process message", envelope)
	}
	if envelope[0] == "DLMessageDisconnect" {
		return nil, &status.Error{
			Code:    status.ConnectionClosed,
			Op:      "mobilesync: recv",
			Service: ServiceName,
			Detail:  "device disconnected",
		}
	}
	return plistval.FromAny(envelope[1])
}

// Start opens a sync round for one data class. The device answers with the
// sync type it is willing to run and its class version.
func (c *Client) Start(dataClass string, anchors Anchors, computerClassVersion uint64, syncType SyncType) (SyncType, uint64, error) {
	if err := c.requireReady("start"); err != nil {
		return "", 0, err
	}
	deviceAnchor := anchors.Device
	if deviceAnchor == "" {
		deviceAnchor = emptyParameter
	}
	msg := []any{
		"SDMessageSyncDataClassWithDevice",
		dataClass,
		deviceAnchor,
		anchors.Computer,
		computerClassVersion,
		emptyParameter,
	}
	if err := c.svc.SendObj(msg); err != nil {
		return "", 0, err
	}
	var resp []any
	if err := c.svc.RecvObj(&resp); err != nil {
		return "", 0, err
	}
	if len(resp) < 1 {
		return "", 0, c.badMessage("sync start", resp)
	}
	if resp[0] == "SDMessageRefuseToSyncDataClassWithComputer" {
		detail := dataClass
		if len(resp) > 2 {
			if reason, ok := resp[2].(string); ok {
				detail = reason
			}
		}
		return "", 0, &status.Error{
			Code:    status.InvalidConfiguration,
			Op:      "mobilesync: start",
			Service: ServiceName,
			Detail:  detail,
		}
	}
	granted := syncType
	if len(resp) > 4 {
		if s, ok := resp[4].(string); ok {
			granted = SyncType(s)
		}
	}
	var deviceVersion uint64
	if len(resp) > 5 {
		switch v := resp[5].(type) {
		case uint64:
			deviceVersion = v
		case int64:
			deviceVersion = uint64(v)
		}
	}
	return granted, deviceVersion, nil
}

// Cancel aborts the current sync round, telling the device why.
func (c *Client) Cancel(reason string) error {
	if err := c.requireReady("cancel"); err != nil {
		return err
	}
	return c.svc.SendObj([]any{"SDMessageCancelSession", reason})
}

// Finish closes the current sync round cleanly.
func (c *Client) Finish() error {
	if err := c.requireReady("finish"); err != nil {
		return err
	}
	if err := c.svc.SendObj([]any{"SDMessageFinishSessionOnDevice"}); err != nil {
		return err
	}
	var resp []any
	if err := c.svc.RecvObj(&resp); err != nil {
		return err
	}
	if len(resp) < 1 || resp[0] != "SDMessageDeviceFinishedSession" {
		return c.badMessage("finish", resp)
	}
	return nil
}

// Close ends the session. Idempotent.
func (c *Client) Close() error {
	return c.svc.Close()
}

func (c *Client) requireReady(op string) error {
	if !c.ready {
		return &status.Error{
			Code:    status.InvalidConfiguration,
			Op:      "mobilesync: " + op,
			Service: ServiceName,
			Detail:  "devicelink handshake not performed",
		}
	}
	return nil
}

func (c *Client) badMessage(stage string, msg []any) error {
	return &status.Error{
		Code:    status.BadHeader,
		Op:      "mobilesync: " + stage,
		Service: ServiceName,
		Detail:  "unexpected devicelink message",
	}
}
