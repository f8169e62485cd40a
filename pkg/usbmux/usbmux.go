// Package usbmux speaks the muxer daemon's plist-framed control protocol:
// device enumeration, pair-record storage, attach/detach events, and opening
// tunneled connections to device ports. Each Conn exclusively owns one
// daemon socket; handing a tunneled stream to a caller is a move, after
// which the Conn is spent.
package usbmux

import (
	"encoding/binary"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/blacktop/go-plist"

	"github.com/devicekit/idevice/pkg/status"
)

const (
	ProgName            = "idevice"
	BundleID            = "dev.devicekit.idevice"
	ClientVersionString = "idevice-usbmux-1.0.0"

	libusbmuxVersion = 3
)

// Header frames every daemon message. Little-endian on the wire; message
// type 8 means a plist payload follows.
type Header struct {
	Length      uint32
	Version     uint32
	MessageType uint32
	Tag         uint32
}

var headerSize = uint32(binary.Size(Header{}))

const plistMessageType = 8

// maxMessageLen rejects absurd lengths before allocating. The daemon's real
// messages are a few KB.
const maxMessageLen = 16 << 20

// Conn is one control connection to the muxer daemon. Requests are
// single-owner; Close alone may be called from another goroutine to abort a
// blocked event stream.
type Conn struct {
	conn      net.Conn
	tag       uint32
	ioTimeout time.Duration
	detached  bool
	closed    atomic.Bool
}

// NewConn dials the daemon using the environment configuration.
func NewConn() (*Conn, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewConnWith(cfg.dialer(), cfg.IOTimeout)
}

// NewConnWith dials the daemon through a caller-supplied dialer. Test
// doubles inject in-memory peers here.
func NewConnWith(dial Dialer, ioTimeout time.Duration) (*Conn, error) {
	conn, err := dial()
	if err != nil {
		return nil, status.Wrap(status.MuxerError, "usbmux: dial daemon", err)
	}
	return &Conn{conn: conn, ioTimeout: ioTimeout}, nil
}

// Close releases the daemon socket. Safe to call more than once, and a
// no-op after the socket has been moved out by Dial.
func (c *Conn) Close() error {
	if c.detached || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// BaseRequest carries the fields every daemon request starts with. Request
// structs embed it; it must stay exported so the plist codec flattens the
// embedded fields onto the wire.
type BaseRequest struct {
	MessageType         string
	BundleID            string
	ProgName            string
	ClientVersionString string
	LibUSBMuxVersion    uint32 `plist:"kLibUSBMuxVersion"`
}

func newBaseRequest(messageType string) BaseRequest {
	return BaseRequest{
		MessageType:         messageType,
		BundleID:            BundleID,
		ProgName:            ProgName,
		ClientVersionString: ClientVersionString,
		LibUSBMuxVersion:    libusbmuxVersion,
	}
}

type resultResponse struct {
	MessageType string
	Number      int
}

// Request sends req and decodes the next daemon message into resp.
func (c *Conn) Request(req, resp any) error {
	if err := c.Send(req); err != nil {
		return err
	}
	return c.Recv(resp)
}

// Send marshals msg as an XML plist and writes it with a framing header.
func (c *Conn) Send(msg any) error {
	if c.detached || c.closed.Load() {
		return status.New(status.InvalidConfiguration, "usbmux: send on spent conn")
	}
	data, err := plist.Marshal(msg, plist.XMLFormat)
	if err != nil {
		return status.Wrap(status.InvalidArgument, "usbmux: marshal request", err)
	}
	if err := c.deadline(); err != nil {
		return err
	}
	hdr := Header{
		Length:      headerSize + uint32(len(data)),
		Version:     1,
		MessageType: plistMessageType,
		Tag:         atomic.AddUint32(&c.tag, 1),
	}
	if err := binary.Write(c.conn, binary.LittleEndian, hdr); err != nil {
		return status.FromTransport(err, "usbmux: write header", status.MuxerError)
	}
	if _, err := c.conn.Write(data); err != nil {
		return status.FromTransport(err, "usbmux: write payload", status.MuxerError)
	}
	return nil
}

// Recv reads one framed daemon message into msg.
func (c *Conn) Recv(msg any) error {
	data, err := c.recvPayload()
	if err != nil {
		return err
	}
	if _, err := plist.Unmarshal(data, msg); err != nil {
		return status.Wrap(status.NotEnoughData, "usbmux: decode response", err)
	}
	return nil
}

func (c *Conn) recvPayload() ([]byte, error) {
	if c.detached || c.closed.Load() {
		return nil, status.New(status.InvalidConfiguration, "usbmux: recv on spent conn")
	}
	if err := c.deadline(); err != nil {
		return nil, err
	}
	var hdr Header
	if err := binary.Read(c.conn, binary.LittleEndian, &hdr); err != nil {
		return nil, status.FromTransport(err, "usbmux: read header", status.MuxerError)
	}
	if hdr.Length < headerSize || hdr.Length-headerSize > maxMessageLen {
		return nil, &status.Error{
			Code:   status.BadHeader,
			Op:     "usbmux: read header",
			Native: int(hdr.Length),
		}
	}
	payload := make([]byte, hdr.Length-headerSize)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, status.FromTransport(err, "usbmux: read payload", status.NotEnoughData)
	}
	return payload, nil
}

func (c *Conn) deadline() error {
	var t time.Time
	if c.ioTimeout > 0 {
		t = time.Now().Add(c.ioTimeout)
	}
	if err := c.conn.SetDeadline(t); err != nil {
		return status.Wrap(status.MuxerError, "usbmux: set deadline", err)
	}
	return nil
}

type connectRequest struct {
	BaseRequest
	DeviceID   uint32
	PortNumber uint16
}

// Dial asks the daemon to tunnel this connection to a TCP port on the
// device. On success the socket stops being a control connection: ownership
// of the raw stream moves to the returned net.Conn and the Conn is spent.
func (c *Conn) Dial(deviceID, port int) (net.Conn, error) {
	req := &connectRequest{
		BaseRequest: newBaseRequest("Connect"),
		DeviceID:    uint32(deviceID),
		PortNumber:  htons(uint16(port)),
	}
	var resp resultResponse
	if err := c.Request(req, &resp); err != nil {
		return nil, err
	}
	if err := status.FromMuxReply(resp.Number, "usbmux: connect to device port"); err != nil {
		return nil, err
	}
	// clear the request deadline before handing the stream over
	if err := c.conn.SetDeadline(time.Time{}); err != nil {
		return nil, status.Wrap(status.MuxerError, "usbmux: clear deadline", err)
	}
	c.detached = true
	return c.conn, nil
}

// htons converts a port to the network byte order the daemon expects.
func htons(v uint16) uint16 {
	return (v << 8 & 0xFF00) | (v >> 8 & 0x00FF)
}
