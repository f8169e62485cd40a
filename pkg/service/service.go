// Package service is a typed session with one named device service. A
// Client owns its connection outright from construction on: the lockdown
// client that started the service keeps no claim on it, so tearing down the
// lockdown session never touches streams already handed over.
package service

import (
	"crypto/tls"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"

	"github.com/blacktop/go-plist"

	"github.com/devicekit/idevice/pkg/plistval"
	"github.com/devicekit/idevice/pkg/status"
	"github.com/devicekit/idevice/pkg/usbmux"
)

// maxFrameLen rejects length prefixes no real service message reaches.
const maxFrameLen = 64 << 20

// Client is a single-owner session bound to one service connection. Not
// internally synchronized: share across goroutines only with external
// locking, or give each goroutine its own Client.
type Client struct {
	conn    net.Conn
	tlsConn *tls.Conn

	name string
	port int
	udid string

	pair    *usbmux.PairRecord
	timeout time.Duration
	closed  bool
}

// Option configures a Client at construction.
type Option func(*Client)

// WithTimeout sets the default deadline for sends and receives. Zero means
// block indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithPairRecord supplies the trust material EnableSSL needs.
func WithPairRecord(pair *usbmux.PairRecord) Option {
	return func(c *Client) { c.pair = pair }
}

// WithDiagnostics records the origin service name, port and device for error
// messages. Purely informational.
func WithDiagnostics(name string, port int, udid string) Option {
	return func(c *Client) {
		c.name = name
		c.port = port
		c.udid = udid
	}
}

// NewClient wraps an established service connection. Ownership of conn
// transfers to the Client; the caller must not use it afterwards.
func NewClient(conn net.Conn, opts ...Option) *Client {
	c := &Client{conn: conn}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the service name this client was started for, if known.
func (c *Client) Name() string { return c.name }

// Port returns the device port the service was granted on, if known.
func (c *Client) Port() int { return c.port }

// UDID returns the device identifier this client talks to, if known.
func (c *Client) UDID() string { return c.udid }

// SetTimeout changes the default send/receive deadline.
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

// Conn returns the active stream, encrypted when SSL has been enabled.
func (c *Client) Conn() net.Conn {
	if c.tlsConn != nil {
		return c.tlsConn
	}
	return c.conn
}

// EnableSSL upgrades the connection in place using the pair record's host
// identity. Subsequent sends and receives are transparently encrypted.
func (c *Client) EnableSSL() error {
	if c.closed {
		return c.errorf(status.InvalidConfiguration, "enable ssl on closed client")
	}
	if c.pair == nil {
		return c.errorf(status.SSLNeeded, "enable ssl without pair record")
	}
	cert, err := tls.X509KeyPair(c.pair.HostCertificate, c.pair.HostPrivateKey)
	if err != nil {
		return &status.Error{Code: status.SSLError, Op: "service: load host identity", Service: c.name, Err: err}
	}
	tlsConn := tls.Client(c.conn, &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS10,
	})
	if err := c.deadline(); err != nil {
		return err
	}
	if err := tlsConn.Handshake(); err != nil {
		return &status.Error{Code: status.SSLError, Op: "service: tls handshake", Service: c.name, Err: err}
	}
	c.tlsConn = tlsConn
	return nil
}

// Send encodes a value tree and writes it as one length-prefixed frame.
func (c *Client) Send(v plistval.Value) error {
	data, err := plistval.Marshal(v, plistval.XMLFormat)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// Recv blocks for the next frame and decodes it into an owned value tree.
func (c *Client) Recv() (plistval.Value, error) {
	data, err := c.RecvRaw(maxFrameLen)
	if err != nil {
		return nil, err
	}
	return plistval.Unmarshal(data)
}

// Request sends a value and returns the reply.
func (c *Client) Request(v plistval.Value) (plistval.Value, error) {
	if err := c.Send(v); err != nil {
		return nil, err
	}
	return c.Recv()
}

// SendObj marshals an arbitrary request struct. Typed service packages use
// this for their wire structs.
func (c *Client) SendObj(req any) error {
	data, err := plist.Marshal(req, plist.XMLFormat)
	if err != nil {
		return c.wrap(status.InvalidArgument, "marshal request", err)
	}
	return c.SendRaw(data)
}

// RecvObj decodes the next frame into resp.
func (c *Client) RecvObj(resp any) error {
	data, err := c.RecvRaw(maxFrameLen)
	if err != nil {
		return err
	}
	if _, err := plist.Unmarshal(data, resp); err != nil {
		return c.wrap(status.NotEnoughData, "decode response", err)
	}
	return nil
}

// RequestObj sends req and decodes the reply into resp.
func (c *Client) RequestObj(req, resp any) error {
	if err := c.SendObj(req); err != nil {
		return err
	}
	return c.RecvObj(resp)
}

// SendRaw writes one length-prefixed frame.
func (c *Client) SendRaw(data []byte) error {
	if c.closed {
		return c.errorf(status.InvalidConfiguration, "send on closed client")
	}
	if err := c.deadline(); err != nil {
		return err
	}
	if err := binary.Write(c.Conn(), binary.BigEndian, uint32(len(data))); err != nil {
		return c.transport("write frame header", err)
	}
	if _, err := c.Conn().Write(data); err != nil {
		return c.transport("write frame", err)
	}
	return nil
}

// RecvRaw reads one length-prefixed frame of at most maxLen bytes. Frames
// the peer declares beyond maxLen fail with NotEnoughSpace; zero-length or
// absurd prefixes fail with BadHeader.
func (c *Client) RecvRaw(maxLen int) ([]byte, error) {
	if c.closed {
		return nil, c.errorf(status.InvalidConfiguration, "recv on closed client")
	}
	if err := c.deadline(); err != nil {
		return nil, err
	}
	var size uint32
	if err := binary.Read(c.Conn(), binary.BigEndian, &size); err != nil {
		return nil, c.transport("read frame header", err)
	}
	if size == 0 || size > maxFrameLen {
		return nil, &status.Error{Code: status.BadHeader, Op: "service: read frame header", Service: c.name, Native: int(size)}
	}
	if int(size) > maxLen {
		return nil, &status.Error{Code: status.NotEnoughSpace, Op: "service: read frame", Service: c.name, Native: int(size)}
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(c.Conn(), data); err != nil {
		return nil, c.transport("read frame", err)
	}
	return data, nil
}

// Close shuts the connection down. Closing twice is a no-op, never an
// error.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Conn().Close()
}

func (c *Client) deadline() error {
	var t time.Time
	if c.timeout > 0 {
		t = time.Now().Add(c.timeout)
	}
	if err := c.Conn().SetDeadline(t); err != nil {
		return c.wrap(status.ConnectionClosed, "set deadline", err)
	}
	return nil
}

func (c *Client) transport(op string, err error) error {
	terr := status.FromTransport(err, "service: "+op, status.ConnectionClosed)
	var e *status.Error
	if errors.As(terr, &e) && e.Service == "" {
		e.Service = c.name
	}
	return terr
}

func (c *Client) errorf(code status.Code, op string) error {
	return &status.Error{Code: code, Op: "service: " + op, Service: c.name}
}

func (c *Client) wrap(code status.Code, op string, err error) error {
	return &status.Error{Code: code, Op: "service: " + op, Service: c.name, Err: err}
}
