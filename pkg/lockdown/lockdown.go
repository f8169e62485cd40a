// Package lockdown drives the device's control channel: protocol handshake,
// pairing and trust, session encryption, value access, and service
// activation. A Client walks an explicit state machine and refuses
// Ready-only operations outside Ready instead of crashing mid-protocol.
package lockdown

import (
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/go-plist"

	"github.com/devicekit/idevice/pkg/status"
	"github.com/devicekit/idevice/pkg/usbmux"
)

const (
	// Port is the fixed device port the lockdown daemon answers on.
	Port = 62078

	protocolVersion = "2"
	daemonType      = "com.apple.mobile.lockdown"

	defaultTimeout = 30 * time.Second
)

// State is the session phase a Client is in. Operations are gated on it.
type State int

const (
	StateUnconnected State = iota
	StateHandshaking
	StatePairingRequired
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateHandshaking:
		return "handshaking"
	case StatePairingRequired:
		return "pairing required"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return "invalid"
}

// Client is one lockdown session. Single-owner and not internally
// synchronized; concurrent use of distinct Clients is fine.
type Client struct {
	conn    net.Conn
	tlsConn *tls.Conn

	state    State
	udid     string
	deviceID int
	label    string

	sessionID  string
	daemonKind string
	pair       *usbmux.PairRecord

	useEscrowBag bool
	dial         usbmux.Dialer
	timeout      time.Duration
}

// Option configures a Client at construction.
type Option func(*Client)

// WithTimeout bounds every exchange with the device. The default is 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithDialer routes muxer traffic (device lookup, pair records, tunneled
// connections) through a custom dialer. Test doubles hook in here.
func WithDialer(dial usbmux.Dialer) Option {
	return func(c *Client) { c.dial = dial }
}

// WithConn hands the client an already-established lockdown stream, skipping
// the muxer entirely. Ownership of conn transfers to the client.
func WithConn(conn net.Conn) Option {
	return func(c *Client) { c.conn = conn }
}

// WithPairRecord supplies trust material directly instead of reading it from
// the muxer's store.
func WithPairRecord(pair *usbmux.PairRecord) Option {
	return func(c *Client) { c.pair = pair }
}

// WithEscrowBag makes service starts attach the pair record's escrow bag by
// default.
func WithEscrowBag(use bool) Option {
	return func(c *Client) { c.useEscrowBag = use }
}

// WithDeviceID pins the muxer device ID, bypassing the lookup by UDID.
func WithDeviceID(id int) Option {
	return func(c *Client) { c.deviceID = id }
}

// NewClient connects to a device's lockdown daemon and performs the
// handshake. When the device has no stored trust for this host the client
// comes back in StatePairingRequired and Pair must be called before any
// Ready-only operation.
func NewClient(udid, label string, opts ...Option) (*Client, error) {
	c := &Client{
		state:    StateUnconnected,
		udid:     udid,
		label:    label,
		deviceID: -1,
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.label == "" {
		c.label = usbmux.BundleID
	}
	if c.conn == nil {
		if err := c.connect(); err != nil {
			return nil, err
		}
	}
	c.state = StateHandshaking
	if err := c.handshake(); err != nil {
		_ = c.conn.Close()
		c.state = StateClosed
		return nil, err
	}
	return c, nil
}

// connect resolves the device through the muxer, grabs stored trust
// material, and tunnels to the lockdown port. The muxer control conn is
// consumed by the tunnel (move semantics, see usbmux.Conn.Dial).
func (c *Client) connect() error {
	mux, err := c.newMuxConn()
	if err != nil {
		return err
	}
	defer mux.Close()

	if c.pair == nil {
		pair, err := mux.ReadPairRecord(c.udid)
		if err == nil {
			c.pair = pair
		} else if !status.Is(err, status.DeviceNotFound) {
			return err
		}
	}

	if c.deviceID < 0 {
		devices, err := mux.ListDevices()
		if err != nil {
			return err
		}
		for _, dev := range devices {
			if dev.UDID == c.udid || dev.SerialNumber == c.udid {
				c.deviceID = dev.DeviceID
				break
			}
		}
		if c.deviceID < 0 {
			return &status.Error{Code: status.DeviceNotFound, Op: "lockdown: connect", Detail: c.udid}
		}
	}

	stream, err := mux.Dial(c.deviceID, Port)
	if err != nil {
		return err
	}
	c.conn = stream
	return nil
}

func (c *Client) handshake() error {
	kind, err := c.queryType()
	if err != nil {
		return err
	}
	if kind != daemonType {
		return &status.Error{Code: status.BadHeader, Op: "lockdown: handshake", Detail: "unexpected daemon type " + kind}
	}
	c.daemonKind = kind

	if c.pair == nil {
		c.state = StatePairingRequired
		return nil
	}
	if err := c.startSession(); err != nil {
		// a stale or rejected host identity means the device no longer
		// trusts us; surface that as a pairing-required client, not a
		// constructor failure
		if status.Is(err, status.InvalidConfiguration) || status.Is(err, status.TrustFailed) {
			c.state = StatePairingRequired
			return nil
		}
		return err
	}
	c.state = StateReady
	return nil
}

// State returns the current session phase.
func (c *Client) State() State { return c.state }

// UDID returns the device identifier this client is bound to.
func (c *Client) UDID() string { return c.udid }

// Label returns the client label sent with every request.
func (c *Client) Label() string { return c.label }

// SessionID returns the active session token, empty when no session is up.
func (c *Client) SessionID() string { return c.sessionID }

// PairRecord returns the trust material in use, nil when unpaired.
func (c *Client) PairRecord() *usbmux.PairRecord { return c.pair }

func (c *Client) newMuxConn() (*usbmux.Conn, error) {
	dial := c.dial
	if dial == nil {
		var err error
		if dial, err = usbmux.DefaultDialer(); err != nil {
			return nil, err
		}
	}
	return usbmux.NewConnWith(dial, c.timeout)
}

// activeConn returns the stream, encrypted once a session upgraded it.
func (c *Client) activeConn() net.Conn {
	if c.tlsConn != nil {
		return c.tlsConn
	}
	return c.conn
}

func (c *Client) basic(request string) BaseRequest {
	return BaseRequest{
		Label:           c.label,
		ProtocolVersion: protocolVersion,
		Request:         request,
	}
}

// request performs one framed plist exchange with a deadline.
func (c *Client) request(req, resp any) error {
	if c.state == StateClosed || c.conn == nil {
		return &status.Error{Code: status.InvalidConfiguration, Op: "lockdown: request on closed client"}
	}
	data, err := plist.Marshal(req, plist.XMLFormat)
	if err != nil {
		return status.Wrap(status.InvalidArgument, "lockdown: marshal request", err)
	}
	var t time.Time
	if c.timeout > 0 {
		t = time.Now().Add(c.timeout)
	}
	if err := c.activeConn().SetDeadline(t); err != nil {
		return status.Wrap(status.ConnectionClosed, "lockdown: set deadline", err)
	}
	if err := binary.Write(c.activeConn(), binary.BigEndian, uint32(len(data))); err != nil {
		return status.FromTransport(err, "lockdown: write frame header", status.ConnectionClosed)
	}
	if _, err := c.activeConn().Write(data); err != nil {
		return status.FromTransport(err, "lockdown: write frame", status.ConnectionClosed)
	}
	var size uint32
	if err := binary.Read(c.activeConn(), binary.BigEndian, &size); err != nil {
		return status.FromTransport(err, "lockdown: read frame header", status.ConnectionClosed)
	}
	if size == 0 || size > 16<<20 {
		return &status.Error{Code: status.BadHeader, Op: "lockdown: read frame header", Native: int(size)}
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(c.activeConn(), payload); err != nil {
		return status.FromTransport(err, "lockdown: read frame", status.NotEnoughData)
	}
	if _, err := plist.Unmarshal(payload, resp); err != nil {
		return status.Wrap(status.NotEnoughData, "lockdown: decode response", err)
	}
	return nil
}

func (c *Client) requireReady(op string) error {
	if c.state != StateReady {
		return &status.Error{
			Code:   status.InvalidConfiguration,
			Op:     "lockdown: " + op,
			Detail: "client is " + c.state.String() + ", not ready",
		}
	}
	return nil
}

// QueryType asks the daemon what it is. Valid in any non-closed state.
func (c *Client) QueryType() (string, error) {
	return c.queryType()
}

func (c *Client) queryType() (string, error) {
	var resp queryTypeResponse
	if err := c.request(&BaseRequest{Label: c.label, Request: "QueryType"}, &resp); err != nil {
		return "", err
	}
	if err := status.FromLockdown(resp.Error, "lockdown: query type"); err != nil {
		return "", err
	}
	return resp.Type, nil
}

// StartSession authenticates with the stored pair record and upgrades the
// stream to TLS when the device asks for it.
func (c *Client) StartSession() error {
	if c.state != StateReady && c.state != StateHandshaking && c.state != StatePairingRequired {
		return &status.Error{Code: status.InvalidConfiguration, Op: "lockdown: start session", Detail: "client is " + c.state.String()}
	}
	if c.sessionID != "" {
		return &status.Error{Code: status.InvalidConfiguration, Op: "lockdown: start session", Detail: "session already active"}
	}
	return c.startSession()
}

func (c *Client) startSession() error {
	if c.pair == nil {
		return &status.Error{Code: status.PairingFailed, Op: "lockdown: start session", Detail: "no pair record"}
	}
	req := &startSessionRequest{
		BaseRequest: c.basic("StartSession"),
		HostID:      c.pair.HostID,
		SystemBUID:  c.pair.SystemBUID,
	}
	var resp startSessionResponse
	if err := c.request(req, &resp); err != nil {
		return err
	}
	if err := status.FromLockdown(resp.Error, "lockdown: start session"); err != nil {
		return err
	}
	c.sessionID = resp.SessionID
	if resp.EnableSessionSSL {
		if err := c.enableSSL(); err != nil {
			return err
		}
	}
	return nil
}

// StopSession ends the active session. The connection stays usable for
// non-session requests.
func (c *Client) StopSession() error {
	if c.state != StateReady {
		return c.requireReady("stop session")
	}
	if c.sessionID == "" {
		return &status.Error{Code: status.InvalidConfiguration, Op: "lockdown: stop session", Detail: "no active session"}
	}
	return c.stopSession()
}

func (c *Client) stopSession() error {
	req := &stopSessionRequest{
		BaseRequest: c.basic("StopSession"),
		SessionID:   c.sessionID,
	}
	var resp BaseResponse
	if err := c.request(req, &resp); err != nil {
		return err
	}
	if err := status.FromLockdown(resp.Error, "lockdown: stop session"); err != nil {
		return err
	}
	// Session SSL ends with the session; later requests go over the raw conn.
	c.sessionID = ""
	c.tlsConn = nil
	return nil
}

func (c *Client) enableSSL() error {
	cert, err := tls.X509KeyPair(c.pair.HostCertificate, c.pair.HostPrivateKey)
	if err != nil {
		return status.Wrap(status.SSLError, "lockdown: load host identity", err)
	}
	tlsConn := tls.Client(c.conn, &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS10,
	})
	if err := tlsConn.Handshake(); err != nil {
		return status.Wrap(status.SSLError, "lockdown: tls handshake", err)
	}
	c.tlsConn = tlsConn
	return nil
}

// EnterRecovery reboots the device into recovery mode.
func (c *Client) EnterRecovery() error {
	if err := c.requireReady("enter recovery"); err != nil {
		return err
	}
	var resp BaseResponse
	if err := c.request(&BaseRequest{Label: c.label, Request: "EnterRecovery"}, &resp); err != nil {
		return err
	}
	return status.FromLockdown(resp.Error, "lockdown: enter recovery")
}

// Close stops the session and releases the connection. Cleanup failures are
// logged, never raised: a destructor must run unconditionally. Closing twice
// is a no-op.
func (c *Client) Close() error {
	if c.state == StateClosed {
		return nil
	}
	if c.sessionID != "" {
		if err := c.stopSession(); err != nil {
			log.WithError(err).WithField("udid", c.udid).Debug("lockdown: stop session during close")
		}
	}
	c.state = StateClosed
	if c.conn == nil {
		return nil
	}
	if err := c.activeConn().Close(); err != nil {
		log.WithError(err).WithField("udid", c.udid).Warn("lockdown: close connection")
	}
	return nil
}
