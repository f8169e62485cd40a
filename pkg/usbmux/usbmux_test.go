package usbmux

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/blacktop/go-plist"

	"github.com/devicekit/idevice/pkg/status"
)

// fakeDaemon scripts one side of a net.Pipe as the muxer daemon.
type fakeDaemon struct {
	t    *testing.T
	conn net.Conn
}

func newFakeDaemon(t *testing.T) (*fakeDaemon, *Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	conn, err := NewConnWith(func() (net.Conn, error) { return client, nil }, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return &fakeDaemon{t: t, conn: server}, conn
}

func (d *fakeDaemon) recv() map[string]any {
	d.t.Helper()
	var hdr Header
	if err := binary.Read(d.conn, binary.LittleEndian, &hdr); err != nil {
		d.t.Fatalf("fake daemon: read header: %v", err)
	}
	if hdr.MessageType != plistMessageType {
		d.t.Fatalf("fake daemon: message type = %d, want %d", hdr.MessageType, plistMessageType)
	}
	payload := make([]byte, hdr.Length-headerSize)
	if _, err := io.ReadFull(d.conn, payload); err != nil {
		d.t.Fatalf("fake daemon: read payload: %v", err)
	}
	var msg map[string]any
	if _, err := plist.Unmarshal(payload, &msg); err != nil {
		d.t.Fatalf("fake daemon: decode request: %v", err)
	}
	return msg
}

func (d *fakeDaemon) send(msg any) {
	d.t.Helper()
	data, err := plist.Marshal(msg, plist.XMLFormat)
	if err != nil {
		d.t.Fatalf("fake daemon: encode response: %v", err)
	}
	hdr := Header{Length: headerSize + uint32(len(data)), Version: 1, MessageType: plistMessageType}
	if err := binary.Write(d.conn, binary.LittleEndian, hdr); err != nil {
		d.t.Fatalf("fake daemon: write header: %v", err)
	}
	if _, err := d.conn.Write(data); err != nil {
		d.t.Fatalf("fake daemon: write payload: %v", err)
	}
}

func (d *fakeDaemon) result(number int) {
	d.send(map[string]any{"MessageType": "Result", "Number": number})
}

func TestConnListDevices(t *testing.T) {
	daemon, conn := newFakeDaemon(t)
	defer conn.Close()

	go func() {
		req := daemon.recv()
		if req["MessageType"] != "ListDevices" {
			t.Errorf("MessageType = %v, want ListDevices", req["MessageType"])
		}
		if req["ProgName"] != ProgName {
			t.Errorf("ProgName = %v, want %v", req["ProgName"], ProgName)
		}
		daemon.send(map[string]any{
			"DeviceList": []any{
				map[string]any{
					"MessageType": "Attached",
					"DeviceID":    3,
					"Properties": map[string]any{
						"ConnectionType": "USB",
						"DeviceID":       3,
						"SerialNumber":   "abcdef0123456789",
						"UDID":           "abcdef0123456789",
					},
				},
			},
		})
	}()

	devices, err := conn.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1", len(devices))
	}
	if devices[0].UDID != "abcdef0123456789" {
		t.Errorf("UDID = %q", devices[0].UDID)
	}
	if devices[0].ConnectionType != ConnectionTypeUSB {
		t.Errorf("ConnectionType = %q", devices[0].ConnectionType)
	}
}

func TestConnListDevicesEmpty(t *testing.T) {
	daemon, conn := newFakeDaemon(t)
	defer conn.Close()

	go func() {
		daemon.recv()
		daemon.send(map[string]any{"DeviceList": []any{}})
	}()

	devices, err := conn.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if devices == nil || len(devices) != 0 {
		t.Fatalf("got %v, want empty slice", devices)
	}
}

func TestConnReadBUID(t *testing.T) {
	daemon, conn := newFakeDaemon(t)
	defer conn.Close()

	go func() {
		req := daemon.recv()
		if req["MessageType"] != "ReadBUID" {
			t.Errorf("MessageType = %v, want ReadBUID", req["MessageType"])
		}
		daemon.send(map[string]any{"BUID": "buid-1234"})
	}()

	buid, err := conn.ReadBUID()
	if err != nil {
		t.Fatal(err)
	}
	if buid != "buid-1234" {
		t.Errorf("BUID = %q", buid)
	}
}

func TestConnPairRecordRoundTrip(t *testing.T) {
	daemon, conn := newFakeDaemon(t)
	defer conn.Close()

	record := &PairRecord{
		HostID:          "host-1",
		SystemBUID:      "buid-1",
		HostCertificate: []byte("host-cert"),
		HostPrivateKey:  []byte("host-key"),
	}
	var stored []byte

	go func() {
		save := daemon.recv()
		if save["MessageType"] != "SavePairRecord" {
			t.Errorf("MessageType = %v, want SavePairRecord", save["MessageType"])
		}
		if save["PairRecordID"] != "udid-1" {
			t.Errorf("PairRecordID = %v", save["PairRecordID"])
		}
		stored = save["PairRecordData"].([]byte)
		daemon.result(status.MuxReplyOK)

		read := daemon.recv()
		if read["MessageType"] != "ReadPairRecord" {
			t.Errorf("MessageType = %v, want ReadPairRecord", read["MessageType"])
		}
		daemon.send(map[string]any{"PairRecordData": stored})
	}()

	if err := conn.SavePairRecord("udid-1", 3, record); err != nil {
		t.Fatal(err)
	}
	got, err := conn.ReadPairRecord("udid-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.HostID != record.HostID || got.SystemBUID != record.SystemBUID {
		t.Errorf("got %+v, want %+v", got, record)
	}
	if string(got.HostCertificate) != "host-cert" {
		t.Errorf("HostCertificate = %q", got.HostCertificate)
	}
}

func TestConnReadPairRecordNotFound(t *testing.T) {
	daemon, conn := newFakeDaemon(t)
	defer conn.Close()

	go func() {
		daemon.recv()
		daemon.result(status.MuxReplyBadDevice)
	}()

	_, err := conn.ReadPairRecord("never-paired")
	if !status.Is(err, status.NoDevice) {
		t.Fatalf("got %v, want NoDevice", err)
	}
}

func TestConnDeletePairRecord(t *testing.T) {
	daemon, conn := newFakeDaemon(t)
	defer conn.Close()

	go func() {
		req := daemon.recv()
		if req["MessageType"] != "DeletePairRecord" {
			t.Errorf("MessageType = %v, want DeletePairRecord", req["MessageType"])
		}
		daemon.result(status.MuxReplyOK)
	}()

	if err := conn.DeletePairRecord("udid-1"); err != nil {
		t.Fatal(err)
	}
}

func TestConnDialMovesOwnership(t *testing.T) {
	daemon, conn := newFakeDaemon(t)

	go func() {
		req := daemon.recv()
		if req["MessageType"] != "Connect" {
			t.Errorf("MessageType = %v, want Connect", req["MessageType"])
		}
		// 62078 in network byte order
		if port, ok := req["PortNumber"].(uint64); !ok || uint16(port) != htons(62078) {
			t.Errorf("PortNumber = %v, want %d", req["PortNumber"], htons(62078))
		}
		daemon.result(status.MuxReplyOK)
		// the socket is now a raw tunnel
		buf := make([]byte, 5)
		if _, err := io.ReadFull(daemon.conn, buf); err != nil {
			t.Errorf("fake daemon: read tunneled bytes: %v", err)
		} else if string(buf) != "hello" {
			t.Errorf("tunneled bytes = %q", buf)
		}
		_, _ = daemon.conn.Write([]byte("world"))
	}()

	stream, err := conn.Dial(3, 62078)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := stream.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}

	// the control conn is spent: requests fail and Close leaves the tunnel up
	if err := conn.Send(map[string]any{"MessageType": "ListDevices"}); !status.Is(err, status.InvalidConfiguration) {
		t.Errorf("Send on spent conn = %v, want InvalidConfiguration", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Close on spent conn = %v", err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(stream, buf); err != nil {
		t.Fatalf("tunnel died with the control conn: %v", err)
	}
	if string(buf) != "world" {
		t.Errorf("tunneled bytes = %q", buf)
	}
	_ = stream.Close()
}

func TestConnDialRefused(t *testing.T) {
	daemon, conn := newFakeDaemon(t)
	defer conn.Close()

	go func() {
		daemon.recv()
		daemon.result(status.MuxReplyConnectionRefused)
	}()

	_, err := conn.Dial(3, 62078)
	if !status.Is(err, status.MuxerError) {
		t.Fatalf("got %v, want MuxerError", err)
	}
}

func TestConnCloseIdempotent(t *testing.T) {
	_, conn := newFakeDaemon(t)
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestConnRecvTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	conn, err := NewConnWith(func() (net.Conn, error) { return client, nil }, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var msg map[string]any
	if err := conn.Recv(&msg); !status.Is(err, status.Timeout) {
		t.Fatalf("got %v, want Timeout", err)
	}
}

func TestConnRecvBadHeader(t *testing.T) {
	daemon, conn := newFakeDaemon(t)
	defer conn.Close()

	go func() {
		hdr := Header{Length: headerSize + maxMessageLen + 1, Version: 1, MessageType: plistMessageType}
		_ = binary.Write(daemon.conn, binary.LittleEndian, hdr)
	}()

	var msg map[string]any
	if err := conn.Recv(&msg); !status.Is(err, status.BadHeader) {
		t.Fatalf("got %v, want BadHeader", err)
	}
}

func TestConnListenEvents(t *testing.T) {
	daemon, conn := newFakeDaemon(t)
	defer conn.Close()

	go func() {
		req := daemon.recv()
		if req["MessageType"] != "Listen" {
			t.Errorf("MessageType = %v, want Listen", req["MessageType"])
		}
		daemon.result(status.MuxReplyOK)
		daemon.send(map[string]any{
			"MessageType": "Attached",
			"DeviceID":    7,
			"Properties": map[string]any{
				"ConnectionType": "USB",
				"DeviceID":       7,
				"UDID":           "udid-7",
			},
		})
		// unrelated chatter the reader must skip
		daemon.send(map[string]any{"MessageType": "SomethingElse"})
		daemon.send(map[string]any{"MessageType": "Detached", "DeviceID": 7})
	}()

	if err := conn.Listen(); err != nil {
		t.Fatal(err)
	}
	ev, err := conn.ReadEvent(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventAttached || ev.DeviceID != 7 || ev.Properties.UDID != "udid-7" {
		t.Errorf("attach event = %+v", ev)
	}
	ev, err = conn.ReadEvent(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventDetached || ev.DeviceID != 7 {
		t.Errorf("detach event = %+v", ev)
	}
}

func TestConfigEndpoint(t *testing.T) {
	tests := []struct {
		address     string
		wantNetwork string
		wantAddr    string
	}{
		{"", "", ""}, // platform default, checked separately
		{"127.0.0.1:27015", "tcp", "127.0.0.1:27015"},
		{"/tmp/usbmuxd.sock", "unix", "/tmp/usbmuxd.sock"},
	}
	for _, tt := range tests {
		cfg := &Config{Address: tt.address}
		network, addr := cfg.endpoint()
		if tt.address == "" {
			wantNetwork, wantAddr := defaultEndpoint()
			if network != wantNetwork || addr != wantAddr {
				t.Errorf("endpoint() = %s %s, want platform default %s %s", network, addr, wantNetwork, wantAddr)
			}
			continue
		}
		if network != tt.wantNetwork || addr != tt.wantAddr {
			t.Errorf("endpoint(%q) = %s %s, want %s %s", tt.address, network, addr, tt.wantNetwork, tt.wantAddr)
		}
	}
}

func TestRequestWireShape(t *testing.T) {
	req := &connectRequest{
		BaseRequest: newBaseRequest("Connect"),
		DeviceID:    3,
		PortNumber:  htons(62078),
	}
	data, err := plist.Marshal(req, plist.XMLFormat)
	if err != nil {
		t.Fatal(err)
	}
	var msg map[string]any
	if _, err := plist.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"MessageType":         "Connect",
		"BundleID":            BundleID,
		"ProgName":            ProgName,
		"ClientVersionString": ClientVersionString,
	}
	for key, value := range want {
		if msg[key] != value {
			t.Errorf("%s = %v, want %v", key, msg[key], value)
		}
	}
	if _, ok := msg["kLibUSBMuxVersion"]; !ok {
		t.Error("kLibUSBMuxVersion missing from the encoded request")
	}
	if _, ok := msg["DeviceID"]; !ok {
		t.Error("DeviceID missing from the encoded request")
	}
}
