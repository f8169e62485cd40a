package mobilesync

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/blacktop/go-plist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicekit/idevice/pkg/plistval"
	"github.com/devicekit/idevice/pkg/service"
	"github.com/devicekit/idevice/pkg/status"
)

// fakeSyncPeer scripts the device side of a mobile sync session.
type fakeSyncPeer struct {
	t    *testing.T
	conn net.Conn
}

func newFakeSyncPeer(t *testing.T) (*fakeSyncPeer, *Client) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	svc := service.NewClient(client, service.WithDiagnostics(ServiceName, 49500, "udid-1"))
	return &fakeSyncPeer{t: t, conn: server}, New(svc)
}

func (p *fakeSyncPeer) recv() []any {
	p.t.Helper()
	var size uint32
	if err := binary.Read(p.conn, binary.BigEndian, &size); err != nil {
		p.t.Errorf("fake sync: read frame header: %v", err)
		return nil
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(p.conn, data); err != nil {
		p.t.Errorf("fake sync: read frame: %v", err)
		return nil
	}
	var msg []any
	if _, err := plist.Unmarshal(data, &msg); err != nil {
		p.t.Errorf("fake sync: decode frame: %v", err)
	}
	return msg
}

func (p *fakeSyncPeer) send(msg []any) {
	p.t.Helper()
	data, err := plist.Marshal(msg, plist.XMLFormat)
	if err != nil {
		p.t.Errorf("fake sync: encode frame: %v", err)
		return
	}
	if err := binary.Write(p.conn, binary.BigEndian, uint32(len(data))); err != nil {
		p.t.Errorf("fake sync: write frame header: %v", err)
		return
	}
	if _, err := p.conn.Write(data); err != nil {
		p.t.Errorf("fake sync: write frame: %v", err)
	}
}

// serveHandshake runs the device half of the version exchange.
func (p *fakeSyncPeer) serveHandshake() {
	p.send([]any{"DLMessageVersionExchange", 300, 0})
	reply := p.recv()
	if len(reply) != 3 || reply[0] != "DLMessageVersionExchange" || reply[1] != "DLVersionsOk" {
		p.t.Errorf("version reply = %v", reply)
	}
	p.send([]any{"DLMessageDeviceReady"})
}

func TestHandshake(t *testing.T) {
	peer, client := newFakeSyncPeer(t)
	defer client.Close()

	go peer.serveHandshake()
	require.NoError(t, client.Handshake())
}

func TestOperationsRequireHandshake(t *testing.T) {
	_, client := newFakeSyncPeer(t)
	defer client.Close()

	_, _, err := client.Start("com.apple.Contacts", Anchors{}, 106, SyncTypeFast)
	assert.True(t, status.Is(err, status.InvalidConfiguration), "got %v", err)
	assert.True(t, status.Is(client.Send(plistval.Dict{}), status.InvalidConfiguration))
	_, err = client.Recv()
	assert.True(t, status.Is(err, status.InvalidConfiguration))
	assert.True(t, status.Is(client.Finish(), status.InvalidConfiguration))
	assert.True(t, status.Is(client.Cancel("nope"), status.InvalidConfiguration))
}

func TestStart(t *testing.T) {
	peer, client := newFakeSyncPeer(t)
	defer client.Close()

	go func() {
		peer.serveHandshake()
		req := peer.recv()
		if len(req) < 6 {
			t.Errorf("sync start = %v", req)
			return
		}
		assert.Equal(t, "SDMessageSyncDataClassWithDevice", req[0])
		assert.Equal(t, "com.apple.Contacts", req[1])
		assert.Equal(t, emptyParameter, req[2], "first sync has no device anchor")
		assert.Equal(t, "computer-anchor-1", req[3])
		peer.send([]any{
			"SDMessageSyncDataClassWithComputer",
			"com.apple.Contacts",
			"device-anchor-1",
			"computer-anchor-1",
			string(SyncTypeSlow),
			uint64(106),
		})
	}()

	require.NoError(t, client.Handshake())
	granted, version, err := client.Start("com.apple.Contacts", Anchors{Computer: "computer-anchor-1"}, 106, SyncTypeFast)
	require.NoError(t, err)
	assert.Equal(t, SyncTypeSlow, granted, "device may downgrade to a slow sync")
	assert.EqualValues(t, 106, version)
}

func TestStartRefused(t *testing.T) {
	peer, client := newFakeSyncPeer(t)
	defer client.Close()

	go func() {
		peer.serveHandshake()
		peer.recv()
		peer.send([]any{
			"SDMessageRefuseToSyncDataClassWithComputer",
			"com.apple.Contacts",
			"device is locked",
		})
	}()

	require.NoError(t, client.Handshake())
	_, _, err := client.Start("com.apple.Contacts", Anchors{Computer: "a"}, 106, SyncTypeFast)
	assert.True(t, status.Is(err, status.InvalidConfiguration), "got %v", err)
}

func TestSendRecvEnvelope(t *testing.T) {
	peer, client := newFakeSyncPeer(t)
	defer client.Close()

	go func() {
		peer.serveHandshake()
		msg := peer.recv()
		if len(msg) != 2 || msg[0] != "DLMessageProcessMessage" {
			t.Errorf("envelope = %v", msg)
			return
		}
		inner, ok := msg[1].(map[string]any)
		if !ok || inner["Status"] != "Acknowledged" {
			t.Errorf("inner message = %v", msg[1])
		}
		peer.send([]any{"DLMessageProcessMessage", map[string]any{"Records": []any{"r1", "r2"}}})
	}()

	require.NoError(t, client.Handshake())
	require.NoError(t, client.Send(plistval.Dict{"Status": plistval.String("Acknowledged")}))

	got, err := client.Recv()
	require.NoError(t, err)
	dict, ok := got.(plistval.Dict)
	require.True(t, ok)
	records, ok := dict["Records"].(plistval.Array)
	require.True(t, ok)
	assert.Len(t, records, 2)
}

func TestRecvDisconnect(t *testing.T) {
	peer, client := newFakeSyncPeer(t)
	defer client.Close()

	go func() {
		peer.serveHandshake()
		peer.send([]any{"DLMessageDisconnect", "All done"})
	}()

	require.NoError(t, client.Handshake())
	_, err := client.Recv()
	assert.True(t, status.Is(err, status.ConnectionClosed), "got %v", err)
}

func TestFinish(t *testing.T) {
	peer, client := newFakeSyncPeer(t)
	defer client.Close()

	go func() {
		peer.serveHandshake()
		req := peer.recv()
		if len(req) < 1 || req[0] != "SDMessageFinishSessionOnDevice" {
			t.Errorf("finish = %v", req)
			return
		}
		peer.send([]any{"SDMessageDeviceFinishedSession"})
	}()

	require.NoError(t, client.Handshake())
	require.NoError(t, client.Finish())
}
