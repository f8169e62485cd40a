package lockdown

import (
	"errors"
	"net"

	"github.com/devicekit/idevice/pkg/service"
	"github.com/devicekit/idevice/pkg/status"
)

// StartService asks the daemon to launch a named service and returns a
// client for it. The service connection is dialed fresh through the muxer
// and owned entirely by the returned client: closing this lockdown client
// afterwards does not touch it. withEscrowBag attaches the stored escrow bag
// so services that need an unlocked trust store can run while the device is
// locked.
func (c *Client) StartService(name string, withEscrowBag bool) (*service.Client, error) {
	if err := c.requireReady("start service"); err != nil {
		return nil, err
	}
	req := &startServiceRequest{
		BaseRequest: c.basic("StartService"),
		Service:     name,
	}
	if (withEscrowBag || c.useEscrowBag) && c.pair != nil {
		req.EscrowBag = c.pair.EscrowBag
	}
	var resp startServiceResponse
	if err := c.request(req, &resp); err != nil {
		return nil, err
	}
	if err := status.FromLockdown(resp.Error, "lockdown: start service"); err != nil {
		var serr *status.Error
		if errors.As(err, &serr) {
			serr.Service = name
		}
		return nil, err
	}
	if resp.Port == 0 {
		return nil, &status.Error{Code: status.BadHeader, Op: "lockdown: start service", Service: name, Detail: "no port granted"}
	}

	stream, err := c.dialDevicePort(resp.Port)
	if err != nil {
		return nil, err
	}
	svc := service.NewClient(stream,
		service.WithTimeout(c.timeout),
		service.WithPairRecord(c.pair),
		service.WithDiagnostics(name, resp.Port, c.udid),
	)
	if resp.EnableServiceSSL {
		if err := svc.EnableSSL(); err != nil {
			_ = svc.Close()
			return nil, err
		}
	}
	return svc, nil
}

// dialDevicePort opens a fresh muxer tunnel to a device port. Each tunnel
// consumes its own muxer conn (move semantics), so nothing here aliases the
// lockdown stream.
func (c *Client) dialDevicePort(port int) (net.Conn, error) {
	mux, err := c.newMuxConn()
	if err != nil {
		return nil, err
	}
	deviceID := c.deviceID
	if deviceID < 0 {
		devices, lerr := mux.ListDevices()
		if lerr != nil {
			_ = mux.Close()
			return nil, lerr
		}
		for _, dev := range devices {
			if dev.UDID == c.udid || dev.SerialNumber == c.udid {
				deviceID = dev.DeviceID
				break
			}
		}
		if deviceID < 0 {
			_ = mux.Close()
			return nil, &status.Error{Code: status.DeviceNotFound, Op: "lockdown: dial service port", Detail: c.udid}
		}
		c.deviceID = deviceID
	}
	stream, err := mux.Dial(deviceID, port)
	if err != nil {
		_ = mux.Close()
		return nil, err
	}
	return stream, nil
}
