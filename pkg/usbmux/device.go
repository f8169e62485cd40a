package usbmux

import (
	"fmt"

	"github.com/fatih/color"
)

var colorFaint = color.New(color.Faint, color.FgHiBlue).SprintFunc()
var colorBold = color.New(color.Bold).SprintFunc()

// DeviceAttachment describes one device the daemon currently sees.
type DeviceAttachment struct {
	ConnectionSpeed        int
	ConnectionType         string
	DeviceID               int
	LocationID             int
	ProductID              int
	SerialNumber           string
	UDID                   string
	USBSerialNumber        string
	NetworkAddress         []byte `plist:"NetworkAddress,omitempty"`
	EscapedFullServiceName string `plist:"EscapedFullServiceName,omitempty"`
	InterfaceIndex         int    `plist:"InterfaceIndex,omitempty"`
}

const (
	// ConnectionType values reported by the daemon.
	ConnectionTypeUSB     = "USB"
	ConnectionTypeNetwork = "Network"
)

func (d DeviceAttachment) String() string {
	return fmt.Sprintf(
		colorFaint("DeviceID: ")+colorBold("%d\n")+
			colorFaint("    ConnectionType:  ")+colorBold("%s\n")+
			colorFaint("    ConnectionSpeed: ")+colorBold("%d\n")+
			colorFaint("    ProductID:       ")+colorBold("%#x\n")+
			colorFaint("    LocationID:      ")+colorBold("%d\n")+
			colorFaint("    SerialNumber:    ")+colorBold("%s\n")+
			colorFaint("    UDID:            ")+colorBold("%s\n")+
			colorFaint("    USBSerialNumber: ")+colorBold("%s\n"),
		d.DeviceID,
		d.ConnectionType,
		d.ConnectionSpeed,
		d.ProductID,
		d.LocationID,
		d.SerialNumber,
		d.UDID,
		d.USBSerialNumber,
	)
}

type listDevicesRequest struct {
	BaseRequest
}

type deviceEntry struct {
	MessageType string
	DeviceID    int
	Properties  *DeviceAttachment
}

type listDevicesResponse struct {
	DeviceList []*deviceEntry
}

// ListDevices returns the attachments for every device the daemon currently
// sees. A host with nothing attached yields an empty slice and no error.
func (c *Conn) ListDevices() ([]*DeviceAttachment, error) {
	req := &listDevicesRequest{newBaseRequest("ListDevices")}
	var resp listDevicesResponse
	if err := c.Request(req, &resp); err != nil {
		return nil, err
	}
	devices := make([]*DeviceAttachment, 0, len(resp.DeviceList))
	for _, entry := range resp.DeviceList {
		if entry.Properties == nil {
			continue
		}
		devices = append(devices, entry.Properties)
	}
	return devices, nil
}

type readBUIDRequest struct {
	BaseRequest
}

// ReadBUID returns the host's system buid as stored by the daemon.
func (c *Conn) ReadBUID() (string, error) {
	req := &readBUIDRequest{newBaseRequest("ReadBUID")}
	reply := struct {
		BUID string `plist:"BUID"`
	}{}
	if err := c.Request(req, &reply); err != nil {
		return "", err
	}
	return reply.BUID, nil
}
