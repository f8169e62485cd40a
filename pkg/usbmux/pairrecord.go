package usbmux

import (
	"github.com/blacktop/go-plist"

	"github.com/devicekit/idevice/pkg/status"
)

// PairRecord is the stored trust material for one device: host identity,
// certificates, and the escrow bag that allows reconnecting without a fresh
// pairing dialog.
type PairRecord struct {
	DeviceCertificate []byte `plist:"DeviceCertificate"`
	EscrowBag         []byte `plist:"EscrowBag,omitempty"`
	HostCertificate   []byte `plist:"HostCertificate"`
	HostID            string `plist:"HostID"`
	HostPrivateKey    []byte `plist:"HostPrivateKey"`
	RootCertificate   []byte `plist:"RootCertificate"`
	RootPrivateKey    []byte `plist:"RootPrivateKey,omitempty"`
	SystemBUID        string `plist:"SystemBUID"`
	WiFiMACAddress    string `plist:"WiFiMACAddress,omitempty"`
}

type readPairRecordRequest struct {
	BaseRequest
	PairRecordID string `plist:"PairRecordID"`
}

type readPairRecordResponse struct {
	MessageType    string
	Number         int
	PairRecordData []byte
}

// ReadPairRecord fetches the stored pair record for a device. Devices never
// paired with this host come back as DeviceNotFound.
func (c *Conn) ReadPairRecord(udid string) (*PairRecord, error) {
	req := &readPairRecordRequest{
		BaseRequest:  newBaseRequest("ReadPairRecord"),
		PairRecordID: udid,
	}
	var resp readPairRecordResponse
	if err := c.Request(req, &resp); err != nil {
		return nil, err
	}
	if len(resp.PairRecordData) == 0 {
		if err := status.FromMuxReply(resp.Number, "usbmux: read pair record"); err != nil {
			return nil, err
		}
		return nil, status.New(status.DeviceNotFound, "usbmux: read pair record")
	}
	var record PairRecord
	if _, err := plist.Unmarshal(resp.PairRecordData, &record); err != nil {
		return nil, status.Wrap(status.NotEnoughData, "usbmux: decode pair record", err)
	}
	return &record, nil
}

type savePairRecordRequest struct {
	BaseRequest
	PairRecordID   string `plist:"PairRecordID"`
	PairRecordData []byte `plist:"PairRecordData"`
	DeviceID       uint32 `plist:"DeviceID,omitempty"`
}

// SavePairRecord stores a pair record with the daemon so later sessions can
// skip the pairing dialog.
func (c *Conn) SavePairRecord(udid string, deviceID int, record *PairRecord) error {
	data, err := plist.Marshal(record, plist.XMLFormat)
	if err != nil {
		return status.Wrap(status.InvalidArgument, "usbmux: encode pair record", err)
	}
	req := &savePairRecordRequest{
		BaseRequest:    newBaseRequest("SavePairRecord"),
		PairRecordID:   udid,
		PairRecordData: data,
		DeviceID:       uint32(deviceID),
	}
	var resp resultResponse
	if err := c.Request(req, &resp); err != nil {
		return err
	}
	return status.FromMuxReply(resp.Number, "usbmux: save pair record")
}

type deletePairRecordRequest struct {
	BaseRequest
	PairRecordID string `plist:"PairRecordID"`
}

// DeletePairRecord removes the stored pair record for a device.
func (c *Conn) DeletePairRecord(udid string) error {
	req := &deletePairRecordRequest{
		BaseRequest:  newBaseRequest("DeletePairRecord"),
		PairRecordID: udid,
	}
	var resp resultResponse
	if err := c.Request(req, &resp); err != nil {
		return err
	}
	return status.FromMuxReply(resp.Number, "usbmux: delete pair record")
}
