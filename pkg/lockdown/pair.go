package lockdown

import (
	"os"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/devicekit/idevice/pkg/status"
)

// pairPollInterval is how often Pair re-asks while the trust dialog is on
// the device screen.
const pairPollInterval = time.Second

// Pair establishes trust with the device. The device shows a confirmation
// dialog, so this blocks, polling while the response is pending, until the
// user answers or timeout expires. Denial surfaces as TrustFailed; a dialog
// that never gets answered surfaces as Timeout. On success the record is
// stored with the muxer and a session is started, moving the client to
// Ready. Valid in StatePairingRequired and StateReady (re-pair).
func (c *Client) Pair(timeout time.Duration) error {
	if c.state != StatePairingRequired && c.state != StateReady {
		return &status.Error{
			Code:   status.InvalidConfiguration,
			Op:     "lockdown: pair",
			Detail: "client is " + c.state.String(),
		}
	}
	if c.pair == nil {
		// pairing cryptography lives outside this module; without existing
		// host identity material there is nothing to offer the device
		return &status.Error{Code: status.PairingFailed, Op: "lockdown: pair", Detail: "no host identity material"}
	}
	if c.pair.HostID == "" {
		c.pair.HostID = uuid.NewString()
	}
	if c.pair.SystemBUID == "" {
		if err := c.fillSystemBUID(); err != nil {
			log.WithError(err).Debug("lockdown: read system buid")
		}
	}

	hostname, _ := os.Hostname()
	req := &pairRequest{
		BaseRequest: c.basic("Pair"),
		PairRecord: pairRecordPayload{
			DeviceCertificate: c.pair.DeviceCertificate,
			HostCertificate:   c.pair.HostCertificate,
			RootCertificate:   c.pair.RootCertificate,
			HostID:            c.pair.HostID,
			SystemBUID:        c.pair.SystemBUID,
		},
		HostName:       hostname,
		PairingOptions: map[string]any{"ExtendedPairingErrors": true},
	}

	deadline := time.Now().Add(timeout)
	for {
		var resp pairResponse
		if err := c.request(req, &resp); err != nil {
			return err
		}
		switch resp.Error {
		case "":
			if len(resp.EscrowBag) > 0 {
				c.pair.EscrowBag = resp.EscrowBag
			}
			c.savePairRecord()
			if c.sessionID == "" {
				if err := c.startSession(); err != nil {
					return err
				}
			}
			c.state = StateReady
			return nil
		case "PairingDialogResponsePending":
			if timeout > 0 && !time.Now().Add(pairPollInterval).Before(deadline) {
				return &status.Error{Code: status.Timeout, Op: "lockdown: pair", Detail: "trust dialog unanswered"}
			}
			time.Sleep(pairPollInterval)
		default:
			return status.FromLockdown(resp.Error, "lockdown: pair")
		}
	}
}

// Unpair revokes trust with the device and drops the stored record.
func (c *Client) Unpair() error {
	if err := c.requireReady("unpair"); err != nil {
		return err
	}
	if c.pair == nil {
		return &status.Error{Code: status.InvalidConfiguration, Op: "lockdown: unpair", Detail: "not paired"}
	}
	req := &pairRequest{
		BaseRequest: c.basic("Unpair"),
		PairRecord: pairRecordPayload{
			HostID:     c.pair.HostID,
			SystemBUID: c.pair.SystemBUID,
		},
	}
	var resp BaseResponse
	if err := c.request(req, &resp); err != nil {
		return err
	}
	if err := status.FromLockdown(resp.Error, "lockdown: unpair"); err != nil {
		return err
	}
	if mux, err := c.newMuxConn(); err == nil {
		defer mux.Close()
		if err := mux.DeletePairRecord(c.udid); err != nil {
			log.WithError(err).WithField("udid", c.udid).Debug("lockdown: delete pair record")
		}
	}
	c.pair = nil
	c.state = StatePairingRequired
	return nil
}

func (c *Client) fillSystemBUID() error {
	mux, err := c.newMuxConn()
	if err != nil {
		return err
	}
	defer mux.Close()
	buid, err := mux.ReadBUID()
	if err != nil {
		return err
	}
	c.pair.SystemBUID = buid
	return nil
}

// savePairRecord stores the record with the muxer. Best effort: failure to
// persist must not fail a pairing that the device accepted.
func (c *Client) savePairRecord() {
	mux, err := c.newMuxConn()
	if err != nil {
		log.WithError(err).WithField("udid", c.udid).Warn("lockdown: save pair record")
		return
	}
	defer mux.Close()
	deviceID := c.deviceID
	if deviceID < 0 {
		deviceID = 0
	}
	if err := mux.SavePairRecord(c.udid, deviceID, c.pair); err != nil {
		log.WithError(err).WithField("udid", c.udid).Warn("lockdown: save pair record")
	}
}
