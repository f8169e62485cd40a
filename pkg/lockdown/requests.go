package lockdown

// Wire structs for the lockdown control protocol. Every request carries the
// client label and protocol version; responses report failures as an Error
// string which callers translate through pkg/status. The base structs must
// stay exported so the plist codec flattens the embedded fields.

// BaseRequest holds the fields common to every lockdown request.
type BaseRequest struct {
	Label           string `plist:"Label"`
	ProtocolVersion string `plist:"ProtocolVersion"`
	Request         string `plist:"Request"`
}

// BaseResponse holds the fields common to every lockdown response.
type BaseResponse struct {
	Request string `plist:"Request"`
	Error   string `plist:"Error,omitempty"`
}

type queryTypeResponse struct {
	BaseResponse
	Type string `plist:"Type"`
}

type valueRequest struct {
	BaseRequest
	Domain string `plist:"Domain,omitempty"`
	Key    string `plist:"Key,omitempty"`
	Value  any    `plist:"Value,omitempty"`
}

type valueResponse struct {
	BaseResponse
	Domain string `plist:"Domain,omitempty"`
	Key    string `plist:"Key,omitempty"`
	Value  any    `plist:"Value,omitempty"`
}

type startSessionRequest struct {
	BaseRequest
	HostID     string `plist:"HostID"`
	SystemBUID string `plist:"SystemBUID"`
}

type startSessionResponse struct {
	BaseResponse
	EnableSessionSSL bool   `plist:"EnableSessionSSL"`
	SessionID        string `plist:"SessionID"`
}

type stopSessionRequest struct {
	BaseRequest
	SessionID string `plist:"SessionID"`
}

type startServiceRequest struct {
	BaseRequest
	Service   string `plist:"Service"`
	EscrowBag []byte `plist:"EscrowBag,omitempty"`
}

type startServiceResponse struct {
	BaseResponse
	Service          string `plist:"Service"`
	Port             int    `plist:"Port"`
	EnableServiceSSL bool   `plist:"EnableServiceSSL"`
}

// pairRecordPayload is the record subset sent on the wire during Pair;
// private keys never leave the host.
type pairRecordPayload struct {
	DeviceCertificate []byte `plist:"DeviceCertificate,omitempty"`
	HostCertificate   []byte `plist:"HostCertificate"`
	RootCertificate   []byte `plist:"RootCertificate"`
	HostID            string `plist:"HostID"`
	SystemBUID        string `plist:"SystemBUID"`
}

type pairRequest struct {
	BaseRequest
	PairRecord     pairRecordPayload `plist:"PairRecord"`
	HostName       string            `plist:"HostName,omitempty"`
	PairingOptions map[string]any    `plist:"PairingOptions,omitempty"`
}

type pairResponse struct {
	BaseResponse
	EscrowBag []byte `plist:"EscrowBag,omitempty"`
}
