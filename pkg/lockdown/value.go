package lockdown

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/devicekit/idevice/pkg/plistval"
	"github.com/devicekit/idevice/pkg/status"
)

var colorFaint = color.New(color.Faint, color.FgHiBlue).SprintFunc()
var colorBold = color.New(color.Bold).SprintFunc()

// GetValue reads one value from the device's property store. Empty domain
// and key return the whole root dictionary.
func (c *Client) GetValue(domain, key string) (plistval.Value, error) {
	if err := c.requireReady("get value"); err != nil {
		return nil, err
	}
	req := &valueRequest{
		BaseRequest: c.basic("GetValue"),
		Domain:      domain,
		Key:         key,
	}
	var resp valueResponse
	if err := c.request(req, &resp); err != nil {
		return nil, err
	}
	if err := status.FromLockdown(resp.Error, "lockdown: get value"); err != nil {
		return nil, err
	}
	return plistval.FromAny(resp.Value)
}

// SetValue writes one value into the device's property store.
func (c *Client) SetValue(domain, key string, value plistval.Value) error {
	if err := c.requireReady("set value"); err != nil {
		return err
	}
	req := &valueRequest{
		BaseRequest: c.basic("SetValue"),
		Domain:      domain,
		Key:         key,
		Value:       plistval.ToAny(value),
	}
	var resp valueResponse
	if err := c.request(req, &resp); err != nil {
		return err
	}
	return status.FromLockdown(resp.Error, "lockdown: set value")
}

// RemoveValue deletes one value from the device's property store.
func (c *Client) RemoveValue(domain, key string) error {
	if err := c.requireReady("remove value"); err != nil {
		return err
	}
	req := &valueRequest{
		BaseRequest: c.basic("RemoveValue"),
		Domain:      domain,
		Key:         key,
	}
	var resp valueResponse
	if err := c.request(req, &resp); err != nil {
		return err
	}
	return status.FromLockdown(resp.Error, "lockdown: remove value")
}

// DeviceValues is the commonly used subset of the root property store.
type DeviceValues struct {
	ActivationState       string  `plist:"ActivationState,omitempty"`
	BuildVersion          string  `plist:"BuildVersion,omitempty"`
	CPUArchitecture       string  `plist:"CPUArchitecture,omitempty"`
	DeviceClass           string  `plist:"DeviceClass,omitempty"`
	DeviceColor           string  `plist:"DeviceColor,omitempty"`
	DeviceName            string  `plist:"DeviceName,omitempty"`
	HardwareModel         string  `plist:"HardwareModel,omitempty"`
	HostAttached          bool    `plist:"HostAttached,omitempty"`
	PasswordProtected     bool    `plist:"PasswordProtected,omitempty"`
	ProductName           string  `plist:"ProductName,omitempty"`
	ProductType           string  `plist:"ProductType,omitempty"`
	ProductVersion        string  `plist:"ProductVersion,omitempty"`
	ProtocolVersion       string  `plist:"ProtocolVersion,omitempty"`
	SerialNumber          string  `plist:"SerialNumber,omitempty"`
	TelephonyCapability   bool    `plist:"TelephonyCapability,omitempty"`
	TimeIntervalSince1970 float64 `plist:"TimeIntervalSince1970,omitempty"`
	TimeZone              string  `plist:"TimeZone,omitempty"`
	TrustedHostAttached   bool    `plist:"TrustedHostAttached,omitempty"`
	UniqueDeviceID        string  `plist:"UniqueDeviceID,omitempty"`
	WiFiAddress           string  `plist:"WiFiAddress,omitempty"`
}

func (dv DeviceValues) String() string {
	return fmt.Sprintf(
		colorFaint("Device Name:         ")+colorBold("%s\n")+
			colorFaint("Device Class:        ")+colorBold("%s\n")+
			colorFaint("Product Name:        ")+colorBold("%s\n")+
			colorFaint("Product Type:        ")+colorBold("%s\n")+
			colorFaint("Product Version:     ")+colorBold("%s\n")+
			colorFaint("Build Version:       ")+colorBold("%s\n")+
			colorFaint("Hardware Model:      ")+colorBold("%s\n")+
			colorFaint("CPU Architecture:    ")+colorBold("%s\n")+
			colorFaint("Serial Number:       ")+colorBold("%s\n")+
			colorFaint("UniqueDeviceID:      ")+colorBold("%s\n")+
			colorFaint("WiFi Address:        ")+colorBold("%s\n")+
			colorFaint("TimeZone:            ")+colorBold("%s\n")+
			colorFaint("HostAttached:        ")+colorBold("%t\n")+
			colorFaint("TrustedHostAttached: ")+colorBold("%t\n")+
			colorFaint("ActivationState:     ")+colorBold("%s\n"),
		dv.DeviceName,
		dv.DeviceClass,
		dv.ProductName,
		dv.ProductType,
		dv.ProductVersion,
		dv.BuildVersion,
		dv.HardwareModel,
		dv.CPUArchitecture,
		dv.SerialNumber,
		dv.UniqueDeviceID,
		dv.WiFiAddress,
		dv.TimeZone,
		dv.HostAttached,
		dv.TrustedHostAttached,
		dv.ActivationState,
	)
}

type getValuesResponse struct {
	BaseResponse
	Value *DeviceValues `plist:"Value,omitempty"`
}

// GetValues fetches the root property store into a typed struct.
func (c *Client) GetValues() (*DeviceValues, error) {
	if err := c.requireReady("get values"); err != nil {
		return nil, err
	}
	req := &valueRequest{BaseRequest: c.basic("GetValue")}
	var resp getValuesResponse
	if err := c.request(req, &resp); err != nil {
		return nil, err
	}
	if err := status.FromLockdown(resp.Error, "lockdown: get values"); err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return nil, status.New(status.NotEnoughData, "lockdown: get values")
	}
	return resp.Value, nil
}
