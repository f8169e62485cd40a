//go:build !windows

package usbmux

func defaultEndpoint() (network, addr string) {
	return "unix", "/var/run/usbmuxd"
}
