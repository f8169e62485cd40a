//go:build windows

package usbmux

func defaultEndpoint() (network, addr string) {
	return "tcp", "127.0.0.1:27015"
}
