package usbmux

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
)

// Config controls how the muxer daemon is reached. Values come from the
// environment so tooling built on this package behaves like the rest of the
// ecosystem without extra flags.
type Config struct {
	// Address overrides the daemon endpoint. Accepts a unix socket path or a
	// host:port pair for network-forwarded daemons.
	Address     string        `env:"USBMUXD_SOCKET_ADDRESS"`
	DialTimeout time.Duration `env:"USBMUXD_DIAL_TIMEOUT" envDefault:"5s"`
	// IOTimeout is the default deadline applied to request/response
	// exchanges with the daemon. Zero disables deadlines.
	IOTimeout time.Duration `env:"USBMUXD_IO_TIMEOUT" envDefault:"30s"`
}

// LoadConfig parses the package configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("usbmux: failed to parse config from env: %w", err)
	}
	return cfg, nil
}

// Dialer opens a raw connection to the muxer daemon.
type Dialer func() (net.Conn, error)

// DefaultDialer builds a dialer from the environment configuration.
func DefaultDialer() (Dialer, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.dialer(), nil
}

func (c *Config) dialer() Dialer {
	return func() (net.Conn, error) {
		network, addr := c.endpoint()
		return net.DialTimeout(network, addr, c.DialTimeout)
	}
}

func (c *Config) endpoint() (network, addr string) {
	if c.Address == "" {
		return defaultEndpoint()
	}
	if strings.ContainsRune(c.Address, ':') && !strings.HasPrefix(c.Address, "/") {
		return "tcp", c.Address
	}
	return "unix", c.Address
}
