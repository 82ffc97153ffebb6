package config

import (
	"errors"
	"time"

	"github.com/latoulicious/tarulink/pkg/node"
	"github.com/latoulicious/tarulink/pkg/rest"
)

// NodeConfig is one entry of the node list
type NodeConfig struct {
	Name     string `yaml:"name"`
	Origin   string `yaml:"origin"`
	Password string `yaml:"password"`

	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RetryLimit        int           `yaml:"retry_limit"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`

	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// ReconnectLimit of 0 uses the node default, negative is unlimited
	ReconnectLimit int  `yaml:"reconnect_limit"`
	NoReconnect    bool `yaml:"no_reconnect"`
}

func (n NodeConfig) validate() error {
	if n.Name == "" {
		return errors.New("name is required")
	}
	if n.Origin == "" {
		return errors.New("origin is required")
	}
	return nil
}

// NodeOptions converts the entry to node options. ClientID is left for the
// player to fill in on Init.
func (n NodeConfig) NodeOptions() node.Options {
	return node.Options{
		Options: rest.Options{
			Origin:            n.Origin,
			Password:          n.Password,
			RequestTimeout:    n.RequestTimeout,
			RetryLimit:        n.RetryLimit,
			RequestsPerSecond: n.RequestsPerSecond,
		},
		Name:           n.Name,
		ReconnectDelay: n.ReconnectDelay,
		ReconnectLimit: n.ReconnectLimit,
		NoReconnect:    n.NoReconnect,
	}
}

// NodeOptions converts every configured node
func (c *Config) NodeOptions() []node.Options {
	out := make([]node.Options, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		out = append(out, n.NodeOptions())
	}
	return out
}
