package node

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/latoulicious/tarulink/pkg/common"
	"github.com/latoulicious/tarulink/pkg/rest"
)

const (
	DefaultStatsInterval    = 60 * time.Second
	DefaultHighestLatency   = 2 * time.Second
	DefaultReconnectDelay   = 10 * time.Second
	DefaultReconnectLimit   = 3
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultClientName       = "tarulink/1.0"
)

var ErrInvalidOptions = errors.New("invalid node options")

// Options configures a node. The embedded REST options configure its HTTP client.
type Options struct {
	rest.Options

	Name string
	// ClientID is the bot's user id, sent as User-Id
	ClientID   string
	ClientName string

	// StatsInterval is how often the node sends stats, the keepalive window is StatsInterval+HighestLatency
	StatsInterval  time.Duration
	HighestLatency time.Duration

	ReconnectDelay time.Duration
	// ReconnectLimit caps delayed reconnect attempts, negative means unlimited
	ReconnectLimit int
	// NoReconnect gives up on the first unexpected close
	NoReconnect bool

	HandshakeTimeout time.Duration
}

// ApplyDefaults fills unset fields with their defaults
func (o *Options) ApplyDefaults() {
	o.Options.ApplyDefaults()
	if o.ClientName == "" {
		o.ClientName = DefaultClientName
	}
	if o.StatsInterval == 0 {
		o.StatsInterval = DefaultStatsInterval
	}
	if o.HighestLatency == 0 {
		o.HighestLatency = DefaultHighestLatency
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.ReconnectLimit == 0 {
		o.ReconnectLimit = DefaultReconnectLimit
	}
	if o.NoReconnect {
		o.ReconnectLimit = 0
	}
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
}

// Validate validates the options and returns any errors
func (o *Options) Validate() error {
	var errs []string

	if !common.IsNonEmpty(o.Name) {
		errs = append(errs, "name must be a non-empty string")
	}
	if !common.IsSnowflake(o.ClientID) {
		errs = append(errs, "client id is not a valid Discord id")
	}
	if o.StatsInterval <= 0 {
		errs = append(errs, "stats interval must be > 0")
	}
	if o.HighestLatency <= 0 {
		errs = append(errs, "highest latency must be > 0")
	}
	if o.ReconnectDelay <= 0 {
		errs = append(errs, "reconnect delay must be > 0")
	}
	if o.HandshakeTimeout <= 0 {
		errs = append(errs, "handshake timeout must be > 0")
	}
	if strings.ContainsAny(o.ClientName, "\r\n") {
		errs = append(errs, "client name is not a valid header value")
	}

	if err := o.Options.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, errs)
	}
	return nil
}
