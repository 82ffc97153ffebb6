package rest

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/latoulicious/tarulink/pkg/logging"
)

const (
	DefaultVersion        = 4
	DefaultRequestTimeout = 10 * time.Second
	DefaultRetryLimit     = 0
	DefaultUserAgent      = "tarulink/1.0 (https://github.com/latoulicious/tarulink)"
)

// Options configures a node's REST client
type Options struct {
	// Origin is the http(s) origin of the node, e.g. http://localhost:2333
	Origin   string
	Password string

	UserAgent string
	Version   int

	RequestTimeout time.Duration
	// RetryLimit is the number of extra attempts made after a request times out
	RetryLimit int
	// StackTrace asks the node to include stack traces in error responses
	StackTrace bool

	// SessionID resumes a previous session
	SessionID string

	// RequestsPerSecond paces outgoing requests, 0 disables pacing
	RequestsPerSecond float64
	Burst             int

	HTTPClient *http.Client
	Logger     logging.Logger
}

// ApplyDefaults fills unset fields with their defaults
func (o *Options) ApplyDefaults() {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Version == 0 {
		o.Version = DefaultVersion
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.RequestsPerSecond > 0 && o.Burst <= 0 {
		o.Burst = 1
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = logging.NullLogger()
	}
}

// Validate validates the options and returns any errors
func (o *Options) Validate() error {
	var errors []string

	u, err := url.Parse(o.Origin)
	switch {
	case err != nil || o.Origin == "":
		errors = append(errors, "origin must be a valid URL")
	case u.Scheme != "http" && u.Scheme != "https":
		errors = append(errors, "origin protocol must be 'http' or 'https'")
	case u.Host == "":
		errors = append(errors, "origin must have a host")
	}

	if !validHeaderValue(o.Password) {
		errors = append(errors, "password is not a valid header value")
	}
	if !validHeaderValue(o.UserAgent) {
		errors = append(errors, "user agent is not a valid header value")
	}
	if o.Version <= 0 {
		errors = append(errors, "version must be a natural number")
	}
	if o.RequestTimeout <= 0 {
		errors = append(errors, "request timeout must be > 0")
	}
	if o.RetryLimit < 0 {
		errors = append(errors, "retry limit must be >= 0")
	}
	if o.RequestsPerSecond < 0 {
		errors = append(errors, "requests per second must be >= 0")
	}

	if len(errors) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, errors)
	}
	return nil
}

func validHeaderValue(v string) bool {
	return !strings.ContainsAny(v, "\r\n\x00")
}
