package rest

import (
	"errors"
	"fmt"
	"net/http"
)

// Client errors
var (
	ErrInvalidOptions   = errors.New("invalid rest options")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNoSession        = errors.New("session id neither set nor provided")
	ErrConnectionClosed = errors.New("connection closed")
)

// Category classifies a failed request without regard to node-side severity
type Category int

const (
	CategoryHTTP Category = iota
	CategoryTimeout
	CategoryAborted
	CategoryClosed
	CategoryNetwork
	CategoryDecode
)

func (c Category) String() string {
	switch c {
	case CategoryHTTP:
		return "http"
	case CategoryTimeout:
		return "timeout"
	case CategoryAborted:
		return "aborted"
	case CategoryClosed:
		return "closed"
	case CategoryNetwork:
		return "network"
	case CategoryDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is a failed request. HTTP failures carry the node's error document.
type Error struct {
	// Unix timestamp in milliseconds
	Timestamp int64  `json:"timestamp"`
	Status    int    `json:"status"`
	Reason    string `json:"error"`
	Trace     string `json:"trace,omitempty"`
	Message   string `json:"message"`
	Path      string `json:"path"`

	Category Category `json:"-"`
	Err      error    `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Category == CategoryHTTP {
		return fmt.Sprintf("rest: %d %s %s: %s", e.Status, e.Reason, e.Path, msg)
	}
	return fmt.Sprintf("rest: %s %s: %s", e.Category, e.Path, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a request that timed out
func IsTimeout(err error) bool {
	var restErr *Error
	return errors.As(err, &restErr) && restErr.Category == CategoryTimeout
}

// StatusCode returns the HTTP status of err, or 0 if it is not an HTTP failure
func StatusCode(err error) int {
	var restErr *Error
	if errors.As(err, &restErr) && restErr.Category == CategoryHTTP {
		return restErr.Status
	}
	return 0
}

func transportError(category Category, path string, err error) *Error {
	return &Error{
		Status:   http.StatusProcessing,
		Reason:   "Processing",
		Path:     path,
		Message:  err.Error(),
		Category: category,
		Err:      err,
	}
}
