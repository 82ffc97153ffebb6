package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/latoulicious/tarulink/pkg/logging"
)

// Client talks to one node's HTTP API
type Client struct {
	origin     string
	version    int
	password   string
	userAgent  string
	timeout    time.Duration
	retryLimit int
	stackTrace bool

	http    *http.Client
	limiter *rate.Limiter
	logger  logging.Logger

	mu        sync.RWMutex
	sessionID string
	queue     sessionQueue
}

// RequestOptions tweak a single request
type RequestOptions struct {
	Body    any
	Query   url.Values
	Headers http.Header
	// Timeout overrides the client's request timeout
	Timeout time.Duration
	// Unversioned skips the /v{version} prefix
	Unversioned bool
}

// Response is a successful response with its body fully read
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	path   string
}

// Decode unmarshals the body into out
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return transportError(CategoryDecode, r.path, err)
	}
	return nil
}

// New creates a client from opts after applying defaults
func New(opts Options) (*Client, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		origin:     strings.TrimRight(opts.Origin, "/"),
		version:    opts.Version,
		password:   opts.Password,
		userAgent:  opts.UserAgent,
		timeout:    opts.RequestTimeout,
		retryLimit: opts.RetryLimit,
		stackTrace: opts.StackTrace,
		http:       opts.HTTPClient,
		logger:     opts.Logger.With(logging.String("component", "rest")),
		sessionID:  opts.SessionID,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)
	}
	return c, nil
}

func (c *Client) Origin() string                { return c.origin }
func (c *Client) Version() int                  { return c.version }
func (c *Client) UserAgent() string             { return c.userAgent }
func (c *Client) RequestTimeout() time.Duration { return c.timeout }

// BaseURL is the origin with the version prefix
func (c *Client) BaseURL() string {
	return c.origin + "/v" + strconv.Itoa(c.version)
}

// WebsocketURL is the ws(s) address of the node's websocket
func (c *Client) WebsocketURL() string {
	u := c.BaseURL() + routeWebsocket
	if strings.HasPrefix(u, "https://") {
		return "wss://" + strings.TrimPrefix(u, "https://")
	}
	return "ws://" + strings.TrimPrefix(u, "http://")
}

func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// PendingSessionRequests returns the number of session requests in flight or queued
func (c *Client) PendingSessionRequests() int {
	return c.queue.len()
}

// DropSessionRequests aborts the in-flight session request and rejects the queued ones
func (c *Client) DropSessionRequests(reason string) {
	if n := c.queue.drop(reason); n > 0 {
		c.logger.Debug("Dropped session requests", logging.Int("count", n), logging.String("reason", reason))
	}
}

// Do performs a request against the node. Paths containing the current session id
// are serialized with every other such request.
func (c *Client) Do(ctx context.Context, method, path string, opts *RequestOptions) (*Response, error) {
	if method == "" || !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: %s %q", ErrInvalidRequest, method, path)
	}
	if opts == nil {
		opts = &RequestOptions{}
	}

	if sid := c.SessionID(); sid != "" && strings.Contains(path, sid) {
		ticket, err := c.queue.acquire(ctx)
		if err != nil {
			return nil, c.classify(ctx, ctx, path, err)
		}
		defer ticket.release()
		ctx = ticket.ctx
	}

	for attempt := 0; ; attempt++ {
		res, err := c.once(ctx, method, path, opts)
		if err == nil {
			return res, nil
		}
		if IsTimeout(err) && attempt < c.retryLimit && ctx.Err() == nil {
			c.logger.Debug("Retrying timed out request",
				logging.String("method", method),
				logging.String("path", path),
				logging.Int("attempt", attempt+1))
			continue
		}
		return nil, err
	}
}

func (c *Client) once(ctx context.Context, method, path string, opts *RequestOptions) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.classify(ctx, ctx, path, err)
		}
	}

	timeout := c.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.BaseURL() + path
	if opts.Unversioned {
		endpoint = c.origin + path
	}
	query := url.Values{}
	for k, v := range opts.Query {
		query[k] = v
	}
	if c.stackTrace {
		query.Set("trace", "true")
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if opts.Body != nil {
		raw, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: encode body: %v", ErrInvalidRequest, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for k, v := range opts.Headers {
		req.Header[k] = v
	}
	req.Header.Set("Authorization", c.password)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, path, err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		restErr := &Error{}
		if json.Unmarshal(raw, restErr) != nil || restErr.Status == 0 {
			restErr = &Error{
				Timestamp: time.Now().UnixMilli(),
				Reason:    http.StatusText(res.StatusCode),
				Message:   strings.TrimSpace(string(raw)),
				Path:      path,
			}
		}
		restErr.Status = res.StatusCode
		restErr.Category = CategoryHTTP
		return nil, restErr
	}

	return &Response{Status: res.StatusCode, Header: res.Header, Body: raw, path: path}, nil
}

// classify maps a transport failure onto a category. parent is the caller's
// context, reqCtx the per-attempt one.
func (c *Client) classify(parent, reqCtx context.Context, path string, err error) error {
	if cause := context.Cause(parent); cause != nil && errors.Is(cause, ErrConnectionClosed) {
		return transportError(CategoryClosed, path, cause)
	}
	if errors.Is(err, ErrConnectionClosed) {
		return transportError(CategoryClosed, path, err)
	}
	if parent.Err() != nil {
		return transportError(CategoryAborted, path, parent.Err())
	}
	if reqCtx.Err() != nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return transportError(CategoryTimeout, path, context.DeadlineExceeded)
	}
	return transportError(CategoryNetwork, path, err)
}
