package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latoulicious/tarulink/pkg/protocol"
)

func newTestClient(t *testing.T, handler http.Handler, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts.Origin = srv.URL
	if opts.Password == "" {
		opts.Password = "youshallnotpass"
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{Origin: "http://localhost:2333"}, false},
		{"https", Options{Origin: "https://node.example.com"}, false},
		{"empty origin", Options{}, true},
		{"ws origin", Options{Origin: "ws://localhost:2333"}, true},
		{"bad password", Options{Origin: "http://localhost:2333", Password: "a\nb"}, true},
		{"negative retry", Options{Origin: "http://localhost:2333", RetryLimit: -1}, true},
		{"negative rps", Options{Origin: "http://localhost:2333", RequestsPerSecond: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.ApplyDefaults()
			err := tt.opts.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOptions)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClientURLs(t *testing.T) {
	c, err := New(Options{Origin: "https://node.example.com/"})
	require.NoError(t, err)

	assert.Equal(t, "https://node.example.com/v4", c.BaseURL())
	assert.Equal(t, "wss://node.example.com/v4/websocket", c.WebsocketURL())
	assert.Equal(t, "node.example.com:443", c.Addr())

	c, err = New(Options{Origin: "http://127.0.0.1:2333", Version: 3})
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:2333/v3/websocket", c.WebsocketURL())
	assert.Equal(t, "127.0.0.1:2333", c.Addr())
}

func TestDoSendsHeaders(t *testing.T) {
	var got http.Header
	var query string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		query = r.URL.RawQuery
		w.Write([]byte(`{}`))
	}), Options{StackTrace: true, UserAgent: "test/1.0"})

	_, err := c.Do(context.Background(), http.MethodGet, "/info", nil)
	require.NoError(t, err)
	assert.Equal(t, "youshallnotpass", got.Get("Authorization"))
	assert.Equal(t, "test/1.0", got.Get("User-Agent"))
	assert.Equal(t, "trace=true", query)
}

func TestDoRejectsInvalidRequest(t *testing.T) {
	c, err := New(Options{Origin: "http://localhost:2333"})
	require.NoError(t, err)

	_, err = c.Do(context.Background(), "", "/info", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = c.Do(context.Background(), http.MethodGet, "info", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestHTTPError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"timestamp": 1667857581613,
			"status":    404,
			"error":     "Not Found",
			"message":   "Session not found",
			"path":      "/v4/sessions/xtaug914v9k5032f/players/817327181659111454",
		})
	}), Options{})

	_, err := c.FetchInfo(context.Background())
	require.Error(t, err)

	var restErr *Error
	require.True(t, errors.As(err, &restErr))
	assert.Equal(t, CategoryHTTP, restErr.Category)
	assert.Equal(t, 404, restErr.Status)
	assert.Equal(t, "Not Found", restErr.Reason)
	assert.Equal(t, "Session not found", restErr.Message)
	assert.Equal(t, 404, StatusCode(err))
}

func TestHTTPErrorWithoutDocument(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}), Options{})

	_, err := c.FetchStats(context.Background())
	var restErr *Error
	require.True(t, errors.As(err, &restErr))
	assert.Equal(t, http.StatusBadGateway, restErr.Status)
	assert.Equal(t, "bad gateway", restErr.Message)
	assert.Equal(t, "/stats", restErr.Path)
}

func TestTimeoutRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		w.Write([]byte("4.0.8"))
	}), Options{RequestTimeout: 50 * time.Millisecond, RetryLimit: 2})

	version, err := c.FetchVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4.0.8", version)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTimeoutWithoutRetries(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}), Options{RequestTimeout: 30 * time.Millisecond})

	_, err := c.FetchInfo(context.Background())
	assert.True(t, IsTimeout(err))
}

func TestHTTPErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}), Options{RetryLimit: 3})

	_, err := c.FetchInfo(context.Background())
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestAbortedByCaller(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.FetchInfo(ctx)
	var restErr *Error
	require.True(t, errors.As(err, &restErr))
	assert.Equal(t, CategoryAborted, restErr.Category)
}

func TestEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v4/loadtracks", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ytsearch:never gonna", r.URL.Query().Get("identifier"))
		w.Write([]byte(`{"loadType":"search","data":[{"encoded":"QAAA","info":{"identifier":"dQw4w9WgXcQ","title":"Never Gonna Give You Up","sourceName":"youtube"}}]}`))
	})
	mux.HandleFunc("PATCH /v4/sessions/abc/players/123", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("noReplace"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"paused":true}`, string(body))
		w.Write([]byte(`{"guildId":"123","paused":true,"volume":100}`))
	})
	mux.HandleFunc("DELETE /v4/sessions/abc/players/123", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /v4/sessions/abc/players", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"guildId":"123"},{"guildId":"456"}]`))
	})
	mux.HandleFunc("GET /v4/routeplanner/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	c := newTestClient(t, mux, Options{SessionID: "abc"})
	ctx := context.Background()

	result, err := c.LoadTracks(ctx, "ytsearch:never gonna")
	require.NoError(t, err)
	tracks, err := result.Search()
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "dQw4w9WgXcQ", tracks[0].Info.Identifier)

	player, err := c.UpdatePlayer(ctx, "123", &protocol.PlayerUpdate{Paused: protocol.Ptr(true)}, &UpdatePlayerParams{NoReplace: true})
	require.NoError(t, err)
	assert.True(t, player.Paused)

	players, err := c.FetchPlayers(ctx, "")
	require.NoError(t, err)
	assert.Len(t, players, 2)

	ok, err := c.DestroyPlayer(ctx, "123")
	require.NoError(t, err)
	assert.True(t, ok)

	status, err := c.FetchRoutePlannerStatus(ctx)
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestSessionEndpointsRequireSession(t *testing.T) {
	c, err := New(Options{Origin: "http://localhost:2333"})
	require.NoError(t, err)

	_, err = c.FetchPlayer(context.Background(), "123")
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = c.DestroyPlayer(context.Background(), "123")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSessionRequestsRunInOrder(t *testing.T) {
	var mu sync.Mutex
	var inFlight, maxInFlight int
	var order []string

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inFlight++
		maxInFlight = max(maxInFlight, inFlight)
		order = append(order, r.URL.Path)
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		w.Write([]byte(`{}`))
	}), Options{SessionID: "abc"})

	var wg sync.WaitGroup
	for _, guild := range []string{"1", "2", "3", "4"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.FetchPlayer(context.Background(), guild)
			assert.NoError(t, err)
		}()
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight)
	assert.Len(t, order, 4)
	assert.Equal(t, 0, c.PendingSessionRequests())
}

func TestDropSessionRequests(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), Options{SessionID: "abc"})

	errs := make(chan error, 3)
	for _, guild := range []string{"1", "2", "3"} {
		go func() {
			_, err := c.FetchPlayer(context.Background(), guild)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool {
		return c.PendingSessionRequests() == 3
	}, time.Second, 5*time.Millisecond)

	c.DropSessionRequests("Connection to node 'main' closed")

	for range 3 {
		err := <-errs
		assert.ErrorIs(t, err, ErrConnectionClosed)
		var restErr *Error
		require.True(t, errors.As(err, &restErr))
		assert.Equal(t, CategoryClosed, restErr.Category)
	}
	assert.Equal(t, 0, c.PendingSessionRequests())
}

func TestNonSessionRequestsBypassQueue(t *testing.T) {
	block := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v4/sessions/abc/players/1" {
			<-block
		}
		w.Write([]byte(`{}`))
	}), Options{SessionID: "abc"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.FetchPlayer(context.Background(), "1")
	}()

	require.Eventually(t, func() bool {
		return c.PendingSessionRequests() == 1
	}, time.Second, 5*time.Millisecond)

	_, err := c.FetchInfo(context.Background())
	assert.NoError(t, err)

	close(block)
	<-done
}
