package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/latoulicious/tarulink/pkg/cron"
	"github.com/latoulicious/tarulink/pkg/database"
	"github.com/latoulicious/tarulink/pkg/metrics"
	"github.com/latoulicious/tarulink/pkg/node"
	"github.com/latoulicious/tarulink/pkg/player"
	"github.com/latoulicious/tarulink/pkg/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	mu   sync.Mutex
	errs map[string]error
	ran  []string
}

func (f *fakeJobs) Status() []cron.JobStatus {
	return []cron.JobStatus{{Name: "refresh-info", Schedule: cron.RefreshInfoSchedule, Runs: 2}}
}

func (f *fakeJobs) RunNow(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, name)
	return f.errs[name]
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]database.NodeSession
	err      error
}

func (f *fakeSessions) List(context.Context) ([]database.NodeSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []database.NodeSession
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSessions) Delete(_ context.Context, node string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[node]; !ok {
		return fmt.Errorf("%w: %s", database.ErrSessionNotFound, node)
	}
	delete(f.sessions, node)
	return nil
}

func newTestServer(t *testing.T, mutate func(*Options)) *httptest.Server {
	t.Helper()
	p, err := player.New(player.Options{
		Nodes: []node.Options{{
			Name:    "main",
			Options: rest.Options{Origin: "http://127.0.0.1:2333", Password: "youshallnotpass"},
		}},
		ForwardVoiceUpdate: func(context.Context, string, player.VoiceUpdate) error { return nil },
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close(context.Background()) })

	opts := Options{Player: p}
	if mutate != nil {
		mutate(&opts)
	}
	ts := httptest.NewServer(NewServer(opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, contentTypeJSON, resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	var resp Response
	status := do(t, http.MethodGet, ts.URL+"/health", &resp)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, player.ErrNotInitialized.Error(), resp.Error)
}

func TestNodesBeforeInit(t *testing.T) {
	ts := newTestServer(t, nil)

	var nodes []NodeView
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/nodes", &nodes))
	assert.Empty(t, nodes, "nodes are created on init")

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{name: "get", method: http.MethodGet, path: "/nodes/main"},
		{name: "relocate", method: http.MethodPost, path: "/nodes/main/relocate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp Response
			assert.Equal(t, http.StatusNotFound, do(t, tt.method, ts.URL+tt.path, &resp))
			assert.Equal(t, player.ErrNodeNotFound.Error(), resp.Error)
		})
	}
}

func TestQueues(t *testing.T) {
	ts := newTestServer(t, nil)

	var queues []QueueView
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/queues", &queues))
	assert.Empty(t, queues)

	var resp Response
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/queues/1089530211137658971", &resp))
	assert.Equal(t, player.ErrNoQueue.Error(), resp.Error)

	assert.Equal(t, http.StatusNotFound, do(t, http.MethodDelete, ts.URL+"/queues/1089530211137658971", &resp))
}

func TestJobs(t *testing.T) {
	jobs := &fakeJobs{errs: map[string]error{
		"missing": fmt.Errorf("%w: missing", cron.ErrJobNotFound),
		"busy":    fmt.Errorf("%w: busy", cron.ErrJobRunning),
		"broken":  errors.New("boom"),
	}}
	ts := newTestServer(t, func(o *Options) { o.Jobs = jobs })

	var status []cron.JobStatus
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/jobs", &status))
	require.Len(t, status, 1)
	assert.Equal(t, "refresh-info", status[0].Name)

	tests := []struct {
		job    string
		status int
	}{
		{job: "refresh-info", status: http.StatusOK},
		{job: "missing", status: http.StatusNotFound},
		{job: "busy", status: http.StatusConflict},
		{job: "broken", status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.job, func(t *testing.T) {
			var resp Response
			assert.Equal(t, tt.status, do(t, http.MethodPost, ts.URL+"/jobs/"+tt.job+"/run", &resp))
		})
	}
	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	assert.Equal(t, []string{"refresh-info", "missing", "busy", "broken"}, jobs.ran)
}

func TestSessions(t *testing.T) {
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sessions := &fakeSessions{sessions: map[string]database.NodeSession{
		"main": {Node: "main", SessionID: "abc123", UpdatedAt: updated},
	}}
	ts := newTestServer(t, func(o *Options) { o.Sessions = sessions })

	var views []SessionView
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/sessions", &views))
	assert.Equal(t, []SessionView{{Node: "main", SessionID: "abc123", UpdatedAt: updated}}, views)

	var resp Response
	assert.Equal(t, http.StatusOK, do(t, http.MethodDelete, ts.URL+"/sessions/main", &resp))
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodDelete, ts.URL+"/sessions/main", &resp))

	sessions.mu.Lock()
	sessions.err = errors.New("database not connected")
	sessions.mu.Unlock()
	assert.Equal(t, http.StatusInternalServerError, do(t, http.MethodGet, ts.URL+"/sessions", &resp))
}

func TestMetrics(t *testing.T) {
	collector := metrics.NewBasicCollector(nil)
	collector.RecordCounter(metrics.TracksStarted, 3, map[string]string{"node": "main"})
	ts := newTestServer(t, func(o *Options) { o.Metrics = collector })

	var snapshot metrics.Snapshot
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/metrics", &snapshot))
	require.Len(t, snapshot.Metrics, 1)
	for _, m := range snapshot.Metrics {
		assert.Equal(t, metrics.TracksStarted, m.Name)
		assert.Equal(t, 3.0, m.Value)
	}
}

func TestOptionalRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{"/jobs", "/sessions", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestStartStop(t *testing.T) {
	p, err := player.New(player.Options{
		Nodes:              []node.Options{{Name: "main", Options: rest.Options{Origin: "http://127.0.0.1:2333"}}},
		ForwardVoiceUpdate: func(context.Context, string, player.VoiceUpdate) error { return nil },
	})
	require.NoError(t, err)
	defer p.Close(context.Background())

	s := NewServer(Options{Addr: "127.0.0.1:0", Player: p})
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/queues")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop(context.Background()))
}
