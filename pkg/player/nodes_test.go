package player

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latoulicious/tarulink/pkg/node"
	"github.com/latoulicious/tarulink/pkg/protocol"
)

func TestMemoryMetric(t *testing.T) {
	tests := []struct {
		name string
		mem  protocol.Memory
		want float64
	}{
		{"no reservable", protocol.Memory{Free: 10}, 0},
		{"all free", protocol.Memory{Free: 100, Reservable: 100}, 1},
		{"half free half allocated", protocol.Memory{Free: 50, Allocated: 50, Reservable: 100}, 0.5},
		{"fully allocated", protocol.Memory{Free: 0, Allocated: 100, Reservable: 100}, 0},
		{"over allocated", protocol.Memory{Free: 0, Allocated: 200, Reservable: 100}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MemoryMetric(tt.mem), 1e-9)
		})
	}
}

func TestWorkloadMetric(t *testing.T) {
	tests := []struct {
		name string
		cpu  protocol.CPU
		want float64
	}{
		{"no system load", protocol.CPU{LavalinkLoad: 0.5}, 0},
		{"no lavalink load", protocol.CPU{SystemLoad: 0.5}, 0},
		{"idle", protocol.CPU{SystemLoad: 0.1, LavalinkLoad: 0.1}, 0.9},
		{"busy", protocol.CPU{SystemLoad: 1, LavalinkLoad: 1}, 0},
		{"overloaded", protocol.CPU{SystemLoad: 4, LavalinkLoad: 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, WorkloadMetric(tt.cpu), 1e-9)
		})
	}
}

func TestStreamingMetric(t *testing.T) {
	tests := []struct {
		name   string
		frames *protocol.FrameStats
		want   float64
	}{
		{"no frame stats", nil, -1},
		{"nothing expected", &protocol.FrameStats{}, -1},
		{"perfect", &protocol.FrameStats{Sent: 3000}, 1},
		{"all nulled", &protocol.FrameStats{Nulled: 3000}, 0},
		{"negative deficit ignored", &protocol.FrameStats{Sent: 3000, Deficit: -50}, 1},
		{"some loss", &protocol.FrameStats{Sent: 2700, Nulled: 300}, 0.9 - 0.3*0.1},
		{"some deficit", &protocol.FrameStats{Sent: 2700, Deficit: 300}, 0.9 - 0.7*0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, StreamingMetric(tt.frames), 1e-9)
		})
	}
}

func TestComputeMetricsBounds(t *testing.T) {
	stats := []protocol.Stats{
		{},
		{Memory: protocol.Memory{Free: -5, Allocated: -5, Reservable: 1}},
		{Memory: protocol.Memory{Free: 1 << 40, Reservable: 1}, CPU: protocol.CPU{SystemLoad: -1, LavalinkLoad: -1}},
		{FrameStats: &protocol.FrameStats{Sent: -10, Nulled: 20, Deficit: 5}},
	}
	for _, s := range stats {
		mt := ComputeMetrics(&s)
		assert.GreaterOrEqual(t, mt.Memory, 0.0)
		assert.LessOrEqual(t, mt.Memory, 1.0)
		assert.GreaterOrEqual(t, mt.Workload, 0.0)
		assert.LessOrEqual(t, mt.Workload, 1.0)
		if mt.Streaming != -1 {
			assert.GreaterOrEqual(t, mt.Streaming, 0.0)
			assert.LessOrEqual(t, mt.Streaming, 1.0)
		}
	}
}

func names(nodes []*node.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
	}
	return out
}

func TestRelevantOrdering(t *testing.T) {
	fakes := []*fakeNode{newFakeNode(t, "c"), newFakeNode(t, "b"), newFakeNode(t, "a")}
	p, _ := newTestPlayer(t, fakes, nil)
	startPlayer(t, p)

	// creation order wins without metrics
	assert.Equal(t, []string{"c", "b", "a"}, names(p.Nodes().Relevant()))

	p.nodes.mu.Lock()
	p.nodes.metrics["a"] = Metrics{Memory: 0.9, Workload: 0.9, Streaming: 0.9}
	p.nodes.metrics["b"] = Metrics{Memory: 0.1, Workload: 0.1, Streaming: -1}
	p.nodes.mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, names(p.Nodes().Relevant()))

	// streaming data beats better memory and workload
	p.nodes.mu.Lock()
	p.nodes.metrics["b"] = Metrics{Memory: 1, Workload: 1, Streaming: -1}
	p.nodes.metrics["c"] = Metrics{Memory: 0.1, Workload: 0.1, Streaming: 0.1}
	p.nodes.mu.Unlock()
	assert.Equal(t, []string{"a", "c", "b"}, names(p.Nodes().Relevant()))

	// only streaming counts with memory and workload weighed out
	p.nodes.mu.Lock()
	p.nodes.metrics["c"] = Metrics{Memory: 0, Workload: 0, Streaming: 1}
	p.nodes.mu.Unlock()
	assert.Equal(t, []string{"c", "a", "b"}, names(p.Nodes().RelevantBy(Weights{Streaming: 1})))

	// out of range weights are clamped
	assert.Equal(t, []string{"c", "a", "b"}, names(p.Nodes().RelevantBy(Weights{Memory: -3, Workload: -1, Streaming: 7})))
}

func TestRelevantSkipsUnreadyNodes(t *testing.T) {
	a, b := newFakeNode(t, "a"), newFakeNode(t, "b")
	p, _ := newTestPlayer(t, []*fakeNode{a, b}, nil)
	startPlayer(t, p)

	require.NoError(t, p.Nodes().DisconnectNode(context.Background(), "a", "maintenance"))
	assert.Equal(t, []string{"b"}, names(p.Nodes().Relevant()))

	state, err := p.Nodes().State("a")
	require.NoError(t, err)
	assert.Equal(t, node.StateDisconnected, state)
	assert.True(t, p.Nodes().IsState("b", node.StateReady))
}

func TestStatsUpdateMetrics(t *testing.T) {
	f := newFakeNode(t, "a")
	p, _ := newTestPlayer(t, []*fakeNode{f}, nil)
	startPlayer(t, p)

	_, ok := p.Nodes().Metrics("a")
	assert.False(t, ok)

	f.send(map[string]any{
		"op":      "stats",
		"players": 1,
		"memory":  map[string]any{"free": 100, "used": 0, "allocated": 0, "reservable": 100},
		"cpu":     map[string]any{"cores": 4, "systemLoad": 0.1, "lavalinkLoad": 0.1},
		"frameStats": map[string]any{
			"sent": 3000, "nulled": 0, "deficit": 0,
		},
	})
	require.Eventually(t, func() bool {
		_, ok := p.Nodes().Metrics("a")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	mt, _ := p.Nodes().Metrics("a")
	assert.InDelta(t, 1, mt.Memory, 1e-9)
	assert.InDelta(t, 0.9, mt.Workload, 1e-9)
	assert.InDelta(t, 1, mt.Streaming, 1e-9)

	require.NoError(t, p.Nodes().DisconnectNode(context.Background(), "a", ""))
	_, ok = p.Nodes().Metrics("a")
	assert.False(t, ok)
}

func TestNodeManagerCreate(t *testing.T) {
	f := newFakeNode(t, "a")
	p, _ := newTestPlayer(t, []*fakeNode{f}, nil)

	_, err := p.Nodes().Create(f.options())
	require.ErrorIs(t, err, ErrNotInitialized)

	startPlayer(t, p)
	_, err = p.Nodes().Create(f.options())
	require.ErrorIs(t, err, ErrNodeExists)

	other := newFakeNode(t, "b")
	n, err := p.Nodes().Create(other.options())
	require.NoError(t, err)
	assert.True(t, n.Disconnected())
	assert.Equal(t, []string{"a", "b"}, p.Nodes().Names())
	assert.Equal(t, 2, p.Nodes().Len())

	ok, err := p.Nodes().ConnectNode(context.Background(), "b")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = p.Nodes().ConnectNode(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestNodeManagerDelete(t *testing.T) {
	f := newFakeNode(t, "a")
	p, _ := newTestPlayer(t, []*fakeNode{f}, nil)
	startPlayer(t, p)

	require.ErrorIs(t, p.Nodes().Delete("a"), ErrNodeConnected)
	require.ErrorIs(t, p.Nodes().Delete("missing"), ErrNodeNotFound)

	require.NoError(t, p.Nodes().DisconnectNode(context.Background(), "a", ""))
	require.NoError(t, p.Nodes().Delete("a"))
	assert.False(t, p.Nodes().Has("a"))
	assert.Nil(t, p.Nodes().Info("a"))
	assert.Empty(t, p.Nodes().Relevant())
}

func TestNodeSupports(t *testing.T) {
	a, b := newFakeNode(t, "a"), newFakeNode(t, "b")
	b.info.SourceManagers = []string{"soundcloud"}
	b.info.Filters = []string{"volume"}
	b.info.Plugins = nil
	p, _ := newTestPlayer(t, []*fakeNode{a, b}, nil)
	startPlayer(t, p)

	tests := []struct {
		feature Feature
		value   string
		want    []string
	}{
		{FeatureSource, "youtube", []string{"a"}},
		{FeatureSource, "soundcloud", []string{"a", "b"}},
		{FeatureSource, "deezer", []string{}},
		{FeatureFilter, "timescale", []string{"a"}},
		{FeatureFilter, "volume", []string{"a", "b"}},
		{FeaturePlugin, "LavaSrc", []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.feature.String()+"/"+tt.value, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, p.Nodes().Supports(tt.feature, tt.value))
		})
	}

	assert.False(t, p.Nodes().NodeSupports(FeatureSource, "youtube", "missing"))
}

func TestFetchInfoCached(t *testing.T) {
	f := newFakeNode(t, "a")
	p, _ := newTestPlayer(t, []*fakeNode{f}, nil)
	startPlayer(t, p)

	info, err := p.Nodes().FetchInfo(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"youtube", "soundcloud"}, info.SourceManagers)

	f.mu.Lock()
	f.info.SourceManagers = []string{"bandcamp"}
	f.mu.Unlock()

	info, err = p.Nodes().FetchInfo(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"youtube", "soundcloud"}, info.SourceManagers)

	require.NoError(t, p.Nodes().RefreshInfo(context.Background()))
	assert.Equal(t, []string{"bandcamp"}, p.Nodes().Info("a").SourceManagers)

	_, err = p.Nodes().FetchInfo(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNodeNotFound)
}
