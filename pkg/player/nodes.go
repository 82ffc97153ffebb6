package player

import (
	"context"
	"errors"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/node"
	"github.com/latoulicious/tarulink/pkg/protocol"
)

// Feature is a capability listed in a node's info
type Feature int

const (
	FeatureFilter Feature = iota
	FeatureSource
	FeaturePlugin
)

func (f Feature) String() string {
	switch f {
	case FeatureFilter:
		return "filter"
	case FeatureSource:
		return "source"
	case FeaturePlugin:
		return "plugin"
	default:
		return "unknown"
	}
}

// Metrics are a node's health figures, each in [0, 1] where higher is
// better. Streaming is -1 when the node reported no frame stats.
type Metrics struct {
	Memory    float64
	Workload  float64
	Streaming float64
}

// Weights balance the metrics when ranking nodes
type Weights struct {
	Memory    float64
	Workload  float64
	Streaming float64
}

var DefaultWeights = Weights{Memory: 0.3, Workload: 0.2, Streaming: 0.5}

// NodeManager owns the nodes of a player
type NodeManager struct {
	player *Player
	logger logging.Logger

	mu      sync.RWMutex
	nodes   map[string]*node.Node
	order   []string
	info    map[string]*protocol.Info
	metrics map[string]Metrics

	infoFetches singleflight.Group
}

func newNodeManager(p *Player) *NodeManager {
	return &NodeManager{
		player:  p,
		logger:  p.logger.With(logging.String("component", "nodes")),
		nodes:   make(map[string]*node.Node),
		info:    make(map[string]*protocol.Info),
		metrics: make(map[string]Metrics),
	}
}

// Create adds a node. The player must be initialized.
func (m *NodeManager) Create(opts node.Options) (*node.Node, error) {
	clientID := m.player.ClientID()
	if clientID == "" {
		return nil, ErrNotInitialized
	}
	opts.ClientID = clientID
	if opts.Logger == nil {
		opts.Logger = m.player.logger
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[opts.Name]; ok {
		return nil, nodeErr(ErrNodeExists, opts.Name)
	}

	n, err := node.New(opts, &nodeListener{player: m.player})
	if err != nil {
		return nil, err
	}
	m.nodes[n.Name()] = n
	m.order = append(m.order, n.Name())
	return n, nil
}

// Delete removes a disconnected node and forgets everything known about it
func (m *NodeManager) Delete(name string) error {
	m.mu.Lock()
	n, ok := m.nodes[name]
	if !ok {
		m.mu.Unlock()
		return nodeErr(ErrNodeNotFound, name)
	}
	if !n.Disconnected() {
		m.mu.Unlock()
		return nodeErr(ErrNodeConnected, name)
	}
	delete(m.nodes, name)
	delete(m.info, name)
	delete(m.metrics, name)
	m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == name })
	m.mu.Unlock()

	m.player.voices.forgetNode(name)
	return nil
}

// Get returns the node, or nil
func (m *NodeManager) Get(name string) *node.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nodes[name]
}

func (m *NodeManager) Has(name string) bool {
	return m.Get(name) != nil
}

// Names returns node names in creation order
func (m *NodeManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order)
}

func (m *NodeManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// All returns the nodes in creation order
func (m *NodeManager) All() []*node.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*node.Node, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.nodes[name])
	}
	return out
}

func (m *NodeManager) State(name string) (node.State, error) {
	n := m.Get(name)
	if n == nil {
		return node.StateDisconnected, nodeErr(ErrNodeNotFound, name)
	}
	return n.State(), nil
}

// IsState reports whether the node exists and is in state s
func (m *NodeManager) IsState(name string, s node.State) bool {
	n := m.Get(name)
	return n != nil && n.State() == s
}

// Connect connects every node in order and returns how many became ready
func (m *NodeManager) Connect(ctx context.Context) int {
	ready := 0
	for _, n := range m.All() {
		if n.Connect(ctx) {
			ready++
		}
	}
	return ready
}

func (m *NodeManager) ConnectNode(ctx context.Context, name string) (bool, error) {
	n := m.Get(name)
	if n == nil {
		return false, nodeErr(ErrNodeNotFound, name)
	}
	return n.Connect(ctx), nil
}

// Disconnect disconnects every node concurrently
func (m *NodeManager) Disconnect(ctx context.Context, reason string) {
	var wg sync.WaitGroup
	for _, n := range m.All() {
		wg.Add(1)
		go func(n *node.Node) {
			defer wg.Done()
			n.Disconnect(ctx, reason)
		}(n)
	}
	wg.Wait()
}

func (m *NodeManager) DisconnectNode(ctx context.Context, name, reason string) error {
	n := m.Get(name)
	if n == nil {
		return nodeErr(ErrNodeNotFound, name)
	}
	n.Disconnect(ctx, reason)
	return nil
}

// FetchInfo returns the node's info, fetching it once
func (m *NodeManager) FetchInfo(ctx context.Context, name string) (*protocol.Info, error) {
	if info := m.Info(name); info != nil {
		return info, nil
	}
	return share(ctx, &m.infoFetches, name, func() (*protocol.Info, error) {
		return m.fetchInfo(ctx, name)
	})
}

func (m *NodeManager) fetchInfo(ctx context.Context, name string) (*protocol.Info, error) {
	n := m.Get(name)
	if n == nil {
		return nil, nodeErr(ErrNodeNotFound, name)
	}
	info, err := n.Rest().FetchInfo(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.nodes[name] == n {
		m.info[name] = info
	}
	m.mu.Unlock()
	return info, nil
}

// RefreshInfo refetches the info of every ready node
func (m *NodeManager) RefreshInfo(ctx context.Context) error {
	var errs []error
	for _, n := range m.All() {
		if !n.Ready() {
			continue
		}
		if _, err := m.fetchInfo(ctx, n.Name()); err != nil {
			errs = append(errs, nodeErr(err, n.Name()))
		}
	}
	return errors.Join(errs...)
}

// Info returns the cached info of the node, or nil
func (m *NodeManager) Info(name string) *protocol.Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info[name]
}

// Metrics returns the last computed metrics of the node
func (m *NodeManager) Metrics(name string) (Metrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.metrics[name]
	return mt, ok
}

// Supports returns the names of ready nodes supporting the feature
func (m *NodeManager) Supports(f Feature, value string) []string {
	var out []string
	for _, n := range m.All() {
		if n.Ready() && m.NodeSupports(f, value, n.Name()) {
			out = append(out, n.Name())
		}
	}
	return out
}

// NodeSupports reports whether the cached info of the node lists the feature
func (m *NodeManager) NodeSupports(f Feature, value, name string) bool {
	info := m.Info(name)
	if info == nil {
		return false
	}
	switch f {
	case FeatureFilter:
		return slices.Contains(info.Filters, value)
	case FeatureSource:
		return slices.Contains(info.SourceManagers, value)
	case FeaturePlugin:
		return slices.ContainsFunc(info.Plugins, func(p protocol.Plugin) bool {
			return strings.EqualFold(p.Name, value)
		})
	}
	return false
}

// Relevant returns the ready nodes ranked with DefaultWeights
func (m *NodeManager) Relevant() []*node.Node {
	return m.RelevantBy(DefaultWeights)
}

// RelevantBy returns the ready nodes, healthiest first. Nodes without
// metrics come after nodes with metrics, and nodes without frame stats after
// nodes with them. Ties keep creation order.
func (m *NodeManager) RelevantBy(w Weights) []*node.Node {
	m.mu.RLock()
	ready := make([]*node.Node, 0, len(m.order))
	scores := make(map[string]Metrics, len(m.order))
	for _, name := range m.order {
		n := m.nodes[name]
		if !n.Ready() {
			continue
		}
		ready = append(ready, n)
		if mt, ok := m.metrics[name]; ok {
			scores[name] = mt
		}
	}
	m.mu.RUnlock()

	w = w.clamped()
	sort.SliceStable(ready, func(i, j int) bool {
		a, okA := scores[ready[i].Name()]
		b, okB := scores[ready[j].Name()]
		if okA != okB {
			return okA
		}
		if !okA {
			return false
		}
		if (a.Streaming < 0) != (b.Streaming < 0) {
			return b.Streaming < 0
		}
		diff := (a.Memory-b.Memory)*w.Memory + (a.Workload-b.Workload)*w.Workload
		if a.Streaming >= 0 {
			diff += (a.Streaming - b.Streaming) * w.Streaming
		}
		return diff > 0
	})
	return ready
}

func (w Weights) clamped() Weights {
	return Weights{
		Memory:    clamp01(w.Memory),
		Workload:  clamp01(w.Workload),
		Streaming: clamp01(w.Streaming),
	}
}

func (m *NodeManager) updateMetrics(name string, stats *protocol.Stats) {
	mt := ComputeMetrics(stats)
	m.mu.Lock()
	if _, ok := m.nodes[name]; ok {
		m.metrics[name] = mt
	}
	m.mu.Unlock()
}

func (m *NodeManager) dropMetrics(name string) {
	m.mu.Lock()
	delete(m.metrics, name)
	m.mu.Unlock()
}

// ComputeMetrics derives health figures from node stats, higher is better
func ComputeMetrics(stats *protocol.Stats) Metrics {
	return Metrics{
		Memory:    MemoryMetric(stats.Memory),
		Workload:  WorkloadMetric(stats.CPU),
		Streaming: StreamingMetric(stats.FrameStats),
	}
}

// MemoryMetric weighs free memory against unallocated memory
func MemoryMetric(mem protocol.Memory) float64 {
	if mem.Reservable <= 0 {
		return 0
	}
	r := float64(mem.Reservable)
	return clamp01(0.7*(float64(mem.Free)/r) + 0.3*(float64(mem.Reservable-mem.Allocated)/r))
}

// WorkloadMetric is the idle share of the CPU. A zero load means no data yet and scores 0.
func WorkloadMetric(cpu protocol.CPU) float64 {
	if cpu.SystemLoad == 0 || cpu.LavalinkLoad == 0 {
		return 0
	}
	return clamp01(1 - math.Min(1, 0.7*cpu.SystemLoad+0.3*cpu.LavalinkLoad))
}

// StreamingMetric is the share of frames sent, penalized by deficit and
// nulled frames. -1 without frame stats.
func StreamingMetric(frames *protocol.FrameStats) float64 {
	if frames == nil {
		return -1
	}
	deficit := max(0, frames.Deficit)
	expected := float64(frames.Sent + frames.Nulled + deficit)
	if expected <= 0 {
		return -1
	}
	pass := float64(frames.Sent) / expected
	loss := float64(frames.Nulled) / expected
	fail := float64(deficit) / expected
	return clamp01(pass - (0.7*fail + 0.3*loss))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
