package player

import (
	"slices"
	"sort"
	"sync"

	"github.com/latoulicious/tarulink/pkg/node"
)

const (
	regionPingWindow = 5
	// milliseconds between two samples of the same node
	regionPingThrottle = 12_000
)

type pingRecord struct {
	pings        []int64
	lastPingTime int64
}

// VoiceRegion keeps a short ping history per node for one voice region
type VoiceRegion struct {
	id     string
	player *Player

	mu      sync.Mutex
	records map[string]*pingRecord
}

func newVoiceRegion(p *Player, id string) *VoiceRegion {
	return &VoiceRegion{
		id:      id,
		player:  p,
		records: make(map[string]*pingRecord),
	}
}

func (r *VoiceRegion) ID() string { return r.id }

// Nodes returns the names of nodes with a ping history, sorted
func (r *VoiceRegion) Nodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *VoiceRegion) ForgetNode(name string) {
	r.mu.Lock()
	delete(r.records, name)
	r.mu.Unlock()
}

// OnPingUpdate records a ping sample of a ready node. time is a unix
// timestamp in milliseconds.
func (r *VoiceRegion) OnPingUpdate(name string, ping, time int64) {
	if !r.player.nodes.IsState(name, node.StateReady) {
		return
	}
	if ping <= 0 || time <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	if !ok {
		r.records[name] = &pingRecord{pings: []int64{ping}, lastPingTime: time}
		return
	}
	if time-rec.lastPingTime < regionPingThrottle {
		return
	}
	rec.lastPingTime = time
	rec.pings = append(rec.pings, ping)
	if len(rec.pings) > regionPingWindow {
		rec.pings = rec.pings[1:]
	}
}

// AveragePing returns the mean of the node's samples, 0 without samples
func (r *VoiceRegion) AveragePing(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.averageLocked(name)
}

func (r *VoiceRegion) averageLocked(name string) float64 {
	rec, ok := r.records[name]
	if !ok || len(rec.pings) == 0 {
		return 0
	}
	var total int64
	for _, p := range rec.pings {
		total += p
	}
	return float64(total) / float64(len(rec.pings))
}

// RelevantNode picks the best ready node for this region. Nodes without a
// history here come first, then by ascending average ping.
func (r *VoiceRegion) RelevantNode(exclusions ...string) *node.Node {
	nodes := slices.DeleteFunc(r.player.nodes.Relevant(), func(n *node.Node) bool {
		return slices.Contains(exclusions, n.Name())
	})
	if len(nodes) == 0 {
		return nil
	}

	r.mu.Lock()
	type ranked struct {
		known bool
		avg   float64
	}
	ranks := make(map[string]ranked, len(nodes))
	for _, n := range nodes {
		_, ok := r.records[n.Name()]
		ranks[n.Name()] = ranked{known: ok, avg: r.averageLocked(n.Name())}
	}
	r.mu.Unlock()

	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := ranks[nodes[i].Name()], ranks[nodes[j].Name()]
		if a.known != b.known {
			return !a.known
		}
		return a.avg < b.avg
	})
	return nodes[0]
}
