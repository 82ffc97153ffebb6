package player

import (
	"context"
	"slices"
	"sync"

	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/node"
)

// relocationWeights ignore streaming health, a failover cares about capacity
var relocationWeights = Weights{Memory: 0.5, Workload: 0.5, Streaming: 0}

// scores below this floor count as the floor when balancing shares
const minRelocationScore = 0.01

// Relocate moves every queue off the named node onto the other ready nodes.
// Concurrent calls for the same node share one relocation. A queue that
// fails to move is destroyed.
func (m *QueueManager) Relocate(ctx context.Context, name string) error {
	_, err := share(ctx, &m.relocations, name, func() (struct{}, error) {
		return struct{}{}, m.relocate(ctx, name)
	})
	return err
}

func (m *QueueManager) relocate(ctx context.Context, name string) error {
	candidates := m.relocationCandidates(name)
	if len(candidates) == 0 {
		return nil
	}

	targets := slices.DeleteFunc(m.player.nodes.RelevantBy(relocationWeights), func(n *node.Node) bool {
		return n.Name() == name
	})
	if len(targets) == 0 {
		m.dropStale(ctx, candidates)
		m.player.metrics.Relocation(name, len(candidates), false)
		return ErrNoOtherNodes
	}

	scores := make([]float64, len(targets))
	for i, t := range targets {
		if mt, ok := m.player.nodes.Metrics(t.Name()); ok {
			scores[i] = mt.score(relocationWeights)
		}
	}
	plan := assignShares(len(candidates), scores)

	m.logger.Info("Relocating queues",
		logging.String("node", name),
		logging.Int("queues", len(candidates)),
		logging.Int("targets", len(targets)))

	var wg sync.WaitGroup
	for i, q := range candidates {
		target := targets[plan[i]]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.voice.ChangeNode(ctx, target.Name()); err != nil {
				m.logger.Warn("Failed to relocate queue",
					logging.String("guild_id", q.GuildID()),
					logging.String("target", target.Name()),
					logging.Error(err))
				if err := m.Destroy(ctx, q.GuildID(), err.Error()); err != nil {
					m.logger.Debug("Failed to destroy queue", logging.Error(err))
				}
			}
		}()
	}
	wg.Wait()

	m.player.metrics.Relocation(name, len(candidates), true)
	return nil
}

// relocationCandidates returns the queues on the node that are not already
// moving, playing queues first
func (m *QueueManager) relocationCandidates(name string) []*Queue {
	type candidate struct {
		queue   *Queue
		playing bool
	}
	var found []candidate
	for _, q := range m.All() {
		if q.Node().Name() != name || q.voice.ChangingNode() {
			continue
		}
		found = append(found, candidate{queue: q, playing: q.Playing()})
	}
	slices.SortStableFunc(found, func(a, b candidate) int {
		switch {
		case a.playing == b.playing:
			return 0
		case a.playing:
			return -1
		default:
			return 1
		}
	})

	out := make([]*Queue, len(found))
	for i, c := range found {
		out[i] = c.queue
	}
	return out
}

// dropStale destroys queues whose player was attached with a session the
// node no longer has, they cannot be resumed
func (m *QueueManager) dropStale(ctx context.Context, queues []*Queue) {
	for _, q := range queues {
		info, ok := m.player.voices.Info(q.GuildID())
		if ok && info.NodeSessionID == q.Node().SessionID() {
			continue
		}
		if err := m.Destroy(ctx, q.GuildID(), ErrNoOtherNodes.Error()); err != nil {
			m.logger.Debug("Failed to destroy queue", logging.Error(err))
		}
	}
}

// assignShares assigns n items to targets, each going to the target with the
// lowest share to score ratio. Ties go to the earlier target.
func assignShares(n int, scores []float64) []int {
	shares := make([]int, len(scores))
	plan := make([]int, n)
	ratio := func(t int) float64 {
		return float64(shares[t]) / max(scores[t], minRelocationScore)
	}
	for i := range n {
		best := 0
		for t := 1; t < len(scores); t++ {
			if ratio(t) < ratio(best) {
				best = t
			}
		}
		shares[best]++
		plan[i] = best
	}
	return plan
}

func (mt Metrics) score(w Weights) float64 {
	return mt.Memory*w.Memory + mt.Workload*w.Workload + max(mt.Streaming, 0)*w.Streaming
}
