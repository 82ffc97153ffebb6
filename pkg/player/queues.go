package player

import (
	"context"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/node"
	"github.com/latoulicious/tarulink/pkg/protocol"
	"github.com/latoulicious/tarulink/pkg/track"
)

// CreateQueueOptions configures a queue and, when needed, the voice connection behind it
type CreateQueueOptions struct {
	GuildID   string
	ChannelID string
	Node      string
	Context   map[string]any
	Filters   *protocol.Filters
	Volume    *int
}

// QueueManager owns the queues and the remote player snapshots of every guild
type QueueManager struct {
	player *Player
	logger logging.Logger

	mu     sync.RWMutex
	queues map[string]*Queue
	// snapshots are replaced whole, never mutated in place
	cache map[string]*protocol.Player

	destroys    singleflight.Group
	relocations singleflight.Group
}

func newQueueManager(p *Player) *QueueManager {
	return &QueueManager{
		player: p,
		logger: p.logger.With(logging.String("component", "queues")),
		queues: make(map[string]*Queue),
		cache:  make(map[string]*protocol.Player),
	}
}

// Get returns the queue of the guild, or nil
func (m *QueueManager) Get(guildID string) *Queue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queues[guildID]
}

func (m *QueueManager) Has(guildID string) bool {
	return m.Get(guildID) != nil
}

func (m *QueueManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queues)
}

// All returns every queue sorted by guild id
func (m *QueueManager) All() []*Queue {
	m.mu.RLock()
	keys := slices.Sorted(maps.Keys(m.queues))
	out := make([]*Queue, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.queues[k])
	}
	m.mu.RUnlock()
	return out
}

// Create returns the guild's queue, connecting to voice first when needed
func (m *QueueManager) Create(ctx context.Context, opts CreateQueueOptions) (*Queue, error) {
	if q := m.Get(opts.GuildID); q != nil {
		return q, nil
	}
	if !m.player.voices.Has(opts.GuildID) {
		_, err := m.player.voices.Connect(ctx, opts.GuildID, opts.ChannelID, &ConnectOptions{
			Node:    opts.Node,
			Context: opts.Context,
			Filters: opts.Filters,
			Volume:  opts.Volume,
		})
		if err != nil {
			return nil, err
		}
		if q := m.Get(opts.GuildID); q != nil {
			return q, nil
		}
		return nil, guildErr(ErrNoQueue, opts.GuildID)
	}
	return m.create(opts.GuildID, opts.Context)
}

func (m *QueueManager) create(guildID string, data map[string]any) (*Queue, error) {
	voice := m.player.voices.Get(guildID)
	if voice == nil {
		return nil, guildErr(ErrNoConnection, guildID)
	}

	m.mu.Lock()
	if q, ok := m.queues[guildID]; ok {
		m.mu.Unlock()
		return q, nil
	}
	if _, ok := m.cache[guildID]; !ok {
		m.mu.Unlock()
		return nil, guildErr(ErrNoPlayer, guildID)
	}
	q := newQueue(m.player, voice, data)
	m.queues[guildID] = q
	active := len(m.queues)
	m.mu.Unlock()

	m.player.metrics.QueueCreated(active)
	m.player.emit(&QueueCreateEvent{Queue: q})
	return q, nil
}

// Destroy removes the guild's queue and player, then its voice connection.
// Concurrent calls share one teardown.
func (m *QueueManager) Destroy(ctx context.Context, guildID, reason string) error {
	if reason == "" {
		reason = "destroyed"
	}
	_, err := share(ctx, &m.destroys, guildID, func() (struct{}, error) {
		q := m.Get(guildID)
		if q == nil {
			return struct{}{}, nil
		}

		if _, err := q.Rest().DestroyPlayer(ctx, guildID); err != nil {
			m.logger.Debug("Failed to destroy player",
				logging.String("guild_id", guildID),
				logging.Error(err))
		}

		m.mu.Lock()
		delete(m.cache, guildID)
		if m.queues[guildID] == q {
			delete(m.queues, guildID)
		}
		active := len(m.queues)
		m.mu.Unlock()

		m.player.metrics.QueueDestroyed(active)
		m.player.emit(&QueueDestroyEvent{Queue: q, Reason: reason})
		return struct{}{}, m.player.voices.Destroy(ctx, guildID, reason)
	})
	return err
}

// snapshot returns the guild's remote player. Callers must not mutate it.
func (m *QueueManager) snapshot(guildID string) *protocol.Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache[guildID]
}

// Snapshot returns a copy of the guild's remote player, or nil
func (m *QueueManager) Snapshot(guildID string) *protocol.Player {
	return m.snapshot(guildID).Clone()
}

func (m *QueueManager) putSnapshot(guildID string, p *protocol.Player) {
	m.mu.Lock()
	m.cache[guildID] = p
	m.mu.Unlock()
}

// replaceSnapshot swaps in p only while the guild still has a snapshot
func (m *QueueManager) replaceSnapshot(guildID string, p *protocol.Player) {
	m.mu.Lock()
	if _, ok := m.cache[guildID]; ok {
		m.cache[guildID] = p
	}
	m.mu.Unlock()
}

// updateSnapshot applies fn to a copy of the snapshot and swaps it in
func (m *QueueManager) updateSnapshot(guildID string, fn func(*protocol.Player)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.cache[guildID]
	if !ok {
		return false
	}
	next := cur.Clone()
	fn(next)
	m.cache[guildID] = next
	return true
}

func (m *QueueManager) onStateUpdate(n *node.Node, msg *protocol.PlayerUpdateMessage) {
	q := m.Get(msg.GuildID)
	if q == nil {
		return
	}
	m.updateSnapshot(msg.GuildID, func(p *protocol.Player) {
		p.State = msg.State
	})
	m.player.voices.updateInfo(msg.GuildID, func(info *VoiceInfo) {
		info.Connected = msg.State.Connected
		info.Ping = msg.State.Ping
	})
	m.player.voices.Region(q.voice.RegionID()).OnPingUpdate(n.Name(), msg.State.Ping, msg.State.Time)
	m.player.emit(&QueueUpdateEvent{Queue: q, State: msg.State})
}

func (m *QueueManager) onEvent(n *node.Node, e *protocol.Event) {
	m.mu.RLock()
	_, cached := m.cache[e.GuildID]
	q := m.queues[e.GuildID]
	m.mu.RUnlock()
	if !cached || q == nil {
		return
	}

	switch e.Type {
	case protocol.EventTrackStart:
		m.setRemoteTrack(e.GuildID, e.Track)
		if t := m.eventTrack(e); t != nil {
			m.player.metrics.TrackStarted(n.Name(), t.SourceName)
			m.player.emit(&TrackStartEvent{Queue: q, Track: t})
		}
	case protocol.EventTrackEnd:
		m.setRemoteTrack(e.GuildID, nil)
		if t := m.eventTrack(e); t != nil {
			m.onTrackEnd(q, t, e.EndReason())
		}
	case protocol.EventTrackException:
		m.setRemoteTrack(e.GuildID, nil)
		if t := m.eventTrack(e); t != nil {
			severity := ""
			if e.Exception != nil {
				severity = string(e.Exception.Severity)
			}
			m.player.metrics.TrackError(n.Name(), severity)
			m.player.emit(&TrackErrorEvent{Queue: q, Track: t, Exception: e.Exception})
		}
	case protocol.EventTrackStuck:
		m.setRemoteTrack(e.GuildID, e.Track)
		if t := m.eventTrack(e); t != nil {
			m.player.emit(&TrackStuckEvent{Queue: q, Track: t, ThresholdMs: e.ThresholdMs})
		}
	case protocol.EventWebSocketClosed:
		m.player.voices.onVoiceClose(q.voice, e)
	}
}

func (m *QueueManager) setRemoteTrack(guildID string, t *protocol.Track) {
	m.updateSnapshot(guildID, func(p *protocol.Player) {
		p.Track = t
	})
}

func (m *QueueManager) eventTrack(e *protocol.Event) *track.Track {
	if e.Track == nil {
		m.logger.Warn("Event without track",
			logging.String("guild_id", e.GuildID),
			logging.String("type", string(e.Type)))
		return nil
	}
	t, err := track.New(*e.Track)
	if err != nil {
		m.logger.Warn("Invalid track in event",
			logging.String("guild_id", e.GuildID),
			logging.String("type", string(e.Type)),
			logging.Error(err))
		return nil
	}
	return t
}

func (m *QueueManager) onTrackEnd(q *Queue, t *track.Track, reason protocol.TrackEndReason) {
	advance := false
	switch reason {
	case protocol.TrackEndCleanup:
		advance = true
		q.popIfCurrent(t, true)
	case protocol.TrackEndFinished:
		advance = true
		q.popIfCurrent(t, q.RepeatMode() != RepeatTrack)
	}
	m.player.emit(&TrackFinishEvent{Queue: q, Track: t, Reason: reason})
	if !advance {
		return
	}

	m.player.goBackground(func(ctx context.Context) {
		if err := m.advance(ctx, q, t); err != nil {
			if err := m.Destroy(ctx, q.GuildID(), err.Error()); err != nil {
				m.logger.Debug("Failed to destroy queue", logging.Error(err))
			}
		}
	})
}

// advance moves a queue to its next track after the current one ended
func (m *QueueManager) advance(ctx context.Context, q *Queue, ended *track.Track) error {
	if q.Finished() {
		if q.HasPrevious() && q.RepeatMode() == RepeatQueue {
			q.recycleOldest()
		} else if q.Autoplay() {
			if _, err := q.AddRelated(ctx, ended); err != nil {
				return err
			}
		}
	}
	if q.Finished() {
		m.player.emit(&QueueFinishEvent{Queue: q})
		return nil
	}
	_, err := q.Resume(ctx)
	return err
}
