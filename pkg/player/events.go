package player

import (
	"sync"

	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/node"
	"github.com/latoulicious/tarulink/pkg/protocol"
	"github.com/latoulicious/tarulink/pkg/track"
)

// Event names
const (
	EventInit           = "init"
	EventNodeConnect    = "nodeConnect"
	EventNodeReady      = "nodeReady"
	EventNodeDispatch   = "nodeDispatch"
	EventNodeError      = "nodeError"
	EventNodeClose      = "nodeClose"
	EventNodeDisconnect = "nodeDisconnect"
	EventVoiceConnect   = "voiceConnect"
	EventVoiceClose     = "voiceClose"
	EventVoiceChange    = "voiceChange"
	EventVoiceDestroy   = "voiceDestroy"
	EventQueueCreate    = "queueCreate"
	EventQueueUpdate    = "queueUpdate"
	EventQueueFinish    = "queueFinish"
	EventQueueDestroy   = "queueDestroy"
	EventTrackStart     = "trackStart"
	EventTrackStuck     = "trackStuck"
	EventTrackError     = "trackError"
	EventTrackFinish    = "trackFinish"
)

// Event is anything emitted on the player's event bus
type Event interface {
	Name() string
}

// InitEvent is emitted once the player is initialized
type InitEvent struct{}

type NodeConnectEvent struct {
	Node       *node.Node
	Reconnects int
}

type NodeReadyEvent struct {
	Node      *node.Node
	Resumed   bool
	SessionID string
}

// NodeDispatchEvent carries every message received from a node
type NodeDispatchEvent struct {
	Node    *node.Node
	Message protocol.Message
}

type NodeErrorEvent struct {
	Node *node.Node
	Err  error
}

// NodeCloseEvent is emitted when a node closed and will reconnect
type NodeCloseEvent struct {
	Node   *node.Node
	Code   int
	Reason string
}

// NodeDisconnectEvent is emitted when a node stopped for good
type NodeDisconnectEvent struct {
	Node    *node.Node
	Code    int
	Reason  string
	ByLocal bool
}

type VoiceConnectEvent struct {
	Voice *VoiceState
}

type VoiceCloseEvent struct {
	Voice    *VoiceState
	Code     int
	Reason   string
	ByRemote bool
}

type VoiceChangeEvent struct {
	Voice        *VoiceState
	PreviousNode *node.Node
	WasPlaying   bool
}

type VoiceDestroyEvent struct {
	Voice  *VoiceState
	Reason string
}

type QueueCreateEvent struct {
	Queue *Queue
}

type QueueUpdateEvent struct {
	Queue *Queue
	State protocol.PlayerState
}

// QueueFinishEvent is emitted when the last track ended and nothing follows
type QueueFinishEvent struct {
	Queue *Queue
}

type QueueDestroyEvent struct {
	Queue  *Queue
	Reason string
}

type TrackStartEvent struct {
	Queue *Queue
	Track *track.Track
}

type TrackStuckEvent struct {
	Queue       *Queue
	Track       *track.Track
	ThresholdMs int64
}

type TrackErrorEvent struct {
	Queue     *Queue
	Track     *track.Track
	Exception *protocol.Exception
}

type TrackFinishEvent struct {
	Queue  *Queue
	Track  *track.Track
	Reason protocol.TrackEndReason
}

func (*InitEvent) Name() string           { return EventInit }
func (*NodeConnectEvent) Name() string    { return EventNodeConnect }
func (*NodeReadyEvent) Name() string      { return EventNodeReady }
func (*NodeDispatchEvent) Name() string   { return EventNodeDispatch }
func (*NodeErrorEvent) Name() string      { return EventNodeError }
func (*NodeCloseEvent) Name() string      { return EventNodeClose }
func (*NodeDisconnectEvent) Name() string { return EventNodeDisconnect }
func (*VoiceConnectEvent) Name() string   { return EventVoiceConnect }
func (*VoiceCloseEvent) Name() string     { return EventVoiceClose }
func (*VoiceChangeEvent) Name() string    { return EventVoiceChange }
func (*VoiceDestroyEvent) Name() string   { return EventVoiceDestroy }
func (*QueueCreateEvent) Name() string    { return EventQueueCreate }
func (*QueueUpdateEvent) Name() string    { return EventQueueUpdate }
func (*QueueFinishEvent) Name() string    { return EventQueueFinish }
func (*QueueDestroyEvent) Name() string   { return EventQueueDestroy }
func (*TrackStartEvent) Name() string     { return EventTrackStart }
func (*TrackStuckEvent) Name() string     { return EventTrackStuck }
func (*TrackErrorEvent) Name() string     { return EventTrackError }
func (*TrackFinishEvent) Name() string    { return EventTrackFinish }

type subscription struct {
	id int
	fn func(Event)
}

// EventBus fans events out to subscribers. Handlers run on the emitting
// goroutine, in subscription order.
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
	logger logging.Logger
}

func newEventBus(logger logging.Logger) *EventBus {
	return &EventBus{logger: logger}
}

// Subscribe registers fn and returns a function removing it
func (b *EventBus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit delivers e to every subscriber. A panicking handler is logged and skipped.
func (b *EventBus) Emit(e Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s.fn, e)
	}
}

func (b *EventBus) deliver(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				logging.String("event", e.Name()),
				logging.Any("panic", r))
		}
	}()
	fn(e)
}

// On subscribes fn to events of type E only
//
//	player.On(p, func(e *player.TrackStartEvent) { ... })
func On[E Event](p *Player, fn func(E)) func() {
	return p.events.Subscribe(func(e Event) {
		if ev, ok := e.(E); ok {
			fn(ev)
		}
	})
}
