// Package player coordinates a cluster of Lavalink nodes: node health and
// selection, Discord voice connections, per-guild queues and the events
// tying them together.
package player

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/latoulicious/tarulink/pkg/common"
	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/metrics"
	"github.com/latoulicious/tarulink/pkg/node"
	"github.com/latoulicious/tarulink/pkg/protocol"
	"github.com/latoulicious/tarulink/pkg/track"
)

// Player is the entry point. Create one per bot.
type Player struct {
	opts    Options
	logger  logging.Logger
	metrics *metrics.PlayerCollector
	events  *EventBus

	nodes  *NodeManager
	voices *VoiceManager
	queues *QueueManager

	mu          sync.RWMutex
	clientID    string
	initialized bool
	pending     []node.Options
	inits       singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a player. Nodes are created and connected by Init.
func New(opts Options) (*Player, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		opts:    opts,
		logger:  opts.Logger.With(logging.String("component", "player")),
		metrics: metrics.NewPlayerCollector(opts.Metrics),
		pending: opts.Nodes,
		ctx:     ctx,
		cancel:  cancel,
	}
	p.events = newEventBus(p.logger)
	p.nodes = newNodeManager(p)
	p.voices = newVoiceManager(p)
	p.queues = newQueueManager(p)
	return p, nil
}

func (p *Player) Nodes() *NodeManager   { return p.nodes }
func (p *Player) Voices() *VoiceManager { return p.voices }
func (p *Player) Queues() *QueueManager { return p.queues }
func (p *Player) Events() *EventBus     { return p.events }

// Ready reports whether Init completed
func (p *Player) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

// ClientID returns the bot's user id, empty before Init
func (p *Player) ClientID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clientID
}

// Subscribe registers fn for every event, see On for typed handlers
func (p *Player) Subscribe(fn func(Event)) func() {
	return p.events.Subscribe(fn)
}

func (p *Player) emit(e Event) {
	p.events.Emit(e)
}

// goBackground runs fn on its own goroutine with the player's lifetime
// context. Nothing is started once the player is closed.
func (p *Player) goBackground(fn func(ctx context.Context)) {
	if p.closed.Load() {
		return
	}
	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		fn(p.ctx)
	}()
}

// Init creates the configured nodes for clientID and connects them. It is a
// no-op once initialized, concurrent calls share one initialization.
func (p *Player) Init(ctx context.Context, clientID string) error {
	if !common.IsSnowflake(clientID) {
		return ErrInvalidClientID
	}
	_, err := share(ctx, &p.inits, "init", func() (struct{}, error) {
		return struct{}{}, p.init(ctx, clientID)
	})
	return err
}

func (p *Player) init(ctx context.Context, clientID string) error {
	p.mu.Lock()
	if p.initialized {
		p.mu.Unlock()
		return nil
	}
	p.clientID = clientID
	pending := p.pending
	p.mu.Unlock()

	for _, opts := range pending {
		if p.nodes.Has(opts.Name) {
			continue
		}
		if p.opts.Store != nil && opts.SessionID == "" {
			sessionID, err := p.opts.Store.LoadSession(ctx, opts.Name)
			if err != nil {
				p.logger.Warn("Failed to load node session",
					logging.String("node", opts.Name),
					logging.Error(err))
			}
			opts.SessionID = sessionID
		}
		if _, err := p.nodes.Create(opts); err != nil {
			return fmt.Errorf("create node '%s': %w", opts.Name, err)
		}
	}

	ready := p.nodes.Connect(ctx)
	p.logger.Info("Player initialized",
		logging.String("client_id", clientID),
		logging.Int("nodes", p.nodes.Len()),
		logging.Int("ready", ready))

	p.mu.Lock()
	p.initialized = true
	p.pending = nil
	p.mu.Unlock()

	p.emit(&InitEvent{})
	return nil
}

// HandleDispatch feeds a raw gateway dispatch to the voice manager
func (p *Player) HandleDispatch(payload GatewayPayload) error {
	return p.voices.HandleDispatch(payload)
}

// Close disconnects every node and waits for background work to finish
func (p *Player) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.nodes.Disconnect(ctx, "player closed")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SearchResultType tells which field of a SearchResult is set
type SearchResultType string

const (
	SearchTrack    SearchResultType = "track"
	SearchPlaylist SearchResultType = "playlist"
	SearchQuery    SearchResultType = "query"
	SearchEmpty    SearchResultType = "empty"
	SearchError    SearchResultType = "error"
)

type SearchResult struct {
	Type      SearchResultType
	Track     *track.Track
	Playlist  *track.Playlist
	Tracks    []*track.Track
	Exception *protocol.Exception
}

type SearchOptions struct {
	// Node runs the search on a specific node instead of the most relevant one
	Node string
	// Prefix overrides the query prefix for non-URL queries
	Prefix string
}

// Search loads query on a node. Queries that are not URLs get the search prefix.
func (p *Player) Search(ctx context.Context, query string, opts *SearchOptions) (*SearchResult, error) {
	if !common.IsNonEmpty(query) {
		return nil, ErrEmptyQuery
	}
	if opts == nil {
		opts = &SearchOptions{}
	}

	var n *node.Node
	if opts.Node != "" {
		if n = p.nodes.Get(opts.Node); n == nil {
			return nil, nodeErr(ErrNodeNotFound, opts.Node)
		}
	} else {
		relevant := p.nodes.Relevant()
		if len(relevant) == 0 {
			return nil, ErrNoNodes
		}
		n = relevant[0]
	}

	if !common.IsURL(query) {
		prefix := opts.Prefix
		if prefix == "" {
			prefix = p.opts.QueryPrefix
		}
		query = prefix + ":" + query
	}

	result, err := n.Rest().LoadTracks(ctx, query)
	if err != nil {
		return nil, err
	}
	return newSearchResult(n, result)
}

func newSearchResult(n *node.Node, result *protocol.LoadResult) (*SearchResult, error) {
	switch result.LoadType {
	case protocol.LoadTypeEmpty:
		return &SearchResult{Type: SearchEmpty, Tracks: []*track.Track{}}, nil
	case protocol.LoadTypeError:
		exc, err := result.Exception()
		if err != nil {
			return nil, err
		}
		return &SearchResult{Type: SearchError, Exception: exc}, nil
	case protocol.LoadTypePlaylist:
		data, err := result.Playlist()
		if err != nil {
			return nil, err
		}
		pl, err := track.NewPlaylist(*data)
		if err != nil {
			return nil, err
		}
		return &SearchResult{Type: SearchPlaylist, Playlist: pl, Tracks: pl.Tracks}, nil
	case protocol.LoadTypeSearch:
		data, err := result.Search()
		if err != nil {
			return nil, err
		}
		tracks := make([]*track.Track, 0, len(data))
		for i, raw := range data {
			t, err := track.New(raw)
			if err != nil {
				return nil, fmt.Errorf("search result %d: %w", i, err)
			}
			tracks = append(tracks, t)
		}
		return &SearchResult{Type: SearchQuery, Tracks: tracks}, nil
	case protocol.LoadTypeTrack:
		data, err := result.Track()
		if err != nil {
			return nil, err
		}
		t, err := track.New(*data)
		if err != nil {
			return nil, err
		}
		return &SearchResult{Type: SearchTrack, Track: t, Tracks: []*track.Track{t}}, nil
	}
	return nil, fmt.Errorf("%w from node '%s': %q", ErrUnexpectedLoad, n.Name(), result.LoadType)
}

// PlayOptions configures Play
type PlayOptions struct {
	CreateQueueOptions
	Prefix   string
	UserData map[string]any
}

// Play searches query and queues the first result, or the whole playlist.
// The queue is created if needed and starts playing when stopped.
func (p *Player) Play(ctx context.Context, query string, opts PlayOptions) (*Queue, error) {
	var (
		result *SearchResult
		err    error
	)
	if q := p.queues.Get(opts.GuildID); q != nil {
		result, err = q.Search(ctx, query, opts.Prefix)
	} else {
		result, err = p.Search(ctx, query, &SearchOptions{Node: opts.Node, Prefix: opts.Prefix})
	}
	if err != nil {
		return nil, err
	}

	switch result.Type {
	case SearchEmpty:
		return nil, fmt.Errorf("%w for '%s'", ErrNoResults, query)
	case SearchError:
		return nil, fmt.Errorf("search '%s': %w", query, result.Exception)
	case SearchQuery:
		if len(result.Tracks) == 0 {
			return nil, fmt.Errorf("%w for '%s'", ErrNoResults, query)
		}
		return p.PlayTracks(ctx, opts, result.Tracks[0])
	default:
		return p.PlayTracks(ctx, opts, result.Tracks...)
	}
}

// PlayTracks queues tracks, creating the queue if needed, and starts playing when stopped
func (p *Player) PlayTracks(ctx context.Context, opts PlayOptions, tracks ...*track.Track) (*Queue, error) {
	q, err := p.queues.Create(ctx, opts.CreateQueueOptions)
	if err != nil {
		return nil, err
	}
	if opts.Context != nil {
		q.MergeContext(opts.Context)
	}
	q.AddWithData(opts.UserData, tracks...)
	if q.Stopped() {
		if _, err := q.Resume(ctx); err != nil {
			return q, err
		}
	}
	return q, nil
}

// GetQueue returns the guild's queue, or nil
func (p *Player) GetQueue(guildID string) *Queue {
	return p.queues.Get(guildID)
}

// CreateQueue returns the guild's queue, joining voice first when needed
func (p *Player) CreateQueue(ctx context.Context, opts CreateQueueOptions) (*Queue, error) {
	return p.queues.Create(ctx, opts)
}

func (p *Player) DestroyQueue(ctx context.Context, guildID, reason string) error {
	return p.queues.Destroy(ctx, guildID, reason)
}

func (p *Player) queue(guildID string) (*Queue, error) {
	q := p.queues.Get(guildID)
	if q == nil {
		return nil, guildErr(ErrNoQueue, guildID)
	}
	return q, nil
}

// Jump and the guild shortcuts after it act on the guild's queue, ErrNoQueue
// when it has none
func (p *Player) Jump(ctx context.Context, guildID string, index int) (*track.Track, error) {
	q, err := p.queue(guildID)
	if err != nil {
		return nil, err
	}
	return q.Jump(ctx, index)
}

func (p *Player) Pause(ctx context.Context, guildID string) (bool, error) {
	q, err := p.queue(guildID)
	if err != nil {
		return false, err
	}
	return q.Pause(ctx)
}

func (p *Player) Previous(ctx context.Context, guildID string) (*track.Track, error) {
	q, err := p.queue(guildID)
	if err != nil {
		return nil, err
	}
	return q.Previous(ctx)
}

func (p *Player) Resume(ctx context.Context, guildID string) (bool, error) {
	q, err := p.queue(guildID)
	if err != nil {
		return false, err
	}
	return q.Resume(ctx)
}

func (p *Player) Seek(ctx context.Context, guildID string, ms int64) (int64, error) {
	q, err := p.queue(guildID)
	if err != nil {
		return 0, err
	}
	return q.Seek(ctx, ms)
}

func (p *Player) SetAutoplay(guildID string, autoplay bool) (bool, error) {
	q, err := p.queue(guildID)
	if err != nil {
		return false, err
	}
	return q.SetAutoplay(autoplay), nil
}

func (p *Player) SetRepeatMode(guildID string, mode RepeatMode) (RepeatMode, error) {
	q, err := p.queue(guildID)
	if err != nil {
		return "", err
	}
	return q.SetRepeatMode(mode)
}

func (p *Player) SetVolume(ctx context.Context, guildID string, volume int) (int, error) {
	q, err := p.queue(guildID)
	if err != nil {
		return 0, err
	}
	return q.SetVolume(ctx, volume)
}

func (p *Player) Shuffle(guildID string, includePrevious bool) (*Queue, error) {
	q, err := p.queue(guildID)
	if err != nil {
		return nil, err
	}
	return q.Shuffle(includePrevious), nil
}

func (p *Player) Next(ctx context.Context, guildID string) (*track.Track, error) {
	q, err := p.queue(guildID)
	if err != nil {
		return nil, err
	}
	return q.Next(ctx)
}

func (p *Player) Stop(ctx context.Context, guildID string) error {
	q, err := p.queue(guildID)
	if err != nil {
		return err
	}
	return q.Stop(ctx)
}
