package player

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/latoulicious/tarulink/pkg/common"
	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/node"
	"github.com/latoulicious/tarulink/pkg/protocol"
)

const (
	gatewayOpDispatch    = 0
	gatewayOpVoiceUpdate = 4
)

// GatewayPayload is a raw Discord gateway payload
type GatewayPayload struct {
	Op int             `json:"op"`
	T  string          `json:"t,omitempty"`
	D  json.RawMessage `json:"d"`
}

type voiceStateUpdate struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	UserID    string  `json:"user_id"`
	SessionID string  `json:"session_id"`
	Deaf      bool    `json:"deaf"`
	Mute      bool    `json:"mute"`
	SelfDeaf  bool    `json:"self_deaf"`
	SelfMute  bool    `json:"self_mute"`
	Suppress  bool    `json:"suppress"`
}

type voiceServerUpdate struct {
	Token    string  `json:"token"`
	GuildID  string  `json:"guild_id"`
	Endpoint *string `json:"endpoint"`
}

type clientReady struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
}

// VoiceInfo is what Discord told us about the bot's voice connection in a guild
type VoiceInfo struct {
	GuildID   string
	ChannelID string
	SessionID string
	Token     string
	Endpoint  string
	RegionID  string
	// NodeSessionID is the node session the player was last attached with
	NodeSessionID string
	Connected     bool
	Ping          int64

	Deaf     bool
	Mute     bool
	SelfDeaf bool
	SelfMute bool
	Suppress bool
}

// ConnectOptions configures a voice connection and the queue it creates
type ConnectOptions struct {
	// Node pins the connection to a ready node
	Node    string
	Context map[string]any
	Filters *protocol.Filters
	Volume  *int
}

type joinRequest struct {
	channelID string
	opts      ConnectOptions

	once  sync.Once
	done  chan struct{}
	voice *VoiceState
	err   error
}

func newJoinRequest(channelID string, opts ConnectOptions) *joinRequest {
	return &joinRequest{channelID: channelID, opts: opts, done: make(chan struct{})}
}

func (r *joinRequest) resolve(v *VoiceState) {
	r.once.Do(func() {
		r.voice = v
		close(r.done)
	})
}

func (r *joinRequest) reject(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

func (r *joinRequest) wait(ctx context.Context) (*VoiceState, error) {
	select {
	case <-r.done:
		return r.voice, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// VoiceManager drives the voice connections of every guild
type VoiceManager struct {
	player *Player
	logger logging.Logger

	mu      sync.Mutex
	voices  map[string]*VoiceState
	joins   map[string]*joinRequest
	cache   map[string]VoiceInfo
	regions map[string]*VoiceRegion

	destroys singleflight.Group
}

func newVoiceManager(p *Player) *VoiceManager {
	return &VoiceManager{
		player:  p,
		logger:  p.logger.With(logging.String("component", "voices")),
		voices:  make(map[string]*VoiceState),
		joins:   make(map[string]*joinRequest),
		cache:   make(map[string]VoiceInfo),
		regions: make(map[string]*VoiceRegion),
	}
}

// Get returns the voice state of the guild, or nil
func (m *VoiceManager) Get(guildID string) *VoiceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voices[guildID]
}

func (m *VoiceManager) Has(guildID string) bool {
	return m.Get(guildID) != nil
}

func (m *VoiceManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// All returns every voice state
func (m *VoiceManager) All() []*VoiceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*VoiceState, 0, len(m.voices))
	for _, v := range m.voices {
		out = append(out, v)
	}
	return out
}

// Info returns the cached voice info of the guild
func (m *VoiceManager) Info(guildID string) (VoiceInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.cache[guildID]
	return info, ok
}

// Region returns the voice region, creating it on first use
func (m *VoiceManager) Region(id string) *VoiceRegion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regionLocked(id)
}

func (m *VoiceManager) regionLocked(id string) *VoiceRegion {
	r, ok := m.regions[id]
	if !ok {
		r = newVoiceRegion(m.player, id)
		m.regions[id] = r
	}
	return r
}

// Regions returns every known voice region
func (m *VoiceManager) Regions() []*VoiceRegion {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*VoiceRegion, 0, len(m.regions))
	for _, r := range m.regions {
		out = append(out, r)
	}
	return out
}

func (m *VoiceManager) forgetNode(name string) {
	for _, r := range m.Regions() {
		r.ForgetNode(name)
	}
}

func (m *VoiceManager) updateInfo(guildID string, fn func(*VoiceInfo)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.cache[guildID]
	if !ok {
		return
	}
	fn(&info)
	m.cache[guildID] = info
}

// Connect joins or moves to a voice channel and waits until a player is attached
func (m *VoiceManager) Connect(ctx context.Context, guildID, channelID string, opts *ConnectOptions) (*VoiceState, error) {
	if !common.IsSnowflake(guildID) {
		return nil, ErrInvalidGuildID
	}
	if !common.IsSnowflake(channelID) {
		return nil, ErrInvalidChannelID
	}
	if opts == nil {
		opts = &ConnectOptions{}
	}

	if req, pending := m.pendingJoin(guildID); pending {
		return m.attach(ctx, guildID, channelID, req)
	}

	m.mu.Lock()
	voice := m.voices[guildID]
	info, cached := m.cache[guildID]
	m.mu.Unlock()
	joined := voice != nil && cached && info.ChannelID == channelID

	if joined && voice.Connected() && !voice.Reconnecting() {
		return voice, nil
	}
	if opts.Node != "" && !m.player.nodes.IsState(opts.Node, node.StateReady) {
		return nil, nodeErr(ErrNodeNotReady, opts.Node)
	}

	req := newJoinRequest(channelID, *opts)
	m.mu.Lock()
	if other, ok := m.joins[guildID]; ok {
		m.mu.Unlock()
		return m.attach(ctx, guildID, channelID, other)
	}
	m.joins[guildID] = req
	m.mu.Unlock()

	started := time.Now()
	defer func() {
		if voice != nil {
			voice.setReconnecting(false)
		}
		m.mu.Lock()
		if m.joins[guildID] == req {
			delete(m.joins, guildID)
		}
		m.mu.Unlock()
	}()

	v, err := m.join(ctx, guildID, req, voice, joined)
	if err != nil {
		m.mu.Lock()
		delete(m.cache, guildID)
		m.mu.Unlock()
		if leaveErr := m.sendVoiceUpdate(context.WithoutCancel(ctx), guildID, ""); leaveErr != nil {
			m.logger.Debug("Failed to leave voice channel",
				logging.String("guild_id", guildID),
				logging.Error(leaveErr))
		}
		req.reject(err)
		return nil, err
	}

	m.player.metrics.VoiceJoined(time.Since(started))
	return v, nil
}

func (m *VoiceManager) pendingJoin(guildID string) (*joinRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.joins[guildID]
	return req, ok
}

// attach waits on an in-flight join to the same channel
func (m *VoiceManager) attach(ctx context.Context, guildID, channelID string, req *joinRequest) (*VoiceState, error) {
	if req.channelID != channelID {
		return nil, guildErr(ErrJoinInProgress, guildID)
	}
	return req.wait(ctx)
}

func (m *VoiceManager) join(ctx context.Context, guildID string, req *joinRequest, voice *VoiceState, joined bool) (*VoiceState, error) {
	if joined {
		voice.setReconnecting(true)
		if err := m.sendVoiceUpdate(ctx, guildID, ""); err != nil {
			return nil, err
		}
	}
	if err := m.sendVoiceUpdate(ctx, guildID, req.channelID); err != nil {
		return nil, err
	}

	timer := time.NewTimer(m.player.opts.JoinTimeout)
	defer timer.Stop()

	select {
	case <-req.done:
		return req.voice, req.err
	case <-timer.C:
		return nil, fmt.Errorf("%w - Guild[%s] Voice[%s]", ErrJoinTimeout, guildID, req.channelID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Disconnect asks Discord to leave the guild's voice channel
func (m *VoiceManager) Disconnect(ctx context.Context, guildID string) error {
	m.mu.Lock()
	if _, ok := m.voices[guildID]; !ok {
		m.mu.Unlock()
		return guildErr(ErrNoConnection, guildID)
	}
	delete(m.cache, guildID)
	m.mu.Unlock()
	return m.sendVoiceUpdate(ctx, guildID, "")
}

// Destroy tears down the guild's voice connection, and its queue if any
func (m *VoiceManager) Destroy(ctx context.Context, guildID, reason string) error {
	if m.player.queues.Has(guildID) {
		return m.player.queues.Destroy(ctx, guildID, reason)
	}
	if reason == "" {
		reason = "destroyed"
	}

	_, err := share(ctx, &m.destroys, guildID, func() (struct{}, error) {
		voice := m.Get(guildID)
		if voice == nil {
			return struct{}{}, nil
		}
		if err := m.Disconnect(ctx, guildID); err != nil {
			m.logger.Debug("Failed to disconnect voice",
				logging.String("guild_id", guildID),
				logging.Error(err))
		}
		m.mu.Lock()
		if m.voices[guildID] == voice {
			delete(m.voices, guildID)
		}
		m.mu.Unlock()
		m.player.emit(&VoiceDestroyEvent{Voice: voice, Reason: reason})
		return struct{}{}, nil
	})
	return err
}

func (m *VoiceManager) sendVoiceUpdate(ctx context.Context, guildID, channelID string) error {
	update := VoiceUpdate{
		Op: gatewayOpVoiceUpdate,
		D: VoiceUpdateData{
			GuildID:  guildID,
			SelfDeaf: channelID != "",
			SelfMute: false,
		},
	}
	if channelID != "" {
		update.D.ChannelID = &channelID
	}
	return m.player.opts.ForwardVoiceUpdate(ctx, guildID, update)
}

// HandleDispatch consumes READY, VOICE_STATE_UPDATE and VOICE_SERVER_UPDATE
// dispatches, anything else is ignored
func (m *VoiceManager) HandleDispatch(payload GatewayPayload) error {
	if payload.Op != gatewayOpDispatch {
		return nil
	}
	switch payload.T {
	case "VOICE_STATE_UPDATE":
		var data voiceStateUpdate
		if err := json.Unmarshal(payload.D, &data); err != nil {
			return fmt.Errorf("decode %s: %w", payload.T, err)
		}
		m.onStateUpdate(data)
	case "VOICE_SERVER_UPDATE":
		var data voiceServerUpdate
		if err := json.Unmarshal(payload.D, &data); err != nil {
			return fmt.Errorf("decode %s: %w", payload.T, err)
		}
		m.player.goBackground(func(ctx context.Context) {
			m.onServerUpdate(ctx, data)
		})
	case "READY":
		var data clientReady
		if err := json.Unmarshal(payload.D, &data); err != nil {
			return fmt.Errorf("decode %s: %w", payload.T, err)
		}
		m.onClientReady(data)
	}
	return nil
}

func (m *VoiceManager) onClientReady(data clientReady) {
	p := m.player
	if p.opts.DisableAutoInit || p.Ready() {
		return
	}
	p.goBackground(func(ctx context.Context) {
		if err := p.Init(ctx, data.User.ID); err != nil {
			m.logger.Error("Failed to initialize player", logging.Error(err))
		}
	})
}

func (m *VoiceManager) onStateUpdate(data voiceStateUpdate) {
	if data.GuildID == "" || data.UserID != m.player.ClientID() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if data.ChannelID == nil {
		delete(m.cache, data.GuildID)
		return
	}
	_, hasVoice := m.voices[data.GuildID]
	_, joining := m.joins[data.GuildID]
	if !hasVoice && !joining {
		return
	}

	info, ok := m.cache[data.GuildID]
	if !ok {
		info = VoiceInfo{
			GuildID:  data.GuildID,
			RegionID: common.UnknownRegion,
			Ping:     -1,
		}
	}
	info.ChannelID = *data.ChannelID
	info.SessionID = data.SessionID
	info.Deaf = data.Deaf
	info.Mute = data.Mute
	info.SelfDeaf = data.SelfDeaf
	info.SelfMute = data.SelfMute
	info.Suppress = data.Suppress
	m.cache[data.GuildID] = info
}

func (m *VoiceManager) onServerUpdate(ctx context.Context, data voiceServerUpdate) {
	if data.Endpoint == nil {
		return
	}
	guildID := data.GuildID

	m.mu.Lock()
	req := m.joins[guildID]
	info, ok := m.cache[guildID]
	if !ok {
		m.mu.Unlock()
		if req != nil {
			req.reject(ErrNoVoiceState)
		}
		return
	}
	info.Token = data.Token
	info.Endpoint = *data.Endpoint
	info.RegionID = common.VoiceRegionID(info.Endpoint)
	m.cache[guildID] = info
	region := m.regionLocked(info.RegionID)
	voice := m.voices[guildID]
	m.mu.Unlock()

	var opts ConnectOptions
	if req != nil {
		opts = req.opts
	}

	n, err := m.selectNode(voice, region, opts.Node)
	if err != nil {
		if req != nil {
			req.reject(err)
		}
		return
	}

	voice, err = m.attachPlayer(ctx, n, voice, info, opts)
	if err != nil {
		m.logger.Debug("Failed to attach player",
			logging.String("guild_id", guildID),
			logging.String("node", n.Name()),
			logging.Error(err))
		if req != nil {
			req.reject(err)
		}
		return
	}
	if req != nil {
		req.resolve(voice)
	}
}

func (m *VoiceManager) selectNode(voice *VoiceState, region *VoiceRegion, pinned string) (*node.Node, error) {
	var n *node.Node
	switch {
	case voice != nil:
		n = voice.Node()
	case pinned != "":
		n = m.player.nodes.Get(pinned)
	default:
		n = region.RelevantNode()
	}
	if n == nil || !n.Ready() {
		if pinned != "" {
			return nil, fmt.Errorf("node '%s' unavailable", pinned)
		}
		return nil, ErrNoNodes
	}
	return n, nil
}

func (m *VoiceManager) attachPlayer(ctx context.Context, n *node.Node, voice *VoiceState, info VoiceInfo, opts ConnectOptions) (*VoiceState, error) {
	guildID := info.GuildID
	update := &protocol.PlayerUpdate{
		Voice: &protocol.VoiceState{
			Token:     info.Token,
			Endpoint:  info.Endpoint,
			SessionID: info.SessionID,
		},
		Filters: opts.Filters,
		Volume:  opts.Volume,
	}
	player, err := n.Rest().UpdatePlayer(ctx, guildID, update, nil)
	if err != nil {
		return nil, err
	}
	m.player.queues.putSnapshot(guildID, player)

	m.mu.Lock()
	if cur, ok := m.cache[guildID]; ok {
		cur.NodeSessionID = n.SessionID()
		cur.Connected = player.State.Connected
		cur.Ping = player.State.Ping
		m.cache[guildID] = cur
	}
	if voice == nil {
		voice = m.voices[guildID]
	}
	if voice == nil {
		voice = newVoiceState(m.player, n, guildID)
		m.voices[guildID] = voice
	}
	m.mu.Unlock()

	m.player.emit(&VoiceConnectEvent{Voice: voice})

	if !m.player.queues.Has(guildID) {
		if _, err := m.player.queues.create(guildID, opts.Context); err != nil {
			return nil, err
		}
	}
	return voice, nil
}
