package player

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/node"
	"github.com/latoulicious/tarulink/pkg/protocol"
)

// VoiceState is the bot's voice connection in one guild, bound to the node
// hosting its player
type VoiceState struct {
	guildID string
	player  *Player

	mu           sync.Mutex
	node         *node.Node
	reconnecting bool
	changing     bool

	changes singleflight.Group
}

func newVoiceState(p *Player, n *node.Node, guildID string) *VoiceState {
	return &VoiceState{guildID: guildID, player: p, node: n}
}

func (v *VoiceState) GuildID() string { return v.guildID }

// Node returns the node hosting the guild's player
func (v *VoiceState) Node() *node.Node {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.node
}

func (v *VoiceState) setNode(n *node.Node) {
	v.mu.Lock()
	v.node = n
	v.mu.Unlock()
}

func (v *VoiceState) info() VoiceInfo {
	info, _ := v.player.voices.Info(v.guildID)
	return info
}

// Ping is the voice gateway ping reported by the node, -1 if not connected
func (v *VoiceState) Ping() int64 {
	snap := v.player.queues.snapshot(v.guildID)
	if snap == nil {
		return -1
	}
	return snap.State.Ping
}

func (v *VoiceState) RegionID() string  { return v.info().RegionID }
func (v *VoiceState) ChannelID() string { return v.info().ChannelID }
func (v *VoiceState) SelfDeaf() bool    { return v.info().SelfDeaf }
func (v *VoiceState) SelfMute() bool    { return v.info().SelfMute }
func (v *VoiceState) ServerDeaf() bool  { return v.info().Deaf }
func (v *VoiceState) ServerMute() bool  { return v.info().Mute }
func (v *VoiceState) Suppressed() bool  { return v.info().Suppress }

// Destroyed reports whether this state was replaced or removed
func (v *VoiceState) Destroyed() bool {
	return v.player.voices.Get(v.guildID) != v
}

// Connected reports whether the node's player is connected and was attached
// with the node's current session
func (v *VoiceState) Connected() bool {
	snap := v.player.queues.snapshot(v.guildID)
	if snap == nil || !snap.State.Connected {
		return false
	}
	info, ok := v.player.voices.Info(v.guildID)
	if !ok {
		return false
	}
	return info.Connected && info.NodeSessionID == v.Node().SessionID()
}

// Reconnecting is true while the voice connection is being re-established
func (v *VoiceState) Reconnecting() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reconnecting
}

func (v *VoiceState) setReconnecting(b bool) {
	v.mu.Lock()
	v.reconnecting = b
	v.mu.Unlock()
}

// Disconnected is true when the voice connection is down and no rejoin is running
func (v *VoiceState) Disconnected() bool {
	return !v.Connected() && !v.Reconnecting()
}

func (v *VoiceState) setChanging(b bool) {
	v.mu.Lock()
	v.changing = b
	v.mu.Unlock()
}

// ChangingNode reports whether a node change is in flight
func (v *VoiceState) ChangingNode() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.changing
}

// Connect reconnects to channelID, or to the current channel when empty
func (v *VoiceState) Connect(ctx context.Context, channelID string) (*VoiceState, error) {
	if channelID == "" {
		channelID = v.ChannelID()
	}
	return v.player.voices.Connect(ctx, v.guildID, channelID, nil)
}

// Disconnect leaves the voice channel but keeps the state and its queue
func (v *VoiceState) Disconnect(ctx context.Context) error {
	return v.player.voices.Disconnect(ctx, v.guildID)
}

func (v *VoiceState) Destroy(ctx context.Context, reason string) error {
	return v.player.voices.Destroy(ctx, v.guildID, reason)
}

// ChangeNode moves the guild's player to another ready node, carrying over
// the playing track when the target supports its source
func (v *VoiceState) ChangeNode(ctx context.Context, name string) error {
	target := v.player.nodes.Get(name)
	if target == nil {
		return nodeErr(ErrNodeNotFound, name)
	}
	if !target.Ready() {
		return nodeErr(ErrNodeNotReady, name)
	}

	_, err := share(ctx, &v.changes, v.guildID, func() (struct{}, error) {
		v.setChanging(true)
		defer v.setChanging(false)
		return struct{}{}, v.changeNode(ctx, target)
	})
	return err
}

func (v *VoiceState) changeNode(ctx context.Context, target *node.Node) error {
	previous := v.Node()
	if previous.Name() == target.Name() {
		return nodeErr(ErrAlreadyOnNode, target.Name())
	}

	snap := v.player.queues.snapshot(v.guildID)
	if snap == nil {
		snap = &protocol.Player{}
	}
	info := v.info()

	filters := snap.Filters.Clone()
	req := &protocol.PlayerUpdate{
		Voice: &protocol.VoiceState{
			Token:     info.Token,
			Endpoint:  info.Endpoint,
			SessionID: info.SessionID,
		},
		Filters: &filters,
		Paused:  protocol.Ptr(snap.Paused),
		Volume:  protocol.Ptr(snap.Volume),
	}

	wasPlaying := !snap.Paused && snap.Track != nil
	if wasPlaying && v.player.nodes.NodeSupports(FeatureSource, snap.Track.Info.SourceName, target.Name()) {
		req.Track = &protocol.UpdateTrack{
			Encoded:  protocol.Ptr(snap.Track.Encoded),
			UserData: snap.Track.UserData,
		}
		req.Position = protocol.Ptr(snap.State.Position)
	}

	if _, err := previous.Rest().DestroyPlayer(ctx, v.guildID); err != nil {
		v.player.logger.Debug("Failed to destroy player on previous node",
			logging.String("guild_id", v.guildID),
			logging.String("node", previous.Name()),
			logging.Error(err))
	}
	v.setNode(target)

	player, err := target.Rest().UpdatePlayer(ctx, v.guildID, req, nil)
	if err != nil {
		return err
	}
	v.player.voices.updateInfo(v.guildID, func(info *VoiceInfo) {
		info.NodeSessionID = target.SessionID()
	})
	v.player.queues.replaceSnapshot(v.guildID, player)
	v.player.emit(&VoiceChangeEvent{Voice: v, PreviousNode: previous, WasPlaying: wasPlaying})
	return nil
}
