package player

import (
	"context"
	"fmt"
	"time"

	"github.com/latoulicious/tarulink/pkg/common"
	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/metrics"
	"github.com/latoulicious/tarulink/pkg/node"
	"github.com/latoulicious/tarulink/pkg/track"
)

const (
	DefaultQueryPrefix = "ytsearch"
	DefaultJoinTimeout = 30 * time.Second
)

// VoiceUpdate is the gateway op 4 payload asking Discord to join or leave a channel
type VoiceUpdate struct {
	Op int             `json:"op"`
	D  VoiceUpdateData `json:"d"`
}

type VoiceUpdateData struct {
	GuildID string `json:"guild_id"`
	// nil leaves the channel
	ChannelID *string `json:"channel_id"`
	SelfDeaf  bool    `json:"self_deaf"`
	SelfMute  bool    `json:"self_mute"`
}

// VoiceUpdateFunc sends a voice update through the shard of the guild
type VoiceUpdateFunc func(ctx context.Context, guildID string, update VoiceUpdate) error

// RelatedTracksFunc returns tracks related to ref, used by autoplay and AddRelated
type RelatedTracksFunc func(ctx context.Context, q *Queue, ref *track.Track) ([]*track.Track, error)

// SessionStore persists node session ids so a restarted process can resume them
type SessionStore interface {
	LoadSession(ctx context.Context, node string) (string, error)
	SaveSession(ctx context.Context, node, sessionID string) error
}

// Options configures a Player
type Options struct {
	// Nodes are created on Init, their ClientID is filled in from Init
	Nodes []node.Options

	// QueryPrefix is prepended to queries that are not URLs
	QueryPrefix string

	// DisableRelocation keeps queues on a node that closed instead of moving them
	DisableRelocation bool
	// DisableAutoInit stops the gateway READY event from initializing the player
	DisableAutoInit bool

	JoinTimeout time.Duration
	// ResumeTimeout enables session resuming on ready nodes when > 0
	ResumeTimeout time.Duration

	ForwardVoiceUpdate VoiceUpdateFunc
	FetchRelatedTracks RelatedTracksFunc

	Store   SessionStore
	Metrics metrics.Collector
	Logger  logging.Logger
}

// ApplyDefaults fills unset fields with their defaults
func (o *Options) ApplyDefaults() {
	if o.QueryPrefix == "" {
		o.QueryPrefix = DefaultQueryPrefix
	}
	if o.JoinTimeout == 0 {
		o.JoinTimeout = DefaultJoinTimeout
	}
	if o.FetchRelatedTracks == nil {
		o.FetchRelatedTracks = func(context.Context, *Queue, *track.Track) ([]*track.Track, error) {
			return nil, nil
		}
	}
	if o.Logger == nil {
		o.Logger = logging.NullLogger()
	}
}

// Validate validates the options and returns any errors
func (o *Options) Validate() error {
	if len(o.Nodes) == 0 {
		return ErrMissingNodes
	}
	if o.ForwardVoiceUpdate == nil {
		return ErrMissingForward
	}

	var errs []string
	seen := make(map[string]struct{}, len(o.Nodes))
	for i, n := range o.Nodes {
		if !common.IsNonEmpty(n.Name) {
			errs = append(errs, fmt.Sprintf("node %d: name must be a non-empty string", i))
			continue
		}
		if _, ok := seen[n.Name]; ok {
			errs = append(errs, fmt.Sprintf("node %d: duplicate name '%s'", i, n.Name))
		}
		seen[n.Name] = struct{}{}
	}
	if !common.IsNonEmpty(o.QueryPrefix) {
		errs = append(errs, "query prefix must be a non-empty string")
	}
	if o.JoinTimeout < 0 {
		errs = append(errs, "join timeout must be > 0")
	}
	if o.ResumeTimeout < 0 {
		errs = append(errs, "resume timeout must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, errs)
	}
	return nil
}
