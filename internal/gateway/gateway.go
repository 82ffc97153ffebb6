package gateway

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/player"
)

var ErrNotConnected = errors.New("discord session is not connected")

// Dispatcher consumes raw gateway dispatches
type Dispatcher interface {
	HandleDispatch(payload player.GatewayPayload) error
}

// forwarded are the dispatch types the player cares about
var forwarded = map[string]struct{}{
	"READY":               {},
	"VOICE_STATE_UPDATE":  {},
	"VOICE_SERVER_UPDATE": {},
}

// Gateway connects a discordgo session to the player: raw voice dispatches
// flow in and op 4 voice updates flow out
type Gateway struct {
	session *discordgo.Session
	logger  logging.Logger
}

// New creates a gateway adapter for the session
func New(s *discordgo.Session, logger logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.NullLogger()
	}
	return &Gateway{
		session: s,
		logger:  logger.With(logging.String("component", "gateway")),
	}
}

// Attach registers a raw event handler feeding d and returns a func removing it
func (g *Gateway) Attach(d Dispatcher) func() {
	return g.session.AddHandler(func(_ *discordgo.Session, e *discordgo.Event) {
		g.dispatch(d, e)
	})
}

func (g *Gateway) dispatch(d Dispatcher, e *discordgo.Event) {
	if _, ok := forwarded[e.Type]; !ok {
		return
	}

	payload := player.GatewayPayload{Op: e.Operation, T: e.Type, D: e.RawData}
	if err := d.HandleDispatch(payload); err != nil {
		g.logger.Warn("Failed to handle dispatch",
			logging.String("type", e.Type),
			logging.Error(err))
	}
}

// ForwardVoiceUpdate sends the update as a gateway op 4, a nil channel leaves
func (g *Gateway) ForwardVoiceUpdate(ctx context.Context, guildID string, update player.VoiceUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.session.RLock()
	ready := g.session.DataReady
	g.session.RUnlock()
	if !ready {
		return ErrNotConnected
	}

	channelID := ""
	if update.D.ChannelID != nil {
		channelID = *update.D.ChannelID
	}

	g.logger.Debug("Forwarding voice update",
		logging.String("guild_id", guildID),
		logging.String("channel_id", channelID))
	return g.session.ChannelVoiceJoinManual(guildID, channelID, update.D.SelfMute, update.D.SelfDeaf)
}
