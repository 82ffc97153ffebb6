package handlers

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/player"
	"github.com/latoulicious/tarulink/pkg/protocol"
	"github.com/latoulicious/tarulink/pkg/track"
)

// TextChannelKey is the queue context key holding the channel announcements go to
const TextChannelKey = "text_channel_id"

// Announcer posts playback events to the text channel a queue was started from
type Announcer struct {
	sender Sender
	logger logging.Logger
}

func NewAnnouncer(sender Sender, logger logging.Logger) *Announcer {
	if logger == nil {
		logger = logging.NullLogger()
	}
	return &Announcer{sender: sender, logger: logger.With(logging.String("component", "announcer"))}
}

// Attach subscribes to the player and returns a func detaching it
func (a *Announcer) Attach(p *player.Player) func() {
	offs := []func(){
		player.On(p, func(e *player.TrackStartEvent) {
			a.announce(e.Queue, trackStartMessage(e.Track), 0x00ff00)
		}),
		player.On(p, func(e *player.TrackErrorEvent) {
			a.announce(e.Queue, trackErrorMessage(e.Track, e.Exception), 0xffa500)
		}),
		player.On(p, func(e *player.QueueFinishEvent) {
			a.announce(e.Queue, "📭 The queue has finished.", 0x808080)
		}),
		player.On(p, func(e *player.QueueDestroyEvent) {
			a.announce(e.Queue, fmt.Sprintf("👋 Left the voice channel: %s", e.Reason), 0x808080)
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func trackStartMessage(t *track.Track) string {
	msg := fmt.Sprintf("🎶 Now playing: **%s** by %s `%s`", t.Title, t.Author, t.FormattedDuration)
	if requester, ok := t.UserData["requester"].(string); ok && requester != "" {
		msg += fmt.Sprintf(" (Requested by: %s)", requester)
	}
	return msg
}

func trackErrorMessage(t *track.Track, e *protocol.Exception) string {
	reason := "unknown error"
	if e != nil && e.Message != nil && *e.Message != "" {
		reason = *e.Message
	}
	return fmt.Sprintf("⚠️ Failed to play **%s**: %s", t.Title, reason)
}

func (a *Announcer) announce(q *player.Queue, description string, color int) {
	if q == nil {
		return
	}
	channelID, _ := q.Context()[TextChannelKey].(string)
	if channelID == "" {
		return
	}
	// Sent off the event goroutine so node message handling is not held up
	go send(a.sender, channelID, &discordgo.MessageEmbed{Description: description, Color: color}, a.logger)
}
