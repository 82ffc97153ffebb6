package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/latoulicious/tarulink/pkg/common"
	"github.com/latoulicious/tarulink/pkg/player"
	"github.com/latoulicious/tarulink/pkg/track"
)

const (
	categoryMusic = "🎵 Music"
	categoryQueue = "📋 Queue"
	categoryInfo  = "ℹ️ Information"
	categoryAdmin = "🔧 Admin (Bot Owner Only)"
)

func (c *Commands) play(ctx context.Context, req Request) *discordgo.MessageEmbed {
	if len(req.Args) == 0 {
		return embed("❌ Usage Error", fmt.Sprintf("Usage: `%splay <url or query>`", c.prefix), colorError)
	}

	channelID, err := c.locate(req)
	if err != nil {
		return errorEmbed(describeError(err))
	}

	before := 0
	if q := c.player.GetQueue(req.GuildID); q != nil {
		before = q.TotalLen()
	}

	q, err := c.player.Play(ctx, strings.Join(req.Args, " "), player.PlayOptions{
		CreateQueueOptions: player.CreateQueueOptions{
			GuildID:   req.GuildID,
			ChannelID: channelID,
			Context:   map[string]any{"text_channel_id": req.ChannelID},
		},
		UserData: map[string]any{"requester": req.Username},
	})
	if err != nil {
		c.logger.Warn("Play failed", logErr(req, err)...)
		return errorEmbed(describeError(err))
	}

	added := q.TotalLen() - before
	tracks := q.Tracks()
	if added == 1 && len(tracks) > 0 {
		t := tracks[len(tracks)-1]
		return successEmbed("🎵 Track Added",
			fmt.Sprintf("Added **%s** to the queue (Position: %d)", t.Title, len(tracks)))
	}
	return successEmbed("🎵 Tracks Added",
		fmt.Sprintf("Added **%d** tracks to the queue (%s total)", added, q.FormattedDuration()))
}

// locate returns the caller's voice channel, or the channel the queue is
// already in
func (c *Commands) locate(req Request) (string, error) {
	if c.voice != nil {
		if channelID, err := c.voice(req.GuildID, req.UserID); err == nil && channelID != "" {
			return channelID, nil
		}
	}
	if v := c.player.Voices().Get(req.GuildID); v != nil && v.ChannelID() != "" {
		return v.ChannelID(), nil
	}
	return "", ErrNotInVoice
}

func (c *Commands) pause(ctx context.Context, req Request) *discordgo.MessageEmbed {
	q, reply := c.queueOf(req)
	if reply != nil {
		return reply
	}
	if q.Paused() {
		return errorEmbed("Playback is already paused.")
	}
	if _, err := q.Pause(ctx); err != nil {
		return errorEmbed(describeError(err))
	}
	return embed("⏸️ Playback Paused", "Music playback has been paused.", colorWarn)
}

func (c *Commands) resume(ctx context.Context, req Request) *discordgo.MessageEmbed {
	q, reply := c.queueOf(req)
	if reply != nil {
		return reply
	}
	if q.Playing() {
		return errorEmbed("Playback is not paused.")
	}
	if _, err := q.Resume(ctx); err != nil {
		return errorEmbed(describeError(err))
	}
	return successEmbed("▶️ Playback Resumed", "Music playback has been resumed.")
}

func (c *Commands) skip(ctx context.Context, req Request) *discordgo.MessageEmbed {
	q, reply := c.queueOf(req)
	if reply != nil {
		return reply
	}
	next, err := q.Next(ctx)
	if err != nil {
		return errorEmbed(describeError(err))
	}
	return successEmbed("⏭️ Skipped", fmt.Sprintf("Now playing **%s**", next.Title))
}

func (c *Commands) previous(ctx context.Context, req Request) *discordgo.MessageEmbed {
	q, reply := c.queueOf(req)
	if reply != nil {
		return reply
	}
	if !q.HasPrevious() {
		return errorEmbed("There is no previous track.")
	}
	prev, err := q.Previous(ctx)
	if err != nil {
		return errorEmbed(describeError(err))
	}
	return successEmbed("⏮️ Previous", fmt.Sprintf("Now playing **%s**", prev.Title))
}

func (c *Commands) stop(ctx context.Context, req Request) *discordgo.MessageEmbed {
	q, reply := c.queueOf(req)
	if reply != nil {
		return reply
	}
	if err := q.Stop(ctx); err != nil {
		return errorEmbed(describeError(err))
	}
	return embed("⏹️ Playback Stopped", fmt.Sprintf("Use `%sresume` to start again.", c.prefix), colorWarn)
}

// parsePosition accepts "90", "1:30" and "1:02:03" and returns milliseconds
func parsePosition(s string) (int64, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid position '%s'", s)
	}
	var secs int64
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid position '%s'", s)
		}
		secs = secs*60 + n
	}
	return secs * 1000, nil
}

func (c *Commands) seek(ctx context.Context, req Request) *discordgo.MessageEmbed {
	if len(req.Args) == 0 {
		return errorEmbed(fmt.Sprintf("Usage: `%sseek <mm:ss>`", c.prefix))
	}
	ms, err := parsePosition(req.Args[0])
	if err != nil {
		return errorEmbed(err.Error())
	}
	q, reply := c.queueOf(req)
	if reply != nil {
		return reply
	}
	pos, err := q.Seek(ctx, ms)
	if err != nil {
		return errorEmbed(describeError(err))
	}
	return successEmbed("⏩ Seeked", fmt.Sprintf("Position is now %s", common.FormatDuration(float64(pos))))
}

func (c *Commands) volume(ctx context.Context, req Request) *discordgo.MessageEmbed {
	q, reply := c.queueOf(req)
	if reply != nil {
		return reply
	}
	if len(req.Args) == 0 {
		return embed("🔊 Volume", fmt.Sprintf("Volume is %d%%", q.Volume()), colorInfo)
	}
	v, err := strconv.Atoi(strings.TrimSuffix(req.Args[0], "%"))
	if err != nil {
		return errorEmbed(describeError(player.ErrInvalidVolume))
	}
	v, err = q.SetVolume(ctx, v)
	if err != nil {
		return errorEmbed(describeError(err))
	}
	return successEmbed("🔊 Volume", fmt.Sprintf("Volume set to %d%%", v))
}

func (c *Commands) repeat(_ context.Context, req Request) *discordgo.MessageEmbed {
	q, reply := c.queueOf(req)
	if reply != nil {
		return reply
	}
	if len(req.Args) == 0 {
		return embed("🔁 Repeat", fmt.Sprintf("Repeat mode is **%s**", q.RepeatMode()), colorInfo)
	}
	mode, err := player.ParseRepeatMode(strings.ToLower(req.Args[0]))
	if err != nil {
		return errorEmbed(describeError(err))
	}
	if _, err := q.SetRepeatMode(mode); err != nil {
		return errorEmbed(describeError(err))
	}
	return successEmbed("🔁 Repeat", fmt.Sprintf("Repeat mode set to **%s**", mode))
}

func (c *Commands) autoplay(_ context.Context, req Request) *discordgo.MessageEmbed {
	q, reply := c.queueOf(req)
	if reply != nil {
		return reply
	}
	on := q.SetAutoplay(!q.Autoplay())
	state := "disabled"
	if on {
		state = "enabled"
	}
	return successEmbed("📻 Autoplay", "Autoplay "+state)
}

func (c *Commands) nowPlaying(_ context.Context, req Request) *discordgo.MessageEmbed {
	q := c.player.GetQueue(req.GuildID)
	if q == nil || q.Track() == nil {
		e := nothingPlaying()
		e.Footer.Text = fmt.Sprintf("Use %splay to start playing music", c.prefix)
		return e
	}
	return nowPlayingEmbed(q, q.Track())
}

func nowPlayingEmbed(q *player.Queue, t *track.Track) *discordgo.MessageEmbed {
	statusEmoji, statusText := "🟢", "Playing"
	switch {
	case q.Stopped():
		statusEmoji, statusText = "🔴", "Stopped"
	case q.Paused():
		statusEmoji, statusText = "🟡", "Paused"
	case q.Voice().Reconnecting():
		statusEmoji, statusText = "🟡", "Reconnecting..."
	}

	title := fmt.Sprintf("**%s**", t.Title)
	if t.URL != "" {
		title = fmt.Sprintf("**[%s](%s)**", t.Title, t.URL)
	}

	e := embed("🎵 Now Playing", title, colorSuccess)
	e.Fields = []*discordgo.MessageEmbedField{
		{Name: "Author", Value: t.Author, Inline: true},
		{Name: "Position", Value: fmt.Sprintf("%s / %s", q.FormattedCurrentTime(), t.FormattedDuration), Inline: true},
		{Name: "Status", Value: fmt.Sprintf("%s %s", statusEmoji, statusText), Inline: true},
		{Name: "Source", Value: t.SourceName, Inline: true},
		{Name: "Node", Value: q.Node().Name(), Inline: true},
		{Name: "Repeat", Value: string(q.RepeatMode()), Inline: true},
	}
	if requester, ok := t.UserData["requester"].(string); ok && requester != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Requested by", Value: requester, Inline: true})
	}
	if t.ArtworkURL != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: t.ArtworkURL}
	}
	return e
}
