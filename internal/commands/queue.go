package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/latoulicious/tarulink/pkg/player"
)

const queuePageSize = 10

func (c *Commands) queue(ctx context.Context, req Request) *discordgo.MessageEmbed {
	if len(req.Args) == 0 {
		return c.showQueue(req)
	}

	sub := strings.ToLower(req.Args[0])
	switch sub {
	case "list":
		return c.showQueue(req)
	case "remove", "jump":
		if len(req.Args) < 2 {
			return errorEmbed(fmt.Sprintf("Usage: `%squeue %s <position>`", c.prefix, sub))
		}
		pos, err := strconv.Atoi(req.Args[1])
		if err != nil || pos < 1 {
			return errorEmbed(fmt.Sprintf("Invalid position. Use `%squeue list` to see queue positions.", c.prefix))
		}
		if sub == "remove" {
			return c.removeAt(req, pos)
		}
		return c.jumpTo(ctx, req, pos)
	case "clear":
		return c.clear(ctx, req)
	default:
		return errorEmbed(fmt.Sprintf("Usage: `%squeue [list|remove <n>|jump <n>|clear]`", c.prefix))
	}
}

func (c *Commands) showQueue(req Request) *discordgo.MessageEmbed {
	q := c.player.GetQueue(req.GuildID)
	if q == nil || q.Len() == 0 {
		return embed("📭 Queue Empty", "There is nothing in the queue.", colorIdle)
	}

	tracks := q.Tracks()

	var b strings.Builder
	fmt.Fprintf(&b, "🎶 **Now Playing:** %s `%s`\n\n", tracks[0].Title, tracks[0].FormattedDuration)

	upcoming := tracks[1:]
	if len(upcoming) == 0 {
		b.WriteString("📋 No songs up next.")
	} else {
		b.WriteString("📋 **Up Next:**\n")
		for i, t := range upcoming {
			if i == queuePageSize {
				fmt.Fprintf(&b, "...and %d more\n", len(upcoming)-queuePageSize)
				break
			}
			fmt.Fprintf(&b, "%d. **%s** `%s`\n", i+1, t.Title, t.FormattedDuration)
		}
	}

	e := embed("🎵 Music Queue", b.String(), colorInfo)
	e.Fields = []*discordgo.MessageEmbedField{
		{Name: "Tracks", Value: strconv.Itoa(len(tracks)), Inline: true},
		{Name: "Duration", Value: q.FormattedDuration(), Inline: true},
		{Name: "Repeat", Value: string(q.RepeatMode()), Inline: true},
	}
	return e
}

func (c *Commands) removeAt(req Request, pos int) *discordgo.MessageEmbed {
	q, reply := c.queueOf(req)
	if reply != nil {
		return reply
	}
	removed := q.Remove(pos)
	if removed == nil {
		return errorEmbed(describeError(player.ErrIndexOutOfRange))
	}
	return successEmbed("🗑️ Removed", fmt.Sprintf("Removed **%s** from the queue.", removed.Title))
}

func (c *Commands) jumpTo(ctx context.Context, req Request, pos int) *discordgo.MessageEmbed {
	q, reply := c.queueOf(req)
	if reply != nil {
		return reply
	}
	t, err := q.Jump(ctx, pos)
	if err != nil {
		return errorEmbed(describeError(err))
	}
	return successEmbed("⏭️ Jumped", fmt.Sprintf("Now playing **%s**", t.Title))
}

func (c *Commands) clear(_ context.Context, req Request) *discordgo.MessageEmbed {
	q, reply := c.queueOf(req)
	if reply != nil {
		return reply
	}
	n := q.Len()
	if n < 2 {
		return embed("📭 Queue Empty", "There are no upcoming tracks to clear.", colorIdle)
	}
	indices := make([]int, 0, n-1)
	for i := 1; i < n; i++ {
		indices = append(indices, i)
	}
	removed := q.RemoveMany(indices...)
	return successEmbed("🧹 Queue Cleared", fmt.Sprintf("Removed %d upcoming tracks.", len(removed)))
}

func (c *Commands) shuffle(_ context.Context, req Request) *discordgo.MessageEmbed {
	q, reply := c.queueOf(req)
	if reply != nil {
		return reply
	}
	if q.Len() < 3 {
		return embed("📭 Not Enough Songs", "Need at least 2 upcoming songs to shuffle the queue.", colorIdle)
	}
	tracks := q.Shuffle(false).Tracks()
	return successEmbed("🔀 Queue Shuffled", fmt.Sprintf("Up next: **%s**", tracks[1].Title))
}

func (c *Commands) leave(ctx context.Context, req Request) *discordgo.MessageEmbed {
	if q := c.player.GetQueue(req.GuildID); q != nil {
		if err := q.Destroy(ctx, "left by command"); err != nil {
			return errorEmbed(describeError(err))
		}
		return successEmbed("👋 Left", "Queue destroyed and voice channel left.")
	}
	if c.player.Voices().Has(req.GuildID) {
		if err := c.player.Voices().Destroy(ctx, req.GuildID, "left by command"); err != nil {
			return errorEmbed(describeError(err))
		}
		return successEmbed("👋 Left", "Voice channel left.")
	}
	return embed("🔇 Not Connected", "I'm not in a voice channel here.", colorIdle)
}
