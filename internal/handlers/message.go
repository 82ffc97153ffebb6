package handlers

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/latoulicious/tarulink/internal/commands"
	"github.com/latoulicious/tarulink/pkg/logging"
)

// CommandTimeout bounds a single command, joining voice and loading tracks included
const CommandTimeout = 30 * time.Second

// Sender posts embeds to a text channel
type Sender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var mentionResponses = []string{
	"Hi! Join a voice channel and try `{prefix}play <song>`.",
	"Need help? `{prefix}help` lists everything I can do.",
	"Ready when you are, `{prefix}play` something!",
}

// MessageHandler routes prefixed messages to the command set
func MessageHandler(cmds *commands.Commands, logger logging.Logger) func(s *discordgo.Session, m *discordgo.MessageCreate) {
	if logger == nil {
		logger = logging.NullLogger()
	}
	logger = logger.With(logging.String("component", "handlers"))

	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if s.State.User == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), CommandTimeout)
		defer cancel()
		handleMessage(ctx, s, cmds, s.State.User.ID, m.Message, logger)
	}
}

func handleMessage(ctx context.Context, sender Sender, cmds *commands.Commands, selfID string, m *discordgo.Message, logger logging.Logger) {
	// Ignore all messages created by bots, this one included
	if m.Author == nil || m.Author.ID == selfID || m.Author.Bot {
		return
	}

	for _, mention := range m.Mentions {
		if mention.ID == selfID {
			reply := mentionResponses[rand.Intn(len(mentionResponses))]
			send(sender, m.ChannelID, &discordgo.MessageEmbed{
				Description: withPrefix(reply, cmds.Prefix()),
				Color:       0x7289da,
			}, logger)
			return
		}
	}

	name, args, ok := cmds.Parse(m.Content)
	if !ok {
		return
	}
	if m.GuildID == "" {
		send(sender, m.ChannelID, &discordgo.MessageEmbed{
			Description: "Commands only work inside a server.",
			Color:       0xff0000,
		}, logger)
		return
	}

	reply, found := cmds.Execute(ctx, name, commands.Request{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		Username:  m.Author.Username,
		Args:      args,
	})
	if !found {
		reply = &discordgo.MessageEmbed{
			Description: withPrefix("Unknown command. Try `{prefix}help`.", cmds.Prefix()),
			Color:       0xff0000,
		}
	}
	send(sender, m.ChannelID, reply, logger)
}

func send(sender Sender, channelID string, embed *discordgo.MessageEmbed, logger logging.Logger) {
	if _, err := sender.ChannelMessageSendEmbed(channelID, embed); err != nil {
		logger.Warn("Failed to send message",
			logging.String("channel_id", channelID),
			logging.Error(err))
	}
}

func withPrefix(text, prefix string) string {
	return strings.ReplaceAll(text, "{prefix}", prefix)
}
