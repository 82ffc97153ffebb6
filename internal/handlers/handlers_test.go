package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/latoulicious/tarulink/internal/commands"
	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/node"
	"github.com/latoulicious/tarulink/pkg/player"
	"github.com/latoulicious/tarulink/pkg/protocol"
	"github.com/latoulicious/tarulink/pkg/rest"
	"github.com/latoulicious/tarulink/pkg/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	selfID  = "1089530211137658970"
	guildID = "1089530211137658971"
)

type sentMessage struct {
	channelID string
	embed     *discordgo.MessageEmbed
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{channelID: channelID, embed: embed})
	return &discordgo.Message{ChannelID: channelID}, f.err
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func newTestCommands(t *testing.T) *commands.Commands {
	t.Helper()
	p, err := player.New(player.Options{
		Nodes: []node.Options{{
			Name:    "main",
			Options: rest.Options{Origin: "http://127.0.0.1:2333", Password: "youshallnotpass"},
		}},
		ForwardVoiceUpdate: func(context.Context, string, player.VoiceUpdate) error { return nil },
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close(context.Background()) })
	return commands.New(commands.Options{Player: p, OwnerID: "1089530211137658975"})
}

func message(content string) *discordgo.Message {
	return &discordgo.Message{
		ChannelID: "1089530211137658976",
		GuildID:   guildID,
		Content:   content,
		Author:    &discordgo.User{ID: "1089530211137658974", Username: "tester"},
	}
}

func TestHandleMessage(t *testing.T) {
	cmds := newTestCommands(t)

	tests := []struct {
		name    string
		message func() *discordgo.Message
		want    string
	}{
		{
			name:    "not a command",
			message: func() *discordgo.Message { return message("hello") },
		},
		{
			name: "bot author",
			message: func() *discordgo.Message {
				m := message("!help")
				m.Author.Bot = true
				return m
			},
		},
		{
			name: "own message",
			message: func() *discordgo.Message {
				m := message("!help")
				m.Author.ID = selfID
				return m
			},
		},
		{
			name: "direct message",
			message: func() *discordgo.Message {
				m := message("!np")
				m.GuildID = ""
				return m
			},
			want: "Commands only work inside a server.",
		},
		{
			name:    "unknown command",
			message: func() *discordgo.Message { return message("!dance") },
			want:    "Unknown command. Try `!help`.",
		},
		{
			name:    "play outside voice",
			message: func() *discordgo.Message { return message("!play never gonna give you up") },
			want:    "You need to join a voice channel first.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			handleMessage(context.Background(), sender, cmds, selfID, tt.message(), logging.NullLogger())

			sent := sender.messages()
			if tt.want == "" {
				assert.Empty(t, sent)
				return
			}
			require.Len(t, sent, 1)
			assert.Equal(t, "1089530211137658976", sent[0].channelID)
			assert.Equal(t, tt.want, sent[0].embed.Description)
		})
	}
}

func TestHandleMessageMention(t *testing.T) {
	cmds := newTestCommands(t)
	sender := &fakeSender{}

	m := message("hey <@1089530211137658970>")
	m.Mentions = []*discordgo.User{{ID: selfID}}
	handleMessage(context.Background(), sender, cmds, selfID, m, logging.NullLogger())

	sent := sender.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].embed.Description, "`!")
	assert.NotContains(t, sent[0].embed.Description, "{prefix}")
}

func TestHandleMessageSendError(t *testing.T) {
	cmds := newTestCommands(t)
	sender := &fakeSender{err: errors.New("missing permissions")}

	assert.NotPanics(t, func() {
		handleMessage(context.Background(), sender, cmds, selfID, message("!nodes"), logging.NullLogger())
	})
	assert.Len(t, sender.messages(), 1)
}

func TestSlashCommands(t *testing.T) {
	cmds := newTestCommands(t)
	defs := SlashCommands(cmds)

	byName := make(map[string]*discordgo.ApplicationCommand)
	for _, def := range defs {
		byName[def.Name] = def
	}

	assert.NotContains(t, byName, "jobs")
	assert.NotContains(t, byName, "move")
	require.Contains(t, byName, "play")
	require.Len(t, byName["play"].Options, 1)
	assert.True(t, byName["play"].Options[0].Required)
	require.Contains(t, byName, "queue")
	assert.False(t, byName["queue"].Options[0].Required)
	assert.Empty(t, byName["pause"].Options)
}

func TestSlashRequest(t *testing.T) {
	interaction := func(member *discordgo.Member, guild string) *discordgo.InteractionCreate {
		return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   guild,
			ChannelID: "1089530211137658976",
			Member:    member,
			Data: discordgo.ApplicationCommandInteractionData{
				Name: "queue",
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{Name: argsOption, Type: discordgo.ApplicationCommandOptionString, Value: "remove  2"},
				},
			},
		}}
	}
	user := &discordgo.User{ID: "1089530211137658974", Username: "tester"}

	req, ok := slashRequest(interaction(&discordgo.Member{User: user}, guildID))
	require.True(t, ok)
	assert.Equal(t, commands.Request{
		GuildID:   guildID,
		ChannelID: "1089530211137658976",
		UserID:    user.ID,
		Username:  "tester",
		Args:      []string{"remove", "2"},
	}, req)

	_, ok = slashRequest(interaction(nil, ""))
	assert.False(t, ok)

	_, ok = slashRequest(interaction(&discordgo.Member{User: &discordgo.User{ID: "1", Bot: true}}, guildID))
	assert.False(t, ok)
}

func TestAnnouncementMessages(t *testing.T) {
	song := &track.Track{
		Title:             "Never Gonna Give You Up",
		Author:            "Rick Astley",
		FormattedDuration: "03:33",
		UserData:          map[string]any{"requester": "tester"},
	}
	assert.Equal(t, "🎶 Now playing: **Never Gonna Give You Up** by Rick Astley `03:33` (Requested by: tester)", trackStartMessage(song))

	anonymous := *song
	anonymous.UserData = map[string]any{}
	assert.Equal(t, "🎶 Now playing: **Never Gonna Give You Up** by Rick Astley `03:33`", trackStartMessage(&anonymous))

	reason := "This video is unavailable"
	tests := []struct {
		name      string
		exception *protocol.Exception
		want      string
	}{
		{name: "with message", exception: &protocol.Exception{Message: &reason}, want: "This video is unavailable"},
		{name: "without message", exception: &protocol.Exception{}, want: "unknown error"},
		{name: "no exception", want: "unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, "⚠️ Failed to play **Never Gonna Give You Up**: "+tt.want, trackErrorMessage(song, tt.exception))
		})
	}
}

func TestAnnouncerIgnoresEventsWithoutQueue(t *testing.T) {
	p, err := player.New(player.Options{
		Nodes:              []node.Options{{Name: "main", Options: rest.Options{Origin: "http://127.0.0.1:2333"}}},
		ForwardVoiceUpdate: func(context.Context, string, player.VoiceUpdate) error { return nil },
	})
	require.NoError(t, err)
	defer p.Close(context.Background())

	sender := &fakeSender{}
	detach := NewAnnouncer(sender, nil).Attach(p)
	defer detach()

	p.Events().Emit(&player.QueueFinishEvent{})
	p.Events().Emit(&player.QueueDestroyEvent{Reason: "left"})
	assert.Empty(t, sender.messages())
}
