package handlers

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/latoulicious/tarulink/internal/commands"
	"github.com/latoulicious/tarulink/pkg/logging"
)

const argsOption = "args"

// SlashCommands builds an application command for every command that is not
// owner-only. Arguments are passed as one free-form string option.
func SlashCommands(cmds *commands.Commands) []*discordgo.ApplicationCommand {
	var out []*discordgo.ApplicationCommand
	for _, def := range cmds.Definitions() {
		if def.OwnerOnly {
			continue
		}
		ac := &discordgo.ApplicationCommand{
			Name:        def.Name,
			Description: def.Description,
		}
		if def.Usage != "" {
			ac.Options = []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        argsOption,
					Description: def.Usage,
					Required:    strings.HasPrefix(def.Usage, "<"),
				},
			}
		}
		out = append(out, ac)
	}
	return out
}

// RegisterSlashCommands replaces the bot's application commands, globally
// when guildID is empty
func RegisterSlashCommands(s *discordgo.Session, cmds *commands.Commands, guildID string) error {
	_, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, guildID, SlashCommands(cmds))
	return err
}

// SlashCommandHandler runs application command interactions through the command set
func SlashCommandHandler(cmds *commands.Commands, logger logging.Logger) func(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if logger == nil {
		logger = logging.NullLogger()
	}
	logger = logger.With(logging.String("component", "handlers"))

	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		req, ok := slashRequest(i)
		if !ok {
			return
		}

		// Acknowledge the interaction immediately, joining voice can take a while
		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		})
		if err != nil {
			logger.Warn("Failed to acknowledge interaction", logging.Error(err))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), CommandTimeout)
		defer cancel()

		reply, found := cmds.Execute(ctx, i.ApplicationCommandData().Name, req)
		if !found {
			reply = &discordgo.MessageEmbed{Description: "❌ Unknown command.", Color: 0xff0000}
		}
		embeds := []*discordgo.MessageEmbed{reply}
		if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
			logger.Warn("Failed to send interaction response", logging.Error(err))
		}
	}
}

// slashRequest converts an interaction to a command request, ok is false
// outside of servers and for bots
func slashRequest(i *discordgo.InteractionCreate) (commands.Request, bool) {
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil || i.Member.User.Bot {
		return commands.Request{}, false
	}

	req := commands.Request{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		UserID:    i.Member.User.ID,
		Username:  i.Member.User.Username,
	}
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == argsOption {
			req.Args = strings.Fields(opt.StringValue())
		}
	}
	return req, true
}
