package handlers

import (
	"github.com/bwmarrin/discordgo"
	"github.com/latoulicious/tarulink/internal/commands"
)

// StateVoiceLocator finds users' voice channels in the session's state cache
func StateVoiceLocator(s *discordgo.Session) commands.VoiceLocator {
	return func(guildID, userID string) (string, error) {
		vs, err := s.State.VoiceState(guildID, userID)
		if err != nil {
			return "", err
		}
		return vs.ChannelID, nil
	}
}
