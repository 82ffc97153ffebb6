package player

import (
	"context"
	"fmt"

	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/protocol"
)

// VoiceCloseKind classifies a Discord voice socket close code
type VoiceCloseKind int

const (
	// VoiceCloseUnknown codes are only reported
	VoiceCloseUnknown VoiceCloseKind = iota
	// VoiceCloseFatal codes mean a broken request, retrying would fail the same way
	VoiceCloseFatal
	// VoiceCloseRecoverable codes are retried with a fresh voice connection
	VoiceCloseRecoverable
	// VoiceCloseTerminal codes mean the bot was removed or the call ended
	VoiceCloseTerminal
)

func (k VoiceCloseKind) String() string {
	switch k {
	case VoiceCloseFatal:
		return "fatal"
	case VoiceCloseRecoverable:
		return "recoverable"
	case VoiceCloseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

var voiceCloseKinds = map[int]VoiceCloseKind{
	4001: VoiceCloseFatal,       // unknown opcode
	4002: VoiceCloseFatal,       // failed to decode payload
	4003: VoiceCloseFatal,       // not authenticated
	4005: VoiceCloseFatal,       // already authenticated
	4012: VoiceCloseFatal,       // unknown protocol
	4016: VoiceCloseFatal,       // unknown encryption mode
	4020: VoiceCloseFatal,       // bad request
	4004: VoiceCloseRecoverable, // authentication failed
	4006: VoiceCloseRecoverable, // session no longer valid
	4009: VoiceCloseRecoverable, // session timeout
	4011: VoiceCloseRecoverable, // server not found
	4015: VoiceCloseRecoverable, // voice server crashed
	4014: VoiceCloseTerminal,    // disconnected
	4021: VoiceCloseTerminal,    // disconnected, rate limited
	4022: VoiceCloseTerminal,    // disconnected, call terminated
}

// ClassifyVoiceClose returns the kind of a voice close code
func ClassifyVoiceClose(code int) VoiceCloseKind {
	return voiceCloseKinds[code]
}

func (m *VoiceManager) onVoiceClose(voice *VoiceState, e *protocol.Event) {
	kind := ClassifyVoiceClose(e.Code)
	m.logger.Debug("Voice connection closed",
		logging.String("guild_id", voice.GuildID()),
		logging.Int("code", e.Code),
		logging.String("reason", e.Reason),
		logging.String("kind", kind.String()))

	// the player update that reports this lags behind the event
	m.player.queues.updateSnapshot(voice.GuildID(), func(p *protocol.Player) {
		p.State.Connected = false
	})

	if kind == VoiceCloseRecoverable {
		reason := e.Reason
		if reason == "" {
			reason = fmt.Sprintf("voice connection closed (%d)", e.Code)
		}
		m.player.goBackground(func(ctx context.Context) {
			m.recover(ctx, voice, reason)
		})
	}
	m.player.emit(&VoiceCloseEvent{Voice: voice, Code: e.Code, Reason: e.Reason, ByRemote: e.ByRemote})
}

func (m *VoiceManager) recover(ctx context.Context, voice *VoiceState, reason string) {
	voice.setReconnecting(true)
	_, err := voice.Connect(ctx, "")
	voice.setReconnecting(false)
	if err == nil {
		return
	}
	m.logger.Warn("Failed to recover voice connection",
		logging.String("guild_id", voice.GuildID()),
		logging.Error(err))
	if err := m.player.queues.Destroy(ctx, voice.GuildID(), reason); err != nil {
		m.logger.Debug("Failed to destroy queue", logging.Error(err))
	}
}
