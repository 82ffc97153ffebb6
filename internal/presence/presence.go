package presence

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/player"
)

const (
	PresenceDefault = "default"
	PresenceMusic   = "music"
)

// StatusUpdater is the part of a discord session that sets the bot status
type StatusUpdater interface {
	UpdateStatusComplex(usd discordgo.UpdateStatusData) (err error)
}

// PresenceManager mirrors playback in the bot's presence
type PresenceManager struct {
	session StatusUpdater
	guilds  func() int
	logger  logging.Logger

	mu      sync.RWMutex
	current string
	title   string
}

// NewPresenceManager creates a presence manager, guilds counts the servers the bot is in
func NewPresenceManager(session StatusUpdater, guilds func() int, logger logging.Logger) *PresenceManager {
	if logger == nil {
		logger = logging.NullLogger()
	}
	return &PresenceManager{
		session: session,
		guilds:  guilds,
		logger:  logger.With(logging.String("component", "presence")),
	}
}

// Attach follows the player's track and queue events and returns a func detaching it
func (pm *PresenceManager) Attach(p *player.Player) func() {
	offStart := player.On(p, func(e *player.TrackStartEvent) {
		pm.UpdateMusicPresence(e.Track.Title)
	})
	idle := func(q *player.Queue) {
		for _, other := range p.Queues().All() {
			if other != q && other.Playing() {
				if t := other.Track(); t != nil {
					pm.UpdateMusicPresence(t.Title)
				}
				return
			}
		}
		pm.UpdateDefaultPresence()
	}
	offFinish := player.On(p, func(e *player.QueueFinishEvent) { idle(e.Queue) })
	offDestroy := player.On(p, func(e *player.QueueDestroyEvent) { idle(e.Queue) })

	return func() {
		offStart()
		offFinish()
		offDestroy()
	}
}

// UpdateDefaultPresence shows how many servers the bot is in
func (pm *PresenceManager) UpdateDefaultPresence() {
	servers := 0
	if pm.guilds != nil {
		servers = pm.guilds()
	}

	presence := discordgo.UpdateStatusData{
		Status: "online",
		Activities: []*discordgo.Activity{
			{
				Name:  "!help",
				Type:  discordgo.ActivityTypeListening,
				State: "in " + strconv.Itoa(servers) + " servers",
			},
		},
	}
	pm.set(presence, PresenceDefault, "")
}

// UpdateMusicPresence shows the track that is playing
func (pm *PresenceManager) UpdateMusicPresence(songTitle string) {
	presence := discordgo.UpdateStatusData{
		Status: "online",
		Activities: []*discordgo.Activity{
			{
				Name:  "to",
				Type:  discordgo.ActivityTypeListening,
				State: songTitle,
			},
		},
	}
	pm.set(presence, PresenceMusic, songTitle)
}

func (pm *PresenceManager) set(presence discordgo.UpdateStatusData, kind, title string) {
	pm.mu.Lock()
	if pm.current == kind && pm.title == title {
		pm.mu.Unlock()
		return
	}
	pm.current = kind
	pm.title = title
	pm.mu.Unlock()

	if err := pm.session.UpdateStatusComplex(presence); err != nil {
		pm.logger.Warn("Failed to update presence",
			logging.String("presence", kind),
			logging.Error(err))
	}
}

// GetCurrentPresence returns the current presence type
func (pm *PresenceManager) GetCurrentPresence() string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.current
}
