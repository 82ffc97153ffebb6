package commands

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/latoulicious/tarulink/pkg/cron"
	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/player"
)

const (
	colorSuccess = 0x00ff00
	colorError   = 0xff0000
	colorWarn    = 0xffa500
	colorIdle    = 0x808080
	colorInfo    = 0x7289da

	footerText = "tarulink"
)

var ErrNotInVoice = errors.New("you need to join a voice channel first")

// Request is a parsed command invocation
type Request struct {
	GuildID   string
	ChannelID string
	UserID    string
	Username  string
	Args      []string
}

// VoiceLocator returns the voice channel the user is connected to in the guild
type VoiceLocator func(guildID, userID string) (string, error)

// JobRunner exposes the scheduled jobs
type JobRunner interface {
	Status() []cron.JobStatus
	RunNow(name string) error
}

// Handler runs a command and returns the reply
type Handler func(ctx context.Context, req Request) *discordgo.MessageEmbed

type command struct {
	name        string
	aliases     []string
	usage       string
	description string
	category    string
	ownerOnly   bool
	run         Handler
}

type Options struct {
	Player *player.Player
	Voice  VoiceLocator
	Jobs   JobRunner
	// OwnerID may run owner-only commands, "" disables them
	OwnerID string
	Prefix  string
	Logger  logging.Logger
}

// Commands routes text commands to the player
type Commands struct {
	player  *player.Player
	voice   VoiceLocator
	jobs    JobRunner
	ownerID string
	prefix  string
	logger  logging.Logger
	started time.Time

	byName map[string]*command
	list   []*command
}

// New creates the command set
func New(opts Options) *Commands {
	if opts.Logger == nil {
		opts.Logger = logging.NullLogger()
	}
	if opts.Prefix == "" {
		opts.Prefix = "!"
	}

	c := &Commands{
		player:  opts.Player,
		voice:   opts.Voice,
		jobs:    opts.Jobs,
		ownerID: opts.OwnerID,
		prefix:  opts.Prefix,
		logger:  opts.Logger.With(logging.String("component", "commands")),
		started: time.Now(),
		byName:  make(map[string]*command),
	}
	c.register()
	return c
}

func (c *Commands) add(cmd *command) {
	c.list = append(c.list, cmd)
	c.byName[cmd.name] = cmd
	for _, alias := range cmd.aliases {
		c.byName[alias] = cmd
	}
}

func (c *Commands) register() {
	c.add(&command{name: "play", aliases: []string{"p"}, usage: "<url or query>", description: "Play a track or playlist", category: categoryMusic, run: c.play})
	c.add(&command{name: "pause", description: "Pause the current playback", category: categoryMusic, run: c.pause})
	c.add(&command{name: "resume", description: "Resume paused playback", category: categoryMusic, run: c.resume})
	c.add(&command{name: "skip", aliases: []string{"next", "s"}, description: "Skip the current track", category: categoryMusic, run: c.skip})
	c.add(&command{name: "previous", aliases: []string{"back"}, description: "Play the previous track", category: categoryMusic, run: c.previous})
	c.add(&command{name: "stop", description: "Stop playback and clear the current track", category: categoryMusic, run: c.stop})
	c.add(&command{name: "seek", usage: "<mm:ss>", description: "Seek in the current track", category: categoryMusic, run: c.seek})
	c.add(&command{name: "volume", aliases: []string{"vol"}, usage: "[0-1000]", description: "Show or set the volume", category: categoryMusic, run: c.volume})
	c.add(&command{name: "repeat", aliases: []string{"loop"}, usage: "[none|track|queue]", description: "Show or set the repeat mode", category: categoryMusic, run: c.repeat})
	c.add(&command{name: "autoplay", description: "Toggle autoplay of related tracks", category: categoryMusic, run: c.autoplay})
	c.add(&command{name: "nowplaying", aliases: []string{"np"}, description: "Show the current track", category: categoryMusic, run: c.nowPlaying})
	c.add(&command{name: "queue", aliases: []string{"q"}, usage: "[list|remove <n>|jump <n>|clear]", description: "Show or edit the queue", category: categoryQueue, run: c.queue})
	c.add(&command{name: "shuffle", description: "Shuffle the upcoming tracks", category: categoryQueue, run: c.shuffle})
	c.add(&command{name: "clear", description: "Remove every upcoming track", category: categoryQueue, run: c.clear})
	c.add(&command{name: "leave", aliases: []string{"disconnect", "dc"}, description: "Destroy the queue and leave the voice channel", category: categoryQueue, run: c.leave})
	c.add(&command{name: "nodes", description: "Show the audio nodes", category: categoryInfo, run: c.nodes})
	c.add(&command{name: "about", description: "Show bot info, uptime and stats", category: categoryInfo, run: c.about})
	c.add(&command{name: "help", aliases: []string{"h"}, description: "Show this help message", category: categoryInfo, run: c.help})
	c.add(&command{name: "jobs", usage: "[run <name>]", description: "Show or run scheduled jobs", category: categoryAdmin, ownerOnly: true, run: c.jobsCommand})
	c.add(&command{name: "move", usage: "<node>", description: "Move this server's player to another node", category: categoryAdmin, ownerOnly: true, run: c.move})
}

// Parse splits content into a command name and its arguments, ok is false
// when content does not start with the prefix
func (c *Commands) Parse(content string) (name string, args []string, ok bool) {
	if !strings.HasPrefix(content, c.prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, c.prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// Execute runs the named command, found is false for unknown names
func (c *Commands) Execute(ctx context.Context, name string, req Request) (reply *discordgo.MessageEmbed, found bool) {
	cmd, ok := c.byName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	if cmd.ownerOnly && (c.ownerID == "" || req.UserID != c.ownerID) {
		return errorEmbed("This command is restricted to the bot owner only."), true
	}

	c.logger.Debug("Executing command",
		logging.String("command", cmd.name),
		logging.String("guild_id", req.GuildID),
		logging.String("user_id", req.UserID))
	return cmd.run(ctx, req), true
}

// Names returns the primary command names sorted
func (c *Commands) Names() []string {
	names := make([]string, 0, len(c.list))
	for _, cmd := range c.list {
		names = append(names, cmd.name)
	}
	sort.Strings(names)
	return names
}

// Definition describes a command for help pages and slash command registration
type Definition struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	OwnerOnly   bool
}

// Definitions returns every command in registration order
func (c *Commands) Definitions() []Definition {
	defs := make([]Definition, 0, len(c.list))
	for _, cmd := range c.list {
		defs = append(defs, Definition{
			Name:        cmd.name,
			Aliases:     cmd.aliases,
			Usage:       cmd.usage,
			Description: cmd.description,
			OwnerOnly:   cmd.ownerOnly,
		})
	}
	return defs
}

// Prefix returns the command prefix
func (c *Commands) Prefix() string {
	return c.prefix
}

func embed(title, description string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: footerText},
	}
}

func successEmbed(title, description string) *discordgo.MessageEmbed {
	return embed(title, description, colorSuccess)
}

func errorEmbed(description string) *discordgo.MessageEmbed {
	return embed("❌ Error", description, colorError)
}

func nothingPlaying() *discordgo.MessageEmbed {
	return embed("🔇 Nothing Playing", "Nothing is playing right now.", colorIdle)
}

// queueOf returns the guild's queue or a reply explaining there is none
func (c *Commands) queueOf(req Request) (*player.Queue, *discordgo.MessageEmbed) {
	q := c.player.GetQueue(req.GuildID)
	if q == nil {
		return nil, nothingPlaying()
	}
	return q, nil
}

// describeError turns player errors into messages users understand
func describeError(err error) string {
	switch {
	case errors.Is(err, player.ErrNoResults):
		return "No results found for your query."
	case errors.Is(err, player.ErrNoNodes), errors.Is(err, player.ErrNotInitialized):
		return "No audio node is available right now, try again later."
	case errors.Is(err, player.ErrJoinTimeout):
		return "Timed out joining your voice channel."
	case errors.Is(err, player.ErrJoinInProgress):
		return "Already joining a voice channel, hold on."
	case errors.Is(err, ErrNotInVoice):
		return "You need to join a voice channel first."
	case errors.Is(err, player.ErrQueueEmpty),
		errors.Is(err, player.ErrIndexOutOfRange),
		errors.Is(err, player.ErrNoTrack),
		errors.Is(err, player.ErrNotSeekable),
		errors.Is(err, player.ErrSeekOutOfRange),
		errors.Is(err, player.ErrInvalidVolume),
		errors.Is(err, player.ErrInvalidRepeat):
		msg := err.Error()
		return strings.ToUpper(msg[:1]) + msg[1:] + "."
	default:
		return "Something went wrong: " + err.Error()
	}
}

func logErr(req Request, err error) []logging.Field {
	return []logging.Field{
		logging.String("guild_id", req.GuildID),
		logging.Error(err),
	}
}
