package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/latoulicious/tarulink/internal/api"
	"github.com/latoulicious/tarulink/internal/commands"
	"github.com/latoulicious/tarulink/internal/config"
	"github.com/latoulicious/tarulink/internal/gateway"
	"github.com/latoulicious/tarulink/internal/handlers"
	"github.com/latoulicious/tarulink/internal/presence"
	"github.com/latoulicious/tarulink/pkg/cron"
	"github.com/latoulicious/tarulink/pkg/database"
	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/metrics"
	"github.com/latoulicious/tarulink/pkg/player"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.DefaultLogger().Fatal("Failed to load config", logging.Error(err))
	}

	logger := logging.NewStructuredLogger(cfg.Logging)
	collector := metrics.NewBasicCollector(logger)

	// Session ids survive restarts when a database is configured
	var store player.SessionStore
	var db *database.Manager
	if cfg.SessionDBPath != "" {
		dbConfig := database.DefaultConfig()
		dbConfig.DatabasePath = cfg.SessionDBPath
		db, err = database.NewManager(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to create database manager", logging.Error(err))
		}
		if err := db.Connect(context.Background()); err != nil {
			logger.Fatal("Failed to connect to database", logging.Error(err))
		}
		store = db.Sessions()
	}

	// Create a new Discord session using the provided token
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		logger.Fatal("Failed to create Discord session", logging.Error(err))
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	gw := gateway.New(dg, logger)
	p, err := player.New(player.Options{
		Nodes:              cfg.NodeOptions(),
		QueryPrefix:        cfg.QueryPrefix,
		ResumeTimeout:      cfg.ResumeTimeout,
		ForwardVoiceUpdate: gw.ForwardVoiceUpdate,
		Store:              store,
		Metrics:            collector,
		Logger:             logger,
	})
	if err != nil {
		logger.Fatal("Failed to create player", logging.Error(err))
	}
	// READY initializes the player, voice events keep connections in sync
	gw.Attach(p)

	// Scheduled jobs
	jobs := cron.NewJobManager(logger)
	mustAdd := func(name, schedule string, fn cron.JobFunc) {
		if err := jobs.Add(name, schedule, fn); err != nil {
			logger.Fatal("Failed to schedule job", logging.String("job", name), logging.Error(err))
		}
	}
	mustAdd("refresh-info", cron.RefreshInfoSchedule, cron.RefreshNodeInfo(p.Nodes()))
	mustAdd("log-stats", cron.LogStatsSchedule, cron.LogStats(p, logger))
	if db != nil {
		mustAdd("prune-sessions", cron.PruneSessionsSchedule, cron.PruneSessions(db.Sessions(), logger))
	}

	cmds := commands.New(commands.Options{
		Player:  p,
		Voice:   handlers.StateVoiceLocator(dg),
		Jobs:    jobs,
		OwnerID: cfg.OwnerID,
		Prefix:  cfg.CommandPrefix,
		Logger:  logger,
	})

	// Register the message and slash command handlers
	dg.AddHandler(handlers.MessageHandler(cmds, logger))
	dg.AddHandler(handlers.SlashCommandHandler(cmds, logger))
	handlers.NewAnnouncer(dg, logger).Attach(p)

	guilds := func() int {
		dg.State.RLock()
		defer dg.State.RUnlock()
		return len(dg.State.Guilds)
	}
	presenceManager := presence.NewPresenceManager(dg, guilds, logger)
	presenceManager.Attach(p)
	dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) {
		presenceManager.UpdateDefaultPresence()
	})

	// Open a websocket connection to Discord and begin listening.
	if err := dg.Open(); err != nil {
		logger.Fatal("Failed to open Discord session", logging.Error(err))
	}
	if err := handlers.RegisterSlashCommands(dg, cmds, cfg.SlashGuildID); err != nil {
		logger.Warn("Failed to register slash commands", logging.Error(err))
	}

	jobs.Start()

	var server *api.Server
	if cfg.AdminAddr != "" {
		opts := api.Options{Addr: cfg.AdminAddr, Player: p, Jobs: jobs, Metrics: collector, Logger: logger}
		if db != nil {
			opts.Sessions = db.Sessions()
		}
		server = api.NewServer(opts)
		if err := server.Start(); err != nil {
			logger.Fatal("Failed to start admin API", logging.Error(err))
		}
	}

	logger.Info("Bot is running. Press CTRL-C to exit.")
	// Wait here until CTRL-C or other term signal is received.
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Stop(ctx); err != nil {
			logger.Warn("Failed to stop admin API", logging.Error(err))
		}
	}
	jobs.Stop()
	if err := p.Close(ctx); err != nil {
		logger.Warn("Failed to close player", logging.Error(err))
	}

	// Cleanly close down the Discord session.
	if err := dg.Close(); err != nil {
		logger.Warn("Failed to close Discord session", logging.Error(err))
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Warn("Failed to close database", logging.Error(err))
		}
	}
}
