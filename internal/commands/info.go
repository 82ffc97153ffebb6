package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/latoulicious/tarulink/pkg/cron"
	"github.com/latoulicious/tarulink/pkg/player"
)

func (c *Commands) nodes(_ context.Context, _ Request) *discordgo.MessageEmbed {
	all := c.player.Nodes().All()
	if len(all) == 0 {
		return embed("🛰️ Nodes", "No nodes are configured yet.", colorIdle)
	}

	e := embed("🛰️ Nodes", fmt.Sprintf("%d node(s), %d queue(s)", len(all), c.player.Queues().Len()), colorInfo)
	for _, n := range all {
		var b strings.Builder
		fmt.Fprintf(&b, "State: **%s**", n.State())
		if ping, ok := n.Ping(); ok {
			fmt.Fprintf(&b, "\nPing: %dms", ping.Milliseconds())
		}
		if stats := n.Stats(); stats != nil {
			fmt.Fprintf(&b, "\nPlayers: %d (%d playing)", stats.Players, stats.PlayingPlayers)
			fmt.Fprintf(&b, "\nLoad: %.0f%%", stats.CPU.SystemLoad*100)
		}
		if mt, ok := c.player.Nodes().Metrics(n.Name()); ok {
			fmt.Fprintf(&b, "\nScore: mem %.2f · cpu %.2f · stream %.2f", mt.Memory, mt.Workload, mt.Streaming)
		}
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: n.Name(), Value: b.String(), Inline: true})
	}
	return e
}

func (c *Commands) about(_ context.Context, _ Request) *discordgo.MessageEmbed {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	e := embed("Bot Information", "A music bot backed by a cluster of Lavalink nodes.", colorSuccess)
	e.Fields = []*discordgo.MessageEmbedField{
		{Name: "Uptime", Value: formatUptime(time.Since(c.started)), Inline: true},
		{Name: "Memory Usage", Value: fmt.Sprintf("%.2f MB", float64(memStats.Alloc)/1024/1024), Inline: true},
		{Name: "Go Version", Value: runtime.Version(), Inline: true},
		{Name: "Platform", Value: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH), Inline: true},
		{Name: "Goroutines", Value: fmt.Sprintf("%d", runtime.NumGoroutine()), Inline: true},
		{Name: "Nodes", Value: fmt.Sprintf("%d", c.player.Nodes().Len()), Inline: true},
		{Name: "Queues", Value: fmt.Sprintf("%d", c.player.Queues().Len()), Inline: true},
	}
	return e
}

// formatUptime formats the uptime duration into a human-readable string
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func (c *Commands) help(_ context.Context, _ Request) *discordgo.MessageEmbed {
	e := embed("tarulink", "Here are all the available commands:", colorSuccess)

	var categories []string
	lines := make(map[string][]string)
	for _, cmd := range c.list {
		if _, ok := lines[cmd.category]; !ok {
			categories = append(categories, cmd.category)
		}
		line := fmt.Sprintf("• `%s%s", c.prefix, cmd.name)
		if cmd.usage != "" {
			line += " " + cmd.usage
		}
		line += "`"
		if len(cmd.aliases) > 0 {
			line += fmt.Sprintf(" / `%s%s`", c.prefix, strings.Join(cmd.aliases, "`, `"+c.prefix))
		}
		lines[cmd.category] = append(lines[cmd.category], line+" - "+cmd.description)
	}
	for _, category := range categories {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:  category,
			Value: strings.Join(lines[category], "\n"),
		})
	}
	e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
		Name:  "💡 Tips",
		Value: "• Join a voice channel **before** using music commands\n• Queries that are not links are searched on YouTube",
	})
	return e
}

func (c *Commands) jobsCommand(_ context.Context, req Request) *discordgo.MessageEmbed {
	if c.jobs == nil {
		return errorEmbed("Scheduled jobs are not enabled.")
	}

	if len(req.Args) >= 2 && strings.EqualFold(req.Args[0], "run") {
		name := req.Args[1]
		if err := c.jobs.RunNow(name); err != nil {
			if errors.Is(err, cron.ErrJobNotFound) || errors.Is(err, cron.ErrJobRunning) {
				return errorEmbed(err.Error())
			}
			return embed("❌ Job Failed", fmt.Sprintf("`%s` failed: %v", name, err), colorError)
		}
		return successEmbed("✅ Job Complete", fmt.Sprintf("`%s` ran successfully.", name))
	}

	e := embed("⏰ Scheduled Jobs", "Current status of scheduled jobs", colorInfo)
	for _, s := range c.jobs.Status() {
		next := "Not scheduled"
		if !s.NextRun.IsZero() {
			next = s.NextRun.Format("2006-01-02 15:04:05")
		}
		value := fmt.Sprintf("Schedule: `%s`\nNext run: %s\nRuns: %d (%d failed)\nRunning: %t",
			s.Schedule, next, s.Runs, s.Failures, s.Running)
		if s.LastError != "" {
			value += "\nLast error: " + s.LastError
		}
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: s.Name, Value: value, Inline: true})
	}
	return e
}

func (c *Commands) move(ctx context.Context, req Request) *discordgo.MessageEmbed {
	if len(req.Args) == 0 {
		return errorEmbed(fmt.Sprintf("Usage: `%smove <node>`", c.prefix))
	}
	q, reply := c.queueOf(req)
	if reply != nil {
		return reply
	}

	name := req.Args[0]
	if err := q.Voice().ChangeNode(ctx, name); err != nil {
		switch {
		case errors.Is(err, player.ErrNodeNotFound), errors.Is(err, player.ErrNodeNotReady):
			return errorEmbed(fmt.Sprintf("Node `%s` is not available.", name))
		case errors.Is(err, player.ErrAlreadyOnNode):
			return errorEmbed(fmt.Sprintf("Already on node `%s`.", name))
		}
		return errorEmbed(describeError(err))
	}
	return successEmbed("🛰️ Moved", fmt.Sprintf("Player moved to node `%s`.", name))
}
