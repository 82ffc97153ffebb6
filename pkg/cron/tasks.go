package cron

import (
	"context"

	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/player"
)

// Default schedules of the built-in jobs
const (
	RefreshInfoSchedule   = "0 */15 * * * *"
	PruneSessionsSchedule = "0 0 * * * *"
	LogStatsSchedule      = "0 */5 * * * *"
)

// SessionPruner removes stored node sessions that can no longer be resumed
type SessionPruner interface {
	Prune(ctx context.Context) (int64, error)
}

// RefreshNodeInfo refetches the info of every ready node so feature
// lookups see plugins and sources added after startup
func RefreshNodeInfo(nodes *player.NodeManager) JobFunc {
	return func(ctx context.Context) error {
		return nodes.RefreshInfo(ctx)
	}
}

// PruneSessions drops expired node sessions
func PruneSessions(store SessionPruner, logger logging.Logger) JobFunc {
	return func(ctx context.Context) error {
		removed, err := store.Prune(ctx)
		if err != nil {
			return err
		}
		if removed > 0 {
			logger.Info("Pruned node sessions", logging.Int64("removed", removed))
		}
		return nil
	}
}

// LogStats logs the state and load of every node
func LogStats(p *player.Player, logger logging.Logger) JobFunc {
	return func(ctx context.Context) error {
		for _, n := range p.Nodes().All() {
			fields := []logging.Field{
				logging.String("node", n.Name()),
				logging.String("state", n.State().String()),
			}
			if stats := n.Stats(); stats != nil {
				fields = append(fields,
					logging.Int("players", stats.Players),
					logging.Int("playing", stats.PlayingPlayers),
					logging.Float64("system_load", stats.CPU.SystemLoad))
			}
			if mt, ok := p.Nodes().Metrics(n.Name()); ok {
				fields = append(fields,
					logging.Float64("memory", mt.Memory),
					logging.Float64("workload", mt.Workload),
					logging.Float64("streaming", mt.Streaming))
			}
			logger.Info("Node stats", fields...)
		}
		logger.Info("Player stats", logging.Int("queues", p.Queues().Len()))
		return nil
	}
}
