package metrics

import (
	"strconv"
	"time"
)

// Metric names recorded by the player
const (
	NodeReconnects   = "player.node.reconnects"
	NodeDisconnects  = "player.node.disconnects"
	NodeReady        = "player.node.ready"
	Relocations      = "player.relocations"
	RelocatedQueues  = "player.relocations.queues"
	TracksStarted    = "player.tracks.started"
	TrackErrors      = "player.tracks.errors"
	QueuesCreated    = "player.queues.created"
	QueuesDestroyed  = "player.queues.destroyed"
	VoiceJoinLatency = "player.voice.join_latency"
	ActiveQueues     = "player.queues.active"
)

// PlayerCollector records player metrics with consistent tags
type PlayerCollector struct {
	Collector
}

// NewPlayerCollector wraps c, a nil c discards everything
func NewPlayerCollector(c Collector) *PlayerCollector {
	if c == nil {
		c = NopCollector{}
	}
	return &PlayerCollector{Collector: c}
}

func (c *PlayerCollector) NodeConnected(node string, reconnects int) {
	if reconnects > 0 {
		c.RecordCounter(NodeReconnects, 1, map[string]string{"node": node})
	}
}

func (c *PlayerCollector) NodeReady(node string, resumed bool) {
	c.RecordCounter(NodeReady, 1, map[string]string{"node": node, "resumed": strconv.FormatBool(resumed)})
}

func (c *PlayerCollector) NodeDisconnected(node string, byLocal bool) {
	c.RecordCounter(NodeDisconnects, 1, map[string]string{"node": node, "by_local": strconv.FormatBool(byLocal)})
}

func (c *PlayerCollector) Relocation(node string, queues int, success bool) {
	tags := map[string]string{"node": node, "success": strconv.FormatBool(success)}
	c.RecordCounter(Relocations, 1, tags)
	c.RecordCounter(RelocatedQueues, int64(queues), tags)
}

func (c *PlayerCollector) TrackStarted(node, source string) {
	c.RecordCounter(TracksStarted, 1, map[string]string{"node": node, "source": source})
}

func (c *PlayerCollector) TrackError(node, severity string) {
	c.RecordCounter(TrackErrors, 1, map[string]string{"node": node, "severity": severity})
}

func (c *PlayerCollector) QueueCreated(active int) {
	c.RecordCounter(QueuesCreated, 1, nil)
	c.RecordGauge(ActiveQueues, float64(active), nil)
}

func (c *PlayerCollector) QueueDestroyed(active int) {
	c.RecordCounter(QueuesDestroyed, 1, nil)
	c.RecordGauge(ActiveQueues, float64(active), nil)
}

func (c *PlayerCollector) VoiceJoined(d time.Duration) {
	c.RecordTiming(VoiceJoinLatency, d, nil)
}
