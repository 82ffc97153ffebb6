package player

import (
	"context"
	"errors"

	"github.com/latoulicious/tarulink/pkg/logging"
	"github.com/latoulicious/tarulink/pkg/node"
	"github.com/latoulicious/tarulink/pkg/protocol"
)

// nodeListener routes node callbacks into the managers and the event bus
type nodeListener struct {
	player *Player
}

func (l *nodeListener) OnConnect(n *node.Node, reconnects int) {
	l.player.metrics.NodeConnected(n.Name(), reconnects)
	l.player.emit(&NodeConnectEvent{Node: n, Reconnects: reconnects})
}

func (l *nodeListener) OnReady(n *node.Node, resumed bool, sessionID string) {
	p := l.player
	p.metrics.NodeReady(n.Name(), resumed)
	p.goBackground(func(ctx context.Context) {
		l.afterReady(ctx, n, sessionID)
	})
	p.emit(&NodeReadyEvent{Node: n, Resumed: resumed, SessionID: sessionID})
}

func (l *nodeListener) afterReady(ctx context.Context, n *node.Node, sessionID string) {
	p := l.player
	logger := p.logger.With(logging.String("node", n.Name()))

	if _, err := p.nodes.FetchInfo(ctx, n.Name()); err != nil {
		logger.Warn("Failed to fetch node info", logging.Error(err))
	}
	if p.opts.Store == nil {
		return
	}
	if err := p.opts.Store.SaveSession(ctx, n.Name(), sessionID); err != nil {
		logger.Warn("Failed to save node session", logging.Error(err))
	}
	if p.opts.ResumeTimeout > 0 {
		update := protocol.SessionUpdate{
			Resuming: protocol.Ptr(true),
			Timeout:  protocol.Ptr(int(p.opts.ResumeTimeout.Seconds())),
		}
		if _, err := n.Rest().UpdateSession(ctx, update); err != nil {
			logger.Warn("Failed to enable session resuming", logging.Error(err))
		}
	}
}

func (l *nodeListener) OnDispatch(n *node.Node, msg protocol.Message) {
	p := l.player
	switch m := msg.(type) {
	case *protocol.PlayerUpdateMessage:
		p.queues.onStateUpdate(n, m)
	case *protocol.StatsMessage:
		p.nodes.updateMetrics(n.Name(), &m.Stats)
	case *protocol.Event:
		p.queues.onEvent(n, m)
	}
	p.emit(&NodeDispatchEvent{Node: n, Message: msg})
}

func (l *nodeListener) OnError(n *node.Node, err error) {
	l.player.emit(&NodeErrorEvent{Node: n, Err: err})
}

func (l *nodeListener) OnClose(n *node.Node, code int, reason string) {
	l.player.nodes.dropMetrics(n.Name())
	l.player.emit(&NodeCloseEvent{Node: n, Code: code, Reason: reason})
	l.relocate(n)
}

func (l *nodeListener) OnDisconnect(n *node.Node, code int, reason string, byLocal bool) {
	l.player.nodes.dropMetrics(n.Name())
	l.player.metrics.NodeDisconnected(n.Name(), byLocal)
	l.player.emit(&NodeDisconnectEvent{Node: n, Code: code, Reason: reason, ByLocal: byLocal})
	l.relocate(n)
}

func (l *nodeListener) relocate(n *node.Node) {
	p := l.player
	if p.opts.DisableRelocation || p.closed.Load() {
		return
	}
	p.goBackground(func(ctx context.Context) {
		err := p.queues.Relocate(ctx, n.Name())
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Debug("Relocation failed",
				logging.String("node", n.Name()),
				logging.Error(err))
		}
	})
}
