package node

import "github.com/latoulicious/tarulink/pkg/protocol"

// Listener receives the lifecycle of a node. Calls for one node come from a
// single goroutine at a time and never while the node holds its lock.
type Listener interface {
	// OnConnect is called once the handshake succeeded
	OnConnect(n *Node, reconnects int)
	OnReady(n *Node, resumed bool, sessionID string)
	OnDispatch(n *Node, msg protocol.Message)
	OnError(n *Node, err error)
	// OnClose is called when the socket closed and a reconnect is scheduled
	OnClose(n *Node, code int, reason string)
	// OnDisconnect is called when the node gave up or was disconnected locally
	OnDisconnect(n *Node, code int, reason string, byLocal bool)
}

// NopListener ignores everything, embed it to implement part of Listener
type NopListener struct{}

func (NopListener) OnConnect(*Node, int)                  {}
func (NopListener) OnReady(*Node, bool, string)           {}
func (NopListener) OnDispatch(*Node, protocol.Message)    {}
func (NopListener) OnError(*Node, error)                  {}
func (NopListener) OnClose(*Node, int, string)            {}
func (NopListener) OnDisconnect(*Node, int, string, bool) {}
