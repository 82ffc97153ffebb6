package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Op is the operation type of a socket message
type Op string

const (
	OpReady        Op = "ready"
	OpPlayerUpdate Op = "playerUpdate"
	OpStats        Op = "stats"
	OpEvent        Op = "event"
)

// EventType is the type of an event message
type EventType string

const (
	EventTrackStart      EventType = "TrackStartEvent"
	EventTrackEnd        EventType = "TrackEndEvent"
	EventTrackException  EventType = "TrackExceptionEvent"
	EventTrackStuck      EventType = "TrackStuckEvent"
	EventWebSocketClosed EventType = "WebSocketClosedEvent"
)

// TrackEndReason tells why a track stopped
type TrackEndReason string

const (
	TrackEndFinished   TrackEndReason = "finished"
	TrackEndLoadFailed TrackEndReason = "loadFailed"
	TrackEndStopped    TrackEndReason = "stopped"
	TrackEndReplaced   TrackEndReason = "replaced"
	TrackEndCleanup    TrackEndReason = "cleanup"
)

// MayStartNext reports whether the end reason allows advancing the queue
func (r TrackEndReason) MayStartNext() bool {
	return r == TrackEndFinished || r == TrackEndLoadFailed
}

var ErrUnknownOp = errors.New("unknown op")

// Message is any decoded socket message
type Message interface {
	Op() Op
}

// Ready is sent once the session is established
type Ready struct {
	Resumed   bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
}

func (*Ready) Op() Op { return OpReady }

// PlayerUpdateMessage carries the periodic state of a player
type PlayerUpdateMessage struct {
	GuildID string      `json:"guildId"`
	State   PlayerState `json:"state"`
}

func (*PlayerUpdateMessage) Op() Op { return OpPlayerUpdate }

// StatsMessage carries node statistics
type StatsMessage struct {
	Stats
}

func (*StatsMessage) Op() Op { return OpStats }

// Event is a player event. Only the fields of its Type are populated.
type Event struct {
	Type    EventType `json:"type"`
	GuildID string    `json:"guildId"`

	// TrackStart, TrackEnd, TrackException, TrackStuck
	Track *Track `json:"track,omitempty"`

	// TrackEnd reason, or the close reason of a WebSocketClosed event
	Reason string `json:"reason,omitempty"`

	// TrackException
	Exception *Exception `json:"exception,omitempty"`

	// TrackStuck
	ThresholdMs int64 `json:"thresholdMs,omitempty"`

	// WebSocketClosed
	Code     int  `json:"code,omitempty"`
	ByRemote bool `json:"byRemote,omitempty"`
}

func (*Event) Op() Op { return OpEvent }

// EndReason returns the reason of a TrackEnd event
func (e *Event) EndReason() TrackEndReason {
	return TrackEndReason(e.Reason)
}

// DecodeMessage decodes a socket frame into its typed message
func DecodeMessage(data []byte) (Message, error) {
	var head struct {
		Op Op `json:"op"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	var msg Message
	switch head.Op {
	case OpReady:
		msg = &Ready{}
	case OpPlayerUpdate:
		msg = &PlayerUpdateMessage{}
	case OpStats:
		msg = &StatsMessage{}
	case OpEvent:
		msg = &Event{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, head.Op)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", head.Op, err)
	}
	return msg, nil
}
