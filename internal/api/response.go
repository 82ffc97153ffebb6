package api

import (
	"time"

	"github.com/latoulicious/tarulink/pkg/node"
	"github.com/latoulicious/tarulink/pkg/player"
	"github.com/latoulicious/tarulink/pkg/track"
)

type Status string

const (
	StatusOK      Status = "OK"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Response is the envelope for responses without a body of their own
type Response struct {
	Status Status `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}

type NodeView struct {
	Name           string   `json:"name"`
	State          string   `json:"state"`
	SessionID      string   `json:"session_id,omitempty"`
	PingMS         *int64   `json:"ping_ms,omitempty"`
	Players        int      `json:"players"`
	PlayingPlayers int      `json:"playing_players"`
	SystemLoad     float64  `json:"system_load"`
	Metrics        *Metrics `json:"metrics,omitempty"`
}

type Metrics struct {
	Memory    float64 `json:"memory"`
	Workload  float64 `json:"workload"`
	Streaming float64 `json:"streaming"`
}

func newNodeView(n *node.Node, nodes *player.NodeManager) NodeView {
	v := NodeView{Name: n.Name(), State: n.State().String(), SessionID: n.SessionID()}
	if ping, ok := n.Ping(); ok {
		ms := ping.Milliseconds()
		v.PingMS = &ms
	}
	if stats := n.Stats(); stats != nil {
		v.Players = stats.Players
		v.PlayingPlayers = stats.PlayingPlayers
		v.SystemLoad = stats.CPU.SystemLoad
	}
	if m, ok := nodes.Metrics(n.Name()); ok {
		v.Metrics = &Metrics{Memory: m.Memory, Workload: m.Workload, Streaming: m.Streaming}
	}
	return v
}

type TrackView struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	URL      string `json:"url,omitempty"`
	Source   string `json:"source"`
	Duration string `json:"duration"`
	Encoded  string `json:"encoded"`
}

func newTrackView(t *track.Track) TrackView {
	return TrackView{
		Title:    t.Title,
		Author:   t.Author,
		URL:      t.URL,
		Source:   t.SourceName,
		Duration: t.FormattedDuration,
		Encoded:  t.Encoded,
	}
}

type QueueView struct {
	GuildID     string      `json:"guild_id"`
	Node        string      `json:"node"`
	ChannelID   string      `json:"channel_id"`
	Paused      bool        `json:"paused"`
	Stopped     bool        `json:"stopped"`
	Volume      int         `json:"volume"`
	RepeatMode  string      `json:"repeat_mode"`
	Autoplay    bool        `json:"autoplay"`
	Position    string      `json:"position"`
	Duration    string      `json:"duration"`
	Current     *TrackView  `json:"current,omitempty"`
	Tracks      []TrackView `json:"tracks,omitempty"`
	TotalTracks int         `json:"total_tracks"`
}

// newQueueView summarizes q, the upcoming tracks are only listed when
// withTracks is set
func newQueueView(q *player.Queue, withTracks bool) QueueView {
	v := QueueView{
		GuildID:     q.GuildID(),
		Node:        q.Node().Name(),
		ChannelID:   q.Voice().ChannelID(),
		Paused:      q.Paused(),
		Stopped:     q.Stopped(),
		Volume:      q.Volume(),
		RepeatMode:  string(q.RepeatMode()),
		Autoplay:    q.Autoplay(),
		Position:    q.FormattedCurrentTime(),
		Duration:    q.FormattedDuration(),
		TotalTracks: q.TotalLen(),
	}
	if t := q.Track(); t != nil {
		tv := newTrackView(t)
		v.Current = &tv
	}
	if withTracks {
		for _, t := range q.Tracks() {
			v.Tracks = append(v.Tracks, newTrackView(t))
		}
	}
	return v
}

type SessionView struct {
	Node      string    `json:"node"`
	SessionID string    `json:"session_id"`
	UpdatedAt time.Time `json:"updated_at"`
}
