package player

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/latoulicious/tarulink/pkg/node"
	"github.com/latoulicious/tarulink/pkg/protocol"
	"github.com/latoulicious/tarulink/pkg/rest"
	"github.com/latoulicious/tarulink/pkg/track"
)

const (
	testClientID  = "1089530211137658970"
	testGuildID   = "1089530211137658971"
	testChannelID = "1089530211137658972"
	testEndpoint  = "us-east1234.discord.media:443"
)

func testTrack(id string) protocol.Track {
	return protocol.Track{
		Encoded: "enc:" + id,
		Info: protocol.TrackInfo{
			Identifier: id,
			Title:      "Track " + id,
			Author:     "Author",
			Length:     180000,
			IsSeekable: true,
			SourceName: "youtube",
			URI:        protocol.Ptr("https://www.youtube.com/watch?v=" + id),
		},
	}
}

func newTestTracks(t *testing.T, ids ...string) []*track.Track {
	t.Helper()
	out := make([]*track.Track, 0, len(ids))
	for _, id := range ids {
		tr, err := track.New(testTrack(id))
		require.NoError(t, err)
		out = append(out, tr)
	}
	return out
}

// fakeNode is a minimal Lavalink server: websocket with ready, players,
// loadtracks and info
type fakeNode struct {
	name     string
	srv      *httptest.Server
	upgrader websocket.Upgrader
	sessions atomic.Int32

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	players   map[string]*protocol.Player
	updates   []map[string]json.RawMessage
	destroyed []string
	loads     map[string]protocol.LoadResult
	info      protocol.Info
	failPatch bool

	writeMu sync.Mutex
}

func newFakeNode(t *testing.T, name string) *fakeNode {
	t.Helper()
	f := &fakeNode{
		name:    name,
		players: make(map[string]*protocol.Player),
		loads:   make(map[string]protocol.LoadResult),
		info: protocol.Info{
			SourceManagers: []string{"youtube", "soundcloud"},
			Filters:        []string{"volume", "timescale", "equalizer"},
			Plugins:        []protocol.Plugin{{Name: "lavasrc", Version: "4.0.0"}},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v4/websocket", f.serveSocket)
	mux.HandleFunc("GET /v4/info", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.info)
	})
	mux.HandleFunc("GET /v4/loadtracks", f.serveLoad)
	mux.HandleFunc("PATCH /v4/sessions/{session}", func(w http.ResponseWriter, r *http.Request) {
		var s protocol.Session
		json.NewDecoder(r.Body).Decode(&s)
		writeJSON(w, http.StatusOK, s)
	})
	mux.HandleFunc("GET /v4/sessions/{session}/players/{guild}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		p, ok := f.players[r.PathValue("guild")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"status": 404, "error": "Not Found", "message": "Player not found"})
			return
		}
		writeJSON(w, http.StatusOK, p)
	})
	mux.HandleFunc("PATCH /v4/sessions/{session}/players/{guild}", f.servePatch)
	mux.HandleFunc("DELETE /v4/sessions/{session}/players/{guild}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		delete(f.players, r.PathValue("guild"))
		f.destroyed = append(f.destroyed, r.PathValue("guild"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.dropSocket()
		f.srv.Close()
	})
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeNode) serveSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	id := fmt.Sprintf("%s-session-%d", f.name, f.sessions.Add(1))
	f.mu.Lock()
	f.conn = conn
	f.sessionID = id
	f.mu.Unlock()

	f.send(map[string]any{"op": "ready", "resumed": false, "sessionId": id})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *fakeNode) serveLoad(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("identifier")
	f.mu.Lock()
	result, ok := f.loads[identifier]
	f.mu.Unlock()
	if ok {
		writeJSON(w, http.StatusOK, result)
		return
	}
	if strings.HasPrefix(identifier, "ytsearch:") {
		data, _ := json.Marshal([]protocol.Track{testTrack("q1"), testTrack("q2")})
		writeJSON(w, http.StatusOK, protocol.LoadResult{LoadType: protocol.LoadTypeSearch, Data: data})
		return
	}
	writeJSON(w, http.StatusOK, protocol.LoadResult{LoadType: protocol.LoadTypeEmpty, Data: json.RawMessage("{}")})
}

func (f *fakeNode) servePatch(w http.ResponseWriter, r *http.Request) {
	guildID := r.PathValue("guild")

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 400, "error": "Bad Request", "message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, raw)
	if f.failPatch {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": 500, "error": "Internal Server Error", "message": "boom"})
		return
	}

	p, ok := f.players[guildID]
	if !ok {
		p = &protocol.Player{GuildID: guildID, Volume: 100, State: protocol.PlayerState{Ping: -1}}
		f.players[guildID] = p
	}

	var body struct {
		Track *struct {
			Encoded  *string        `json:"encoded"`
			UserData map[string]any `json:"userData"`
		} `json:"track"`
		Position *int64               `json:"position"`
		Volume   *int                 `json:"volume"`
		Paused   *bool                `json:"paused"`
		Filters  *protocol.Filters    `json:"filters"`
		Voice    *protocol.VoiceState `json:"voice"`
	}
	data, _ := json.Marshal(raw)
	json.Unmarshal(data, &body)

	if body.Track != nil {
		if body.Track.Encoded == nil {
			p.Track = nil
		} else {
			tr := testTrack(strings.TrimPrefix(*body.Track.Encoded, "enc:"))
			tr.UserData = body.Track.UserData
			p.Track = &tr
			p.State.Position = 0
		}
	}
	if body.Position != nil {
		p.State.Position = *body.Position
	}
	if body.Volume != nil {
		p.Volume = *body.Volume
	}
	if body.Paused != nil {
		p.Paused = *body.Paused
	}
	if body.Filters != nil {
		p.Filters = *body.Filters
	}
	if body.Voice != nil {
		p.Voice = *body.Voice
		p.State.Connected = true
		p.State.Ping = 20
	}
	writeJSON(w, http.StatusOK, p)
}

// send writes a message to the connected player
func (f *fakeNode) send(v any) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	conn.WriteJSON(v)
}

func (f *fakeNode) sendEvent(eventType protocol.EventType, guildID string, fields map[string]any) {
	msg := map[string]any{"op": "event", "type": eventType, "guildId": guildID}
	for k, v := range fields {
		msg[k] = v
	}
	f.send(msg)
}

func (f *fakeNode) dropSocket() {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (f *fakeNode) player(guildID string) *protocol.Player {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.players[guildID].Clone()
}

func (f *fakeNode) destroyedGuilds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.destroyed...)
}

func (f *fakeNode) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func (f *fakeNode) lastUpdate() map[string]json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return nil
	}
	return f.updates[len(f.updates)-1]
}

func (f *fakeNode) options() node.Options {
	return node.Options{
		Name:           f.name,
		ReconnectDelay: time.Hour,
		Options: rest.Options{
			Origin:   f.srv.URL,
			Password: "youshallnotpass",
		},
	}
}

// fakeGateway records voice updates and answers joins like Discord would
type fakeGateway struct {
	player *Player
	silent atomic.Bool

	mu      sync.Mutex
	updates []VoiceUpdate
}

func (g *fakeGateway) forward(_ context.Context, guildID string, u VoiceUpdate) error {
	g.mu.Lock()
	g.updates = append(g.updates, u)
	g.mu.Unlock()
	if u.D.ChannelID != nil && !g.silent.Load() {
		go g.respond(guildID, *u.D.ChannelID)
	}
	return nil
}

func (g *fakeGateway) respond(guildID, channelID string) {
	g.dispatch("VOICE_STATE_UPDATE", map[string]any{
		"guild_id":   guildID,
		"channel_id": channelID,
		"user_id":    testClientID,
		"session_id": "voice-session",
		"deaf":       false,
		"mute":       false,
		"self_deaf":  true,
		"self_mute":  false,
		"suppress":   false,
	})
	g.dispatch("VOICE_SERVER_UPDATE", map[string]any{
		"token":    "voice-token",
		"guild_id": guildID,
		"endpoint": testEndpoint,
	})
}

func (g *fakeGateway) dispatch(t string, d any) {
	data, _ := json.Marshal(d)
	g.player.HandleDispatch(GatewayPayload{Op: 0, T: t, D: data})
}

func (g *fakeGateway) sent() []VoiceUpdate {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]VoiceUpdate(nil), g.updates...)
}

func newTestPlayer(t *testing.T, nodes []*fakeNode, mutate func(*Options)) (*Player, *fakeGateway) {
	t.Helper()
	gw := &fakeGateway{}
	opts := Options{
		ForwardVoiceUpdate: gw.forward,
		JoinTimeout:        2 * time.Second,
	}
	for _, f := range nodes {
		opts.Nodes = append(opts.Nodes, f.options())
	}
	if mutate != nil {
		mutate(&opts)
	}

	p, err := New(opts)
	require.NoError(t, err)
	gw.player = p
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p.Close(ctx)
	})
	return p, gw
}

// startPlayer initializes p and waits for every node to be ready with its info fetched
func startPlayer(t *testing.T, p *Player) {
	t.Helper()
	require.NoError(t, p.Init(context.Background(), testClientID))
	require.Eventually(t, func() bool {
		for _, n := range p.Nodes().All() {
			if !n.Ready() || p.Nodes().Info(n.Name()) == nil {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

// connectQueue joins the test guild and returns its queue
func connectQueue(t *testing.T, p *Player, opts *ConnectOptions) *Queue {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := p.Voices().Connect(ctx, testGuildID, testChannelID, opts)
	require.NoError(t, err)
	q := p.GetQueue(testGuildID)
	require.NotNil(t, q)
	return q
}

// eventLog collects events by name
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(p *Player) *eventLog {
	l := &eventLog{}
	p.Subscribe(func(e Event) {
		l.mu.Lock()
		l.events = append(l.events, e)
		l.mu.Unlock()
	})
	return l
}

func (l *eventLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Name() == name {
			n++
		}
	}
	return n
}

func (l *eventLog) last(name string) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Name() == name {
			return l.events[i]
		}
	}
	return nil
}

func (l *eventLog) waitFor(t *testing.T, name string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return l.count(name) >= n }, 2*time.Second, 5*time.Millisecond,
		"waiting for %d %s events", n, name)
}
