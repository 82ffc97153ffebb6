package player

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignShares(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		scores []float64
		want   []int
	}{
		{"single target", 3, []float64{0.4}, []int{0, 0, 0}},
		{"weighted", 3, []float64{0.8, 0.2}, []int{0, 1, 0}},
		{"equal scores alternate", 4, []float64{0.5, 0.5}, []int{0, 1, 0, 1}},
		{"zero scores use the floor", 3, []float64{0, 0, 0}, []int{0, 1, 2}},
		{"nothing to move", 0, []float64{1}, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, assignShares(tt.n, tt.scores))
		})
	}
}

func TestAssignSharesFavorsHealthyNodes(t *testing.T) {
	plan := assignShares(10, []float64{0.9, 0.1})
	counts := make([]int, 2)
	for _, target := range plan {
		counts[target]++
	}
	assert.GreaterOrEqual(t, counts[0], 8)
}

func TestMetricsScore(t *testing.T) {
	mt := Metrics{Memory: 0.8, Workload: 0.4, Streaming: -1}
	assert.InDelta(t, 0.6, mt.score(relocationWeights), 1e-9)
	assert.InDelta(t, 0.8*0.3+0.4*0.2, mt.score(DefaultWeights), 1e-9)
}

func TestRelocateOnDisconnect(t *testing.T) {
	a, b := newFakeNode(t, "a"), newFakeNode(t, "b")
	p, _ := newTestPlayer(t, []*fakeNode{a, b}, nil)
	startPlayer(t, p)
	events := recordEvents(p)

	q := connectQueue(t, p, &ConnectOptions{Node: "a"})
	require.Equal(t, "a", q.Node().Name())
	q.Add(newTestTracks(t, "one", "two")...)
	_, err := q.Resume(context.Background())
	require.NoError(t, err)
	require.True(t, q.Playing())

	require.NoError(t, p.Nodes().DisconnectNode(context.Background(), "a", "maintenance"))
	events.waitFor(t, EventVoiceChange, 1)

	assert.Equal(t, "b", q.Node().Name())
	assert.False(t, q.Destroyed())

	change := events.last(EventVoiceChange).(*VoiceChangeEvent)
	assert.Equal(t, "a", change.PreviousNode.Name())
	assert.True(t, change.WasPlaying)

	// the track is carried over with the voice credentials
	remote := b.player(testGuildID)
	require.NotNil(t, remote)
	require.NotNil(t, remote.Track)
	assert.Equal(t, "one", remote.Track.Info.Identifier)
	assert.Equal(t, "voice-token", remote.Voice.Token)

	info, ok := p.Voices().Info(testGuildID)
	require.True(t, ok)
	assert.Equal(t, p.Nodes().Get("b").SessionID(), info.NodeSessionID)
	assert.True(t, q.Voice().Connected())
}

func TestRelocateWithoutOtherNodes(t *testing.T) {
	f := newFakeNode(t, "a")
	p, _ := newTestPlayer(t, []*fakeNode{f}, func(o *Options) { o.DisableRelocation = true })
	startPlayer(t, p)
	q := connectQueue(t, p, nil)

	// the session still matches, the queue can wait for the node
	err := p.Queues().Relocate(context.Background(), "a")
	require.ErrorIs(t, err, ErrNoOtherNodes)
	assert.False(t, q.Destroyed())

	p.voices.updateInfo(testGuildID, func(info *VoiceInfo) { info.NodeSessionID = "stale" })
	err = p.Queues().Relocate(context.Background(), "a")
	require.ErrorIs(t, err, ErrNoOtherNodes)
	assert.True(t, q.Destroyed())
	assert.False(t, p.Voices().Has(testGuildID))
}

func TestRelocateSkipsTrackOnUnsupportedSource(t *testing.T) {
	a, b := newFakeNode(t, "a"), newFakeNode(t, "b")
	b.info.SourceManagers = []string{"soundcloud"}
	p, _ := newTestPlayer(t, []*fakeNode{a, b}, func(o *Options) { o.DisableRelocation = true })
	startPlayer(t, p)

	q := connectQueue(t, p, &ConnectOptions{Node: "a"})
	q.Add(newTestTracks(t, "one")...)
	_, err := q.Resume(context.Background())
	require.NoError(t, err)

	require.NoError(t, q.Voice().ChangeNode(context.Background(), "b"))
	assert.Equal(t, "b", q.Node().Name())
	assert.Nil(t, b.player(testGuildID).Track)
	assert.Contains(t, a.destroyedGuilds(), testGuildID)

	require.ErrorIs(t, q.Voice().ChangeNode(context.Background(), "b"), ErrAlreadyOnNode)
	require.ErrorIs(t, q.Voice().ChangeNode(context.Background(), "missing"), ErrNodeNotFound)
}

func TestRelocateFailureDestroysQueue(t *testing.T) {
	a, b := newFakeNode(t, "a"), newFakeNode(t, "b")
	p, _ := newTestPlayer(t, []*fakeNode{a, b}, nil)
	startPlayer(t, p)
	events := recordEvents(p)

	q := connectQueue(t, p, &ConnectOptions{Node: "a"})
	b.mu.Lock()
	b.failPatch = true
	b.mu.Unlock()

	require.NoError(t, p.Nodes().DisconnectNode(context.Background(), "a", ""))
	events.waitFor(t, EventQueueDestroy, 1)
	assert.True(t, q.Destroyed())
	assert.Zero(t, events.count(EventVoiceChange))

	require.Eventually(t, func() bool { return !p.Voices().Has(testGuildID) }, 2*time.Second, 5*time.Millisecond)
}
