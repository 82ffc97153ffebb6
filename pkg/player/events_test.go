package player

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/singleflight"

	"github.com/latoulicious/tarulink/pkg/logging"
)

func TestEventBus(t *testing.T) {
	b := newEventBus(logging.NullLogger())

	var got []string
	unsubA := b.Subscribe(func(e Event) { got = append(got, "a:"+e.Name()) })
	b.Subscribe(func(Event) { panic("boom") })
	b.Subscribe(func(e Event) { got = append(got, "c:"+e.Name()) })

	b.Emit(&InitEvent{})
	assert.Equal(t, []string{"a:init", "c:init"}, got)

	unsubA()
	unsubA()
	got = nil
	b.Emit(&QueueFinishEvent{})
	assert.Equal(t, []string{"c:queueFinish"}, got)
}

func TestEventBusUnsubscribeDuringEmit(t *testing.T) {
	b := newEventBus(logging.NullLogger())

	var calls int
	var unsub func()
	unsub = b.Subscribe(func(Event) {
		calls++
		unsub()
	})
	b.Subscribe(func(Event) { calls++ })

	b.Emit(&InitEvent{})
	b.Emit(&InitEvent{})
	assert.Equal(t, 3, calls)
}

func TestOnFiltersByType(t *testing.T) {
	p, _ := newTestPlayer(t, []*fakeNode{newFakeNode(t, "a")}, nil)

	var finishes []string
	off := On(p, func(e *QueueDestroyEvent) { finishes = append(finishes, e.Reason) })
	p.emit(&InitEvent{})
	p.emit(&QueueDestroyEvent{Reason: "left"})
	off()
	p.emit(&QueueDestroyEvent{Reason: "ignored"})

	assert.Equal(t, []string{"left"}, finishes)
}

func TestEventNames(t *testing.T) {
	events := map[Event]string{
		&InitEvent{}:           "init",
		&NodeReadyEvent{}:      "nodeReady",
		&VoiceChangeEvent{}:    "voiceChange",
		&QueueCreateEvent{}:    "queueCreate",
		&TrackStartEvent{}:     "trackStart",
		&TrackFinishEvent{}:    "trackFinish",
		&NodeDisconnectEvent{}: "nodeDisconnect",
	}
	for e, name := range events {
		assert.Equal(t, name, e.Name())
	}
}

func TestShareCall(t *testing.T) {
	var g singleflight.Group
	var runs atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := share(context.Background(), &g, "k", func() (int, error) {
				runs.Add(1)
				<-release
				return 42, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, []int{42, 42, 42, 42, 42}, results)

	// a finished call is not cached
	_, err := share(context.Background(), &g, "k", func() (int, error) { return 0, errors.New("again") })
	assert.EqualError(t, err, "again")
}

func TestShareNilResult(t *testing.T) {
	var g singleflight.Group
	v, err := share(context.Background(), &g, "k", func() (*int, error) { return nil, errors.New("none") })
	assert.Nil(t, v)
	assert.EqualError(t, err, "none")
}

func TestShareWaiterContext(t *testing.T) {
	var g singleflight.Group
	var started atomic.Bool
	release := make(chan struct{})
	defer close(release)

	go share(context.Background(), &g, "k", func() (struct{}, error) {
		started.Store(true)
		<-release
		return struct{}{}, nil
	})
	require.Eventually(t, started.Load, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := share(ctx, &g, "k", func() (struct{}, error) { return struct{}{}, nil })
	assert.ErrorIs(t, err, context.Canceled)
}
