package player

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latoulicious/tarulink/pkg/protocol"
)

func TestFilterManager(t *testing.T) {
	f := newFakeNode(t, "a")
	p, _ := newTestPlayer(t, []*fakeNode{f}, nil)
	startPlayer(t, p)
	q := connectQueue(t, p, nil)
	ctx := context.Background()
	filters := q.Filters()

	assert.False(t, filters.Has(protocol.FilterTimescale))

	applied, err := filters.Set(ctx, protocol.FilterTimescale, protocol.TimescaleFilter{Speed: protocol.Ptr(1.25)}, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"speed":1.25}`, string(applied))
	require.NotNil(t, f.player(testGuildID).Filters.Timescale)

	applied, err = filters.Set(ctx, "echo", map[string]float64{"delay": 0.5}, true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"delay":0.5}`, string(applied))

	raw, ok := filters.Get(protocol.FilterTimescale)
	require.True(t, ok)
	assert.JSONEq(t, `{"speed":1.25}`, string(raw))
	assert.True(t, filters.Has("echo"))

	data, err := filters.Merge(ctx, protocol.Filters{Volume: protocol.Ptr(0.8)})
	require.NoError(t, err)
	require.NotNil(t, data.Volume)
	assert.Equal(t, 0.8, *data.Volume)
	assert.NotNil(t, data.Timescale)
	assert.Contains(t, data.PluginFilters, "echo")

	data, err = filters.Remove(ctx, protocol.FilterTimescale, "echo")
	require.NoError(t, err)
	assert.Nil(t, data.Timescale)
	assert.Empty(t, data.PluginFilters)
	assert.NotNil(t, data.Volume)

	data, err = filters.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.Filters{}, data)
	assert.Equal(t, protocol.Filters{}, f.player(testGuildID).Filters)
}

func TestFilterManagerRejectsUnknownFilters(t *testing.T) {
	f := newFakeNode(t, "a")
	p, _ := newTestPlayer(t, []*fakeNode{f}, nil)
	startPlayer(t, p)
	q := connectQueue(t, p, nil)
	updates := f.updateCount()

	tests := []struct {
		name   string
		plugin bool
	}{
		{"", false},
		{"", true},
		{protocol.FilterPlugins, true},
		{"echo", false},
	}
	for _, tt := range tests {
		_, err := q.Filters().Set(context.Background(), tt.name, 1, tt.plugin)
		assert.ErrorIs(t, err, ErrInvalidFilter)
	}
	_, ok := q.Filters().Get(protocol.FilterPlugins)
	assert.False(t, ok)
	assert.Equal(t, updates, f.updateCount())
}
