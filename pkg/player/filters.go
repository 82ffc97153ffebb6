package player

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/latoulicious/tarulink/pkg/protocol"
)

var builtinFilters = []string{
	protocol.FilterVolume,
	protocol.FilterEqualizer,
	protocol.FilterKaraoke,
	protocol.FilterTimescale,
	protocol.FilterTremolo,
	protocol.FilterVibrato,
	protocol.FilterRotation,
	protocol.FilterDistortion,
	protocol.FilterChannelMix,
	protocol.FilterLowPass,
}

// FilterManager edits the filters of a queue's player. Every change sends
// the complete filter set and adopts the node's answer.
type FilterManager struct {
	queue *Queue
}

// Data returns a copy of the active filters
func (f *FilterManager) Data() protocol.Filters {
	return f.queue.snapshotOrEmpty().Filters.Clone()
}

// Get returns the raw value of an active built-in or plugin filter
func (f *FilterManager) Get(name string) (json.RawMessage, bool) {
	if name == protocol.FilterPlugins {
		return nil, false
	}
	return lookupFilter(f.Data(), name)
}

func lookupFilter(data protocol.Filters, name string) (json.RawMessage, bool) {
	fields, err := data.Fields()
	if err == nil {
		if v, ok := fields[name]; ok {
			return v, true
		}
	}
	v, ok := data.PluginFilters[name]
	return v, ok
}

func (f *FilterManager) Has(name string) bool {
	_, ok := f.Get(name)
	return ok
}

// Set activates a filter and returns its value as applied by the node. Plugin
// filters go into pluginFilters.
func (f *FilterManager) Set(ctx context.Context, name string, value any, plugin bool) (json.RawMessage, error) {
	if name == "" || name == protocol.FilterPlugins {
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidFilter, name)
	}
	if !plugin && !slices.Contains(builtinFilters, name) {
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidFilter, name)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode filter '%s': %w", name, err)
	}

	data := f.Data()
	fields, err := data.Fields()
	if err != nil {
		return nil, err
	}
	plugins := maps.Clone(data.PluginFilters)
	if plugin {
		if plugins == nil {
			plugins = make(map[string]json.RawMessage, 1)
		}
		plugins[name] = raw
	} else {
		fields[name] = raw
	}

	next, err := protocol.FiltersFromFields(fields, plugins)
	if err != nil {
		return nil, fmt.Errorf("filter '%s': %w", name, err)
	}
	applied, err := f.Override(ctx, next)
	if err != nil {
		return nil, err
	}
	if plugin {
		return applied.PluginFilters[name], nil
	}
	v, _ := lookupFilter(applied, name)
	return v, nil
}

// Merge shallow merges filters over the active ones. A non-nil
// PluginFilters replaces the active plugin filters.
func (f *FilterManager) Merge(ctx context.Context, filters protocol.Filters) (protocol.Filters, error) {
	current := f.Data()
	fields, err := current.Fields()
	if err != nil {
		return protocol.Filters{}, err
	}
	extra, err := filters.Fields()
	if err != nil {
		return protocol.Filters{}, err
	}
	maps.Copy(fields, extra)

	plugins := current.PluginFilters
	if filters.PluginFilters != nil {
		plugins = filters.PluginFilters
	}
	next, err := protocol.FiltersFromFields(fields, plugins)
	if err != nil {
		return protocol.Filters{}, err
	}
	return f.Override(ctx, next)
}

// Remove deactivates filters by name, built-in or plugin
func (f *FilterManager) Remove(ctx context.Context, names ...string) (protocol.Filters, error) {
	current := f.Data()
	if len(names) == 0 {
		return current, nil
	}
	fields, err := current.Fields()
	if err != nil {
		return protocol.Filters{}, err
	}
	plugins := maps.Clone(current.PluginFilters)
	for _, name := range names {
		delete(fields, name)
		delete(plugins, name)
	}
	next, err := protocol.FiltersFromFields(fields, plugins)
	if err != nil {
		return protocol.Filters{}, err
	}
	return f.Override(ctx, next)
}

// Clear removes every filter
func (f *FilterManager) Clear(ctx context.Context) (protocol.Filters, error) {
	return f.Override(ctx, protocol.Filters{})
}

// Override replaces the filter set as a whole
func (f *FilterManager) Override(ctx context.Context, filters protocol.Filters) (protocol.Filters, error) {
	player, err := f.queue.update(ctx, &protocol.PlayerUpdate{Filters: &filters})
	if err != nil {
		return protocol.Filters{}, err
	}
	return player.Filters.Clone(), nil
}
