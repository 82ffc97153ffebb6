package protocol

import (
	"encoding/json"
	"maps"
	"slices"
)

// EqualizerBand adjusts one of the 15 bands (0-14), gain is between -0.25 and 1.0
type EqualizerBand struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}

type KaraokeFilter struct {
	Level       *float64 `json:"level,omitempty"`
	MonoLevel   *float64 `json:"monoLevel,omitempty"`
	FilterBand  *float64 `json:"filterBand,omitempty"`
	FilterWidth *float64 `json:"filterWidth,omitempty"`
}

type TimescaleFilter struct {
	Speed *float64 `json:"speed,omitempty"`
	Pitch *float64 `json:"pitch,omitempty"`
	Rate  *float64 `json:"rate,omitempty"`
}

type TremoloFilter struct {
	Frequency *float64 `json:"frequency,omitempty"`
	Depth     *float64 `json:"depth,omitempty"`
}

type VibratoFilter struct {
	Frequency *float64 `json:"frequency,omitempty"`
	Depth     *float64 `json:"depth,omitempty"`
}

type RotationFilter struct {
	RotationHz *float64 `json:"rotationHz,omitempty"`
}

type DistortionFilter struct {
	SinOffset *float64 `json:"sinOffset,omitempty"`
	SinScale  *float64 `json:"sinScale,omitempty"`
	CosOffset *float64 `json:"cosOffset,omitempty"`
	CosScale  *float64 `json:"cosScale,omitempty"`
	TanOffset *float64 `json:"tanOffset,omitempty"`
	TanScale  *float64 `json:"tanScale,omitempty"`
	Offset    *float64 `json:"offset,omitempty"`
	Scale     *float64 `json:"scale,omitempty"`
}

type ChannelMixFilter struct {
	LeftToLeft   *float64 `json:"leftToLeft,omitempty"`
	LeftToRight  *float64 `json:"leftToRight,omitempty"`
	RightToLeft  *float64 `json:"rightToLeft,omitempty"`
	RightToRight *float64 `json:"rightToRight,omitempty"`
}

type LowPassFilter struct {
	Smoothing *float64 `json:"smoothing,omitempty"`
}

// Filters is the full filter set of a player. The node replaces it wholesale on update.
type Filters struct {
	Volume        *float64                   `json:"volume,omitempty"`
	Equalizer     []EqualizerBand            `json:"equalizer,omitempty"`
	Karaoke       *KaraokeFilter             `json:"karaoke,omitempty"`
	Timescale     *TimescaleFilter           `json:"timescale,omitempty"`
	Tremolo       *TremoloFilter             `json:"tremolo,omitempty"`
	Vibrato       *VibratoFilter             `json:"vibrato,omitempty"`
	Rotation      *RotationFilter            `json:"rotation,omitempty"`
	Distortion    *DistortionFilter          `json:"distortion,omitempty"`
	ChannelMix    *ChannelMixFilter          `json:"channelMix,omitempty"`
	LowPass       *LowPassFilter             `json:"lowPass,omitempty"`
	PluginFilters map[string]json.RawMessage `json:"pluginFilters,omitempty"`
}

// Filter names as used on the wire
const (
	FilterVolume     = "volume"
	FilterEqualizer  = "equalizer"
	FilterKaraoke    = "karaoke"
	FilterTimescale  = "timescale"
	FilterTremolo    = "tremolo"
	FilterVibrato    = "vibrato"
	FilterRotation   = "rotation"
	FilterDistortion = "distortion"
	FilterChannelMix = "channelMix"
	FilterLowPass    = "lowPass"
	FilterPlugins    = "pluginFilters"
)

// Clone copies the filter set, built-in filter values are shared since they are replaced, never mutated
func (f Filters) Clone() Filters {
	c := f
	c.Equalizer = slices.Clone(f.Equalizer)
	c.PluginFilters = maps.Clone(f.PluginFilters)
	return c
}

// Fields returns the active filters keyed by wire name, plugin filters excluded
func (f Filters) Fields() (map[string]json.RawMessage, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	delete(fields, FilterPlugins)
	return fields, nil
}

// FiltersFromFields rebuilds a filter set from wire-named fields and plugin filters
func FiltersFromFields(fields map[string]json.RawMessage, plugins map[string]json.RawMessage) (Filters, error) {
	var f Filters
	data, err := json.Marshal(fields)
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, err
	}
	if len(plugins) > 0 {
		f.PluginFilters = maps.Clone(plugins)
	} else {
		f.PluginFilters = nil
	}
	return f, nil
}
