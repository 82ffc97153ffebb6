package track

import (
	"encoding/json"
	"fmt"

	"github.com/latoulicious/tarulink/pkg/common"
	"github.com/latoulicious/tarulink/pkg/protocol"
)

// Playlist is an ordered set of tracks
type Playlist struct {
	Name string
	// SelectedTrack is -1 when no track was selected
	SelectedTrack int
	Tracks        []*Track
	PluginInfo    json.RawMessage

	// Duration sums the non-live tracks, in milliseconds
	Duration          float64
	FormattedDuration string
}

// NewPlaylist validates data and every track in it
func NewPlaylist(data protocol.Playlist) (*Playlist, error) {
	p := &Playlist{
		Name:              UnknownPlaylist,
		SelectedTrack:     -1,
		Tracks:            make([]*Track, 0, len(data.Tracks)),
		FormattedDuration: common.FormatDuration(0),
	}

	if common.IsNonEmpty(data.Info.Name) {
		p.Name = data.Info.Name
	}
	if s := data.Info.SelectedTrack; s != nil && *s >= 0 {
		p.SelectedTrack = *s
	}

	for i, raw := range data.Tracks {
		t, err := New(raw)
		if err != nil {
			return nil, fmt.Errorf("playlist track %d: %w", i, err)
		}
		if !t.IsLive {
			p.Duration += t.Duration
		}
		p.Tracks = append(p.Tracks, t)
	}

	if len(data.PluginInfo) > 0 && string(data.PluginInfo) != "null" && string(data.PluginInfo) != "{}" {
		p.PluginInfo = data.PluginInfo
	}
	if p.Duration > 0 {
		p.FormattedDuration = common.FormatDuration(p.Duration)
	}
	return p, nil
}

func (p *Playlist) String() string {
	return p.Name
}
