package protocol

import "encoding/json"

// TrackInfo is the metadata block of a track
type TrackInfo struct {
	Identifier string  `json:"identifier"`
	IsSeekable bool    `json:"isSeekable"`
	Author     string  `json:"author"`
	Length     int64   `json:"length"`
	IsStream   bool    `json:"isStream"`
	Position   int64   `json:"position"`
	Title      string  `json:"title"`
	URI        *string `json:"uri"`
	ArtworkURL *string `json:"artworkUrl"`
	ISRC       *string `json:"isrc"`
	SourceName string  `json:"sourceName"`
}

// Track is a track as returned by the node
type Track struct {
	Encoded    string          `json:"encoded"`
	Info       TrackInfo       `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
	UserData   map[string]any  `json:"userData,omitempty"`
}

// PlaylistInfo is the metadata block of a playlist. SelectedTrack is nil when
// the node sent none, which callers read as -1.
type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack *int   `json:"selectedTrack"`
}

// Playlist is a playlist as returned by the node
type Playlist struct {
	Info       PlaylistInfo    `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
	Tracks     []Track         `json:"tracks"`
}
