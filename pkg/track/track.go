// Package track holds the validated track and playlist values built from node responses.
package track

import (
	"encoding/json"
	"errors"
	"math"

	"github.com/latoulicious/tarulink/pkg/common"
	"github.com/latoulicious/tarulink/pkg/protocol"
)

const (
	UnknownTitle    = "Unknown Track"
	UnknownAuthor   = "Unknown Author"
	UnknownSource   = "unknown"
	UnknownPlaylist = "Unknown Playlist"
	LiveDuration    = "Live"
)

var (
	ErrNoIdentifier = errors.New("track does not have an identifier")
	ErrNoEncoded    = errors.New("track does not have an encoded data string")
)

// Track is an immutable playable item
type Track struct {
	ID         string
	Encoded    string
	Title      string
	Author     string
	SourceName string

	IsLive     bool
	IsSeekable bool
	// Duration in milliseconds, +Inf for live tracks
	Duration          float64
	FormattedDuration string

	URI string
	// URL is URI when URI is an absolute URL
	URL        string
	ISRC       string
	ArtworkURL string

	UserData   map[string]any
	PluginInfo json.RawMessage
}

// New validates data and fills in defaults
func New(data protocol.Track) (*Track, error) {
	info := data.Info
	if !common.IsNonEmpty(info.Identifier) {
		return nil, ErrNoIdentifier
	}
	if !common.IsNonEmpty(data.Encoded) {
		return nil, ErrNoEncoded
	}

	t := &Track{
		ID:                info.Identifier,
		Encoded:           data.Encoded,
		Title:             UnknownTitle,
		Author:            UnknownAuthor,
		SourceName:        UnknownSource,
		IsLive:            info.IsStream,
		IsSeekable:        info.IsSeekable,
		FormattedDuration: common.FormatDuration(0),
		UserData:          map[string]any{},
	}

	if common.IsNonEmpty(info.Title) {
		t.Title = info.Title
	}
	if common.IsNonEmpty(info.Author) {
		t.Author = info.Author
	}
	if common.IsNonEmpty(info.SourceName) {
		t.SourceName = info.SourceName
	}

	if t.IsLive {
		t.Duration = math.Inf(1)
		t.FormattedDuration = LiveDuration
	} else if info.Length > 0 {
		t.Duration = float64(info.Length)
		t.FormattedDuration = common.FormatDuration(t.Duration)
	}

	if info.URI != nil && common.IsNonEmpty(*info.URI) {
		t.URI = *info.URI
		if common.IsURL(t.URI) {
			t.URL = t.URI
		}
	}
	if info.ISRC != nil && common.IsNonEmpty(*info.ISRC) {
		t.ISRC = *info.ISRC
	}
	if info.ArtworkURL != nil && common.IsURL(*info.ArtworkURL) {
		t.ArtworkURL = *info.ArtworkURL
	}

	if len(data.UserData) > 0 {
		t.UserData = data.UserData
	}
	if len(data.PluginInfo) > 0 && string(data.PluginInfo) != "null" && string(data.PluginInfo) != "{}" {
		t.PluginInfo = data.PluginInfo
	}

	return t, nil
}

// MustNew is New for data already known to be valid
func MustNew(data protocol.Track) *Track {
	t, err := New(data)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Track) String() string {
	return t.Title
}
