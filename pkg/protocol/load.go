package protocol

import (
	"encoding/json"
	"fmt"
)

// LoadType tells which shape the data of a LoadResult has
type LoadType string

const (
	LoadTypeTrack    LoadType = "track"
	LoadTypePlaylist LoadType = "playlist"
	LoadTypeSearch   LoadType = "search"
	LoadTypeEmpty    LoadType = "empty"
	LoadTypeError    LoadType = "error"
)

// Severity of an exception raised by the node
type Severity string

const (
	SeverityCommon     Severity = "common"
	SeveritySuspicious Severity = "suspicious"
	SeverityFault      Severity = "fault"
)

// Exception describes a failure reported by the node while loading or playing
type Exception struct {
	Message         *string  `json:"message"`
	Severity        Severity `json:"severity"`
	Cause           string   `json:"cause"`
	CauseStackTrace string   `json:"causeStackTrace,omitempty"`
}

// Error returns the message, falling back to the cause
func (e *Exception) Error() string {
	if e.Message != nil && *e.Message != "" {
		return *e.Message
	}
	return e.Cause
}

// LoadResult is the response of the loadtracks endpoint
type LoadResult struct {
	LoadType LoadType        `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

// Track decodes the data of a track result
func (r *LoadResult) Track() (*Track, error) {
	if r.LoadType != LoadTypeTrack {
		return nil, fmt.Errorf("load result is %q, not %q", r.LoadType, LoadTypeTrack)
	}
	var t Track
	if err := json.Unmarshal(r.Data, &t); err != nil {
		return nil, fmt.Errorf("decode track result: %w", err)
	}
	return &t, nil
}

// Playlist decodes the data of a playlist result
func (r *LoadResult) Playlist() (*Playlist, error) {
	if r.LoadType != LoadTypePlaylist {
		return nil, fmt.Errorf("load result is %q, not %q", r.LoadType, LoadTypePlaylist)
	}
	var p Playlist
	if err := json.Unmarshal(r.Data, &p); err != nil {
		return nil, fmt.Errorf("decode playlist result: %w", err)
	}
	return &p, nil
}

// Search decodes the data of a search result
func (r *LoadResult) Search() ([]Track, error) {
	if r.LoadType != LoadTypeSearch {
		return nil, fmt.Errorf("load result is %q, not %q", r.LoadType, LoadTypeSearch)
	}
	var tracks []Track
	if err := json.Unmarshal(r.Data, &tracks); err != nil {
		return nil, fmt.Errorf("decode search result: %w", err)
	}
	return tracks, nil
}

// Exception decodes the data of an error result
func (r *LoadResult) Exception() (*Exception, error) {
	if r.LoadType != LoadTypeError {
		return nil, fmt.Errorf("load result is %q, not %q", r.LoadType, LoadTypeError)
	}
	var e Exception
	if err := json.Unmarshal(r.Data, &e); err != nil {
		return nil, fmt.Errorf("decode error result: %w", err)
	}
	return &e, nil
}
