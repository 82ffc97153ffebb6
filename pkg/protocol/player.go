package protocol

import "encoding/json"

// PlayerState is the live position report of a player
type PlayerState struct {
	// Unix timestamp in milliseconds
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	// -1 if not connected
	Ping int64 `json:"ping"`
}

// VoiceState holds the Discord voice credentials a player connects with
type VoiceState struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
	ChannelID string `json:"channelId,omitempty"`
}

// Player is the authoritative remote player of a guild
type Player struct {
	GuildID string      `json:"guildId"`
	Track   *Track      `json:"track"`
	Volume  int         `json:"volume"`
	Paused  bool        `json:"paused"`
	State   PlayerState `json:"state"`
	Voice   VoiceState  `json:"voice"`
	Filters Filters     `json:"filters"`
}

// Clone returns a deep enough copy for the snapshot to be swapped safely
func (p *Player) Clone() *Player {
	if p == nil {
		return nil
	}
	c := *p
	if p.Track != nil {
		t := *p.Track
		c.Track = &t
	}
	c.Filters = p.Filters.Clone()
	return &c
}

// UpdateTrack selects the track of a player update. An empty value stops the player.
type UpdateTrack struct {
	Encoded    *string
	Identifier string
	UserData   map[string]any
}

// MarshalJSON writes either identifier or encoded, where a nil encoded becomes null
func (t UpdateTrack) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 2)
	if t.Identifier != "" {
		out["identifier"] = t.Identifier
	} else {
		out["encoded"] = t.Encoded
	}
	if t.UserData != nil {
		out["userData"] = t.UserData
	}
	return json.Marshal(out)
}

// PlayerUpdate is the body of the update player request
type PlayerUpdate struct {
	Track    *UpdateTrack `json:"track,omitempty"`
	Position *int64       `json:"position,omitempty"`
	EndTime  *int64       `json:"endTime,omitempty"`
	Volume   *int         `json:"volume,omitempty"`
	Paused   *bool        `json:"paused,omitempty"`
	Filters  *Filters     `json:"filters,omitempty"`
	Voice    *VoiceState  `json:"voice,omitempty"`
}

// IsEmpty reports whether the update would not change anything
func (u *PlayerUpdate) IsEmpty() bool {
	return u == nil || (u.Track == nil && u.Position == nil && u.EndTime == nil &&
		u.Volume == nil && u.Paused == nil && u.Filters == nil && u.Voice == nil)
}

// SessionUpdate is the body of the update session request
type SessionUpdate struct {
	Resuming *bool `json:"resuming,omitempty"`
	// Seconds
	Timeout *int `json:"timeout,omitempty"`
}

// Session is the resume configuration of a node session
type Session struct {
	Resuming bool `json:"resuming"`
	Timeout  int  `json:"timeout"`
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}
