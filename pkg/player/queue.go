package player

import (
	"context"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/latoulicious/tarulink/pkg/common"
	"github.com/latoulicious/tarulink/pkg/node"
	"github.com/latoulicious/tarulink/pkg/protocol"
	"github.com/latoulicious/tarulink/pkg/rest"
	"github.com/latoulicious/tarulink/pkg/track"
)

// RepeatMode controls what happens when a track ends
type RepeatMode string

const (
	RepeatNone  RepeatMode = "none"
	RepeatTrack RepeatMode = "track"
	RepeatQueue RepeatMode = "queue"
)

// ParseRepeatMode validates a repeat mode, empty means none
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch RepeatMode(s) {
	case "", RepeatNone:
		return RepeatNone, nil
	case RepeatTrack, RepeatQueue:
		return RepeatMode(s), nil
	}
	return "", ErrInvalidRepeat
}

// SyncTarget is the side that wins a Sync
type SyncTarget string

const (
	// SyncLocal pulls the remote player into the local snapshot
	SyncLocal SyncTarget = "local"
	// SyncRemote pushes the local snapshot to the node
	SyncRemote SyncTarget = "remote"
)

// Queue is the playback queue of a guild. tracks[0] is the current track.
// The remote player snapshot is authoritative for volume, pause state,
// position and filters; the track lists are local.
type Queue struct {
	player  *Player
	voice   *VoiceState
	filters *FilterManager

	mu       sync.Mutex
	tracks   []*track.Track
	previous []*track.Track
	autoplay bool
	repeat   RepeatMode
	data     map[string]any
}

func newQueue(p *Player, voice *VoiceState, data map[string]any) *Queue {
	if data == nil {
		data = make(map[string]any)
	}
	q := &Queue{
		player: p,
		voice:  voice,
		repeat: RepeatNone,
		data:   data,
	}
	q.filters = &FilterManager{queue: q}
	return q
}

// Voice returns the voice connection the queue plays through
func (q *Queue) Voice() *VoiceState { return q.voice }

// Filters returns the queue's filter manager
func (q *Queue) Filters() *FilterManager { return q.filters }

// Node returns the node currently hosting the player. It changes on relocation.
func (q *Queue) Node() *node.Node { return q.voice.Node() }

// Rest is the REST client of the hosting node
func (q *Queue) Rest() *rest.Client { return q.voice.Node().Rest() }

func (q *Queue) GuildID() string { return q.voice.GuildID() }

func (q *Queue) snapshotOrEmpty() *protocol.Player {
	if snap := q.player.queues.snapshot(q.GuildID()); snap != nil {
		return snap
	}
	return &protocol.Player{GuildID: q.GuildID()}
}

// Volume and Paused read the last player state the node reported
func (q *Queue) Volume() int  { return q.snapshotOrEmpty().Volume }
func (q *Queue) Paused() bool { return q.snapshotOrEmpty().Paused }

// Stopped reports whether there is a track to play but the node has none loaded
func (q *Queue) Stopped() bool {
	snap := q.snapshotOrEmpty()
	return q.Track() != nil && snap.Track == nil
}

// Playing reports whether the current track is loaded and not paused
func (q *Queue) Playing() bool {
	snap := q.snapshotOrEmpty()
	return !snap.Paused && q.Track() != nil && snap.Track != nil
}

// Finished reports whether there are no tracks left
func (q *Queue) Finished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks) == 0
}

// Empty reports whether there are no tracks and no history
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks) == 0 && len(q.previous) == 0
}

// Destroyed reports whether the queue was removed or replaced in its manager
func (q *Queue) Destroyed() bool {
	return q.player.queues.Get(q.GuildID()) != q
}

// Autoplay reports whether a related track is queued when the queue runs out
func (q *Queue) Autoplay() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.autoplay
}

func (q *Queue) RepeatMode() RepeatMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.repeat
}

// HasNext reports whether a track is queued after the current one
func (q *Queue) HasNext() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks) > 1
}

// HasPrevious reports whether the history holds a track
func (q *Queue) HasPrevious() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.previous) > 0
}

// Track returns the current track, or nil
func (q *Queue) Track() *track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 {
		return nil
	}
	return q.tracks[0]
}

// PreviousTrack returns the most recently played track, or nil
func (q *Queue) PreviousTrack() *track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.previous) == 0 {
		return nil
	}
	return q.previous[len(q.previous)-1]
}

// Tracks returns the current track followed by the upcoming ones
func (q *Queue) Tracks() []*track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.tracks)
}

// PreviousTracks returns the history, oldest first
func (q *Queue) PreviousTracks() []*track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.previous)
}

// Len counts the current and upcoming tracks, not the history
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// TotalLen counts upcoming and previous tracks
func (q *Queue) TotalLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks) + len(q.previous)
}

// Duration sums the non-live upcoming tracks in milliseconds
func (q *Queue) Duration() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	var total float64
	for _, t := range q.tracks {
		if !t.IsLive {
			total += t.Duration
		}
	}
	return total
}

func (q *Queue) FormattedDuration() string {
	return common.FormatDuration(q.Duration())
}

// CurrentTime estimates the playback position in milliseconds from the last state update
func (q *Queue) CurrentTime() int64 {
	snap := q.snapshotOrEmpty()
	if snap.Paused || !snap.State.Connected {
		return snap.State.Position
	}
	if snap.State.Position == 0 {
		return 0
	}
	return snap.State.Position + (time.Now().UnixMilli() - snap.State.Time)
}

func (q *Queue) FormattedCurrentTime() string {
	return common.FormatDuration(float64(q.CurrentTime()))
}

// Context returns a copy of the user data attached to the queue
func (q *Queue) Context() map[string]any {
	q.mu.Lock()
	defer q.mu.Unlock()
	return maps.Clone(q.data)
}

// MergeContext copies data into the queue's context
func (q *Queue) MergeContext(data map[string]any) {
	q.mu.Lock()
	maps.Copy(q.data, data)
	q.mu.Unlock()
}

func (q *Queue) update(ctx context.Context, upd *protocol.PlayerUpdate) (*protocol.Player, error) {
	player, err := q.Rest().UpdatePlayer(ctx, q.GuildID(), upd, nil)
	if err != nil {
		return nil, err
	}
	q.player.queues.replaceSnapshot(q.GuildID(), player)
	return player, nil
}

// Sync reconciles the local snapshot with the node. SyncLocal fetches the
// remote player, SyncRemote pushes the local one.
func (q *Queue) Sync(ctx context.Context, target SyncTarget) error {
	switch target {
	case SyncLocal, "":
		player, err := q.Rest().FetchPlayer(ctx, q.GuildID())
		if err != nil {
			return err
		}
		q.player.queues.replaceSnapshot(q.GuildID(), player)
		return nil
	case SyncRemote:
	default:
		return ErrInvalidSync
	}

	info, ok := q.player.voices.Info(q.GuildID())
	if !ok {
		return nil
	}
	snap := q.snapshotOrEmpty()
	filters := snap.Filters.Clone()
	req := &protocol.PlayerUpdate{
		Voice: &protocol.VoiceState{
			Token:     info.Token,
			Endpoint:  info.Endpoint,
			SessionID: info.SessionID,
		},
		Filters: &filters,
		Paused:  protocol.Ptr(snap.Paused),
		Volume:  protocol.Ptr(snap.Volume),
	}
	if snap.Track != nil {
		req.Track = &protocol.UpdateTrack{
			Encoded:  protocol.Ptr(snap.Track.Encoded),
			UserData: snap.Track.UserData,
		}
		req.Position = protocol.Ptr(snap.State.Position)
	}
	if _, err := q.update(ctx, req); err != nil {
		return err
	}
	sessionID := q.Node().SessionID()
	q.player.voices.updateInfo(q.GuildID(), func(info *VoiceInfo) {
		info.NodeSessionID = sessionID
	})
	return nil
}

// Search loads query on the queue's node
func (q *Queue) Search(ctx context.Context, query, prefix string) (*SearchResult, error) {
	return q.player.Search(ctx, query, &SearchOptions{Prefix: prefix, Node: q.Node().Name()})
}

// Add appends tracks
func (q *Queue) Add(tracks ...*track.Track) *Queue {
	return q.AddWithData(nil, tracks...)
}

// AddWithData appends tracks after merging userData into each of them
func (q *Queue) AddWithData(userData map[string]any, tracks ...*track.Track) *Queue {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range tracks {
		if t == nil {
			continue
		}
		if len(userData) > 0 {
			if t.UserData == nil {
				t.UserData = make(map[string]any, len(userData))
			}
			maps.Copy(t.UserData, userData)
		}
		q.tracks = append(q.tracks, t)
	}
	return q
}

// AddPlaylist appends every track of the playlist
func (q *Queue) AddPlaylist(p *track.Playlist, userData map[string]any) *Queue {
	return q.AddWithData(userData, p.Tracks...)
}

// AddRelated appends tracks related to ref, or to the current or previous
// track when ref is nil
func (q *Queue) AddRelated(ctx context.Context, ref *track.Track) ([]*track.Track, error) {
	if ref == nil {
		ref = q.Track()
	}
	if ref == nil {
		ref = q.PreviousTrack()
	}
	if ref == nil {
		return nil, ErrNoReference
	}
	related, err := q.player.opts.FetchRelatedTracks(ctx, q, ref)
	if err != nil {
		return nil, err
	}
	q.Add(related...)
	return related, nil
}

// Remove removes one track. Negative indices address the history from its
// end. The current track can only be removed while stopped. Returns nil when
// nothing was removed.
func (q *Queue) Remove(index int) *track.Track {
	stopped := q.Stopped()

	q.mu.Lock()
	defer q.mu.Unlock()
	if index == 0 && !stopped {
		return nil
	}
	if index < 0 {
		i := len(q.previous) + index
		if i < 0 {
			return nil
		}
		t := q.previous[i]
		q.previous = slices.Delete(q.previous, i, i+1)
		return t
	}
	if index >= len(q.tracks) {
		return nil
	}
	t := q.tracks[index]
	q.tracks = slices.Delete(q.tracks, index, index+1)
	return t
}

// RemoveMany removes tracks by their indices before any removal
func (q *Queue) RemoveMany(indices ...int) []*track.Track {
	if len(indices) == 0 {
		return []*track.Track{}
	}
	stopped := q.Stopped()
	sorted := slices.Compact(slices.Sorted(slices.Values(indices)))

	q.mu.Lock()
	defer q.mu.Unlock()
	removed := make([]*track.Track, 0, len(sorted))
	deletions := 0
	for _, original := range sorted {
		index := original
		if index >= 0 {
			index -= deletions
		}
		if index == 0 && !stopped {
			continue
		}
		if index < 0 {
			i := len(q.previous) + index
			if i < 0 {
				continue
			}
			removed = append(removed, q.previous[i])
			q.previous = slices.Delete(q.previous, i, i+1)
			continue
		}
		if index < len(q.tracks) {
			removed = append(removed, q.tracks[index])
			q.tracks = slices.Delete(q.tracks, index, index+1)
			deletions++
		}
	}
	return removed
}

// Jump plays the track at index. Positive indices skip forward, moving the
// skipped tracks to the history; negative indices go back in the history.
func (q *Queue) Jump(ctx context.Context, index int) (*track.Track, error) {
	q.mu.Lock()
	if len(q.tracks) == 0 && len(q.previous) == 0 {
		q.mu.Unlock()
		return nil, ErrQueueEmpty
	}

	var t *track.Track
	if index < 0 {
		i := len(q.previous) + index
		if i < 0 {
			q.mu.Unlock()
			return nil, ErrIndexOutOfRange
		}
		t = q.previous[i]
		moved := slices.Clone(q.previous[i:])
		q.previous = q.previous[:i]
		q.tracks = append(moved, q.tracks...)
	} else {
		if index >= len(q.tracks) {
			q.mu.Unlock()
			return nil, ErrIndexOutOfRange
		}
		t = q.tracks[index]
		q.previous = append(q.previous, q.tracks[:index]...)
		q.tracks = slices.Clone(q.tracks[index:])
	}
	q.mu.Unlock()

	_, err := q.update(ctx, &protocol.PlayerUpdate{
		Paused: protocol.Ptr(false),
		Track: &protocol.UpdateTrack{
			Encoded:  protocol.Ptr(t.Encoded),
			UserData: t.UserData,
		},
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Pause pauses the player and returns the resulting pause state
func (q *Queue) Pause(ctx context.Context) (bool, error) {
	player, err := q.update(ctx, &protocol.PlayerUpdate{Paused: protocol.Ptr(true)})
	if err != nil {
		return false, err
	}
	return player.Paused, nil
}

// Resume unpauses the player, loading the current track when stopped.
// Returns whether the player is now playing.
func (q *Queue) Resume(ctx context.Context) (bool, error) {
	if q.Stopped() {
		if _, err := q.Jump(ctx, 0); err != nil {
			return false, err
		}
		return !q.Paused(), nil
	}
	player, err := q.update(ctx, &protocol.PlayerUpdate{Paused: protocol.Ptr(false)})
	if err != nil {
		return false, err
	}
	return !player.Paused, nil
}

// Seek moves to ms in the current track and returns the new position
func (q *Queue) Seek(ctx context.Context, ms int64) (int64, error) {
	current := q.Track()
	if current == nil {
		return 0, ErrNoTrack
	}
	if !current.IsSeekable {
		return 0, ErrNotSeekable
	}
	if ms < 0 {
		return 0, ErrInvalidSeek
	}
	if float64(ms) > current.Duration {
		return 0, ErrSeekOutOfRange
	}

	req := &protocol.PlayerUpdate{
		Paused:   protocol.Ptr(false),
		Position: protocol.Ptr(ms),
	}
	if snap := q.snapshotOrEmpty(); snap.Track == nil || snap.Track.Info.Identifier != current.ID {
		req.Track = &protocol.UpdateTrack{
			Encoded:  protocol.Ptr(current.Encoded),
			UserData: current.UserData,
		}
	}
	player, err := q.update(ctx, req)
	if err != nil {
		return 0, err
	}
	return player.State.Position, nil
}

// Next skips to the next track. With nothing to play it moves the current
// track to the history, stops the player and returns nil.
func (q *Queue) Next(ctx context.Context) (*track.Track, error) {
	if q.HasNext() {
		return q.Jump(ctx, 1)
	}
	if q.HasPrevious() && q.RepeatMode() == RepeatQueue {
		q.recycleOldest()
		if q.HasNext() {
			return q.Jump(ctx, 1)
		}
		return q.Jump(ctx, 0)
	}
	if !q.Empty() && q.Autoplay() {
		related, err := q.AddRelated(ctx, nil)
		if err != nil {
			return nil, err
		}
		if len(related) > 0 {
			return q.Jump(ctx, q.Len()-len(related))
		}
	}

	q.mu.Lock()
	if len(q.tracks) == 0 {
		q.mu.Unlock()
		return nil, nil
	}
	q.previous = append(q.previous, q.tracks[0])
	q.tracks = slices.Delete(q.tracks, 0, 1)
	q.mu.Unlock()

	return nil, q.Stop(ctx)
}

// Previous plays the most recent track of the history, nil when there is none
func (q *Queue) Previous(ctx context.Context) (*track.Track, error) {
	if q.HasPrevious() {
		return q.Jump(ctx, -1)
	}
	return nil, nil
}

// Shuffle shuffles the upcoming tracks, keeping the current one in place.
// includePrevious moves the history to the end of the queue first.
func (q *Queue) Shuffle(includePrevious bool) *Queue {
	q.mu.Lock()
	defer q.mu.Unlock()
	if includePrevious {
		q.tracks = append(q.tracks, q.previous...)
		q.previous = nil
	}
	if len(q.tracks) < 3 {
		return q
	}
	for i := len(q.tracks) - 1; i > 1; i-- {
		j := rand.IntN(i) + 1
		q.tracks[i], q.tracks[j] = q.tracks[j], q.tracks[i]
	}
	return q
}

// SetVolume sets the player volume (0-1000) and returns the applied value
func (q *Queue) SetVolume(ctx context.Context, volume int) (int, error) {
	if volume < 0 || volume > 1000 {
		return 0, ErrInvalidVolume
	}
	player, err := q.update(ctx, &protocol.PlayerUpdate{Volume: protocol.Ptr(volume)})
	if err != nil {
		return 0, err
	}
	return player.Volume, nil
}

// SetAutoplay toggles autoplay and returns the new value
func (q *Queue) SetAutoplay(autoplay bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.autoplay = autoplay
	return q.autoplay
}

// SetRepeatMode validates mode before applying it, an unknown mode leaves the
// queue unchanged
func (q *Queue) SetRepeatMode(mode RepeatMode) (RepeatMode, error) {
	mode, err := ParseRepeatMode(string(mode))
	if err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.repeat = mode
	return q.repeat, nil
}

// Stop unloads the track from the player, the queue is left untouched
func (q *Queue) Stop(ctx context.Context) error {
	_, err := q.update(ctx, &protocol.PlayerUpdate{Track: &protocol.UpdateTrack{}})
	return err
}

// Destroy tears down the queue, its player and its voice connection
func (q *Queue) Destroy(ctx context.Context, reason string) error {
	return q.player.queues.Destroy(ctx, q.GuildID(), reason)
}

// popIfCurrent moves t to the history when it is the current track
func (q *Queue) popIfCurrent(t *track.Track, pop bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 || q.tracks[0].ID != t.ID || !pop {
		return
	}
	q.previous = append(q.previous, q.tracks[0])
	q.tracks = slices.Delete(q.tracks, 0, 1)
}

// recycleOldest moves the oldest history entry to the end of the queue
func (q *Queue) recycleOldest() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.previous) == 0 {
		return
	}
	q.tracks = append(q.tracks, q.previous[0])
	q.previous = slices.Delete(q.previous, 0, 1)
}
