package player

import (
	"errors"
	"fmt"
)

// Configuration errors
var (
	ErrMissingNodes   = errors.New("missing node create options")
	ErrMissingForward = errors.New("missing voice update function")
	ErrInvalidOptions = errors.New("invalid player options")
)

// Session errors
var (
	ErrNotInitialized   = errors.New("player has not been initialized")
	ErrInvalidClientID  = errors.New("client id is not a valid Discord id")
	ErrNodeNotFound     = errors.New("node not found")
	ErrNodeExists       = errors.New("node already exists")
	ErrNodeNotReady     = errors.New("node not ready")
	ErrNodeConnected    = errors.New("node not disconnected")
	ErrNoNodes          = errors.New("no nodes available")
	ErrNoOtherNodes     = errors.New("no other nodes available")
	ErrAlreadyOnNode    = errors.New("already on node")
	ErrInvalidGuildID   = errors.New("guild id is not a valid Discord id")
	ErrInvalidChannelID = errors.New("voice id is not a valid Discord id")
	ErrJoinInProgress   = errors.New("another connection to the same guild is in progress")
	ErrJoinTimeout      = errors.New("connection timed out")
	ErrNoVoiceState     = errors.New("no voice state received")
	ErrNoConnection     = errors.New("no connection found")
	ErrNoPlayer         = errors.New("no player found")
	ErrNoQueue          = errors.New("no queue found")
)

// Queue errors
var (
	ErrQueueEmpty      = errors.New("the queue is empty at the moment")
	ErrIndexOutOfRange = errors.New("specified index is out of range")
	ErrNoTrack         = errors.New("no track's playing at the moment")
	ErrNotSeekable     = errors.New("current track is not seekable")
	ErrInvalidSeek     = errors.New("seek time must be a whole number")
	ErrSeekOutOfRange  = errors.New("specified time to seek is out of range")
	ErrInvalidVolume   = errors.New("volume must be a whole number not more than 1000")
	ErrInvalidRepeat   = errors.New("repeat mode can only be set to track, queue, or none")
	ErrInvalidSync     = errors.New("sync target must be 'local' or 'remote'")
	ErrNoReference     = errors.New("the queue is empty and there is no track to refer")
	ErrInvalidFilter   = errors.New("invalid filter name")
)

// Search errors
var (
	ErrEmptyQuery     = errors.New("query must be a non-empty string")
	ErrNoResults      = errors.New("no results found")
	ErrUnexpectedLoad = errors.New("unexpected load result type")
)

func guildErr(err error, guildID string) error {
	return fmt.Errorf("%w for guild '%s'", err, guildID)
}

func nodeErr(err error, name string) error {
	return fmt.Errorf("%w: '%s'", err, name)
}
