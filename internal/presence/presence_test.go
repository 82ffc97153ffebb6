package presence

import (
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSession struct {
	mu      sync.Mutex
	updates []discordgo.UpdateStatusData
	err     error
}

func (r *recordingSession) UpdateStatusComplex(usd discordgo.UpdateStatusData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, usd)
	return r.err
}

func TestPresenceManager(t *testing.T) {
	session := &recordingSession{}
	pm := NewPresenceManager(session, func() int { return 3 }, nil)

	assert.Empty(t, pm.GetCurrentPresence())

	pm.UpdateDefaultPresence()
	require.Len(t, session.updates, 1)
	assert.Equal(t, PresenceDefault, pm.GetCurrentPresence())
	assert.Equal(t, "in 3 servers", session.updates[0].Activities[0].State)

	pm.UpdateDefaultPresence()
	assert.Len(t, session.updates, 1, "unchanged presence is not resent")

	pm.UpdateMusicPresence("Song A")
	pm.UpdateMusicPresence("Song A")
	pm.UpdateMusicPresence("Song B")
	require.Len(t, session.updates, 3)
	assert.Equal(t, PresenceMusic, pm.GetCurrentPresence())
	assert.Equal(t, discordgo.ActivityTypeListening, session.updates[2].Activities[0].Type)
	assert.Equal(t, "Song B", session.updates[2].Activities[0].State)
}

func TestPresenceManagerUpdateError(t *testing.T) {
	session := &recordingSession{err: errors.New("not connected")}
	pm := NewPresenceManager(session, nil, nil)

	assert.NotPanics(t, pm.UpdateDefaultPresence)
	assert.Equal(t, PresenceDefault, pm.GetCurrentPresence())
	assert.Equal(t, "in 0 servers", session.updates[0].Activities[0].State)
}
