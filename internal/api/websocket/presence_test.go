package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maheshalyana/letterflow/pkg/models"
)

func presenceConn(connID, participantID, name string) *Connection {
	return &Connection{
		ID:            connID,
		ParticipantID: participantID,
		DisplayName:   name,
		Color:         "#30bced",
		closed:        make(chan struct{}),
		send:          make(chan []byte, 16),
	}
}

func TestPresenceTable(t *testing.T) {
	t.Run("join and leave", func(t *testing.T) {
		p := newPresenceTable()
		c := presenceConn("c1", "alice", "Alice")

		assert.True(t, p.join(c))
		assert.Equal(t, 1, p.count())

		assert.True(t, p.leave(c))
		assert.Equal(t, 0, p.count())
	})

	t.Run("second tab does not duplicate the participant", func(t *testing.T) {
		p := newPresenceTable()
		tab1 := presenceConn("c1", "alice", "Alice")
		tab2 := presenceConn("c2", "alice", "Alice")

		assert.True(t, p.join(tab1))
		assert.False(t, p.join(tab2), "second connection of the same participant is not a roster change")
		assert.Equal(t, 1, p.count())

		// Alice stays on the roster until her last tab closes.
		assert.False(t, p.leave(tab1))
		assert.Equal(t, 1, p.count())
		assert.True(t, p.leave(tab2))
		assert.Equal(t, 0, p.count())
	})

	t.Run("snapshot is sorted by participant", func(t *testing.T) {
		p := newPresenceTable()
		p.join(presenceConn("c1", "zoe", "Zoe"))
		p.join(presenceConn("c2", "alice", "Alice"))
		p.join(presenceConn("c3", "mallory", "Mallory"))

		roster := p.snapshot()
		assert.Equal(t, []string{"alice", "mallory", "zoe"}, participantIDs(roster))
	})

	t.Run("latest connection wins the display info", func(t *testing.T) {
		p := newPresenceTable()
		p.join(presenceConn("c1", "alice", "Alice"))
		p.join(presenceConn("c2", "alice", "Alice B."))

		roster := p.snapshot()
		assert.Len(t, roster, 1)
		assert.Equal(t, "Alice B.", roster[0].Name)
	})

	t.Run("leave of unknown participant is a no-op", func(t *testing.T) {
		p := newPresenceTable()
		assert.False(t, p.leave(presenceConn("c1", "ghost", "Ghost")))
	})
}

func participantIDs(roster []models.Participant) []string {
	ids := make([]string, len(roster))
	for i, p := range roster {
		ids[i] = p.ID
	}
	return ids
}
