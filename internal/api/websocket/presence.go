package websocket

import (
	"sort"
	"sync"
	"time"

	"github.com/maheshalyana/letterflow/pkg/collaboration/crdt"
	"github.com/maheshalyana/letterflow/pkg/models"
	ws "github.com/maheshalyana/letterflow/pkg/models/websocket"
)

// presenceEntry tracks one participant. A participant with several open
// connections (multiple tabs) appears once; the entry is reference counted
// and the display info converges on the latest writer.
type presenceEntry struct {
	info *crdt.LWWRegister[models.Participant]
	refs map[string]struct{}
}

// presenceTable is the per-session participant roster.
type presenceTable struct {
	mu      sync.Mutex
	entries map[string]*presenceEntry
}

func newPresenceTable() *presenceTable {
	return &presenceTable{
		entries: make(map[string]*presenceEntry),
	}
}

// join adds a connection's participant to the roster and reports whether the
// roster changed.
func (p *presenceTable) join(c *Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[c.ParticipantID]
	if !ok {
		entry = &presenceEntry{
			info: crdt.NewLWWRegister[models.Participant](),
			refs: make(map[string]struct{}),
		}
		p.entries[c.ParticipantID] = entry
	}
	entry.refs[c.ID] = struct{}{}
	entry.info.Set(models.Participant{
		ID:        c.ParticipantID,
		Name:      c.DisplayName,
		Color:     c.Color,
		AvatarURL: c.AvatarURL,
	}, time.Now(), crdt.NodeID(c.ID))
	return !ok
}

// leave drops a connection's reference and reports whether the participant
// left the roster entirely.
func (p *presenceTable) leave(c *Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[c.ParticipantID]
	if !ok {
		return false
	}
	delete(entry.refs, c.ID)
	if len(entry.refs) > 0 {
		return false
	}
	delete(p.entries, c.ParticipantID)
	return true
}

// snapshot returns the roster sorted by participant ID.
func (p *presenceTable) snapshot() []models.Participant {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.Participant, 0, len(p.entries))
	for _, entry := range p.entries {
		out = append(out, entry.info.Get())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *presenceTable) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// broadcastPresence sends the full roster to every attached connection.
// Presence frames are droppable; a newer roster supersedes a missed one.
func (s *Session) broadcastPresence() {
	msg := &ws.Message{
		Type:          ws.MessageTypeCollaboratorUpdate,
		Collaborators: s.presence.snapshot(),
	}

	s.mu.RLock()
	targets := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if err := c.SendMessage(msg); err != nil {
			s.registry.collector.RecordMessageDropped("presence")
		}
	}
}
