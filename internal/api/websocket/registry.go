package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/maheshalyana/letterflow/pkg/collaboration"
	"github.com/maheshalyana/letterflow/pkg/collaboration/crdt"
	"github.com/maheshalyana/letterflow/pkg/database"
	"github.com/maheshalyana/letterflow/pkg/observability"
)

type sessionState int32

const (
	sessionActive sessionState = iota
	sessionDraining
	sessionDestroyed
)

// unflushedCacheSize bounds the number of evicted documents whose text is
// parked in memory after a failed final flush.
const unflushedCacheSize = 128

// Session is the server-side replica of one open document: the shared text
// buffer, the connections attached to it, and the presence table.
type Session struct {
	documentID string
	registry   *Registry
	buffer     *collaboration.TextBuffer
	presence   *presenceTable

	mu       sync.RWMutex
	conns    map[string]*Connection
	state    sessionState
	drainGen uint64

	// lastPersistedHash is the content hash of the most recent snapshot
	// written to the store, empty when the buffer has unflushed edits.
	lastPersistedHash string

	seedOnce    sync.Once
	seedErr     error
	relayCancel func()
}

// Registry owns the live sessions, one per open document. Creation is
// serialized per document so concurrent opens share a single replica.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store        SnapshotStore
	relay        UpdateRelay
	nodeID       crdt.NodeID
	flushTimeout time.Duration

	// unflushed parks the live text of sessions whose final flush failed
	// at eviction, so reopening the document does not lose edits.
	unflushed *lru.Cache[string, string]

	logger    observability.Logger
	collector *MetricsCollector
}

// NewRegistry creates a session registry backed by the given snapshot store.
// relay may be nil for single-instance deployments.
func NewRegistry(store SnapshotStore, relay UpdateRelay, nodeID crdt.NodeID, flushTimeout time.Duration, logger observability.Logger, collector *MetricsCollector) *Registry {
	cache, _ := lru.New[string, string](unflushedCacheSize)
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if collector == nil {
		collector = NewMetricsCollector(nil)
	}
	if flushTimeout <= 0 {
		flushTimeout = 10 * time.Second
	}
	return &Registry{
		sessions:     make(map[string]*Session),
		store:        store,
		relay:        relay,
		nodeID:       nodeID,
		flushTimeout: flushTimeout,
		unflushed:    cache,
		logger:       logger,
		collector:    collector,
	}
}

// GetOrCreate returns the live session for a document, creating and seeding
// one if none exists. A draining session is reactivated rather than replaced.
func (r *Registry) GetOrCreate(ctx context.Context, documentID string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[documentID]
	if ok {
		s.reactivate()
	} else {
		s = &Session{
			documentID: documentID,
			registry:   r,
			buffer:     collaboration.NewTextBuffer(documentID, r.nodeID),
			presence:   newPresenceTable(),
			conns:      make(map[string]*Connection),
		}
		r.sessions[documentID] = s
	}
	r.mu.Unlock()

	if err := s.seed(ctx); err != nil {
		r.mu.Lock()
		if r.sessions[documentID] == s {
			delete(r.sessions, documentID)
		}
		r.mu.Unlock()
		return nil, err
	}
	return s, nil
}

// ActiveSessions returns a snapshot of the live sessions for the sweeper.
func (r *Registry) ActiveSessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// seed loads the initial document text exactly once. Concurrent callers
// block until the first seed completes and share its outcome.
func (s *Session) seed(ctx context.Context) error {
	s.seedOnce.Do(func() {
		r := s.registry
		var text string
		persisted := true

		if parked, ok := r.unflushed.Get(s.documentID); ok {
			r.unflushed.Remove(s.documentID)
			text = parked
			persisted = false
		} else {
			snap, err := r.store.ReadSnapshot(ctx, s.documentID)
			switch {
			case err == nil:
				text = snap.Content
			case errors.Is(err, database.ErrNotFound):
				text = ""
			default:
				s.seedErr = errors.Wrap(err, "failed to seed session")
				return
			}
		}

		s.buffer.Seed(text)
		if persisted {
			s.markPersisted(contentHash(s.buffer.SnapshotText()))
		}

		if r.relay != nil {
			s.buffer.SetUpdateHandler(func(update []byte) {
				if err := r.relay.Publish(context.Background(), s.documentID, update); err != nil {
					r.logger.Warn("Failed to publish update to relay", map[string]interface{}{
						"document_id": s.documentID,
						"error":       err.Error(),
					})
				}
			})
			cancel, err := r.relay.Subscribe(context.Background(), s.documentID, s.applyRelayed)
			if err != nil {
				r.logger.Warn("Relay subscription failed, session runs detached", map[string]interface{}{
					"document_id": s.documentID,
					"error":       err.Error(),
				})
			} else {
				s.relayCancel = cancel
			}
		}

		r.collector.RecordSessionCreated()
		r.logger.Info("Session created", map[string]interface{}{
			"document_id": s.documentID,
			"length":      len(text),
		})
	})
	return s.seedErr
}

// reactivate cancels a pending drain. Called with the registry lock held.
func (s *Session) reactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == sessionDraining {
		s.state = sessionActive
		s.drainGen++
	}
}

// attach registers a connection with the session.
func (s *Session) attach(c *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == sessionDestroyed {
		return ErrSessionDestroyed
	}
	s.conns[c.ID] = c
	return nil
}

// release detaches a connection. When the last connection leaves, the
// session starts draining: a final flush followed by destruction, unless a
// new connection arrives first.
func (s *Session) release(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c.ID)
	if len(s.conns) > 0 || s.state != sessionActive {
		s.mu.Unlock()
		return
	}
	s.state = sessionDraining
	gen := s.drainGen
	s.mu.Unlock()

	go s.registry.drain(s, gen)
}

// ConnectionCount returns the number of attached connections.
func (s *Session) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Apply validates and applies an update received from a client, then fans it
// out to every other connection and to the relay.
func (s *Session) Apply(ctx context.Context, from *Connection, update []byte) error {
	if err := s.buffer.ApplyRemoteUpdate(update); err != nil {
		return err
	}
	s.fanOut(update, from.ID)
	if r := s.registry; r.relay != nil {
		if err := r.relay.Publish(ctx, s.documentID, update); err != nil {
			r.logger.Warn("Failed to publish update to relay", map[string]interface{}{
				"document_id": s.documentID,
				"error":       err.Error(),
			})
		}
	}
	return nil
}

// applyRelayed applies an update received from another server instance.
func (s *Session) applyRelayed(update []byte) {
	if err := s.buffer.ApplyRemoteUpdate(update); err != nil {
		s.registry.logger.Error("Discarding malformed relayed update", map[string]interface{}{
			"document_id": s.documentID,
			"error":       err.Error(),
		})
		return
	}
	s.fanOut(update, "")
}

// fanOut delivers an update to every attached connection except the origin.
// A connection whose send channel is full is closed as a slow consumer so it
// reconnects and resyncs instead of silently missing updates.
func (s *Session) fanOut(update []byte, excludeID string) {
	s.mu.RLock()
	targets := make([]*Connection, 0, len(s.conns))
	for id, c := range s.conns {
		if id == excludeID {
			continue
		}
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if err := c.SendUpdate(update); err != nil {
			s.registry.collector.RecordMessageDropped("channel_full")
			c.closeSlow()
		}
	}
}

func (s *Session) lastHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPersistedHash
}

func (s *Session) markPersisted(hash string) {
	s.mu.Lock()
	s.lastPersistedHash = hash
	s.mu.Unlock()
}

// drain performs the final flush and destroys the session, unless the drain
// was cancelled by a new connection in the meantime.
func (r *Registry) drain(s *Session, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), r.flushTimeout)
	defer cancel()

	flush := func() error {
		return r.flushSession(ctx, s)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err := backoff.Retry(flush, policy)

	r.mu.Lock()
	s.mu.Lock()
	if s.state != sessionDraining || s.drainGen != gen || len(s.conns) != 0 {
		s.mu.Unlock()
		r.mu.Unlock()
		return
	}
	s.state = sessionDestroyed
	delete(r.sessions, s.documentID)
	relayCancel := s.relayCancel
	s.relayCancel = nil
	s.mu.Unlock()
	if err != nil {
		r.unflushed.Add(s.documentID, s.buffer.SnapshotText())
	}
	r.mu.Unlock()

	if relayCancel != nil {
		relayCancel()
	}
	r.collector.RecordSessionEvicted(err == nil)
	if err != nil {
		r.logger.Error("Final flush failed, parked unflushed text", map[string]interface{}{
			"document_id": s.documentID,
			"error":       err.Error(),
		})
	} else {
		r.logger.Info("Session destroyed", map[string]interface{}{
			"document_id": s.documentID,
		})
	}
}

// flushSession writes the current buffer text to the store when it differs
// from the last persisted snapshot.
func (r *Registry) flushSession(ctx context.Context, s *Session) error {
	text := s.buffer.SnapshotText()
	hash := contentHash(text)
	if hash == s.lastHash() {
		return nil
	}
	if err := r.store.WriteSnapshot(ctx, s.documentID, text, time.Now().UTC()); err != nil {
		return err
	}
	s.markPersisted(hash)
	return nil
}
