package websocket

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/maheshalyana/letterflow/pkg/observability"
)

// contentHash identifies a snapshot by its text so unchanged documents are
// never rewritten.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Sweeper periodically persists dirty sessions. Store outages trip a
// circuit breaker so a down database does not get hammered every tick;
// edits are retained in memory and flushed when the store recovers.
type Sweeper struct {
	registry     *Registry
	store        SnapshotStore
	interval     time.Duration
	flushTimeout time.Duration
	breaker      *gobreaker.CircuitBreaker

	logger    observability.Logger
	collector *MetricsCollector
}

// NewSweeper creates a sweeper over the registry's live sessions.
func NewSweeper(registry *Registry, store SnapshotStore, interval, flushTimeout time.Duration, logger observability.Logger) *Sweeper {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if flushTimeout <= 0 {
		flushTimeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "snapshot-store",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Snapshot store breaker state change", map[string]interface{}{
				"from": from.String(),
				"to":   to.String(),
			})
		},
	})

	return &Sweeper{
		registry:     registry,
		store:        store,
		interval:     interval,
		flushTimeout: flushTimeout,
		breaker:      breaker,
		logger:       logger,
		collector:    registry.collector,
	}
}

// Run sweeps until the context is cancelled, then makes one final pass so a
// graceful shutdown leaves nothing unflushed.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.sweep(context.Background())
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep flushes every dirty session. Failures are isolated per document; one
// failing write never blocks the others.
func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	var flushed, failed int

	for _, session := range s.registry.ActiveSessions() {
		err := s.FlushSession(ctx, session)
		if err == nil {
			flushed++
			continue
		}
		failed++
		if errors.Is(err, gobreaker.ErrOpenState) {
			continue
		}
		s.logger.Error("Snapshot flush failed", map[string]interface{}{
			"document_id": session.documentID,
			"error":       err.Error(),
		})
	}

	s.collector.RecordSweep(flushed, failed, time.Since(start))
}

// FlushSession writes the session's text when it differs from the last
// persisted snapshot. The write goes through the circuit breaker.
func (s *Sweeper) FlushSession(ctx context.Context, session *Session) error {
	text := session.buffer.SnapshotText()
	hash := contentHash(text)
	if hash == session.lastHash() {
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.flushTimeout)
	defer cancel()

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.store.WriteSnapshot(writeCtx, session.documentID, text, time.Now().UTC())
	})
	if err != nil {
		s.collector.RecordPersistence(false)
		return err
	}

	session.markPersisted(hash)
	s.collector.RecordPersistence(true)
	return nil
}
