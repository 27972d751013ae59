package crdt

import (
	"fmt"
	"sync"
	"time"
)

// LWWRegister is a last-write-wins register. Concurrent writes are resolved
// by timestamp, with the higher node ID winning ties so every replica settles
// on the same value.
type LWWRegister[T any] struct {
	mu        sync.RWMutex
	value     T
	timestamp time.Time
	nodeID    NodeID
}

// NewLWWRegister creates a new empty register
func NewLWWRegister[T any]() *LWWRegister[T] {
	return &LWWRegister[T]{}
}

// Set writes value if the (timestamp, nodeID) pair is newer than the current one
func (r *LWWRegister[T]) Set(value T, timestamp time.Time, nodeID NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timestamp.After(r.timestamp) || (timestamp.Equal(r.timestamp) && nodeID > r.nodeID) {
		r.value = value
		r.timestamp = timestamp
		r.nodeID = nodeID
	}
}

// Get returns the current value
func (r *LWWRegister[T]) Get() T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value
}

// GetWithMetadata returns the value along with its timestamp and writer
func (r *LWWRegister[T]) GetWithMetadata() (T, time.Time, NodeID) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.timestamp, r.nodeID
}

// Merge combines this register with another of the same element type
func (r *LWWRegister[T]) Merge(other CRDT) error {
	otherReg, ok := other.(*LWWRegister[T])
	if !ok {
		return fmt.Errorf("cannot merge LWWRegister with %T", other)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	otherReg.mu.RLock()
	defer otherReg.mu.RUnlock()

	if otherReg.timestamp.After(r.timestamp) ||
		(otherReg.timestamp.Equal(r.timestamp) && otherReg.nodeID > r.nodeID) {
		r.value = otherReg.value
		r.timestamp = otherReg.timestamp
		r.nodeID = otherReg.nodeID
	}
	return nil
}

// Clone creates a deep copy of the register
func (r *LWWRegister[T]) Clone() CRDT {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &LWWRegister[T]{
		value:     r.value,
		timestamp: r.timestamp,
		nodeID:    r.nodeID,
	}
}

// GetType returns the CRDT type name
func (r *LWWRegister[T]) GetType() string {
	return "LWWRegister"
}
