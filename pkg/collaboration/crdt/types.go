// Package crdt provides the conflict-free replicated primitives used by the
// collaboration layer: vector clocks for causality tracking and a
// last-write-wins register for presence metadata.
package crdt

// NodeID identifies a replica participating in CRDT operations
type NodeID string

// CRDT is the common interface implemented by all CRDT types
type CRDT interface {
	// Merge combines the state of another CRDT of the same type into this one
	Merge(other CRDT) error
	// Clone creates a deep copy
	Clone() CRDT
	// GetType returns the CRDT type name
	GetType() string
}
