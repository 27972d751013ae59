package crdt

// VectorClock tracks the number of operations observed from each replica.
// It summarizes which updates a replica has seen and is exchanged during the
// sync handshake to compute minimal catch-up diffs.
type VectorClock map[NodeID]uint64

// NewVectorClock creates an empty vector clock
func NewVectorClock() VectorClock {
	return make(VectorClock)
}

// Increment advances this replica's own counter and returns the new value
func (vc VectorClock) Increment(node NodeID) uint64 {
	vc[node]++
	return vc[node]
}

// Observe records that an operation with the given sequence number from node
// has been seen. Counters only move forward.
func (vc VectorClock) Observe(node NodeID, seq uint64) {
	if seq > vc[node] {
		vc[node] = seq
	}
}

// Update merges another clock into this one, taking the maximum per node
func (vc VectorClock) Update(other VectorClock) {
	for node, count := range other {
		if count > vc[node] {
			vc[node] = count
		}
	}
}

// HappensBefore reports whether vc causally precedes other: every counter in
// vc is <= the corresponding counter in other, and at least one is strictly
// smaller.
func (vc VectorClock) HappensBefore(other VectorClock) bool {
	strictlyLess := false
	for node, count := range vc {
		otherCount := other[node]
		if count > otherCount {
			return false
		}
		if count < otherCount {
			strictlyLess = true
		}
	}
	for node := range other {
		if _, ok := vc[node]; !ok && other[node] > 0 {
			strictlyLess = true
		}
	}
	return strictlyLess
}

// Concurrent reports whether neither clock causally precedes the other
func (vc VectorClock) Concurrent(other VectorClock) bool {
	return !vc.HappensBefore(other) && !other.HappensBefore(vc)
}

// Clone creates an independent copy of the clock
func (vc VectorClock) Clone() VectorClock {
	clone := make(VectorClock, len(vc))
	for node, count := range vc {
		clone[node] = count
	}
	return clone
}
