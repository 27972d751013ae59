package collaboration

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maheshalyana/letterflow/pkg/collaboration/crdt"
)

// Operation types
const (
	OpInsert = "insert"
	OpDelete = "delete"
)

// Errors returned by update decoding and application
var (
	ErrMalformedUpdate = errors.New("malformed update payload")
)

// CharID uniquely identifies a character across all replicas. It is assigned
// by the replica that created the character and never changes.
type CharID struct {
	Node crdt.NodeID `json:"node"`
	Seq  uint64      `json:"seq"`
	Off  int         `json:"off"`
}

// CharRef carries one inserted character. Its place in the document comes
// from the operation's base position plus the character's offset, so every
// character of one insert stays in one contiguous run.
type CharRef struct {
	ID   CharID `json:"id"`
	Rune rune   `json:"r"`
}

// PathSeg is one ancestor anchor in an insert's ordering path. An insert that
// lands between two adjacent characters of an earlier run nests under the left
// character's full key instead of splitting that run's base position.
type PathSeg struct {
	Pos  float64     `json:"pos"`
	Node crdt.NodeID `json:"node"`
	Seq  uint64      `json:"seq"`
	Off  int         `json:"off"`
}

// Operation is a single causally-stamped edit. Seq is the per-node operation
// counter; together (Node, Seq) identify the operation for idempotent replay.
//
// For inserts, Path and Pos are assigned once at the origin replica and shared
// by every character of the operation: the full ordering key of character i is
// Path followed by (Pos, Node, Seq, Chars[i].ID.Off). Keys are compared
// segment by segment, so concurrent inserts at the same spot order as whole
// runs by node id rather than interleaving character by character.
type Operation struct {
	Node      crdt.NodeID `json:"node"`
	Seq       uint64      `json:"seq"`
	Type      string      `json:"type"`
	Pos       float64     `json:"pos,omitempty"`
	Path      []PathSeg   `json:"path,omitempty"`
	Chars     []CharRef   `json:"chars,omitempty"`
	Targets   []CharID    `json:"targets,omitempty"`
	Timestamp time.Time   `json:"ts"`
}

// Validate checks the structural invariants of an operation
func (op *Operation) Validate() error {
	if op.Node == "" {
		return fmt.Errorf("%w: missing node id", ErrMalformedUpdate)
	}
	if op.Seq == 0 {
		return fmt.Errorf("%w: missing sequence number", ErrMalformedUpdate)
	}
	switch op.Type {
	case OpInsert:
		if len(op.Chars) == 0 {
			return fmt.Errorf("%w: insert without characters", ErrMalformedUpdate)
		}
		for _, seg := range op.Path {
			if seg.Node == "" || seg.Seq == 0 {
				return fmt.Errorf("%w: path segment without origin", ErrMalformedUpdate)
			}
		}
	case OpDelete:
		if len(op.Targets) == 0 {
			return fmt.Errorf("%w: delete without targets", ErrMalformedUpdate)
		}
	default:
		return fmt.Errorf("%w: unknown operation type %q", ErrMalformedUpdate, op.Type)
	}
	return nil
}

// EncodeUpdate serializes a batch of operations into an opaque update payload
func EncodeUpdate(ops []*Operation) ([]byte, error) {
	data, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("failed to encode update: %w", err)
	}
	return data, nil
}

// DecodeUpdate parses an update payload and validates every operation in it.
// A decoding or validation failure rejects the whole batch.
func DecodeUpdate(data []byte) ([]*Operation, error) {
	var ops []*Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	for _, op := range ops {
		if op == nil {
			return nil, fmt.Errorf("%w: null operation", ErrMalformedUpdate)
		}
		if err := op.Validate(); err != nil {
			return nil, err
		}
	}
	return ops, nil
}
