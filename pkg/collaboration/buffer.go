// Package collaboration implements the convergent replicated text buffer
// backing each collaboratively edited document. Concurrent inserts and
// deletes from independent replicas merge deterministically: applying the
// same set of updates in any order, any number of times, yields identical
// text on every replica.
package collaboration

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maheshalyana/letterflow/pkg/collaboration/crdt"
)

// seedNode is the replica id used for content seeded from durable storage.
// It is deterministic so that two processes seeding the same snapshot produce
// identical operations that deduplicate on merge.
const seedNode crdt.NodeID = "origin"

// Errors returned by local edits
var (
	ErrPositionOutOfRange = errors.New("position out of range")
	ErrEmptyEdit          = errors.New("empty edit")
)

// UpdateHandler observes encoded updates produced by local mutations
type UpdateHandler func(update []byte)

type opKey struct {
	node crdt.NodeID
	seq  uint64
}

// charNode is one character of the document with its ordering metadata. key
// is the character's full ordering key: the originating operation's ancestor
// path plus one final segment carrying that operation's base position and the
// character's offset within it.
type charNode struct {
	id      CharID
	r       rune
	key     []PathSeg
	deleted bool
}

// TextBuffer is a CRDT sequence holding one document's text.
//
// Characters order by their keys, compared segment by segment on
// (position, node, seq, offset); a key that is a prefix of another sorts
// first. All characters of one insert share a base position and differ only
// in the final offset, so a run of concurrently inserted text stays
// contiguous and ties between concurrent runs resolve whole-run by node id.
// Deletes tombstone characters by id, so a delete arriving before its insert
// is remembered and applied when the insert lands.
type TextBuffer struct {
	mu         sync.RWMutex
	documentID string
	nodeID     crdt.NodeID
	clock      crdt.VectorClock

	ops            map[opKey]*Operation
	chars          []charNode
	index          map[CharID]int
	pendingDeletes map[CharID]bool

	handler UpdateHandler
}

// NewTextBuffer creates an empty buffer for the given document. nodeID
// identifies this replica in causal metadata; one id per process instance.
func NewTextBuffer(documentID string, nodeID crdt.NodeID) *TextBuffer {
	return &TextBuffer{
		documentID:     documentID,
		nodeID:         nodeID,
		clock:          crdt.NewVectorClock(),
		ops:            make(map[opKey]*Operation),
		index:          make(map[CharID]int),
		pendingDeletes: make(map[CharID]bool),
	}
}

// DocumentID returns the document this buffer belongs to
func (b *TextBuffer) DocumentID() string {
	return b.documentID
}

// SetUpdateHandler registers the callback invoked with the encoded update
// after every successful local mutation
func (b *TextBuffer) SetUpdateHandler(handler UpdateHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
}

// Seed sets the initial content from a durable snapshot. It is a no-op when
// the buffer already holds any state, which makes racing seeds harmless.
func (b *TextBuffer) Seed(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.ops) > 0 || len(b.chars) > 0 || text == "" {
		return
	}

	runes := []rune(text)
	op := &Operation{
		Node:      seedNode,
		Seq:       1,
		Type:      OpInsert,
		Pos:       1,
		Chars:     make([]CharRef, len(runes)),
		Timestamp: time.Unix(0, 0).UTC(),
	}
	for i, r := range runes {
		op.Chars[i] = CharRef{
			ID:   CharID{Node: seedNode, Seq: 1, Off: i},
			Rune: r,
		}
	}
	b.applyInsert(op)
	b.ops[opKey{op.Node, op.Seq}] = op
	b.clock.Observe(op.Node, op.Seq)
}

// Insert inserts text at the given visible rune position and returns the
// encoded update for fan-out to peers.
func (b *TextBuffer) Insert(pos int, text string) ([]byte, error) {
	b.mu.Lock()

	runes := []rune(text)
	if len(runes) == 0 {
		b.mu.Unlock()
		return nil, ErrEmptyEdit
	}
	visible := b.visibleChars()
	if pos < 0 || pos > len(visible) {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: insert at %d, length %d", ErrPositionOutOfRange, pos, len(visible))
	}

	var leftKey, rightKey []PathSeg
	if pos > 0 {
		leftKey = visible[pos-1].key
	}
	if pos < len(visible) {
		rightKey = visible[pos].key
	}
	path, basePos := keyBetween(leftKey, rightKey)

	seq := b.clock.Increment(b.nodeID)
	op := &Operation{
		Node:      b.nodeID,
		Seq:       seq,
		Type:      OpInsert,
		Pos:       basePos,
		Path:      path,
		Chars:     make([]CharRef, len(runes)),
		Timestamp: time.Now().UTC(),
	}
	for i, r := range runes {
		op.Chars[i] = CharRef{
			ID:   CharID{Node: b.nodeID, Seq: seq, Off: i},
			Rune: r,
		}
	}

	b.applyInsert(op)
	b.ops[opKey{op.Node, op.Seq}] = op

	update, err := EncodeUpdate([]*Operation{op})
	handler := b.handler
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if handler != nil {
		handler(update)
	}
	return update, nil
}

// Delete removes n visible runes starting at pos and returns the encoded
// update for fan-out to peers.
func (b *TextBuffer) Delete(pos, n int) ([]byte, error) {
	b.mu.Lock()

	if n <= 0 {
		b.mu.Unlock()
		return nil, ErrEmptyEdit
	}
	visible := b.visibleChars()
	if pos < 0 || pos >= len(visible) {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: delete at %d, length %d", ErrPositionOutOfRange, pos, len(visible))
	}
	end := pos + n
	if end > len(visible) {
		end = len(visible)
	}

	seq := b.clock.Increment(b.nodeID)
	op := &Operation{
		Node:      b.nodeID,
		Seq:       seq,
		Type:      OpDelete,
		Targets:   make([]CharID, 0, end-pos),
		Timestamp: time.Now().UTC(),
	}
	for i := pos; i < end; i++ {
		op.Targets = append(op.Targets, visible[i].id)
	}

	b.applyDelete(op)
	b.ops[opKey{op.Node, op.Seq}] = op

	update, err := EncodeUpdate([]*Operation{op})
	handler := b.handler
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if handler != nil {
		handler(update)
	}
	return update, nil
}

// ApplyRemoteUpdate integrates an update received from a peer. It is
// idempotent and commutative: already-seen operations are skipped and arrival
// order does not matter. A malformed payload is rejected as a whole without
// touching buffer state.
func (b *TextBuffer) ApplyRemoteUpdate(update []byte) error {
	ops, err := DecodeUpdate(update)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, op := range ops {
		key := opKey{op.Node, op.Seq}
		if _, seen := b.ops[key]; seen {
			continue
		}
		switch op.Type {
		case OpInsert:
			b.applyInsert(op)
		case OpDelete:
			b.applyDelete(op)
		}
		b.ops[key] = op
		b.clock.Observe(op.Node, op.Seq)
	}
	return nil
}

// ComputeUpdateSince returns the encoded set of operations the holder of the
// given state vector has not yet seen, or nil when it is already caught up.
//
// A state vector records only the highest sequence observed per node, so it
// assumes each node's operations arrive without gaps. That holds here: every
// delivery path (per-connection fan-out, per-publisher relay channels, and
// this handshake itself) carries a node's operations in sequence order, and a
// consumer that falls behind is disconnected and resynced from scratch.
func (b *TextBuffer) ComputeUpdateSince(since crdt.VectorClock) ([]byte, error) {
	b.mu.RLock()
	var missing []*Operation
	for _, op := range b.ops {
		if op.Seq > since[op.Node] {
			missing = append(missing, op)
		}
	}
	b.mu.RUnlock()

	if len(missing) == 0 {
		return nil, nil
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].Node != missing[j].Node {
			return missing[i].Node < missing[j].Node
		}
		return missing[i].Seq < missing[j].Seq
	})
	return EncodeUpdate(missing)
}

// StateVector returns a copy of this replica's current state vector
func (b *TextBuffer) StateVector() crdt.VectorClock {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clock.Clone()
}

// SnapshotText flattens the buffer to plain text for persistence and for
// non-collaborative readers
func (b *TextBuffer) SnapshotText() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	visible := b.visibleChars()
	result := make([]rune, len(visible))
	for i, c := range visible {
		result[i] = c.r
	}
	return string(result)
}

// Internal methods. Callers hold b.mu.

func (b *TextBuffer) applyInsert(op *Operation) {
	for _, ref := range op.Chars {
		if _, exists := b.index[ref.ID]; exists {
			continue
		}
		key := make([]PathSeg, 0, len(op.Path)+1)
		key = append(key, op.Path...)
		key = append(key, PathSeg{Pos: op.Pos, Node: op.Node, Seq: op.Seq, Off: ref.ID.Off})
		node := charNode{
			id:  ref.ID,
			r:   ref.Rune,
			key: key,
		}
		if b.pendingDeletes[ref.ID] {
			node.deleted = true
			delete(b.pendingDeletes, ref.ID)
		}
		b.chars = append(b.chars, node)
		b.index[ref.ID] = len(b.chars) - 1
	}
}

func (b *TextBuffer) applyDelete(op *Operation) {
	for _, target := range op.Targets {
		if i, ok := b.index[target]; ok {
			b.chars[i].deleted = true
		} else {
			// Delete arrived before its insert; tombstone ahead of time
			b.pendingDeletes[target] = true
		}
	}
}

func (b *TextBuffer) visibleChars() []charNode {
	visible := make([]charNode, 0, len(b.chars))
	for _, c := range b.chars {
		if !c.deleted {
			visible = append(visible, c)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		return lessChar(visible[i], visible[j])
	})
	return visible
}

// lessChar is the total order every replica sorts by: keys compare segment by
// segment on (position, node, seq, offset), and a key that is a strict prefix
// of another sorts first
func lessChar(a, c charNode) bool {
	return compareKeys(a.key, c.key) < 0
}

func compareKeys(a, c []PathSeg) int {
	n := len(a)
	if len(c) < n {
		n = len(c)
	}
	for i := 0; i < n; i++ {
		if a[i].Pos != c[i].Pos {
			if a[i].Pos < c[i].Pos {
				return -1
			}
			return 1
		}
		if a[i].Node != c[i].Node {
			if a[i].Node < c[i].Node {
				return -1
			}
			return 1
		}
		if a[i].Seq != c[i].Seq {
			if a[i].Seq < c[i].Seq {
				return -1
			}
			return 1
		}
		if a[i].Off != c[i].Off {
			if a[i].Off < c[i].Off {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(c)
}

// keyBetween picks the ancestor path and base position for an insert between
// the characters holding leftKey and rightKey (nil means document edge). When
// the neighbors' base positions leave no gap, the insert nests under the left
// character's full key, where the prefix rule keeps it after its anchor and
// the divergence from rightKey keeps it before the right neighbor.
func keyBetween(leftKey, rightKey []PathSeg) ([]PathSeg, float64) {
	switch {
	case leftKey == nil && rightKey == nil:
		return nil, 1
	case leftKey == nil:
		return nil, rightKey[0].Pos - 1
	case rightKey == nil:
		return nil, leftKey[0].Pos + 1
	}

	mid := (leftKey[0].Pos + rightKey[0].Pos) / 2
	if leftKey[0].Pos < mid && mid < rightKey[0].Pos {
		return nil, mid
	}

	path := make([]PathSeg, len(leftKey))
	copy(path, leftKey)
	if isPrefix(leftKey, rightKey) {
		// The right neighbor already nests under the left one; slot in
		// ahead of it at the same depth.
		return path, rightKey[len(leftKey)].Pos - 1
	}
	return path, 1
}

func isPrefix(shorter, longer []PathSeg) bool {
	if len(shorter) >= len(longer) {
		return false
	}
	for i := range shorter {
		if shorter[i] != longer[i] {
			return false
		}
	}
	return true
}
