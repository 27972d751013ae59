// Package websocket implements the realtime collaboration gateway: the
// connection lifecycle, the per-document session registry, presence
// tracking, and the snapshot sweeper.
package websocket

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/maheshalyana/letterflow/pkg/auth"
	"github.com/maheshalyana/letterflow/pkg/collaboration/crdt"
	"github.com/maheshalyana/letterflow/pkg/models"
)

// SnapshotStore persists document snapshots. Implemented by pkg/database.
type SnapshotStore interface {
	ReadSnapshot(ctx context.Context, documentID string) (*models.Snapshot, error)
	WriteSnapshot(ctx context.Context, documentID, content string, modified time.Time) error
}

// Authorizer resolves a token into an access decision for a document.
// Implemented by pkg/auth.Service.
type Authorizer interface {
	Authorize(ctx context.Context, documentID, token string) (*auth.Decision, error)
}

// UpdateRelay distributes buffer updates to other server instances.
// Implemented by pkg/relay.Relay; nil means single-instance operation.
type UpdateRelay interface {
	Publish(ctx context.Context, documentID string, update []byte) error
	Subscribe(ctx context.Context, documentID string, handler func(update []byte)) (func(), error)
}

var (
	ErrChannelFull      = errors.New("send channel full")
	ErrSessionDestroyed = errors.New("session destroyed")
)

// participantPalette is cycled through for clients that connect without a
// cursor color.
var participantPalette = []string{
	"#30bced",
	"#6eeb83",
	"#ffbc42",
	"#ecd444",
	"#ee6352",
	"#9ac2c9",
	"#8acb88",
	"#1be7ff",
}

func paletteColor(participantID string) string {
	var sum int
	for _, r := range participantID {
		sum += int(r)
	}
	return participantPalette[sum%len(participantPalette)]
}

// toWireVector converts a vector clock to the JSON protocol representation.
func toWireVector(vc crdt.VectorClock) map[string]uint64 {
	out := make(map[string]uint64, len(vc))
	for node, seq := range vc {
		out[string(node)] = seq
	}
	return out
}

func fromWireVector(wire map[string]uint64) crdt.VectorClock {
	vc := crdt.NewVectorClock()
	for node, seq := range wire {
		vc[crdt.NodeID(node)] = seq
	}
	return vc
}
