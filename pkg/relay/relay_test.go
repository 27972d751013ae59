package relay

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maheshalyana/letterflow/pkg/observability"
)

func newTestRelay(t *testing.T, mr *miniredis.Miniredis) *Relay {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
}

func TestRelayDeliversToOtherInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	publisher := newTestRelay(t, mr)
	subscriber := newTestRelay(t, mr)

	ctx := context.Background()
	received := make(chan []byte, 1)

	cancel, err := subscriber.Subscribe(ctx, "doc1", func(update []byte) {
		received <- update
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, publisher.Publish(ctx, "doc1", []byte("update-bytes")))

	select {
	case update := <-received:
		assert.Equal(t, []byte("update-bytes"), update)
	case <-time.After(2 * time.Second):
		t.Fatal("update was not delivered")
	}
}

func TestRelaySkipsOwnMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	r := newTestRelay(t, mr)

	ctx := context.Background()
	received := make(chan []byte, 1)

	cancel, err := r.Subscribe(ctx, "doc1", func(update []byte) {
		received <- update
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, r.Publish(ctx, "doc1", []byte("self")))

	select {
	case <-received:
		t.Fatal("instance received its own update")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRelayIsolatesDocuments(t *testing.T) {
	mr := miniredis.RunT(t)
	publisher := newTestRelay(t, mr)
	subscriber := newTestRelay(t, mr)

	ctx := context.Background()
	received := make(chan []byte, 1)

	cancel, err := subscriber.Subscribe(ctx, "doc1", func(update []byte) {
		received <- update
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, publisher.Publish(ctx, "doc2", []byte("other-doc")))

	select {
	case <-received:
		t.Fatal("update for another document was delivered")
	case <-time.After(200 * time.Millisecond):
	}
}
