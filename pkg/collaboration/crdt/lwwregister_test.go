package crdt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLWWRegister(t *testing.T) {
	t.Run("New register has zero value", func(t *testing.T) {
		reg := NewLWWRegister[string]()
		assert.Equal(t, "", reg.Get())
	})

	t.Run("Set updates value with timestamp", func(t *testing.T) {
		reg := NewLWWRegister[string]()

		reg.Set("first value", time.Now(), "node1")
		assert.Equal(t, "first value", reg.Get())

		// Later timestamp wins
		reg.Set("second value", time.Now().Add(time.Second), "node2")
		assert.Equal(t, "second value", reg.Get())

		// Earlier timestamp is ignored
		reg.Set("third value", time.Now().Add(-time.Minute), "node3")
		assert.Equal(t, "second value", reg.Get())
	})

	t.Run("Tie-breaking with node ID", func(t *testing.T) {
		reg := NewLWWRegister[string]()
		timestamp := time.Now()

		reg.Set("value from node2", timestamp, "node2")
		reg.Set("value from node1", timestamp, "node1")

		// node2 > node1 wins the tie
		assert.Equal(t, "value from node2", reg.Get())
	})

	t.Run("Merge combines registers", func(t *testing.T) {
		reg1 := NewLWWRegister[string]()
		reg2 := NewLWWRegister[string]()

		now := time.Now()
		reg1.Set("value1", now, "node1")
		reg2.Set("value2", now.Add(time.Second), "node2")

		err := reg1.Merge(reg2)
		require.NoError(t, err)

		assert.Equal(t, "value2", reg1.Get())
	})

	t.Run("Merge rejects mismatched types", func(t *testing.T) {
		reg := NewLWWRegister[string]()
		other := NewLWWRegister[int]()

		err := reg.Merge(other)
		assert.Error(t, err)
	})

	t.Run("Merge is commutative", func(t *testing.T) {
		now := time.Now()

		regA1 := NewLWWRegister[string]()
		regA2 := NewLWWRegister[string]()
		regA1.Set("a", now, "node1")
		regA2.Set("b", now.Add(time.Second), "node2")

		regB1 := NewLWWRegister[string]()
		regB2 := NewLWWRegister[string]()
		regB1.Set("a", now, "node1")
		regB2.Set("b", now.Add(time.Second), "node2")

		require.NoError(t, regA1.Merge(regA2))
		require.NoError(t, regB2.Merge(regB1))

		assert.Equal(t, regA1.Get(), regB2.Get())
	})

	t.Run("GetWithMetadata returns writer information", func(t *testing.T) {
		reg := NewLWWRegister[string]()
		ts := time.Now()
		reg.Set("hello", ts, "node1")

		value, timestamp, node := reg.GetWithMetadata()
		assert.Equal(t, "hello", value)
		assert.True(t, timestamp.Equal(ts))
		assert.Equal(t, NodeID("node1"), node)
	})
}
