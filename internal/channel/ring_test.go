package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextPowerOfTwo(t *testing.T) {
	assert.Equal(t, 1, nextPowerOfTwo(0))
	assert.Equal(t, 1, nextPowerOfTwo(1))
	assert.Equal(t, 2, nextPowerOfTwo(2))
	assert.Equal(t, 4, nextPowerOfTwo(3))
	assert.Equal(t, 1024, nextPowerOfTwo(1000))
	assert.Equal(t, 1024, nextPowerOfTwo(1024))
}

func TestRingInitialState(t *testing.T) {
	r := newRing(5)
	require.Len(t, r.cells, 8)
	assert.Equal(t, uint64(7), r.mask)
	assert.Equal(t, uint64(8), r.tail.Load())
	for i := range r.cells {
		assert.Equal(t, uint64(i), r.cells[i].pos)
		assert.Nil(t, r.cells[i].data)
	}
}

func TestSlotIndexOrdering(t *testing.T) {
	idx := newSlotIndex()
	idx.insertIfAbsent(10, 100)
	idx.insertIfAbsent(11, 104)
	idx.insertIfAbsent(12, 108)

	// first-write-wins
	idx.insertIfAbsent(10, 999)
	head, ok := idx.get(10)
	require.True(t, ok)
	assert.Equal(t, uint64(100), head)

	minSlot, ok := idx.min()
	require.True(t, ok)
	assert.Equal(t, uint64(10), minSlot)

	idx.removeUpTo(11)
	minSlot, ok = idx.min()
	require.True(t, ok)
	assert.Equal(t, uint64(12), minSlot)
	assert.Equal(t, 1, idx.len())

	// a pruned slot can reappear when a late message lands
	idx.insertIfAbsent(11, 200)
	minSlot, ok = idx.min()
	require.True(t, ok)
	assert.Equal(t, uint64(11), minSlot)

	idx.removeUpTo(12)
	_, ok = idx.min()
	assert.False(t, ok)
}

func TestWakeClearsWakers(t *testing.T) {
	r := newRing(4)
	ch := make(chan struct{}, 1)
	r.addWaker(ch)
	r.wake()
	select {
	case <-ch:
	default:
		t.Fatal("waker not signalled")
	}
	r.mu.Lock()
	assert.Empty(t, r.wakers)
	r.mu.Unlock()
}
