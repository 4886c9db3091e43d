package channel

import (
	"github.com/solstream/bus/internal/message"
)

// ringWriter is the single-writer facade over a ring. It owns the private
// head/tail cursors and the byte budget; the ring's atomic tail is only
// ever advanced from here.
type ringWriter struct {
	ring       *ring
	head       uint64
	tail       uint64
	bytesTotal int
	bytesMax   int
	dirty      bool // pushed to in the current batch, needs a wake
}

func newRingWriter(r *ring, bytesMax int) *ringWriter {
	capacity := uint64(len(r.cells))
	return &ringWriter{
		ring:     r,
		head:     capacity,
		tail:     capacity,
		bytesMax: bytesMax,
	}
}

// push appends one message, evicting from the head as needed to honour
// the byte budget and to reclaim the lapped cell. The tail publish is the
// last write; readers racing with it detect overwrites via cell.pos.
func (w *ringWriter) push(slot uint64, msg message.ParsedMessage) {
	r := w.ring
	r.mu.Lock()
	defer r.mu.Unlock()

	removedMaxSlot := uint64(0)
	removedAny := false

	// drop messages by extra bytes
	w.bytesTotal += msg.Size()
	for w.bytesTotal >= w.bytesMax && w.head < w.tail {
		idx := r.idx(w.head)
		c := &r.cells[idx]
		c.mu.Lock()
		evicted := c.data
		c.data = nil
		evictedSlot := c.slot
		c.mu.Unlock()
		if evicted == nil {
			panic("channel: empty cell under byte budget eviction")
		}
		w.head++
		w.bytesTotal -= evicted.Size()
		if !removedAny || evictedSlot > removedMaxSlot {
			removedAny = true
			removedMaxSlot = evictedSlot
		}
	}

	// bump current tail
	pos := w.tail
	w.tail++

	idx := r.idx(pos)
	c := &r.cells[idx]
	c.mu.Lock()

	// drop the lapped message
	if c.data != nil {
		w.head++
		w.bytesTotal -= c.data.Size()
		if !removedAny || c.slot > removedMaxSlot {
			removedAny = true
			removedMaxSlot = c.slot
		}
	}

	c.pos = pos
	c.slot = slot
	c.data = msg
	c.mu.Unlock()

	// publish; this is the last write of the push
	r.tail.Store(pos)
	w.dirty = true

	// first-write-wins head entry for the slot
	r.slots.insertIfAbsent(slot, pos)

	// evicted slots are no longer fully resident
	if removedAny {
		r.slots.removeUpTo(removedMaxSlot)
	}
}

// wakeIfDirty wakes the ring's parked readers once per push batch.
func (w *ringWriter) wakeIfDirty() {
	if !w.dirty {
		return
	}
	w.dirty = false
	w.ring.wake()
}
