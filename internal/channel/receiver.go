package channel

import (
	"context"

	"github.com/solstream/bus/internal/message"
	"github.com/solstream/bus/pb"
)

// Subscribe opens a lagging read cursor on the ring of the given
// commitment level. With replayFromSlot set, the cursor starts at that
// slot's head position if the slot is still fully resident; otherwise the
// oldest replayable slot is reported. With replayFromSlot nil the cursor
// starts at the current tail.
func (ms *Messages) Subscribe(commitment pb.CommitmentLevel, replayFromSlot *uint64, filter *pb.SubscribeRequestFilter) (*Receiver, error) {
	shared := ms.sharedFor(commitment)
	if shared == nil {
		return nil, ErrNotInitialized
	}
	if shared.closed.Load() {
		return nil, ErrClosed
	}

	var head uint64
	if replayFromSlot != nil {
		shared.mu.Lock()
		h, ok := shared.slots.get(*replayFromSlot)
		if !ok {
			first, any := shared.slots.min()
			shared.mu.Unlock()
			if !any {
				return nil, ErrNotInitialized
			}
			return nil, &SlotNotAvailableError{FirstAvailable: first}
		}
		shared.mu.Unlock()
		head = h
	} else {
		head = shared.tail.Load()
	}

	if filter == nil {
		filter = &pb.SubscribeRequestFilter{}
	}
	return &Receiver{
		shared:             shared,
		head:               head,
		enableAccounts:     !filter.DisableAccounts,
		enableTransactions: !filter.DisableTransactions,
		enableEntries:      !filter.DisableEntries,
	}, nil
}

// Receiver is one subscriber's cursor. It is not safe for concurrent use.
type Receiver struct {
	shared             *ring
	head               uint64
	finished           bool
	enableAccounts     bool
	enableTransactions bool
	enableEntries      bool
}

// passes applies the subscription filter. Filtered messages still advance
// the cursor.
func (r *Receiver) passes(msg message.ParsedMessage) bool {
	switch msg.(type) {
	case *message.Account:
		return r.enableAccounts
	case *message.Transaction:
		return r.enableTransactions
	case *message.Entry:
		return r.enableEntries
	}
	return true
}

// tryNext scans forward without blocking. It returns nil with a nil error
// when the cursor is caught up.
func (r *Receiver) tryNext() (message.ParsedMessage, error) {
	tail := r.shared.tail.Load()
	for r.head <= tail {
		c := &r.shared.cells[r.shared.idx(r.head)]
		c.mu.RLock()
		pos := c.pos
		data := c.data
		c.mu.RUnlock()

		if pos != r.head {
			// pristine pre-seeded cell: nothing has been published at this
			// position yet, the cursor is merely caught up with the
			// initial tail offset
			if data == nil && pos+uint64(len(r.shared.cells)) == r.head {
				return nil, nil
			}
			return nil, ErrLagged
		}
		if data == nil {
			// evicted between the tail observation and the read
			return nil, ErrLagged
		}
		r.head++
		if !r.passes(data) {
			continue
		}
		return data, nil
	}
	return nil, nil
}

// NextMessage blocks until the next message passing the filter is
// available, the ring closes, or ctx is cancelled. ErrLagged and
// ErrClosed are terminal.
func (r *Receiver) NextMessage(ctx context.Context) (message.ParsedMessage, error) {
	if r.finished {
		return nil, ErrClosed
	}
	wake := make(chan struct{}, 1)
	registered := false
	for {
		// closed is read before the scan, so everything published before
		// the close is delivered first
		closed := r.shared.closed.Load()
		msg, err := r.tryNext()
		if err != nil {
			r.finished = true
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
		if closed {
			r.finished = true
			return nil, ErrClosed
		}

		// park: register first, then scan once more so a push racing
		// with registration cannot strand the cursor
		if !registered {
			r.shared.addWaker(wake)
			registered = true
			continue
		}
		registered = false
		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Next yields the next message as an encoded SubscribeUpdate frame.
func (r *Receiver) Next(ctx context.Context) ([]byte, error) {
	msg, err := r.NextMessage(ctx)
	if err != nil {
		return nil, err
	}
	return msg.Encode(nil), nil
}
