package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrLagged means the subscriber's cursor fell behind eviction. It is
	// terminal for the session; the caller may resubscribe.
	ErrLagged = errors.New("channel: subscriber lagged behind eviction")

	// ErrClosed means the selected ring was shut down by the producer.
	ErrClosed = errors.New("channel: closed")

	// ErrNotInitialized means the requested commitment ring is not enabled
	// or holds no replayable slots yet.
	ErrNotInitialized = errors.New("channel: not initialized")
)

// SlotNotAvailableError rejects a replay request for a slot that is no
// longer (or not yet) fully resident in the ring.
type SlotNotAvailableError struct {
	FirstAvailable uint64
}

func (e *SlotNotAvailableError) Error() string {
	return fmt.Sprintf("channel: slot not available, first available slot is %d", e.FirstAvailable)
}
