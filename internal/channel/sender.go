// Package channel implements the multi-commitment fan-out bus: one
// bounded ring per commitment level written by a single sender and read
// by many lagging subscribers, with per-slot block assembly and
// multi-feed deduplication on the ingest path.
package channel

import (
	"log/slog"

	"github.com/solstream/bus/internal/message"
	"github.com/solstream/bus/internal/metrics"
	"github.com/solstream/bus/pb"
)

// Config carries the core-relevant channel options.
type Config struct {
	// MaxMessages is the ring capacity, rounded up to a power of two.
	MaxMessages int
	// MaxBytes is the payload byte budget per ring.
	MaxBytes int
	// Confirmed and Finalized enable the respective re-publication rings.
	Confirmed bool
	Finalized bool
}

// Messages owns the rings and hands out the single sender and any number
// of receivers.
type Messages struct {
	processed   *ring
	confirmed   *ring
	finalized   *ring
	maxMessages int
	maxBytes    int
	metrics     *metrics.Metrics
	log         *slog.Logger
}

func New(cfg Config, m *metrics.Metrics, log *slog.Logger) *Messages {
	if m == nil {
		m = metrics.New(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	maxMessages := nextPowerOfTwo(cfg.MaxMessages)
	ms := &Messages{
		processed:   newRing(maxMessages),
		maxMessages: maxMessages,
		maxBytes:    cfg.MaxBytes,
		metrics:     m,
		log:         log.With("component", "channel"),
	}
	if cfg.Confirmed {
		ms.confirmed = newRing(maxMessages)
	}
	if cfg.Finalized {
		ms.finalized = newRing(maxMessages)
	}
	return ms
}

func (ms *Messages) sharedFor(c pb.CommitmentLevel) *ring {
	switch c {
	case pb.CommitmentProcessed:
		return ms.processed
	case pb.CommitmentConfirmed:
		return ms.confirmed
	case pb.CommitmentFinalized:
		return ms.finalized
	}
	return nil
}

// NewSender builds the single-writer handle. Push is not safe for
// concurrent use: ingest must serialise through one goroutine.
func (ms *Messages) NewSender() *Sender {
	s := &Sender{
		messages:  ms,
		slots:     make(map[uint64]*slotAssembler),
		dedup:     make(map[uint64]*dedupState),
		tracks:    make(map[uint64]*slotTrack),
		processed: newRingWriter(ms.processed, ms.maxBytes),
		metrics:   ms.metrics,
		log:       ms.log,
	}
	if ms.confirmed != nil {
		s.confirmed = newRingWriter(ms.confirmed, ms.maxBytes)
	}
	if ms.finalized != nil {
		s.finalized = newRingWriter(ms.finalized, ms.maxBytes)
	}
	return s
}

// Close announces producer shutdown: every parked or future receiver
// gets ErrClosed.
func (ms *Messages) Close() {
	ms.processed.close()
	if ms.confirmed != nil {
		ms.confirmed.close()
	}
	if ms.finalized != nil {
		ms.finalized.close()
	}
}

// FirstAvailableSlot is the oldest slot replayable from the processed
// ring, reported only when it is also replayable from every other enabled
// ring; otherwise ok is false.
func (ms *Messages) FirstAvailableSlot() (uint64, bool) {
	ms.processed.mu.Lock()
	slot, ok := ms.processed.slots.min()
	ms.processed.mu.Unlock()
	if !ok {
		return 0, false
	}
	for _, r := range []*ring{ms.confirmed, ms.finalized} {
		if r == nil {
			continue
		}
		r.mu.Lock()
		_, resident := r.slots.get(slot)
		r.mu.Unlock()
		if !resident {
			return 0, false
		}
	}
	return slot, true
}

// Feed identifies one of the redundant upstream streams feeding the bus.
type Feed struct {
	Index        int
	StreamsTotal int
}

// slotTrack remembers per-slot parent links and the commitment statuses
// already delivered, to back-fill upstream gaps.
type slotTrack struct {
	parent    uint64
	hasParent bool
	confirmed bool
	finalized bool
}

// Sender is the single logical writer of the bus. It routes every
// incoming message through dedup (multi-feed mode) and slot assembly,
// then fans the resulting sequence out to the commitment rings.
type Sender struct {
	messages      *Messages
	slots         map[uint64]*slotAssembler
	dedup         map[uint64]*dedupState
	tracks        map[uint64]*slotTrack
	finalizedSlot uint64
	processed     *ringWriter
	confirmed     *ringWriter
	finalized     *ringWriter
	slotConfirmed uint64
	slotFinalized uint64
	metrics       *metrics.Metrics
	log           *slog.Logger
}

// Push ingests one captured event. feed is nil in single-feed mode; in
// multi-feed mode it names the arriving stream and the total stream
// count. Push never blocks on subscribers.
func (s *Sender) Push(msg message.ParsedMessage, feed *Feed) {
	if slotMsg, ok := msg.(*message.Slot); ok {
		s.fillSlotGaps(slotMsg, feed)
	}
	s.pushOne(msg, feed)

	if slotMsg, ok := msg.(*message.Slot); ok && slotMsg.Status() == pb.SlotStatusFinalized {
		for k := range s.tracks {
			if k <= slotMsg.Slot() {
				delete(s.tracks, k)
			}
		}
	}

	s.processed.wakeIfDirty()
	if s.confirmed != nil {
		s.confirmed.wakeIfDirty()
	}
	if s.finalized != nil {
		s.finalized.wakeIfDirty()
	}
}

func (s *Sender) track(slot uint64) *slotTrack {
	t := s.tracks[slot]
	if t == nil {
		t = &slotTrack{}
		s.tracks[slot] = t
	}
	return t
}

// fillSlotGaps synthesises the status transitions an upstream gap
// swallowed. When a commitment status arrives it walks the recorded
// parent links and back-fills the same status for ancestors that never
// received it, oldest first; a Finalized status additionally gets the
// missing Confirmed for its slot synthesised ahead of it.
func (s *Sender) fillSlotGaps(msg *message.Slot, feed *Feed) {
	t := s.track(msg.Slot())
	if p := msg.Parent(); p != nil {
		t.parent = *p
		t.hasParent = true
	}

	status := msg.Status()
	if status != pb.SlotStatusConfirmed && status != pb.SlotStatusFinalized {
		return
	}

	// ancestors that missed this status, deepest last
	var missed []uint64
	cur := t
	for cur.hasParent {
		pt := s.tracks[cur.parent]
		if pt == nil {
			break
		}
		done := pt.confirmed
		if status == pb.SlotStatusFinalized {
			done = pt.finalized
		}
		if done {
			break
		}
		missed = append(missed, cur.parent)
		cur = pt
	}

	for i := len(missed) - 1; i >= 0; i-- {
		s.synthesiseStatus(missed[i], status, msg, feed)
	}
	if status == pb.SlotStatusFinalized && !t.confirmed {
		s.synthesiseStatus(msg.Slot(), pb.SlotStatusConfirmed, msg, feed)
	}

	switch status {
	case pb.SlotStatusConfirmed:
		t.confirmed = true
	case pb.SlotStatusFinalized:
		t.finalized = true
	}
}

// synthesiseStatus pushes one back-filled status transition. A Finalized
// back-fill implies the slot's Confirmed as well.
func (s *Sender) synthesiseStatus(slot uint64, status pb.SlotStatus, trigger *message.Slot, feed *Feed) {
	t := s.track(slot)
	if status == pb.SlotStatusFinalized && !t.confirmed {
		s.synthesiseStatus(slot, pb.SlotStatusConfirmed, trigger, feed)
	}

	upd := &pb.SubscribeUpdateSlot{Slot: slot, Status: status}
	if t.hasParent {
		parent := t.parent
		upd.Parent = &parent
	}
	switch status {
	case pb.SlotStatusConfirmed:
		t.confirmed = true
	case pb.SlotStatusFinalized:
		t.finalized = true
	}

	s.log.Error("missed slot status update", "slot", slot, "status", status.String())
	s.metrics.MissedSlotStatus.WithLabelValues(status.String()).Inc()
	s.pushOne(message.NewSlot(upd, trigger.CreatedAt()), feed)
}

func (s *Sender) pushOne(msg message.ParsedMessage, feed *Feed) {
	slot := msg.Slot()

	var (
		outputs []message.ParsedMessage
		d       *dedupState
		feedIdx = -1
	)
	if feed != nil {
		// finalized slots are sealed; their dedup state is gone
		if slot <= s.finalizedSlot {
			return
		}

		if slotMsg, ok := msg.(*message.Slot); ok && slotMsg.Status() == pb.SlotStatusFinalized {
			s.finalizedSlot = slot
			for k := range s.dedup {
				if k < slot {
					delete(s.dedup, k)
				}
			}
		}

		d = s.dedup[slot]
		if d == nil {
			d = newDedupState(feed.StreamsTotal)
			s.dedup[slot] = d
		}
		feedIdx = feed.Index
		outputs = d.filter(msg, feedIdx)
	} else {
		outputs = []message.ParsedMessage{msg}
	}

	for _, out := range outputs {
		asm := s.slots[slot]
		if asm == nil {
			asm = newSlotAssembler(slot)
			s.slots[slot] = asm
		}
		var phantom *[]message.ParsedMessage
		if d != nil {
			phantom = d.phantom(feedIdx)
		}
		sb := asm.ingest(out, phantom, s.metrics)
		if d != nil && sb != nil {
			d.blockFeed = feedIdx
		}

		seq := make([]message.ParsedMessage, 0, 2)
		if sb != nil {
			seq = append(seq, sb.accounts...)
		}
		seq = append(seq, out)
		if sb != nil {
			seq = append(seq, sb.block)
		}

		for _, item := range seq {
			s.routeOne(slot, item)
		}
	}
}

// routeOne fans a single message out to the commitment rings, handling
// the commitment transitions embedded in Slot messages.
func (s *Sender) routeOne(slot uint64, item message.ParsedMessage) {
	if slotMsg, ok := item.(*message.Slot); ok {
		if commitment, ok := slotMsg.Commitment(); ok {
			s.metrics.ChannelSlot.WithLabelValues(commitment.String()).Set(float64(slot))
		}

		switch slotMsg.Status() {
		case pb.SlotStatusProcessed:
			s.metrics.ChannelMessagesTotal.Set(float64(s.processed.tail - s.processed.head))
			s.metrics.ChannelSlotsTotal.Set(float64(s.messages.processed.slotsLen()))
			s.metrics.ChannelBytesTotal.Set(float64(s.processed.bytesTotal))
			s.log.Debug("new processed slot",
				"slot", slot,
				"messages", s.processed.tail-s.processed.head,
				"bytes", s.processed.bytesTotal)

		case pb.SlotStatusConfirmed:
			s.slotConfirmed = slot
			if s.confirmed != nil {
				if asm := s.slots[slot]; asm != nil {
					asm.live(func(m message.ParsedMessage) {
						s.confirmed.push(slot, m)
					})
				}
			}

		case pb.SlotStatusFinalized:
			s.slotFinalized = slot
			if s.finalized != nil {
				if asm := s.slots[slot]; asm != nil {
					asm.drain(func(m message.ParsedMessage) {
						s.finalized.push(slot, m)
					})
				}
			}
			for k, asm := range s.slots {
				if k <= slot {
					asm.finish(s.metrics)
					delete(s.slots, k)
				}
			}
		}
	}

	// late messages for already-committed slots follow into the
	// commitment rings
	if slot <= s.slotConfirmed && s.confirmed != nil {
		s.confirmed.push(slot, item)
	}
	if slot <= s.slotFinalized && s.finalized != nil {
		s.finalized.push(slot, item)
	}
	s.processed.push(slot, item)
}
