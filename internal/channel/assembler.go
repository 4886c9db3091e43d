package channel

import (
	"github.com/solstream/bus/internal/message"
	"github.com/solstream/bus/internal/metrics"
	"github.com/solstream/bus/pb"
)

// slotAssembler accumulates the messages of one slot until the block
// metadata counts match, then seals and emits the synthetic Block.
// Message indices stay meaningful across account dedup: a superseded
// write is tombstoned in place, never compacted.
type slotAssembler struct {
	slot          uint64
	sealed        bool
	failed        bool
	landed        bool
	messages      []message.ParsedMessage   // nil = tombstone
	accountsDedup map[string]accountVersion // keyed by pubkey bytes
	txCount       int
	entryCount    int
	blockMeta     *message.BlockMeta
}

type accountVersion struct {
	writeVersion uint64
	index        int
}

// sealedBlock pairs the emitted Block with the deduped staged accounts
// that must precede the triggering message in the output stream.
type sealedBlock struct {
	accounts []message.ParsedMessage
	block    *message.Block
}

func newSlotAssembler(slot uint64) *slotAssembler {
	return &slotAssembler{
		slot:          slot,
		messages:      make([]message.ParsedMessage, 0, 1024),
		accountsDedup: make(map[string]accountVersion),
	}
}

// ingest stores one message and attempts to seal. stagedAccounts points at
// the multi-feed staging queue of the arriving feed; on seal its contents
// join the block and are drained for emission ahead of the trigger.
func (a *slotAssembler) ingest(msg message.ParsedMessage, stagedAccounts *[]message.ParsedMessage, m *metrics.Metrics) *sealedBlock {
	if slot, ok := msg.(*message.Slot); ok {
		switch slot.Status() {
		case pb.SlotStatusConfirmed, pb.SlotStatusFinalized:
			a.landed = true
		}
	}

	// everything after the seal is a structural anomaly, reported once
	if a.sealed {
		if !a.failed {
			a.failed = true
			switch msg.(type) {
			case *message.Account:
				m.BlockAssemblyFailed.WithLabelValues(metrics.ReasonExtraAccount).Inc()
			case *message.Transaction:
				m.BlockAssemblyFailed.WithLabelValues(metrics.ReasonExtraTransaction).Inc()
			case *message.Entry:
				m.BlockAssemblyFailed.WithLabelValues(metrics.ReasonExtraEntry).Inc()
			case *message.BlockMeta:
				m.BlockAssemblyFailed.WithLabelValues(metrics.ReasonExtraBlockMeta).Inc()
			}
		}
		return nil
	}

	switch msg := msg.(type) {
	case *message.Slot:
		// status transitions are not part of the block body
	case *message.Account:
		idx := len(a.messages)
		a.messages = append(a.messages, msg)
		key := string(msg.Pubkey())
		if entry, ok := a.accountsDedup[key]; ok {
			if entry.writeVersion < msg.WriteVersion() {
				a.messages[entry.index] = nil
				a.accountsDedup[key] = accountVersion{msg.WriteVersion(), idx}
			} else {
				a.messages[idx] = nil
			}
		} else {
			a.accountsDedup[key] = accountVersion{msg.WriteVersion(), idx}
		}
	case *message.Transaction:
		a.messages = append(a.messages, msg)
		a.txCount++
	case *message.Entry:
		a.messages = append(a.messages, msg)
		a.entryCount++
	case *message.BlockMeta:
		a.messages = append(a.messages, msg)
		a.blockMeta = msg
	case *message.Block:
		panic("channel: block message ingested into assembler")
	}

	return a.trySeal(stagedAccounts)
}

func (a *slotAssembler) trySeal(stagedAccounts *[]message.ParsedMessage) *sealedBlock {
	if a.blockMeta == nil ||
		int(a.blockMeta.ExecutedTransactionCount()) != a.txCount ||
		int(a.blockMeta.EntryCount()) != a.entryCount {
		return nil
	}
	a.sealed = true

	if stagedAccounts != nil {
		for _, msg := range *stagedAccounts {
			a.messages = append(a.messages, msg)
		}
	}

	var (
		accounts     []*message.Account
		transactions []*message.Transaction
		entries      []*message.Entry
	)
	for _, item := range a.messages {
		switch item := item.(type) {
		case *message.Account:
			accounts = append(accounts, item)
		case *message.Transaction:
			transactions = append(transactions, item)
		case *message.Entry:
			entries = append(entries, item)
		}
	}
	block := message.NewBlock(accounts, transactions, entries, a.blockMeta)
	a.messages = append(a.messages, block)

	sb := &sealedBlock{block: block}
	if stagedAccounts != nil {
		sb.accounts = *stagedAccounts
		*stagedAccounts = nil
	}
	return sb
}

// live yields the non-tombstoned messages in ingest order.
func (a *slotAssembler) live(fn func(message.ParsedMessage)) {
	for _, item := range a.messages {
		if item != nil {
			fn(item)
		}
	}
}

// drain hands out the live messages and leaves the assembler empty.
func (a *slotAssembler) drain(fn func(message.ParsedMessage)) {
	a.live(fn)
	a.messages = nil
}

// finish reports the slots that landed in consensus but never produced a
// Block. Slots that silently disappear without landing were skipped by
// the cluster and are not anomalies.
func (a *slotAssembler) finish(m *metrics.Metrics) {
	if a.sealed || a.failed || !a.landed {
		return
	}
	if a.blockMeta == nil {
		m.BlockAssemblyFailed.WithLabelValues(metrics.ReasonMissedBlockMeta).Inc()
		return
	}
	if int(a.blockMeta.ExecutedTransactionCount()) != a.txCount {
		m.BlockAssemblyFailed.WithLabelValues(metrics.ReasonMismatchTransactions).Inc()
	}
	if int(a.blockMeta.EntryCount()) != a.entryCount {
		m.BlockAssemblyFailed.WithLabelValues(metrics.ReasonMismatchEntries).Inc()
	}
}
