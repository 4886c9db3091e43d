package channel

import (
	"github.com/solstream/bus/internal/message"
	"github.com/solstream/bus/pb"
)

// sigPubkeyKey dedups account writes across feeds: the same (transaction
// signature, pubkey) pair never passes twice.
type sigPubkeyKey struct {
	signature [64]byte
	pubkey    [32]byte
}

func newSigPubkeyKey(msg *message.Account) (sigPubkeyKey, bool) {
	sig := msg.TxnSignature()
	if len(sig) != 64 || len(msg.Pubkey()) != 32 {
		return sigPubkeyKey{}, false
	}
	var key sigPubkeyKey
	copy(key.signature[:], sig)
	copy(key.pubkey[:], msg.Pubkey())
	return key, true
}

// txEntry is the per-signature state: either the transaction's index has
// been seen, or accounts are staged waiting for it.
type txEntry struct {
	hasIndex bool
	index    uint64
	staged   []*message.Account
}

// dedupState is the per-slot bookkeeping shared across the redundant
// upstream feeds.
type dedupState struct {
	// seen slot statuses, indexed by status ordinal
	slots [pb.NumSlotStatuses]bool

	// per-feed staging for accounts that carry no transaction signature;
	// they surface only through the winning feed's block assembly
	accountsPhantom [][]message.ParsedMessage

	accountsTransactions map[sigPubkeyKey]struct{}
	transactions         map[[64]byte]*txEntry
	entries              []bool
	blockMeta            bool

	// feed whose messages produced the Block for this slot; -1 until known
	blockFeed int
}

func newDedupState(streamsTotal int) *dedupState {
	return &dedupState{
		accountsPhantom:      make([][]message.ParsedMessage, streamsTotal),
		accountsTransactions: make(map[sigPubkeyKey]struct{}, 8192),
		transactions:         make(map[[64]byte]*txEntry, 8192),
		entries:              make([]bool, 256),
		blockFeed:            -1,
	}
}

// filter applies the multi-feed rules to one arriving message and returns
// the messages that pass, in emission order. A transaction's first sight
// flushes its staged accounts ahead of it with their write versions
// rewritten to the transaction index, so account writes land before the
// transaction that produced them.
func (d *dedupState) filter(msg message.ParsedMessage, feedIndex int) []message.ParsedMessage {
	var out []message.ParsedMessage

	switch msg := msg.(type) {
	case *message.Slot:
		idx := int(msg.Status())
		if idx >= 0 && idx < len(d.slots) && !d.slots[idx] {
			d.slots[idx] = true
			out = append(out, msg)
		}

	case *message.Account:
		key, ok := newSigPubkeyKey(msg)
		if !ok {
			// no transaction signature: these only surface through block
			// assembly. Once a feed has won the block, stray copies from
			// the other feeds go to the assembler, which records them as
			// anomalies against the sealed slot.
			if d.blockFeed >= 0 && d.blockFeed != feedIndex {
				out = append(out, msg)
			} else {
				d.accountsPhantom[feedIndex] = append(d.accountsPhantom[feedIndex], msg)
			}
			return out
		}
		if _, seen := d.accountsTransactions[key]; seen {
			return nil
		}
		d.accountsTransactions[key] = struct{}{}
		entry, ok := d.transactions[key.signature]
		if !ok {
			d.transactions[key.signature] = &txEntry{staged: []*message.Account{msg}}
			return nil
		}
		if entry.hasIndex {
			out = append(out, msg.WithWriteVersion(entry.index))
		} else {
			entry.staged = append(entry.staged, msg)
		}

	case *message.Transaction:
		var sig [64]byte
		copy(sig[:], msg.Signature())
		entry, ok := d.transactions[sig]
		if !ok {
			d.transactions[sig] = &txEntry{hasIndex: true, index: msg.Index()}
			out = append(out, msg)
			return out
		}
		if !entry.hasIndex {
			for _, staged := range entry.staged {
				out = append(out, staged.WithWriteVersion(msg.Index()))
			}
			entry.staged = nil
			entry.hasIndex = true
			entry.index = msg.Index()
			out = append(out, msg)
		}
		// a second sight of the signature is a duplicate, dropped

	case *message.Entry:
		idx := int(msg.Index())
		for len(d.entries) <= idx {
			d.entries = append(d.entries, make([]bool, len(d.entries))...)
		}
		if !d.entries[idx] {
			d.entries[idx] = true
			out = append(out, msg)
		}

	case *message.BlockMeta:
		if !d.blockMeta {
			d.blockMeta = true
			out = append(out, msg)
		}

	case *message.Block:
		panic("channel: block message reached multi-stream dedup")
	}

	return out
}

// phantom returns the signature-less staging queue of a feed for the
// assembler to absorb on seal.
func (d *dedupState) phantom(feedIndex int) *[]message.ParsedMessage {
	return &d.accountsPhantom[feedIndex]
}
