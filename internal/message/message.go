// Package message defines the parsed update variants that flow through the
// channel. The variant set is closed: fan-out code dispatches on the
// concrete type, never through capability interfaces. Payloads are shared
// by pointer between ring cells, assemblers and subscriber buffers.
package message

import (
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/solstream/bus/pb"
)

// Kind discriminates the closed variant set.
type Kind int

const (
	KindSlot Kind = iota
	KindAccount
	KindTransaction
	KindEntry
	KindBlockMeta
	KindBlock
)

func (k Kind) String() string {
	switch k {
	case KindSlot:
		return "slot"
	case KindAccount:
		return "account"
	case KindTransaction:
		return "transaction"
	case KindEntry:
		return "entry"
	case KindBlockMeta:
		return "block_meta"
	case KindBlock:
		return "block"
	}
	return "unknown"
}

// ParsedMessage is the closed sum of update variants.
type ParsedMessage interface {
	// Slot is the slot number the update belongs to.
	Slot() uint64
	// Size is the encoded byte cost, used for the ring byte budget.
	Size() int
	Kind() Kind
	// CreatedAt is the upstream capture timestamp.
	CreatedAt() *timestamppb.Timestamp
	// Encode produces the outbound SubscribeUpdate frame.
	Encode(filters []string) []byte

	sealed()
}

type base struct {
	createdAt *timestamppb.Timestamp
	size      int
}

func (b *base) CreatedAt() *timestamppb.Timestamp { return b.createdAt }
func (b *base) Size() int                         { return b.size }
func (b *base) sealed()                           {}

func encodeUpdate(u *pb.SubscribeUpdate, filters []string, createdAt *timestamppb.Timestamp) []byte {
	u.Filters = filters
	u.CreatedAt = createdAt
	return u.MarshalAppend(make([]byte, 0, u.Size()))
}

// Slot is a slot status transition.
type Slot struct {
	base
	pb *pb.SubscribeUpdateSlot
}

func NewSlot(upd *pb.SubscribeUpdateSlot, createdAt *timestamppb.Timestamp) *Slot {
	m := &Slot{pb: upd}
	m.createdAt = createdAt
	m.size = upd.Size()
	return m
}

func (m *Slot) Slot() uint64          { return m.pb.Slot }
func (m *Slot) Kind() Kind            { return KindSlot }
func (m *Slot) Status() pb.SlotStatus { return m.pb.Status }
func (m *Slot) Parent() *uint64       { return m.pb.Parent }
func (m *Slot) DeadError() string     { return m.pb.DeadError }

func (m *Slot) Encode(filters []string) []byte {
	return encodeUpdate(&pb.SubscribeUpdate{Slot: m.pb}, filters, m.createdAt)
}

// Commitment maps the commitment-bearing statuses; ok is false for the
// intermediate statuses.
func (m *Slot) Commitment() (pb.CommitmentLevel, bool) {
	switch m.pb.Status {
	case pb.SlotStatusProcessed:
		return pb.CommitmentProcessed, true
	case pb.SlotStatusConfirmed:
		return pb.CommitmentConfirmed, true
	case pb.SlotStatusFinalized:
		return pb.CommitmentFinalized, true
	}
	return 0, false
}

// Account is a single account write.
type Account struct {
	base
	pb *pb.SubscribeUpdateAccount
}

func NewAccount(upd *pb.SubscribeUpdateAccount, createdAt *timestamppb.Timestamp) *Account {
	m := &Account{pb: upd}
	m.createdAt = createdAt
	m.size = upd.Size()
	return m
}

func (m *Account) Slot() uint64         { return m.pb.Slot }
func (m *Account) Kind() Kind           { return KindAccount }
func (m *Account) Pubkey() []byte       { return m.pb.Account.Pubkey }
func (m *Account) WriteVersion() uint64 { return m.pb.Account.WriteVersion }
func (m *Account) TxnSignature() []byte { return m.pb.Account.TxnSignature }

func (m *Account) Info() *pb.SubscribeUpdateAccountInfo { return m.pb.Account }

// WithWriteVersion returns a copy whose write_version is rewritten; the
// account data is shared, only the info envelope is duplicated.
func (m *Account) WithWriteVersion(v uint64) *Account {
	info := *m.pb.Account
	info.WriteVersion = v
	upd := &pb.SubscribeUpdateAccount{Account: &info, Slot: m.pb.Slot, IsStartup: m.pb.IsStartup}
	return NewAccount(upd, m.createdAt)
}

func (m *Account) Encode(filters []string) []byte {
	return encodeUpdate(&pb.SubscribeUpdate{Account: m.pb}, filters, m.createdAt)
}

// Transaction is one executed transaction.
type Transaction struct {
	base
	pb *pb.SubscribeUpdateTransaction
}

func NewTransaction(upd *pb.SubscribeUpdateTransaction, createdAt *timestamppb.Timestamp) *Transaction {
	m := &Transaction{pb: upd}
	m.createdAt = createdAt
	m.size = upd.Size()
	return m
}

func (m *Transaction) Slot() uint64      { return m.pb.Slot }
func (m *Transaction) Kind() Kind        { return KindTransaction }
func (m *Transaction) Signature() []byte { return m.pb.Transaction.Signature }
func (m *Transaction) Index() uint64     { return m.pb.Transaction.Index }

func (m *Transaction) Info() *pb.SubscribeUpdateTransactionInfo { return m.pb.Transaction }

func (m *Transaction) Encode(filters []string) []byte {
	return encodeUpdate(&pb.SubscribeUpdate{Transaction: m.pb}, filters, m.createdAt)
}

// Entry is one PoH entry.
type Entry struct {
	base
	pb *pb.SubscribeUpdateEntry
}

func NewEntry(upd *pb.SubscribeUpdateEntry, createdAt *timestamppb.Timestamp) *Entry {
	m := &Entry{pb: upd}
	m.createdAt = createdAt
	m.size = upd.Size()
	return m
}

func (m *Entry) Slot() uint64  { return m.pb.Slot }
func (m *Entry) Kind() Kind    { return KindEntry }
func (m *Entry) Index() uint64 { return m.pb.Index }

func (m *Entry) Proto() *pb.SubscribeUpdateEntry { return m.pb }

func (m *Entry) Encode(filters []string) []byte {
	return encodeUpdate(&pb.SubscribeUpdate{Entry: m.pb}, filters, m.createdAt)
}

// BlockMeta carries the per-slot block metadata.
type BlockMeta struct {
	base
	pb *pb.SubscribeUpdateBlockMeta
}

func NewBlockMeta(upd *pb.SubscribeUpdateBlockMeta, createdAt *timestamppb.Timestamp) *BlockMeta {
	m := &BlockMeta{pb: upd}
	m.createdAt = createdAt
	m.size = upd.Size()
	return m
}

func (m *BlockMeta) Slot() uint64                     { return m.pb.Slot }
func (m *BlockMeta) Kind() Kind                       { return KindBlockMeta }
func (m *BlockMeta) ExecutedTransactionCount() uint64 { return m.pb.ExecutedTransactionCount }
func (m *BlockMeta) EntryCount() uint64               { return m.pb.EntryCount }
func (m *BlockMeta) ParentSlot() uint64               { return m.pb.ParentSlot }
func (m *BlockMeta) Blockhash() string                { return m.pb.Blockhash }

func (m *BlockMeta) Proto() *pb.SubscribeUpdateBlockMeta { return m.pb }

func (m *BlockMeta) Encode(filters []string) []byte {
	return encodeUpdate(&pb.SubscribeUpdate{BlockMeta: m.pb}, filters, m.createdAt)
}

// Block is the synthetic per-slot aggregate assembled by the channel. It
// references the leaf messages of the slot; leaves never reference back.
type Block struct {
	base
	pb           *pb.SubscribeUpdateBlock
	accounts     []*Account
	transactions []*Transaction
	entries      []*Entry
	meta         *BlockMeta
}

// NewBlock assembles the aggregate from the slot's surviving messages.
// Counts are taken from the meta, which the assembler has already matched
// against the accumulated messages.
func NewBlock(accounts []*Account, transactions []*Transaction, entries []*Entry, meta *BlockMeta) *Block {
	mp := meta.Proto()
	upd := &pb.SubscribeUpdateBlock{
		Slot:                     mp.Slot,
		Blockhash:                mp.Blockhash,
		Rewards:                  mp.Rewards,
		BlockTime:                mp.BlockTime,
		BlockHeight:              mp.BlockHeight,
		ParentSlot:               mp.ParentSlot,
		ParentBlockhash:          mp.ParentBlockhash,
		ExecutedTransactionCount: mp.ExecutedTransactionCount,
		UpdatedAccountCount:      uint64(len(accounts)),
		EntriesCount:             mp.EntryCount,
	}
	for _, acc := range accounts {
		upd.Accounts = append(upd.Accounts, acc.Info())
	}
	for _, tx := range transactions {
		upd.Transactions = append(upd.Transactions, tx.Info())
	}
	for _, e := range entries {
		upd.Entries = append(upd.Entries, e.Proto())
	}

	m := &Block{
		pb:           upd,
		accounts:     accounts,
		transactions: transactions,
		entries:      entries,
		meta:         meta,
	}
	m.createdAt = meta.CreatedAt()
	m.size = upd.Size()
	return m
}

func (m *Block) Slot() uint64                 { return m.pb.Slot }
func (m *Block) Kind() Kind                   { return KindBlock }
func (m *Block) Accounts() []*Account         { return m.accounts }
func (m *Block) Transactions() []*Transaction { return m.transactions }
func (m *Block) Entries() []*Entry            { return m.entries }
func (m *Block) Meta() *BlockMeta             { return m.meta }

func (m *Block) Encode(filters []string) []byte {
	return encodeUpdate(&pb.SubscribeUpdate{Block: m.pb}, filters, m.createdAt)
}
