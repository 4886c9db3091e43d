package pb

import (
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Encoding is append-based over protowire, mirroring proto3 rules: scalar
// fields are omitted at their zero value, pointer-typed fields are encoded
// whenever non-nil. Each type carries Size so callers can preallocate and
// account byte budgets without encoding twice.

func sizeVarintField(num protowire.Number, v uint64) int {
	if v == 0 {
		return 0
	}
	return protowire.SizeTag(num) + protowire.SizeVarint(v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func sizeBoolField(num protowire.Number, v bool) int {
	if !v {
		return 0
	}
	return protowire.SizeTag(num) + 1
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func sizeBytesField(num protowire.Number, v []byte) int {
	if len(v) == 0 {
		return 0
	}
	return protowire.SizeTag(num) + protowire.SizeBytes(len(v))
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func sizeStringField(num protowire.Number, v string) int {
	if len(v) == 0 {
		return 0
	}
	return protowire.SizeTag(num) + protowire.SizeBytes(len(v))
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func sizeMessageField(num protowire.Number, size int) int {
	return protowire.SizeTag(num) + protowire.SizeBytes(size)
}

func appendMessageField(b []byte, num protowire.Number, size int, marshal func([]byte) []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(size))
	return marshal(b)
}

func sizeTimestamp(ts *timestamppb.Timestamp) int {
	return sizeVarintField(1, uint64(ts.GetSeconds())) + sizeVarintField(2, uint64(int64(ts.GetNanos())))
}

func appendTimestamp(b []byte, ts *timestamppb.Timestamp) []byte {
	b = appendVarintField(b, 1, uint64(ts.GetSeconds()))
	return appendVarintField(b, 2, uint64(int64(ts.GetNanos())))
}

func (m *SubscribeUpdateSlot) Size() int {
	n := sizeVarintField(1, m.Slot)
	if m.Parent != nil {
		n += protowire.SizeTag(2) + protowire.SizeVarint(*m.Parent)
	}
	n += sizeVarintField(3, uint64(m.Status))
	n += sizeStringField(4, m.DeadError)
	return n
}

func (m *SubscribeUpdateSlot) MarshalAppend(b []byte) []byte {
	b = appendVarintField(b, 1, m.Slot)
	if m.Parent != nil {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, *m.Parent)
	}
	b = appendVarintField(b, 3, uint64(m.Status))
	return appendStringField(b, 4, m.DeadError)
}

func (m *SubscribeUpdateAccountInfo) Size() int {
	return sizeBytesField(1, m.Pubkey) +
		sizeVarintField(2, m.Lamports) +
		sizeBytesField(3, m.Owner) +
		sizeBoolField(4, m.Executable) +
		sizeVarintField(5, m.RentEpoch) +
		sizeBytesField(6, m.Data) +
		sizeVarintField(7, m.WriteVersion) +
		sizeBytesField(8, m.TxnSignature)
}

func (m *SubscribeUpdateAccountInfo) MarshalAppend(b []byte) []byte {
	b = appendBytesField(b, 1, m.Pubkey)
	b = appendVarintField(b, 2, m.Lamports)
	b = appendBytesField(b, 3, m.Owner)
	b = appendBoolField(b, 4, m.Executable)
	b = appendVarintField(b, 5, m.RentEpoch)
	b = appendBytesField(b, 6, m.Data)
	b = appendVarintField(b, 7, m.WriteVersion)
	return appendBytesField(b, 8, m.TxnSignature)
}

func (m *SubscribeUpdateAccount) Size() int {
	n := 0
	if m.Account != nil {
		n += sizeMessageField(1, m.Account.Size())
	}
	n += sizeVarintField(2, m.Slot)
	n += sizeBoolField(3, m.IsStartup)
	return n
}

func (m *SubscribeUpdateAccount) MarshalAppend(b []byte) []byte {
	if m.Account != nil {
		b = appendMessageField(b, 1, m.Account.Size(), m.Account.MarshalAppend)
	}
	b = appendVarintField(b, 2, m.Slot)
	return appendBoolField(b, 3, m.IsStartup)
}

func (m *SubscribeUpdateTransactionInfo) Size() int {
	return sizeBytesField(1, m.Signature) +
		sizeBoolField(2, m.IsVote) +
		sizeBytesField(3, m.Transaction) +
		sizeBytesField(4, m.Meta) +
		sizeVarintField(5, m.Index)
}

func (m *SubscribeUpdateTransactionInfo) MarshalAppend(b []byte) []byte {
	b = appendBytesField(b, 1, m.Signature)
	b = appendBoolField(b, 2, m.IsVote)
	b = appendBytesField(b, 3, m.Transaction)
	b = appendBytesField(b, 4, m.Meta)
	return appendVarintField(b, 5, m.Index)
}

func (m *SubscribeUpdateTransaction) Size() int {
	n := 0
	if m.Transaction != nil {
		n += sizeMessageField(1, m.Transaction.Size())
	}
	return n + sizeVarintField(2, m.Slot)
}

func (m *SubscribeUpdateTransaction) MarshalAppend(b []byte) []byte {
	if m.Transaction != nil {
		b = appendMessageField(b, 1, m.Transaction.Size(), m.Transaction.MarshalAppend)
	}
	return appendVarintField(b, 2, m.Slot)
}

func (m *SubscribeUpdateEntry) Size() int {
	return sizeVarintField(1, m.Slot) +
		sizeVarintField(2, m.Index) +
		sizeVarintField(3, m.NumHashes) +
		sizeBytesField(4, m.Hash) +
		sizeVarintField(5, m.ExecutedTransactionCount) +
		sizeVarintField(6, m.StartingTransactionIndex)
}

func (m *SubscribeUpdateEntry) MarshalAppend(b []byte) []byte {
	b = appendVarintField(b, 1, m.Slot)
	b = appendVarintField(b, 2, m.Index)
	b = appendVarintField(b, 3, m.NumHashes)
	b = appendBytesField(b, 4, m.Hash)
	b = appendVarintField(b, 5, m.ExecutedTransactionCount)
	return appendVarintField(b, 6, m.StartingTransactionIndex)
}

func (m *Reward) Size() int {
	return sizeStringField(1, m.Pubkey) +
		sizeVarintField(2, uint64(m.Lamports)) +
		sizeVarintField(3, m.PostBalance) +
		sizeVarintField(4, uint64(m.RewardType)) +
		sizeStringField(5, m.Commission)
}

func (m *Reward) MarshalAppend(b []byte) []byte {
	b = appendStringField(b, 1, m.Pubkey)
	b = appendVarintField(b, 2, uint64(m.Lamports))
	b = appendVarintField(b, 3, m.PostBalance)
	b = appendVarintField(b, 4, uint64(m.RewardType))
	return appendStringField(b, 5, m.Commission)
}

func (m *RewardsAndNumPartitions) Size() int {
	n := 0
	for _, r := range m.Rewards {
		n += sizeMessageField(1, r.Size())
	}
	if m.NumPartitions != nil {
		inner := sizeVarintField(1, *m.NumPartitions)
		n += sizeMessageField(2, inner)
	}
	return n
}

func (m *RewardsAndNumPartitions) MarshalAppend(b []byte) []byte {
	for _, r := range m.Rewards {
		b = appendMessageField(b, 1, r.Size(), r.MarshalAppend)
	}
	if m.NumPartitions != nil {
		v := *m.NumPartitions
		b = appendMessageField(b, 2, sizeVarintField(1, v), func(b []byte) []byte {
			return appendVarintField(b, 1, v)
		})
	}
	return b
}

func (m *SubscribeUpdateBlockMeta) Size() int {
	n := sizeVarintField(1, m.Slot) + sizeStringField(2, m.Blockhash)
	if m.Rewards != nil {
		n += sizeMessageField(3, m.Rewards.Size())
	}
	if m.BlockTime != nil {
		n += sizeMessageField(4, sizeVarintField(1, uint64(*m.BlockTime)))
	}
	if m.BlockHeight != nil {
		n += sizeMessageField(5, sizeVarintField(1, *m.BlockHeight))
	}
	n += sizeVarintField(7, m.ParentSlot)
	n += sizeStringField(8, m.ParentBlockhash)
	n += sizeVarintField(9, m.ExecutedTransactionCount)
	n += sizeVarintField(12, m.EntryCount)
	return n
}

func appendBlockCommon(b []byte, blockTime *int64, blockHeight *uint64) []byte {
	if blockTime != nil {
		v := uint64(*blockTime)
		b = appendMessageField(b, 4, sizeVarintField(1, v), func(b []byte) []byte {
			return appendVarintField(b, 1, v)
		})
	}
	if blockHeight != nil {
		v := *blockHeight
		b = appendMessageField(b, 5, sizeVarintField(1, v), func(b []byte) []byte {
			return appendVarintField(b, 1, v)
		})
	}
	return b
}

func (m *SubscribeUpdateBlockMeta) MarshalAppend(b []byte) []byte {
	b = appendVarintField(b, 1, m.Slot)
	b = appendStringField(b, 2, m.Blockhash)
	if m.Rewards != nil {
		b = appendMessageField(b, 3, m.Rewards.Size(), m.Rewards.MarshalAppend)
	}
	b = appendBlockCommon(b, m.BlockTime, m.BlockHeight)
	b = appendVarintField(b, 7, m.ParentSlot)
	b = appendStringField(b, 8, m.ParentBlockhash)
	b = appendVarintField(b, 9, m.ExecutedTransactionCount)
	return appendVarintField(b, 12, m.EntryCount)
}

func (m *SubscribeUpdateBlock) Size() int {
	n := sizeVarintField(1, m.Slot) + sizeStringField(2, m.Blockhash)
	if m.Rewards != nil {
		n += sizeMessageField(3, m.Rewards.Size())
	}
	if m.BlockTime != nil {
		n += sizeMessageField(4, sizeVarintField(1, uint64(*m.BlockTime)))
	}
	if m.BlockHeight != nil {
		n += sizeMessageField(5, sizeVarintField(1, *m.BlockHeight))
	}
	for _, tx := range m.Transactions {
		n += sizeMessageField(6, tx.Size())
	}
	n += sizeVarintField(7, m.ParentSlot)
	n += sizeStringField(8, m.ParentBlockhash)
	n += sizeVarintField(9, m.ExecutedTransactionCount)
	n += sizeVarintField(10, m.UpdatedAccountCount)
	for _, acc := range m.Accounts {
		n += sizeMessageField(11, acc.Size())
	}
	n += sizeVarintField(12, m.EntriesCount)
	for _, e := range m.Entries {
		n += sizeMessageField(13, e.Size())
	}
	return n
}

func (m *SubscribeUpdateBlock) MarshalAppend(b []byte) []byte {
	b = appendVarintField(b, 1, m.Slot)
	b = appendStringField(b, 2, m.Blockhash)
	if m.Rewards != nil {
		b = appendMessageField(b, 3, m.Rewards.Size(), m.Rewards.MarshalAppend)
	}
	b = appendBlockCommon(b, m.BlockTime, m.BlockHeight)
	for _, tx := range m.Transactions {
		b = appendMessageField(b, 6, tx.Size(), tx.MarshalAppend)
	}
	b = appendVarintField(b, 7, m.ParentSlot)
	b = appendStringField(b, 8, m.ParentBlockhash)
	b = appendVarintField(b, 9, m.ExecutedTransactionCount)
	b = appendVarintField(b, 10, m.UpdatedAccountCount)
	for _, acc := range m.Accounts {
		b = appendMessageField(b, 11, acc.Size(), acc.MarshalAppend)
	}
	b = appendVarintField(b, 12, m.EntriesCount)
	for _, e := range m.Entries {
		b = appendMessageField(b, 13, e.Size(), e.MarshalAppend)
	}
	return b
}

func (m *SubscribeUpdatePing) Size() int                     { return 0 }
func (m *SubscribeUpdatePing) MarshalAppend(b []byte) []byte { return b }

func (m *SubscribeUpdatePong) Size() int {
	return sizeVarintField(1, uint64(int64(m.ID)))
}

func (m *SubscribeUpdatePong) MarshalAppend(b []byte) []byte {
	return appendVarintField(b, 1, uint64(int64(m.ID)))
}

// updateOneof returns the oneof field number and the set variant.
func (m *SubscribeUpdate) updateOneof() (protowire.Number, interface {
	Size() int
	MarshalAppend([]byte) []byte
}) {
	switch {
	case m.Account != nil:
		return 2, m.Account
	case m.Slot != nil:
		return 3, m.Slot
	case m.Transaction != nil:
		return 4, m.Transaction
	case m.Block != nil:
		return 5, m.Block
	case m.Ping != nil:
		return 6, m.Ping
	case m.BlockMeta != nil:
		return 7, m.BlockMeta
	case m.Entry != nil:
		return 8, m.Entry
	case m.Pong != nil:
		return 9, m.Pong
	}
	return 0, nil
}

func (m *SubscribeUpdate) Size() int {
	n := 0
	for _, f := range m.Filters {
		n += protowire.SizeTag(1) + protowire.SizeBytes(len(f))
	}
	if num, upd := m.updateOneof(); upd != nil {
		n += sizeMessageField(num, upd.Size())
	}
	if m.CreatedAt != nil {
		n += sizeMessageField(11, sizeTimestamp(m.CreatedAt))
	}
	return n
}

func (m *SubscribeUpdate) MarshalAppend(b []byte) []byte {
	for _, f := range m.Filters {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, f)
	}
	if num, upd := m.updateOneof(); upd != nil {
		b = appendMessageField(b, num, upd.Size(), upd.MarshalAppend)
	}
	if m.CreatedAt != nil {
		ts := m.CreatedAt
		b = appendMessageField(b, 11, sizeTimestamp(ts), func(b []byte) []byte {
			return appendTimestamp(b, ts)
		})
	}
	return b
}

func (m *SubscribeUpdate) Marshal() ([]byte, error) {
	return m.MarshalAppend(make([]byte, 0, m.Size())), nil
}

func (m *SubscribeRequestFilter) Size() int {
	return sizeBoolField(1, m.DisableAccounts) +
		sizeBoolField(2, m.DisableTransactions) +
		sizeBoolField(3, m.DisableEntries)
}

func (m *SubscribeRequestFilter) MarshalAppend(b []byte) []byte {
	b = appendBoolField(b, 1, m.DisableAccounts)
	b = appendBoolField(b, 2, m.DisableTransactions)
	return appendBoolField(b, 3, m.DisableEntries)
}

func (m *SubscribeRequest) Size() int {
	n := 0
	if m.ReplayFromSlot != nil {
		n += protowire.SizeTag(1) + protowire.SizeVarint(*m.ReplayFromSlot)
	}
	if m.Filter != nil {
		n += sizeMessageField(2, m.Filter.Size())
	}
	n += sizeVarintField(3, uint64(m.Commitment))
	return n
}

func (m *SubscribeRequest) MarshalAppend(b []byte) []byte {
	if m.ReplayFromSlot != nil {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, *m.ReplayFromSlot)
	}
	if m.Filter != nil {
		b = appendMessageField(b, 2, m.Filter.Size(), m.Filter.MarshalAppend)
	}
	return appendVarintField(b, 3, uint64(m.Commitment))
}

func (m *SubscribeRequest) Marshal() ([]byte, error) {
	return m.MarshalAppend(make([]byte, 0, m.Size())), nil
}
