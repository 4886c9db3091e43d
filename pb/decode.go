package pb

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/known/timestamppb"
)

var errDuplicateOneof = errors.New("pb: duplicate update_oneof field")

type fieldHandler func(num protowire.Number, typ protowire.Type, payload []byte) (int, error)

// walkFields drives a protowire field loop, delegating known fields to fn.
// fn returns the number of payload bytes it consumed; returning -1 means
// "not mine", and the field is skipped.
func walkFields(b []byte, name string, fn fieldHandler) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("pb: %s: bad tag: %w", name, protowire.ParseError(n))
		}
		b = b[n:]

		used, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("pb: %s: field %d: %w", name, num, err)
		}
		if used < 0 {
			used = protowire.ConsumeFieldValue(num, typ, b)
			if used < 0 {
				return fmt.Errorf("pb: %s: field %d: %w", name, num, protowire.ParseError(used))
			}
		}
		b = b[used:]
	}
	return nil
}

func consumeUint64(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("unexpected wire type %v, want varint", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBool(typ protowire.Type, b []byte) (bool, int, error) {
	v, n, err := consumeUint64(typ, b)
	return v != 0, n, err
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("unexpected wire type %v, want bytes", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

func consumeString(typ protowire.Type, b []byte) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, fmt.Errorf("unexpected wire type %v, want bytes", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return "", 0, protowire.ParseError(n)
	}
	return string(v), n, nil
}

// consumeWrappedUint64 decodes the single-uint64-wrapper pattern
// ({value=1}) used by block_time / block_height / num_partitions.
func consumeWrappedUint64(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.BytesType {
		return 0, 0, fmt.Errorf("unexpected wire type %v, want message", typ)
	}
	body, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	var out uint64
	err := walkFields(body, "wrapper", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		if num != 1 {
			return -1, nil
		}
		v, used, err := consumeUint64(typ, payload)
		out = v
		return used, err
	})
	return out, n, err
}

func consumeTimestamp(typ protowire.Type, b []byte) (*timestamppb.Timestamp, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("unexpected wire type %v, want message", typ)
	}
	body, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	ts := &timestamppb.Timestamp{}
	err := walkFields(body, "Timestamp", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		switch num {
		case 1:
			v, used, err := consumeUint64(typ, payload)
			ts.Seconds = int64(v)
			return used, err
		case 2:
			v, used, err := consumeUint64(typ, payload)
			ts.Nanos = int32(v)
			return used, err
		}
		return -1, nil
	})
	return ts, n, err
}

func (m *SubscribeUpdateSlot) Unmarshal(b []byte) error {
	return walkFields(b, "SubscribeUpdateSlot", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint64(typ, payload)
			m.Slot = v
			return n, err
		case 2:
			v, n, err := consumeUint64(typ, payload)
			m.Parent = &v
			return n, err
		case 3:
			v, n, err := consumeUint64(typ, payload)
			m.Status = SlotStatus(v)
			return n, err
		case 4:
			v, n, err := consumeString(typ, payload)
			m.DeadError = v
			return n, err
		}
		return -1, nil
	})
}

func (m *SubscribeUpdateAccountInfo) Unmarshal(b []byte) error {
	return walkFields(b, "SubscribeUpdateAccountInfo", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, payload)
			m.Pubkey = v
			return n, err
		case 2:
			v, n, err := consumeUint64(typ, payload)
			m.Lamports = v
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, payload)
			m.Owner = v
			return n, err
		case 4:
			v, n, err := consumeBool(typ, payload)
			m.Executable = v
			return n, err
		case 5:
			v, n, err := consumeUint64(typ, payload)
			m.RentEpoch = v
			return n, err
		case 6:
			v, n, err := consumeBytes(typ, payload)
			m.Data = v
			return n, err
		case 7:
			v, n, err := consumeUint64(typ, payload)
			m.WriteVersion = v
			return n, err
		case 8:
			v, n, err := consumeBytes(typ, payload)
			m.TxnSignature = v
			return n, err
		}
		return -1, nil
	})
}

func (m *SubscribeUpdateAccount) Unmarshal(b []byte) error {
	return walkFields(b, "SubscribeUpdateAccount", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		switch num {
		case 1:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Account = &SubscribeUpdateAccountInfo{}
			return n, m.Account.Unmarshal(body)
		case 2:
			v, n, err := consumeUint64(typ, payload)
			m.Slot = v
			return n, err
		case 3:
			v, n, err := consumeBool(typ, payload)
			m.IsStartup = v
			return n, err
		}
		return -1, nil
	})
}

func (m *SubscribeUpdateTransactionInfo) Unmarshal(b []byte) error {
	return walkFields(b, "SubscribeUpdateTransactionInfo", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, payload)
			m.Signature = v
			return n, err
		case 2:
			v, n, err := consumeBool(typ, payload)
			m.IsVote = v
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, payload)
			m.Transaction = v
			return n, err
		case 4:
			v, n, err := consumeBytes(typ, payload)
			m.Meta = v
			return n, err
		case 5:
			v, n, err := consumeUint64(typ, payload)
			m.Index = v
			return n, err
		}
		return -1, nil
	})
}

func (m *SubscribeUpdateTransaction) Unmarshal(b []byte) error {
	return walkFields(b, "SubscribeUpdateTransaction", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		switch num {
		case 1:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Transaction = &SubscribeUpdateTransactionInfo{}
			return n, m.Transaction.Unmarshal(body)
		case 2:
			v, n, err := consumeUint64(typ, payload)
			m.Slot = v
			return n, err
		}
		return -1, nil
	})
}

func (m *SubscribeUpdateEntry) Unmarshal(b []byte) error {
	return walkFields(b, "SubscribeUpdateEntry", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint64(typ, payload)
			m.Slot = v
			return n, err
		case 2:
			v, n, err := consumeUint64(typ, payload)
			m.Index = v
			return n, err
		case 3:
			v, n, err := consumeUint64(typ, payload)
			m.NumHashes = v
			return n, err
		case 4:
			v, n, err := consumeBytes(typ, payload)
			m.Hash = v
			return n, err
		case 5:
			v, n, err := consumeUint64(typ, payload)
			m.ExecutedTransactionCount = v
			return n, err
		case 6:
			v, n, err := consumeUint64(typ, payload)
			m.StartingTransactionIndex = v
			return n, err
		}
		return -1, nil
	})
}

func (m *Reward) Unmarshal(b []byte) error {
	return walkFields(b, "Reward", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, payload)
			m.Pubkey = v
			return n, err
		case 2:
			v, n, err := consumeUint64(typ, payload)
			m.Lamports = int64(v)
			return n, err
		case 3:
			v, n, err := consumeUint64(typ, payload)
			m.PostBalance = v
			return n, err
		case 4:
			v, n, err := consumeUint64(typ, payload)
			m.RewardType = int32(v)
			return n, err
		case 5:
			v, n, err := consumeString(typ, payload)
			m.Commission = v
			return n, err
		}
		return -1, nil
	})
}

func (m *RewardsAndNumPartitions) Unmarshal(b []byte) error {
	return walkFields(b, "RewardsAndNumPartitions", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		switch num {
		case 1:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			r := &Reward{}
			if err := r.Unmarshal(body); err != nil {
				return 0, err
			}
			m.Rewards = append(m.Rewards, r)
			return n, nil
		case 2:
			v, n, err := consumeWrappedUint64(typ, payload)
			m.NumPartitions = &v
			return n, err
		}
		return -1, nil
	})
}

func (m *SubscribeUpdateBlockMeta) Unmarshal(b []byte) error {
	return walkFields(b, "SubscribeUpdateBlockMeta", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint64(typ, payload)
			m.Slot = v
			return n, err
		case 2:
			v, n, err := consumeString(typ, payload)
			m.Blockhash = v
			return n, err
		case 3:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Rewards = &RewardsAndNumPartitions{}
			return n, m.Rewards.Unmarshal(body)
		case 4:
			v, n, err := consumeWrappedUint64(typ, payload)
			t := int64(v)
			m.BlockTime = &t
			return n, err
		case 5:
			v, n, err := consumeWrappedUint64(typ, payload)
			m.BlockHeight = &v
			return n, err
		case 7:
			v, n, err := consumeUint64(typ, payload)
			m.ParentSlot = v
			return n, err
		case 8:
			v, n, err := consumeString(typ, payload)
			m.ParentBlockhash = v
			return n, err
		case 9:
			v, n, err := consumeUint64(typ, payload)
			m.ExecutedTransactionCount = v
			return n, err
		case 12:
			v, n, err := consumeUint64(typ, payload)
			m.EntryCount = v
			return n, err
		}
		return -1, nil
	})
}

func (m *SubscribeUpdateBlock) Unmarshal(b []byte) error {
	return walkFields(b, "SubscribeUpdateBlock", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint64(typ, payload)
			m.Slot = v
			return n, err
		case 2:
			v, n, err := consumeString(typ, payload)
			m.Blockhash = v
			return n, err
		case 3:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Rewards = &RewardsAndNumPartitions{}
			return n, m.Rewards.Unmarshal(body)
		case 4:
			v, n, err := consumeWrappedUint64(typ, payload)
			t := int64(v)
			m.BlockTime = &t
			return n, err
		case 5:
			v, n, err := consumeWrappedUint64(typ, payload)
			m.BlockHeight = &v
			return n, err
		case 6:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			tx := &SubscribeUpdateTransactionInfo{}
			if err := tx.Unmarshal(body); err != nil {
				return 0, err
			}
			m.Transactions = append(m.Transactions, tx)
			return n, nil
		case 7:
			v, n, err := consumeUint64(typ, payload)
			m.ParentSlot = v
			return n, err
		case 8:
			v, n, err := consumeString(typ, payload)
			m.ParentBlockhash = v
			return n, err
		case 9:
			v, n, err := consumeUint64(typ, payload)
			m.ExecutedTransactionCount = v
			return n, err
		case 10:
			v, n, err := consumeUint64(typ, payload)
			m.UpdatedAccountCount = v
			return n, err
		case 11:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			acc := &SubscribeUpdateAccountInfo{}
			if err := acc.Unmarshal(body); err != nil {
				return 0, err
			}
			m.Accounts = append(m.Accounts, acc)
			return n, nil
		case 12:
			v, n, err := consumeUint64(typ, payload)
			m.EntriesCount = v
			return n, err
		case 13:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			e := &SubscribeUpdateEntry{}
			if err := e.Unmarshal(body); err != nil {
				return 0, err
			}
			m.Entries = append(m.Entries, e)
			return n, nil
		}
		return -1, nil
	})
}

func (m *SubscribeUpdatePong) Unmarshal(b []byte) error {
	return walkFields(b, "SubscribeUpdatePong", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeUint64(typ, payload)
			m.ID = int32(v)
			return n, err
		}
		return -1, nil
	})
}

func (m *SubscribeUpdate) Unmarshal(b []byte) error {
	*m = SubscribeUpdate{}
	return walkFields(b, "SubscribeUpdate", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		if num >= 2 && num <= 10 {
			if _, set := m.updateOneof(); set != nil {
				return 0, errDuplicateOneof
			}
		}
		switch num {
		case 1:
			v, n, err := consumeString(typ, payload)
			if err != nil {
				return 0, err
			}
			m.Filters = append(m.Filters, v)
			return n, nil
		case 2:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Account = &SubscribeUpdateAccount{}
			return n, m.Account.Unmarshal(body)
		case 3:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Slot = &SubscribeUpdateSlot{}
			return n, m.Slot.Unmarshal(body)
		case 4:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Transaction = &SubscribeUpdateTransaction{}
			return n, m.Transaction.Unmarshal(body)
		case 5:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Block = &SubscribeUpdateBlock{}
			return n, m.Block.Unmarshal(body)
		case 6:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			_ = body
			m.Ping = &SubscribeUpdatePing{}
			return n, nil
		case 7:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.BlockMeta = &SubscribeUpdateBlockMeta{}
			return n, m.BlockMeta.Unmarshal(body)
		case 8:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Entry = &SubscribeUpdateEntry{}
			return n, m.Entry.Unmarshal(body)
		case 9:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Pong = &SubscribeUpdatePong{}
			return n, m.Pong.Unmarshal(body)
		case 11:
			ts, n, err := consumeTimestamp(typ, payload)
			m.CreatedAt = ts
			return n, err
		}
		return -1, nil
	})
}

func (m *SubscribeRequestFilter) Unmarshal(b []byte) error {
	return walkFields(b, "SubscribeRequestFilter", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBool(typ, payload)
			m.DisableAccounts = v
			return n, err
		case 2:
			v, n, err := consumeBool(typ, payload)
			m.DisableTransactions = v
			return n, err
		case 3:
			v, n, err := consumeBool(typ, payload)
			m.DisableEntries = v
			return n, err
		}
		return -1, nil
	})
}

func (m *SubscribeRequest) Unmarshal(b []byte) error {
	*m = SubscribeRequest{}
	return walkFields(b, "SubscribeRequest", func(num protowire.Number, typ protowire.Type, payload []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint64(typ, payload)
			m.ReplayFromSlot = &v
			return n, err
		case 2:
			body, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Filter = &SubscribeRequestFilter{}
			return n, m.Filter.Unmarshal(body)
		case 3:
			v, n, err := consumeUint64(typ, payload)
			m.Commitment = CommitmentLevel(v)
			return n, err
		}
		return -1, nil
	})
}
