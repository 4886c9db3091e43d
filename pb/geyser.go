// Package pb holds the hand-maintained wire types for the geyser stream
// protocol. Field numbers mirror the well-known ecosystem schema and must
// not change; there is no codegen step.
package pb

import (
	"google.golang.org/protobuf/types/known/timestamppb"
)

// SlotStatus mirrors the wire enum. The numeric values are part of the
// protocol and match the validator plugin interface ordering.
type SlotStatus int32

const (
	SlotStatusProcessed          SlotStatus = 0
	SlotStatusFinalized          SlotStatus = 1
	SlotStatusConfirmed          SlotStatus = 2
	SlotStatusFirstShredReceived SlotStatus = 3
	SlotStatusCompleted          SlotStatus = 4
	SlotStatusCreatedBank        SlotStatus = 5
	SlotStatusDead               SlotStatus = 6
)

// NumSlotStatuses is the size of the status space, used for per-slot
// seen-status bookkeeping.
const NumSlotStatuses = 7

func (s SlotStatus) String() string {
	switch s {
	case SlotStatusProcessed:
		return "processed"
	case SlotStatusFinalized:
		return "finalized"
	case SlotStatusConfirmed:
		return "confirmed"
	case SlotStatusFirstShredReceived:
		return "first_shred_received"
	case SlotStatusCompleted:
		return "completed"
	case SlotStatusCreatedBank:
		return "created_bank"
	case SlotStatusDead:
		return "dead"
	}
	return "unknown"
}

// CommitmentLevel is the consensus progress stage a subscriber anchors to.
type CommitmentLevel int32

const (
	CommitmentProcessed CommitmentLevel = 0
	CommitmentConfirmed CommitmentLevel = 1
	CommitmentFinalized CommitmentLevel = 2
)

func (c CommitmentLevel) String() string {
	switch c {
	case CommitmentProcessed:
		return "processed"
	case CommitmentConfirmed:
		return "confirmed"
	case CommitmentFinalized:
		return "finalized"
	}
	return "unknown"
}

// ParseCommitmentLevel accepts the textual form used in configs and URLs.
func ParseCommitmentLevel(s string) (CommitmentLevel, bool) {
	switch s {
	case "processed", "":
		return CommitmentProcessed, true
	case "confirmed":
		return CommitmentConfirmed, true
	case "finalized":
		return CommitmentFinalized, true
	}
	return 0, false
}

// SubscribeUpdate is the top-level frame sent to subscribers. Exactly one
// of the update fields is set.
type SubscribeUpdate struct {
	Filters     []string                    // field 1
	Account     *SubscribeUpdateAccount     // field 2
	Slot        *SubscribeUpdateSlot        // field 3
	Transaction *SubscribeUpdateTransaction // field 4
	Block       *SubscribeUpdateBlock       // field 5
	Ping        *SubscribeUpdatePing        // field 6
	BlockMeta   *SubscribeUpdateBlockMeta   // field 7
	Entry       *SubscribeUpdateEntry       // field 8
	Pong        *SubscribeUpdatePong        // field 9
	CreatedAt   *timestamppb.Timestamp      // field 11; field 10 (transaction_status) is reserved
}

type SubscribeUpdateSlot struct {
	Slot      uint64     // field 1
	Parent    *uint64    // field 2
	Status    SlotStatus // field 3
	DeadError string     // field 4
}

type SubscribeUpdateAccountInfo struct {
	Pubkey       []byte // field 1, 32 bytes
	Lamports     uint64 // field 2
	Owner        []byte // field 3, 32 bytes
	Executable   bool   // field 4
	RentEpoch    uint64 // field 5
	Data         []byte // field 6
	WriteVersion uint64 // field 7
	TxnSignature []byte // field 8, 64 bytes when present
}

type SubscribeUpdateAccount struct {
	Account   *SubscribeUpdateAccountInfo // field 1
	Slot      uint64                      // field 2
	IsStartup bool                        // field 3
}

type SubscribeUpdateTransactionInfo struct {
	Signature []byte // field 1, 64 bytes
	IsVote    bool   // field 2
	// Transaction and Meta carry the nested messages opaquely; the relay
	// never inspects them.
	Transaction []byte // field 3
	Meta        []byte // field 4
	Index       uint64 // field 5
}

type SubscribeUpdateTransaction struct {
	Transaction *SubscribeUpdateTransactionInfo // field 1
	Slot        uint64                          // field 2
}

type SubscribeUpdateEntry struct {
	Slot                     uint64 // field 1
	Index                    uint64 // field 2
	NumHashes                uint64 // field 3
	Hash                     []byte // field 4, 32 bytes
	ExecutedTransactionCount uint64 // field 5
	StartingTransactionIndex uint64 // field 6
}

type Reward struct {
	Pubkey      string // field 1
	Lamports    int64  // field 2
	PostBalance uint64 // field 3
	RewardType  int32  // field 4
	Commission  string // field 5
}

type RewardsAndNumPartitions struct {
	Rewards       []*Reward // field 1
	NumPartitions *uint64   // field 2, wrapper message {num_partitions=1}
}

type SubscribeUpdateBlockMeta struct {
	Slot                     uint64                   // field 1
	Blockhash                string                   // field 2
	Rewards                  *RewardsAndNumPartitions // field 3
	BlockTime                *int64                   // field 4, wrapper message {timestamp=1}
	BlockHeight              *uint64                  // field 5, wrapper message {block_height=1}
	ParentSlot               uint64                   // field 7
	ParentBlockhash          string                   // field 8
	ExecutedTransactionCount uint64                   // field 9
	EntryCount               uint64                   // field 12
}

// SubscribeUpdateBlock is the synthesized per-slot aggregate.
type SubscribeUpdateBlock struct {
	Slot                     uint64                            // field 1
	Blockhash                string                            // field 2
	Rewards                  *RewardsAndNumPartitions          // field 3
	BlockTime                *int64                            // field 4
	BlockHeight              *uint64                           // field 5
	Transactions             []*SubscribeUpdateTransactionInfo // field 6
	ParentSlot               uint64                            // field 7
	ParentBlockhash          string                            // field 8
	ExecutedTransactionCount uint64                            // field 9
	UpdatedAccountCount      uint64                            // field 10
	Accounts                 []*SubscribeUpdateAccountInfo     // field 11
	EntriesCount             uint64                            // field 12
	Entries                  []*SubscribeUpdateEntry           // field 13
}

type SubscribeUpdatePing struct{}

type SubscribeUpdatePong struct {
	ID int32 // field 1
}

// SubscribeRequestFilter disables classes of notifications per subscriber.
// Filtered messages still advance the subscriber cursor.
type SubscribeRequestFilter struct {
	DisableAccounts     bool // field 1
	DisableTransactions bool // field 2
	DisableEntries      bool // field 3
}

// SubscribeRequest is the first frame a subscriber sends on any transport.
type SubscribeRequest struct {
	ReplayFromSlot *uint64                 // field 1
	Filter         *SubscribeRequestFilter // field 2
	Commitment     CommitmentLevel         // field 3
}
