package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/solstream/bus/internal/message"
	"github.com/solstream/bus/pb"
)

var testTS = &timestamppb.Timestamp{Seconds: 1_720_000_000}

func slotMsg(slot uint64, parent uint64, status pb.SlotStatus) *message.Slot {
	upd := &pb.SubscribeUpdateSlot{Slot: slot, Status: status}
	if parent != 0 {
		upd.Parent = &parent
	}
	return message.NewSlot(upd, testTS)
}

func accountMsg(slot uint64, pubkeyByte byte, writeVersion uint64, txnSignature []byte) *message.Account {
	pubkey := make([]byte, 32)
	pubkey[0] = pubkeyByte
	return message.NewAccount(&pb.SubscribeUpdateAccount{
		Account: &pb.SubscribeUpdateAccountInfo{
			Pubkey:       pubkey,
			Owner:        make([]byte, 32),
			Lamports:     100,
			Data:         []byte("data"),
			WriteVersion: writeVersion,
			TxnSignature: txnSignature,
		},
		Slot: slot,
	}, testTS)
}

func signature(b byte) []byte {
	sig := make([]byte, 64)
	sig[0] = b
	return sig
}

func txMsg(slot uint64, sigByte byte, index uint64) *message.Transaction {
	return message.NewTransaction(&pb.SubscribeUpdateTransaction{
		Transaction: &pb.SubscribeUpdateTransactionInfo{
			Signature: signature(sigByte),
			Index:     index,
		},
		Slot: slot,
	}, testTS)
}

func entryMsg(slot, index, txCount uint64) *message.Entry {
	return message.NewEntry(&pb.SubscribeUpdateEntry{
		Slot:                     slot,
		Index:                    index,
		NumHashes:                12800,
		Hash:                     make([]byte, 32),
		ExecutedTransactionCount: txCount,
	}, testTS)
}

func blockMetaMsg(slot, executedTxCount, entryCount uint64) *message.BlockMeta {
	return message.NewBlockMeta(&pb.SubscribeUpdateBlockMeta{
		Slot:                     slot,
		ParentSlot:               slot - 1,
		Blockhash:                "hash",
		ExecutedTransactionCount: executedTxCount,
		EntryCount:               entryCount,
	}, testTS)
}

func newTestChannel(t *testing.T, cfg Config) (*Messages, *Sender) {
	t.Helper()
	ms := New(cfg, nil, nil)
	return ms, ms.NewSender()
}

// readN reads n messages or fails the test.
func readN(t *testing.T, rx *Receiver, n int) []message.ParsedMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out := make([]message.ParsedMessage, 0, n)
	for len(out) < n {
		msg, err := rx.NextMessage(ctx)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func TestSingleFeedSeal(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 1024, MaxBytes: 1 << 20})
	rx, err := ms.Subscribe(pb.CommitmentProcessed, nil, nil)
	require.NoError(t, err)

	sender.Push(slotMsg(100, 99, pb.SlotStatusProcessed), nil)
	sender.Push(accountMsg(100, 'P', 1, nil), nil)
	sender.Push(txMsg(100, 'S', 0), nil)
	sender.Push(entryMsg(100, 0, 1), nil)
	sender.Push(blockMetaMsg(100, 1, 1), nil)

	got := readN(t, rx, 6)
	kinds := make([]message.Kind, len(got))
	for i, m := range got {
		kinds[i] = m.Kind()
	}
	assert.Equal(t, []message.Kind{
		message.KindSlot, message.KindAccount, message.KindTransaction,
		message.KindEntry, message.KindBlockMeta, message.KindBlock,
	}, kinds)

	block := got[5].(*message.Block)
	assert.Equal(t, uint64(100), block.Slot())
	assert.Len(t, block.Accounts(), 1)
	assert.Len(t, block.Transactions(), 1)
	assert.Len(t, block.Entries(), 1)
	require.NotNil(t, block.Meta())
	assert.Equal(t, uint64(1), block.Meta().ExecutedTransactionCount())
}

func TestAccountDedupByWriteVersion(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 1024, MaxBytes: 1 << 20})
	rx, err := ms.Subscribe(pb.CommitmentProcessed, nil, nil)
	require.NoError(t, err)

	sender.Push(accountMsg(200, 'P', 5, nil), nil)
	sender.Push(accountMsg(200, 'P', 3, nil), nil)
	sender.Push(blockMetaMsg(200, 0, 0), nil)

	got := readN(t, rx, 4)
	block := got[3].(*message.Block)
	require.Len(t, block.Accounts(), 1)
	assert.Equal(t, uint64(5), block.Accounts()[0].WriteVersion())
}

func TestSlotGapSynthesis(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 1024, MaxBytes: 1 << 20})
	rx, err := ms.Subscribe(pb.CommitmentProcessed, nil, nil)
	require.NoError(t, err)

	sender.Push(slotMsg(300, 299, pb.SlotStatusProcessed), nil)
	sender.Push(slotMsg(300, 299, pb.SlotStatusFinalized), nil)

	got := readN(t, rx, 3)
	statuses := []pb.SlotStatus{
		got[0].(*message.Slot).Status(),
		got[1].(*message.Slot).Status(),
		got[2].(*message.Slot).Status(),
	}
	assert.Equal(t, []pb.SlotStatus{
		pb.SlotStatusProcessed, pb.SlotStatusConfirmed, pb.SlotStatusFinalized,
	}, statuses)
}

func TestSlotGapSynthesisWalksParents(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 1024, MaxBytes: 1 << 20})
	rx, err := ms.Subscribe(pb.CommitmentProcessed, nil, nil)
	require.NoError(t, err)

	sender.Push(slotMsg(299, 298, pb.SlotStatusProcessed), nil)
	sender.Push(slotMsg(300, 299, pb.SlotStatusProcessed), nil)
	sender.Push(slotMsg(300, 299, pb.SlotStatusConfirmed), nil)

	got := readN(t, rx, 4)
	synth := got[2].(*message.Slot)
	assert.Equal(t, uint64(299), synth.Slot())
	assert.Equal(t, pb.SlotStatusConfirmed, synth.Status())
	final := got[3].(*message.Slot)
	assert.Equal(t, uint64(300), final.Slot())
	assert.Equal(t, pb.SlotStatusConfirmed, final.Status())
}

func TestLagDetection(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 4, MaxBytes: 1 << 20})
	rx, err := ms.Subscribe(pb.CommitmentProcessed, nil, nil)
	require.NoError(t, err)

	sender.Push(slotMsg(1, 0, pb.SlotStatusProcessed), nil)
	readN(t, rx, 1)

	for slot := uint64(2); slot <= 6; slot++ {
		sender.Push(slotMsg(slot, 0, pb.SlotStatusProcessed), nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = rx.NextMessage(ctx)
	assert.ErrorIs(t, err, ErrLagged)

	// terminal: subsequent reads keep failing
	_, err = rx.NextMessage(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMultiFeedAccountOrdering(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 1024, MaxBytes: 1 << 20})
	rx, err := ms.Subscribe(pb.CommitmentProcessed, nil, nil)
	require.NoError(t, err)

	feedA := &Feed{Index: 0, StreamsTotal: 2}
	feedB := &Feed{Index: 1, StreamsTotal: 2}

	sender.Push(accountMsg(400, 'P', 77, signature('S')), feedA)
	sender.Push(txMsg(400, 'S', 12), feedB)

	got := readN(t, rx, 2)
	acc := got[0].(*message.Account)
	assert.Equal(t, uint64(12), acc.WriteVersion())
	tx := got[1].(*message.Transaction)
	assert.Equal(t, uint64(12), tx.Index())
}

func TestMultiFeedDuplicateAccountDropped(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 1024, MaxBytes: 1 << 20})
	rx, err := ms.Subscribe(pb.CommitmentProcessed, nil, nil)
	require.NoError(t, err)

	feedA := &Feed{Index: 0, StreamsTotal: 2}
	feedB := &Feed{Index: 1, StreamsTotal: 2}

	sender.Push(txMsg(400, 'S', 7), feedA)
	sender.Push(accountMsg(400, 'P', 1, signature('S')), feedA)
	sender.Push(accountMsg(400, 'P', 1, signature('S')), feedB)
	sender.Push(entryMsg(400, 0, 1), feedB)

	got := readN(t, rx, 3)
	assert.Equal(t, message.KindTransaction, got[0].Kind())
	assert.Equal(t, message.KindAccount, got[1].Kind())
	assert.Equal(t, uint64(7), got[1].(*message.Account).WriteVersion())
	assert.Equal(t, message.KindEntry, got[2].Kind())
}

func TestMultiFeedDuplicateSlotStatusDropped(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 1024, MaxBytes: 1 << 20})
	rx, err := ms.Subscribe(pb.CommitmentProcessed, nil, nil)
	require.NoError(t, err)

	feedA := &Feed{Index: 0, StreamsTotal: 2}
	feedB := &Feed{Index: 1, StreamsTotal: 2}

	sender.Push(slotMsg(10, 9, pb.SlotStatusProcessed), feedA)
	sender.Push(slotMsg(10, 9, pb.SlotStatusProcessed), feedB)
	sender.Push(entryMsg(10, 0, 1), feedA)

	got := readN(t, rx, 2)
	assert.Equal(t, message.KindSlot, got[0].Kind())
	assert.Equal(t, message.KindEntry, got[1].Kind())
}

func TestMultiFeedFinalizedSealsSlot(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 1024, MaxBytes: 1 << 20})
	feedA := &Feed{Index: 0, StreamsTotal: 2}
	feedB := &Feed{Index: 1, StreamsTotal: 2}

	sender.Push(slotMsg(10, 9, pb.SlotStatusProcessed), feedA)
	sender.Push(slotMsg(10, 9, pb.SlotStatusFinalized), feedA)

	rx, err := ms.Subscribe(pb.CommitmentProcessed, nil, nil)
	require.NoError(t, err)

	// late arrivals for the finalized slot are discarded entirely
	sender.Push(accountMsg(10, 'P', 1, nil), feedB)
	sender.Push(slotMsg(10, 9, pb.SlotStatusProcessed), feedB)
	sender.Push(entryMsg(11, 0, 1), feedA)

	// a cursor opened at the tail re-reads the finalized status, then
	// only the post-finalization slot's messages follow
	got := readN(t, rx, 2)
	assert.Equal(t, pb.SlotStatusFinalized, got[0].(*message.Slot).Status())
	assert.Equal(t, message.KindEntry, got[1].Kind())
	assert.Equal(t, uint64(11), got[1].Slot())

	_, sealedGone := sender.slots[10]
	assert.False(t, sealedGone)
	_, dedupKept := sender.dedup[11]
	assert.True(t, dedupKept)
}

func TestConfirmedRepublication(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 1024, MaxBytes: 1 << 20, Confirmed: true})
	rx, err := ms.Subscribe(pb.CommitmentConfirmed, nil, nil)
	require.NoError(t, err)

	sender.Push(slotMsg(100, 99, pb.SlotStatusProcessed), nil)
	sender.Push(accountMsg(100, 'P', 1, nil), nil)
	sender.Push(txMsg(100, 'S', 0), nil)
	sender.Push(entryMsg(100, 0, 1), nil)
	sender.Push(blockMetaMsg(100, 1, 1), nil)
	sender.Push(slotMsg(100, 99, pb.SlotStatusConfirmed), nil)

	got := readN(t, rx, 6)
	kinds := make([]message.Kind, len(got))
	for i, m := range got {
		kinds[i] = m.Kind()
	}
	assert.Equal(t, []message.Kind{
		message.KindAccount, message.KindTransaction, message.KindEntry,
		message.KindBlockMeta, message.KindBlock, message.KindSlot,
	}, kinds)
	assert.Equal(t, pb.SlotStatusConfirmed, got[5].(*message.Slot).Status())

	// late message for the already-confirmed slot follows into the ring
	sender.Push(accountMsg(100, 'Q', 2, nil), nil)
	late := readN(t, rx, 1)
	assert.Equal(t, message.KindAccount, late[0].Kind())
}

func TestFinalizedDrain(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 1024, MaxBytes: 1 << 20, Confirmed: true, Finalized: true})
	rx, err := ms.Subscribe(pb.CommitmentFinalized, nil, nil)
	require.NoError(t, err)

	sender.Push(slotMsg(100, 99, pb.SlotStatusProcessed), nil)
	sender.Push(txMsg(100, 'S', 0), nil)
	sender.Push(entryMsg(100, 0, 1), nil)
	sender.Push(blockMetaMsg(100, 1, 1), nil)
	sender.Push(slotMsg(100, 99, pb.SlotStatusConfirmed), nil)
	sender.Push(slotMsg(100, 99, pb.SlotStatusFinalized), nil)

	got := readN(t, rx, 5)
	kinds := make([]message.Kind, len(got))
	for i, m := range got {
		kinds[i] = m.Kind()
	}
	assert.Equal(t, []message.Kind{
		message.KindTransaction, message.KindEntry, message.KindBlockMeta,
		message.KindBlock, message.KindSlot,
	}, kinds)
	assert.Equal(t, pb.SlotStatusFinalized, got[4].(*message.Slot).Status())

	// assemblers at or below the finalized slot are gone
	assert.Empty(t, sender.slots)
}

func TestSubscribeRejections(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 8, MaxBytes: 1 << 20})

	_, err := ms.Subscribe(pb.CommitmentConfirmed, nil, nil)
	assert.ErrorIs(t, err, ErrNotInitialized)

	replay := uint64(5)
	_, err = ms.Subscribe(pb.CommitmentProcessed, &replay, nil)
	assert.ErrorIs(t, err, ErrNotInitialized)

	sender.Push(slotMsg(10, 9, pb.SlotStatusProcessed), nil)
	_, err = ms.Subscribe(pb.CommitmentProcessed, &replay, nil)
	var notAvail *SlotNotAvailableError
	require.ErrorAs(t, err, &notAvail)
	assert.Equal(t, uint64(10), notAvail.FirstAvailable)
}

func TestReplayAcrossEviction(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 8, MaxBytes: 1 << 20})

	// 4 messages per slot over slots 500..504: only the last two slots
	// stay fully resident in a ring of 8 cells
	for slot := uint64(500); slot <= 504; slot++ {
		sender.Push(slotMsg(slot, slot-1, pb.SlotStatusProcessed), nil)
		sender.Push(accountMsg(slot, 'A', 1, nil), nil)
		sender.Push(txMsg(slot, byte(slot), 0), nil)
		sender.Push(entryMsg(slot, 0, 1), nil)
	}

	first, ok := ms.FirstAvailableSlot()
	require.True(t, ok)
	assert.Equal(t, uint64(503), first)

	rx, err := ms.Subscribe(pb.CommitmentProcessed, &first, nil)
	require.NoError(t, err)
	got := readN(t, rx, 8)
	for _, m := range got {
		assert.GreaterOrEqual(t, m.Slot(), first)
	}

	before := first - 1
	_, err = ms.Subscribe(pb.CommitmentProcessed, &before, nil)
	var notAvail *SlotNotAvailableError
	require.ErrorAs(t, err, &notAvail)
	assert.Equal(t, first, notAvail.FirstAvailable)
}

func TestCapacityOne(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 1, MaxBytes: 1 << 20})

	// first push lands in an empty cell, nothing to evict
	sender.Push(slotMsg(1, 0, pb.SlotStatusProcessed), nil)
	assert.Equal(t, uint64(1), sender.processed.head)
	assert.Equal(t, uint64(2), sender.processed.tail)

	// second push laps the only cell and advances the head
	sender.Push(slotMsg(2, 0, pb.SlotStatusProcessed), nil)
	assert.Equal(t, uint64(2), sender.processed.head)
	assert.Equal(t, uint64(3), sender.processed.tail)

	rx, err := ms.Subscribe(pb.CommitmentProcessed, nil, nil)
	require.NoError(t, err)
	got := readN(t, rx, 1)
	assert.Equal(t, uint64(2), got[0].Slot())
}

func TestByteBudgetSmallerThanMessage(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 8, MaxBytes: 1})

	sender.Push(slotMsg(1, 0, pb.SlotStatusProcessed), nil)
	sender.Push(slotMsg(2, 0, pb.SlotStatusProcessed), nil)

	// only the newest message survives each push
	assert.Equal(t, uint64(1), sender.processed.tail-sender.processed.head)

	rx, err := ms.Subscribe(pb.CommitmentProcessed, nil, nil)
	require.NoError(t, err)
	got := readN(t, rx, 1)
	assert.Equal(t, uint64(2), got[0].Slot())
}

func TestFilterSkipsButAdvances(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 1024, MaxBytes: 1 << 20})
	rx, err := ms.Subscribe(pb.CommitmentProcessed, nil, &pb.SubscribeRequestFilter{
		DisableAccounts:     true,
		DisableTransactions: true,
	})
	require.NoError(t, err)

	sender.Push(accountMsg(5, 'P', 1, nil), nil)
	sender.Push(txMsg(5, 'S', 0), nil)
	sender.Push(entryMsg(5, 0, 1), nil)

	got := readN(t, rx, 1)
	assert.Equal(t, message.KindEntry, got[0].Kind())
}

func TestCloseUnblocksReceiver(t *testing.T) {
	ms, _ := newTestChannel(t, Config{MaxMessages: 8, MaxBytes: 1 << 20})
	rx, err := ms.Subscribe(pb.CommitmentProcessed, nil, nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := rx.NextMessage(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	ms.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("receiver did not observe close")
	}
}

func TestOrderPreservedForSteadyReader(t *testing.T) {
	ms, sender := newTestChannel(t, Config{MaxMessages: 4096, MaxBytes: 1 << 30})
	rx, err := ms.Subscribe(pb.CommitmentProcessed, nil, nil)
	require.NoError(t, err)

	done := make(chan []uint64, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var slots []uint64
		for {
			msg, err := rx.NextMessage(ctx)
			if err != nil {
				done <- slots
				return
			}
			slots = append(slots, msg.Slot())
		}
	}()

	const n = 2000
	for i := uint64(1); i <= n; i++ {
		sender.Push(entryMsg(i, 0, 1), nil)
	}
	ms.Close()

	slots := <-done
	require.Len(t, slots, n)
	for i, slot := range slots {
		require.Equal(t, uint64(i+1), slot)
	}
}
