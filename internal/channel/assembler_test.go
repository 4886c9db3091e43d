package channel

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solstream/bus/internal/metrics"
	"github.com/solstream/bus/pb"
)

func TestAssemblerAnomalyAfterSeal(t *testing.T) {
	m := metrics.New(nil)
	ms := New(Config{MaxMessages: 1024, MaxBytes: 1 << 20}, m, nil)
	sender := ms.NewSender()

	sender.Push(txMsg(50, 'S', 0), nil)
	sender.Push(entryMsg(50, 0, 1), nil)
	sender.Push(blockMetaMsg(50, 1, 1), nil)

	// sealed; the straggler is an anomaly, reported once
	sender.Push(accountMsg(50, 'P', 1, nil), nil)
	sender.Push(accountMsg(50, 'Q', 2, nil), nil)

	extra := m.BlockAssemblyFailed.WithLabelValues(metrics.ReasonExtraAccount)
	assert.Equal(t, 1.0, testutil.ToFloat64(extra))
}

func TestAssemblerMissedBlockMetaOnDrop(t *testing.T) {
	m := metrics.New(nil)
	ms := New(Config{MaxMessages: 1024, MaxBytes: 1 << 20}, m, nil)
	sender := ms.NewSender()

	sender.Push(slotMsg(60, 59, pb.SlotStatusProcessed), nil)
	sender.Push(txMsg(60, 'S', 0), nil)
	sender.Push(slotMsg(60, 59, pb.SlotStatusConfirmed), nil)
	sender.Push(slotMsg(60, 59, pb.SlotStatusFinalized), nil)

	missed := m.BlockAssemblyFailed.WithLabelValues(metrics.ReasonMissedBlockMeta)
	assert.Equal(t, 1.0, testutil.ToFloat64(missed))
}

func TestAssemblerMismatchOnDrop(t *testing.T) {
	m := metrics.New(nil)
	ms := New(Config{MaxMessages: 1024, MaxBytes: 1 << 20}, m, nil)
	sender := ms.NewSender()

	// block meta expects two transactions and one entry, only one
	// transaction lands
	sender.Push(slotMsg(70, 69, pb.SlotStatusProcessed), nil)
	sender.Push(txMsg(70, 'S', 0), nil)
	sender.Push(entryMsg(70, 0, 1), nil)
	sender.Push(blockMetaMsg(70, 2, 1), nil)
	sender.Push(slotMsg(70, 69, pb.SlotStatusConfirmed), nil)
	sender.Push(slotMsg(70, 69, pb.SlotStatusFinalized), nil)

	mismatch := m.BlockAssemblyFailed.WithLabelValues(metrics.ReasonMismatchTransactions)
	assert.Equal(t, 1.0, testutil.ToFloat64(mismatch))
}

func TestAssemblerSkippedSlotIsSilent(t *testing.T) {
	m := metrics.New(nil)
	asm := newSlotAssembler(80)
	asm.ingest(txMsg(80, 'S', 0), nil, m)

	// never landed in consensus: dropping it is not an anomaly
	asm.finish(m)
	missed := m.BlockAssemblyFailed.WithLabelValues(metrics.ReasonMissedBlockMeta)
	assert.Equal(t, 0.0, testutil.ToFloat64(missed))
}

func TestAssemblerSealOrderIndependent(t *testing.T) {
	m := metrics.New(nil)
	asm := newSlotAssembler(90)

	// block meta first, counts match only after the last entry arrives
	require.Nil(t, asm.ingest(blockMetaMsg(90, 1, 2), nil, m))
	require.Nil(t, asm.ingest(txMsg(90, 'S', 0), nil, m))
	require.Nil(t, asm.ingest(entryMsg(90, 0, 1), nil, m))
	sealed := asm.ingest(entryMsg(90, 1, 0), nil, m)
	require.NotNil(t, sealed)
	assert.Len(t, sealed.block.Transactions(), 1)
	assert.Len(t, sealed.block.Entries(), 2)
}
