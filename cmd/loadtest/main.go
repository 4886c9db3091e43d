// Command loadtest benchmarks the in-process channel: one synthetic
// producer pushing slots of account/transaction/entry updates against a
// configurable number of concurrent subscribers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/solstream/bus/internal/channel"
	"github.com/solstream/bus/internal/message"
	"github.com/solstream/bus/pb"
)

// LoadTestConfig holds the benchmark parameters.
type LoadTestConfig struct {
	Slots          int
	TxPerSlot      int
	AccountData    int
	Subscribers    int
	MaxMessages    int
	MaxBytes       int
	ReportInterval time.Duration
}

// LoadTestStats tracks the benchmark outcome.
type LoadTestStats struct {
	Pushed    uint64
	Delivered uint64
	Lagged    uint64
	Duration  time.Duration
}

func main() {
	slots := flag.Int("slots", 1000, "number of synthetic slots to produce")
	txPerSlot := flag.Int("tx-per-slot", 64, "transactions (and entries/accounts) per slot")
	accountData := flag.Int("account-data", 512, "account data payload size in bytes")
	subscribers := flag.Int("subscribers", 8, "number of concurrent subscribers")
	maxMessages := flag.Int("max-messages", 1<<16, "ring capacity")
	maxBytes := flag.Int("max-bytes", 1<<30, "ring byte budget")
	report := flag.Duration("report", 5*time.Second, "stats reporting interval")
	flag.Parse()

	cfg := LoadTestConfig{
		Slots:          *slots,
		TxPerSlot:      *txPerSlot,
		AccountData:    *accountData,
		Subscribers:    *subscribers,
		MaxMessages:    *maxMessages,
		MaxBytes:       *maxBytes,
		ReportInterval: *report,
	}

	slog.Info("starting channel load test",
		"slots", cfg.Slots,
		"tx_per_slot", cfg.TxPerSlot,
		"subscribers", cfg.Subscribers,
		"max_messages", cfg.MaxMessages)

	stats := runLoadTest(cfg)
	printResults(cfg, stats)
}

func runLoadTest(cfg LoadTestConfig) *LoadTestStats {
	messages := channel.New(channel.Config{
		MaxMessages: cfg.MaxMessages,
		MaxBytes:    cfg.MaxBytes,
		Confirmed:   true,
		Finalized:   true,
	}, nil, slog.Default())
	sender := messages.NewSender()

	stats := &LoadTestStats{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Subscribers; i++ {
		rx, err := messages.Subscribe(pb.CommitmentProcessed, nil, nil)
		if err != nil {
			slog.Error("subscribe failed", "error", err)
			return stats
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := rx.NextMessage(ctx)
				if err != nil {
					if err == channel.ErrLagged {
						atomic.AddUint64(&stats.Lagged, 1)
					}
					return
				}
				atomic.AddUint64(&stats.Delivered, 1)
			}
		}()
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.ReportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				slog.Info("progress",
					"pushed", atomic.LoadUint64(&stats.Pushed),
					"delivered", atomic.LoadUint64(&stats.Delivered))
			case <-stop:
				return
			}
		}
	}()

	start := time.Now()
	produce(sender, cfg, stats)
	stats.Duration = time.Since(start)
	close(stop)

	messages.Close()
	wg.Wait()
	return stats
}

func produce(sender *channel.Sender, cfg LoadTestConfig, stats *LoadTestStats) {
	const baseSlot = uint64(1_000_000)
	data := make([]byte, cfg.AccountData)
	now := timestamppb.Now()

	push := func(msg message.ParsedMessage) {
		sender.Push(msg, nil)
		atomic.AddUint64(&stats.Pushed, 1)
	}

	for i := 0; i < cfg.Slots; i++ {
		slot := baseSlot + uint64(i)
		parent := slot - 1
		push(message.NewSlot(&pb.SubscribeUpdateSlot{
			Slot: slot, Parent: &parent, Status: pb.SlotStatusFirstShredReceived,
		}, now))

		for tx := 0; tx < cfg.TxPerSlot; tx++ {
			sig := make([]byte, 64)
			sig[0] = byte(tx)
			sig[1] = byte(tx >> 8)
			pubkey := make([]byte, 32)
			pubkey[0] = byte(tx)

			push(message.NewAccount(&pb.SubscribeUpdateAccount{
				Account: &pb.SubscribeUpdateAccountInfo{
					Pubkey:       pubkey,
					Owner:        make([]byte, 32),
					Lamports:     1,
					Data:         data,
					WriteVersion: uint64(tx + 1),
				},
				Slot: slot,
			}, now))
			push(message.NewTransaction(&pb.SubscribeUpdateTransaction{
				Transaction: &pb.SubscribeUpdateTransactionInfo{
					Signature: sig,
					Index:     uint64(tx),
				},
				Slot: slot,
			}, now))
			push(message.NewEntry(&pb.SubscribeUpdateEntry{
				Slot:                     slot,
				Index:                    uint64(tx),
				NumHashes:                12800,
				Hash:                     make([]byte, 32),
				ExecutedTransactionCount: 1,
				StartingTransactionIndex: uint64(tx),
			}, now))
		}

		push(message.NewSlot(&pb.SubscribeUpdateSlot{
			Slot: slot, Parent: &parent, Status: pb.SlotStatusProcessed,
		}, now))
		push(message.NewBlockMeta(&pb.SubscribeUpdateBlockMeta{
			Slot:                     slot,
			ParentSlot:               parent,
			ExecutedTransactionCount: uint64(cfg.TxPerSlot),
			EntryCount:               uint64(cfg.TxPerSlot),
		}, now))
	}
}

func printResults(cfg LoadTestConfig, stats *LoadTestStats) {
	throughput := float64(stats.Pushed) / stats.Duration.Seconds()
	fmt.Printf("\n=== Channel Load Test Results ===\n")
	fmt.Printf("Pushed:       %d messages\n", stats.Pushed)
	fmt.Printf("Delivered:    %d messages (%d subscribers)\n", stats.Delivered, cfg.Subscribers)
	fmt.Printf("Lagged:       %d subscribers\n", stats.Lagged)
	fmt.Printf("Duration:     %s\n", stats.Duration)
	fmt.Printf("Throughput:   %.0f msg/s\n", throughput)
}
