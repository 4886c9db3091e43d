// Package metrics exposes the Prometheus instrumentation for the bus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Block assembly failure reasons.
const (
	ReasonMismatchTransactions = "mismatch_transactions"
	ReasonMismatchEntries      = "mismatch_entries"
	ReasonMissedBlockMeta      = "missed_block_meta"
	ReasonExtraAccount         = "extra_account"
	ReasonExtraTransaction     = "extra_transaction"
	ReasonExtraEntry           = "extra_entry"
	ReasonExtraBlockMeta       = "extra_block_meta"
)

// Metrics holds all Prometheus collectors for the bus.
type Metrics struct {
	// Channel state
	ChannelSlot          *prometheus.GaugeVec // commitment -> latest slot
	ChannelMessagesTotal prometheus.Gauge
	ChannelSlotsTotal    prometheus.Gauge
	ChannelBytesTotal    prometheus.Gauge

	// Slot assembly
	BlockAssemblyFailed *prometheus.CounterVec // reason
	MissedSlotStatus    *prometheus.CounterVec // status (synthesised transitions)

	// Subscribers
	SubscribersConnected *prometheus.GaugeVec   // transport
	SubscribersLagged    *prometheus.CounterVec // transport

	// Upstream feeds
	SourceMessages   *prometheus.CounterVec // feed
	SourceReconnects *prometheus.CounterVec // feed
	SourceDropped    *prometheus.CounterVec // feed (decode failures)
}

// New creates all collectors and registers them with reg. A nil reg
// leaves the collectors unregistered, which tests rely on.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChannelSlot: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bus_channel_slot",
				Help: "Latest slot observed per commitment level",
			},
			[]string{"commitment"},
		),
		ChannelMessagesTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bus_channel_messages_total",
				Help: "Messages currently resident in the processed ring",
			},
		),
		ChannelSlotsTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bus_channel_slots_total",
				Help: "Slots currently replayable from the processed ring",
			},
		),
		ChannelBytesTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bus_channel_bytes_total",
				Help: "Payload bytes currently resident in the processed ring",
			},
		),
		BlockAssemblyFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_block_assembly_failed_total",
				Help: "Slots whose synthetic Block could not be assembled, by reason",
			},
			[]string{"reason"},
		),
		MissedSlotStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_missed_slot_status_total",
				Help: "Slot status transitions synthesised for upstream gaps",
			},
			[]string{"status"},
		),
		SubscribersConnected: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bus_subscribers_connected",
				Help: "Connected subscribers per transport",
			},
			[]string{"transport"},
		),
		SubscribersLagged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_subscribers_lagged_total",
				Help: "Subscriber sessions terminated by lag",
			},
			[]string{"transport"},
		),
		SourceMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_source_messages_total",
				Help: "Messages ingested per upstream feed",
			},
			[]string{"feed"},
		),
		SourceReconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_source_reconnects_total",
				Help: "Reconnect attempts per upstream feed",
			},
			[]string{"feed"},
		),
		SourceDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_source_dropped_total",
				Help: "Messages dropped on decode failure per upstream feed",
			},
			[]string{"feed"},
		),
	}
}
