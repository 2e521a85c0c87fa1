package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	RoomsActiveKey            = "copypad_rooms_active"
	PeersActiveKey            = "copypad_peers_active"
	EditsTotalKey             = "copypad_edits_total"
	DeliveriesDroppedTotalKey = "copypad_deliveries_dropped_total"
	StoreOpsTotalKey          = "copypad_store_ops_total"
	StoreOpDurationSecondsKey = "copypad_store_op_duration_seconds"
	RelayMessagesTotalKey     = "copypad_relay_messages_total"
	DocumentsExpiredTotalKey  = "copypad_documents_expired_total"
)

var (
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: RoomsActiveKey,
		Help: "Number of rooms currently held in memory.",
	})
	PeersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: PeersActiveKey,
		Help: "Number of chat connections currently joined to a room.",
	})
	EditsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: EditsTotalKey,
		Help: "Cumulative number of edits applied to rooms.",
	})
	DeliveriesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: DeliveriesDroppedTotalKey,
		Help: "Cumulative number of room deliveries that were not handed to a peer.",
	})
	StoreOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: StoreOpsTotalKey,
		Help: "Cumulative number of store operations by op and outcome.",
	}, []string{"op", "outcome"})
	StoreOpDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: StoreOpDurationSecondsKey,
		Help: "Duration of store operations.",
	}, []string{"op"})
	RelayMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: RelayMessagesTotalKey,
		Help: "Cumulative number of relay messages by direction.",
	}, []string{"direction"})
	DocumentsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: DocumentsExpiredTotalKey,
		Help: "Cumulative number of documents removed by the expiry sweeper.",
	})
)

// Collectors returns every collector of this package for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RoomsActive,
		PeersActive,
		EditsTotal,
		DeliveriesDroppedTotal,
		StoreOpsTotal,
		StoreOpDurationSeconds,
		RelayMessagesTotal,
		DocumentsExpiredTotal,
	}
}

// ObserveStoreOp records the outcome and duration of one store call.
func ObserveStoreOp(op string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	StoreOpsTotal.WithLabelValues(op, outcome).Inc()
	StoreOpDurationSeconds.WithLabelValues(op).Observe(time.Since(started).Seconds())
}
