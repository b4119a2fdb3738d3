package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_events_total",
			Help: "Total number of bridge events observed by watchers",
		},
		[]string{"chain", "direction"},
	)

	SignaturesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_signatures_appended_total",
			Help: "Total number of signatures appended to the signature store",
		},
		[]string{"destination"},
	)

	// Queue metrics
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_jobs_enqueued_total",
			Help: "Enqueue attempts by result (added, duplicate)",
		},
		[]string{"result"},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_jobs_total",
			Help: "Job lifecycle transitions",
		},
		[]string{"state"},
	)

	// Settlement metrics
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_settlements_total",
			Help: "Settlement transactions by outcome",
		},
		[]string{"destination", "direction", "status"},
	)

	SettlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_settlement_duration_seconds",
			Help:    "Time from dispatch to confirmed settlement",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"destination"},
	)

	// Watcher metrics
	WatcherState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_watcher_state",
			Help: "Watcher connection state (0 stopped, 1 connected, 2 error, 3 reconnecting)",
		},
		[]string{"chain"},
	)

	WatcherReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_watcher_reconnects_total",
			Help: "Total number of watcher reconnect attempts",
		},
		[]string{"chain"},
	)

	ChainBlockNumber = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_chain_block_number",
			Help: "Latest block number seen by the watcher probe",
		},
		[]string{"chain"},
	)

	// History metrics
	HistoryReports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_history_reports_total",
			Help: "Transaction history reports by status",
		},
		[]string{"status"},
	)

	ConfigErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_config_errors_total",
			Help: "Events dropped because of missing token or network configuration",
		},
		[]string{"kind"},
	)

	// Relayer metrics
	RelayerWorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_relayer_workers_active",
			Help: "Number of active relayer workers",
		},
	)

	// Database metrics
	DatabaseConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_database_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// RecordSettlement records a finished settlement attempt
func RecordSettlement(destination, direction, status string, seconds float64) {
	SettlementsTotal.WithLabelValues(destination, direction, status).Inc()
	SettlementDuration.WithLabelValues(destination).Observe(seconds)
}

// UpdateChainBlockNumber updates the latest block number for a chain
func UpdateChainBlockNumber(chain string, blockNumber uint64) {
	ChainBlockNumber.WithLabelValues(chain).Set(float64(blockNumber))
}

// UpdateWatcherState publishes the numeric watcher state
func UpdateWatcherState(chain string, state int) {
	WatcherState.WithLabelValues(chain).Set(float64(state))
}
