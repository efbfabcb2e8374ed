// Package obs holds the service's prometheus metric bundle.
package obs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	SyncOpsTotal *prometheus.CounterVec // op=add|delete|renew, result=success|policy|not_owner|quota|busy|remote_rejected|ledger_write|error

	ReconciliationTotal prometheus.Counter

	SweepDeletedTotal prometheus.Counter
	SweepSkippedTotal prometheus.Counter
	SweepFailedTotal  prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		SyncOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subdns_sync_ops_total",
				Help: "Synchronizer operations by op and result",
			},
			[]string{"op", "result"},
		),
		ReconciliationTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subdns_reconciliation_required_total",
			Help: "Times the ledger and the authoritative service diverged and compensation also failed",
		}),
		SweepDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subdns_sweep_deleted_total",
			Help: "Expired leases retired by the sweeper",
		}),
		SweepSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subdns_sweep_skipped_privileged_total",
			Help: "Expired leases skipped because the owner is privileged",
		}),
		SweepFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subdns_sweep_failed_total",
			Help: "Expired leases the sweeper failed to delete",
		}),
	}

	prometheus.MustRegister(
		m.SyncOpsTotal,
		m.ReconciliationTotal,
		m.SweepDeletedTotal,
		m.SweepSkippedTotal,
		m.SweepFailedTotal,
	)

	return m
}
