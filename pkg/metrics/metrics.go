// Package metrics exposes Prometheus instrumentation for the journal.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AppendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_appends_total",
		Help: "Total number of records appended, by submission mode",
	}, []string{"mode"})

	AppendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "journal_append_failures_total",
		Help: "Total number of appends rejected with an I/O error",
	})

	RolloversTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_rollovers_total",
		Help: "Total number of segment rollovers, by kind",
	}, []string{"kind"})

	BatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "journal_batches_total",
		Help: "Total number of batch commits, by result",
	}, []string{"result"})

	ReplayedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "journal_replayed_records_total",
		Help: "Total number of records re-emitted during startup replay",
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "journal_queue_depth",
		Help: "Current number of entries waiting in the async append queue",
	})
)

func init() {
	prometheus.MustRegister(AppendsTotal, AppendFailures, RolloversTotal, BatchesTotal, ReplayedRecords, QueueDepth)
}

// Serve starts the Prometheus exporter on the given port.
func Serve(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
	}()
}
