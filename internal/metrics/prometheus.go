// Package metrics exposes the orchestrator's Prometheus collectors:
// package-level collectors registered once at init time and incremented
// directly from call sites, rather than threading a metrics handle through
// every constructor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	VmStartsDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vmmad",
		Subsystem: "orchestrator",
		Name:      "vm_starts_dispatched_total",
		Help:      "Number of asynchronous startVm calls dispatched to the worker pool.",
	})
	VmsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vmmad",
		Subsystem: "orchestrator",
		Name:      "vms_started_total",
		Help:      "Number of VMs the provider accepted as started.",
	})
	VmStartFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vmmad",
		Subsystem: "orchestrator",
		Name:      "vm_start_failures_total",
		Help:      "Number of startVm calls that returned an error.",
	})
	VmsStopped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vmmad",
		Subsystem: "orchestrator",
		Name:      "vms_stopped_total",
		Help:      "Number of VMs the provider confirmed as torn down.",
	})
	VmStopFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vmmad",
		Subsystem: "orchestrator",
		Name:      "vm_stop_failures_total",
		Help:      "Number of stopVm calls that returned an error (retried next cycle).",
	})
	VmsReady = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vmmad",
		Subsystem: "orchestrator",
		Name:      "vms_ready_total",
		Help:      "Number of successful ready callbacks (STARTING -> READY transitions).",
	})
	ReadyCallbackRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vmmad",
		Subsystem: "orchestrator",
		Name:      "ready_callback_rejected_total",
		Help:      "Number of ready callbacks rejected for an unknown or missing auth token.",
	})
	CyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vmmad",
		Subsystem: "orchestrator",
		Name:      "cycles_total",
		Help:      "Number of reconciliation cycles completed.",
	})
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vmmad",
		Subsystem: "orchestrator",
		Name:      "cycle_duration_seconds",
		Help:      "Wall-clock duration of a single reconciliation cycle.",
		Buckets:   prometheus.DefBuckets,
	})
	VmsByState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vmmad",
		Subsystem: "orchestrator",
		Name:      "vms_by_state",
		Help:      "Current number of managed VMs in each lifecycle state.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(
		VmStartsDispatched,
		VmsStarted,
		VmStartFailures,
		VmsStopped,
		VmStopFailures,
		VmsReady,
		ReadyCallbackRejected,
		CyclesTotal,
		CycleDuration,
		VmsByState,
	)
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
