// Package monitoring exposes the worker's Prometheus metrics and a small
// operational HTTP surface.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fetchlab/harvester/internal/proxy"
)

// Metrics holds the worker's instrument set. It satisfies the runner's
// MetricsRecorder.
type Metrics struct {
	tasksTotal    *prometheus.CounterVec
	taskDuration  prometheus.Histogram
	pagesScraped  prometheus.Counter
	computeUnits  prometheus.Counter
	proxyFailures prometheus.Counter
}

// NewMetrics registers the task-level instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvester",
			Name:      "tasks_total",
			Help:      "Tasks executed, partitioned by terminal status.",
		}, []string{"status"}),
		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "harvester",
			Name:      "task_duration_seconds",
			Help:      "Wall-clock task execution time.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		pagesScraped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "harvester",
			Name:      "pages_scraped_total",
			Help:      "Pages visited across all tasks.",
		}),
		computeUnits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "harvester",
			Name:      "compute_units_total",
			Help:      "Billed compute units across all tasks.",
		}),
		proxyFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "harvester",
			Name:      "proxy_failures_total",
			Help:      "Task attempts that failed at the proxy layer.",
		}),
	}
}

// ObserveTask records one finished task.
func (m *Metrics) ObserveTask(status string, duration time.Duration, pages int, computeUnits float64) {
	m.tasksTotal.WithLabelValues(status).Inc()
	m.taskDuration.Observe(duration.Seconds())
	m.pagesScraped.Add(float64(pages))
	m.computeUnits.Add(computeUnits)
}

// ObserveProxyFailure records one proxy-layer attempt failure.
func (m *Metrics) ObserveProxyFailure() {
	m.proxyFailures.Inc()
}

// RegisterPoolGauges exports the pool's live state as gauges evaluated at
// scrape time.
func RegisterPoolGauges(reg prometheus.Registerer, stats func() proxy.Stats) {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "harvester",
		Name:      "proxies_total",
		Help:      "Proxy endpoints known to the pool.",
	}, func() float64 { return float64(stats().TotalProxies) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "harvester",
		Name:      "proxies_healthy",
		Help:      "Proxy endpoints currently serving.",
	}, func() float64 { return float64(stats().HealthyProxies) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "harvester",
		Name:      "proxy_switches_total",
		Help:      "Evictions that forced rotation to another proxy.",
	}, func() float64 { return float64(stats().ProxySwitches) })
}
