package parallel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	workersLaunched prometheus.Counter
	launchFailures  prometheus.Counter
	workersActive   prometheus.Gauge
	rowsGathered    prometheus.Counter
	bytesGathered   prometheus.Counter
	queueDetaches   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		workersLaunched: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "parallel_workers_launched_total",
			Help: "Number of scan workers successfully launched.",
		}),
		launchFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "parallel_worker_launch_failures_total",
			Help: "Number of worker slots that failed to start.",
		}),
		workersActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "parallel_workers_active",
			Help: "Number of scan workers currently running.",
		}),
		rowsGathered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "parallel_rows_gathered_total",
			Help: "Rows pulled from worker queues by the coordinator.",
		}),
		bytesGathered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "parallel_bytes_gathered_total",
			Help: "Payload bytes pulled from worker queues by the coordinator.",
		}),
		queueDetaches: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "parallel_queue_detaches_total",
			Help: "Queue detach transitions issued by the coordinator.",
		}),
	}
}
