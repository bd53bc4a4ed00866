package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Directory metrics
	CamerasTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutter_cameras_total",
			Help: "Total number of cameras in the device directory",
		},
	)

	// Supervisor metrics
	WorkersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutter_workers_running",
			Help: "Number of workers currently registered with the supervisor",
		},
	)

	WorkerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shutter_worker_restarts_total",
			Help: "Total number of abnormal worker terminations followed by a restart",
		},
		[]string{"worker"},
	)

	ConfigRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shutter_config_rejections_total",
			Help: "Total number of camera records rejected by the config builder",
		},
	)

	BootstrapDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shutter_bootstrap_duration_seconds",
			Help:    "Time taken to start workers for the whole device directory",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Worker metrics
	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shutter_snapshots_total",
			Help: "Total number of snapshot fetches by result",
		},
		[]string{"result"},
	)

	SnapshotFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shutter_snapshot_fetch_duration_seconds",
			Help:    "Snapshot fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shutter_events_dropped_total",
			Help: "Total number of events dropped because a worker's dispatch queue was full",
		},
	)

	DispatchAbandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shutter_dispatch_abandoned_total",
			Help: "Total number of stopped workers whose handler chain did not drain in time",
		},
	)

	// Handler metrics
	HandlerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shutter_handler_errors_total",
			Help: "Total number of failed or panicking event handler invocations",
		},
		[]string{"handler"},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shutter_handler_duration_seconds",
			Help:    "Event handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)

	MotionDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shutter_motion_detected_total",
			Help: "Total number of snapshots whose motion level exceeded the threshold",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shutter_api_requests_total",
			Help: "Total number of API requests by path and status",
		},
		[]string{"path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shutter_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CamerasTotal)
	prometheus.MustRegister(WorkersRunning)
	prometheus.MustRegister(WorkerRestartsTotal)
	prometheus.MustRegister(ConfigRejectionsTotal)
	prometheus.MustRegister(BootstrapDuration)
	prometheus.MustRegister(SnapshotsTotal)
	prometheus.MustRegister(SnapshotFetchDuration)
	prometheus.MustRegister(EventsDroppedTotal)
	prometheus.MustRegister(DispatchAbandonedTotal)
	prometheus.MustRegister(HandlerErrorsTotal)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(MotionDetectedTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
