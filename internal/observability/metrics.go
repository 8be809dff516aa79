package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fl",
		Name:      "images_ingested_total",
		Help:      "Total number of images run through the ingestion pipeline",
	}, []string{"outcome"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fl",
		Name:      "faces_detected_total",
		Help:      "Total number of face detections returned by the oracle",
	})

	FacesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fl",
		Name:      "faces_discarded_total",
		Help:      "Detections dropped for low confidence",
	})

	IdentitiesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fl",
		Name:      "identities_created_total",
		Help:      "Total number of identities created",
	})

	OccurrencesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fl",
		Name:      "occurrences_appended_total",
		Help:      "Total number of occurrences appended to existing identities",
	})

	ResolutionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fl",
		Name:      "resolution_failures_total",
		Help:      "Faces that could not be resolved",
	}, []string{"reason"})

	OracleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fl",
		Name:      "oracle_duration_seconds",
		Help:      "Duration of vision oracle calls",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"op"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fl",
		Name:      "queue_depth",
		Help:      "Number of pending ingest tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fl",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fl",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
