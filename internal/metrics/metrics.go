package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wafflebrain_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wafflebrain_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Ingestion pipeline metrics
	IngestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wafflebrain_ingestions_total",
			Help: "Total number of ingestion pipeline runs",
		},
		[]string{"status"},
	)

	IngestionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wafflebrain_ingestion_duration_seconds",
			Help:    "Duration of full ingestion pipeline runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	IngestionStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wafflebrain_ingestion_step_failures_total",
			Help: "Total number of ingestion step failures",
		},
		[]string{"step", "severity"},
	)

	// Search metrics
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wafflebrain_searches_total",
			Help: "Total number of semantic searches processed",
		},
		[]string{"status"},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wafflebrain_search_duration_seconds",
			Help:    "Duration of the synchronous search phase in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// AI answer streaming metrics
	AnswerStreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wafflebrain_answer_streams_total",
			Help: "Total number of AI answer generations",
		},
		[]string{"status"},
	)

	AnswerSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wafflebrain_answer_subscribers",
			Help: "Number of currently attached answer-stream subscribers",
		},
	)

	// OpenAI call metrics
	OpenAIAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wafflebrain_openai_api_calls_total",
			Help: "Total number of OpenAI API calls",
		},
		[]string{"operation", "status"},
	)

	OpenAIAPICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wafflebrain_openai_api_call_duration_seconds",
			Help:    "Duration of OpenAI API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wafflebrain_cache_lookups_total",
			Help: "Total number of TTL cache lookups",
		},
		[]string{"cache", "result"},
	)

	// Transcoder metrics
	TranscoderInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wafflebrain_transcoder_invocations_total",
			Help: "Total number of ffmpeg/ffprobe invocations",
		},
		[]string{"operation", "status"},
	)

	// Database metrics
	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wafflebrain_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	VideoMetadataRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wafflebrain_video_metadata_rows",
			Help: "Total number of video metadata rows",
		},
	)

	VideoMetadataMissingRecap = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wafflebrain_video_metadata_missing_recap",
			Help: "Number of video metadata rows without an AI recap",
		},
	)

	VideoMetadataMissingThumbnail = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wafflebrain_video_metadata_missing_thumbnail",
			Help: "Number of video metadata rows without a thumbnail",
		},
	)
)
