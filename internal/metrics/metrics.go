package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renex_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "renex_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "renex_messages_sent_total",
			Help: "Total messages stored",
		},
	)

	SendsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renex_sends_rejected_total",
			Help: "Total sends rejected before storage",
		},
		[]string{"reason"}, // "validation", "cooldown"
	)

	ThreadReads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "renex_thread_reads_total",
			Help: "Total thread listings served",
		},
	)

	KeysPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "renex_keys_published_total",
			Help: "Total public keys published",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renex_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renex_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "renex_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	DatabaseLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "renex_database_latency_seconds",
			Help:    "Database query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
