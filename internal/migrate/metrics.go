package migrate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the run counters exported on the status server.
type Metrics struct {
	published      prometheus.Counter
	failed         prometheus.Counter
	quotes         prometheus.Counter
	mediaFailures  prometheus.Counter
	inFlight       prometheus.Gauge
	checkpoint     prometheus.Gauge
	publishSeconds prometheus.Histogram
}

// NewMetrics registers the migration metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		published: f.NewCounter(prometheus.CounterOpts{
			Name: "bsky_migrate_posts_published_total",
			Help: "Posts created on the destination.",
		}),
		failed: f.NewCounter(prometheus.CounterOpts{
			Name: "bsky_migrate_posts_failed_total",
			Help: "Posts whose publish attempt failed.",
		}),
		quotes: f.NewCounter(prometheus.CounterOpts{
			Name: "bsky_migrate_quotes_published_total",
			Help: "Quoted posts published ahead of the post quoting them.",
		}),
		mediaFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "bsky_migrate_media_failures_total",
			Help: "Media files left out of a post because their upload failed.",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "bsky_migrate_publishes_in_flight",
			Help: "Publish tasks currently running.",
		}),
		checkpoint: f.NewGauge(prometheus.GaugeOpts{
			Name: "bsky_migrate_checkpoint_timestamp_seconds",
			Help: "Creation time of the last checkpointed source post.",
		}),
		publishSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bsky_migrate_publish_duration_seconds",
			Help:    "Time to publish one post, including media uploads.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}
