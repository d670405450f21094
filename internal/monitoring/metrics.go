package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DownloadsTotal tracks finished downloads by status and category
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songcache_downloads_total",
			Help: "Total number of finished downloads",
		},
		[]string{"status", "category"},
	)

	// DownloadDuration tracks the time to fetch an audio and artwork pair
	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "songcache_download_duration_seconds",
			Help:    "Download duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		},
	)

	// QueueSize tracks the number of pending requests
	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "songcache_queue_size",
			Help: "Number of pending download requests",
		},
	)

	// ActiveDownloads is 1 while a fetch is in flight
	ActiveDownloads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "songcache_active_downloads",
			Help: "Number of active downloads",
		},
	)

	// CachedBytes tracks the audio bytes referenced by the index
	CachedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "songcache_cached_bytes",
			Help: "Bytes of cached audio referenced by the metadata index",
		},
	)

	// FetchedBytesTotal tracks bytes written by the fetcher
	FetchedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "songcache_fetched_bytes_total",
			Help: "Total bytes fetched from remote resources",
		},
	)

	// ErrorsTotal tracks errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songcache_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

// RecordDownloadStart records the start of a download
func RecordDownloadStart() {
	ActiveDownloads.Inc()
}

// RecordDownloadComplete records a completed download
func RecordDownloadComplete(category string, duration time.Duration) {
	DownloadsTotal.WithLabelValues("completed", category).Inc()
	DownloadDuration.Observe(duration.Seconds())
	ActiveDownloads.Dec()
}

// RecordDownloadFailed records a failed download
func RecordDownloadFailed(category string, errorType string) {
	DownloadsTotal.WithLabelValues("failed", category).Inc()
	ErrorsTotal.WithLabelValues(errorType).Inc()
	ActiveDownloads.Dec()
}

// UpdateQueueSize updates the queue size metric
func UpdateQueueSize(size int) {
	QueueSize.Set(float64(size))
}

// SetCachedBytes updates the cached bytes metric
func SetCachedBytes(n int64) {
	CachedBytes.Set(float64(n))
}

// RecordFetchedBytes adds to the fetched bytes counter
func RecordFetchedBytes(n int64) {
	FetchedBytesTotal.Add(float64(n))
}

// RecordError records an error
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}
