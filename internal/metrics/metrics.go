package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SourceFetchTotal 每个来源的抓取次数，status 为 ok / error / timeout
	SourceFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedhub",
			Name:      "source_fetch_total",
			Help:      "Total number of source fetches",
		},
		[]string{"source", "status"},
	)

	SourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "feedhub",
			Name:      "source_fetch_duration_seconds",
			Help:      "Duration of source fetches in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"source"},
	)

	// SourceItems 最近一次成功抓取得到的条目数
	SourceItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "feedhub",
			Name:      "source_items",
			Help:      "Number of items returned by the last successful fetch",
		},
		[]string{"source"},
	)

	AggregationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedhub",
			Name:      "aggregations_total",
			Help:      "Total number of aggregation runs",
		},
		[]string{"status"},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedhub",
			Name:      "cache_requests_total",
			Help:      "Feed cache lookups by result",
		},
		[]string{"result"},
	)
)

func RecordFetch(source, status string, items int, seconds float64) {
	SourceFetchTotal.WithLabelValues(source, status).Inc()
	SourceFetchDuration.WithLabelValues(source).Observe(seconds)
	if status == "ok" {
		SourceItems.WithLabelValues(source).Set(float64(items))
	}
}

func RecordAggregation(status string) {
	AggregationsTotal.WithLabelValues(status).Inc()
}

// RecordCache result 为 hit / miss / error
func RecordCache(result string) {
	CacheRequestsTotal.WithLabelValues(result).Inc()
}
