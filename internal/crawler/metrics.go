package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeFetched = "fetched"
	outcomeSkipped = "skipped"
	outcomeFatal   = "fatal"
)

var (
	// BatchItems tracks bounded-fetch task outcomes per batch kind.
	BatchItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notecrawler_batch_items_total",
		Help: "Bounded fetch tasks partitioned by batch and outcome.",
	}, []string{"batch", "outcome"})
	// SearchPages tracks search page fetches partitioned by result.
	SearchPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notecrawler_search_pages_total",
		Help: "Search result pages requested, partitioned by result.",
	}, []string{"result"})
	// RecordsSaved tracks records handed to the result sink.
	RecordsSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notecrawler_records_saved_total",
		Help: "Records persisted through the result sink, partitioned by kind.",
	}, []string{"kind"})
)

func observeBatchItem(batch, outcome string) {
	if batch == "" {
		batch = "unnamed"
	}
	BatchItems.WithLabelValues(batch, outcome).Inc()
}
