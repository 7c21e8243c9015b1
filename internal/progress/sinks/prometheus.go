package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/notecrawler/internal/progress"
)

// PrometheusSink turns progress events into run and record collectors.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	pages         *prometheus.CounterVec
	abandoned     prometheus.Counter
	records       *prometheus.CounterVec
}

// NewPrometheusSink registers its collectors against reg (the default
// registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notecrawler_runs_started_total",
			Help: "Crawl runs started, by mode.",
		}, []string{"mode"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notecrawler_runs_completed_total",
			Help: "Crawl runs finished, by mode and result.",
		}, []string{"mode", "result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notecrawler_run_duration_seconds",
			Help:    "Wall time of finished runs.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"mode", "result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notecrawler_search_pages_done_total",
			Help: "Search pages fully processed, by keyword.",
		}, []string{"keyword"}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notecrawler_keywords_abandoned_total",
			Help: "Keywords whose remaining pages were skipped after a page failure.",
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notecrawler_progress_records_total",
			Help: "Records reported saved, by kind.",
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runDuration, s.pages, s.abandoned, s.records,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.WithLabelValues(evt.Mode).Inc()
		case progress.StageRunDone:
			s.finish(evt, "success")
		case progress.StageRunError:
			s.finish(evt, "error")
		case progress.StagePageDone:
			s.pages.WithLabelValues(evt.Keyword).Inc()
		case progress.StageKeywordAbandoned:
			s.abandoned.Inc()
		case progress.StageNotesSaved:
			s.records.WithLabelValues("note").Add(float64(evt.Count))
		case progress.StageCommentsSaved:
			s.records.WithLabelValues("comment").Add(float64(evt.Count))
		case progress.StageCreatorSaved:
			s.records.WithLabelValues("creator").Add(float64(evt.Count))
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(evt.Mode, result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(evt.Mode, result).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
