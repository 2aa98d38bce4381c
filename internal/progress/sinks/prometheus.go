package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/appsight/aso-pipeline/internal/progress"
)

// PrometheusSink exports pipeline progress metrics. It owns the collectors
// for run lifecycle and keyword yield.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	stageEvents   *prometheus.CounterVec
	keywordYield  prometheus.Histogram
	relatedOK     prometheus.Counter
	relatedFailed prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aso_runs_started_total",
			Help: "Total pipeline runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aso_runs_completed_total",
			Help: "Total pipeline runs completed partitioned by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aso_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"result"}),
		stageEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aso_stage_events_total",
			Help: "Progress events partitioned by stage.",
		}, []string{"stage"}),
		keywordYield: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aso_primary_keyword_yield",
			Help:    "Keywords generated for the primary app per run.",
			Buckets: []float64{1, 5, 10, 15, 20, 30, 50},
		}),
		relatedOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aso_related_apps_delivered_total",
			Help: "Related apps that survived hydration and generation.",
		}),
		relatedFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aso_related_apps_dropped_total",
			Help: "Related apps dropped after hydration or generation failure.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runDuration,
		s.stageEvents,
		s.keywordYield,
		s.relatedOK,
		s.relatedFailed,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	s.stageEvents.WithLabelValues(string(evt.Stage)).Inc()
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StagePrimaryReady:
		if evt.Keywords > 0 {
			s.keywordYield.Observe(float64(evt.Keywords))
		}
	case progress.StageRelatedReady:
		s.relatedOK.Add(float64(evt.RelatedOK))
		s.relatedFailed.Add(float64(evt.RelatedFailed))
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.runDuration.WithLabelValues("success").Observe(evt.Dur.Seconds())
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.runDuration.WithLabelValues("error").Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
