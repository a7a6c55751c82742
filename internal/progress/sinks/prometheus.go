package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/novel-harvester/internal/progress"
)

// PrometheusSink derives harvest metrics from the event stream.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runsActive   prometheus.Gauge
	runDuration  *prometheus.HistogramVec
	itemsStarted prometheus.Counter
	artifacts    *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_started_total",
			Help: "Harvest runs that emitted at least one event.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_runs_finished_total",
			Help: "Harvest runs finished partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_runs_active",
			Help: "Harvest runs currently in flight.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		itemsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_items_started_total",
			Help: "Items the harvester started fetching.",
		}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_artifacts_total",
			Help: "Artifacts emitted partitioned by type (batch or checkpoint).",
		}, []string{"type"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runsActive,
		s.runDuration,
		s.itemsStarted,
		s.artifacts,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindProgress, progress.KindStatus:
		if s.tracker.start(evt.RunID, evt.TS) {
			s.runsStarted.Inc()
			s.runsActive.Inc()
		}
		if evt.Kind == progress.KindProgress {
			s.itemsStarted.Inc()
		}
	case progress.KindPartialComplete:
		if evt.BatchNumber == 0 {
			s.artifacts.WithLabelValues("checkpoint").Inc()
		} else {
			s.artifacts.WithLabelValues("batch").Inc()
		}
	case progress.KindComplete:
		s.finish(evt, "complete")
	case progress.KindError:
		s.finish(evt, "error")
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.runsFinished.WithLabelValues(result).Inc()
	started, ok := s.tracker.complete(evt.RunID)
	if !ok {
		return
	}
	s.runsActive.Dec()
	if d := evt.TS.Sub(started); d > 0 {
		s.runDuration.WithLabelValues(result).Observe(d.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[uuid.UUID]time.Time
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[uuid.UUID]time.Time)}
}

func (t *runTracker) start(id uuid.UUID, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = at
	return true
}

func (t *runTracker) complete(id uuid.UUID) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	started, ok := t.running[id]
	if ok {
		delete(t.running, id)
	}
	return started, ok
}
