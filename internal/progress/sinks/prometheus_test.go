package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/novel-harvester/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := uuid.New()
	start := time.Now()
	batch := []progress.Event{
		{RunID: runID, CollectionID: "abc", TS: start, Kind: progress.KindProgress, Total: 2, Current: 1},
		{RunID: runID, CollectionID: "abc", TS: start, Kind: progress.KindStatus, Text: "fetching"},
		{RunID: runID, CollectionID: "abc", TS: start.Add(time.Second), Kind: progress.KindProgress, Total: 2, Current: 2},
		{RunID: runID, CollectionID: "abc", TS: start.Add(2 * time.Second), Kind: progress.KindPartialComplete, BatchNumber: 1},
		{RunID: runID, CollectionID: "abc", TS: start.Add(3 * time.Second), Kind: progress.KindComplete},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.itemsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.artifacts.WithLabelValues("batch")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues("complete")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "harvester_run_duration_seconds"))
}

func TestPrometheusSinkCheckpointAndError(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := uuid.New()
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, CollectionID: "abc", TS: now, Kind: progress.KindStatus, Text: "fetching"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsActive))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: uuid.New(), CollectionID: "abc", TS: now, Kind: progress.KindPartialComplete},
		{RunID: runID, CollectionID: "abc", TS: now.Add(time.Second), Kind: progress.KindError, Message: "blocked"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.artifacts.WithLabelValues("checkpoint")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.ErrorContains(t, err, "register progress collector")
}
