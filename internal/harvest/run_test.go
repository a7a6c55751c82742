package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-harvester/internal/progress"
	"github.com/JakeFAU/novel-harvester/internal/storage/memory"
	"github.com/JakeFAU/novel-harvester/internal/store"
)

func TestRunEmitsBatchesAndFinalArtifact(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	coll := makeCollection(25)

	summary, err := f.h.Run(context.Background(), coll, 10)
	require.NoError(t, err)

	assert.True(t, summary.Completed)
	assert.Equal(t, 25, summary.Fetched)
	assert.Equal(t, 10, summary.BatchSize)
	assert.Equal(t, []string{
		testTitle + "_部分1.txt",
		testTitle + "_部分2.txt",
		testTitle + "_最終部分.txt",
	}, f.artifacts.Paths())

	assert.Equal(t, blocksFor(coll, 1, 10), f.artifact(t, testTitle+"_部分1.txt"))
	assert.Equal(t, blocksFor(coll, 11, 20), f.artifact(t, testTitle+"_部分2.txt"))
	assert.Equal(t, testTitle+"\n\n"+blocksFor(coll, 21, 25), f.artifact(t, testTitle+"_最終部分.txt"))

	partials := f.events.OfKind(progress.KindPartialComplete)
	require.Len(t, partials, 2)
	assert.Equal(t, 1, partials[0].BatchNumber)
	assert.Equal(t, 2, partials[1].BatchNumber)

	events := f.events.Events()
	assert.Equal(t, progress.KindComplete, events[len(events)-1].Kind)
	assert.Empty(t, f.events.OfKind(progress.KindError))

	_, err = f.store.Load(context.Background(), coll.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunReportsProgressPerItem(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	coll := makeCollection(4)

	_, err := f.h.Run(context.Background(), coll, 10)
	require.NoError(t, err)

	ticks := f.events.OfKind(progress.KindProgress)
	require.Len(t, ticks, 4)
	for i, evt := range ticks {
		assert.Equal(t, i+1, evt.Current)
		assert.Equal(t, 4, evt.Total)
		assert.Equal(t, i*25, evt.Value)
		assert.Equal(t, coll.ID, evt.CollectionID)
	}
	assert.Len(t, f.events.OfKind(progress.KindStatus), 4)
}

func TestRunStopsOnFetchFailureAndResumes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	coll := makeCollection(25)
	f.fetcher.failOn(coll.Items[12].URL, errors.New("connection reset"))

	_, err := f.h.Run(ctx, coll, 10)
	require.ErrorIs(t, err, ErrFetchFailed)
	var itemErr *ItemError
	require.ErrorAs(t, err, &itemErr)
	assert.Equal(t, 12, itemErr.Index)

	rec, err := f.store.Load(ctx, coll.ID)
	require.NoError(t, err)
	require.Len(t, rec.CompletedItemRefs, 12)
	for i, ref := range rec.CompletedItemRefs {
		assert.Equal(t, coll.Items[i].URL, ref, "ledger is a prefix of the collection")
	}
	assert.Len(t, rec.BufferedContent, 2)
	assert.Equal(t, []string{testTitle + "_部分1.txt"}, f.artifacts.Paths())
	errs := f.events.OfKind(progress.KindError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "connection reset")
	assert.Empty(t, f.events.OfKind(progress.KindComplete))

	f.fetcher.heal()
	f.fetcher.reset()
	summary, err := f.h.Run(ctx, coll, 10)
	require.NoError(t, err)
	assert.Equal(t, 12, summary.Resumed)
	assert.Equal(t, 13, summary.Fetched)
	assert.Equal(t, coll.Items[12].URL, f.fetcher.Calls()[0])

	assert.Equal(t, blocksFor(coll, 11, 20), f.artifact(t, testTitle+"_部分2.txt"))
	assert.Equal(t, testTitle+"\n\n"+blocksFor(coll, 21, 25), f.artifact(t, testTitle+"_最終部分.txt"))
}

func TestRunFirstItemFailureLeavesNoRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	coll := makeCollection(3)
	f.fetcher.failOn(coll.Items[0].URL, ErrChallengeBlocked)

	_, err := f.h.Run(context.Background(), coll, 10)
	require.ErrorIs(t, err, ErrChallengeBlocked)
	require.NotErrorIs(t, err, ErrFetchFailed)

	_, err = f.store.Load(context.Background(), coll.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, f.artifacts.Paths())
}

func TestRunIsIdempotentAfterCompletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	coll := makeCollection(12)

	_, err := f.h.Run(ctx, coll, 10)
	require.NoError(t, err)
	f.fetcher.reset()
	f.events.reset()

	summary, err := f.h.Run(ctx, coll, 10)
	require.NoError(t, err)
	assert.Zero(t, summary.Fetched)
	assert.Empty(t, f.fetcher.Calls())
	assert.Len(t, f.events.OfKind(progress.KindComplete), 1)
	assert.Len(t, f.artifacts.Paths(), 2)
}

func TestRunPicksUpNewItemsAfterCompletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	coll := makeCollection(15)
	_, err := f.h.Run(ctx, coll, 10)
	require.NoError(t, err)
	f.fetcher.reset()

	grown := makeCollection(18)
	summary, err := f.h.Run(ctx, grown, 10)
	require.NoError(t, err)
	assert.Equal(t, 15, summary.Resumed)
	assert.Equal(t, []string{grown.Items[15].URL, grown.Items[16].URL, grown.Items[17].URL}, f.fetcher.Calls())
	assert.Equal(t, testTitle+"\n\n"+blocksFor(grown, 16, 18), f.artifact(t, testTitle+"_最終部分_18.txt"))
	assert.Equal(t, testTitle+"\n\n"+blocksFor(coll, 11, 15), f.artifact(t, testTitle+"_最終部分.txt"))
}

func TestRunEmptyCollection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	summary, err := f.h.Run(context.Background(), Collection{ID: "abc", Title: testTitle}, 10)
	require.NoError(t, err)
	assert.True(t, summary.Completed)
	assert.Empty(t, f.artifacts.Paths())
	assert.Empty(t, f.fetcher.Calls())

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, progress.KindComplete, events[0].Kind)
}

func TestRunCleansUpWhenLastItemClosesBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	coll := makeCollection(20)
	_, err := f.h.Run(context.Background(), coll, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{testTitle + "_部分1.txt", testTitle + "_部分2.txt"}, f.artifacts.Paths())
	_, err = f.store.Load(context.Background(), coll.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, f.events.OfKind(progress.KindComplete), 1)
}

func TestRunUsesSmallBatchSizeAsGiven(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	coll := makeCollection(5)
	summary, err := f.h.Run(context.Background(), coll, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.BatchSize)
	assert.Equal(t, []string{
		testTitle + "_部分1.txt",
		testTitle + "_部分2.txt",
		testTitle + "_最終部分.txt",
	}, f.artifacts.Paths())
	assert.Equal(t, blocksFor(coll, 1, 2), f.artifact(t, testTitle+"_部分1.txt"))
	assert.Equal(t, blocksFor(coll, 3, 4), f.artifact(t, testTitle+"_部分2.txt"))
	assert.Equal(t, testTitle+"\n\n"+blocksFor(coll, 5, 5), f.artifact(t, testTitle+"_最終部分.txt"))
}

func TestRunLargeBatchSizeIsNotClamped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	coll := makeCollection(150)
	summary, err := f.h.Run(context.Background(), coll, 5000)
	require.NoError(t, err)
	assert.Equal(t, 5000, summary.BatchSize)
	assert.Equal(t, []string{testTitle + "_最終部分.txt"}, f.artifacts.Paths())
}

func TestRunNonPositiveBatchSizeUsesDefault(t *testing.T) {
	t.Parallel()

	for _, size := range []int{0, -3} {
		f := newFixture(t)
		coll := makeCollection(150)
		summary, err := f.h.Run(context.Background(), coll, size)
		require.NoError(t, err)
		assert.Equal(t, DefaultBatchSize, summary.BatchSize)
		assert.Equal(t, []string{testTitle + "_部分1.txt", testTitle + "_最終部分.txt"}, f.artifacts.Paths())
		assert.Equal(t, blocksFor(coll, 1, 100), f.artifact(t, testTitle+"_部分1.txt"))
	}
}

func TestRunBufferIsBoundedInStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	coll := makeCollection(120)
	f.fetcher.failOn(coll.Items[80].URL, errors.New("timeout"))

	_, err := f.h.Run(ctx, coll, 200)
	require.Error(t, err)

	rec, err := f.store.Load(ctx, coll.ID)
	require.NoError(t, err)
	assert.Len(t, rec.CompletedItemRefs, 80)
	require.Len(t, rec.BufferedContent, store.DefaultBufferRetention)
	assert.Equal(t, FormatBlock(coll.Items[30], contentFor(coll.Items[30])), rec.BufferedContent[0])
	assert.Equal(t, FormatBlock(coll.Items[79], contentFor(coll.Items[79])), rec.BufferedContent[49])
}

func TestRunFlushFailureKeepsStateForRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	coll := makeCollection(15)
	f.artifacts.failOn(testTitle+"_部分1.txt", true)

	_, err := f.h.Run(ctx, coll, 10)
	require.ErrorIs(t, err, ErrFlushFailed)
	rec, err := f.store.Load(ctx, coll.ID)
	require.NoError(t, err)
	assert.Len(t, rec.CompletedItemRefs, 10)
	assert.Len(t, rec.BufferedContent, 10)
	assert.Empty(t, f.events.OfKind(progress.KindPartialComplete))

	f.artifacts.failOn(testTitle+"_部分1.txt", false)
	f.fetcher.reset()
	summary, err := f.h.Run(ctx, coll, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Fetched)
	assert.Equal(t, coll.Items[10].URL, f.fetcher.Calls()[0])
	assert.Equal(t, blocksFor(coll, 1, 10), f.artifact(t, testTitle+"_部分1.txt"))
	assert.Equal(t, testTitle+"\n\n"+blocksFor(coll, 11, 15), f.artifact(t, testTitle+"_最終部分.txt"))
}

func TestRunFailedLastBoundaryFlushIsRetriedAsFinal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	coll := makeCollection(20)
	f.artifacts.failOn(testTitle+"_部分2.txt", true)

	_, err := f.h.Run(ctx, coll, 10)
	require.ErrorIs(t, err, ErrFlushFailed)
	rec, err := f.store.Load(ctx, coll.ID)
	require.NoError(t, err)
	assert.Len(t, rec.CompletedItemRefs, 20)
	assert.Len(t, rec.BufferedContent, 10)

	f.artifacts.failOn(testTitle+"_部分2.txt", false)
	f.fetcher.reset()
	summary, err := f.h.Run(ctx, coll, 10)
	require.NoError(t, err)
	assert.True(t, summary.Completed)
	assert.Empty(t, f.fetcher.Calls())
	// Nothing follows the batch, so it is written as the final artifact.
	assert.Equal(t, []string{testTitle + "_部分1.txt", testTitle + "_最終部分.txt"}, f.artifacts.Paths())
	assert.Equal(t, testTitle+"\n\n"+blocksFor(coll, 11, 20), f.artifact(t, testTitle+"_最終部分.txt"))
}

func TestRunFinalFlushFailureKeepsRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	coll := makeCollection(5)
	f.artifacts.failOn(testTitle+"_最終部分.txt", true)

	_, err := f.h.Run(ctx, coll, 10)
	require.ErrorIs(t, err, ErrFlushFailed)
	rec, err := f.store.Load(ctx, coll.ID)
	require.NoError(t, err)
	assert.Len(t, rec.CompletedItemRefs, 5)
	assert.Empty(t, f.events.OfKind(progress.KindComplete))

	f.artifacts.failOn(testTitle+"_最終部分.txt", false)
	f.fetcher.reset()
	_, err = f.h.Run(ctx, coll, 10)
	require.NoError(t, err)
	assert.Empty(t, f.fetcher.Calls())
	assert.Equal(t, testTitle+"\n\n"+blocksFor(coll, 1, 5), f.artifact(t, testTitle+"_最終部分.txt"))
}

func TestRunPersistFailureAborts(t *testing.T) {
	t.Parallel()

	st := &failingStore{ProgressStore: memory.NewProgressStore(0), failSave: true}
	events := &recordingEmitter{}
	h := New(Config{}, st, newScriptedFetcher(), memory.NewBlobStore(), events, zap.NewNop())

	_, err := h.Run(context.Background(), makeCollection(3), 10)
	require.ErrorIs(t, err, ErrPersistFailed)
	assert.Len(t, events.OfKind(progress.KindError), 1)
}

func TestRunRejectsInvalidCollection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.h.Run(context.Background(), Collection{ID: "abc"}, 10)
	require.ErrorIs(t, err, ErrMissingField)
}

func TestRunRejectsConcurrentRunOfSameCollection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	coll := makeCollection(3)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.fetcher.hook = func(Item) {
		once.Do(func() { close(started) })
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.h.Run(context.Background(), coll, 10)
		done <- err
	}()
	<-started
	assert.True(t, f.h.Running(coll.ID))

	_, err := f.h.Run(context.Background(), coll, 10)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.ErrorIs(t, f.h.Reset(context.Background(), coll.ID), ErrAlreadyRunning)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, f.h.Running(coll.ID))
}

func TestRunStopsBetweenItemsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	coll := makeCollection(6)
	f.fetcher.hook = func(item Item) {
		if item.URL == coll.Items[2].URL {
			cancel()
		}
	}

	_, err := f.h.Run(ctx, coll, 10)
	require.ErrorIs(t, err, context.Canceled)

	rec, err := f.store.Load(context.Background(), coll.ID)
	require.NoError(t, err)
	assert.Len(t, rec.CompletedItemRefs, 2)
}

func TestRunWithPacedFetcherTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	slow := FetcherFunc(func(ctx context.Context, _ Item) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	h := New(Config{}, f.store, NewPacedFetcher(slow, NoDelay, 20*time.Millisecond), f.artifacts, f.events, nil)

	_, err := h.Run(context.Background(), makeCollection(2), 10)
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Contains(t, err.Error(), "timed out")
}

func TestResetClearsProgressAndCompletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	coll := makeCollection(3)
	_, err := f.h.Run(ctx, coll, 10)
	require.NoError(t, err)

	require.NoError(t, f.h.Reset(ctx, coll.ID))
	f.fetcher.reset()
	summary, err := f.h.Run(ctx, coll, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Fetched)
}

func TestStatusReflectsRecordAndCompletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	coll := makeCollection(15)

	st, err := f.h.Status(ctx, coll.ID)
	require.NoError(t, err)
	assert.False(t, st.Known())

	f.fetcher.failOn(coll.Items[12].URL, errors.New("connection reset"))
	_, err = f.h.Run(ctx, coll, 10)
	require.Error(t, err)

	st, err = f.h.Status(ctx, coll.ID)
	require.NoError(t, err)
	require.NotNil(t, st.Record)
	assert.Equal(t, 12, st.Record.Completed())
	assert.Nil(t, st.Completion)
	assert.False(t, st.Running)

	f.fetcher.heal()
	_, err = f.h.Run(ctx, coll, 10)
	require.NoError(t, err)

	st, err = f.h.Status(ctx, coll.ID)
	require.NoError(t, err)
	assert.Nil(t, st.Record)
	require.NotNil(t, st.Completion)
	assert.Len(t, st.Completion.CompletedItemRefs, 15)
}

func TestReportErrorPublishesOneErrorEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.h.ReportError("abc", fmt.Errorf("load collection: %w", ErrChallengeBlocked))
	f.h.ReportError("abc", nil)

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, progress.KindError, events[0].Kind)
	assert.Equal(t, "abc", events[0].CollectionID)
	assert.Contains(t, events[0].Message, "load collection")
}
