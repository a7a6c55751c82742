package harvest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/novel-harvester/internal/storage/memory"
)

func observedHarvester(retention int) (*Harvester, *scriptedFetcher, *memory.ProgressStore, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.WarnLevel)
	st := memory.NewProgressStore(retention)
	fetcher := newScriptedFetcher()
	h := New(Config{BufferRetention: retention}, st, fetcher, newFlakyArtifacts(), &recordingEmitter{}, zap.New(core))
	return h, fetcher, st, logs
}

func TestRunWarnsWhenLedgerDiverges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, fetcher, _, logs := observedHarvester(50)
	coll := makeCollection(5)
	fetcher.failOn(coll.Items[2].URL, errors.New("boom"))
	_, err := h.Run(ctx, coll, 10)
	require.Error(t, err)
	fetcher.heal()

	reordered := coll
	reordered.Items = []Item{coll.Items[1], coll.Items[0], coll.Items[2], coll.Items[3], coll.Items[4]}
	sum, err := h.Run(ctx, reordered, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Resumed)
	assert.Equal(t, 3, sum.Fetched)
	assert.Equal(t, 1, logs.FilterMessage("ledger diverges from collection order").Len())
}

func TestRunWarnsWhenRestoredBufferWasTruncated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, fetcher, st, logs := observedHarvester(2)
	coll := makeCollection(12)
	fetcher.failOn(coll.Items[4].URL, errors.New("boom"))
	_, err := h.Run(ctx, coll, 10)
	require.Error(t, err)

	rec, err := st.Load(ctx, coll.ID)
	require.NoError(t, err)
	assert.Len(t, rec.CompletedItemRefs, 4)
	assert.Len(t, rec.BufferedContent, 2)

	fetcher.heal()
	_, err = h.Run(ctx, coll, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("buffered content was truncated, next artifact will be incomplete").Len())
}
