package sinks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/novel-harvester/internal/progress"
)

func TestPubSubSinkPublishesEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "harvest-events")
	require.NoError(t, err)

	sink := NewPubSubSink(topic, zap.NewNop())
	runID := uuid.New()
	batch := []progress.Event{
		{Seq: 1, RunID: runID, CollectionID: "abc", TS: time.Now().UTC(), Kind: progress.KindStatus, Text: "fetching"},
		{Seq: 2, RunID: runID, CollectionID: "abc", TS: time.Now().UTC(), Kind: progress.KindPartialComplete, BatchNumber: 1},
	}
	require.NoError(t, sink.Consume(ctx, batch))
	require.NoError(t, sink.Close(ctx))

	msgs := srv.Messages()
	require.Len(t, msgs, 2)
	kinds := make([]progress.Kind, 0, len(msgs))
	for _, msg := range msgs {
		var evt progress.Event
		require.NoError(t, json.Unmarshal(msg.Data, &evt))
		assert.Equal(t, "abc", evt.CollectionID)
		assert.Equal(t, runID.String(), msg.Attributes["run_id"])
		assert.Equal(t, string(evt.Kind), msg.Attributes["kind"])
		kinds = append(kinds, evt.Kind)
	}
	assert.ElementsMatch(t, []progress.Kind{progress.KindStatus, progress.KindPartialComplete}, kinds)
}

func TestPubSubSinkWithoutTopic(t *testing.T) {
	t.Parallel()

	sink := newPubSubSink(nil, nil)
	require.Error(t, sink.Consume(context.Background(), []progress.Event{{}}))
	require.NoError(t, sink.Close(context.Background()))
}
