package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		RunID:        uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		CollectionID: "example",
		TS:           time.Unix(0, 0),
		Kind:         KindStatus,
		Text:         "fetching chapter 1",
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleReporter shows a custom Sink tallying emitted batch artifacts.
func ExampleReporter() {
	var artifacts int
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Kind == KindPartialComplete {
				artifacts++
			}
		}
		return nil
	})
	hub := NewHub(Config{MaxBatchEvents: 1, MaxBatchWait: time.Second}, capture)

	rep := NewReporter(hub, "example", uuid.MustParse("00000000-0000-0000-0000-000000000002"))
	rep.PartialComplete(1, "mem://example_部分1.txt")
	rep.PartialComplete(2, "mem://example_部分2.txt")
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("artifacts: %d\n", artifacts)
	// Output:
	// artifacts: 2
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
