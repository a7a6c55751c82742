package progress

import (
	"time"

	"github.com/google/uuid"
)

// Reporter stamps events for one collection and run before handing them to
// an Emitter. A Reporter is cheap; create one per run.
type Reporter struct {
	emitter      Emitter
	collectionID string
	runID        uuid.UUID
	now          func() time.Time
}

// NewReporter binds an emitter to a collection and run. A nil emitter drops
// everything.
func NewReporter(emitter Emitter, collectionID string, runID uuid.UUID) *Reporter {
	if emitter == nil {
		emitter = Nop{}
	}
	return &Reporter{
		emitter:      emitter,
		collectionID: collectionID,
		runID:        runID,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RunID returns the run the reporter is bound to.
func (r *Reporter) RunID() uuid.UUID {
	return r.runID
}

// Progress reports that index items out of total are done. Current is
// reported one-based to match the item being started.
func (r *Reporter) Progress(index, total int) {
	r.emit(Event{
		Kind:    KindProgress,
		Value:   Percent(index, total),
		Current: index + 1,
		Total:   total,
	})
}

// Status reports a human readable status line.
func (r *Reporter) Status(text string) {
	r.emit(Event{Kind: KindStatus, Text: text})
}

// PartialComplete reports an emitted batch artifact.
func (r *Reporter) PartialComplete(batchNumber int, artifact string) {
	r.emit(Event{Kind: KindPartialComplete, BatchNumber: batchNumber, Artifact: artifact})
}

// Complete reports that the collection finished.
func (r *Reporter) Complete() {
	r.emit(Event{Kind: KindComplete, Value: 100})
}

// Error reports a terminal failure. A nil error is ignored.
func (r *Reporter) Error(err error) {
	if err == nil {
		return
	}
	r.emit(Event{Kind: KindError, Message: err.Error()})
}

func (r *Reporter) emit(evt Event) {
	evt.CollectionID = r.collectionID
	evt.RunID = r.runID
	evt.TS = r.now()
	r.emitter.Emit(evt)
}
