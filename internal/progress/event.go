package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names the observer-facing event types.
type Kind string

// Supported event kinds.
const (
	KindProgress        Kind = "progress"
	KindStatus          Kind = "status"
	KindPartialComplete Kind = "partial_complete"
	KindComplete        Kind = "complete"
	KindError           Kind = "error"
)

// Event is a single observer notification addressed to one collection.
type Event struct {
	// Seq is assigned by the Hub and increases monotonically per process.
	Seq uint64 `json:"seq"`
	// RunID identifies the harvest run (or checkpoint call) that emitted the event.
	RunID uuid.UUID `json:"run_id"`
	// CollectionID addresses the event.
	CollectionID string `json:"collection_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS   time.Time `json:"ts"`
	Kind Kind      `json:"kind"`

	// Value is the integer percentage for progress events.
	Value   int `json:"value,omitempty"`
	Current int `json:"current,omitempty"`
	Total   int `json:"total,omitempty"`

	// Text is the human readable status line.
	Text string `json:"text,omitempty"`
	// BatchNumber is set on partial_complete; zero marks a manual checkpoint.
	BatchNumber int `json:"batch_number,omitempty"`
	// Artifact is the URI of the artifact a partial_complete refers to.
	Artifact string `json:"artifact,omitempty"`
	// Message carries the error text for error events.
	Message string `json:"message,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CollectionID == "" {
		return errors.New("collection id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindStatus, KindComplete:
	case KindProgress:
		if e.Total <= 0 {
			return errors.New("progress requires a positive total")
		}
		if e.Value < 0 || e.Value > 100 {
			return fmt.Errorf("progress value %d out of range", e.Value)
		}
	case KindPartialComplete:
		if e.BatchNumber < 0 {
			return errors.New("batch number must be >= 0")
		}
	case KindError:
		if e.Message == "" {
			return errors.New("error event requires a message")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return nil
}

// Percent computes floor(current/total*100), clamped to [0,100].
func Percent(current, total int) int {
	if total <= 0 || current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return current * 100 / total
}
