package harvest

import (
	"errors"
	"fmt"
)

// Failure categories. Every run-level failure wraps exactly one of these.
var (
	// ErrChallengeBlocked marks an anti-bot interstitial instead of content.
	ErrChallengeBlocked = errors.New("blocked by challenge page")
	// ErrMissingField marks a page without a required field.
	ErrMissingField = errors.New("required field missing")
	// ErrFetchFailed marks network, timeout or parse failures for an item.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrFlushFailed marks an artifact that could not be emitted.
	ErrFlushFailed = errors.New("artifact flush failed")
	// ErrNoProgressToSave is returned by a checkpoint with nothing buffered.
	ErrNoProgressToSave = errors.New("no progress to save")
	// ErrPersistFailed marks a progress store write failure.
	ErrPersistFailed = errors.New("persist progress failed")
	// ErrAlreadyRunning rejects a second concurrent run of one collection.
	ErrAlreadyRunning = errors.New("harvest already running")
)

// ItemError attaches the failing item to a fetch failure.
type ItemError struct {
	Index int
	Item  Item
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d %q: %v", e.Index+1, e.Item.Title, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// classifyFetchError makes sure a fetcher error carries a category.
func classifyFetchError(err error) error {
	if errors.Is(err, ErrChallengeBlocked) || errors.Is(err, ErrFetchFailed) || errors.Is(err, ErrMissingField) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFetchFailed, err)
}
