package harvest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Fetcher retrieves the text content of a single item.
type Fetcher interface {
	Fetch(ctx context.Context, item Item) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, item Item) (string, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, item Item) (string, error) { return f(ctx, item) }

// DelayPolicy yields the pause to observe before the next fetch.
type DelayPolicy interface {
	Next() time.Duration
}

// DelayFunc adapts a function to DelayPolicy.
type DelayFunc func() time.Duration

// Next implements DelayPolicy.
func (f DelayFunc) Next() time.Duration { return f() }

// NoDelay never pauses.
var NoDelay DelayPolicy = DelayFunc(func() time.Duration { return 0 })

// UniformDelay draws uniformly from [lo, hi]. Swapped bounds are corrected.
func UniformDelay(lo, hi time.Duration) DelayPolicy {
	if hi < lo {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return DelayFunc(func() time.Duration { return lo })
	}
	span := hi - lo + 1
	return DelayFunc(func() time.Duration {
		return lo + rand.N(span)
	})
}

// PacedFetcher waits for the delay policy before every fetch and bounds each
// fetch with a timeout.
type PacedFetcher struct {
	next    Fetcher
	delay   DelayPolicy
	timeout time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPacedFetcher decorates next. A nil delay means NoDelay; a non-positive
// timeout disables the per-fetch deadline.
func NewPacedFetcher(next Fetcher, delay DelayPolicy, timeout time.Duration) *PacedFetcher {
	if delay == nil {
		delay = NoDelay
	}
	return &PacedFetcher{next: next, delay: delay, timeout: timeout, sleep: sleepContext}
}

// Fetch implements Fetcher.
func (p *PacedFetcher) Fetch(ctx context.Context, item Item) (string, error) {
	if err := p.sleep(ctx, p.delay.Next()); err != nil {
		return "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	fetchCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	content, err := p.next.Fetch(fetchCtx, item)
	if err != nil {
		if ctx.Err() == nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: timed out after %s: %w", ErrFetchFailed, p.timeout, err)
		}
		return "", classifyFetchError(err)
	}
	return content, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
