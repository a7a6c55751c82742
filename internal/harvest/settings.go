package harvest

import (
	"strconv"
	"strings"
)

// Batch size bounds accepted from user settings.
const (
	MinBatchSize     = 10
	MaxBatchSize     = 500
	DefaultBatchSize = 100
)

// ResolveBatchSize returns n when it is within [MinBatchSize, MaxBatchSize]
// and DefaultBatchSize otherwise.
func ResolveBatchSize(n int) int {
	if n < MinBatchSize || n > MaxBatchSize {
		return DefaultBatchSize
	}
	return n
}

// ParseBatchSize resolves a textual setting, falling back to the default for
// anything that is not an in-range integer.
func ParseBatchSize(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return DefaultBatchSize
	}
	return ResolveBatchSize(n)
}

// ResolveRequestedBatchSize is ResolveBatchSize for per-request overrides,
// where zero means "use the configured default" and is kept as is.
func ResolveRequestedBatchSize(n int) int {
	if n == 0 {
		return 0
	}
	return ResolveBatchSize(n)
}
