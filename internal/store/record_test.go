package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetainTail(t *testing.T) {
	t.Parallel()

	blocks := make([]string, 0, 120)
	for i := range 120 {
		blocks = append(blocks, fmt.Sprintf("block-%d", i))
	}

	tests := []struct {
		name      string
		in        []string
		limit     int
		wantLen   int
		wantFirst string
	}{
		{name: "under limit", in: blocks[:10], limit: 50, wantLen: 10, wantFirst: "block-0"},
		{name: "exact limit", in: blocks[:50], limit: 50, wantLen: 50, wantFirst: "block-0"},
		{name: "over limit keeps newest", in: blocks, limit: 50, wantLen: 50, wantFirst: "block-70"},
		{name: "zero limit uses default", in: blocks, limit: 0, wantLen: DefaultBufferRetention, wantFirst: "block-70"},
		{name: "custom limit", in: blocks, limit: 5, wantLen: 5, wantFirst: "block-115"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := RetainTail(tt.in, tt.limit)
			require.Len(t, got, tt.wantLen)
			assert.Equal(t, tt.wantFirst, got[0])
			assert.Equal(t, tt.in[len(tt.in)-1], got[len(got)-1])
		})
	}
}

func TestRetainTailCopies(t *testing.T) {
	t.Parallel()

	in := []string{"a", "b"}
	out := RetainTail(in, 10)
	out[0] = "mutated"
	assert.Equal(t, "a", in[0])
	assert.Empty(t, RetainTail(nil, 10))
}
