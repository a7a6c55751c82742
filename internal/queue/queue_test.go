package queue

import "testing"

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := map[JobStatus]bool{
		JobStatusQueued:    false,
		JobStatusRunning:   false,
		JobStatusSucceeded: true,
		JobStatusFailed:    true,
		JobStatusCanceled:  true,
	}
	for status, want := range tests {
		if got := status.Terminal(); got != want {
			t.Fatalf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
