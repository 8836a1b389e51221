package purge

import (
	"context"
	"iter"
)

// BurstSize is how many store changes trigger a new purge cycle.
const BurstSize = 10

// waitForBurst consumes changes until burst of them arrived. It returns true
// once the burst is reached, false when the feed ended first.
func waitForBurst(ctx context.Context, changes iter.Seq2[string, error], burst int) (bool, error) {
	count := 0
	for _, err := range changes {
		if err != nil {
			return false, err
		}
		count++
		if count >= burst {
			return true, nil
		}
	}
	return false, ctx.Err()
}
