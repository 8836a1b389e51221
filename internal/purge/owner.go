package purge

import (
	"context"
	"fmt"

	"github.com/lucasew/blobpurge/internal/throttle"
)

// OwnershipOracle tells whether the local identity authored a record that
// references a blob. Lookups are throttled like the purge scan itself.
type OwnershipOracle struct {
	Index    Backlinks
	Identity string
}

// IsOwnedByMe scans the records referencing id and returns true on the first
// one authored by the local identity.
func (o *OwnershipOracle) IsOwnedByMe(ctx context.Context, id string, cpuMax float64) (bool, error) {
	d := throttle.New[Reference](throttle.Options{Ceiling: cpuMax, Wait: throttle.DefaultWait})
	outcome, err := d.Run(ctx, o.Index.ReadReferencing(ctx, id), func(ctx context.Context, ref Reference) (bool, error) {
		return ref.Author == o.Identity, nil
	})

	switch outcome {
	case throttle.Stopped:
		return true, nil
	case throttle.Exhausted:
		return false, nil
	case throttle.Aborted:
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return false, context.Canceled
	default:
		return false, fmt.Errorf("%w: %s: %w", ErrOwnershipCheck, id, err)
	}
}
