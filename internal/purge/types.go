package purge

import (
	"context"
	"iter"
	"time"
)

// Blob is a stored blob as listed by the Store.
type Blob struct {
	ID        string
	Size      int64
	Timestamp time.Time
}

// Reference is a record in the backlink index pointing at a blob.
type Reference struct {
	Key      string
	Author   string
	Asserted time.Time
}

// Store is the blob storage the scheduler purges.
type Store interface {
	// List enumerates every blob with its metadata. Each call starts over.
	List(ctx context.Context) iter.Seq2[Blob, error]

	// Remove deletes a blob. A blob is either fully removed or untouched.
	Remove(ctx context.Context, id string) error

	// Changes yields the id of every blob added or changed from now on,
	// until ctx is cancelled.
	Changes(ctx context.Context) iter.Seq2[string, error]
}

// Backlinks answers which records reference a blob.
type Backlinks interface {
	// ReadReferencing yields the records referencing id, oldest asserted first.
	ReadReferencing(ctx context.Context, id string) iter.Seq2[Reference, error]
}

// UsageProbe measures the bytes used on disk under a directory.
type UsageProbe interface {
	Measure(ctx context.Context, path string) (int64, error)
}

// ProbeFunc adapts a function to UsageProbe.
type ProbeFunc func(ctx context.Context, path string) (int64, error)

func (f ProbeFunc) Measure(ctx context.Context, path string) (int64, error) {
	return f(ctx, path)
}
