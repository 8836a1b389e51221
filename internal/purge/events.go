package purge

import "fmt"

type EventKind int

const (
	Resumed EventKind = iota + 1
	Paused
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Resumed:
		return "resumed"
	case Paused:
		return "paused"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(b []byte) error {
	for _, c := range []EventKind{Resumed, Paused, Deleted} {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown event %q", b)
}

// Event is broadcast to subscribers on every lifecycle transition and
// deletion. BlobID is set only for Deleted.
type Event struct {
	Kind   EventKind `json:"event"`
	BlobID string    `json:"blob_id,omitempty"`
}

func (e Event) String() string {
	if e.Kind == Deleted {
		return fmt.Sprintf("%s(%s)", e.Kind, e.BlobID)
	}
	return e.Kind.String()
}
