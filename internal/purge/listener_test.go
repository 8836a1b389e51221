package purge

import (
	"context"
	"errors"
	"iter"
	"testing"
)

func feed(n int, err error) (iter.Seq2[string, error], *int) {
	pulled := 0
	return func(yield func(string, error) bool) {
		for i := 0; i < n; i++ {
			pulled++
			if !yield("&blob", nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}, &pulled
}

func TestWaitForBurst(t *testing.T) {
	changes, _ := feed(BurstSize-1, nil)
	burst, err := waitForBurst(context.Background(), changes, BurstSize)
	if err != nil || burst {
		t.Errorf("expected no burst after %d changes, got %v %v", BurstSize-1, burst, err)
	}

	changes, pulled := feed(BurstSize+5, nil)
	burst, err = waitForBurst(context.Background(), changes, BurstSize)
	if err != nil || !burst {
		t.Errorf("expected a burst, got %v %v", burst, err)
	}
	if *pulled != BurstSize {
		t.Errorf("expected the feed to be released after %d changes, pulled %d", BurstSize, *pulled)
	}
}

func TestWaitForBurstFeedError(t *testing.T) {
	changes, _ := feed(3, errBoom)
	if _, err := waitForBurst(context.Background(), changes, BurstSize); !errors.Is(err, errBoom) {
		t.Errorf("expected feed error, got %v", err)
	}
}
