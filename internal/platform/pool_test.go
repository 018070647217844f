package platform

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestForEachVisitsEveryIndexOnce(t *testing.T) {
	for _, workers := range []int{0, 1, 3, 16} {
		hits := make([]int32, 10)
		err := forEach(context.Background(), len(hits), workers, func(i int) error {
			atomic.AddInt32(&hits[i], 1)
			return nil
		})
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}
		for i, h := range hits {
			if h != 1 {
				t.Fatalf("workers=%d: index %d visited %d times", workers, i, h)
			}
		}
	}
}

func TestForEachReturnsLowestIndexError(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	err := forEach(context.Background(), 6, 3, func(i int) error {
		switch i {
		case 2:
			return errA
		case 4:
			return errB
		}
		return nil
	})
	if !errors.Is(err, errA) {
		t.Fatalf("expected first error by index, got %v", err)
	}
}

func TestForEachStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls int32
	for _, workers := range []int{1, 4} {
		err := forEach(ctx, 5, workers, func(int) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("workers=%d: expected cancellation, got %v", workers, err)
		}
	}
	if calls != 0 {
		t.Fatalf("no work should run after cancellation, ran %d", calls)
	}
}
