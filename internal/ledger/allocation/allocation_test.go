package allocation_test

import (
	"errors"
	"testing"

	"github.com/nubomail/nubo/internal/ledger/allocation"
	"github.com/nubomail/nubo/internal/ledger/domain"
)

const gb = int64(1) << 30

func TestReserveWithinCapacity(t *testing.T) {
	newUsed, err := allocation.Reserve(100*gb, 40*gb, 60*gb)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if newUsed != 100*gb {
		t.Fatalf("expected used %d, got %d", 100*gb, newUsed)
	}
}

func TestReserveOverCapacity(t *testing.T) {
	_, err := allocation.Reserve(100*gb, 60*gb, 50*gb)
	if !errors.Is(err, domain.ErrInsufficientCapacity) {
		t.Fatalf("expected ErrInsufficientCapacity, got %v", err)
	}
}

func TestReserveRejectsNonPositiveDelta(t *testing.T) {
	for _, delta := range []int64{0, -gb} {
		if _, err := allocation.Reserve(100*gb, 0, delta); !errors.Is(err, domain.ErrInvalidQuota) {
			t.Fatalf("delta %d: expected ErrInvalidQuota, got %v", delta, err)
		}
	}
}

func TestReleaseSymmetry(t *testing.T) {
	for _, delta := range []int64{1, gb, 40 * gb, 100 * gb} {
		used := int64(0)
		newUsed, err := allocation.Reserve(100*gb, used, delta)
		if err != nil {
			t.Fatalf("reserve %d: %v", delta, err)
		}
		if got := allocation.Release(newUsed, delta); got != used {
			t.Fatalf("delta %d: release returned %d, want %d", delta, got, used)
		}
	}
}

func TestReleaseFloorsAtZero(t *testing.T) {
	if got := allocation.Release(10*gb, 25*gb); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestResizeShrinkBlockedBelowUsage(t *testing.T) {
	_, err := allocation.Resize(60*gb, 30*gb, 20*gb)
	if !errors.Is(err, domain.ErrShrinkBelowUsage) {
		t.Fatalf("expected ErrShrinkBelowUsage, got %v", err)
	}
}

func TestResizeDeltas(t *testing.T) {
	cases := []struct {
		current, used, requested, want int64
	}{
		{60 * gb, 0, 20 * gb, -40 * gb},
		{60 * gb, 20 * gb, 20 * gb, -40 * gb},
		{20 * gb, 0, 50 * gb, 30 * gb},
		{20 * gb, 20 * gb, 20 * gb, 0},
	}
	for _, tc := range cases {
		got, err := allocation.Resize(tc.current, tc.used, tc.requested)
		if err != nil {
			t.Fatalf("resize(%d,%d,%d): %v", tc.current, tc.used, tc.requested, err)
		}
		if got != tc.want {
			t.Fatalf("resize(%d,%d,%d) = %d, want %d", tc.current, tc.used, tc.requested, got, tc.want)
		}
	}
}

func TestAvailableNeverNegative(t *testing.T) {
	if got := allocation.Available(10*gb, 15*gb); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
