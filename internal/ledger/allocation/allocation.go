// Package allocation holds the pure capacity rules of the quota ledger.
// Everything here is arithmetic over counters read at the moment of the
// request; the transactional guarantees live in the ledger service.
package allocation

import "github.com/nubomail/nubo/internal/ledger/domain"

// Available returns the bytes a pool can still hand out.
func Available(allocated, used int64) int64 {
	if used >= allocated {
		return 0
	}
	return allocated - used
}

// Reserve validates carving delta bytes from a parent pool and returns the
// parent's new used counter. A non-positive delta is rejected; callers
// express returns through Release.
func Reserve(parentAllocated, parentUsed, delta int64) (int64, error) {
	if delta <= 0 {
		return 0, domain.ErrInvalidQuota
	}
	if delta > Available(parentAllocated, parentUsed) {
		return 0, domain.ErrInsufficientCapacity
	}
	return parentUsed + delta, nil
}

// Release returns amount bytes to the parent pool, floored at zero so a
// release can never drive the counter negative.
func Release(parentUsed, amount int64) int64 {
	if amount <= 0 {
		return parentUsed
	}
	if amount >= parentUsed {
		return 0
	}
	return parentUsed - amount
}

// Resize validates a child's requested size against its own consumption and
// returns the signed delta the parent must absorb. Growing is checked by the
// caller against the parent's availability; shrinking is blocked only when
// the request would fall below what the child's children already hold.
func Resize(childCurrent, childUsed, requested int64) (int64, error) {
	if requested < 0 {
		return 0, domain.ErrInvalidQuota
	}
	if requested < childUsed {
		return 0, domain.ErrShrinkBelowUsage
	}
	return requested - childCurrent, nil
}
