package resync

import (
	"errors"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/nand"
)

// ErrIndex is returned for ring accesses outside the stored entries.
var ErrIndex = errors.New("resync: ring index out of range")

// Entry is one emitted NAND cycle with its emitted timestamp.
type Entry struct {
	Cycle nand.Cycle
	Time  capture.Timestamp
}

// Ring keeps the most recent emitted cycles. Logical index 0 is the oldest
// stored entry.
type Ring struct {
	entries []Entry
	next    int
	n       int
}

// NewRing returns an empty ring holding up to capacity entries.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ring{entries: make([]Entry, capacity)}
}

// Push stores e, overwriting the oldest entry when full.
func (r *Ring) Push(e Entry) {
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.n < len(r.entries) {
		r.n++
	}
}

// Len returns the number of stored entries.
func (r *Ring) Len() int { return r.n }

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.entries) }

// physical maps a logical index onto a slot.
func (r *Ring) physical(i int) int {
	return (r.next - r.n + i + len(r.entries)) % len(r.entries)
}

// At returns the entry at logical index i.
func (r *Ring) At(i int) (Entry, error) {
	if i < 0 || i >= r.n {
		return Entry{}, fmt.Errorf("%w: %d of %d", ErrIndex, i, r.n)
	}
	return r.entries[r.physical(i)], nil
}

// at is At without the bounds report, for indices already checked.
func (r *Ring) at(i int) Entry { return r.entries[r.physical(i)] }

// Newest returns the most recently pushed entry.
func (r *Ring) Newest() (Entry, bool) {
	if r.n == 0 {
		return Entry{}, false
	}
	return r.at(r.n - 1), true
}
