// Package registry holds partially built events that span several capture
// records until their closing marker arrives.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/event"
)

// DefaultCapacity covers every bracketed event kind with room to spare.
const DefaultCapacity = 4

var (
	ErrFull = errors.New("registry: full")
	ErrOpen = errors.New("registry: item already open")
)

// Registry is a bounded map of open items keyed by event kind. At most one
// item per kind is open at a time.
type Registry struct {
	items    map[event.Kind]*event.Event
	capacity int
}

// New returns an empty registry. A non-positive capacity selects
// DefaultCapacity.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{items: make(map[event.Kind]*event.Event, capacity), capacity: capacity}
}

// Put stores an open item.
func (r *Registry) Put(ev *event.Event) error {
	if _, ok := r.items[ev.Kind]; ok {
		return fmt.Errorf("%w: %s", ErrOpen, ev.Kind)
	}
	if len(r.items) >= r.capacity {
		return fmt.Errorf("%w: %d items, dropping %s", ErrFull, len(r.items), ev.Kind)
	}
	r.items[ev.Kind] = ev
	return nil
}

// Take removes and returns the open item of the given kind.
func (r *Registry) Take(kind event.Kind) (*event.Event, bool) {
	ev, ok := r.items[kind]
	if ok {
		delete(r.items, kind)
	}
	return ev, ok
}

// Peek returns the open item of the given kind without removing it.
func (r *Registry) Peek(kind event.Kind) (*event.Event, bool) {
	ev, ok := r.items[kind]
	return ev, ok
}

// Len returns the number of open items.
func (r *Registry) Len() int { return len(r.items) }

// Cap returns the registry capacity.
func (r *Registry) Cap() int { return r.capacity }

// Drain removes every open item, ordered by start time then kind.
func (r *Registry) Drain() []*event.Event {
	out := make([]*event.Event, 0, len(r.items))
	for k, ev := range r.items {
		out = append(out, ev)
		delete(r.items, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Start.Compare(out[j].Start); c != 0 {
			return c < 0
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
