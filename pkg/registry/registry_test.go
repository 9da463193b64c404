package registry

import (
	"errors"
	"testing"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/event"
)

func TestPutTake(t *testing.T) {
	r := New(0)
	if r.Cap() != DefaultCapacity {
		t.Fatalf("Cap() = %d, want %d", r.Cap(), DefaultCapacity)
	}

	drain := &event.Event{Kind: event.KindBufferDrain}
	if err := r.Put(drain); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := r.Put(&event.Event{Kind: event.KindBufferDrain}); !errors.Is(err, ErrOpen) {
		t.Fatalf("second Put of same kind: %v, want ErrOpen", err)
	}
	if got, ok := r.Peek(event.KindBufferDrain); !ok || got != drain {
		t.Fatal("Peek did not return the stored item")
	}
	if got, ok := r.Take(event.KindBufferDrain); !ok || got != drain {
		t.Fatal("Take did not return the stored item")
	}
	if _, ok := r.Take(event.KindBufferDrain); ok {
		t.Fatal("Take on empty slot succeeded")
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d after take", r.Len())
	}
}

func TestCapacity(t *testing.T) {
	r := New(2)
	kinds := []event.Kind{event.KindNetCommand, event.KindSdCommand, event.KindBufferDrain}

	for i, k := range kinds {
		err := r.Put(&event.Event{Kind: k})
		if i < 2 && err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
		if i == 2 && !errors.Is(err, ErrFull) {
			t.Fatalf("Put(%s) on full registry: %v, want ErrFull", k, err)
		}
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
}

func TestDrainOrder(t *testing.T) {
	r := New(4)
	late := &event.Event{Kind: event.KindNetCommand, Start: capture.Timestamp{Sec: 2}}
	early := &event.Event{Kind: event.KindSdCommand, Start: capture.Timestamp{Sec: 1}}
	tie := &event.Event{Kind: event.KindBufferDrain, Start: capture.Timestamp{Sec: 1}}
	for _, ev := range []*event.Event{late, early, tie} {
		if err := r.Put(ev); err != nil {
			t.Fatal(err)
		}
	}

	got := r.Drain()
	want := []*event.Event{early, tie, late}
	if len(got) != len(want) {
		t.Fatalf("Drain returned %d items", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %s, want %s", i, got[i].Kind, want[i].Kind)
		}
	}
	if r.Len() != 0 {
		t.Fatal("registry not empty after Drain")
	}
}
