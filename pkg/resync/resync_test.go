package resync

import (
	"errors"
	"testing"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/nand"
)

func entry(i int, ns int64) Entry {
	return Entry{
		Cycle: nand.Cycle{Data: byte(i), Control: nand.RE},
		Time:  capture.FromNanoseconds(ns),
	}
}

// history returns n emitted entries one microsecond apart starting at 1s.
func history(n int) []Entry {
	out := make([]Entry, n)
	for i := range out {
		out[i] = entry(i, 1_000_000_000+int64(i)*1000)
	}
	return out
}

func fill(r *Ring, es []Entry) {
	for _, e := range es {
		r.Push(e)
	}
}

// replay copies hist[from:to] as seen on a clock shifted by shiftNs.
func replay(hist []Entry, from, to int, shiftNs int64) []Entry {
	out := make([]Entry, 0, to-from)
	for _, e := range hist[from:to] {
		out = append(out, Entry{Cycle: e.Cycle, Time: capture.FromNanoseconds(e.Time.Nanoseconds() + shiftNs)})
	}
	return out
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Window() != 24 {
		t.Fatalf("Window() = %d, want 24", cfg.Window())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := []Config{
		{Capacity: 1, WindowPercent: 30},
		{Capacity: 80, WindowPercent: 0},
		{Capacity: 80, WindowPercent: 30, Tolerance: 24},
		{Capacity: 80, WindowPercent: 30, MaxLiveOffset: -1},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("Validate(%+v) accepted bad config", c)
		}
	}
}

func TestRingWraps(t *testing.T) {
	r := NewRing(80)
	fill(r, history(100))
	if r.Len() != 80 || r.Cap() != 80 {
		t.Fatalf("Len/Cap = %d/%d", r.Len(), r.Cap())
	}
	first, err := r.At(0)
	if err != nil || first.Cycle.Data != 20 {
		t.Fatalf("At(0) = %+v, %v; want entry 20", first, err)
	}
	newest, ok := r.Newest()
	if !ok || newest.Cycle.Data != 99 {
		t.Fatalf("Newest() = %+v", newest)
	}
	if _, err := r.At(80); !errors.Is(err, ErrIndex) {
		t.Fatalf("At(80) error = %v, want ErrIndex", err)
	}
	if _, err := r.At(-1); !errors.Is(err, ErrIndex) {
		t.Fatalf("At(-1) error = %v, want ErrIndex", err)
	}
	for i := 0; i < r.Len(); i++ {
		if e, _ := r.At(i); int(e.Cycle.Data) != 20+i {
			t.Fatalf("At(%d) = %d", i, e.Cycle.Data)
		}
	}
}

func TestResyncFindsShiftedWindow(t *testing.T) {
	const shift = 5_300_000_000
	hist := history(80)
	ring := NewRing(DefaultCapacity)
	fill(ring, hist)

	live := replay(hist, 30, 70, shift)
	live[3].Cycle.Data ^= 0xFF // one corrupted cycle inside the window

	s := New(DefaultConfig(), ring)
	res := s.Resync(live)
	if !res.Synced {
		t.Fatalf("Resync did not sync: %+v", res)
	}
	if res.Alignment != 30 || res.LiveOffset != 0 || res.Matches != 23 || res.Overlap != 50 {
		t.Fatalf("result = %+v", res)
	}
	if res.Delta.Nsec < 0 || res.Delta.Nsec >= 1_000_000_000 {
		t.Fatalf("delta nanoseconds %d not normalized", res.Delta.Nsec)
	}
	if res.Delta.Nanoseconds() != -shift {
		t.Fatalf("delta = %v, want -%d ns", res.Delta, int64(shift))
	}

	mid := DefaultConfig().Window() / 2
	got, ok := live[mid].Time.Add(res.Delta)
	want, _ := ring.At(30 + mid)
	if !ok || got != want.Time {
		t.Fatalf("live + delta = %v, want buffered %v", got, want.Time)
	}
}

func TestResyncRetriesLiveOffsets(t *testing.T) {
	hist := history(60)
	ring := NewRing(DefaultCapacity)
	fill(ring, hist)

	noise := []Entry{entry(200, 0), entry(201, 0), entry(202, 0)}
	live := append(noise, replay(hist, 20, 50, 7000)...)

	// Without tolerance the first clean window starts right after the noise.
	cfg := DefaultConfig()
	cfg.Tolerance = 0
	res := New(cfg, ring).Resync(live)
	if !res.Synced || res.LiveOffset != 3 || res.Alignment != 20 || res.Overlap != 40 {
		t.Fatalf("result = %+v, want live offset 3 alignment 20", res)
	}
	if res.Delta.Nanoseconds() != -7000 {
		t.Fatalf("delta = %v", res.Delta)
	}
}

func TestResyncFailures(t *testing.T) {
	hist := history(40)

	tests := []struct {
		name string
		ring []Entry
		live []Entry
	}{
		{
			name: "ring shorter than window",
			ring: hist[:10],
			live: replay(hist, 0, 10, 0),
		},
		{
			name: "live shorter than window",
			ring: hist,
			live: replay(hist, 10, 20, 0),
		},
		{
			name: "two mismatches",
			ring: hist,
			live: func() []Entry {
				l := replay(hist, 10, 34, 0)
				l[0].Cycle.Control = nand.WE
				l[5].Cycle.Data = 0xEE
				return l
			}(),
		},
		{
			name: "unrelated data",
			ring: hist,
			live: func() []Entry {
				l := make([]Entry, 40)
				for i := range l {
					l[i] = entry(100+i, 0)
				}
				return l
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ring := NewRing(DefaultCapacity)
			fill(ring, tt.ring)
			if res := New(DefaultConfig(), ring).Resync(tt.live); res.Synced {
				t.Fatalf("unexpected sync: %+v", res)
			}
		})
	}
}

func TestJoinStateSkip(t *testing.T) {
	var j JoinState
	j.Active = capture.NewDelta(1, 0)
	j.Begin()
	if j.Previous != j.Active {
		t.Fatal("Begin did not save the standing delta")
	}

	j.Adopt(Result{Synced: true, Delta: capture.NewDelta(-2, 0), Alignment: 45, Overlap: 5})
	if j.Active.Sec != -2 || j.Previous.Sec != 1 {
		t.Fatalf("deltas = %+v", j)
	}
	if !j.SkipOne() || !j.SkipOne() || j.Skipped() != 2 {
		t.Fatalf("Skipped() = %d after two drops, want 2", j.Skipped())
	}
	skipped := 2
	for j.SkipOne() {
		skipped++
	}
	if skipped != 5 || j.Skipped() != 5 {
		t.Fatalf("skipped %d (%d), want 5", skipped, j.Skipped())
	}
	j.Leave()
	if j.Skip != 0 || j.Overlap != 0 || j.Alignment != 0 || j.Active.Sec != -2 {
		t.Fatalf("Leave reset the wrong fields: %+v", j)
	}
}
