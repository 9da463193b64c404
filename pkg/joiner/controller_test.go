package joiner

import (
	"errors"
	"io"
	"testing"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/nand"
)

type recordList struct {
	recs []capture.Record
	err  error
}

func (l *recordList) Next() (capture.Record, error) {
	if len(l.recs) == 0 {
		if l.err != nil {
			return capture.Record{}, l.err
		}
		return capture.Record{}, io.EOF
	}
	rec := l.recs[0]
	l.recs = l.recs[1:]
	return rec, nil
}

func ts(ns int64) capture.Timestamp { return capture.FromNanoseconds(ns) }

func cycleAt(ns int64, data byte) capture.Record {
	return capture.NewNandCycle(ts(ns), nand.Cycle{Data: data, Control: nand.WE})
}

func command(ns int64, name string, arg uint32) capture.Record {
	var c capture.Command
	copy(c.Cmd[:], name)
	c.Arg = arg
	c.StartStop = capture.Start
	return capture.NewCommand(ts(ns), c)
}

func collect(t *testing.T, c *Controller) []capture.Record {
	t.Helper()
	var out []capture.Record
	for {
		rec, err := c.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, rec)
		if len(out) > 10000 {
			t.Fatal("controller does not terminate")
		}
	}
}

const (
	bufferedBase = int64(10_000_000_000)
	liveBase     = int64(2_000_000_000)
	cyclePeriod  = int64(1000)
)

// overflowTrace delivers cycles 0..99 on the buffered clock, overflows, then
// restarts at cycle 60 on a clock running 8s behind.
func overflowTrace() []capture.Record {
	var recs []capture.Record
	for i := int64(0); i < 100; i++ {
		recs = append(recs, cycleAt(bufferedBase+i*cyclePeriod, byte(i)))
		if i == 50 {
			recs = append(recs, command(bufferedBase+i*cyclePeriod+500, "xx", 7))
		}
	}
	recs = append(recs, capture.NewOverflow(ts(bufferedBase+100*cyclePeriod)))
	for i := int64(60); i < 140; i++ {
		recs = append(recs, cycleAt(liveBase+i*cyclePeriod, byte(i)))
	}
	recs = append(recs, capture.NewSdResponse(ts(liveBase+150*cyclePeriod), 0x42))
	return recs
}

func TestControllerJoinsOverflow(t *testing.T) {
	var seen []State
	c := New(&recordList{recs: overflowTrace()}, DefaultConfig(), nil)
	c.OnTransition = func(_, to State) { seen = append(seen, to) }

	out := collect(t, c)

	var cycles []capture.Record
	for _, rec := range out {
		if rec.Kind == capture.KindNandCycle {
			cycles = append(cycles, rec)
		}
	}
	if len(cycles) != 140 {
		t.Fatalf("emitted %d cycles, want 140", len(cycles))
	}
	for i, rec := range cycles {
		cyc, _ := rec.NandCycle()
		if cyc.Data != byte(i) {
			t.Fatalf("cycle %d has data %#02x", i, cyc.Data)
		}
		if want := ts(bufferedBase + int64(i)*cyclePeriod); rec.Time != want {
			t.Fatalf("cycle %d at %s, want %s", i, rec.Time, want)
		}
	}

	tail := out[len(cycles):]
	if len(tail) != 2 {
		t.Fatalf("replayed %d records, want 2", len(tail))
	}
	if tail[0].Kind != capture.KindCommand || tail[0].Time != ts(bufferedBase+50*cyclePeriod+500) {
		t.Errorf("pre-gap command = %s at %s", tail[0].Kind, tail[0].Time)
	}
	if tail[1].Kind != capture.KindSdResponse || tail[1].Time != ts(bufferedBase+150*cyclePeriod) {
		t.Errorf("post-gap response = %s at %s", tail[1].Kind, tail[1].Time)
	}

	st := c.Stats()
	if st.Overflows != 1 || st.Joins != 1 || st.JoinFailures != 0 {
		t.Errorf("stats = %+v", st)
	}
	if st.Duplicates != 40 {
		t.Errorf("duplicates = %d, want 40", st.Duplicates)
	}
	if st.Records != 183 {
		t.Errorf("records = %d, want 183", st.Records)
	}
	if c.Delta() != capture.NewDelta(8, 0) {
		t.Errorf("delta = %s, want +8s", c.Delta())
	}

	want := []State{StateOverflowed, StateJoining, StateSearching, StateBacktrack, StateDone}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
}

func cyclesOf(recs []capture.Record) []capture.Record {
	var out []capture.Record
	for _, rec := range recs {
		if rec.Kind == capture.KindNandCycle {
			out = append(out, rec)
		}
	}
	return out
}

func kindCount(recs []capture.Record, k capture.Kind) int {
	n := 0
	for _, rec := range recs {
		if rec.Kind == k {
			n++
		}
	}
	return n
}

// checkTimeline requires cycles first..last exactly once, each on the
// buffered clock.
func checkTimeline(t *testing.T, cycles []capture.Record, first, last int64) {
	t.Helper()
	if want := int(last - first + 1); len(cycles) != want {
		t.Fatalf("emitted %d cycles, want %d", len(cycles), want)
	}
	for i, rec := range cycles {
		n := first + int64(i)
		cyc, _ := rec.NandCycle()
		if cyc.Data != byte(n) {
			t.Fatalf("cycle %d has data %#02x, want %#02x", i, cyc.Data, byte(n))
		}
		if want := ts(bufferedBase + n*cyclePeriod); rec.Time != want {
			t.Fatalf("cycle %d at %s, want %s", n, rec.Time, want)
		}
	}
}

// gapTrace delivers cycles 0..79 on the buffered clock, overflows, then
// restarts at cycle restart on a clock running 8s behind until cycle 139.
// before and after insert a record behind the given cycle on their side of
// the gap.
func gapTrace(restart int64, before, after map[int64]func(ns int64) capture.Record) []capture.Record {
	var recs []capture.Record
	for i := int64(0); i < 80; i++ {
		recs = append(recs, cycleAt(bufferedBase+i*cyclePeriod, byte(i)))
		if f := before[i]; f != nil {
			recs = append(recs, f(bufferedBase+i*cyclePeriod+500))
		}
	}
	recs = append(recs, capture.NewOverflow(ts(bufferedBase+80*cyclePeriod)))
	for i := restart; i < 140; i++ {
		recs = append(recs, cycleAt(liveBase+i*cyclePeriod, byte(i)))
		if f := after[i]; f != nil {
			recs = append(recs, f(liveBase+i*cyclePeriod+500))
		}
	}
	return recs
}

func TestControllerJoinsAcrossInterleavedRecords(t *testing.T) {
	response := func(ns int64) capture.Record { return capture.NewSdResponse(ts(ns), 0x42) }
	recs := gapTrace(56, nil, map[int64]func(int64) capture.Record{60: response})

	var seen []State
	c := New(&recordList{recs: recs}, DefaultConfig(), nil)
	c.OnTransition = func(_, to State) { seen = append(seen, to) }
	out := collect(t, c)

	checkTimeline(t, cyclesOf(out), 0, 139)
	st := c.Stats()
	if st.Joins != 1 || st.JoinFailures != 0 || st.Duplicates != 24 {
		t.Errorf("stats = %+v", st)
	}
	last := out[len(out)-1]
	if last.Kind != capture.KindSdResponse || last.Time != ts(bufferedBase+60*cyclePeriod+500) {
		t.Errorf("response = %s at %s", last.Kind, last.Time)
	}
	if n := kindCount(out, capture.KindSdResponse); n != 1 {
		t.Errorf("response emitted %d times", n)
	}
	want := []State{StateOverflowed, StateJoining, StateBacktrack, StateDone}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
}

func TestControllerDropsRepeatedRecords(t *testing.T) {
	host := func(ns int64) capture.Record { return command(ns, "xx", 7) }
	recs := gapTrace(30,
		map[int64]func(int64) capture.Record{75: host},
		map[int64]func(int64) capture.Record{75: host})

	c := New(&recordList{recs: recs}, DefaultConfig(), nil)
	out := collect(t, c)

	checkTimeline(t, cyclesOf(out), 0, 139)
	if n := kindCount(out, capture.KindCommand); n != 1 {
		t.Fatalf("host command emitted %d times, want 1", n)
	}
	last := out[len(out)-1]
	if last.Kind != capture.KindCommand || last.Time != ts(bufferedBase+75*cyclePeriod+500) {
		t.Errorf("command = %s at %s", last.Kind, last.Time)
	}
	st := c.Stats()
	if st.Duplicates != 50 || st.DuplicateRecords != 1 {
		t.Errorf("duplicates = %d cycles, %d records; want 50, 1", st.Duplicates, st.DuplicateRecords)
	}
}

func TestControllerRetriesShortRun(t *testing.T) {
	hello := func(ns int64) capture.Record { return capture.NewHello(ts(ns), 1) }
	recs := gapTrace(30, nil, map[int64]func(int64) capture.Record{39: hello})

	c := New(&recordList{recs: recs}, DefaultConfig(), nil)
	out := collect(t, c)

	cycles := cyclesOf(out)
	if len(cycles) != 80+10+60 {
		t.Fatalf("emitted %d cycles, want 150", len(cycles))
	}
	checkTimeline(t, cycles[:80], 0, 79)
	// The ten cycles before the marker pass through uncorrected.
	if cycles[80].Time != ts(liveBase+30*cyclePeriod) {
		t.Errorf("short run starts at %s", cycles[80].Time)
	}
	checkTimeline(t, cycles[90:], 80, 139)

	st := c.Stats()
	if st.Joins != 1 || st.JoinFailures != 0 || st.Duplicates != 40 {
		t.Errorf("stats = %+v", st)
	}
	if c.Delta() != capture.NewDelta(8, 0) {
		t.Errorf("delta = %s, want +8s", c.Delta())
	}
}

func TestControllerJoinFailurePassesThrough(t *testing.T) {
	recs := []capture.Record{capture.NewOverflow(ts(5))}
	for i := int64(0); i < 30; i++ {
		recs = append(recs, cycleAt(100+i, byte(i)))
	}
	c := New(&recordList{recs: recs}, DefaultConfig(), nil)
	out := collect(t, c)

	if len(out) != 30 {
		t.Fatalf("emitted %d records, want 30", len(out))
	}
	for i, rec := range out {
		if rec.Time != ts(100+int64(i)) {
			t.Fatalf("record %d retimed to %s", i, rec.Time)
		}
	}
	if st := c.Stats(); st.JoinFailures != 1 || st.Joins != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestControllerSyncMarkers(t *testing.T) {
	tests := []struct {
		name   string
		marker capture.Record
	}{
		{"hello", capture.NewHello(ts(30), 1)},
		{"sync command", command(30, DefaultSyncCommand, DefaultSyncArgument)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := []capture.Record{
				command(10, "zz", 1),
				cycleAt(20, 0xAA),
				tt.marker,
				cycleAt(40, 0xBB),
			}
			var seen []State
			c := New(&recordList{recs: recs}, DefaultConfig(), nil)
			c.OnTransition = func(_, to State) { seen = append(seen, to) }
			out := collect(t, c)

			kinds := []capture.Kind{capture.KindNandCycle, capture.KindCommand, tt.marker.Kind, capture.KindNandCycle}
			if len(out) != len(kinds) {
				t.Fatalf("got %d records, want %d", len(out), len(kinds))
			}
			for i, k := range kinds {
				if out[i].Kind != k {
					t.Errorf("record %d = %s, want %s", i, out[i].Kind, k)
				}
			}
			if c.Stats().Markers != 1 {
				t.Errorf("markers = %d, want 1", c.Stats().Markers)
			}
			if seen[0] != StateBacktrack || seen[1] != StateSearching {
				t.Errorf("transitions = %v", seen)
			}
		})
	}
}

func TestControllerDrainBrackets(t *testing.T) {
	recs := []capture.Record{
		capture.NewBufferDrain(ts(1), capture.Start),
		cycleAt(2, 1),
		capture.NewBufferDrain(ts(3), capture.Stop),
	}
	var seen []State
	c := New(&recordList{recs: recs}, DefaultConfig(), nil)
	c.OnTransition = func(_, to State) { seen = append(seen, to) }
	out := collect(t, c)

	if len(out) != 3 || out[0].Kind != capture.KindNandCycle || out[1].Kind != capture.KindBufferDrain {
		t.Fatalf("unexpected output order")
	}
	want := []State{StateDraining, StateSearching, StateBacktrack, StateDone}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
}

func TestControllerUnget(t *testing.T) {
	c := New(&recordList{recs: []capture.Record{cycleAt(1, 1), cycleAt(2, 2)}}, DefaultConfig(), nil)
	first, err := c.Next()
	if err != nil {
		t.Fatal(err)
	}
	c.Unget(first)
	again, err := c.Next()
	if err != nil {
		t.Fatal(err)
	}
	if again.Time != first.Time {
		t.Errorf("Unget returned %s, want %s", again.Time, first.Time)
	}
	if out := collect(t, c); len(out) != 1 {
		t.Errorf("remaining = %d, want 1", len(out))
	}
}

func TestControllerPropagatesReadErrors(t *testing.T) {
	boom := errors.New("boom")
	c := New(&recordList{recs: []capture.Record{cycleAt(1, 1)}, err: boom}, DefaultConfig(), nil)
	if _, err := c.Next(); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if _, err := c.Next(); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateSearching, StateOverflowed, true},
		{StateOverflowed, StateJoining, true},
		{StateOverflowed, StateSearching, false},
		{StateJoining, StateSearching, true},
		{StateBacktrack, StateDone, true},
		{StateDone, StateSearching, false},
		{StateDraining, StateJoining, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
	if !StateDone.Terminal() || StateSearching.Terminal() {
		t.Error("Terminal mismatch")
	}
	if got := State(42).String(); got != "State(42)" {
		t.Errorf("String = %q", got)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg := DefaultConfig()
	cfg.ResetCardTime.Nsec = 1_000_000_000
	if err := cfg.Validate(); err == nil {
		t.Error("expected nanosecond range error")
	}
	if _, err := CommandName("abc"); err == nil {
		t.Error("expected length error")
	}
	if name, err := CommandName("rc"); err != nil || name != [2]byte{'r', 'c'} {
		t.Errorf("CommandName = %v, %v", name, err)
	}
}
