package joiner

import "github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"

// Held is a record kept back until the next sync marker, tagged with the
// overflow epoch it was captured in.
type Held struct {
	Record capture.Record
	Epoch  int
}

// Fudge replaces the timestamp of one host command with a constant.
type Fudge struct {
	Enabled bool
	Command [2]byte
	Time    capture.Timestamp
}

func (f Fudge) applies(rec capture.Record) bool {
	if !f.Enabled || rec.Kind != capture.KindCommand {
		return false
	}
	cmd, err := rec.Command()
	return err == nil && cmd.Cmd == f.Command
}

// Retime shifts rec by d. The second result is false when the shifted time
// falls outside the header range; the time is then clamped.
func Retime(rec capture.Record, d capture.Delta) (capture.Record, bool) {
	if d.IsZero() {
		return rec, true
	}
	t, ok := rec.Time.Add(d)
	rec.Time = t
	return rec, ok
}

// Replay re-times held records using the delta of each record's epoch. It
// does not modify held and returns the number of clamped records.
func Replay(held []Held, delta func(epoch int) capture.Delta, fudge Fudge) ([]capture.Record, int) {
	out := make([]capture.Record, 0, len(held))
	clamped := 0
	for _, h := range held {
		rec := h.Record
		if fudge.applies(rec) {
			rec.Time = fudge.Time
			out = append(out, rec)
			continue
		}
		rec, ok := Retime(rec, delta(h.Epoch))
		if !ok {
			clamped++
		}
		out = append(out, rec)
	}
	return out, clamped
}
