package resync

import "github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"

// Result describes the outcome of a correlation search.
type Result struct {
	Synced bool
	// Delta maps the live clock onto the emitted one: live + Delta == emitted.
	Delta capture.Delta
	// Alignment is the logical ring index matching the first window cycle.
	Alignment int
	// LiveOffset is the index of the first window cycle in the live slice.
	LiveOffset int
	// Matches counts equal cycles inside the matched window.
	Matches int
	// Overlap is how many live cycles from LiveOffset repeat ring history.
	Overlap int
	// Windows counts the candidate alignments examined.
	Windows int
}

// Resynchronizer searches a Ring for the position of a live window.
type Resynchronizer struct {
	cfg  Config
	ring *Ring
}

// New returns a resynchronizer over ring.
func New(cfg Config, ring *Ring) *Resynchronizer {
	return &Resynchronizer{cfg: cfg, ring: ring}
}

// Config returns the search settings.
func (s *Resynchronizer) Config() Config { return s.cfg }

// Ring returns the history the search runs against.
func (s *Resynchronizer) Ring() *Ring { return s.ring }

// Resync looks for the earliest ring alignment of a window of live cycles,
// trying successive live offsets up to MaxLiveOffset. A window matches when
// at most Tolerance of its cycles differ in data or control lines. The delta
// is taken at the middle of the matched window.
func (s *Resynchronizer) Resync(live []Entry) Result {
	w := s.cfg.Window()
	n := s.ring.Len()
	res := Result{}
	if n < w {
		return res
	}

	for off := 0; off <= s.cfg.MaxLiveOffset && off+w <= len(live); off++ {
		for a := 0; a+w <= n; a++ {
			res.Windows++
			misses := 0
			for i := 0; i < w && misses <= s.cfg.Tolerance; i++ {
				if !s.ring.at(a + i).Cycle.Matches(live[off+i].Cycle) {
					misses++
				}
			}
			if misses > s.cfg.Tolerance {
				continue
			}
			mid := w / 2
			res.Synced = true
			res.Delta = capture.Diff(s.ring.at(a+mid).Time, live[off+mid].Time)
			res.Alignment = a
			res.LiveOffset = off
			res.Matches = w - misses
			res.Overlap = n - a
			return res
		}
	}
	return res
}

// JoinState carries the correction in force across an overflow episode.
type JoinState struct {
	// Active is applied to records captured after the gap.
	Active capture.Delta
	// Previous is applied to records captured before the gap.
	Previous capture.Delta
	// Alignment is the logical ring index the live run joined at.
	Alignment int
	// Overlap is how many live cycles repeat ring history.
	Overlap int
	// Skip counts live duplicates still to be dropped.
	Skip int
}

// Begin records the start of a new gap: the standing correction becomes the
// one for pre-gap records.
func (j *JoinState) Begin() {
	j.Previous = j.Active
}

// Adopt installs the result of a successful search.
func (j *JoinState) Adopt(res Result) {
	j.Active = res.Delta
	j.Alignment = res.Alignment
	j.Overlap = res.Overlap
	j.Skip = res.Overlap
}

// SkipOne consumes one duplicate and reports whether it should be dropped.
func (j *JoinState) SkipOne() bool {
	if j.Skip == 0 {
		return false
	}
	j.Skip--
	return true
}

// Skipped returns how many duplicates have been dropped since Adopt.
func (j *JoinState) Skipped() int { return j.Overlap - j.Skip }

// Leave resets the search bookkeeping. The deltas stay in force.
func (j *JoinState) Leave() {
	j.Alignment, j.Overlap, j.Skip = 0, 0, 0
}
