package joiner

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/resync"
)

// RecordSource yields raw capture records. It returns io.EOF when exhausted.
type RecordSource interface {
	Next() (capture.Record, error)
}

// Stats counts what the controller did to the stream.
type Stats struct {
	Records            int64 // raw records read
	Cycles             int64 // NAND cycles emitted
	Overflows          int64
	Joins              int64
	JoinFailures       int64
	Duplicates         int64 // repeated cycles dropped after a join
	DuplicateRecords   int64 // repeated non-NAND records dropped after a join
	Unaligned          int64 // live cycles dropped ahead of a matched window
	Replayed           int64 // held records replayed at sync markers
	Markers            int64
	ClampedTimestamps  int64
}

// maxSightings bounds the non-NAND records remembered for duplicate checks.
const maxSightings = 256

// sighting is a non-NAND record seen between emitted cycles. pos is the
// number of cycles pushed to the ring before it.
type sighting struct {
	rec capture.Record
	pos int64
}

// Controller turns a raw capture into a corrected record stream. It is not
// safe for concurrent use.
type Controller struct {
	src RecordSource
	cfg Config
	log *zap.Logger

	state  State
	ring   *resync.Ring
	resync *resync.Resynchronizer
	join   resync.JoinState
	// joined is set once the live run of the current join has been aligned.
	joined bool
	// pushed counts cycles stored in the ring; recent holds the non-NAND
	// records seen alongside the cycles still in the ring.
	pushed int64
	recent []sighting
	// overlapStart is the pushed count of the first repeated ring cycle.
	overlapStart int64

	lookahead []capture.Record // read from src, not yet processed
	out       []capture.Record // ready for the consumer
	back      []capture.Record // returned by the consumer

	segment    []Held
	marker     *capture.Record
	epoch      int
	deltas     map[int]capture.Delta
	gapPending bool
	srcEOF     bool
	eof        bool

	stats Stats

	// OnTransition, if set, is called on every state change.
	OnTransition func(from, to State)
}

// New returns a controller reading from src. cfg must be valid.
func New(src RecordSource, cfg Config, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	ring := resync.NewRing(cfg.Resync.Capacity)
	return &Controller{
		src:    src,
		cfg:    cfg,
		log:    log,
		state:  StateSearching,
		ring:   ring,
		resync: resync.New(cfg.Resync, ring),
		deltas: make(map[int]capture.Delta),
	}
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Stats returns a copy of the counters.
func (c *Controller) Stats() Stats { return c.stats }

// Delta returns the correction currently applied to live records.
func (c *Controller) Delta() capture.Delta { return c.join.Active }

// Next returns the next corrected record, or io.EOF once the capture is
// exhausted and every held record has been replayed.
func (c *Controller) Next() (capture.Record, error) {
	if n := len(c.back); n > 0 {
		rec := c.back[n-1]
		c.back = c.back[:n-1]
		return rec, nil
	}
	for len(c.out) == 0 {
		if c.state == StateDone {
			return capture.Record{}, io.EOF
		}
		if err := c.step(); err != nil {
			return capture.Record{}, err
		}
	}
	rec := c.out[0]
	c.out = c.out[1:]
	return rec, nil
}

// Unget pushes rec back so the following Next returns it.
func (c *Controller) Unget(rec capture.Record) {
	c.back = append(c.back, rec)
}

func (c *Controller) step() error {
	switch c.state {
	case StateJoining:
		return c.joinStep()
	case StateBacktrack:
		c.backtrack()
		return nil
	default:
		return c.scan()
	}
}

func (c *Controller) enter(next State) {
	if next == c.state {
		return
	}
	if !c.state.CanTransition(next) {
		c.log.DPanic("invalid controller transition",
			zap.Stringer("from", c.state), zap.Stringer("to", next))
	}
	prev := c.state
	c.state = next
	c.log.Debug("controller transition", zap.Stringer("from", prev), zap.Stringer("to", next))
	if c.OnTransition != nil {
		c.OnTransition(prev, next)
	}
}

func (c *Controller) read() (capture.Record, error) {
	if len(c.lookahead) > 0 {
		rec := c.lookahead[0]
		c.lookahead = c.lookahead[1:]
		return rec, nil
	}
	if c.srcEOF {
		return capture.Record{}, io.EOF
	}
	rec, err := c.src.Next()
	if errors.Is(err, io.EOF) {
		c.srcEOF = true
		return capture.Record{}, io.EOF
	}
	if err != nil {
		return capture.Record{}, fmt.Errorf("joiner: read record %d: %w", c.stats.Records, err)
	}
	c.stats.Records++
	return rec, nil
}

func (c *Controller) unread(recs ...capture.Record) {
	c.lookahead = append(recs[:len(recs):len(recs)], c.lookahead...)
}

func (c *Controller) scan() error {
	rec, err := c.read()
	if errors.Is(err, io.EOF) {
		c.eof = true
		c.enter(StateBacktrack)
		return nil
	}
	if err != nil {
		return err
	}

	if rec.Kind != capture.KindNandCycle && !c.gapPending && !c.isOverflow(rec) {
		if len(c.recent) == maxSightings {
			c.recent = append(c.recent[:0], c.recent[1:]...)
		}
		c.recent = append(c.recent, sighting{rec: rec, pos: c.pushed})
	}

	switch rec.Kind {
	case capture.KindNandCycle:
		if c.gapPending {
			c.unread(rec)
			c.enter(StateJoining)
			return nil
		}
		c.emitCycle(rec)
	case capture.KindError:
		if c.isOverflow(rec) {
			c.overflow(rec)
			return nil
		}
		c.hold(rec)
	case capture.KindBufferDrain:
		c.hold(rec)
		mark, err := rec.StartStop()
		if err != nil {
			return nil
		}
		switch {
		case mark == capture.Start && c.state == StateSearching:
			c.enter(StateDraining)
		case mark == capture.Stop && c.state == StateDraining:
			c.enter(StateSearching)
		}
	case capture.KindHello:
		c.syncPoint(rec)
	case capture.KindCommand:
		if c.isSync(rec) {
			c.syncPoint(rec)
			return nil
		}
		c.hold(rec)
	default:
		c.hold(rec)
	}
	return nil
}

func (c *Controller) isSync(rec capture.Record) bool {
	if rec.Kind == capture.KindHello {
		return true
	}
	if rec.Kind != capture.KindCommand {
		return false
	}
	cmd, err := rec.Command()
	return err == nil && cmd.Cmd == c.cfg.SyncCommand && cmd.Arg == c.cfg.SyncArgument
}

func (c *Controller) isOverflow(rec capture.Record) bool {
	if rec.Kind != capture.KindError {
		return false
	}
	e, err := rec.Error()
	return err == nil && e.IsOverflow()
}

// endsRun reports whether rec must be handled by scan rather than held while
// a live run is being joined.
func (c *Controller) endsRun(rec capture.Record) bool {
	return c.isSync(rec) || c.isOverflow(rec)
}

func (c *Controller) hold(rec capture.Record) {
	c.segment = append(c.segment, Held{Record: rec, Epoch: c.epoch})
}

func (c *Controller) syncPoint(rec capture.Record) {
	c.stats.Markers++
	c.marker = &rec
	c.enter(StateBacktrack)
}

func (c *Controller) overflow(rec capture.Record) {
	c.stats.Overflows++
	fields := []zap.Field{zap.Stringer("time", rec.Time), zap.Bool("gap_pending", c.gapPending)}
	if last, ok := c.ring.Newest(); ok {
		fields = append(fields, zap.Stringer("last_cycle", last.Time))
	}
	c.log.Warn("sniffer buffer overflowed", fields...)
	if !c.gapPending {
		c.join.Begin()
		c.deltas[c.epoch] = c.join.Previous
	}
	c.epoch++
	c.deltas[c.epoch] = c.join.Active
	c.gapPending = true
	c.enter(StateOverflowed)
}

func (c *Controller) retime(rec capture.Record, d capture.Delta) capture.Record {
	out, ok := Retime(rec, d)
	if !ok {
		c.stats.ClampedTimestamps++
		c.log.Warn("timestamp out of range after correction, clamped",
			zap.Stringer("kind", rec.Kind), zap.Stringer("time", rec.Time), zap.Stringer("delta", d))
	}
	return out
}

// emitCycle re-times rec with the active delta. Cycles emitted while a gap is
// still unresolved stay out of the ring so a later search cannot match them.
func (c *Controller) emitCycle(rec capture.Record) {
	out := c.retime(rec, c.join.Active)
	if cyc, err := out.NandCycle(); err == nil && !c.gapPending {
		c.ring.Push(resync.Entry{Cycle: cyc, Time: out.Time})
		c.pushed++
		c.forget()
	}
	c.out = append(c.out, out)
	c.stats.Cycles++
}

// forget drops sightings older than the oldest ring cycle.
func (c *Controller) forget() {
	oldest := c.pushed - int64(c.ring.Len())
	i := 0
	for i < len(c.recent) && c.recent[i].pos < oldest {
		i++
	}
	if i > 0 {
		c.recent = append(c.recent[:0], c.recent[i:]...)
	}
}

// joinStep first aligns the live NAND run against the ring, then feeds the
// run through one record at a time, dropping repeated history. Other records
// inside the repeated span are held, or dropped when they repeat a record
// seen before the gap.
func (c *Controller) joinStep() error {
	if !c.joined {
		return c.align()
	}

	rec, err := c.read()
	if errors.Is(err, io.EOF) {
		c.eof = true
		c.leaveJoin()
		c.enter(StateBacktrack)
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Kind != capture.KindNandCycle {
		if c.join.Skip == 0 || c.endsRun(rec) {
			c.unread(rec)
			c.leaveJoin()
			c.enter(StateSearching)
			return nil
		}
		if c.repeated(rec) {
			c.stats.DuplicateRecords++
			c.log.Debug("dropping repeated record",
				zap.Stringer("kind", rec.Kind), zap.Stringer("time", rec.Time))
			return nil
		}
		c.hold(rec)
		return nil
	}
	if c.join.SkipOne() {
		c.stats.Duplicates++
		return nil
	}
	c.emitCycle(rec)
	return nil
}

// repeated reports whether rec was already seen before the gap at the same
// place in the repeated span, and consumes that sighting.
func (c *Controller) repeated(rec capture.Record) bool {
	skipped := int64(c.join.Skipped())
	want := c.overlapStart + skipped
	for i, s := range c.recent {
		if s.pos > want {
			break
		}
		if s.pos != want && skipped > 0 {
			continue
		}
		if s.rec.Kind == rec.Kind && bytes.Equal(s.rec.Payload, rec.Payload) {
			c.recent = append(c.recent[:i], c.recent[i+1:]...)
			return true
		}
	}
	return false
}

// align gathers a window of live cycles, holding the other records that
// arrive between them, and searches the ring for it. A run cut short by a
// sync marker or a further overflow leaves the gap pending so the next run
// retries.
func (c *Controller) align() error {
	cfg := c.resync.Config()
	need := cfg.Window() + cfg.MaxLiveOffset

	var run []capture.Record
	live := make([]resync.Entry, 0, need)
	exhausted := false
	for len(live) < need {
		rec, err := c.read()
		if errors.Is(err, io.EOF) {
			exhausted = true
			break
		}
		if err != nil {
			c.unread(run...)
			return err
		}
		if rec.Kind != capture.KindNandCycle {
			if c.endsRun(rec) {
				c.unread(rec)
				break
			}
			run = append(run, rec)
			continue
		}
		cyc, cerr := rec.NandCycle()
		if cerr != nil {
			c.hold(rec)
			continue
		}
		run = append(run, rec)
		live = append(live, resync.Entry{Cycle: cyc, Time: rec.Time})
	}

	res := c.resync.Resync(live)
	if !res.Synced {
		if len(live) < need && !exhausted {
			c.log.Debug("live run too short to join, retrying on the next one",
				zap.Int("live", len(live)), zap.Int("need", need))
			c.passThrough(run)
			return nil
		}
		c.gapPending = false
		c.stats.JoinFailures++
		c.log.Warn("resynchronization failed, keeping previous correction",
			zap.Int("live", len(live)), zap.Int("history", c.ring.Len()),
			zap.Int("windows", res.Windows), zap.Stringer("delta", c.join.Active))
		c.deltas[c.epoch] = c.join.Active
		c.passThrough(run)
		return nil
	}

	c.gapPending = false
	c.joined = true
	c.stats.Joins++
	c.join.Adopt(res)
	c.overlapStart = c.pushed - int64(c.ring.Len()) + int64(res.Alignment)
	c.deltas[c.epoch] = res.Delta
	c.log.Info("resynchronized after overflow",
		zap.Stringer("delta", res.Delta), zap.Stringer("previous", c.join.Previous),
		zap.Int("alignment", res.Alignment), zap.Int("matches", res.Matches),
		zap.Int("overlap", res.Overlap))
	if res.LiveOffset > 0 {
		c.stats.Unaligned += int64(res.LiveOffset)
		c.log.Warn("dropping live cycles ahead of the matched window",
			zap.Int("count", res.LiveOffset))
		run = dropCycles(run, res.LiveOffset)
	}
	c.unread(run...)
	return nil
}

// passThrough emits an unjoined run with the active delta and leaves the join.
func (c *Controller) passThrough(run []capture.Record) {
	for _, rec := range run {
		if rec.Kind == capture.KindNandCycle {
			c.emitCycle(rec)
		} else {
			c.hold(rec)
		}
	}
	c.leaveJoin()
	c.enter(StateSearching)
}

// dropCycles removes the first n NAND cycles from run, keeping other records.
func dropCycles(run []capture.Record, n int) []capture.Record {
	out := run[:0:0]
	for _, rec := range run {
		if n > 0 && rec.Kind == capture.KindNandCycle {
			n--
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (c *Controller) leaveJoin() {
	if c.join.Skip > 0 {
		c.log.Debug("NAND run ended before history was exhausted", zap.Int("remaining", c.join.Skip))
	}
	c.join.Leave()
	c.joined = false
	c.overlapStart = 0
}

func (c *Controller) deltaFor(epoch int) capture.Delta {
	if d, ok := c.deltas[epoch]; ok {
		return d
	}
	return c.join.Active
}

// backtrack replays the held segment followed by the marker that ended it.
func (c *Controller) backtrack() {
	held := c.segment
	if c.marker != nil {
		held = append(held, Held{Record: *c.marker, Epoch: c.epoch})
		c.marker = nil
	}
	recs, clamped := Replay(held, c.deltaFor, c.cfg.Fudge())
	if clamped > 0 {
		c.stats.ClampedTimestamps += int64(clamped)
		c.log.Warn("timestamps clamped during replay", zap.Int("count", clamped))
	}
	c.out = append(c.out, recs...)
	c.stats.Replayed += int64(len(recs))
	c.segment = c.segment[:0]

	for e := range c.deltas {
		if e != c.epoch {
			delete(c.deltas, e)
		}
	}

	switch {
	case c.eof:
		c.enter(StateDone)
	case c.gapPending:
		c.enter(StateOverflowed)
	default:
		c.enter(StateSearching)
	}
}
