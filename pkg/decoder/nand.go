package decoder

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/event"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/nand"
)

// NAND opcodes the decoder understands.
const (
	OpRead               byte = 0x00
	OpChangeReadColumn   byte = 0x05
	OpReadConfirm        byte = 0x30
	OpSandiskCharge2     byte = 0x60
	OpSandiskCharge1     byte = 0x65
	OpReadStatus         byte = 0x70
	OpSandiskParam       byte = 0x55
	OpSandiskVendorStart byte = 0x5C
	OpSandiskVendorKey   byte = 0xC5
	OpReadID             byte = 0x90
	OpChangeReadConfirm  byte = 0xE0
	OpReadParameterPage  byte = 0xEC
	OpReset              byte = 0xFF
	OpCache2             byte = 0xA2
	OpCache3             byte = 0x69
	OpCache4             byte = 0xFD
)

type opcodeHandler func(d *Decoder, op capture.Record) error

var opcodes = map[byte]opcodeHandler{
	OpReadID:             (*Decoder).readID,
	OpReadStatus:         (*Decoder).readStatus,
	OpReset:              (*Decoder).reset,
	OpSandiskVendorStart: (*Decoder).sandiskVendorStart,
	OpSandiskParam:       (*Decoder).sandiskParam,
	OpSandiskCharge1:     charge(event.KindSandiskCharge1),
	OpSandiskCharge2:     charge(event.KindSandiskCharge2),
	OpReadParameterPage:  (*Decoder).readParameterPage,
	OpChangeReadColumn:   pageRead(event.KindNandChangeReadColumn, OpChangeReadConfirm),
	OpRead:               pageRead(event.KindNandRead, OpReadConfirm),
	OpReadConfirm:        single(event.KindNandCache1),
	OpCache2:             single(event.KindNandCache2),
	OpCache3:             single(event.KindNandCache3),
	OpCache4:             single(event.KindNandCache4),
}

// Cycle predicates.

func isAddress(c nand.Cycle) bool {
	return c.Control.Has(nand.ALE|nand.WE) && !c.Control.Any(nand.CLE)
}

func isIDRead(c nand.Cycle) bool {
	return c.Control.Any(nand.RE) && !c.Control.Any(nand.WE)
}

func isStatusRead(c nand.Cycle) bool {
	return !c.Control.Any(nand.ALE | nand.CLE | nand.WE)
}

func isCommand(op byte) func(nand.Cycle) bool {
	return func(c nand.Cycle) bool {
		return c.Data == op && c.Control.Has(nand.CLE|nand.WE) && !c.Control.Any(nand.ALE)
	}
}

func isLatched(op byte) func(nand.Cycle) bool {
	return func(c nand.Cycle) bool {
		return c.Data == op && c.Control.Any(nand.CLE)
	}
}

func (d *Decoder) decodeNand(rec capture.Record) error {
	c, err := rec.NandCycle()
	if err != nil {
		d.anomaly("malformed nand cycle", zap.Error(err))
		return nil
	}
	if !c.IsCommand() {
		d.log.Debug("lost in nand traffic", zap.Stringer("cycle", c), zap.Stringer("time", rec.Time))
		d.fallback(rec)
		return nil
	}
	h, ok := opcodes[c.Data]
	if !ok {
		d.stats.Dropped++
		d.log.Warn("unknown nand command", zap.Stringer("cycle", c), zap.Stringer("time", rec.Time))
		return nil
	}
	return h(d, rec)
}

// fallback emits each record as a raw single-cycle event.
func (d *Decoder) fallback(recs ...capture.Record) {
	for _, rec := range recs {
		c, _ := rec.NandCycle()
		d.stats.Fallbacks++
		d.emit(event.Event{
			Kind:    event.KindNandUnknownCommand,
			Start:   rec.Time,
			End:     rec.Time,
			Payload: &event.NandUnknownCommand{Data: c.Data, Control: c.Control, Unknown: c.Unknown},
		})
	}
}

// sequence tracks the cycles consumed while matching one command.
type sequence struct {
	d    *Decoder
	name string
	recs []capture.Record
}

func (d *Decoder) begin(name string, op capture.Record) *sequence {
	return &sequence{d: d, name: name, recs: []capture.Record{op}}
}

// last returns the most recently consumed record.
func (s *sequence) last() capture.Record { return s.recs[len(s.recs)-1] }

// expect consumes the next cycle and checks it against want. It returns
// false when the cycle is missing or does not match; the caller must then
// call abort. A record that is not a NAND cycle is pushed back unconsumed.
func (s *sequence) expect(want func(nand.Cycle) bool) (nand.Cycle, bool, error) {
	rec, err := s.d.src.Next()
	if errors.Is(err, io.EOF) {
		return nand.Cycle{}, false, nil
	}
	if err != nil {
		return nand.Cycle{}, false, err
	}
	if rec.Kind != capture.KindNandCycle {
		s.d.src.Unget(rec)
		return nand.Cycle{}, false, nil
	}
	s.recs = append(s.recs, rec)
	c, err := rec.NandCycle()
	if err != nil {
		return nand.Cycle{}, false, nil
	}
	return c, want(c), nil
}

// abort re-emits every consumed cycle as a fallback event.
func (s *sequence) abort() {
	step := len(s.recs) - 1
	s.d.anomaly("nand sequence mismatch",
		zap.String("command", s.name),
		zap.Int("step", step),
		zap.Stringer("time", s.recs[0].Time))
	s.d.fallback(s.recs...)
}

// readData consumes cycles while RE is asserted, calling fn for each. The
// first cycle without RE is pushed back. At most max cycles are consumed.
func (s *sequence) readData(max int, fn func(rec capture.Record, c nand.Cycle)) error {
	n := 0
	for {
		rec, err := s.d.src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		c, cerr := rec.NandCycle()
		if cerr != nil || !c.IsRead() {
			s.d.src.Unget(rec)
			return nil
		}
		if n == max {
			s.d.src.Unget(rec)
			s.d.anomaly("read exceeds payload limit", zap.String("command", s.name), zap.Int("limit", max))
			return nil
		}
		n++
		fn(rec, c)
	}
}

func (d *Decoder) readID(op capture.Record) error {
	s := d.begin("read-id", op)
	addr, ok, err := s.expect(isAddress)
	if err != nil {
		return err
	}
	if !ok {
		s.abort()
		return nil
	}
	p := &event.NandID{Addr: addr.Data}
	for i := range p.ID {
		c, ok, err := s.expect(isIDRead)
		if err != nil {
			return err
		}
		if !ok {
			s.abort()
			return nil
		}
		p.ID[i] = c.Data
	}
	d.emit(event.Event{Kind: event.KindNandID, Start: op.Time, End: s.last().Time, Payload: p})
	return nil
}

func (d *Decoder) readStatus(op capture.Record) error {
	s := d.begin("read-status", op)
	c, ok, err := s.expect(isStatusRead)
	if err != nil {
		return err
	}
	if !ok {
		s.abort()
		return nil
	}
	d.emit(event.Event{Kind: event.KindNandStatus, Start: op.Time, End: s.last().Time, Payload: &event.NandStatus{Status: c.Data}})
	return nil
}

// twoStep handles commands confirmed by a second latched byte.
func (d *Decoder) twoStep(name string, op capture.Record, second byte, kind event.Kind) error {
	s := d.begin(name, op)
	_, ok, err := s.expect(isLatched(second))
	if err != nil {
		return err
	}
	if !ok {
		s.abort()
		return nil
	}
	d.emit(event.Event{Kind: kind, Start: op.Time, End: s.last().Time})
	return nil
}

func (d *Decoder) reset(op capture.Record) error {
	return d.twoStep("reset", op, 0x00, event.KindNandReset)
}

func (d *Decoder) sandiskVendorStart(op capture.Record) error {
	return d.twoStep("sandisk-vendor-start", op, OpSandiskVendorKey, event.KindSandiskVendorStart)
}

func (d *Decoder) sandiskParam(op capture.Record) error {
	s := d.begin("sandisk-param", op)
	addr, ok, err := s.expect(func(c nand.Cycle) bool { return c.Control.Any(nand.ALE | nand.WE) })
	if err != nil {
		return err
	}
	if !ok {
		s.abort()
		return nil
	}
	data, ok, err := s.expect(func(c nand.Cycle) bool { return !c.Control.Any(nand.ALE | nand.CLE | nand.RE) })
	if err != nil {
		return err
	}
	if !ok {
		s.abort()
		return nil
	}
	d.emit(event.Event{
		Kind:    event.KindSandiskVendorParam,
		Start:   op.Time,
		End:     s.last().Time,
		Payload: &event.SandiskVendorParam{Addr: addr.Data, Data: data.Data},
	})
	return nil
}

func charge(kind event.Kind) opcodeHandler {
	return func(d *Decoder, op capture.Record) error {
		s := d.begin(kind.String(), op)
		p := &event.SandiskCharge{}
		for i := range p.Addr {
			c, ok, err := s.expect(isAddress)
			if err != nil {
				return err
			}
			if !ok {
				s.abort()
				return nil
			}
			p.Addr[i] = c.Data
		}
		d.emit(event.Event{Kind: kind, Start: op.Time, End: s.last().Time, Payload: p})
		return nil
	}
}

func single(kind event.Kind) opcodeHandler {
	return func(d *Decoder, op capture.Record) error {
		d.emit(event.Event{Kind: kind, Start: op.Time, End: op.Time})
		return nil
	}
}

func (d *Decoder) readParameterPage(op capture.Record) error {
	s := d.begin("read-parameter-page", op)
	addr, ok, err := s.expect(isAddress)
	if err != nil {
		return err
	}
	if !ok {
		s.abort()
		return nil
	}
	ev := event.Event{Kind: event.KindNandParameterRead, Start: op.Time, End: s.last().Time}
	p := &event.NandParameterRead{Addr: addr.Data}
	err = s.readData(event.MaxParameterData, func(rec capture.Record, c nand.Cycle) {
		p.Data = append(p.Data, c.Data)
		ev.End = rec.Time
	})
	if err != nil {
		return err
	}
	ev.Payload = p
	d.emit(ev)
	return nil
}

// pageRead handles the five address cycle reads closed by a confirm opcode.
func pageRead(kind event.Kind, confirm byte) opcodeHandler {
	return func(d *Decoder, op capture.Record) error {
		s := d.begin(kind.String(), op)
		opc, _ := op.NandCycle()
		p := &event.NandRead{Unknown: opc.Unknown}
		for i := range p.Addr {
			c, ok, err := s.expect(isAddress)
			if err != nil {
				return err
			}
			if !ok {
				s.abort()
				return nil
			}
			p.Addr[i] = c.Data
		}
		if _, ok, err := s.expect(isCommand(confirm)); err != nil {
			return err
		} else if !ok {
			s.abort()
			return nil
		}

		ev := event.Event{Kind: kind, Start: op.Time, End: s.last().Time}
		err := s.readData(event.MaxPageData, func(rec capture.Record, c nand.Cycle) {
			p.Data = append(p.Data, c.Data)
			p.Unknown = c.Unknown
			ev.End = rec.Time
		})
		if err != nil {
			return err
		}
		ev.Payload = p
		d.emit(ev)
		return nil
	}
}
