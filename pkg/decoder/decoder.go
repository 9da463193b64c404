// Package decoder turns a stream of capture records into protocol events.
//
// NAND traffic arrives one bus cycle per record. A cycle with CLE asserted
// carries an opcode; the opcode table selects a handler that reads the
// address, confirmation and data cycles the command needs, checking the
// control lines of each. When a cycle does not fit, every cycle consumed for
// that command is re-emitted as a raw NandUnknownCommand event so no data is
// lost. SD and host command traffic is spread over several records and is
// assembled in a registry until the closing record arrives.
package decoder

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/event"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/registry"
)

// Source supplies records to the decoder. Unget pushes a record back so the
// next call to Next returns it again.
type Source interface {
	Next() (capture.Record, error)
	Unget(capture.Record)
}

// Stats counts what the decoder produced.
type Stats struct {
	Events    int64
	Fallbacks int64
	Dropped   int64
	Anomalies int64
	Flushed   int64
}

// Decoder assembles events from a Source.
type Decoder struct {
	src   Source
	reg   *registry.Registry
	log   *zap.Logger
	queue []event.Event
	eof   bool

	// appPending is set after a CMD55 response so the next SD command is
	// recorded as an application command.
	appPending bool

	stats Stats
}

// New returns a decoder reading from src. A nil registry gets one of
// registry.DefaultCapacity; a nil logger disables logging.
func New(src Source, reg *registry.Registry, log *zap.Logger) *Decoder {
	if reg == nil {
		reg = registry.New(registry.DefaultCapacity)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Decoder{src: src, reg: reg, log: log}
}

// Next returns the next event. It returns io.EOF once the source is exhausted
// and every open item has been flushed.
func (d *Decoder) Next() (event.Event, error) {
	for {
		if len(d.queue) > 0 {
			ev := d.queue[0]
			d.queue = d.queue[1:]
			d.stats.Events++
			return ev, nil
		}
		if d.eof {
			return event.Event{}, io.EOF
		}

		rec, err := d.src.Next()
		if errors.Is(err, io.EOF) {
			d.flush()
			d.eof = true
			continue
		}
		if err != nil {
			return event.Event{}, fmt.Errorf("decoder: %w", err)
		}
		if err := d.dispatch(rec); err != nil {
			return event.Event{}, fmt.Errorf("decoder: %w", err)
		}
	}
}

// Stats returns the counters accumulated so far.
func (d *Decoder) Stats() Stats { return d.stats }

func (d *Decoder) emit(ev event.Event) {
	d.queue = append(d.queue, ev)
}

func (d *Decoder) anomaly(msg string, fields ...zap.Field) {
	d.stats.Anomalies++
	d.log.Warn(msg, fields...)
}

func (d *Decoder) dispatch(rec capture.Record) error {
	switch rec.Kind {
	case capture.KindNandCycle:
		return d.decodeNand(rec)
	case capture.KindHello, capture.KindReset:
		d.marker(rec)
	case capture.KindCommand:
		d.netCommand(rec)
	case capture.KindBufferDrain:
		d.bufferDrain(rec)
	case capture.KindSdCmdArg:
		d.sdCmdArg(rec)
	case capture.KindSdResponse:
		d.sdResponse(rec)
	case capture.KindSdData:
		d.sdData(rec)
	case capture.KindError:
		e, err := rec.Error()
		if err != nil {
			d.anomaly("malformed error record", zap.Error(err))
			return nil
		}
		d.log.Warn("sniffer reported error",
			zap.Uint8("subsystem", e.Subsystem), zap.Uint8("code", e.Code),
			zap.Uint16("arg", e.Arg), zap.String("message", e.Message),
			zap.Stringer("time", rec.Time))
	default:
		d.stats.Dropped++
		d.log.Debug("ignoring record", zap.Stringer("kind", rec.Kind), zap.Stringer("time", rec.Time))
	}
	return nil
}

func (d *Decoder) marker(rec capture.Record) {
	v, err := rec.Version()
	if err != nil {
		d.anomaly("malformed marker", zap.Error(err))
		return
	}
	ev := event.Event{Start: rec.Time, End: rec.Time}
	if rec.Kind == capture.KindHello {
		ev.Kind, ev.Payload = event.KindHello, &event.Hello{Version: v}
	} else {
		ev.Kind, ev.Payload = event.KindReset, &event.Reset{Version: v}
	}
	d.emit(ev)
}

// flush emits every item still open at the end of the input.
func (d *Decoder) flush() {
	for _, ev := range d.reg.Drain() {
		d.stats.Flushed++
		d.log.Warn("unterminated item at end of input", zap.Stringer("kind", ev.Kind), zap.Stringer("start", ev.Start))
		if ev.End.Before(ev.Start) {
			ev.End = ev.Start
		}
		d.emit(*ev)
	}
}
