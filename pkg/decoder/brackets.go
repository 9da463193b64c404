package decoder

import (
	"errors"

	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/event"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/registry"
)

// SD commands with special handling.
const (
	sdReadSingleBlock = 17
	sdAppCommand      = 55
)

// open stores a new item, discarding a stale one of the same kind.
func (d *Decoder) open(ev *event.Event) {
	if stale, ok := d.reg.Take(ev.Kind); ok {
		d.anomaly("multiple open items of one kind, discarding the older",
			zap.Stringer("kind", ev.Kind), zap.Stringer("stale_start", stale.Start))
	}
	d.put(ev)
}

func (d *Decoder) put(ev *event.Event) {
	if err := d.reg.Put(ev); err != nil {
		if errors.Is(err, registry.ErrFull) || errors.Is(err, registry.ErrOpen) {
			d.anomaly("registry rejected item", zap.Error(err))
			return
		}
		d.anomaly("registry error", zap.Error(err))
	}
}

// closeItem finalizes an open item at t, or synthesizes a single point
// event from orphan when nothing is open.
func (d *Decoder) closeItem(kind event.Kind, t capture.Timestamp, orphan func() event.Event) {
	ev, ok := d.reg.Take(kind)
	if !ok {
		d.anomaly("closing marker without an open item", zap.Stringer("kind", kind), zap.Stringer("time", t))
		o := orphan()
		o.Start, o.End = t, t
		d.emit(o)
		return
	}
	ev.End = t
	d.emit(*ev)
}

func (d *Decoder) netCommand(rec capture.Record) {
	cmd, err := rec.Command()
	if err != nil {
		d.anomaly("malformed command record", zap.Error(err))
		return
	}
	payload := func() *event.NetCommand { return &event.NetCommand{Cmd: cmd.Cmd, Arg: cmd.Arg} }

	if cmd.StartStop == capture.Stop {
		d.closeItem(event.KindNetCommand, rec.Time, func() event.Event {
			return event.Event{Kind: event.KindNetCommand, Payload: payload()}
		})
		return
	}
	d.open(&event.Event{Kind: event.KindNetCommand, Start: rec.Time, End: rec.Time, Payload: payload()})
}

func (d *Decoder) bufferDrain(rec capture.Record) {
	marker, err := rec.StartStop()
	if err != nil {
		d.anomaly("malformed buffer drain record", zap.Error(err))
		return
	}
	if marker == capture.Stop {
		d.closeItem(event.KindBufferDrain, rec.Time, func() event.Event {
			return event.Event{Kind: event.KindBufferDrain}
		})
		return
	}
	d.open(&event.Event{Kind: event.KindBufferDrain, Start: rec.Time, End: rec.Time})
}

// sdItem returns the open SD command, creating one starting at t.
func (d *Decoder) sdItem(t capture.Timestamp) (*event.Event, *event.SdCommand) {
	ev, ok := d.reg.Take(event.KindSdCommand)
	if !ok {
		ev = &event.Event{Kind: event.KindSdCommand, Start: t, End: t, Payload: &event.SdCommand{}}
	}
	return ev, ev.Payload.(*event.SdCommand)
}

func (d *Decoder) sdCmdArg(rec capture.Record) {
	arg, err := rec.SdCmdArg()
	if err != nil {
		d.anomaly("malformed sd argument", zap.Error(err))
		return
	}
	ev, sd := d.sdItem(rec.Time)

	switch {
	case (len(sd.Args) > 0 || arg.Reg > 0) && sd.Cmd != sdAppCommand:
		if len(sd.Args) >= event.MaxSdArgs {
			d.anomaly("sd argument buffer full", zap.Uint8("cmd", sd.Cmd))
			break
		}
		sd.Args = append(sd.Args, arg.Val)
	case arg.Reg == 0:
		sd.Cmd = arg.Val & 0x3F
		if d.appPending {
			sd.Cmd |= event.AppCommandBit
			d.appPending = false
		}
	}
	d.put(ev)
}

func sdOrphan(results []byte) func() event.Event {
	return func() event.Event {
		return event.Event{
			Kind:    event.KindSdCommand,
			Payload: &event.SdCommand{Results: append([]byte(nil), results...), Flags: event.SdFlagDegraded},
		}
	}
}

func (d *Decoder) sdResponse(rec capture.Record) {
	b, err := rec.SdResponse()
	if err != nil {
		d.anomaly("malformed sd response", zap.Error(err))
		return
	}
	ev, ok := d.reg.Peek(event.KindSdCommand)
	if !ok {
		d.closeItem(event.KindSdCommand, rec.Time, sdOrphan([]byte{b}))
		return
	}
	sd := ev.Payload.(*event.SdCommand)
	if sd.Cmd == sdReadSingleBlock {
		// The block arrives in the following data record.
		return
	}
	sd.Results = append(sd.Results, b)
	if sd.Cmd == sdAppCommand {
		d.appPending = true
	}
	d.closeItem(event.KindSdCommand, rec.Time, nil)
}

func (d *Decoder) sdData(rec capture.Record) {
	data, err := rec.SdData()
	if err != nil {
		d.anomaly("malformed sd data", zap.Error(err))
		return
	}
	ev, ok := d.reg.Peek(event.KindSdCommand)
	if !ok {
		d.closeItem(event.KindSdCommand, rec.Time, sdOrphan(data))
		return
	}
	sd := ev.Payload.(*event.SdCommand)
	room := event.MaxSdResults - len(sd.Results)
	if room < len(data) {
		d.anomaly("sd result buffer full", zap.Uint8("cmd", sd.Cmd), zap.Int("dropped", len(data)-room))
		data = data[:room]
	}
	sd.Results = append(sd.Results, data...)
	d.closeItem(event.KindSdCommand, rec.Time, nil)
}
