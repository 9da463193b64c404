// Package tracescript produces synthetic sniffer captures, either from a
// small line-oriented description language or programmatically through a
// Builder.
//
// Every record is stamped with the current time, which then advances by the
// step (1us unless changed):
//
//	# read the ID of the chip at address 0
//	hello 1
//	nand cmd 0x90
//	nand addr 0x00
//	nand read 0x98 0xDE 0x94 0x82 0x76 0x56 0x01 0x20
//	wait 1ms
//	overflow
package tracescript

import (
	"io"
	"time"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/nand"
)

// DefaultStep is the time between consecutive records.
const DefaultStep = time.Microsecond

// Control lines asserted for each kind of NAND cycle.
const (
	CommandLines = nand.CLE | nand.WE
	AddressLines = nand.ALE | nand.WE
	WriteLines   = nand.WE
	ReadLines    = nand.RE
)

// Builder accumulates capture records on a synthetic clock.
type Builder struct {
	now  time.Duration
	step time.Duration
	recs []capture.Record
}

// NewBuilder returns a builder starting at time zero.
func NewBuilder() *Builder {
	return &Builder{step: DefaultStep}
}

// At moves the clock to d after the start of the capture.
func (b *Builder) At(d time.Duration) *Builder {
	b.now = d
	return b
}

// Step sets the time between records.
func (b *Builder) Step(d time.Duration) *Builder {
	b.step = d
	return b
}

// Wait advances the clock by d.
func (b *Builder) Wait(d time.Duration) *Builder {
	b.now += d
	return b
}

// Now returns the timestamp the next record will carry.
func (b *Builder) Now() capture.Timestamp {
	return capture.FromNanoseconds(b.now.Nanoseconds())
}

// Append adds rec stamped with the current time and advances the clock.
func (b *Builder) Append(rec capture.Record) *Builder {
	rec.Time = b.Now()
	b.recs = append(b.recs, rec)
	b.now += b.step
	return b
}

func (b *Builder) Hello(version uint8) *Builder {
	return b.Append(capture.NewHello(capture.Timestamp{}, version))
}

func (b *Builder) Reset(version uint8) *Builder {
	return b.Append(capture.NewReset(capture.Timestamp{}, version))
}

// Cycles emits one NAND cycle per byte with the given control lines.
func (b *Builder) Cycles(ctrl nand.Control, data ...byte) *Builder {
	for _, d := range data {
		b.Append(capture.NewNandCycle(capture.Timestamp{}, nand.Cycle{Data: d, Control: ctrl}))
	}
	return b
}

func (b *Builder) Command(ops ...byte) *Builder    { return b.Cycles(CommandLines, ops...) }
func (b *Builder) Address(addr ...byte) *Builder   { return b.Cycles(AddressLines, addr...) }
func (b *Builder) WriteData(data ...byte) *Builder { return b.Cycles(WriteLines, data...) }
func (b *Builder) Read(data ...byte) *Builder      { return b.Cycles(ReadLines, data...) }

func (b *Builder) DrainStart() *Builder {
	return b.Append(capture.NewBufferDrain(capture.Timestamp{}, capture.Start))
}

func (b *Builder) DrainStop() *Builder {
	return b.Append(capture.NewBufferDrain(capture.Timestamp{}, capture.Stop))
}

// Net emits a host command start or stop marker.
func (b *Builder) Net(mark uint8, cmd [2]byte, arg uint32) *Builder {
	return b.Append(capture.NewCommand(capture.Timestamp{}, capture.Command{Cmd: cmd, Arg: arg, StartStop: mark}))
}

func (b *Builder) SdArg(reg, val uint8) *Builder {
	return b.Append(capture.NewSdCmdArg(capture.Timestamp{}, capture.SdCmdArg{Reg: reg, Val: val}))
}

func (b *Builder) SdResponse(v byte) *Builder {
	return b.Append(capture.NewSdResponse(capture.Timestamp{}, v))
}

func (b *Builder) SdData(data []byte) *Builder {
	return b.Append(capture.NewSdData(capture.Timestamp{}, data))
}

func (b *Builder) Error(e capture.ErrorReport) *Builder {
	return b.Append(capture.NewError(capture.Timestamp{}, e))
}

// Overflow emits the FPGA buffer overflow error.
func (b *Builder) Overflow() *Builder {
	return b.Append(capture.NewOverflow(capture.Timestamp{}))
}

// Records returns the records built so far.
func (b *Builder) Records() []capture.Record { return b.recs }

// WriteTo encodes every record to w.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	cw := capture.NewWriter(w)
	var n int64
	for _, rec := range b.recs {
		if err := cw.Write(rec); err != nil {
			return n, err
		}
		n += int64(rec.Size())
	}
	return n, cw.Flush()
}
