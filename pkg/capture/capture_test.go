package capture

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/nand"
)

func TestDeltaNormalization(t *testing.T) {
	tests := []struct {
		name      string
		sec, nsec int64
		want      Delta
	}{
		{"already normal", 1, 5, Delta{1, 5}},
		{"carry", 1, 1_500_000_000, Delta{2, 500_000_000}},
		{"borrow", 2, -1, Delta{1, 999_999_999}},
		{"negative whole", -3, 0, Delta{-3, 0}},
		{"negative fraction", 0, -250_000_000, Delta{-1, 750_000_000}},
		{"large borrow", 0, -2_000_000_001, Delta{-3, 999_999_999}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewDelta(tt.sec, tt.nsec)
			if got != tt.want {
				t.Fatalf("NewDelta(%d, %d) = %+v, want %+v", tt.sec, tt.nsec, got, tt.want)
			}
			if got.Nsec < 0 || got.Nsec >= nsPerSec {
				t.Fatalf("nanoseconds %d out of range", got.Nsec)
			}
		})
	}
}

func TestDiffAndAddRoundTrip(t *testing.T) {
	a := Timestamp{Sec: 10, Nsec: 100}
	b := Timestamp{Sec: 15, Nsec: 999_999_000}

	d := Diff(a, b)
	if d.Nanoseconds() != a.Nanoseconds()-b.Nanoseconds() {
		t.Fatalf("Diff = %v (%d ns), want %d ns", d, d.Nanoseconds(), a.Nanoseconds()-b.Nanoseconds())
	}
	got, ok := b.Add(d)
	if !ok || got != a {
		t.Fatalf("b + (a-b) = %v ok=%v, want %v", got, ok, a)
	}
}

func TestAddNegative(t *testing.T) {
	ts := Timestamp{Sec: 1}
	got, ok := ts.Add(NewDelta(-2, 0))
	if ok {
		t.Fatal("expected negative result to be reported")
	}
	if got != (Timestamp{}) {
		t.Fatalf("negative result should clamp to zero, got %v", got)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    Timestamp
		wantErr bool
	}{
		{"12", Timestamp{Sec: 12}, false},
		{"0.000022000", Timestamp{Nsec: 22_000}, false},
		{"3.5", Timestamp{Sec: 3, Nsec: 500_000_000}, false},
		{"4294967295.999999999", MaxTimestamp, false},
		{"", Timestamp{}, true},
		{"-1", Timestamp{}, true},
		{"1.0000000001", Timestamp{}, true},
		{"1.x", Timestamp{}, true},
		{"4294967296", Timestamp{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimestamp(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestAddOverflow(t *testing.T) {
	tests := []struct {
		name string
		t    Timestamp
		d    Delta
		want Timestamp
		ok   bool
	}{
		{"last second", Timestamp{Sec: math.MaxUint32 - 1}, NewDelta(1, 0), Timestamp{Sec: math.MaxUint32}, true},
		{"whole seconds", Timestamp{Sec: math.MaxUint32}, NewDelta(1, 0), MaxTimestamp, false},
		{"nanosecond carry", Timestamp{Sec: math.MaxUint32, Nsec: 999_999_999}, NewDelta(0, 1), MaxTimestamp, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.t.Add(tt.d)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Add = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestTimestampCompare(t *testing.T) {
	a := Timestamp{Sec: 1, Nsec: 2}
	b := Timestamp{Sec: 1, Nsec: 3}
	if !a.Before(b) || b.Before(a) || a.Compare(a) != 0 {
		t.Fatal("ordering mismatch")
	}
	if got := (Timestamp{Sec: 3, Nsec: 7}).String(); got != "3.000000007" {
		t.Errorf("String() = %q", got)
	}
	if got := NewDelta(0, -1).String(); got != "-0.000000001" {
		t.Errorf("Delta.String() = %q", got)
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	ts := Timestamp{Sec: 1, Nsec: 42}
	records := []Record{
		NewHello(ts, 3),
		NewNandCycle(ts, nand.Cycle{Data: 0x90, Control: nand.CLE | nand.WE, Unknown: [2]byte{0xAB, 0xCD}}),
		NewCommand(ts, Command{Cmd: [2]byte{'i', 'b'}, Arg: 0xDEADBEEF, StartStop: Start}),
		NewSdCmdArg(ts, SdCmdArg{Reg: 1, Val: 0x80}),
		NewSdResponse(ts, 0x09),
		NewSdData(ts, []byte{1, 2, 3}),
		NewBufferDrain(ts, Stop),
		NewBufferOffset(ts, BufferOffset{Number: 2, Offset: 0x01020304}),
		NewOverflow(ts),
		NewReset(ts, 1),
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write(%s): %v", rec.Kind, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := NewReader(&buf, nil)
	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("read %d records, want %d", len(got), len(records))
	}
	for i := range records {
		if got[i].Kind != records[i].Kind || got[i].Time != records[i].Time || !bytes.Equal(got[i].Payload, records[i].Payload) {
			t.Errorf("record %d = %+v, want %+v", i, got[i], records[i])
		}
	}

	c, err := got[1].NandCycle()
	if err != nil || c.Data != 0x90 || !c.IsCommand() || c.Unknown != [2]byte{0xAB, 0xCD} {
		t.Errorf("NandCycle() = %+v, %v", c, err)
	}
	cmd, err := got[2].Command()
	if err != nil || cmd.Name() != "ib" || cmd.Arg != 0xDEADBEEF || cmd.StartStop != Start {
		t.Errorf("Command() = %+v, %v", cmd, err)
	}
	e, err := got[8].Error()
	if err != nil || !e.IsOverflow() || e.Message != "buffer overflow" {
		t.Errorf("Error() = %+v, %v", e, err)
	}
	data, err := got[5].SdData()
	if err != nil || len(data) != SectorSize || data[2] != 3 {
		t.Errorf("SdData() len=%d err=%v", len(data), err)
	}
	off, err := got[7].BufferOffset()
	if err != nil || off.Offset != 0x01020304 {
		t.Errorf("BufferOffset() = %+v, %v", off, err)
	}
}

func TestHeaderEncoding(t *testing.T) {
	rec := NewNandCycle(Timestamp{Sec: 0x01020304, Nsec: 0x05060708}, nand.Cycle{Data: 0xEC, Control: nand.CLE})
	got, err := AppendRecord(nil, rec)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		byte(KindNandCycle),
		0x01, 0x02, 0x03, 0x04,
		0x05, 0x06, 0x07, 0x08,
		0x00, 0x0F,
		0xEC, 0x01, 0x00, 0x00,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("encoded = % x, want % x", got, want)
	}
}

func TestReaderTruncation(t *testing.T) {
	full, _ := AppendRecord(nil, NewHello(Timestamp{Sec: 1}, 1))

	tests := []struct {
		name      string
		input     []byte
		want      int
		wantTrunc bool
	}{
		{"empty", nil, 0, false},
		{"whole record", full, 1, false},
		{"partial header", full[:5], 0, true},
		{"partial payload", append(append([]byte{}, full...), full[:HeaderSize]...), 1, true},
		{"size below header", append(append([]byte{}, full...), 13, 0, 0, 0, 0, 0, 0, 0, 0, 0, 4), 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(bytes.NewReader(tt.input), nil)
			got, err := r.ReadAll()
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("read %d records, want %d", len(got), tt.want)
			}
			if r.Truncated() != tt.wantTrunc {
				t.Errorf("Truncated() = %v, want %v", r.Truncated(), tt.wantTrunc)
			}
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestReaderIOError(t *testing.T) {
	r := NewReader(failingReader{}, nil)
	_, err := r.Next()
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected I/O error distinct from EOF, got %v", err)
	}
}

func TestAccessorKindMismatch(t *testing.T) {
	rec := NewHello(Timestamp{}, 1)
	if _, err := rec.NandCycle(); !errors.Is(err, ErrWrongKind) {
		t.Errorf("NandCycle on hello: %v", err)
	}
	short := Record{Kind: KindCommand, Payload: []byte{'i'}}
	if _, err := short.Command(); !errors.Is(err, ErrShortPayload) {
		t.Errorf("Command on short payload: %v", err)
	}
}

func TestAppendRecordTooLarge(t *testing.T) {
	rec := Record{Kind: KindSdData, Payload: make([]byte, MaxRecordSize)}
	if _, err := AppendRecord(nil, rec); err == nil {
		t.Fatal("expected oversized record to be rejected")
	}
}
