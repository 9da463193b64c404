package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/nand"
)

// Kind identifies the payload carried by a capture record.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindError
	KindNandCycle
	KindSdData
	KindSdCmdArg
	KindSdResponse
	KindSdCID
	KindSdCSD
	KindBufferOffset
	KindBufferContents
	KindCommand
	KindReset
	KindBufferDrain
	KindHello
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindError:          "error",
	KindNandCycle:      "nand-cycle",
	KindSdData:         "sd-data",
	KindSdCmdArg:       "sd-cmd-arg",
	KindSdResponse:     "sd-response",
	KindSdCID:          "sd-cid",
	KindSdCSD:          "sd-csd",
	KindBufferOffset:   "buffer-offset",
	KindBufferContents: "buffer-contents",
	KindCommand:        "command",
	KindReset:          "reset",
	KindBufferDrain:    "buffer-drain",
	KindHello:          "hello",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Framing constants.
const (
	// HeaderSize is the encoded size of type, seconds, nanoseconds and size.
	HeaderSize = 11
	// MaxRecordSize is the largest total size the 16-bit size field can carry.
	MaxRecordSize = 0xFFFF
	// SectorSize is the length of SD data and buffer content payloads.
	SectorSize = 512
	// RegisterSize is the length of the SD CID and CSD payloads.
	RegisterSize = 16
	// MaxErrorMessage bounds the text carried by an error record.
	MaxErrorMessage = 512
)

// Error subsystems.
const (
	SubsystemNone uint8 = iota
	SubsystemSD
	SubsystemNet
	SubsystemFPGA
	SubsystemParse
	SubsystemPacket
)

// FPGA error codes.
const (
	FPGAErrUnknownPacket uint8 = 0
	FPGAErrOverflow      uint8 = 1
)

// Bracket markers carried by command and buffer drain records.
const (
	Start uint8 = 1
	Stop  uint8 = 2
)

var (
	// ErrShortPayload is returned when a payload is too small for its kind.
	ErrShortPayload = errors.New("capture: short payload")
	// ErrWrongKind is returned by a typed accessor called on another kind.
	ErrWrongKind = errors.New("capture: wrong record kind")
)

// Record is one framed capture record. Payload holds the raw bytes that
// follow the header.
type Record struct {
	Kind    Kind
	Time    Timestamp
	Payload []byte
}

// Size returns the total encoded size of the record.
func (r Record) Size() int { return HeaderSize + len(r.Payload) }

// ErrorReport is the payload of an error record.
type ErrorReport struct {
	Subsystem uint8
	Code      uint8
	Arg       uint16
	Message   string
}

// IsOverflow reports whether the sniffer lost data because its buffer filled.
func (e ErrorReport) IsOverflow() bool {
	return e.Subsystem == SubsystemFPGA && e.Code == FPGAErrOverflow
}

// Command is the payload of a network command record.
type Command struct {
	Cmd       [2]byte
	Arg       uint32
	StartStop uint8
}

// Name returns the two-character command mnemonic.
func (c Command) Name() string { return string(c.Cmd[:]) }

// SdCmdArg is one byte of an SD command as latched from the card bus.
type SdCmdArg struct {
	Reg uint8
	Val uint8
}

// BufferOffset reports the sniffer's internal buffer position.
type BufferOffset struct {
	Number uint8
	Offset uint32
}

func (r Record) expect(kind Kind, n int) error {
	if r.Kind != kind {
		return fmt.Errorf("%w: have %s, want %s", ErrWrongKind, r.Kind, kind)
	}
	if len(r.Payload) < n {
		return fmt.Errorf("%w: %s needs %d bytes, have %d", ErrShortPayload, kind, n, len(r.Payload))
	}
	return nil
}

// NandCycle decodes a NAND cycle payload.
func (r Record) NandCycle() (nand.Cycle, error) {
	if err := r.expect(KindNandCycle, 4); err != nil {
		return nand.Cycle{}, err
	}
	p := r.Payload
	return nand.Cycle{Data: p[0], Control: nand.Control(p[1]), Unknown: [2]byte{p[2], p[3]}}, nil
}

// Error decodes an error payload.
func (r Record) Error() (ErrorReport, error) {
	if err := r.expect(KindError, 4); err != nil {
		return ErrorReport{}, err
	}
	p := r.Payload
	msg := p[4:]
	if i := bytes.IndexByte(msg, 0); i >= 0 {
		msg = msg[:i]
	}
	return ErrorReport{
		Subsystem: p[0],
		Code:      p[1],
		Arg:       binary.BigEndian.Uint16(p[2:4]),
		Message:   string(msg),
	}, nil
}

// Command decodes a network command payload.
func (r Record) Command() (Command, error) {
	if err := r.expect(KindCommand, 7); err != nil {
		return Command{}, err
	}
	p := r.Payload
	return Command{
		Cmd:       [2]byte{p[0], p[1]},
		Arg:       binary.BigEndian.Uint32(p[2:6]),
		StartStop: p[6],
	}, nil
}

// SdCmdArg decodes an SD command argument payload.
func (r Record) SdCmdArg() (SdCmdArg, error) {
	if err := r.expect(KindSdCmdArg, 2); err != nil {
		return SdCmdArg{}, err
	}
	return SdCmdArg{Reg: r.Payload[0], Val: r.Payload[1]}, nil
}

// SdResponse returns the single response byte of an SD response record.
func (r Record) SdResponse() (byte, error) {
	if err := r.expect(KindSdResponse, 1); err != nil {
		return 0, err
	}
	return r.Payload[0], nil
}

// SdData returns the sector carried by an SD data record.
func (r Record) SdData() ([]byte, error) {
	if err := r.expect(KindSdData, SectorSize); err != nil {
		return nil, err
	}
	return r.Payload[:SectorSize], nil
}

// BufferOffset decodes a buffer offset payload.
func (r Record) BufferOffset() (BufferOffset, error) {
	if err := r.expect(KindBufferOffset, 5); err != nil {
		return BufferOffset{}, err
	}
	return BufferOffset{Number: r.Payload[0], Offset: binary.BigEndian.Uint32(r.Payload[1:5])}, nil
}

// StartStop returns the bracket marker of a buffer drain record.
func (r Record) StartStop() (uint8, error) {
	if err := r.expect(KindBufferDrain, 1); err != nil {
		return 0, err
	}
	return r.Payload[0], nil
}

// Version returns the protocol version carried by hello and reset records.
func (r Record) Version() (uint8, error) {
	if r.Kind != KindHello && r.Kind != KindReset {
		return 0, fmt.Errorf("%w: have %s, want hello or reset", ErrWrongKind, r.Kind)
	}
	if len(r.Payload) < 1 {
		return 0, fmt.Errorf("%w: %s needs 1 byte", ErrShortPayload, r.Kind)
	}
	return r.Payload[0], nil
}

// NewNandCycle builds a NAND cycle record.
func NewNandCycle(t Timestamp, c nand.Cycle) Record {
	return Record{Kind: KindNandCycle, Time: t, Payload: []byte{c.Data, byte(c.Control), c.Unknown[0], c.Unknown[1]}}
}

// NewError builds an error record. The message is truncated to MaxErrorMessage.
func NewError(t Timestamp, e ErrorReport) Record {
	msg := e.Message
	if len(msg) > MaxErrorMessage {
		msg = msg[:MaxErrorMessage]
	}
	p := make([]byte, 4, 4+len(msg))
	p[0], p[1] = e.Subsystem, e.Code
	binary.BigEndian.PutUint16(p[2:4], e.Arg)
	p = append(p, msg...)
	return Record{Kind: KindError, Time: t, Payload: p}
}

// NewOverflow builds the FPGA error record the sniffer emits when its buffer
// overflows.
func NewOverflow(t Timestamp) Record {
	return NewError(t, ErrorReport{Subsystem: SubsystemFPGA, Code: FPGAErrOverflow, Message: "buffer overflow"})
}

// NewCommand builds a network command record.
func NewCommand(t Timestamp, c Command) Record {
	p := make([]byte, 7)
	copy(p, c.Cmd[:])
	binary.BigEndian.PutUint32(p[2:6], c.Arg)
	p[6] = c.StartStop
	return Record{Kind: KindCommand, Time: t, Payload: p}
}

// NewSdCmdArg builds an SD command argument record.
func NewSdCmdArg(t Timestamp, a SdCmdArg) Record {
	return Record{Kind: KindSdCmdArg, Time: t, Payload: []byte{a.Reg, a.Val}}
}

// NewSdResponse builds an SD response record.
func NewSdResponse(t Timestamp, b byte) Record {
	return Record{Kind: KindSdResponse, Time: t, Payload: []byte{b}}
}

// NewSdData builds an SD data record, zero padding data to a full sector.
func NewSdData(t Timestamp, data []byte) Record {
	p := make([]byte, SectorSize)
	copy(p, data)
	return Record{Kind: KindSdData, Time: t, Payload: p}
}

// NewBufferDrain builds a buffer drain start or stop marker.
func NewBufferDrain(t Timestamp, startStop uint8) Record {
	return Record{Kind: KindBufferDrain, Time: t, Payload: []byte{startStop}}
}

// NewBufferOffset builds a buffer offset record.
func NewBufferOffset(t Timestamp, o BufferOffset) Record {
	p := make([]byte, 5)
	p[0] = o.Number
	binary.BigEndian.PutUint32(p[1:], o.Offset)
	return Record{Kind: KindBufferOffset, Time: t, Payload: p}
}

// NewHello builds the marker the sniffer emits when a capture starts.
func NewHello(t Timestamp, version uint8) Record {
	return Record{Kind: KindHello, Time: t, Payload: []byte{version}}
}

// NewReset builds a sniffer reset record.
func NewReset(t Timestamp, version uint8) Record {
	return Record{Kind: KindReset, Time: t, Payload: []byte{version}}
}
