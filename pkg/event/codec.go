package event

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/nand"
)

// HeaderSize is the encoded size of an event header.
const HeaderSize = 21

// MaxRecordSize bounds a single event record when reading.
const MaxRecordSize = HeaderSize + 4 + MaxSdArgs + 4 + MaxPageData + 16

var (
	ErrUnknownKind  = errors.New("event: unknown kind")
	ErrShortPayload = errors.New("event: short payload")
	ErrBadMagic     = errors.New("event: bad hello magic")
	ErrBadSize      = errors.New("event: bad record size")
)

var be = binary.BigEndian

// Append encodes ev and appends it to dst.
func Append(dst []byte, ev Event) []byte {
	start := len(dst)
	dst = append(dst, byte(ev.Kind))
	dst = be.AppendUint32(dst, ev.Start.Sec)
	dst = be.AppendUint32(dst, ev.Start.Nsec)
	dst = be.AppendUint32(dst, ev.End.Sec)
	dst = be.AppendUint32(dst, ev.End.Nsec)
	dst = be.AppendUint32(dst, 0)
	if ev.Payload != nil {
		dst = ev.Payload.appendTo(dst)
	}
	be.PutUint32(dst[start+17:start+21], uint32(len(dst)-start))
	return dst
}

// Header is the decoded fixed part of an event record.
type Header struct {
	Kind  Kind
	Start capture.Timestamp
	End   capture.Timestamp
	Size  uint32
}

// ParseHeader decodes the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrShortPayload, HeaderSize, len(b))
	}
	h := Header{
		Kind:  Kind(b[0]),
		Start: capture.Timestamp{Sec: be.Uint32(b[1:5]), Nsec: be.Uint32(b[5:9])},
		End:   capture.Timestamp{Sec: be.Uint32(b[9:13]), Nsec: be.Uint32(b[13:17])},
		Size:  be.Uint32(b[17:21]),
	}
	if h.Size < HeaderSize || h.Size > MaxRecordSize {
		return h, fmt.Errorf("%w: %d", ErrBadSize, h.Size)
	}
	return h, nil
}

// Decode decodes one complete event record.
func Decode(b []byte) (Event, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Event{}, err
	}
	if int(h.Size) > len(b) {
		return Event{}, fmt.Errorf("%w: record of %d bytes, have %d", ErrShortPayload, h.Size, len(b))
	}
	p, err := decodePayload(h.Kind, b[HeaderSize:h.Size])
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: h.Kind, Start: h.Start, End: h.End, Payload: p}, nil
}

func (p *Hello) appendTo(dst []byte) []byte {
	dst = be.AppendUint32(dst, HelloMagic1)
	dst = append(dst, p.Version)
	return be.AppendUint32(dst, HelloMagic2)
}

func (p *Reset) appendTo(dst []byte) []byte { return append(dst, p.Version) }

func (p *NetCommand) appendTo(dst []byte) []byte {
	dst = append(dst, p.Cmd[:]...)
	return be.AppendUint32(dst, p.Arg)
}

func (p *SdCommand) appendTo(dst []byte) []byte {
	dst = append(dst, p.Cmd)
	dst = be.AppendUint32(dst, uint32(len(p.Args)))
	dst = append(dst, p.Args...)
	dst = be.AppendUint32(dst, uint32(len(p.Results)))
	dst = append(dst, p.Results...)
	return append(dst, p.Flags)
}

func (p *NandID) appendTo(dst []byte) []byte {
	dst = append(dst, p.Addr, NandIDSize)
	return append(dst, p.ID[:]...)
}

func (p *NandStatus) appendTo(dst []byte) []byte { return append(dst, p.Status) }

func (p *NandParameterRead) appendTo(dst []byte) []byte {
	dst = append(dst, p.Addr)
	dst = be.AppendUint16(dst, uint16(len(p.Data)))
	return append(dst, p.Data...)
}

func (p *NandRead) appendTo(dst []byte) []byte {
	dst = append(dst, p.Addr[:]...)
	dst = be.AppendUint32(dst, uint32(len(p.Data)))
	dst = append(dst, p.Data...)
	return append(dst, p.Unknown[:]...)
}

func (p *NandUnknownCommand) appendTo(dst []byte) []byte {
	return append(dst, p.Data, byte(p.Control), p.Unknown[0], p.Unknown[1])
}

func (p *SandiskVendorParam) appendTo(dst []byte) []byte { return append(dst, p.Addr, p.Data) }

func (p *SandiskCharge) appendTo(dst []byte) []byte { return append(dst, p.Addr[:]...) }

// payloadReader walks a payload, recording the first short read.
type payloadReader struct {
	kind Kind
	b    []byte
	err  error
}

func (r *payloadReader) take(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if len(r.b) < n {
		r.err = fmt.Errorf("%w: %s", ErrShortPayload, r.kind)
		return make([]byte, n)
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out
}

func (r *payloadReader) u8() uint8   { return r.take(1)[0] }
func (r *payloadReader) u16() uint16 { return be.Uint16(r.take(2)) }
func (r *payloadReader) u32() uint32 { return be.Uint32(r.take(4)) }

func (r *payloadReader) bytes(n uint32, max int) []byte {
	if int64(n) > int64(max) {
		if r.err == nil {
			r.err = fmt.Errorf("%w: %s length %d exceeds %d", ErrBadSize, r.kind, n, max)
		}
		return nil
	}
	return append([]byte(nil), r.take(int(n))...)
}

func decodePayload(kind Kind, b []byte) (Payload, error) {
	r := &payloadReader{kind: kind, b: b}
	var p Payload

	switch kind {
	case KindHello:
		m1, v, m2 := r.u32(), r.u8(), r.u32()
		if r.err == nil && (m1 != HelloMagic1 || m2 != HelloMagic2) {
			return nil, fmt.Errorf("%w: %08x %08x", ErrBadMagic, m1, m2)
		}
		p = &Hello{Version: v}
	case KindReset:
		p = &Reset{Version: r.u8()}
	case KindNetCommand:
		c := &NetCommand{}
		copy(c.Cmd[:], r.take(2))
		c.Arg = r.u32()
		p = c
	case KindSdCommand:
		c := &SdCommand{Cmd: r.u8()}
		c.Args = r.bytes(r.u32(), MaxSdArgs)
		c.Results = r.bytes(r.u32(), MaxSdResults)
		c.Flags = r.u8()
		p = c
	case KindNandID:
		id := &NandID{Addr: r.u8()}
		size := r.u8()
		if r.err == nil && size != NandIDSize {
			return nil, fmt.Errorf("%w: nand id size %d", ErrBadSize, size)
		}
		copy(id.ID[:], r.take(NandIDSize))
		p = id
	case KindNandStatus:
		p = &NandStatus{Status: r.u8()}
	case KindNandParameterRead:
		pr := &NandParameterRead{Addr: r.u8()}
		pr.Data = r.bytes(uint32(r.u16()), MaxParameterData)
		p = pr
	case KindNandRead, KindNandChangeReadColumn:
		rd := &NandRead{}
		copy(rd.Addr[:], r.take(5))
		rd.Data = r.bytes(r.u32(), MaxPageData)
		copy(rd.Unknown[:], r.take(2))
		p = rd
	case KindNandUnknownCommand:
		u := &NandUnknownCommand{Data: r.u8(), Control: nand.Control(r.u8())}
		copy(u.Unknown[:], r.take(2))
		p = u
	case KindSandiskVendorParam:
		p = &SandiskVendorParam{Addr: r.u8(), Data: r.u8()}
	case KindSandiskCharge1, KindSandiskCharge2:
		c := &SandiskCharge{}
		copy(c.Addr[:], r.take(3))
		p = c
	case KindBufferDrain, KindNandReset, KindNandCache1, KindNandCache2, KindNandCache3,
		KindNandCache4, KindSandiskVendorStart:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %#02x", ErrUnknownKind, uint8(kind))
	}

	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}
