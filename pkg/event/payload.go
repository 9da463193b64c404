package event

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/nand"
)

// Payload bounds.
const (
	MaxPageData      = 16384
	MaxParameterData = 256
	MaxSdArgs        = 1024
	MaxSdResults     = 1024
	NandIDSize       = 8
)

// Magic values bracketing the hello payload.
const (
	HelloMagic1 uint32 = 0x61728394
	HelloMagic2 uint32 = 0x74931723
)

// SdCommand flag bits.
const (
	SdFlagDegraded uint8 = 1 << 0
)

// AppCommandBit marks an SD command issued after the CMD55 app prefix.
const AppCommandBit = 0x80

// Event is one reconstructed protocol event. Payload is nil for kinds that
// carry no data.
type Event struct {
	Kind    Kind
	Start   capture.Timestamp
	End     capture.Timestamp
	Payload Payload
}

// Payload is the kind-specific part of an event.
type Payload interface {
	fmt.Stringer
	appendTo(dst []byte) []byte
}

// Hello marks the start of a capture session.
type Hello struct {
	Version uint8
}

// Reset marks a sniffer reset.
type Reset struct {
	Version uint8
}

// NetCommand is a bracketed control command from the capture host.
type NetCommand struct {
	Cmd [2]byte
	Arg uint32
}

// SdCommand is an SD card command with its argument and result bytes.
type SdCommand struct {
	Cmd     uint8
	Args    []byte
	Results []byte
	Flags   uint8
}

// NandID is the result of a READ ID command.
type NandID struct {
	Addr byte
	ID   [NandIDSize]byte
}

// NandStatus is the result of a READ STATUS command.
type NandStatus struct {
	Status byte
}

// NandParameterRead is a parameter page read.
type NandParameterRead struct {
	Addr byte
	Data []byte
}

// NandRead is a page read or a change-read-column read; the event kind tells
// them apart.
type NandRead struct {
	Addr    [5]byte
	Data    []byte
	Unknown [2]byte
}

// NandUnknownCommand is a single cycle that could not be attributed to any
// command sequence.
type NandUnknownCommand struct {
	Data    byte
	Control nand.Control
	Unknown [2]byte
}

// SandiskVendorParam is a vendor parameter write.
type SandiskVendorParam struct {
	Addr byte
	Data byte
}

// SandiskCharge is a vendor charge command with its three address bytes.
type SandiskCharge struct {
	Addr [3]byte
}

func (p *Hello) String() string { return fmt.Sprintf("version=%d", p.Version) }
func (p *Reset) String() string { return fmt.Sprintf("version=%d", p.Version) }

func (p *NetCommand) String() string {
	return fmt.Sprintf("cmd=%s arg=0x%08x", string(p.Cmd[:]), p.Arg)
}

// Name returns "CMDn" or "ACMDn" for the command opcode.
func (p *SdCommand) Name() string {
	if p.Cmd&AppCommandBit != 0 {
		return fmt.Sprintf("ACMD%d", p.Cmd&^AppCommandBit)
	}
	return fmt.Sprintf("CMD%d", p.Cmd)
}

// Degraded reports whether the event was synthesized from an orphaned marker.
func (p *SdCommand) Degraded() bool { return p.Flags&SdFlagDegraded != 0 }

func (p *SdCommand) String() string {
	s := fmt.Sprintf("cmd=%s args=[% x] results=%dB", p.Name(), p.Args, len(p.Results))
	if p.Degraded() {
		s += " degraded"
	}
	return s
}

func (p *NandID) String() string {
	return fmt.Sprintf("addr=%02x id=[% x]", p.Addr, p.ID[:])
}

func (p *NandStatus) String() string { return fmt.Sprintf("status=%02x", p.Status) }

func (p *NandParameterRead) String() string {
	return fmt.Sprintf("addr=%02x bytes=%d", p.Addr, len(p.Data))
}

func (p *NandRead) String() string {
	return fmt.Sprintf("addr=[% x] bytes=%d", p.Addr[:], len(p.Data))
}

func (p *NandUnknownCommand) String() string {
	return fmt.Sprintf("data=%02x ctrl=[%s]", p.Data, p.Control)
}

func (p *SandiskVendorParam) String() string {
	return fmt.Sprintf("addr=%02x data=%02x", p.Addr, p.Data)
}

func (p *SandiskCharge) String() string { return fmt.Sprintf("addr=[% x]", p.Addr[:]) }

// String renders the event as a single line for dumps.
func (e Event) String() string {
	dur := e.End.Nanoseconds() - e.Start.Nanoseconds()
	s := fmt.Sprintf("%s +%dns %s", e.Start, dur, e.Kind)
	if e.Payload != nil {
		if p := e.Payload.String(); p != "" {
			s += " " + p
		}
	}
	return s
}
