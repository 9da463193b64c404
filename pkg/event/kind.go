// Package event defines the protocol events reconstructed from a capture and
// their binary record format.
//
// An event record is a 21 byte big-endian header (kind, start seconds, start
// nanoseconds, end seconds, end nanoseconds, total size) followed by a
// kind-specific payload. Every multi-byte payload integer is big-endian.
package event

import "fmt"

// Kind is the wire type code of an event.
type Kind uint8

const (
	KindHello                Kind = 0
	KindSdCommand            Kind = 1
	KindBufferDrain          Kind = 2
	KindNetCommand           Kind = 3
	KindReset                Kind = 4
	KindNandID               Kind = 5
	KindNandStatus           Kind = 6
	KindNandParameterRead    Kind = 7
	KindNandRead             Kind = 8
	KindNandChangeReadColumn Kind = 9
	KindNandUnknownCommand   Kind = 10
	KindNandReset            Kind = 11

	KindNandCache1 Kind = 0x30
	KindNandCache2 Kind = 0x31
	KindNandCache3 Kind = 0x32
	KindNandCache4 Kind = 0x33

	KindSandiskVendorStart Kind = 0x60
	KindSandiskVendorParam Kind = 0x61
	KindSandiskCharge1     Kind = 0x62
	KindSandiskCharge2     Kind = 0x63
)

var kindNames = map[Kind]string{
	KindHello:                "hello",
	KindSdCommand:            "sd-command",
	KindBufferDrain:          "buffer-drain",
	KindNetCommand:           "net-command",
	KindReset:                "reset",
	KindNandID:               "nand-id",
	KindNandStatus:           "nand-status",
	KindNandParameterRead:    "nand-parameter-read",
	KindNandRead:             "nand-read",
	KindNandChangeReadColumn: "nand-change-read-column",
	KindNandUnknownCommand:   "nand-unknown",
	KindNandReset:            "nand-reset",
	KindNandCache1:           "nand-cache1",
	KindNandCache2:           "nand-cache2",
	KindNandCache3:           "nand-cache3",
	KindNandCache4:           "nand-cache4",
	KindSandiskVendorStart:   "sandisk-vendor-start",
	KindSandiskVendorParam:   "sandisk-vendor-param",
	KindSandiskCharge1:       "sandisk-charge1",
	KindSandiskCharge2:       "sandisk-charge2",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%#02x)", uint8(k))
}

// Valid reports whether k is one of the defined event kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}
