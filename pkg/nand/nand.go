// Package nand describes a single sampled cycle of a NAND flash bus.
package nand

import (
	"fmt"
	"strings"
)

// Control is the bitmask of NAND control lines sampled with each cycle.
type Control uint8

// Control lines as wired on the sniffer.
const (
	CLE Control = 1 << iota
	ALE
	WE
	RE
	CS
	RB
)

// Has reports whether every line in bits is asserted.
func (c Control) Has(bits Control) bool {
	return c&bits == bits
}

// Any reports whether at least one line in bits is asserted.
func (c Control) Any(bits Control) bool {
	return c&bits != 0
}

// String renders the asserted lines in pin order, one column per line,
// blank where the line is not asserted ("A C W R S B").
func (c Control) String() string {
	cols := []struct {
		bit  Control
		name byte
	}{
		{ALE, 'A'}, {CLE, 'C'}, {WE, 'W'}, {RE, 'R'}, {CS, 'S'}, {RB, 'B'},
	}
	var b strings.Builder
	for i, col := range cols {
		if i > 0 {
			b.WriteByte(' ')
		}
		if c&col.bit != 0 {
			b.WriteByte(col.name)
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// Cycle is one sampled bus transfer.
type Cycle struct {
	Data    byte
	Control Control
	Unknown [2]byte
}

// IsCommand reports whether the cycle latches a command opcode.
func (c Cycle) IsCommand() bool { return c.Control.Any(CLE) }

// IsAddress reports whether the cycle latches an address byte.
func (c Cycle) IsAddress() bool { return c.Control.Any(ALE) }

// IsRead reports whether the host is reading data from the device.
func (c Cycle) IsRead() bool { return c.Control.Any(RE) }

// Matches compares the data and control lines of two cycles, ignoring the
// unused pins.
func (c Cycle) Matches(o Cycle) bool {
	return c.Data == o.Data && c.Control == o.Control
}

// String formats the cycle the way the capture dump tools print it.
func (c Cycle) String() string {
	return fmt.Sprintf("NAND %02x %s", c.Data, c.Control)
}

// unscrambleOrder maps each output bit to the input bit the sniffer routed it from.
var unscrambleOrder = [8]uint{4, 5, 6, 7, 3, 2, 1, 0}

// Unscramble reorders the data lines of a raw sniffer byte into bus bit order.
func Unscramble(b byte) byte {
	var out byte
	for i, src := range unscrambleOrder {
		if b&(1<<src) != 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}
