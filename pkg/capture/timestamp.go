package capture

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const nsPerSec = 1_000_000_000

// Timestamp is a capture time in whole seconds plus nanoseconds, as stamped by
// the sniffer's free running counter.
type Timestamp struct {
	Sec  uint32
	Nsec uint32
}

// FromNanoseconds builds a Timestamp from a non-negative nanosecond count.
func FromNanoseconds(ns int64) Timestamp {
	if ns < 0 {
		ns = 0
	}
	return Timestamp{Sec: uint32(ns / nsPerSec), Nsec: uint32(ns % nsPerSec)}
}

// Nanoseconds returns the timestamp as a single nanosecond count.
func (t Timestamp) Nanoseconds() int64 {
	return int64(t.Sec)*nsPerSec + int64(t.Nsec)
}

// Compare returns -1, 0 or +1 depending on whether t is before, equal to or
// after o.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Sec < o.Sec:
		return -1
	case t.Sec > o.Sec:
		return 1
	case t.Nsec < o.Nsec:
		return -1
	case t.Nsec > o.Nsec:
		return 1
	}
	return 0
}

// Before reports whether t is strictly earlier than o.
func (t Timestamp) Before(o Timestamp) bool { return t.Compare(o) < 0 }

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%09d", t.Sec, t.Nsec)
}

// MaxTimestamp is the latest time a record header can carry.
var MaxTimestamp = Timestamp{Sec: math.MaxUint32, Nsec: nsPerSec - 1}

// ParseTimestamp reads a time written as seconds with an optional fraction of
// up to nine digits, the form String produces.
func ParseTimestamp(s string) (Timestamp, error) {
	whole, frac, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseUint(whole, 10, 32)
	if err != nil {
		return Timestamp{}, fmt.Errorf("capture: timestamp %q: %w", s, err)
	}
	if len(frac) > 9 {
		return Timestamp{}, fmt.Errorf("capture: timestamp %q: more than nine fractional digits", s)
	}
	var nsec uint64
	if frac != "" {
		if nsec, err = strconv.ParseUint(frac+strings.Repeat("0", 9-len(frac)), 10, 32); err != nil {
			return Timestamp{}, fmt.Errorf("capture: timestamp %q: %w", s, err)
		}
	}
	return Timestamp{Sec: uint32(sec), Nsec: uint32(nsec)}, nil
}

// Add applies d to t. The second result is false when the sum does not fit a
// record header; the result is then clamped to the zero Timestamp or to
// MaxTimestamp.
func (t Timestamp) Add(d Delta) (Timestamp, bool) {
	sec := int64(t.Sec) + d.Sec
	nsec := int64(t.Nsec) + d.Nsec
	if nsec >= nsPerSec {
		nsec -= nsPerSec
		sec++
	}
	if sec < 0 {
		return Timestamp{}, false
	}
	if sec > math.MaxUint32 {
		return MaxTimestamp, false
	}
	return Timestamp{Sec: uint32(sec), Nsec: uint32(nsec)}, true
}

// Delta is a signed offset between two timestamps. The nanosecond part is
// always normalized into [0, 1e9), borrowing from the seconds.
type Delta struct {
	Sec  int64
	Nsec int64
}

// NewDelta normalizes an arbitrary (sec, nsec) pair.
func NewDelta(sec, nsec int64) Delta {
	sec += nsec / nsPerSec
	nsec %= nsPerSec
	if nsec < 0 {
		nsec += nsPerSec
		sec--
	}
	return Delta{Sec: sec, Nsec: nsec}
}

// Diff returns a - b.
func Diff(a, b Timestamp) Delta {
	return NewDelta(int64(a.Sec)-int64(b.Sec), int64(a.Nsec)-int64(b.Nsec))
}

// IsZero reports whether the delta is the identity offset.
func (d Delta) IsZero() bool { return d.Sec == 0 && d.Nsec == 0 }

// Nanoseconds returns the delta as a single signed nanosecond count.
func (d Delta) Nanoseconds() int64 { return d.Sec*nsPerSec + d.Nsec }

func (d Delta) String() string {
	ns := d.Nanoseconds()
	sign := "+"
	if ns < 0 {
		sign = "-"
		ns = -ns
	}
	return fmt.Sprintf("%s%d.%09d", sign, ns/nsPerSec, ns%nsPerSec)
}
