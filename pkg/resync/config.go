// Package resync realigns a capture stream after the sniffer's buffer
// overflowed.
//
// The sniffer keeps recording into a buffer while the host drains it. When the
// buffer overflows, the hardware resumes from an earlier position, so the live
// stream repeats cycles that were already emitted and its clock no longer
// agrees with the emitted timeline. Resync finds where the live stream lines
// up with the most recently emitted cycles and reports the timestamp delta
// that maps the live clock back onto the emitted one.
package resync

import "fmt"

// Defaults.
const (
	DefaultCapacity      = 80
	DefaultWindowPercent = 30
	DefaultTolerance     = 1
	DefaultMaxLiveOffset = 20
)

// Config controls the correlation search.
type Config struct {
	Capacity      int // Cycles kept in the ring (default: 80)
	WindowPercent int // Window size as a percentage of Capacity (default: 30)
	Tolerance     int // Mismatches allowed inside a window (default: 1)
	MaxLiveOffset int // Live cycles that may precede the aligned window (default: 20)
}

// DefaultConfig returns the settings the sniffer hardware was tuned for.
func DefaultConfig() Config {
	return Config{
		Capacity:      DefaultCapacity,
		WindowPercent: DefaultWindowPercent,
		Tolerance:     DefaultTolerance,
		MaxLiveOffset: DefaultMaxLiveOffset,
	}
}

// Window returns the number of cycles compared per candidate alignment.
func (c Config) Window() int {
	w := c.Capacity * c.WindowPercent / 100
	if w < 1 {
		w = 1
	}
	return w
}

// Validate checks that the settings describe a usable search.
func (c Config) Validate() error {
	if c.Capacity < 2 {
		return fmt.Errorf("resync: capacity %d must be at least 2", c.Capacity)
	}
	if c.WindowPercent < 1 || c.WindowPercent > 100 {
		return fmt.Errorf("resync: window percent %d out of range 1-100", c.WindowPercent)
	}
	if c.Tolerance < 0 || c.Tolerance >= c.Window() {
		return fmt.Errorf("resync: tolerance %d must be below window %d", c.Tolerance, c.Window())
	}
	if c.MaxLiveOffset < 0 {
		return fmt.Errorf("resync: max live offset %d is negative", c.MaxLiveOffset)
	}
	return nil
}
