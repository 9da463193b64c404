package joiner

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/resync"
)

// Defaults for the host commands the controller treats specially.
const (
	DefaultSyncCommand      = "ib"
	DefaultSyncArgument     = 0xFFFFFFFF
	DefaultResetCardCommand = "rc"
)

// Config controls the controller.
type Config struct {
	Resync resync.Config

	// SyncCommand and SyncArgument identify the no-op host command used as a
	// sync marker.
	SyncCommand  [2]byte
	SyncArgument uint32

	// Host commands named ResetCardCommand are stamped with ResetCardTime
	// instead of their re-timed capture time. Disabled when FudgeResetCard
	// is false.
	FudgeResetCard   bool
	ResetCardCommand [2]byte
	ResetCardTime    capture.Timestamp
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	c := Config{
		Resync:         resync.DefaultConfig(),
		SyncArgument:   DefaultSyncArgument,
		FudgeResetCard: true,
	}
	copy(c.SyncCommand[:], DefaultSyncCommand)
	copy(c.ResetCardCommand[:], DefaultResetCardCommand)
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Resync.Validate(); err != nil {
		return fmt.Errorf("joiner: %w", err)
	}
	if c.ResetCardTime.Nsec >= 1_000_000_000 {
		return fmt.Errorf("joiner: reset card nanoseconds %d out of range", c.ResetCardTime.Nsec)
	}
	return nil
}

// CommandName converts a two character mnemonic into its wire form.
func CommandName(s string) ([2]byte, error) {
	var out [2]byte
	if len(s) != 2 {
		return out, fmt.Errorf("joiner: command %q must be two characters", s)
	}
	copy(out[:], s)
	return out, nil
}

// Fudge returns the reset card timestamp override.
func (c Config) Fudge() Fudge {
	return Fudge{Enabled: c.FudgeResetCard, Command: c.ResetCardCommand, Time: c.ResetCardTime}
}
