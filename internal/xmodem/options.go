package xmodem

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultTimeout            = time.Second
	defaultMaxRetries         = 15
	defaultMaxRetransmissions = 25
)

// Options configures one session.
type Options struct {
	PacketSize PacketSize
	// Mode is requested by a receiver. A sender in ModeAuto follows the
	// receiver's start byte; a preset mode only accepts its own start byte.
	Mode Mode
	// MaxRetries bounds negotiation attempts and EOT attempts.
	MaxRetries int
	// MaxRetransmissions bounds consecutive failed attempts for one packet.
	MaxRetransmissions int
	// Timeout is the deadline for each device operation.
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultOptions returns 1K packets, auto mode, 15 retries, 25
// retransmissions and a one second timeout.
func DefaultOptions() Options {
	return Options{
		PacketSize:         Packet1K,
		Mode:               ModeAuto,
		MaxRetries:         defaultMaxRetries,
		MaxRetransmissions: defaultMaxRetransmissions,
		Timeout:            defaultTimeout,
	}
}

// Validate checks ranges. It does not touch any device.
func (o Options) Validate() error {
	if !o.PacketSize.valid() {
		return fmt.Errorf("%w: packet size %d", ErrInvalidOptions, int(o.PacketSize))
	}
	switch o.Mode {
	case ModeAuto, ModeCRC, ModeChecksum:
	default:
		return fmt.Errorf("%w: mode %d", ErrInvalidOptions, int(o.Mode))
	}
	if o.MaxRetries <= 0 {
		return fmt.Errorf("%w: max retries must be > 0 (got %d)", ErrInvalidOptions, o.MaxRetries)
	}
	if o.MaxRetransmissions <= 0 {
		return fmt.Errorf("%w: max retransmissions must be > 0 (got %d)", ErrInvalidOptions, o.MaxRetransmissions)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be > 0", ErrInvalidOptions)
	}
	return nil
}
