package xmodem

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kstaniek/go-xmodem/internal/device"
	"github.com/kstaniek/go-xmodem/internal/logging"
	"github.com/kstaniek/go-xmodem/internal/metrics"
)

// drainRounds bounds how long a sender keeps discarding stray bytes before a
// frame when the peer never goes quiet.
const drainRounds = 16

// Result describes a finished session, successful or not.
type Result struct {
	// Retries accumulates every non-ACK outcome over the transfer.
	Retries int
	// Packets counts frames that were acknowledged (sender) or delivered
	// (receiver).
	Packets int
	// Bytes is source payload sent, or padded payload delivered to the sink.
	Bytes int64
	// Mode is the trailer mode in effect after negotiation.
	Mode     Mode
	Duration time.Duration
}

// session is the per-call engine state. Its frame buffer is sized for the
// session's packet class and reused for every packet.
type session struct {
	role    string
	opts    Options
	log     *slog.Logger
	mode    Mode
	frame   []byte
	scratch []byte
	res     Result
	start   time.Time
}

func newSession(role string, opts Options) (*session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	l := opts.Logger
	if l == nil {
		l = logging.L()
	}
	return &session{
		role:    role,
		opts:    opts,
		log:     l.With("role", role, "packet", opts.PacketSize.String()),
		frame:   make([]byte, frameSize(opts.PacketSize, ModeCRC)),
		scratch: make([]byte, 256),
		start:   time.Now(),
	}, nil
}

func (s *session) retry() {
	s.res.Retries++
	metrics.IncRetry()
}

// sendCANs writes the three-CAN cancel sequence.
func (s *session) sendCANs(dev device.Device) {
	for i := 0; i < 3; i++ {
		dev.Putc(CAN, s.opts.Timeout)
	}
}

// cancel tells the peer this side is giving up.
func (s *session) cancel(dev device.Device) {
	s.sendCANs(dev)
	metrics.IncCancel("sent")
}

// abort cancels the peer because the caller's context ended.
func (s *session) abort(dev device.Device, cause error) error {
	s.cancel(dev)
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

// drain discards whatever is already queued on dev without waiting.
func (s *session) drain(dev device.Device) int {
	total := 0
	for i := 0; i < drainRounds; i++ {
		n := dev.Recv(s.scratch, 0)
		if n == 0 {
			break
		}
		total += n
	}
	return total
}

// readControl waits for one control byte. A CAN is only a cancellation when
// a second CAN follows; the peer's CAN CAN is acknowledged and reported with
// cancelled set. After a lone CAN the following byte is returned instead.
func (s *session) readControl(dev device.Device) (b byte, ok, cancelled bool) {
	b, ok = dev.Getc(s.opts.Timeout)
	if !ok || b != CAN {
		return b, ok, false
	}
	next, ok := dev.Getc(s.opts.Timeout)
	if ok && next == CAN {
		dev.Putc(ACK, s.opts.Timeout)
		metrics.IncCancel("received")
		return CAN, true, true
	}
	s.log.Debug("lone_cancel_ignored", "next", describe(next, ok))
	return next, ok, false
}

func (s *session) finish(err error) (Result, error) {
	s.res.Mode = s.mode
	s.res.Duration = time.Since(s.start)
	metrics.IncTransfer(s.role, resultLabel(err))
	if err != nil {
		s.log.Warn("transfer_failed", "error", err, "packets", s.res.Packets, "retries", s.res.Retries)
		return s.res, err
	}
	s.log.Info("transfer_done",
		"mode", s.mode.String(),
		"packets", s.res.Packets,
		"bytes", s.res.Bytes,
		"retries", s.res.Retries,
		"duration", s.res.Duration,
	)
	return s.res, nil
}

// describe renders a reply byte for logs.
func describe(b byte, ok bool) string {
	if !ok {
		return "timeout"
	}
	switch b {
	case ACK:
		return "ACK"
	case NAK:
		return "NAK"
	case CAN:
		return "CAN"
	case EOT:
		return "EOT"
	case CRC:
		return "C"
	default:
		return fmt.Sprintf("0x%02X", b)
	}
}
