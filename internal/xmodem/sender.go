package xmodem

import (
	"context"
	"fmt"

	"github.com/kstaniek/go-xmodem/internal/device"
	"github.com/kstaniek/go-xmodem/internal/metrics"
)

// errReporter is implemented by devices that remember their last I/O error.
type errReporter interface{ Err() error }

// Send transfers src to the receiver reachable through dst.
//
// The returned Result carries the accumulated retry count even when err is
// non-nil.
func Send(ctx context.Context, src, dst device.Device, opts Options) (Result, error) {
	s, err := newSession("send", opts)
	if err != nil {
		return Result{}, err
	}
	metrics.SessionStarted()
	defer metrics.SessionEnded()
	return s.finish(s.send(ctx, src, dst))
}

func (s *session) send(ctx context.Context, src, dst device.Device) error {
	mode, err := s.negotiate(ctx, dst)
	if err != nil {
		return err
	}
	s.mode = mode
	s.log.Info("session_start", "mode", mode.String())

	capacity := int(s.opts.PacketSize)
	remaining := src.Size()
	known := remaining != device.SizeUnknown
	seq := byte(1)
	frame := s.frame[:frameSize(s.opts.PacketSize, mode)]
	payload := frame[headerSize : headerSize+capacity]

	for {
		if err := ctx.Err(); err != nil {
			return s.abort(dst, err)
		}
		want := capacity
		if known && remaining < int64(capacity) {
			want = int(remaining)
		}
		n := 0
		if want > 0 {
			n = src.Recv(payload[:want], s.opts.Timeout)
		}
		if (known && n != want) || sourceFailed(src) {
			s.cancel(dst)
			return fmt.Errorf("%w: got %d of %d bytes for packet %d", ErrSourceRead, n, want, seq)
		}
		if n == 0 {
			return s.sendEOT(ctx, dst)
		}
		for i := n; i < capacity; i++ {
			payload[i] = SUB
		}
		frame[0] = s.opts.PacketSize.Code()
		frame[1] = seq
		frame[2] = ^seq
		frame = mode.AppendTrailer(frame[:headerSize+capacity], payload)

		if err := s.transmit(ctx, dst, frame, seq); err != nil {
			return err
		}
		seq++
		s.res.Packets++
		s.res.Bytes += int64(n)
		if known {
			remaining -= int64(n)
		}
	}
}

func sourceFailed(src device.Device) bool {
	r, ok := src.(errReporter)
	return ok && r.Err() != nil
}

// negotiate waits for the receiver's start byte.
func (s *session) negotiate(ctx context.Context, dst device.Device) (Mode, error) {
	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, s.abort(dst, err)
		}
		b, ok, cancelled := s.readControl(dst)
		if cancelled {
			return 0, fmt.Errorf("%w: during negotiation", ErrPeerCancelled)
		}
		if !ok {
			continue
		}
		switch {
		case b == CRC && s.opts.Mode != ModeChecksum:
			return ModeCRC, nil
		case b == NAK && s.opts.Mode != ModeCRC:
			return ModeChecksum, nil
		}
		s.log.Debug("negotiation_byte_ignored", "byte", describe(b, ok))
	}
	s.cancel(dst)
	return 0, fmt.Errorf("%w: no start byte after %d attempts", ErrNegotiation, s.opts.MaxRetries)
}

// transmit sends one frame until it is acknowledged or the retransmission
// ceiling is reached.
func (s *session) transmit(ctx context.Context, dst device.Device, frame []byte, seq byte) error {
	for attempt := 1; attempt <= s.opts.MaxRetransmissions; attempt++ {
		if err := ctx.Err(); err != nil {
			return s.abort(dst, err)
		}
		if n := s.drain(dst); n > 0 {
			s.log.Debug("stray_bytes_dropped", "count", n, "seq", seq)
		}
		metrics.IncFrameSent()
		if sent := dst.Send(frame, s.opts.Timeout); sent != len(frame) {
			s.retry()
			s.log.Warn("frame_short_write", "seq", seq, "sent", sent, "want", len(frame))
			continue
		}
		b, ok, cancelled := s.readControl(dst)
		if cancelled {
			return fmt.Errorf("%w: packet %d", ErrPeerCancelled, seq)
		}
		if ok && b == ACK {
			metrics.IncFrameAcked()
			return nil
		}
		s.retry()
		s.log.Debug("frame_retry", "seq", seq, "attempt", attempt, "reply", describe(b, ok))
	}
	s.cancel(dst)
	return fmt.Errorf("%w: packet %d after %d attempts", ErrRetransmissionExhausted, seq, s.opts.MaxRetransmissions)
}

// sendEOT ends the transfer; only an ACK completes it.
func (s *session) sendEOT(ctx context.Context, dst device.Device) error {
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return s.abort(dst, err)
		}
		s.drain(dst)
		if !dst.Putc(EOT, s.opts.Timeout) {
			s.retry()
			continue
		}
		b, ok, cancelled := s.readControl(dst)
		if cancelled {
			return fmt.Errorf("%w: at end of transfer", ErrPeerCancelled)
		}
		if ok && b == ACK {
			return nil
		}
		s.retry()
		s.log.Debug("eot_retry", "attempt", attempt, "reply", describe(b, ok))
	}
	return fmt.Errorf("%w: after %d attempts", ErrEOTUnacknowledged, s.opts.MaxRetries)
}
