package xmodem

import (
	"context"
	"fmt"
	"time"

	"github.com/kstaniek/go-xmodem/internal/device"
	"github.com/kstaniek/go-xmodem/internal/metrics"
)

// Receive accepts a transfer arriving on src and delivers payloads to dst.
//
// Payloads are delivered padded to the packet size; XMODEM carries no length.
func Receive(ctx context.Context, src, dst device.Device, opts Options) (Result, error) {
	s, err := newSession("receive", opts)
	if err != nil {
		return Result{}, err
	}
	metrics.SessionStarted()
	defer metrics.SessionEnded()
	return s.finish(s.receive(ctx, src, dst))
}

// rxState tracks the receive loop between frames.
type rxState struct {
	expected byte
	started  bool // a frame byte has been seen
	silent   int  // timeouts before the first frame
	rejects  int  // consecutive rejected frames
}

func (s *session) receive(ctx context.Context, src, dst device.Device) error {
	s.mode = s.opts.Mode
	if s.mode == ModeAuto {
		s.mode = ModeCRC
	}
	if !src.Putc(s.mode.startByte(), s.opts.Timeout) {
		s.log.Warn("start_byte_not_sent", "byte", describe(s.mode.startByte(), true))
	}
	s.log.Info("session_start", "mode", s.mode.String())

	code := s.opts.PacketSize.Code()
	capacity := int(s.opts.PacketSize)
	frame := s.frame[:frameSize(s.opts.PacketSize, s.mode)]
	st := rxState{expected: 1}

	for {
		if err := ctx.Err(); err != nil {
			return s.abort(src, err)
		}
		deadline := time.Now().Add(s.opts.Timeout)
		first, ok := src.Getc(s.opts.Timeout)
		if !ok {
			if !st.started {
				st.silent++
				if st.silent >= s.opts.MaxRetries {
					s.cancel(src)
					return fmt.Errorf("%w: no frame after %d timeouts", ErrNegotiation, st.silent)
				}
				continue
			}
			if err := s.reject(src, &st, metrics.RejectShort, 0); err != nil {
				return err
			}
			continue
		}
		st.started = true

		switch first {
		case EOT:
			src.Putc(ACK, s.opts.Timeout)
			s.sendCANs(src)
			return nil
		case CAN:
			if next, ok := src.Getc(s.opts.Timeout); ok && next == CAN {
				src.Putc(ACK, s.opts.Timeout)
				metrics.IncCancel("received")
				return fmt.Errorf("%w: after %d packets", ErrPeerCancelled, s.res.Packets)
			}
			if err := s.reject(src, &st, metrics.RejectHeader, 1); err != nil {
				return err
			}
			continue
		case code:
		default:
			if err := s.reject(src, &st, metrics.RejectHeader, 1); err != nil {
				return err
			}
			continue
		}

		frame[0] = first
		n := 1
		if left := time.Until(deadline); left > 0 {
			n += src.Recv(frame[1:], left)
		}
		if n != len(frame) {
			if err := s.reject(src, &st, metrics.RejectShort, n); err != nil {
				return err
			}
			continue
		}
		seq := frame[1]
		if frame[2] != ^seq {
			if err := s.reject(src, &st, metrics.RejectHeader, n); err != nil {
				return err
			}
			continue
		}
		payload := frame[headerSize : headerSize+capacity]
		if !s.mode.Verify(payload, frame[headerSize+capacity:]) {
			if err := s.reject(src, &st, metrics.RejectTrailer, n); err != nil {
				return err
			}
			continue
		}

		switch {
		case seq == st.expected:
			if sent := dst.Send(payload, s.opts.Timeout); sent != len(payload) {
				s.cancel(src)
				return fmt.Errorf("%w: packet %d wrote %d of %d bytes", ErrSinkWrite, seq, sent, len(payload))
			}
			src.Putc(ACK, s.opts.Timeout)
			metrics.IncFrameAccepted()
			s.res.Packets++
			s.res.Bytes += int64(len(payload))
			st.expected++
			st.rejects = 0
		case s.res.Packets > 0 && seq == st.expected-1:
			// Our ACK was lost and the sender repeated the frame.
			src.Putc(ACK, s.opts.Timeout)
			metrics.IncFrameDuplicate()
			s.log.Debug("duplicate_frame_acked", "seq", seq)
			st.rejects = 0
		default:
			if err := s.reject(src, &st, metrics.RejectSequence, n); err != nil {
				return err
			}
		}
	}
}

// reject NAKs the current frame and enforces the retransmission ceiling.
func (s *session) reject(src device.Device, st *rxState, reason string, got int) error {
	dropped := s.drain(src)
	metrics.IncFrameRejected(reason)
	s.log.Debug("frame_rejected", "reason", reason, "expected", st.expected, "bytes", got, "dropped", dropped)
	src.Putc(NAK, s.opts.Timeout)
	s.retry()
	st.rejects++
	if st.rejects >= s.opts.MaxRetransmissions {
		s.cancel(src)
		return fmt.Errorf("%w: packet %d after %d rejected frames", ErrRetransmissionExhausted, st.expected, st.rejects)
	}
	return nil
}
