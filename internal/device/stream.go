package device

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-xmodem/internal/metrics"
	"github.com/kstaniek/go-xmodem/internal/ring"
)

type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

// Stream is a transport-backed Device. Inbound bytes come from a ring buffer
// filled by a ring.Waiter; outbound bytes go straight to the transport.
type Stream struct {
	in  *ring.Buffer
	out io.Writer

	mu      sync.Mutex
	lastErr error
}

// NewStream creates a Stream reading from in and writing to out.
func NewStream(in *ring.Buffer, out io.Writer) *Stream {
	return &Stream{in: in, out: out}
}

// Recv copies up to len(p) queued bytes, waiting at most timeout.
func (s *Stream) Recv(p []byte, timeout time.Duration) int {
	return s.in.ReadTimeout(p, timeout)
}

// Send writes p to the transport, retrying short writes until timeout.
// The deadline is checked before every write attempt.
func (s *Stream) Send(p []byte, timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	wd, hasDeadline := s.out.(writeDeadliner)
	if hasDeadline {
		_ = wd.SetWriteDeadline(deadline)
		defer func() { _ = wd.SetWriteDeadline(time.Time{}) }()
	}
	sent := 0
	for attempt := 0; sent < len(p); attempt++ {
		if attempt > 0 && !time.Now().Before(deadline) {
			break
		}
		n, err := s.out.Write(p[sent:])
		if n > 0 {
			sent += n
			metrics.AddTxBytes(n)
		}
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				metrics.IncError(metrics.ErrTransportWrite)
				s.setErr(err)
			}
			break
		}
	}
	return sent
}

// Getc reads one byte, waiting at most timeout.
func (s *Stream) Getc(timeout time.Duration) (byte, bool) {
	var b [1]byte
	if s.in.ReadTimeout(b[:], timeout) != 1 {
		return 0, false
	}
	return b[0], true
}

// Putc writes one byte.
func (s *Stream) Putc(b byte, timeout time.Duration) bool {
	return s.Send([]byte{b}, timeout) == 1
}

// Size is unknown for streams.
func (s *Stream) Size() int64 { return SizeUnknown }

// Err returns the last transport write error, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
