package ring

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-xmodem/internal/logging"
	"github.com/kstaniek/go-xmodem/internal/metrics"
)

const (
	defaultPace = time.Millisecond
	backoffMin  = 20 * time.Millisecond
	backoffMax  = 500 * time.Millisecond
)

// sleepFn allows tests to intercept pauses and backoff sleeps.
var sleepFn = time.Sleep

// Waiter moves bytes from a transport into a Buffer. It is the only producer
// of the Buffer it feeds.
//
// Run blocks inside r.Read with no timeout of its own. A Stop request or a
// cancelled context is therefore only seen after the current read returns;
// callers that need a prompt exit close the transport, which makes the read
// fail and ends the loop.
type Waiter struct {
	buf          *Buffer
	r            io.Reader
	logger       *slog.Logger
	pace         time.Duration
	eofTransient bool
	running      atomic.Bool
	total        atomic.Uint64
}

// WaiterOption configures a Waiter.
type WaiterOption func(*Waiter)

// WithLogger sets the logger used for read errors.
func WithLogger(l *slog.Logger) WaiterOption {
	return func(w *Waiter) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithPace sets how long the waiter pauses when the buffer is full.
func WithPace(d time.Duration) WaiterOption {
	return func(w *Waiter) {
		if d > 0 {
			w.pace = d
		}
	}
}

// WithEOFTransient makes io.EOF a no-data event instead of end of stream.
// Serial ports opened with a read timeout report an expired timeout as EOF.
func WithEOFTransient(v bool) WaiterOption { return func(w *Waiter) { w.eofTransient = v } }

// NewWaiter creates a Waiter reading r into buf.
func NewWaiter(buf *Buffer, r io.Reader, opts ...WaiterOption) *Waiter {
	w := &Waiter{buf: buf, r: r, logger: logging.L(), pace: defaultPace}
	for _, o := range opts {
		o(w)
	}
	w.running.Store(true)
	return w
}

// Stop asks the loop to exit after the read in progress completes.
func (w *Waiter) Stop() { w.running.Store(false) }

// Total returns the number of bytes committed to the buffer so far.
func (w *Waiter) Total() uint64 { return w.total.Load() }

// Run feeds the buffer until Stop, ctx cancellation, end of stream or a fatal
// read error. It returns nil for the first three.
func (w *Waiter) Run(ctx context.Context) error {
	backoff := backoffMin
	for w.running.Load() {
		if ctx.Err() != nil {
			return nil
		}
		if w.buf.Free() == 0 {
			metrics.IncRingFull()
			sleepFn(w.pace)
			continue
		}
		n, err := w.buf.Fill(w.r)
		if n > 0 {
			w.total.Add(uint64(n))
			metrics.AddRxBytes(n)
			backoff = backoffMin
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil || !w.running.Load() {
			return nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if w.eofTransient {
				continue
			}
			w.logger.Debug("waiter_eof", "bytes", w.total.Load())
			return nil
		}
		var perr *os.PathError
		if errors.As(err, &perr) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return err
		}
		metrics.IncError(metrics.ErrTransportRead)
		w.logger.Warn("transport_read_error", "error", err, "backoff", backoff)
		sleepFn(backoff)
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
	return nil
}
