package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-xmodem/internal/device"
	"github.com/kstaniek/go-xmodem/internal/ring"
	"github.com/kstaniek/go-xmodem/internal/xmodem"
)

// runTransfer runs one session over lk and closes it before returning.
// The waiter goroutine feeds the ring; the engine reads the ring and writes
// lk directly.
func runTransfer(ctx context.Context, cfg *appConfig, lk *link, l *slog.Logger) (xmodem.Result, error) {
	rb, err := ring.New(cfg.ringSize)
	if err != nil {
		_ = lk.Close()
		return xmodem.Result{}, err
	}
	w := ring.NewWaiter(rb, lk.rw, ring.WithLogger(l), ring.WithEOFTransient(lk.eofTransient))
	wctx, wcancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.Run(wctx); err != nil {
			l.Debug("waiter_end", "error", err)
		}
	}()
	defer func() {
		wcancel()
		w.Stop()
		// The waiter only notices Stop after its read returns; closing the
		// transport forces that.
		_ = lk.Close()
		wg.Wait()
		l.Info("link_closed", "kind", lk.kind, "rx_bytes", w.Total())
	}()

	dev := device.NewStream(rb, lk.rw)
	if cmd, _ := decodeStartCommand(cfg.startCommand); len(cmd) > 0 {
		if n := dev.Send(cmd, cfg.timeout); n != len(cmd) {
			return xmodem.Result{}, fmt.Errorf("start command: wrote %d of %d bytes: %v", n, len(cmd), dev.Err())
		}
		l.Info("start_command_sent", "bytes", len(cmd))
	}

	opts := cfg.protocolOptions(l.With("peer", lk.peer))
	switch cfg.mode {
	case "send":
		src, err := device.OpenSource(cfg.file)
		if err != nil {
			return xmodem.Result{}, err
		}
		defer src.Close()
		l.Info("transfer_start", "mode", cfg.mode, "file", cfg.file, "size", src.Size())
		return xmodem.Send(ctx, src, dev, opts)
	case "receive":
		dst, err := device.CreateSink(cfg.file)
		if err != nil {
			return xmodem.Result{}, err
		}
		defer func() {
			if cerr := dst.Close(); cerr != nil {
				l.Warn("sink_close_error", "file", cfg.file, "error", cerr)
			}
		}()
		l.Info("transfer_start", "mode", cfg.mode, "file", cfg.file)
		return xmodem.Receive(ctx, dev, dst, opts)
	}
	return xmodem.Result{}, fmt.Errorf("unknown mode %q", cfg.mode)
}
