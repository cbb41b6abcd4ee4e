package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-xmodem/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				logSnapshot(l, metrics.Snap())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logSnapshot(l *slog.Logger, snap metrics.Snapshot) {
	l.Info("metrics_snapshot",
		"frames_sent", snap.FramesSent,
		"frames_acked", snap.FramesAcked,
		"frames_accepted", snap.FramesAccepted,
		"duplicates", snap.Duplicates,
		"rejected", snap.Rejected,
		"retries", snap.Retries,
		"cancels", snap.Cancels,
		"rx_bytes", snap.RxBytes,
		"tx_bytes", snap.TxBytes,
		"ring_full", snap.RingFull,
		"errors", snap.Errors,
		"sessions", snap.Sessions,
	)
}
