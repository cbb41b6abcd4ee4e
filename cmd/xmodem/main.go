package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/kstaniek/go-xmodem/internal/metrics"
	"github.com/kstaniek/go-xmodem/internal/serial"
	"github.com/kstaniek/go-xmodem/internal/server"
)

// listPorts is swapped in tests.
var listPorts = serial.List

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, showVersion, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}
	if showVersion {
		fmt.Fprintf(stdout, "xmodem %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	if cfg.listPorts {
		ports, err := listPorts()
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		for _, p := range ports {
			fmt.Fprintln(stdout, p.String())
		}
		return 0
	}

	l := setupLogger(cfg.logFormat, cfg.logLevel, stderr)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	// Ready once the transport is open (or the listener bound) and the
	// process is not shutting down.
	var ready atomic.Bool
	metrics.SetReadinessFunc(func() bool { return ready.Load() && ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	lk, err := openLink(ctx, cfg, l, func(srv *server.Server) {
		ready.Store(true)
		announce(ctx, cfg, srv, l, &wg)
	})
	if err != nil {
		l.Error("transport_open_error", "error", err)
		return 1
	}
	ready.Store(true)

	res, err := runTransfer(ctx, cfg, lk, l)
	if err != nil {
		l.Error("transfer_error", "error", err, "retries", res.Retries, "packets", res.Packets)
		return 1
	}
	logSnapshot(l, metrics.Snap())
	return 0
}

// announce advertises the bound listener via mDNS until ctx ends. The
// returned cleanup is the only shutdown path, and wg tracks it.
func announce(ctx context.Context, cfg *appConfig, srv *server.Server, l *slog.Logger, wg *sync.WaitGroup) {
	if !cfg.mdnsEnable {
		return
	}
	port := srv.Port()
	cleanup, err := startMDNS(cfg, port)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg), "port", port)
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		cleanup()
		l.Info("mdns_stopped")
	}()
}
