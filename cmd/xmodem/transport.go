package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-xmodem/internal/serial"
	"github.com/kstaniek/go-xmodem/internal/server"
)

const dialTimeout = 5 * time.Second

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = serial.Open

// dialFn is a hook for tests.
var dialFn = func(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// link is the byte transport a session runs over.
type link struct {
	rw   io.ReadWriteCloser
	kind string
	peer string
	// eofTransient marks transports whose reads report io.EOF on an idle
	// line (tarm/serial with a read timeout) rather than a closed peer.
	eofTransient bool
	closed       atomic.Bool
}

func (k *link) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil
	}
	return k.rw.Close()
}

// openLink selects and opens the configured transport. For -listen, onListen
// runs once the listener is bound, before waiting for the peer.
func openLink(ctx context.Context, cfg *appConfig, l *slog.Logger, onListen func(*server.Server)) (*link, error) {
	switch {
	case cfg.serialDev != "":
		sp, err := openSerialPort(serial.Config{
			Name:        cfg.serialDev,
			Baud:        cfg.baud,
			Parity:      cfg.parity,
			ReadTimeout: cfg.serialReadTO,
		})
		if err != nil {
			return nil, fmt.Errorf("open serial: %w", err)
		}
		l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud, "parity", cfg.parity)
		return &link{rw: sp, kind: "serial", peer: cfg.serialDev, eofTransient: true}, nil

	case cfg.connectAddr != "":
		conn, err := dialFn(ctx, cfg.connectAddr)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", cfg.connectAddr, err)
		}
		l.Info("tcp_connected", "remote", conn.RemoteAddr().String())
		return &link{rw: conn, kind: "tcp", peer: conn.RemoteAddr().String()}, nil

	case cfg.listenAddr != "":
		srv := server.NewServer(server.WithListenAddr(cfg.listenAddr), server.WithLogger(l))
		if err := srv.Listen(); err != nil {
			return nil, err
		}
		if onListen != nil {
			onListen(srv)
		}
		conn, err := srv.Accept(ctx)
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return nil, err
		}
		return &link{rw: conn, kind: "tcp", peer: conn.RemoteAddr().String()}, nil
	}
	return nil, errors.New("no transport configured")
}
