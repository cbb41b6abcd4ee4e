package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-xmodem/internal/logging"
	"github.com/kstaniek/go-xmodem/internal/metrics"
)

// Server listens on a TCP address and hands exactly one accepted peer to
// the caller. The listener is closed once the peer is taken.
type Server struct {
	mu        sync.RWMutex
	addr      string
	keepAlive time.Duration

	readyOnce sync.Once
	readyCh   chan struct{}
	listener  net.Listener
	peer      net.Conn
	logger    *slog.Logger

	totalAccepted atomic.Uint64
	totalRetried  atomic.Uint64
}

const (
	defaultKeepAlive    = 30 * time.Second
	acceptRetryInterval = 200 * time.Millisecond
)

// sleepFn is swapped in tests.
var sleepFn = time.Sleep

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		keepAlive: defaultKeepAlive,
		readyCh:   make(chan struct{}),
		logger:    logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }

// WithKeepAlive sets the TCP keepalive period; zero or negative disables it.
func WithKeepAlive(d time.Duration) ServerOption { return func(s *Server) { s.keepAlive = d } }

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Port returns the bound TCP port, or 0 before Listen succeeded.
func (s *Server) Port() int {
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln == nil {
		return 0
	}
	if a, ok := ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// Listen binds the listener and signals readiness. Calling it again is a no-op.
func (s *Server) Listen() error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return nil
	}
	addr := s.addr
	s.mu.Unlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		return wrap
	}
	s.mu.Lock()
	s.listener = ln
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())
	return nil
}

// Accept waits for the single peer. Transient accept errors are retried;
// ctx cancellation closes the listener and returns an ErrContext error.
func (s *Server) Accept(ctx context.Context) (net.Conn, error) {
	if err := s.Listen(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept()
		if err == nil {
			s.totalAccepted.Add(1)
			s.tune(conn)
			s.mu.Lock()
			s.peer = conn
			s.listener = nil
			s.mu.Unlock()
			_ = ln.Close()
			s.logger.Info("peer_connected", "remote", conn.RemoteAddr().String())
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrContext, ctx.Err())
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			s.totalRetried.Add(1)
			sleepFn(acceptRetryInterval)
			continue
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		return nil, wrap
	}
}

func (s *Server) tune(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcp.SetNoDelay(true)
	if s.keepAlive > 0 {
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(s.keepAlive)
	}
}

// Shutdown closes the listener and the accepted peer, if any.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln, peer := s.listener, s.peer
	s.listener, s.peer = nil, nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	if peer != nil {
		_ = peer.Close()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: shutdown: %v", ErrContext, err)
	}
	s.logger.Info("shutdown_summary", "accepted", s.totalAccepted.Load(), "accept_retries", s.totalRetried.Load())
	return nil
}
