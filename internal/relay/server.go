// Package relay is a transparent TCP relay: every accepted client gets
// its own upstream connection and a pair of coupled pumps that tear the
// whole session down as soon as either direction ends.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/matst80/portrelay/internal/obs"
	"github.com/matst80/portrelay/internal/ratelimit"
	"golang.org/x/net/netutil"
)

type Config struct {
	Bind       BindEndpoint
	Target     string
	Verbose    bool // log per-direction byte counts on success
	BufferSize int
	MaxConns   int // 0 = unbounded
	ReuseAddr  bool
}

type Server struct {
	cfg       Config
	resolver  Resolver
	connector Connector
	tracker   Tracker
	limiter   *ratelimit.RateLimiter
	sessions  sync.WaitGroup
}

type Option func(*Server)

func WithResolver(r Resolver) Option   { return func(s *Server) { s.resolver = r } }
func WithConnector(c Connector) Option { return func(s *Server) { s.connector = c } }
func WithTracker(t Tracker) Option     { return func(s *Server) { s.tracker = t } }

// WithLimiter rejects clients whose address exceeds the limiter's rate.
func WithLimiter(l *ratelimit.RateLimiter) Option { return func(s *Server) { s.limiter = l } }

// NewServer validates cfg. The target is only checked for syntax here;
// name resolution is deferred to each connection.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Bind.Validate(); err != nil {
		return nil, err
	}
	if _, err := ParseTarget(cfg.Target); err != nil {
		return nil, err
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	s := &Server{
		cfg:       cfg,
		resolver:  SystemResolver{},
		connector: TCPConnector{},
		tracker:   nopTracker{},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Listen binds the configured endpoint and logs the concrete address.
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	lc := net.ListenConfig{Control: listenControl(s.cfg.ReuseAddr)}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Bind.Address())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.cfg.Bind, err)
	}
	obs.Info("relay.listening", obs.Fields{"addr": ln.Addr().String(), "target": s.cfg.Target})
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	return ln, nil
}

// Serve accepts until ctx is done (returns nil) or Accept fails (returns
// the error). Sessions run on their own goroutines and are never
// cancelled by ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	sessionCtx := context.WithoutCancel(ctx)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, net.ErrClosed) {
				obs.Info("relay.stopped", obs.Fields{"addr": ln.Addr().String()})
				return nil
			}
			obs.Error("relay.accept_error", obs.Fields{"err": err.Error()})
			return fmt.Errorf("accept: %w", err)
		}
		if !s.admit(conn) {
			continue
		}
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			s.handleSession(sessionCtx, conn)
		}()
	}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Wait blocks until every session started by Serve has finished.
func (s *Server) Wait() { s.sessions.Wait() }

func (s *Server) admit(conn net.Conn) bool {
	if s.limiter == nil {
		return true
	}
	ip := remoteIP(conn)
	if s.limiter.AllowConnection(ip) {
		return true
	}
	obs.Error("session.rejected", obs.Fields{"client": conn.RemoteAddr().String(), "reason": "rate"})
	obs.ErrorsTotal.WithLabelValues("rejected").Inc()
	_ = conn.Close()
	return false
}

func remoteIP(c net.Conn) string {
	h, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return c.RemoteAddr().String()
	}
	return h
}
