package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/coachpo/secsearch/errs"
	"github.com/coachpo/secsearch/internal/observability"
	"github.com/coachpo/secsearch/lib/async"
)

const listenerComponent = "server/listener"

const (
	acceptRetryInitial = 5 * time.Millisecond
	acceptRetryMax     = time.Second
)

// Options bound listener admission.
type Options struct {
	// MaxConnections caps connections served at once; further accepts wait.
	MaxConnections int
	// AcceptRate limits accepts per second; zero disables the limit.
	AcceptRate float64
	// AcceptBurst is the limiter bucket size.
	AcceptBurst int
}

// Server accepts connections and hands each to the supervisor on the worker pool.
type Server struct {
	sup     *Supervisor
	pool    *async.Pool
	limiter *rate.Limiter
	logger  observability.Logger

	mu      sync.Mutex
	ln      net.Listener
	closing bool
	ready   chan struct{}
}

// New constructs a server.
func New(sup *Supervisor, opts Options) (*Server, error) {
	if sup == nil {
		return nil, errs.New(listenerComponent, errs.CodeInvalid, errs.WithMessage("supervisor required"))
	}
	logger := observability.Log()
	pool, err := async.NewPool(opts.MaxConnections, async.WithErrorHandler(func(err error) {
		logger.Debug("connection task finished with error", observability.Field{Key: "error", Value: err})
	}))
	if err != nil {
		return nil, fmt.Errorf("connection pool: %w", err)
	}
	var limiter *rate.Limiter
	if opts.AcceptRate > 0 {
		burst := opts.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.AcceptRate), burst)
	}
	return &Server{
		sup:     sup,
		pool:    pool,
		limiter: limiter,
		logger:  logger,
		ready:   make(chan struct{}),
	}, nil
}

// ListenAndServe binds addr and serves until ctx is done or Close is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done or Close is called. It returns nil on
// a requested stop. Connections already accepted run to completion with a
// context detached from ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.ln != nil {
		s.mu.Unlock()
		return errs.New(listenerComponent, errs.CodeInvalid, errs.WithMessage("server already serving"))
	}
	s.ln = ln
	closing := s.closing
	close(s.ready)
	s.mu.Unlock()
	if closing {
		_ = ln.Close()
		return nil
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.logger.Info("listening", observability.Field{Key: "addr", Value: ln.Addr().String()})
	connCtx := context.WithoutCancel(ctx)
	retry := acceptRetryInitial
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return s.stopped(err)
			}
		}
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Error("accept failed; retrying", observability.Field{Key: "error", Value: err})
				time.Sleep(retry)
				retry = min(retry*2, acceptRetryMax)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		retry = acceptRetryInitial

		err = s.pool.Submit(ctx, func(context.Context) error {
			return s.sup.Handle(connCtx, conn)
		})
		if err != nil {
			_ = conn.Close()
			return s.stopped(err)
		}
	}
}

func (s *Server) stopped(err error) error {
	if s.isClosing() {
		return nil
	}
	return err
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Addr blocks until Serve has a listener and returns its address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, fmt.Errorf("await listener: %w", ctx.Err())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ln.Addr(), nil
}

// InFlight reports connections currently being served.
func (s *Server) InFlight() int {
	return s.pool.InFlight()
}

// Close stops accepting. In-flight connections are not interrupted.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil
	}
	s.closing = true
	s.pool.Close()
	if s.ln == nil {
		return nil
	}
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}

// Shutdown closes the listener and waits for in-flight connections until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.Close(); err != nil {
		return err
	}
	return s.pool.Shutdown(ctx)
}
