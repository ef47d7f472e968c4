// Package server accepts client connections and runs one request exchange per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"github.com/coachpo/secsearch/errs"
	"github.com/coachpo/secsearch/internal/bridge"
	"github.com/coachpo/secsearch/internal/observability"
	"github.com/coachpo/secsearch/internal/protocol"
	"github.com/coachpo/secsearch/internal/telemetry"
)

const supervisorComponent = "server/supervisor"

// Executor runs one query against the backend.
type Executor interface {
	Execute(ctx context.Context, q protocol.Query) (protocol.Envelope, error)
}

// SupervisorOption customises a Supervisor.
type SupervisorOption func(*Supervisor)

// WithMaxRequestBytes bounds the framed request size.
func WithMaxRequestBytes(n int) SupervisorOption {
	return func(s *Supervisor) {
		if n > 0 {
			s.maxRequestBytes = n
		}
	}
}

// WithMetrics records connection and request metrics.
func WithMetrics(m *telemetry.BridgeMetrics) SupervisorOption {
	return func(s *Supervisor) { s.metrics = m }
}

// WithLogger overrides the global logger.
func WithLogger(l observability.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// Supervisor owns the full cycle of a connection: frame, parse, execute,
// write, close. The connection is closed exactly once whatever the outcome.
type Supervisor struct {
	exec            Executor
	maxRequestBytes int
	metrics         *telemetry.BridgeMetrics
	logger          observability.Logger
	now             func() time.Time
}

// NewSupervisor constructs a supervisor around exec.
func NewSupervisor(exec Executor, opts ...SupervisorOption) (*Supervisor, error) {
	if exec == nil {
		return nil, errs.New(supervisorComponent, errs.CodeInvalid, errs.WithMessage("executor required"))
	}
	s := &Supervisor{
		exec:            exec,
		maxRequestBytes: protocol.DefaultMaxFrameBytes,
		metrics:         nil,
		logger:          observability.Log(),
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// exchange is the per-connection state; it never leaves the goroutine serving it.
type exchange struct {
	id          string
	conn        net.Conn
	requestType string
	outcome     string
	results     int
	cause       error
}

// Handle serves conn and closes it. Panics in any stage are recovered and
// reported as errors; no response is written in that case.
func (s *Supervisor) Handle(ctx context.Context, conn net.Conn) error {
	started := s.now()
	x := &exchange{
		id:          uuid.NewString(),
		conn:        conn,
		requestType: protocol.DefaultRequestType,
		outcome:     telemetry.OutcomeClosed,
	}
	fields := []observability.Field{
		{Key: "conn_id", Value: x.id},
		{Key: "remote", Value: remoteAddr(conn)},
	}

	s.metrics.ConnectionOpened(ctx)
	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("close connection", append(fields, observability.Field{Key: "error", Value: err})...)
			}
		})
	}
	defer func() {
		closeConn()
		s.metrics.ConnectionClosed(ctx)
		s.metrics.RequestCompleted(ctx, x.requestType, x.outcome, x.results, s.now().Sub(started))
	}()

	s.logger.Debug("connection accepted", fields...)

	var err error
	var catcher panics.Catcher
	catcher.Try(func() { err = s.serve(ctx, x) })
	if recovered := catcher.Recovered(); recovered != nil {
		x.outcome = telemetry.OutcomeClosed
		err = fmt.Errorf("connection %s: %w", x.id, recovered.AsError())
	}

	if err != nil {
		s.logger.Error("connection closed without response", append(fields,
			observability.Field{Key: "outcome", Value: x.outcome},
			observability.Field{Key: "error", Value: err})...)
		return err
	}
	fields = append(fields,
		observability.Field{Key: "request_type", Value: x.requestType},
		observability.Field{Key: "outcome", Value: x.outcome},
		observability.Field{Key: "results", Value: x.results})
	if x.cause != nil {
		fields = append(fields, observability.Field{Key: "error", Value: x.cause})
	}
	s.logger.Info("request served", fields...)
	return nil
}

func (s *Supervisor) serve(ctx context.Context, x *exchange) error {
	frame, err := protocol.NewFramer(x.conn, s.maxRequestBytes).Next()
	if err != nil {
		x.outcome = telemetry.OutcomeIncompleteRead
		return fmt.Errorf("frame request: %w", err)
	}

	q, err := protocol.ParseRequest(frame)
	if err != nil {
		x.outcome = telemetry.OutcomeMalformed
		return fmt.Errorf("parse request: %w", err)
	}
	x.requestType = q.RequestType

	env, err := s.exec.Execute(ctx, q)
	if err != nil {
		description, ok := bridge.ResponseError(err)
		if !ok {
			x.outcome = telemetry.OutcomeClosed
			return fmt.Errorf("execute %s: %w", q.RequestType, err)
		}
		env = protocol.Envelope{}
		env.SetError(description)
		x.cause = err
		x.outcome = telemetry.OutcomeError
		if bridge.ClientFault(err) {
			x.outcome = telemetry.OutcomeClientError
		}
	} else if env.Error != "" || len(env.Results) == 0 {
		x.outcome = telemetry.OutcomeError
	} else {
		x.outcome = telemetry.OutcomeResults
	}
	x.results = len(env.Results)

	if _, err := protocol.WriteResponse(x.conn, env); err != nil {
		x.outcome = telemetry.OutcomeClosed
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
