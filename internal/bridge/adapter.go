package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/secsearch/errs"
	"github.com/coachpo/secsearch/internal/backend"
	"github.com/coachpo/secsearch/internal/observability"
	"github.com/coachpo/secsearch/internal/protocol"
)

const adapterComponent = "bridge/adapter"

const (
	defaultAuthTimeout   = 10 * time.Second
	defaultStopTimeout   = 5 * time.Second
	stopRetryInitial     = 10 * time.Millisecond
	stopRetryMaxInterval = time.Second
)

// Config controls how exchanges reach the backend.
type Config struct {
	Session backend.Options
	// Service hosting the query operations.
	Service string
	// AuthTimeout bounds each step of the authorization handshake.
	AuthTimeout time.Duration
	// StopTimeout bounds each teardown attempt.
	StopTimeout time.Duration
	// DefaultFilters are applied to every request unless the client names the same filter.
	DefaultFilters map[string]string
}

func (c *Config) applyDefaults() {
	if c.Service == "" {
		c.Service = backend.InstrumentsService
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultAuthTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	if c.Session.Host == "" {
		c.Session.Host = backend.DefaultHost
	}
	if c.Session.Port == 0 {
		c.Session.Port = backend.DefaultPort
	}
}

// Adapter performs exchanges, one backend session per call.
type Adapter struct {
	dialer backend.Dialer
	cfg    Config
	logger observability.Logger
}

// NewAdapter constructs an adapter over dialer.
func NewAdapter(dialer backend.Dialer, cfg Config) (*Adapter, error) {
	if dialer == nil {
		return nil, errs.New(adapterComponent, errs.CodeInvalid, errs.WithMessage("dialer required"))
	}
	cfg.applyDefaults()
	return &Adapter{dialer: dialer, cfg: cfg, logger: observability.Log()}, nil
}

// Execute opens a session, optionally authorizes, submits q, and reduces the
// resulting events into an envelope. The session is stopped before returning.
func (a *Adapter) Execute(ctx context.Context, q protocol.Query) (protocol.Envelope, error) {
	q = q.WithFilterDefaults(a.cfg.DefaultFilters)

	session, err := a.dialer.NewSession(a.cfg.Session)
	if err != nil {
		return protocol.Envelope{}, errs.New(adapterComponent, errs.CodeSessionStart,
			errs.WithMessage("Failed to start session."), errs.WithCause(err))
	}
	defer a.stopSession(ctx, session)

	a.logger.Debug("connecting", observability.Field{Key: "host", Value: a.cfg.Session.Host},
		observability.Field{Key: "port", Value: a.cfg.Session.Port})
	if err := session.Start(ctx); err != nil {
		return protocol.Envelope{}, errs.New(adapterComponent, errs.CodeSessionStart,
			errs.WithMessage("Failed to start session."), errs.WithCause(err))
	}

	if a.cfg.Session.AuthOptions != "" {
		if err := a.authorize(ctx, session); err != nil {
			return protocol.Envelope{}, err
		}
	}

	if err := session.OpenService(ctx, a.cfg.Service); err != nil {
		return protocol.Envelope{}, errs.New(adapterComponent, errs.CodeServiceOpen,
			errs.WithMessage("Failed to open "+a.cfg.Service), errs.WithCause(err))
	}

	req, err := a.buildRequest(session, q)
	if err != nil {
		return protocol.Envelope{}, err
	}
	a.logger.Debug("sending request", observability.Field{Key: "operation", Value: req.Operation()},
		observability.Field{Key: "query", Value: q.QueryString})
	if err := session.SendRequest(ctx, req); err != nil {
		return protocol.Envelope{}, errs.New(adapterComponent, errs.CodeBackend,
			errs.WithMessage("Failed to send request"), errs.WithCause(err))
	}

	return NewReducer(req.Definition()).Run(ctx, session)
}

func (a *Adapter) buildRequest(session backend.Session, q protocol.Query) (*backend.Request, error) {
	req, err := session.CreateRequest(a.cfg.Service, q.RequestType)
	if err != nil {
		return nil, errs.New(adapterComponent, errs.CodeRequestType,
			errs.WithMessage("Request type not found: "+q.RequestType), errs.WithCause(err))
	}
	if err := setField(req, backend.FieldQuery, q.QueryString); err != nil {
		return nil, err
	}
	if q.YKFilter != "" {
		if err := setField(req, backend.FieldYKFilter, q.YKFilter); err != nil {
			return nil, err
		}
	}
	if err := setField(req, backend.FieldMaxResults, q.MaxResults); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(q.Filters))
	for name := range q.Filters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := setField(req, name, q.Filters[name]); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func setField(req *backend.Request, name string, value any) error {
	err := req.Set(name, value)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, backend.ErrNotFound):
		return errs.New(adapterComponent, errs.CodeUnknownFilter,
			errs.WithMessage("Filter not found: "+name), errs.WithField("filter", name), errs.WithCause(err))
	case errors.Is(err, backend.ErrInvalidConversion):
		return errs.New(adapterComponent, errs.CodeInvalidFilterValue,
			errs.WithMessage(fmt.Sprintf("Invalid value: %v for filter: %s", value, name)),
			errs.WithField("filter", name), errs.WithCause(err))
	default:
		return errs.New(adapterComponent, errs.CodeBackend, errs.WithMessage("set "+name), errs.WithCause(err))
	}
}

// stopSession retries teardown while the backend reports interruption. Other
// failures are logged and abandoned; teardown never fails the exchange.
func (a *Adapter) stopSession(ctx context.Context, session backend.Session) {
	base := context.WithoutCancel(ctx)
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = stopRetryInitial
	retry.MaxInterval = stopRetryMaxInterval

	for attempt := 1; ; attempt++ {
		stopCtx, cancel := context.WithTimeout(base, a.cfg.StopTimeout)
		err := session.Stop(stopCtx)
		cancel()
		if err == nil {
			return
		}
		if !errors.Is(err, backend.ErrInterrupted) {
			a.logger.Error("session stop failed", observability.Field{Key: "error", Value: err})
			return
		}
		a.logger.Info("session stop interrupted; retrying", observability.Field{Key: "attempt", Value: attempt})
		time.Sleep(retry.NextBackOff())
	}
}
