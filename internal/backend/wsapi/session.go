// Package wsapi implements the backend session API over a websocket transport.
package wsapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/coachpo/secsearch/internal/backend"
	"github.com/coachpo/secsearch/internal/observability"
)

const (
	defaultPath           = "/session"
	defaultConnectTimeout = 5 * time.Second
	defaultDialAttempts   = 3
	defaultDialBackoff    = 100 * time.Millisecond
	maxDialBackoff        = 2 * time.Second
	readLimit             = 2 * 1024 * 1024
	eventQueueDepth       = 256
	tokenQueueDepth       = 4
)

// Dialer creates websocket-backed sessions.
type Dialer struct {
	scheme       string
	path         string
	attempts     uint
	initialDelay time.Duration
	client       *http.Client
}

// Option customises a Dialer.
type Option func(*Dialer)

// WithTLS dials wss:// instead of ws://.
func WithTLS() Option {
	return func(d *Dialer) { d.scheme = "wss" }
}

// WithPath overrides the session endpoint path.
func WithPath(path string) Option {
	return func(d *Dialer) {
		if path != "" {
			d.path = path
		}
	}
}

// WithDialRetry sets the number of dial attempts and the first backoff interval.
func WithDialRetry(attempts uint, initial time.Duration) Option {
	return func(d *Dialer) {
		if attempts > 0 {
			d.attempts = attempts
		}
		if initial > 0 {
			d.initialDelay = initial
		}
	}
}

// WithHTTPClient sets the client used for the websocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) { d.client = c }
}

// NewDialer constructs a dialer.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{
		scheme:       "ws",
		path:         defaultPath,
		attempts:     defaultDialAttempts,
		initialDelay: defaultDialBackoff,
		client:       nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// NewSession implements backend.Dialer. The transport is not connected until Start.
func (d *Dialer) NewSession(opts backend.Options) (backend.Session, error) {
	if opts.Host == "" {
		return nil, errors.New("wsapi: host required")
	}
	if opts.Port <= 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("wsapi: invalid port %d", opts.Port)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	return &Session{
		dialer: d,
		opts:   opts,
		url:    d.scheme + "://" + net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)) + d.path,
		events: make(chan backend.Event, eventQueueDepth),
		tokens: make(map[uint64]chan backend.Event),
		opened: make(map[string]bool),
		logger: observability.Log(),
	}, nil
}

// Session is a backend session over one websocket connection.
type Session struct {
	dialer *Dialer
	opts   backend.Options
	url    string
	logger observability.Logger

	conn       *websocket.Conn
	readCtx    context.Context
	readCancel context.CancelFunc
	readerDone chan struct{}
	writeMu    sync.Mutex
	cid        atomic.Uint64
	stopped    atomic.Bool
	closed     bool

	// events is closed by the reader; backlog holds events set aside while awaiting a status reply.
	events  chan backend.Event
	backlog []backend.Event

	mu     sync.Mutex
	tokens map[uint64]chan backend.Event
	opened map[string]bool
}

// Start dials the backend, retrying with exponential backoff, and waits for the session status.
func (s *Session) Start(ctx context.Context) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = s.dialer.initialDelay
	retry.MaxInterval = maxDialBackoff

	conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
		c, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{HTTPClient: s.dialer.client})
		if err != nil {
			s.logger.Debug("backend dial failed", observability.Field{Key: "url", Value: s.url},
				observability.Field{Key: "error", Value: err})
			return nil, err
		}
		return c, nil
	}, backoff.WithBackOff(retry), backoff.WithMaxTries(s.dialer.attempts))
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	conn.SetReadLimit(readLimit)

	s.conn = conn
	s.readCtx, s.readCancel = context.WithCancel(context.Background())
	s.readerDone = make(chan struct{})
	go s.readLoop()

	if err := s.send(ctx, outboundFrame{Op: opStart, AuthOptions: s.opts.AuthOptions}); err != nil {
		return err
	}
	return s.awaitStatus(ctx, backend.EventSessionStatus, 0, backend.MsgSessionStarted, backend.MsgSessionStartupFailure)
}

// Stop closes the session. A stop frame that cannot be written before ctx
// expires reports backend.ErrInterrupted so the caller can retry.
func (s *Session) Stop(ctx context.Context) error {
	if s.conn == nil || s.closed {
		return nil
	}
	s.stopped.Store(true)
	if err := s.send(ctx, outboundFrame{Op: opStop}); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("send stop: %w: %w", backend.ErrInterrupted, err)
		}
		s.logger.Debug("stop frame not delivered", observability.Field{Key: "error", Value: err})
	}
	s.closed = true
	s.readCancel()
	_ = s.conn.Close(websocket.StatusNormalClosure, "session stopped")
	<-s.readerDone
	return nil
}

// OpenService implements backend.Session.
func (s *Session) OpenService(ctx context.Context, name string) error {
	if _, ok := backend.LookupService(name); !ok {
		return fmt.Errorf("service %q: %w", name, backend.ErrNotFound)
	}
	cid := s.cid.Add(1)
	if err := s.send(ctx, outboundFrame{Op: opOpenService, CorrelationID: cid, Service: name}); err != nil {
		return err
	}
	if err := s.awaitStatus(ctx, backend.EventServiceStatus, cid, backend.MsgServiceOpened, backend.MsgServiceOpenFailure); err != nil {
		return err
	}
	s.mu.Lock()
	s.opened[name] = true
	s.mu.Unlock()
	return nil
}

// GenerateToken implements backend.Session.
func (s *Session) GenerateToken(ctx context.Context) (backend.Queue, error) {
	cid := s.cid.Add(1)
	q := make(chan backend.Event, tokenQueueDepth)
	s.mu.Lock()
	s.tokens[cid] = q
	s.mu.Unlock()
	if err := s.send(ctx, outboundFrame{Op: opGenerateToken, CorrelationID: cid}); err != nil {
		s.mu.Lock()
		delete(s.tokens, cid)
		s.mu.Unlock()
		return nil, err
	}
	return chanQueue(q), nil
}

// SendAuthorizationRequest implements backend.Session.
func (s *Session) SendAuthorizationRequest(ctx context.Context, token string) error {
	return s.send(ctx, outboundFrame{Op: opAuthorize, CorrelationID: s.cid.Add(1), Token: token})
}

// CreateRequest implements backend.Session.
func (s *Session) CreateRequest(service, operation string) (*backend.Request, error) {
	s.mu.Lock()
	opened := s.opened[service]
	s.mu.Unlock()
	if !opened {
		return nil, fmt.Errorf("service %q not opened: %w", service, backend.ErrNotFound)
	}
	def, err := backend.LookupRequest(service, operation)
	if err != nil {
		return nil, err
	}
	return backend.NewRequest(service, def), nil
}

// SendRequest implements backend.Session.
func (s *Session) SendRequest(ctx context.Context, req *backend.Request) error {
	return s.send(ctx, outboundFrame{
		Op:            opRequest,
		CorrelationID: s.cid.Add(1),
		Service:       req.Service(),
		Operation:     req.Operation(),
		Fields:        req.Fields(),
	})
}

// NextEvent implements backend.Queue. Events set aside during status waits are returned first.
func (s *Session) NextEvent(ctx context.Context) (backend.Event, error) {
	if len(s.backlog) > 0 {
		ev := s.backlog[0]
		s.backlog = s.backlog[1:]
		return ev, nil
	}
	return chanQueue(s.events).NextEvent(ctx)
}

func (s *Session) send(ctx context.Context, frame outboundFrame) error {
	if s.conn == nil {
		return errors.New("wsapi: session not started")
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Op, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Op, err)
	}
	return nil
}

// awaitStatus reads the session queue until a message of eventType with the
// given correlation (0 matches any) is either okType or failType.
func (s *Session) awaitStatus(ctx context.Context, eventType backend.EventType, cid uint64, okType, failType string) error {
	for {
		ev, err := chanQueue(s.events).NextEvent(ctx)
		if err != nil {
			return fmt.Errorf("await %s: %w", okType, err)
		}
		s.backlog = append(s.backlog, ev)
		if ev.Type != eventType {
			continue
		}
		for _, msg := range ev.Messages {
			if cid != 0 && msg.CorrelationID != cid {
				continue
			}
			switch msg.Type {
			case okType:
				return nil
			case failType:
				desc, _ := msg.Elements.GetString(backend.ElemDescription)
				return fmt.Errorf("%s: %s", failType, desc)
			}
		}
	}
}

func (s *Session) readLoop() {
	defer close(s.readerDone)
	defer close(s.events)
	for {
		typ, data, err := s.conn.Read(s.readCtx)
		if err != nil {
			if !s.stopped.Load() {
				s.logger.Info("backend connection lost", observability.Field{Key: "error", Value: err})
				s.deliver(backend.Event{Type: backend.EventSessionStatus, Messages: []backend.Message{{
					Type:     backend.MsgSessionTerminated,
					Elements: backend.NewElement(map[string]any{backend.ElemDescription: err.Error()}),
				}}})
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Error("undecodable backend frame", observability.Field{Key: "error", Value: err})
			continue
		}
		ev := frame.event()
		if q := s.tokenQueue(ev); q != nil {
			select {
			case q <- ev:
			default:
				s.logger.Error("token queue full; dropping event")
			}
			continue
		}
		s.deliver(ev)
	}
}

func (s *Session) tokenQueue(ev backend.Event) chan backend.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range ev.Messages {
		if q, ok := s.tokens[msg.CorrelationID]; ok && msg.CorrelationID != 0 {
			return q
		}
	}
	return nil
}

func (s *Session) deliver(ev backend.Event) {
	select {
	case s.events <- ev:
	case <-s.readCtx.Done():
	}
}

type chanQueue chan backend.Event

func (q chanQueue) NextEvent(ctx context.Context) (backend.Event, error) {
	select {
	case ev, ok := <-q:
		if !ok {
			return backend.Event{}, backend.ErrSessionClosed
		}
		return ev, nil
	case <-ctx.Done():
		return backend.Event{}, ctx.Err()
	}
}
