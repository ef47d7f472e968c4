package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coachpo/secsearch/internal/backend"
)

const defaultPageSize = 2

// Faults injects failures into sessions created by the backend.
type Faults struct {
	FailStart       bool
	FailServiceOpen string
	TokenSilent     bool
	TokenFailure    bool
	AuthSilent      bool
	AuthFailure     bool
	// TerminateImmediately answers the request with a SessionTerminated status.
	TerminateImmediately bool
	// TerminateAfterPages and StartupFailureAfterPages end the session after that many response pages.
	TerminateAfterPages      int
	StartupFailureAfterPages int
	ErrorResponse            string
	NoResponse               bool
	StopInterruptions        int
	StopError                error
	// Unsolicited events are queued ahead of request responses.
	Unsolicited []backend.Event
}

// Option customises a Backend.
type Option func(*Backend)

// WithFaults sets the faults applied to new sessions.
func WithFaults(f Faults) Option {
	return func(b *Backend) { b.faults = f }
}

// WithPageSize sets how many results each response event carries.
func WithPageSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.pageSize = n
		}
	}
}

// WithInstruments replaces the instrument catalog.
func WithInstruments(instruments []Instrument) Option {
	return func(b *Backend) { b.catalog.instruments = instruments }
}

// Backend is an in-process backend implementing backend.Dialer.
type Backend struct {
	mu       sync.Mutex
	catalog  catalog
	faults   Faults
	pageSize int
	sessions []*Session
	nextID   atomic.Uint64
}

// New creates a fake backend seeded with the default catalogs.
func New(opts ...Option) *Backend {
	b := &Backend{
		catalog: catalog{
			instruments: DefaultInstruments,
			curves:      DefaultCurves,
			govts:       DefaultGovts,
		},
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// NewSession implements backend.Dialer.
func (b *Backend) NewSession(opts backend.Options) (backend.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Session{
		backend:        b,
		opts:           opts,
		faults:         b.faults,
		events:         newEventQueue(),
		opened:         make(map[string]bool),
		interruptsLeft: b.faults.StopInterruptions,
	}
	b.sessions = append(b.sessions, s)
	return s, nil
}

// Sessions returns every session created so far.
func (b *Backend) Sessions() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Session(nil), b.sessions...)
}

// Session is a fake backend session. Events are produced synchronously by the calls that cause them.
type Session struct {
	backend *Backend
	opts    backend.Options
	faults  Faults

	mu             sync.Mutex
	events         *eventQueue
	opened         map[string]bool
	started        bool
	stopped        bool
	stopCalls      int
	interruptsLeft int
	sent           []*backend.Request
}

// Options returns the options the session was created with.
func (s *Session) Options() backend.Options { return s.opts }

// StopCalls returns how many times Stop was invoked.
func (s *Session) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

// Stopped reports whether teardown completed.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Sent returns requests submitted through SendRequest.
func (s *Session) Sent() []*backend.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*backend.Request(nil), s.sent...)
}

// Start implements backend.Session.
func (s *Session) Start(context.Context) error {
	if s.faults.FailStart {
		return errors.New("fake: connection refused")
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.push(statusEvent(backend.EventSessionStatus, backend.MsgSessionStarted, nil))
	return nil
}

// Stop implements backend.Session.
func (s *Session) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	if s.stopped {
		return nil
	}
	if s.interruptsLeft > 0 {
		s.interruptsLeft--
		return fmt.Errorf("fake stop: %w", backend.ErrInterrupted)
	}
	if s.faults.StopError != nil {
		s.stopped = true
		return s.faults.StopError
	}
	s.stopped = true
	s.events.close()
	return nil
}

// OpenService implements backend.Session.
func (s *Session) OpenService(_ context.Context, name string) error {
	if name == s.faults.FailServiceOpen {
		s.push(statusEvent(backend.EventServiceStatus, backend.MsgServiceOpenFailure, nil))
		return fmt.Errorf("fake: open %s refused", name)
	}
	if _, ok := backend.LookupService(name); !ok {
		return fmt.Errorf("service %q: %w", name, backend.ErrNotFound)
	}
	s.mu.Lock()
	s.opened[name] = true
	s.mu.Unlock()
	s.push(statusEvent(backend.EventServiceStatus, backend.MsgServiceOpened, map[string]any{"serviceName": name}))
	return nil
}

// GenerateToken implements backend.Session.
func (s *Session) GenerateToken(context.Context) (backend.Queue, error) {
	q := &chanQueue{ch: make(chan backend.Event, 1)}
	switch {
	case s.faults.TokenSilent:
	case s.faults.TokenFailure:
		q.ch <- statusEvent(backend.EventTokenStatus, backend.MsgTokenGenerationFailure, nil)
	default:
		token := fmt.Sprintf("fake-token-%d", s.backend.nextID.Add(1))
		q.ch <- statusEvent(backend.EventTokenStatus, backend.MsgTokenGenerationSuccess, map[string]any{backend.ElemToken: token})
	}
	return q, nil
}

// SendAuthorizationRequest implements backend.Session.
func (s *Session) SendAuthorizationRequest(_ context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("token: %w", backend.ErrInvalidConversion)
	}
	switch {
	case s.faults.AuthSilent:
	case s.faults.AuthFailure:
		s.push(statusEvent(backend.EventResponse, backend.MsgAuthorizationFailure, nil))
	default:
		s.push(statusEvent(backend.EventResponse, backend.MsgAuthorizationSuccess, nil))
	}
	return nil
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
func (s *Session) SendRequest(_ context.Context, req *backend.Request) error {
	if req == nil {
		return errors.New("fake: nil request")
	}
	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()

	for _, ev := range s.faults.Unsolicited {
		s.push(ev)
	}
	if s.faults.TerminateImmediately {
		s.push(statusEvent(backend.EventSessionStatus, backend.MsgSessionTerminated, nil))
		return nil
	}
	if s.faults.NoResponse {
		return nil
	}
	if s.faults.ErrorResponse != "" {
		s.push(statusEvent(backend.EventResponse, backend.MsgErrorResponse,
			map[string]any{backend.ElemDescription: s.faults.ErrorResponse}))
		return nil
	}

	def := req.Definition()
	results := s.backend.catalog.search(req)
	pages := paginate(results, s.backend.pageSize)
	for i, page := range pages {
		eventType := backend.EventPartialResponse
		if i == len(pages)-1 {
			eventType = backend.EventResponse
		}
		if s.faults.TerminateAfterPages > 0 && i == s.faults.TerminateAfterPages {
			s.push(statusEvent(backend.EventSessionStatus, backend.MsgSessionTerminated, nil))
			return nil
		}
		if s.faults.StartupFailureAfterPages > 0 && i == s.faults.StartupFailureAfterPages {
			s.push(statusEvent(backend.EventSessionStatus, backend.MsgSessionStartupFailure, nil))
			return nil
		}
		s.push(backend.Event{Type: eventType, Messages: []backend.Message{{
			Type:     def.Response,
			Elements: backend.NewElement(map[string]any{backend.ElemResults: page}),
		}}})
	}
	return nil
}

// NextEvent implements backend.Queue.
func (s *Session) NextEvent(ctx context.Context) (backend.Event, error) {
	return s.events.NextEvent(ctx)
}

func (s *Session) push(ev backend.Event) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped {
		s.events.push(ev)
	}
}

func paginate(results []any, size int) [][]any {
	if len(results) == 0 {
		return [][]any{{}}
	}
	var pages [][]any
	for start := 0; start < len(results); start += size {
		end := min(start+size, len(results))
		pages = append(pages, results[start:end])
	}
	return pages
}

func statusEvent(t backend.EventType, msgType string, elements map[string]any) backend.Event {
	if elements == nil {
		elements = map[string]any{}
	}
	return backend.Event{Type: t, Messages: []backend.Message{{Type: msgType, Elements: backend.NewElement(elements)}}}
}

type chanQueue struct {
	ch chan backend.Event
}

func (q *chanQueue) NextEvent(ctx context.Context) (backend.Event, error) {
	select {
	case ev, ok := <-q.ch:
		if !ok {
			return backend.Event{}, backend.ErrSessionClosed
		}
		return ev, nil
	case <-ctx.Done():
		return backend.Event{}, ctx.Err()
	}
}

// eventQueue is an unbounded FIFO; push never blocks.
type eventQueue struct {
	mu     sync.Mutex
	items  []backend.Event
	closed bool
	ready  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev backend.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// NextEvent pops the oldest event. Queued events are still delivered after
// close; backend.ErrSessionClosed follows once the queue drains.
func (q *eventQueue) NextEvent(ctx context.Context) (backend.Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = backend.Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return backend.Event{}, backend.ErrSessionClosed
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return backend.Event{}, ctx.Err()
		}
	}
}
