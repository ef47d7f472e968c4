// Package backend defines the session-oriented market-data query API consumed by the bridge.
//
// A Session is opened per client exchange, optionally authorized, used to send
// one request, and drained of events until a terminal event arrives.
package backend

import (
	"context"
	"errors"
	"time"
)

// Well-known service names.
const (
	InstrumentsService = "//blp/instruments"
	AuthService        = "//blp/apiauth"
)

// Defaults for session options.
const (
	DefaultHost = "localhost"
	DefaultPort = 8194
)

var (
	// ErrNotFound reports an unknown service, request type, or request field.
	ErrNotFound = errors.New("backend: not found")
	// ErrInvalidConversion reports a field value that cannot be converted to the schema type.
	ErrInvalidConversion = errors.New("backend: invalid conversion")
	// ErrInterrupted reports a blocking call that was interrupted before completing; callers may retry.
	ErrInterrupted = errors.New("backend: interrupted")
	// ErrSessionClosed reports use of a session whose event stream has ended.
	ErrSessionClosed = errors.New("backend: session closed")
)

// Options configure a new session.
type Options struct {
	Host string
	Port int
	// AuthOptions is passed through to the backend verbatim. Empty disables authorization.
	AuthOptions string
	// ConnectTimeout bounds establishing the transport; zero uses the implementation default.
	ConnectTimeout time.Duration
}

// Dialer creates sessions.
type Dialer interface {
	NewSession(opts Options) (Session, error)
}

// Queue yields events in arrival order.
type Queue interface {
	// NextEvent blocks until an event arrives or ctx is done.
	NextEvent(ctx context.Context) (Event, error)
}

// Session is a single backend session.
type Session interface {
	Queue

	// Start establishes the session. It fails when the backend refuses or cannot be reached.
	Start(ctx context.Context) error
	// Stop tears the session down. It may return ErrInterrupted, after which it can be called again.
	Stop(ctx context.Context) error
	// OpenService makes the named service available to CreateRequest.
	OpenService(ctx context.Context, name string) error
	// GenerateToken asks for an authorization token; replies arrive on the returned queue only.
	GenerateToken(ctx context.Context) (Queue, error)
	// SendAuthorizationRequest submits token for the session identity; replies arrive on the session queue.
	SendAuthorizationRequest(ctx context.Context, token string) error
	// CreateRequest returns an empty request of the given operation on an opened service.
	CreateRequest(service, operation string) (*Request, error)
	// SendRequest submits req; replies arrive on the session queue.
	SendRequest(ctx context.Context, req *Request) error
}
