// Package bridge runs one search exchange against a backend session and assembles the client response.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/coachpo/secsearch/internal/backend"
	"github.com/coachpo/secsearch/internal/observability"
	"github.com/coachpo/secsearch/internal/protocol"
)

// Fixed descriptions reported when the session ends the exchange.
const (
	SessionTerminatedText = "SESSION TERMINATED"
	SessionFailureText    = "SESSION FAILURE"
)

// State is the reducer position in the exchange.
type State int

// Reducer states.
const (
	StateAwaitingEvents State = iota
	StateAccumulating
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingEvents:
		return "awaiting_events"
	case StateAccumulating:
		return "accumulating"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reducer folds backend events into a response envelope.
//
// It never reports Done before a Response event or a terminal SessionStatus
// message. Results gathered before a session termination are kept next to
// the termination error.
type Reducer struct {
	def    backend.RequestDef
	state  State
	env    protocol.Envelope
	logger observability.Logger
}

// NewReducer creates a reducer projecting results of the given request type.
func NewReducer(def backend.RequestDef) *Reducer {
	return &Reducer{
		def:    def,
		state:  StateAwaitingEvents,
		env:    protocol.Envelope{},
		logger: observability.Log(),
	}
}

// State returns the current state.
func (r *Reducer) State() State { return r.state }

// Envelope returns the accumulated envelope.
func (r *Reducer) Envelope() protocol.Envelope { return r.env }

// Apply classifies one event and reports whether the exchange is complete.
func (r *Reducer) Apply(ev backend.Event) bool {
	if r.state == StateDone {
		return true
	}
	switch ev.Type {
	case backend.EventPartialResponse:
		r.processResponse(ev)
		r.state = StateAccumulating
	case backend.EventResponse:
		r.processResponse(ev)
		r.state = StateDone
	case backend.EventSessionStatus:
		for _, msg := range ev.Messages {
			switch msg.Type {
			case backend.MsgSessionTerminated:
				r.env.SetError(SessionTerminatedText)
				r.state = StateDone
			case backend.MsgSessionStartupFailure:
				r.env.SetError(SessionFailureText)
				r.state = StateDone
			}
		}
	default:
		r.logger.Debug("ignoring event", observability.Field{Key: "event_type", Value: ev.Type.String()})
	}
	return r.state == StateDone
}

// Run drains q until the exchange completes. There is no deadline beyond ctx.
//
// A queue that closes before a terminal event is treated as a terminated session.
func (r *Reducer) Run(ctx context.Context, q backend.Queue) (protocol.Envelope, error) {
	for r.state != StateDone {
		ev, err := q.NextEvent(ctx)
		if err != nil {
			if errors.Is(err, backend.ErrSessionClosed) {
				r.env.SetError(SessionTerminatedText)
				r.state = StateDone
				break
			}
			return r.env, fmt.Errorf("await backend event: %w", err)
		}
		r.Apply(ev)
	}
	return r.env, nil
}

func (r *Reducer) processResponse(ev backend.Event) {
	for _, msg := range ev.Messages {
		switch msg.Type {
		case backend.MsgErrorResponse:
			description, err := msg.Elements.GetString(backend.ElemDescription)
			if err != nil {
				description = "request failed"
			}
			r.logger.Info("backend error response", observability.Field{Key: "description", Value: description})
			r.env.SetError(description)
		case r.def.Response:
			r.env.AppendResults(r.records(msg)...)
		default:
			r.logger.Error("unknown message type received", observability.Field{Key: "message_type", Value: msg.Type})
		}
	}
}

func (r *Reducer) records(msg backend.Message) []protocol.ResultRecord {
	if !msg.Elements.Has(backend.ElemResults) {
		r.logger.Debug("response without results", observability.Field{Key: "message_type", Value: msg.Type})
		return nil
	}
	results, err := msg.Elements.GetElement(backend.ElemResults)
	if err != nil {
		return nil
	}
	values := results.Values()
	out := make([]protocol.ResultRecord, 0, len(values))
	for _, v := range values {
		security, _ := v.GetString(r.def.SecurityField)
		description, _ := v.GetString(r.def.DescriptionField)
		out = append(out, protocol.ResultRecord{Security: security, Description: description})
	}
	return out
}
