package wsapi

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/secsearch/internal/backend"
)

// miniBackend answers the session protocol with canned replies.
type miniBackend struct {
	refuseStart bool
	failOpen    bool
	dropOnQuery bool
	received    chan outboundFrame
}

func (m *miniBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var in outboundFrame
		if err := json.Unmarshal(data, &in); err != nil {
			return
		}
		if m.received != nil {
			m.received <- in
		}
		var out []inboundFrame
		switch in.Op {
		case opStart:
			msgType := backend.MsgSessionStarted
			if m.refuseStart {
				msgType = backend.MsgSessionStartupFailure
			}
			out = append(out, inboundFrame{EventType: "SESSION_STATUS", Messages: []inboundMessage{{MessageType: msgType}}})
		case opOpenService:
			msgType := backend.MsgServiceOpened
			if m.failOpen {
				msgType = backend.MsgServiceOpenFailure
			}
			out = append(out, inboundFrame{EventType: "SERVICE_STATUS", Messages: []inboundMessage{{MessageType: msgType, CorrelationID: in.CorrelationID}}})
		case opGenerateToken:
			out = append(out, inboundFrame{EventType: "TOKEN_STATUS", Messages: []inboundMessage{{
				MessageType:   backend.MsgTokenGenerationSuccess,
				CorrelationID: in.CorrelationID,
				Elements:      map[string]any{"token": "tok-1"},
			}}})
		case opAuthorize:
			out = append(out, inboundFrame{EventType: "RESPONSE", Messages: []inboundMessage{{MessageType: backend.MsgAuthorizationSuccess, CorrelationID: in.CorrelationID}}})
		case opRequest:
			if m.dropOnQuery {
				return
			}
			result := map[string]any{"security": "IBM US Equity", "description": "INTL BUSINESS MACHINES CORP"}
			out = append(out,
				inboundFrame{EventType: "PARTIAL_RESPONSE", Messages: []inboundMessage{{
					MessageType: backend.MsgInstrumentListResponse, CorrelationID: in.CorrelationID,
					Elements: map[string]any{"results": []any{result}},
				}}},
				inboundFrame{EventType: "RESPONSE", Messages: []inboundMessage{{
					MessageType: backend.MsgInstrumentListResponse, CorrelationID: in.CorrelationID,
					Elements: map[string]any{"results": []any{}},
				}}},
			)
		case opStop:
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		for _, frame := range out {
			payload, err := json.Marshal(frame)
			if err != nil {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}

func startMini(t *testing.T, m *miniBackend) backend.Options {
	t.Helper()
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return backend.Options{Host: host, Port: port, ConnectTimeout: time.Second}
}

func TestSessionQueryExchange(t *testing.T) {
	m := &miniBackend{received: make(chan outboundFrame, 16)}
	opts := startMini(t, m)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := NewDialer().NewSession(opts)
	require.NoError(t, err)
	require.NoError(t, sess.Start(ctx))
	require.NoError(t, sess.OpenService(ctx, backend.InstrumentsService))

	req, err := sess.CreateRequest(backend.InstrumentsService, backend.OpInstrumentList)
	require.NoError(t, err)
	require.NoError(t, req.Set(backend.FieldQuery, "IBM"))
	require.NoError(t, req.Set(backend.FieldMaxResults, 10))
	require.NoError(t, sess.SendRequest(ctx, req))

	// Status events consumed while waiting remain visible on the queue.
	var types []backend.EventType
	for len(types) == 0 || types[len(types)-1] != backend.EventResponse {
		ev, err := sess.NextEvent(ctx)
		require.NoError(t, err)
		types = append(types, ev.Type)
		if ev.Type == backend.EventPartialResponse {
			results, err := ev.Messages[0].Elements.GetElement(backend.ElemResults)
			require.NoError(t, err)
			require.Len(t, results.Values(), 1)
			sec, err := results.Values()[0].GetString("security")
			require.NoError(t, err)
			require.Equal(t, "IBM US Equity", sec)
		}
	}
	require.Equal(t, []backend.EventType{
		backend.EventSessionStatus,
		backend.EventServiceStatus,
		backend.EventPartialResponse,
		backend.EventResponse,
	}, types)

	require.NoError(t, sess.Stop(ctx))
	require.NoError(t, sess.Stop(ctx))

	var ops []string
	for len(m.received) > 0 {
		frame := <-m.received
		ops = append(ops, frame.Op)
		if frame.Op == opRequest {
			require.Equal(t, backend.OpInstrumentList, frame.Operation)
			require.Equal(t, "IBM", frame.Fields[backend.FieldQuery])
		}
	}
	require.Equal(t, []string{opStart, opOpenService, opRequest, opStop}, ops)
}

func TestSessionTokenRoutedToTokenQueue(t *testing.T) {
	opts := startMini(t, &miniBackend{})
	opts.AuthOptions = "AuthenticationType=OS_LOGON"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := NewDialer().NewSession(opts)
	require.NoError(t, err)
	require.NoError(t, sess.Start(ctx))
	defer sess.Stop(ctx)

	q, err := sess.GenerateToken(ctx)
	require.NoError(t, err)
	ev, err := q.NextEvent(ctx)
	require.NoError(t, err)
	require.Equal(t, backend.EventTokenStatus, ev.Type)
	token, err := ev.Messages[0].Elements.GetString(backend.ElemToken)
	require.NoError(t, err)
	require.Equal(t, "tok-1", token)

	require.NoError(t, sess.SendAuthorizationRequest(ctx, token))
	// The session queue replays the start status before the authorization reply.
	ev, err = sess.NextEvent(ctx)
	require.NoError(t, err)
	require.Equal(t, backend.EventSessionStatus, ev.Type)
	ev, err = sess.NextEvent(ctx)
	require.NoError(t, err)
	require.Equal(t, backend.EventResponse, ev.Type)
	require.Equal(t, backend.MsgAuthorizationSuccess, ev.Messages[0].Type)
}

func TestSessionStartAndOpenFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := NewDialer().NewSession(startMini(t, &miniBackend{refuseStart: true}))
	require.NoError(t, err)
	require.Error(t, sess.Start(ctx))
	require.NoError(t, sess.Stop(ctx))

	sess, err = NewDialer().NewSession(startMini(t, &miniBackend{failOpen: true}))
	require.NoError(t, err)
	require.NoError(t, sess.Start(ctx))
	require.Error(t, sess.OpenService(ctx, backend.InstrumentsService))
	_, err = sess.CreateRequest(backend.InstrumentsService, backend.OpInstrumentList)
	require.ErrorIs(t, err, backend.ErrNotFound)
	require.NoError(t, sess.Stop(ctx))
}

func TestSessionDialFailureIsBounded(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	sess, err := NewDialer(WithDialRetry(2, time.Millisecond)).NewSession(backend.Options{
		Host: "127.0.0.1", Port: port, ConnectTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Error(t, sess.Start(ctx))
	require.NoError(t, sess.Stop(ctx))
}

func TestSessionDroppedConnectionTerminates(t *testing.T) {
	opts := startMini(t, &miniBackend{dropOnQuery: true})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := NewDialer().NewSession(opts)
	require.NoError(t, err)
	require.NoError(t, sess.Start(ctx))
	require.NoError(t, sess.OpenService(ctx, backend.InstrumentsService))
	req, err := sess.CreateRequest(backend.InstrumentsService, backend.OpInstrumentList)
	require.NoError(t, err)
	require.NoError(t, sess.SendRequest(ctx, req))

	var last backend.Event
	for {
		ev, err := sess.NextEvent(ctx)
		if err != nil {
			require.ErrorIs(t, err, backend.ErrSessionClosed)
			break
		}
		last = ev
	}
	require.Equal(t, backend.EventSessionStatus, last.Type)
	require.Equal(t, backend.MsgSessionTerminated, last.Messages[0].Type)
	require.NoError(t, sess.Stop(ctx))
}

func TestNewSessionValidatesAddress(t *testing.T) {
	_, err := NewDialer().NewSession(backend.Options{Port: 8194})
	require.Error(t, err)
	_, err = NewDialer().NewSession(backend.Options{Host: "localhost", Port: 0})
	require.Error(t, err)
}
