package backend

import (
	"fmt"
	"strconv"
)

// EventType tags the origin of an event.
type EventType int

// Event types delivered by a session.
const (
	EventUnknown EventType = iota
	EventAdmin
	EventSessionStatus
	EventServiceStatus
	EventTokenStatus
	EventRequestStatus
	EventPartialResponse
	EventResponse
	EventTimeout
)

var eventTypeNames = map[EventType]string{
	EventUnknown:         "UNKNOWN",
	EventAdmin:           "ADMIN",
	EventSessionStatus:   "SESSION_STATUS",
	EventServiceStatus:   "SERVICE_STATUS",
	EventTokenStatus:     "TOKEN_STATUS",
	EventRequestStatus:   "REQUEST_STATUS",
	EventPartialResponse: "PARTIAL_RESPONSE",
	EventResponse:        "RESPONSE",
	EventTimeout:         "TIMEOUT",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "EventType(" + strconv.Itoa(int(t)) + ")"
}

// ParseEventType maps a wire name to an EventType; unknown names map to EventUnknown.
func ParseEventType(name string) EventType {
	for t, n := range eventTypeNames {
		if n == name {
			return t
		}
	}
	return EventUnknown
}

// Message types referenced by the bridge.
const (
	MsgSessionStarted         = "SessionStarted"
	MsgSessionStartupFailure  = "SessionStartupFailure"
	MsgSessionTerminated      = "SessionTerminated"
	MsgServiceOpened          = "ServiceOpened"
	MsgServiceOpenFailure     = "ServiceOpenFailure"
	MsgTokenGenerationSuccess = "TokenGenerationSuccess"
	MsgTokenGenerationFailure = "TokenGenerationFailure"
	MsgAuthorizationSuccess   = "AuthorizationSuccess"
	MsgAuthorizationFailure   = "AuthorizationFailure"
	MsgErrorResponse          = "ErrorResponse"
	MsgInstrumentListResponse = "InstrumentListResponse"
	MsgCurveListResponse      = "CurveListResponse"
	MsgGovtListResponse       = "GovtListResponse"
)

// Event is a batch of messages of one type.
type Event struct {
	Type     EventType
	Messages []Message
}

// Message is a single typed payload inside an event.
type Message struct {
	Type          string
	CorrelationID uint64
	Elements      Element
}

func (m Message) String() string {
	return fmt.Sprintf("%s(cid=%d) %v", m.Type, m.CorrelationID, m.Elements.value)
}

// Element is a node of a message payload: a named sequence, an array, or a scalar.
type Element struct {
	value any
}

// NewElement wraps a decoded payload value. Objects are map[string]any and arrays []any.
func NewElement(v any) Element {
	return Element{value: v}
}

// Has reports whether the element is a sequence with the named child.
func (e Element) Has(name string) bool {
	m, ok := e.value.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m[name]
	return ok
}

// GetElement returns the named child.
func (e Element) GetElement(name string) (Element, error) {
	m, ok := e.value.(map[string]any)
	if !ok {
		return Element{}, fmt.Errorf("element %q: %w", name, ErrNotFound)
	}
	v, ok := m[name]
	if !ok {
		return Element{}, fmt.Errorf("element %q: %w", name, ErrNotFound)
	}
	return Element{value: v}, nil
}

// GetString returns the named child as text.
func (e Element) GetString(name string) (string, error) {
	child, err := e.GetElement(name)
	if err != nil {
		return "", err
	}
	return child.AsString()
}

// AsString converts a scalar element to text.
func (e Element) AsString() (string, error) {
	switch v := e.value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("element value %T: %w", e.value, ErrInvalidConversion)
	}
}

// Values returns the members of an array element. Non-arrays yield nil.
func (e Element) Values() []Element {
	arr, ok := e.value.([]any)
	if !ok {
		return nil
	}
	out := make([]Element, len(arr))
	for i, v := range arr {
		out[i] = Element{value: v}
	}
	return out
}
