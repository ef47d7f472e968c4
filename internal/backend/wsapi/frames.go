package wsapi

import "github.com/coachpo/secsearch/internal/backend"

// Outbound operations.
const (
	opStart         = "start"
	opOpenService   = "openService"
	opGenerateToken = "generateToken"
	opAuthorize     = "authorize"
	opRequest       = "request"
	opStop          = "stop"
)

type outboundFrame struct {
	Op            string         `json:"op"`
	CorrelationID uint64         `json:"correlationId,omitempty"`
	Service       string         `json:"service,omitempty"`
	Operation     string         `json:"operation,omitempty"`
	Token         string         `json:"token,omitempty"`
	AuthOptions   string         `json:"authOptions,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

type inboundFrame struct {
	EventType string           `json:"eventType"`
	Messages  []inboundMessage `json:"messages"`
}

type inboundMessage struct {
	MessageType   string         `json:"messageType"`
	CorrelationID uint64         `json:"correlationId"`
	Elements      map[string]any `json:"elements"`
}

func (f inboundFrame) event() backend.Event {
	ev := backend.Event{
		Type:     backend.ParseEventType(f.EventType),
		Messages: make([]backend.Message, 0, len(f.Messages)),
	}
	for _, m := range f.Messages {
		elements := m.Elements
		if elements == nil {
			elements = map[string]any{}
		}
		ev.Messages = append(ev.Messages, backend.Message{
			Type:          m.MessageType,
			CorrelationID: m.CorrelationID,
			Elements:      backend.NewElement(elements),
		})
	}
	return ev
}
