package telemetry

import "go.opentelemetry.io/otel/attribute"

// Attribute keys attached to bridge metrics.
const (
	AttrEnvironment = attribute.Key("environment")
	AttrOutcome     = attribute.Key("outcome")
	AttrRequestType = attribute.Key("request.type")
	AttrBackend     = attribute.Key("backend.kind")
)

// Outcome values for completed requests.
const (
	OutcomeResults        = "results"
	OutcomeError          = "error"
	OutcomeClientError    = "client_error"
	OutcomeClosed         = "closed"
	OutcomeMalformed      = "malformed"
	OutcomeIncompleteRead = "incomplete"
)

// RequestAttributes returns the attributes for a completed request.
func RequestAttributes(environment, backendKind, requestType, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrBackend.String(backendKind),
		AttrRequestType.String(requestType),
		AttrOutcome.String(outcome),
	}
}

// ConnectionAttributes returns the attributes for connection counters.
func ConnectionAttributes(environment, backendKind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrBackend.String(backendKind),
	}
}
