package protocol

import (
	"bytes"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/secsearch/errs"
)

const parserComponent = "protocol/parser"

// Query defaults applied when the client omits or mis-types a field.
const (
	DefaultQueryString = "IBM"
	DefaultMaxResults  = 10
	DefaultRequestType = "instrumentListRequest"

	// MaxResultsCeiling is the exclusive upper bound accepted for max_results.
	MaxResultsCeiling = 65535
)

// Query describes one backend search built from a client request.
type Query struct {
	QueryString string
	MaxResults  int
	YKFilter    string
	RequestType string
	Filters     map[string]string
}

// DefaultQuery returns the query used when the client supplies no overrides.
func DefaultQuery() Query {
	return Query{
		QueryString: DefaultQueryString,
		MaxResults:  DefaultMaxResults,
		YKFilter:    "",
		RequestType: DefaultRequestType,
		Filters:     nil,
	}
}

// WithFilterDefaults returns a copy of q where defaults fill filters the client did not name.
func (q Query) WithFilterDefaults(defaults map[string]string) Query {
	if len(defaults) == 0 {
		return q
	}
	merged := make(map[string]string, len(defaults)+len(q.Filters))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range q.Filters {
		merged[k] = v
	}
	q.Filters = merged
	return q
}

// ParseRequest decodes a framed JSON object into a Query.
//
// A document without a "request" member yields DefaultQuery. Fields with the
// wrong type or out-of-range values are ignored and the default is kept.
func ParseRequest(frame []byte) (Query, error) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return Query{}, errs.New(parserComponent, errs.CodeMalformedRequest,
			errs.WithMessage("request is not a JSON object"), errs.WithCause(err))
	}
	if doc == nil {
		return Query{}, errs.New(parserComponent, errs.CodeMalformedRequest,
			errs.WithMessage("request is not a JSON object"))
	}

	query := DefaultQuery()
	raw, ok := doc["request"]
	if !ok || raw == nil {
		return query, nil
	}
	params, ok := raw.(map[string]any)
	if !ok {
		return Query{}, errs.New(parserComponent, errs.CodeMalformedRequest,
			errs.WithMessage("request member must be an object"))
	}

	if s, ok := nonEmptyString(params["query_string"]); ok {
		query.QueryString = s
	}
	if n, ok := params["max_results"].(json.Number); ok {
		if v, err := n.Int64(); err == nil && v > 0 && v < MaxResultsCeiling {
			query.MaxResults = int(v)
		}
	}
	if s, ok := nonEmptyString(params["yk_filter"]); ok {
		query.YKFilter = s
	}
	if s, ok := nonEmptyString(params["request_type"]); ok {
		query.RequestType = s
	}
	if filters, ok := params["filters"].(map[string]any); ok {
		query.Filters = stringFilters(filters)
	}
	return query, nil
}

func nonEmptyString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func stringFilters(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		name := strings.TrimSpace(k)
		if name == "" {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		out[name] = s
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
