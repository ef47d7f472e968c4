package backend

import (
	"fmt"
	"slices"
	"strconv"
)

// FieldKind is the schema type of a request field.
type FieldKind int

// Field kinds understood by request validation.
const (
	KindString FieldKind = iota
	KindInt
	KindBool
	KindEnum
)

// FieldDef describes one settable request field.
type FieldDef struct {
	Kind FieldKind
	Enum []string
}

// RequestDef describes a request operation and the response message it produces.
type RequestDef struct {
	Operation string
	Response  string
	Fields    map[string]FieldDef
	// SecurityField and DescriptionField name the per-result elements projected into result records.
	SecurityField    string
	DescriptionField string
}

// ServiceDef lists the operations of a service.
type ServiceDef struct {
	Name     string
	Requests map[string]RequestDef
}

// Request field and element names shared by all instrument operations.
const (
	FieldQuery      = "query"
	FieldMaxResults = "maxResults"
	FieldYKFilter   = "yellowKeyFilter"
	FieldLanguage   = "languageOverride"
	ElemResults     = "results"
	ElemDescription = "description"
	ElemToken       = "token"
)

// Instrument operations.
const (
	OpInstrumentList = "instrumentListRequest"
	OpCurveList      = "curveListRequest"
	OpGovtList       = "govtListRequest"
)

var yellowKeys = []string{
	"YK_FILTER_NONE", "YK_FILTER_CMDT", "YK_FILTER_EQTY", "YK_FILTER_MUNI",
	"YK_FILTER_PRFD", "YK_FILTER_CLNT", "YK_FILTER_MMKT", "YK_FILTER_GOVT",
	"YK_FILTER_CORP", "YK_FILTER_INDX", "YK_FILTER_CURR", "YK_FILTER_MTGE",
}

var languages = []string{
	"LANG_OVERRIDE_NONE", "LANG_OVERRIDE_ENGLISH", "LANG_OVERRIDE_KANJI",
	"LANG_OVERRIDE_FRENCH", "LANG_OVERRIDE_GERMAN", "LANG_OVERRIDE_SPANISH",
	"LANG_OVERRIDE_PORTUGUESE", "LANG_OVERRIDE_ITALIAN", "LANG_OVERRIDE_CHINESE_TRAD",
	"LANG_OVERRIDE_KOREAN", "LANG_OVERRIDE_CHINESE_SIMP",
}

// Instruments is the schema of the instrument search service.
var Instruments = ServiceDef{
	Name: InstrumentsService,
	Requests: map[string]RequestDef{
		OpInstrumentList: {
			Operation: OpInstrumentList,
			Response:  MsgInstrumentListResponse,
			Fields: map[string]FieldDef{
				FieldQuery:      {Kind: KindString},
				FieldMaxResults: {Kind: KindInt},
				FieldYKFilter:   {Kind: KindEnum, Enum: yellowKeys},
				FieldLanguage:   {Kind: KindEnum, Enum: languages},
			},
			SecurityField:    "security",
			DescriptionField: ElemDescription,
		},
		OpCurveList: {
			Operation: OpCurveList,
			Response:  MsgCurveListResponse,
			Fields: map[string]FieldDef{
				FieldQuery:      {Kind: KindString},
				FieldMaxResults: {Kind: KindInt},
				"countryCode":   {Kind: KindString},
				"currencyCode":  {Kind: KindString},
				"type":          {Kind: KindString},
				"subtype":       {Kind: KindString},
				"curveid":       {Kind: KindString},
				"bbgid":         {Kind: KindString},
			},
			SecurityField:    "curve",
			DescriptionField: ElemDescription,
		},
		OpGovtList: {
			Operation: OpGovtList,
			Response:  MsgGovtListResponse,
			Fields: map[string]FieldDef{
				FieldQuery:      {Kind: KindString},
				FieldMaxResults: {Kind: KindInt},
				"partialMatch":  {Kind: KindBool},
				"ticker":        {Kind: KindString},
			},
			SecurityField:    "parseky",
			DescriptionField: "name",
		},
	},
}

var services = map[string]ServiceDef{
	InstrumentsService: Instruments,
	AuthService:        {Name: AuthService, Requests: map[string]RequestDef{}},
}

// LookupService returns the schema of a known service.
func LookupService(name string) (ServiceDef, bool) {
	svc, ok := services[name]
	return svc, ok
}

// LookupRequest returns the request definition for service/operation.
func LookupRequest(service, operation string) (RequestDef, error) {
	svc, ok := services[service]
	if !ok {
		return RequestDef{}, fmt.Errorf("service %q: %w", service, ErrNotFound)
	}
	def, ok := svc.Requests[operation]
	if !ok {
		return RequestDef{}, fmt.Errorf("request type %q: %w", operation, ErrNotFound)
	}
	return def, nil
}

// Request is a schema-checked request under construction.
type Request struct {
	service string
	def     RequestDef
	fields  map[string]any
}

// NewRequest creates an empty request for def on service.
func NewRequest(service string, def RequestDef) *Request {
	return &Request{service: service, def: def, fields: make(map[string]any, len(def.Fields))}
}

// Service returns the owning service name.
func (r *Request) Service() string { return r.service }

// Operation returns the request operation name.
func (r *Request) Operation() string { return r.def.Operation }

// Definition returns the request schema.
func (r *Request) Definition() RequestDef { return r.def }

// Set assigns a field, converting value to the schema type.
//
// Unknown fields fail with ErrNotFound and unconvertible values with ErrInvalidConversion.
func (r *Request) Set(name string, value any) error {
	field, ok := r.def.Fields[name]
	if !ok {
		return fmt.Errorf("field %q of %s: %w", name, r.def.Operation, ErrNotFound)
	}
	converted, err := convert(field, value)
	if err != nil {
		return fmt.Errorf("field %q value %v: %w", name, value, err)
	}
	r.fields[name] = converted
	return nil
}

// Get returns a previously set field value.
func (r *Request) Get(name string) (any, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Fields returns a copy of the assigned fields.
func (r *Request) Fields() map[string]any {
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

func convert(field FieldDef, value any) (any, error) {
	switch field.Kind {
	case KindString:
		switch v := value.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		}
	case KindInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n, nil
			}
		}
	case KindBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b, nil
			}
		}
	case KindEnum:
		if v, ok := value.(string); ok && slices.Contains(field.Enum, v) {
			return v, nil
		}
	}
	return nil, ErrInvalidConversion
}
