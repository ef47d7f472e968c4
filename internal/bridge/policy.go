package bridge

import (
	"errors"

	"github.com/coachpo/secsearch/errs"
	"github.com/coachpo/secsearch/internal/protocol"
)

// ResponseError returns the error text written to the client for a failed
// exchange. Token and authorization failures, and errors carrying no code,
// yield ok=false; the connection is then closed without a body.
func ResponseError(err error) (description string, ok bool) {
	var e *errs.E
	if !errors.As(err, &e) {
		return "", false
	}
	switch e.Code {
	case errs.CodeRequestType, errs.CodeUnknownFilter, errs.CodeInvalidFilterValue:
		return e.Description(), true
	case errs.CodeSessionStart, errs.CodeServiceOpen, errs.CodeBackend:
		return protocol.UnknownError, true
	default:
		return "", false
	}
}

// ClientFault reports whether err was caused by the request contents.
func ClientFault(err error) bool {
	code, _ := errs.CodeOf(err)
	switch code {
	case errs.CodeRequestType, errs.CodeUnknownFilter, errs.CodeInvalidFilterValue:
		return true
	default:
		return false
	}
}
