// Package protocol implements the line-less JSON request/response exchange spoken by search clients.
package protocol

import (
	"bufio"
	"errors"
	"io"
	"strconv"

	"github.com/coachpo/secsearch/errs"
)

const framerComponent = "protocol/framer"

// DefaultMaxFrameBytes bounds a single framed request.
const DefaultMaxFrameBytes = 64 << 10

// Framer extracts brace-balanced JSON objects from an unstructured byte stream.
//
// Bytes preceding the first '{' are discarded. Braces are counted without
// regard to JSON string literals, so a string value containing unbalanced
// braces desynchronises the frame; the subsequent parse then fails.
type Framer struct {
	r        *bufio.Reader
	maxBytes int
}

// NewFramer wraps r. maxBytes <= 0 disables the size guard.
func NewFramer(r io.Reader, maxBytes int) *Framer {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Framer{r: br, maxBytes: maxBytes}
}

// Next returns the next candidate JSON object.
//
// It fails with CodeIncompleteInput when the stream ends before an opening
// brace or before the nesting depth returns to zero, and with
// CodeOversizedRequest when the object grows past the configured limit.
func (f *Framer) Next() ([]byte, error) {
	if err := f.skipToOpenBrace(); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, '{')
	depth := 1
	for depth > 0 {
		c, err := f.r.ReadByte()
		if err != nil {
			return nil, incomplete(err, len(buf))
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
		}
		buf = append(buf, c)
		if f.maxBytes > 0 && len(buf) > f.maxBytes {
			return nil, errs.New(framerComponent, errs.CodeOversizedRequest,
				errs.WithMessage("request exceeds frame limit"),
				errs.WithField("limit", strconv.Itoa(f.maxBytes)))
		}
	}
	return buf, nil
}

func (f *Framer) skipToOpenBrace() error {
	for {
		c, err := f.r.ReadByte()
		if err != nil {
			return incomplete(err, 0)
		}
		if c == '{' {
			return nil
		}
	}
}

func incomplete(err error, buffered int) error {
	msg := "stream ended before a complete object"
	if buffered == 0 {
		msg = "stream ended before an opening brace"
	}
	if errors.Is(err, io.EOF) {
		return errs.New(framerComponent, errs.CodeIncompleteInput, errs.WithMessage(msg))
	}
	return errs.New(framerComponent, errs.CodeIncompleteInput, errs.WithMessage(msg), errs.WithCause(err))
}
