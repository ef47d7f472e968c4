package bridge

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/secsearch/errs"
	"github.com/coachpo/secsearch/internal/protocol"
)

func TestResponseErrorByCode(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		text   string
		body   bool
		client bool
	}{
		{"unknown filter", errs.New("bridge", errs.CodeUnknownFilter, errs.WithMessage("Filter not found: colour")), "Filter not found: colour", true, true},
		{"session start", errs.New("bridge", errs.CodeSessionStart, errs.WithMessage("Failed to start session.")), protocol.UnknownError, true, false},
		{"service open", errs.New("bridge", errs.CodeServiceOpen), protocol.UnknownError, true, false},
		{"send failure", fmt.Errorf("execute: %w", errs.New("bridge", errs.CodeBackend)), protocol.UnknownError, true, false},
		{"token", errs.New("bridge", errs.CodeToken), "", false, false},
		{"authorization", errs.New("bridge", errs.CodeAuthorization), "", false, false},
		{"plain", errors.New("boom"), "", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text, ok := ResponseError(tc.err)
			require.Equal(t, tc.body, ok)
			require.Equal(t, tc.text, text)
			require.Equal(t, tc.client, ClientFault(tc.err))
		})
	}
}
