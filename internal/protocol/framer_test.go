package protocol

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/secsearch/errs"
)

func TestFramerSkipsLeadingAndTrailingGarbage(t *testing.T) {
	f := NewFramer(strings.NewReader(`garbage{"request":{}}moregarbage`), 0)

	frame, err := f.Next()
	require.NoError(t, err)
	require.Equal(t, `{"request":{}}`, string(frame))
}

func TestFramerExtractsNestedObjects(t *testing.T) {
	inputs := map[string]string{
		"flat":     `{"a":1}`,
		"nested":   `{"request":{"query_string":"IBM","max_results":2}}`,
		"deep":     `{"a":{"b":{"c":{}}}}`,
		"trailing": `{"a":{"b":1}}}}}{"next":1}`,
	}
	want := map[string]string{
		"flat":     `{"a":1}`,
		"nested":   `{"request":{"query_string":"IBM","max_results":2}}`,
		"deep":     `{"a":{"b":{"c":{}}}}`,
		"trailing": `{"a":{"b":1}}`,
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			frame, err := NewFramer(strings.NewReader(input), 0).Next()
			require.NoError(t, err)
			require.Equal(t, want[name], string(frame))
		})
	}
}

func TestFramerIncompleteInput(t *testing.T) {
	for _, input := range []string{"", "no braces at all", `{"request":{"a":1}`, "{"} {
		_, err := NewFramer(strings.NewReader(input), 0).Next()
		require.Error(t, err, "input %q", input)
		require.True(t, errs.IsCode(err, errs.CodeIncompleteInput), "input %q: %v", input, err)
	}
}

func TestFramerReadErrorIsIncomplete(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := NewFramer(iotest.TimeoutReader(strings.NewReader(`{"request":`)), 0).Next()
	require.True(t, errs.IsCode(err, errs.CodeIncompleteInput))
	require.ErrorIs(t, err, iotest.ErrTimeout)

	_, err = NewFramer(iotest.ErrReader(boom), 0).Next()
	require.True(t, errs.IsCode(err, errs.CodeIncompleteInput))
	require.ErrorIs(t, err, boom)
}

func TestFramerOneByteReads(t *testing.T) {
	frame, err := NewFramer(iotest.OneByteReader(strings.NewReader(`xx{"a":{"b":2}}`)), 0).Next()
	require.NoError(t, err)
	require.Equal(t, `{"a":{"b":2}}`, string(frame))
}

func TestFramerOversized(t *testing.T) {
	input := `{"request":{"query_string":"` + strings.Repeat("x", 100) + `"}}`
	_, err := NewFramer(strings.NewReader(input), 32).Next()
	require.True(t, errs.IsCode(err, errs.CodeOversizedRequest), "got %v", err)

	frame, err := NewFramer(strings.NewReader(input), len(input)).Next()
	require.NoError(t, err)
	require.Equal(t, input, string(frame))
}
