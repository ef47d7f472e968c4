package observability

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	debugs int
	infos  int
	errors int
	last   []Field
}

func (r *recordingLogger) Debug(string, ...Field) { r.debugs++ }
func (r *recordingLogger) Info(string, ...Field)  { r.infos++ }
func (r *recordingLogger) Error(_ string, fields ...Field) {
	r.errors++
	r.last = fields
}

func TestSetLoggerOverridesGlobal(t *testing.T) {
	recorder := new(recordingLogger)
	SetLogger(recorder)
	defer SetLogger(nil)

	Log().Debug("test")
	require.Equal(t, 1, recorder.debugs)

	SetLogger(nil)
	Log().Info("noop")
	require.Equal(t, 0, recorder.infos)
}

func TestStdLoggerFormatsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger(log.New(&buf, "", 0), false)

	logger.Info("request complete", Field{Key: "conn_id", Value: "abc"}, Field{Key: "results", Value: 2})
	logger.Debug("suppressed")
	logger.Error("failed", Field{Key: "err", Value: errors.New("boom now")})

	out := buf.String()
	require.Contains(t, out, "INFO request complete conn_id=abc results=2")
	require.Contains(t, out, `ERROR failed err="boom now"`)
	require.NotContains(t, out, "suppressed")
}

func TestFormatEntryQuotesAwkwardStrings(t *testing.T) {
	line := FormatEntry("INFO", "msg", Field{Key: "q", Value: "a b"}, Field{Key: "", Value: "skip"}, Field{Key: "e", Value: ""})
	require.Equal(t, `INFO msg q="a b" e=""`, line)
}

func TestAggregateErrorsSkipsNil(t *testing.T) {
	recorder := new(recordingLogger)
	SetLogger(recorder)
	defer SetLogger(nil)

	require.NoError(t, AggregateErrors("shutdown", []error{nil, nil}))
	require.Equal(t, 0, recorder.errors)

	err := AggregateErrors("shutdown", []error{errors.New("a"), nil, errors.New("b")})
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "shutdown failed:"))
	require.Equal(t, 1, recorder.errors)
}
