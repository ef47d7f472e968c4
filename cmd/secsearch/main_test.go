package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/secsearch/internal/backend/fake"
	"github.com/coachpo/secsearch/internal/backend/wsapi"
	"github.com/coachpo/secsearch/internal/config"
)

func TestParseFlagsPairedForms(t *testing.T) {
	opts, flagSet, err := parseFlags([]string{"-l", "14000", "--backend-host", "bbg.internal", "-p", "8195", "--unknown-flag"})
	require.NoError(t, err)
	require.Equal(t, 14000, opts.listenPort)
	require.Equal(t, "bbg.internal", opts.backendHost)
	require.Equal(t, 8195, opts.backendPort)

	cfg := config.Default()
	applyFlagOverrides(&cfg, flagSet, opts)
	require.Equal(t, 14000, cfg.Listener.Port)
	require.Equal(t, "bbg.internal", cfg.Backend.Host)
	require.Equal(t, 8195, cfg.Backend.Port)
	require.Equal(t, config.BackendWebsocket, cfg.Backend.Kind)
}

func TestParseFlagsMalformedNumberFails(t *testing.T) {
	_, _, err := parseFlags([]string{"--listen-port", "abc"})
	require.Error(t, err)
	_, _, err = parseFlags([]string{"-p", "8194x"})
	require.Error(t, err)
}

func TestUnsetFlagsKeepFileValues(t *testing.T) {
	cfg, err := config.Parse([]byte("listener:\n  port: 15000\nbackend:\n  host: file-host\n"))
	require.NoError(t, err)
	opts, flagSet, err := parseFlags([]string{"--backend", "FAKE", "--auth-options", "AuthenticationType=OS_LOGON"})
	require.NoError(t, err)

	applyFlagOverrides(&cfg, flagSet, opts)
	require.Equal(t, 15000, cfg.Listener.Port)
	require.Equal(t, "file-host", cfg.Backend.Host)
	require.Equal(t, config.BackendFake, cfg.Backend.Kind)
	require.Equal(t, "AuthenticationType=OS_LOGON", cfg.Backend.AuthOptions)
}

func TestNewDialerSelectsBackend(t *testing.T) {
	cfg := config.Default()
	_, isWS := newDialer(cfg.Backend).(*wsapi.Dialer)
	require.True(t, isWS)

	cfg.Backend.Kind = config.BackendFake
	_, isFake := newDialer(cfg.Backend).(*fake.Backend)
	require.True(t, isFake)
}

func TestWatchConsoleCancelsOnQuit(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := log.New(buf, "", 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchConsole(ctx, strings.NewReader("status\n  QUIT \n"), cancel, logger)
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	require.Contains(t, buf.String(), `unknown console command "status"`)
	require.Contains(t, buf.String(), "quit command received")
}

func TestWatchConsoleReturnsOnEOF(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchConsole(ctx, strings.NewReader(""), cancel, log.New(io.Discard, "", 0))
	require.NoError(t, ctx.Err())
}

func TestRunRejectsInvalidBackendKind(t *testing.T) {
	err := run([]string{"--backend", "grpc"}, strings.NewReader(""), log.New(io.Discard, "", 0))
	require.ErrorContains(t, err, "backend kind")
}

func TestRunServesUntilQuit(t *testing.T) {
	console, feed := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- run([]string{"--backend", "fake", "-l", "0"}, console, log.New(io.Discard, "", 0))
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := feed.Write([]byte("quit\n"))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after quit")
	}
}

func TestRunHelp(t *testing.T) {
	require.NoError(t, run([]string{"--help"}, strings.NewReader(""), log.New(io.Discard, "", 0)))
}
