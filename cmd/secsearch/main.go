// Command secsearch bridges one-shot JSON search requests over TCP to the backend session API.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"

	"github.com/coachpo/secsearch/internal/backend"
	"github.com/coachpo/secsearch/internal/backend/fake"
	"github.com/coachpo/secsearch/internal/backend/wsapi"
	"github.com/coachpo/secsearch/internal/bridge"
	"github.com/coachpo/secsearch/internal/config"
	"github.com/coachpo/secsearch/internal/observability"
	"github.com/coachpo/secsearch/internal/server"
	"github.com/coachpo/secsearch/internal/telemetry"
)

const (
	loggerPrefix             = "secsearch "
	quitCommand              = "quit"
	lifecycleShutdownTimeout = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

type options struct {
	configPath  string
	listenPort  int
	backendHost string
	backendPort int
	backendKind string
	authOptions string
	debug       bool
}

func main() {
	logger := newLogger()
	if err := run(os.Args[1:], os.Stdin, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(args []string, console io.Reader, logger *log.Logger) error {
	opts, flagSet, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx, cancel := newSignalContext()
	defer cancel()

	appCfg, err := config.LoadOrDefault(ctx, opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(&appCfg, flagSet, opts)
	if err := appCfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	observability.SetLogger(observability.NewStdLogger(logger, opts.debug))
	logger.Printf("configuration initialised: env=%s, backend=%s(%s:%d), listen=%s",
		appCfg.Environment, appCfg.Backend.Kind, appCfg.Backend.Host, appCfg.Backend.Port, appCfg.Listener.Address())

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	srv, err := buildServer(appCfg, telemetryProvider)
	if err != nil {
		return err
	}

	var lifecycle conc.WaitGroup
	serveErr := make(chan error, 1)
	lifecycle.Go(func() {
		if err := srv.ListenAndServe(ctx, appCfg.Listener.Address()); err != nil {
			logger.Printf("listener: %v", err)
			serveErr <- err
			cancel()
		}
	})
	// Stdin may never reach EOF, so the console watcher is not joined on shutdown.
	go watchConsole(ctx, console, cancel, logger)

	logger.Printf("secsearch started; type %q or send SIGINT/SIGTERM to stop", quitCommand)
	<-ctx.Done()
	logger.Print("shutdown requested, initiating graceful shutdown")

	shutdownStart := time.Now()
	shutdownErr := performGracefulShutdown(logger, appCfg.Listener.ShutdownTimeout, srv, &lifecycle, telemetryProvider)
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))

	select {
	case err := <-serveErr:
		return err
	default:
		return shutdownErr
	}
}

func parseFlags(args []string) (options, *pflag.FlagSet, error) {
	defaults := config.Default()
	opts := options{}

	flagSet := pflag.NewFlagSet("secsearch", pflag.ContinueOnError)
	flagSet.ParseErrorsWhitelist.UnknownFlags = true
	flagSet.StringVar(&opts.configPath, "config", "", "path to YAML configuration file")
	flagSet.IntVarP(&opts.listenPort, "listen-port", "l", defaults.Listener.Port, "TCP port accepting client requests")
	flagSet.StringVarP(&opts.backendHost, "backend-host", "h", defaults.Backend.Host, "backend session API host")
	flagSet.IntVarP(&opts.backendPort, "backend-port", "p", defaults.Backend.Port, "backend session API port")
	flagSet.StringVar(&opts.backendKind, "backend", string(defaults.Backend.Kind), "backend implementation: ws or fake")
	flagSet.StringVar(&opts.authOptions, "auth-options", "", "authorization options passed to the backend; empty disables authorization")
	flagSet.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	if err := flagSet.Parse(args); err != nil {
		return options{}, nil, fmt.Errorf("parse flags: %w", err)
	}
	return opts, flagSet, nil
}

// applyFlagOverrides lets explicitly set flags win over the configuration file.
func applyFlagOverrides(cfg *config.AppConfig, flagSet *pflag.FlagSet, opts options) {
	if flagSet.Changed("listen-port") {
		cfg.Listener.Port = opts.listenPort
	}
	if flagSet.Changed("backend-host") {
		cfg.Backend.Host = strings.TrimSpace(opts.backendHost)
	}
	if flagSet.Changed("backend-port") {
		cfg.Backend.Port = opts.backendPort
	}
	if flagSet.Changed("backend") {
		cfg.Backend.Kind = config.BackendKind(strings.ToLower(strings.TrimSpace(opts.backendKind)))
	}
	if flagSet.Changed("auth-options") {
		cfg.Backend.AuthOptions = strings.TrimSpace(opts.authOptions)
	}
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func initTelemetry(ctx context.Context, logger *log.Logger, appCfg config.AppConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.Enabled = telemetryCfg.Enabled || appCfg.Telemetry.Enabled
	if appCfg.Telemetry.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = appCfg.Telemetry.OTLPEndpoint
	}
	if appCfg.Telemetry.ServiceName != "" {
		telemetryCfg.ServiceName = appCfg.Telemetry.ServiceName
	}
	if appCfg.Telemetry.MetricInterval > 0 {
		telemetryCfg.MetricInterval = appCfg.Telemetry.MetricInterval
	}
	telemetryCfg.OTLPInsecure = telemetryCfg.OTLPInsecure || appCfg.Telemetry.OTLPInsecure
	telemetryCfg.Environment = string(appCfg.Environment)

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

func newDialer(cfg config.BackendConfig) backend.Dialer {
	if cfg.Kind == config.BackendFake {
		return fake.New()
	}
	opts := []wsapi.Option{
		wsapi.WithPath(cfg.Path),
		wsapi.WithDialRetry(uint(cfg.DialAttempts), 0),
	}
	if cfg.TLS {
		opts = append(opts, wsapi.WithTLS())
	}
	return wsapi.NewDialer(opts...)
}

func buildServer(appCfg config.AppConfig, provider *telemetry.Provider) (*server.Server, error) {
	adapter, err := bridge.NewAdapter(newDialer(appCfg.Backend), bridge.Config{
		Session: backend.Options{
			Host:           appCfg.Backend.Host,
			Port:           appCfg.Backend.Port,
			AuthOptions:    appCfg.Backend.AuthOptions,
			ConnectTimeout: appCfg.Backend.ConnectTimeout,
		},
		Service:        backend.InstrumentsService,
		AuthTimeout:    appCfg.Backend.AuthTimeout,
		StopTimeout:    appCfg.Backend.StopTimeout,
		DefaultFilters: appCfg.Backend.Filters,
	})
	if err != nil {
		return nil, fmt.Errorf("build adapter: %w", err)
	}

	metrics := telemetry.NewBridgeMetrics(provider.Meter("secsearch/server"), provider.Environment(), string(appCfg.Backend.Kind))
	sup, err := server.NewSupervisor(adapter,
		server.WithMaxRequestBytes(appCfg.Listener.MaxRequestBytes),
		server.WithMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("build supervisor: %w", err)
	}

	srv, err := server.New(sup, server.Options{
		MaxConnections: appCfg.Listener.MaxConnections,
		AcceptRate:     appCfg.Listener.AcceptRate,
		AcceptBurst:    appCfg.Listener.AcceptBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("build server: %w", err)
	}
	return srv, nil
}

// watchConsole cancels the run when a quit line is read from console.
func watchConsole(ctx context.Context, console io.Reader, cancel context.CancelFunc, logger *log.Logger) {
	if console == nil {
		return
	}
	scanner := bufio.NewScanner(console)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(line, quitCommand) {
			logger.Print("quit command received")
			cancel()
			return
		}
		if line != "" {
			logger.Printf("unknown console command %q; type %q to stop", line, quitCommand)
		}
	}
}

func performGracefulShutdown(logger *log.Logger, timeout time.Duration, srv *server.Server, lifecycle *conc.WaitGroup, provider *telemetry.Provider) error {
	var failures []error
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	shutdownStep("draining in-flight connections", timeout, func(stepCtx context.Context) error {
		return srv.Shutdown(stepCtx)
	})

	shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
		done := make(chan struct{})
		go func() {
			lifecycle.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stepCtx.Done():
			return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
		}
	})

	shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
		return provider.Shutdown(stepCtx)
	})

	return observability.AggregateErrors("shutdown", failures)
}
