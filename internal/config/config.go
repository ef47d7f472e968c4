// Package config manages bridge configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// BackendKind selects the backend session implementation.
type BackendKind string

const (
	// BackendWebsocket dials a remote backend over websocket.
	BackendWebsocket BackendKind = "ws"
	// BackendFake serves queries from the in-process catalog.
	BackendFake BackendKind = "fake"
)

// Defaults applied when the file omits a value.
const (
	DefaultListenPort      = 13377
	DefaultBackendHost     = "localhost"
	DefaultBackendPort     = 8194
	DefaultAuthTimeout     = 10 * time.Second
	DefaultConnectTimeout  = 5 * time.Second
	DefaultStopTimeout     = 5 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxRequestBytes = 64 << 10
	DefaultMaxConnections  = 64
	DefaultDialAttempts    = 3
)

// ListenerConfig configures the client-facing TCP listener.
type ListenerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxConnections  int           `yaml:"maxConnections"`
	MaxRequestBytes int           `yaml:"maxRequestBytes"`
	AcceptRate      float64       `yaml:"acceptRate"`
	AcceptBurst     int           `yaml:"acceptBurst"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// Address returns the host:port the listener binds.
func (c ListenerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BackendConfig configures backend sessions.
type BackendConfig struct {
	Kind           BackendKind       `yaml:"kind"`
	Host           string            `yaml:"host"`
	Port           int               `yaml:"port"`
	TLS            bool              `yaml:"tls"`
	Path           string            `yaml:"path"`
	DialAttempts   int               `yaml:"dialAttempts"`
	AuthOptions    string            `yaml:"authOptions"`
	AuthTimeout    time.Duration     `yaml:"authTimeout"`
	ConnectTimeout time.Duration     `yaml:"connectTimeout"`
	StopTimeout    time.Duration     `yaml:"stopTimeout"`
	Filters        map[string]string `yaml:"filters"`
}

// FilterNames returns the configured default filter names in sorted order.
func (c BackendConfig) FilterNames() []string {
	names := make([]string, 0, len(c.Filters))
	for name := range c.Filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TelemetryConfig configures OTLP metric export.
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	OTLPEndpoint   string        `yaml:"otlpEndpoint"`
	OTLPInsecure   bool          `yaml:"otlpInsecure"`
	ServiceName    string        `yaml:"serviceName"`
	MetricInterval time.Duration `yaml:"metricInterval"`
}

// AppConfig is the bridge configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Listener    ListenerConfig  `yaml:"listener"`
	Backend     BackendConfig   `yaml:"backend"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// Default returns the configuration used when no file is supplied.
func Default() AppConfig {
	cfg := AppConfig{
		Environment: EnvDev,
		Listener: ListenerConfig{
			Host:            "",
			Port:            DefaultListenPort,
			MaxConnections:  DefaultMaxConnections,
			MaxRequestBytes: DefaultMaxRequestBytes,
			AcceptRate:      0,
			AcceptBurst:     0,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Backend: BackendConfig{
			Kind:           BackendWebsocket,
			Host:           DefaultBackendHost,
			Port:           DefaultBackendPort,
			TLS:            false,
			Path:           "",
			DialAttempts:   DefaultDialAttempts,
			AuthOptions:    "",
			AuthTimeout:    DefaultAuthTimeout,
			ConnectTimeout: DefaultConnectTimeout,
			StopTimeout:    DefaultStopTimeout,
			Filters:        nil,
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			OTLPEndpoint:   "",
			OTLPInsecure:   false,
			ServiceName:    "secsearch",
			MetricInterval: 30 * time.Second,
		},
	}
	_ = cfg.normalise()
	return cfg
}

// Load reads and validates an AppConfig from the YAML file at configPath.
// Keys absent from the file keep their defaults.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(bytes)
}

// Parse decodes and validates YAML configuration bytes.
func Parse(data []byte) (AppConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads configPath when set and returns Default otherwise.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, error) {
	if strings.TrimSpace(configPath) == "" {
		return Default(), nil
	}
	return Load(ctx, configPath)
}

func (c *AppConfig) normalise() error {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDev
	}

	c.Listener.Host = strings.TrimSpace(c.Listener.Host)
	if c.Listener.AcceptRate > 0 && c.Listener.AcceptBurst <= 0 {
		c.Listener.AcceptBurst = 1
	}

	c.Backend.Kind = BackendKind(strings.ToLower(strings.TrimSpace(string(c.Backend.Kind))))
	if c.Backend.Kind == "" {
		c.Backend.Kind = BackendWebsocket
	}
	c.Backend.Host = strings.TrimSpace(c.Backend.Host)
	c.Backend.Path = strings.TrimSpace(c.Backend.Path)
	c.Backend.AuthOptions = strings.TrimSpace(c.Backend.AuthOptions)
	if len(c.Backend.Filters) > 0 {
		filters := make(map[string]string, len(c.Backend.Filters))
		for name, value := range c.Backend.Filters {
			key := strings.TrimSpace(name)
			if key == "" {
				continue
			}
			if _, exists := filters[key]; exists {
				return fmt.Errorf("duplicate backend filter %q", key)
			}
			filters[key] = value
		}
		c.Backend.Filters = filters
	}

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if c.Listener.Port < 0 || c.Listener.Port > 65535 {
		return fmt.Errorf("listener port must be within 0-65535")
	}
	if c.Listener.MaxConnections <= 0 {
		return fmt.Errorf("listener maxConnections must be >0")
	}
	if c.Listener.MaxRequestBytes <= 0 {
		return fmt.Errorf("listener maxRequestBytes must be >0")
	}
	if c.Listener.AcceptRate < 0 {
		return fmt.Errorf("listener acceptRate must be >=0")
	}
	if c.Listener.ShutdownTimeout <= 0 {
		return fmt.Errorf("listener shutdownTimeout must be >0")
	}

	switch c.Backend.Kind {
	case BackendWebsocket, BackendFake:
	default:
		return fmt.Errorf("backend kind must be one of ws, fake")
	}
	if c.Backend.Host == "" {
		return fmt.Errorf("backend host required")
	}
	if c.Backend.Port <= 0 || c.Backend.Port > 65535 {
		return fmt.Errorf("backend port must be within 1-65535")
	}
	if c.Backend.DialAttempts <= 0 {
		return fmt.Errorf("backend dialAttempts must be >0")
	}
	if c.Backend.AuthTimeout <= 0 {
		return fmt.Errorf("backend authTimeout must be >0")
	}
	if c.Backend.ConnectTimeout <= 0 {
		return fmt.Errorf("backend connectTimeout must be >0")
	}
	if c.Backend.StopTimeout <= 0 {
		return fmt.Errorf("backend stopTimeout must be >0")
	}

	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry otlpEndpoint required when enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.MetricInterval <= 0 {
		return fmt.Errorf("telemetry metricInterval must be >0")
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
