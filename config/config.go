// Package config loads gateway settings with precedence: defaults → YAML → env.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment the gateway operates in.
type Environment string

const (
	// EnvDevelopment marks development deployments; dispatch anomalies fail loudly.
	EnvDevelopment Environment = "development"
	// EnvProduction marks production deployments; dispatch anomalies are logged.
	EnvProduction Environment = "production"
)

// Server selects which venue deployment the gateway connects to.
type Server string

const (
	// ServerReal targets the production venue.
	ServerReal Server = "REAL"
	// ServerTestnet targets the venue's public testnet.
	ServerTestnet Server = "TESTNET"
)

// Credentials captures the API key pair used for signing both channels.
type Credentials struct {
	APIKey    string `yaml:"key"`
	APISecret string `yaml:"secret"`
}

// GatewayConfig aggregates venue connectivity settings.
type GatewayConfig struct {
	Credentials Credentials   `yaml:"credentials"`
	Server      Server        `yaml:"server"`
	RestURL     string        `yaml:"restUrl"`   // optional override
	StreamURL   string        `yaml:"streamUrl"` // optional override
	Sessions    int           `yaml:"sessions"`
	RateLimit   int           `yaml:"rateLimit"`
	ProxyHost   string        `yaml:"proxyHost"`
	ProxyPort   int           `yaml:"proxyPort"`
	HTTPTimeout time.Duration `yaml:"-"`
	Symbols     []string      `yaml:"symbols"`
}

// ProxyURL renders the configured proxy as a URL string, empty when unset.
func (g GatewayConfig) ProxyURL() string {
	host := strings.TrimSpace(g.ProxyHost)
	if host == "" || g.ProxyPort <= 0 {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", host, g.ProxyPort)
}

// RiskConfig bounds what the pre-trade gate lets through.
type RiskConfig struct {
	Enabled          bool   `yaml:"enabled"`
	MaxOrderQuantity string `yaml:"maxOrderQuantity"`
	OrdersPerSecond  int    `yaml:"ordersPerSecond"`
	Burst            int    `yaml:"burst"`
}

// EventbusConfig sets event bus buffer sizing and worker fanout.
type EventbusConfig struct {
	BufferSize    int `yaml:"bufferSize"`
	FanoutWorkers int `yaml:"fanoutWorkers"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// LoggingConfig configures the structured logging backend.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"filePath"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// Settings is the unified gateway configuration combining all concerns.
type Settings struct {
	Environment Environment
	Gateway     GatewayConfig
	Risk        RiskConfig
	Eventbus    EventbusConfig
	Telemetry   TelemetryConfig
	Logging     LoggingConfig
}

type settingsYAML struct {
	Environment string          `yaml:"environment"`
	Gateway     gatewayYAML     `yaml:"gateway"`
	Risk        RiskConfig      `yaml:"risk"`
	Eventbus    EventbusConfig  `yaml:"eventbus"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Logging     LoggingConfig   `yaml:"logging"`
}

type gatewayYAML struct {
	Credentials Credentials `yaml:"credentials"`
	Server      string      `yaml:"server"`
	RestURL     string      `yaml:"restUrl"`
	StreamURL   string      `yaml:"streamUrl"`
	Sessions    int         `yaml:"sessions"`
	RateLimit   int         `yaml:"rateLimit"`
	ProxyHost   string      `yaml:"proxyHost"`
	ProxyPort   int         `yaml:"proxyPort"`
	HTTPTimeout string      `yaml:"httpTimeout"`
	Symbols     []string    `yaml:"symbols"`
}

// Load builds Settings with precedence: defaults → YAML → env vars.
func Load(configPath string) (Settings, error) {
	cfg := defaultSettings()

	if err := cfg.loadYAML(configPath); err != nil && !isConfigNotFound(err) {
		return Settings{}, fmt.Errorf("load yaml config: %w", err)
	}

	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return Settings{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func isConfigNotFound(err error) bool {
	return err != nil && os.IsNotExist(err)
}

func defaultSettings() Settings {
	return Settings{
		Environment: EnvProduction,
		Gateway: GatewayConfig{
			Credentials: Credentials{APIKey: "", APISecret: ""},
			Server:      ServerReal,
			Sessions:    3,
			RateLimit:   60,
			HTTPTimeout: 10 * time.Second,
			Symbols:     nil,
		},
		Risk: RiskConfig{
			Enabled:          false,
			MaxOrderQuantity: "",
			OrdersPerSecond:  0,
			Burst:            0,
		},
		Eventbus: EventbusConfig{
			BufferSize:    1024,
			FanoutWorkers: 8,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "http://localhost:4318",
			ServiceName:   "bitmex-gateway",
			OTLPInsecure:  false,
			EnableMetrics: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func (s *Settings) loadYAML(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("BITMEXGW_CONFIG"))
	}
	if path == "" {
		path = "config/gateway.yaml"
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var yamlCfg settingsYAML
	if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	if yamlCfg.Environment != "" {
		s.Environment = Environment(strings.ToLower(strings.TrimSpace(yamlCfg.Environment)))
	}

	gw := yamlCfg.Gateway
	if gw.Credentials.APIKey != "" {
		s.Gateway.Credentials.APIKey = gw.Credentials.APIKey
	}
	if gw.Credentials.APISecret != "" {
		s.Gateway.Credentials.APISecret = gw.Credentials.APISecret
	}
	if gw.Server != "" {
		s.Gateway.Server = Server(strings.ToUpper(strings.TrimSpace(gw.Server)))
	}
	if gw.RestURL != "" {
		s.Gateway.RestURL = gw.RestURL
	}
	if gw.StreamURL != "" {
		s.Gateway.StreamURL = gw.StreamURL
	}
	if gw.Sessions > 0 {
		s.Gateway.Sessions = gw.Sessions
	}
	if gw.RateLimit > 0 {
		s.Gateway.RateLimit = gw.RateLimit
	}
	if gw.ProxyHost != "" {
		s.Gateway.ProxyHost = gw.ProxyHost
	}
	if gw.ProxyPort > 0 {
		s.Gateway.ProxyPort = gw.ProxyPort
	}
	if gw.HTTPTimeout != "" {
		if dur, err := time.ParseDuration(gw.HTTPTimeout); err == nil {
			s.Gateway.HTTPTimeout = dur
		}
	}
	if len(gw.Symbols) > 0 {
		s.Gateway.Symbols = normalizeSymbols(gw.Symbols)
	}

	if yamlCfg.Risk.Enabled || yamlCfg.Risk.MaxOrderQuantity != "" || yamlCfg.Risk.OrdersPerSecond > 0 {
		s.Risk = yamlCfg.Risk
	}
	if yamlCfg.Eventbus.BufferSize > 0 {
		s.Eventbus.BufferSize = yamlCfg.Eventbus.BufferSize
	}
	if yamlCfg.Eventbus.FanoutWorkers > 0 {
		s.Eventbus.FanoutWorkers = yamlCfg.Eventbus.FanoutWorkers
	}
	if yamlCfg.Telemetry.ServiceName != "" || yamlCfg.Telemetry.OTLPEndpoint != "" {
		merged := s.Telemetry
		if yamlCfg.Telemetry.OTLPEndpoint != "" {
			merged.OTLPEndpoint = yamlCfg.Telemetry.OTLPEndpoint
		}
		if yamlCfg.Telemetry.ServiceName != "" {
			merged.ServiceName = yamlCfg.Telemetry.ServiceName
		}
		merged.OTLPInsecure = yamlCfg.Telemetry.OTLPInsecure
		merged.EnableMetrics = yamlCfg.Telemetry.EnableMetrics
		s.Telemetry = merged
	}
	if yamlCfg.Logging.Level != "" || yamlCfg.Logging.Output != "" {
		merged := s.Logging
		if yamlCfg.Logging.Level != "" {
			merged.Level = yamlCfg.Logging.Level
		}
		if yamlCfg.Logging.Format != "" {
			merged.Format = yamlCfg.Logging.Format
		}
		if yamlCfg.Logging.Output != "" {
			merged.Output = yamlCfg.Logging.Output
		}
		if yamlCfg.Logging.FilePath != "" {
			merged.FilePath = yamlCfg.Logging.FilePath
		}
		if yamlCfg.Logging.MaxSizeMB > 0 {
			merged.MaxSizeMB = yamlCfg.Logging.MaxSizeMB
		}
		if yamlCfg.Logging.MaxBackups > 0 {
			merged.MaxBackups = yamlCfg.Logging.MaxBackups
		}
		if yamlCfg.Logging.MaxAgeDays > 0 {
			merged.MaxAgeDays = yamlCfg.Logging.MaxAgeDays
		}
		merged.Compress = yamlCfg.Logging.Compress
		s.Logging = merged
	}

	return nil
}

func (s *Settings) loadEnv() {
	if v := strings.TrimSpace(os.Getenv("BITMEXGW_ENV")); v != "" {
		s.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("BITMEXGW_API_KEY")); v != "" {
		s.Gateway.Credentials.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("BITMEXGW_API_SECRET")); v != "" {
		s.Gateway.Credentials.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("BITMEXGW_SERVER")); v != "" {
		s.Gateway.Server = Server(strings.ToUpper(v))
	}
	if v := strings.TrimSpace(os.Getenv("BITMEXGW_SESSIONS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.Gateway.Sessions = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("BITMEXGW_PROXY_HOST")); v != "" {
		s.Gateway.ProxyHost = v
	}
	if v := strings.TrimSpace(os.Getenv("BITMEXGW_PROXY_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.Gateway.ProxyPort = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("BITMEXGW_SYMBOLS")); v != "" {
		s.Gateway.Symbols = normalizeSymbols(strings.Split(v, ","))
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		s.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); v != "" {
		s.Telemetry.ServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("BITMEXGW_LOG_LEVEL")); v != "" {
		s.Logging.Level = v
	}
}

// Validate checks the assembled configuration for contradictions.
func (s *Settings) Validate() error {
	switch s.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("unknown environment %q", s.Environment)
	}
	switch s.Gateway.Server {
	case ServerReal, ServerTestnet:
	default:
		return fmt.Errorf("unknown server %q (want REAL or TESTNET)", s.Gateway.Server)
	}
	if s.Gateway.Sessions <= 0 {
		return fmt.Errorf("sessions must be positive, got %d", s.Gateway.Sessions)
	}
	if s.Gateway.RateLimit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", s.Gateway.RateLimit)
	}
	if s.Gateway.ProxyHost != "" && s.Gateway.ProxyPort <= 0 {
		return fmt.Errorf("proxy host set without a port")
	}
	if s.Eventbus.BufferSize <= 0 || s.Eventbus.FanoutWorkers <= 0 {
		return fmt.Errorf("eventbus buffer and workers must be positive")
	}
	if s.Risk.Enabled && s.Risk.MaxOrderQuantity == "" && s.Risk.OrdersPerSecond <= 0 {
		return fmt.Errorf("risk enabled without any limit configured")
	}
	return nil
}

// RequireCredentials errors unless both API key and secret are present.
func (s *Settings) RequireCredentials() error {
	if strings.TrimSpace(s.Gateway.Credentials.APIKey) == "" ||
		strings.TrimSpace(s.Gateway.Credentials.APISecret) == "" {
		return fmt.Errorf("venue credentials missing: set BITMEXGW_API_KEY and BITMEXGW_API_SECRET")
	}
	return nil
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	for _, sym := range in {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			out = append(out, sym)
		}
	}
	return out
}
