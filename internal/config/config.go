package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
	TransportTCP       = "tcp"
	TransportKafka     = "kafka"
)

type Config struct {
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	LogFormat   string            `json:"log_format" yaml:"log_format"`
	Gateway     GatewayConfig     `json:"gateway" yaml:"gateway"`
	Stream      StreamConfig      `json:"stream" yaml:"stream"`
	Alerts      AlertsConfig      `json:"alerts" yaml:"alerts"`
	Session     SessionConfig     `json:"session" yaml:"session"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Server      ServerConfig      `json:"server" yaml:"server"`
	Telemetry   TelemetryConfig   `json:"telemetry" yaml:"telemetry"`
	Credentials CredentialsConfig `json:"credentials" yaml:"credentials"`
}

type GatewayConfig struct {
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	LoginPath string        `json:"login_path" yaml:"login_path"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

type StreamConfig struct {
	Transport      string        `json:"transport" yaml:"transport"`
	URL            string        `json:"url" yaml:"url"`
	ReconnectDelay time.Duration `json:"reconnect_delay" yaml:"reconnect_delay"`
	FeedLimit      int           `json:"feed_limit" yaml:"feed_limit"`
	Kafka          KafkaConfig   `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type AlertsConfig struct {
	DisplayDuration time.Duration `json:"display_duration" yaml:"display_duration"`
}

type SessionConfig struct {
	LoginRoute    string `json:"login_route" yaml:"login_route"`
	CredentialKey string `json:"credential_key" yaml:"credential_key"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type ServerConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	Insecure     bool   `json:"insecure" yaml:"insecure"`
	ServiceName  string `json:"service_name" yaml:"service_name"`
}

type CredentialsConfig struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"-" yaml:"password"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Gateway: GatewayConfig{
			BaseURL:   "http://localhost:8080/api",
			LoginPath: "/auth/login",
			Timeout:   30 * time.Second,
		},
		Stream: StreamConfig{
			Transport: TransportSSE,
			URL:       "http://localhost:8080/api/transactions/realtime",
		},
		Alerts:    AlertsConfig{DisplayDuration: 6000 * time.Millisecond},
		Session:   SessionConfig{LoginRoute: "/login", CredentialKey: "token"},
		Storage:   StorageConfig{Driver: "file", DSN: defaultTokenDir()},
		Server:    ServerConfig{Enabled: true, Addr: "127.0.0.1:8090"},
		Telemetry: TelemetryConfig{ServiceName: "amlwatch"},
	}
}

func defaultTokenDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".amlwatch"
	}
	return filepath.Join(dir, "amlwatch")
}

// Load reads the config file at path (YAML or JSON), then applies the
// environment overlay. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(string(content))
		if len(trimmed) == 0 {
			return nil, errors.New("config file is empty")
		}
		var decodeErr error
		if looksLikeJSON(trimmed) {
			decodeErr = json.Unmarshal([]byte(trimmed), cfg)
		} else {
			decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
		}
		if decodeErr != nil {
			return nil, decodeErr
		}
	}
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = getEnv("AMLWATCH_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("AMLWATCH_LOG_FORMAT", cfg.LogFormat)
	cfg.Gateway.BaseURL = getEnv("AMLWATCH_API_BASE_URL", cfg.Gateway.BaseURL)
	cfg.Stream.Transport = getEnv("AMLWATCH_STREAM_TRANSPORT", cfg.Stream.Transport)
	cfg.Stream.URL = getEnv("AMLWATCH_STREAM_URL", cfg.Stream.URL)
	cfg.Storage.Driver = getEnv("AMLWATCH_STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.DSN = getEnv("AMLWATCH_STORAGE_DSN", cfg.Storage.DSN)
	cfg.Server.Addr = getEnv("AMLWATCH_SERVER_ADDR", cfg.Server.Addr)
	cfg.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	if os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true" {
		cfg.Telemetry.Insecure = true
	}
	cfg.Credentials.Username = getEnv("AMLWATCH_USERNAME", cfg.Credentials.Username)
	cfg.Credentials.Password = getEnv("AMLWATCH_PASSWORD", cfg.Credentials.Password)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func applyDefaults(cfg *Config) {
	if cfg.Gateway.LoginPath == "" {
		cfg.Gateway.LoginPath = "/auth/login"
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = 30 * time.Second
	}
	if cfg.Stream.Transport == "" {
		cfg.Stream.Transport = TransportSSE
	}
	cfg.Stream.Transport = strings.ToLower(cfg.Stream.Transport)
	if cfg.Alerts.DisplayDuration <= 0 {
		cfg.Alerts.DisplayDuration = 6000 * time.Millisecond
	}
	if cfg.Session.LoginRoute == "" {
		cfg.Session.LoginRoute = "/login"
	}
	if cfg.Session.CredentialKey == "" {
		cfg.Session.CredentialKey = "token"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "file"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "amlwatch"
	}
}

func Validate(cfg *Config) error {
	if _, err := url.ParseRequestURI(cfg.Gateway.BaseURL); err != nil {
		return fmt.Errorf("gateway.base_url is invalid: %w", err)
	}
	switch cfg.Stream.Transport {
	case TransportSSE, TransportWebSocket, TransportTCP:
		if cfg.Stream.URL == "" {
			return fmt.Errorf("stream.url required for %s transport", cfg.Stream.Transport)
		}
	case TransportKafka:
		k := cfg.Stream.Kafka
		if len(k.Brokers) == 0 || k.Topic == "" || k.GroupID == "" {
			return errors.New("stream.kafka requires brokers, topic, group_id")
		}
	default:
		return fmt.Errorf("stream.transport %q is not supported", cfg.Stream.Transport)
	}
	if cfg.Stream.ReconnectDelay < 0 {
		return errors.New("stream.reconnect_delay must be >= 0")
	}
	if cfg.Stream.FeedLimit < 0 {
		return errors.New("stream.feed_limit must be >= 0")
	}
	if cfg.Server.Enabled && cfg.Server.Addr == "" {
		return errors.New("server.addr required when server.enabled is true")
	}
	if (cfg.Credentials.Username == "") != (cfg.Credentials.Password == "") {
		return errors.New("credentials.username and credentials.password must be set together")
	}
	return nil
}

type Manager struct {
	path string
	cfg  atomic.Pointer[Config]

	mu       sync.Mutex
	onChange []func(*Config)
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	return m, nil
}

func (m *Manager) Get() *Config {
	if cfg := m.cfg.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.mu.Lock()
	callbacks := make([]func(*Config), len(m.onChange))
	copy(callbacks, m.onChange)
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

// Watch reloads the config whenever the file is written. Reload errors keep
// the previous config and are passed to onError. The returned function stops
// the watcher.
func (m *Manager) Watch(onError func(error)) (stop func(), err error) {
	if m.path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(m.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", m.path, err)
	}
	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if _, err := m.Reload(); err != nil && onError != nil {
					onError(err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
