// Package config loads the environment-variable and YAML configuration
// shared by the runtime, sidecar, and gateway binaries.
//
// Called by: cmd/runtime, cmd/sidecar, cmd/gateway
// Calls: os.Getenv, gopkg.in/yaml.v3
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backoff describes a bounded exponential retry policy.
//
// Resolves the "exact retry shape" open question: base delay doubles
// (times Multiplier) up to MaxDelay, and the sidecar gives up
// reconnecting once MaxElapsed has passed since the first failure.
type Backoff struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

// DefaultBackoff is the reconnect policy LoadSidecarConfig applies when
// the YAML config leaves the reconnect block unset.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2,
		MaxElapsed: 30 * time.Second,
	}
}

// Delay returns the delay to use before attempt number n (0-indexed).
func (b Backoff) Delay(n int) time.Duration {
	d := b.BaseDelay
	for i := 0; i < n; i++ {
		d = time.Duration(float64(d) * b.Multiplier)
		if d >= b.MaxDelay {
			return b.MaxDelay
		}
	}
	if d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// RuntimeConfig holds the ASYA_* environment variables the runtime
// reads at startup.
type RuntimeConfig struct {
	Handler           string
	HandlerMode       string // "payload" or "envelope"
	SocketDir         string
	SocketName        string
	SocketChmod       os.FileMode
	ChunkSize         int
	EnableValidation  bool
	LogLevel          string
}

func LoadRuntimeConfig() (*RuntimeConfig, error) {
	handler := os.Getenv("ASYA_HANDLER")
	if handler == "" {
		return nil, fmt.Errorf("config: ASYA_HANDLER is required")
	}

	mode := getenvDefault("ASYA_HANDLER_MODE", "payload")
	if mode != "payload" && mode != "envelope" {
		return nil, fmt.Errorf("config: ASYA_HANDLER_MODE must be payload or envelope, got %q", mode)
	}

	chmodStr := getenvDefault("ASYA_SOCKET_CHMOD", "0666")
	chmod, err := strconv.ParseUint(chmodStr, 8, 32)
	if err != nil {
		return nil, fmt.Errorf("config: invalid ASYA_SOCKET_CHMOD %q: %w", chmodStr, err)
	}

	chunkSize, err := getenvIntDefault("ASYA_CHUNK_SIZE", 65536)
	if err != nil {
		return nil, err
	}

	enableValidation, err := getenvBoolDefault("ASYA_ENABLE_VALIDATION", true)
	if err != nil {
		return nil, err
	}

	return &RuntimeConfig{
		Handler:          handler,
		HandlerMode:      mode,
		SocketDir:        getenvDefault("ASYA_SOCKET_DIR", "/var/run/asya"),
		SocketName:       getenvDefault("ASYA_SOCKET_NAME", "asya-runtime.sock"),
		SocketChmod:      os.FileMode(chmod),
		ChunkSize:        chunkSize,
		EnableValidation: enableValidation,
		LogLevel:         getenvDefault("ASYA_LOG_LEVEL", "INFO"),
	}, nil
}

func (c *RuntimeConfig) SocketPath() string {
	return c.SocketDir + "/" + c.SocketName
}

func (c *RuntimeConfig) ReadyPath() string {
	return c.SocketDir + "/runtime-ready"
}

// SidecarConfig is loaded from a YAML file, mirroring the way the rest
// of the fleet reads its cell configuration.
type SidecarConfig struct {
	ActorName      string          `yaml:"actor_name"`
	SocketPath     string          `yaml:"socket_path"`
	HopTimeout     time.Duration   `yaml:"hop_timeout"`
	Reconnect      Backoff         `yaml:"reconnect"`
	Transport      TransportConfig `yaml:"transport"`
	GatewayURL     string          `yaml:"gateway_url"`

	// HappyEndActor and ErrorEndActor name the terminal actors an
	// exhausted or failed route is redirected to: end-of-route, an
	// empty handler response, or route.current overrunning len(actors)
	// all go to HappyEndActor; any classified hop error goes to
	// ErrorEndActor. Both default to the conventional names so a
	// deployment only needs to override them when its cell config
	// names the end actors something else.
	HappyEndActor string `yaml:"happy_end_actor"`
	ErrorEndActor string `yaml:"error_end_actor"`
}

type TransportConfig struct {
	Kind     string `yaml:"kind"` // "rabbitmq" or "sqs"
	RabbitMQ struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"rabbitmq"`
	SQS struct {
		QueueURL string `yaml:"queue_url"`
		Endpoint string `yaml:"endpoint"`
		Region   string `yaml:"region"`
	} `yaml:"sqs"`
}

func LoadSidecarConfig(path string) (*SidecarConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading sidecar config: %w", err)
	}
	var cfg SidecarConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing sidecar config: %w", err)
	}
	if cfg.ActorName == "" {
		return nil, fmt.Errorf("config: actor_name is required")
	}
	if cfg.HopTimeout == 0 {
		cfg.HopTimeout = 30 * time.Second
	}
	if cfg.Reconnect == (Backoff{}) {
		cfg.Reconnect = DefaultBackoff()
	}
	if cfg.HappyEndActor == "" {
		cfg.HappyEndActor = "happy-end"
	}
	if cfg.ErrorEndActor == "" {
		cfg.ErrorEndActor = "error-end"
	}
	return &cfg, nil
}

// GatewayConfig configures the envelope service's HTTP surface and
// object storage.
type GatewayConfig struct {
	ListenAddr  string          `yaml:"listen_addr"`
	Transport   TransportConfig `yaml:"transport"`
	ResultStore StorageConfig   `yaml:"result_store"`
	ErrorStore  StorageConfig   `yaml:"error_store"`
	ProgressTTL time.Duration   `yaml:"progress_ttl"`

	// ToolSchemas maps a tool name to the JSON Schema (as a literal
	// document, same as a cell config would inline it) its /tools/call
	// arguments must satisfy. Tools with no entry here are accepted
	// unvalidated.
	ToolSchemas map[string]string `yaml:"tool_schemas"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading gateway config: %w", err)
	}
	var cfg GatewayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing gateway config: %w", err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.ProgressTTL == 0 {
		cfg.ProgressTTL = 10 * time.Minute
	}
	return &cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getenvBoolDefault(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: invalid %s %q: %w", key, v, err)
	}
	return b, nil
}
