package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultConfigPath is the default path to the config file
	DefaultConfigPath = "~/.orbit/config.yaml"

	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "ORBIT_"
)

// Config holds all configuration for the orbit node
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Engine   EngineConfig   `koanf:"engine"`
	Pool     PoolConfig     `koanf:"pool"`
	Governor GovernorConfig `koanf:"governor"`
	Feed     FeedConfig     `koanf:"feed"`
}

// ServerConfig holds the HTTP front configuration
type ServerConfig struct {
	// HTTP address to listen on
	HTTPAddr string `koanf:"http_addr" validate:"required"`

	// Directory holding deployment bundles for the local resolver
	DeploymentsDir string `koanf:"deployments_dir"`

	// Directory for the badger bundle cache
	CacheDir string `koanf:"cache_dir"`
}

// EngineConfig holds dispatch configuration
type EngineConfig struct {
	// Default invocation timeout when the deployment declares none
	DefaultTimeout time.Duration `koanf:"default_timeout" validate:"gt=0"`

	// Capacity of the per-deployment console log store
	LogStoreCapacity int `koanf:"log_store_capacity" validate:"gt=0"`

	// Buffer size of the async observability sink
	SinkBuffer int `koanf:"sink_buffer"`
}

// PoolConfig holds context pool lifecycle configuration
type PoolConfig struct {
	// How long a context may sit idle before the sweeper destroys it
	IdleTTL time.Duration `koanf:"idle_ttl" validate:"gt=0"`

	// How often the idle sweeper runs
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0"`

	// How long an invalidated context may drain before being interrupted
	DrainGrace time.Duration `koanf:"drain_grace"`
}

// GovernorConfig holds admission control ceilings
type GovernorConfig struct {
	// Maximum in-flight invocations across the node
	MaxConcurrent int `koanf:"max_concurrent" validate:"gt=0"`

	// Maximum in-flight invocations per deployment identity
	MaxPerDeployment int `koanf:"max_per_deployment" validate:"gt=0"`

	// How many requests may queue before rejection; zero rejects immediately
	MaxQueueDepth int `koanf:"max_queue_depth" validate:"gte=0"`

	// How long a queued request may wait before rejection
	QueueWait time.Duration `koanf:"queue_wait"`
}

// FeedConfig holds change feed configuration
type FeedConfig struct {
	// Enabled turns the invalidation listener on
	Enabled bool `koanf:"enabled"`

	// Redis address of the change feed
	RedisAddr string `koanf:"redis_addr"`

	// Redis password, if any
	RedisPassword string `koanf:"redis_password"`

	// Redis database number
	RedisDB int `koanf:"redis_db"`

	// Pub/sub channel carrying change events
	Channel string `koanf:"channel"`

	// Delay before the first reconnect attempt
	InitialBackoff time.Duration `koanf:"initial_backoff"`

	// Cap on the reconnect delay
	MaxBackoff time.Duration `koanf:"max_backoff"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return &Config{
		Server: ServerConfig{
			HTTPAddr:       "localhost:8080",
			DeploymentsDir: filepath.Join(homeDir, ".orbit", "deployments"),
			CacheDir:       filepath.Join(homeDir, ".orbit", "cache"),
		},
		Engine: EngineConfig{
			DefaultTimeout:   30 * time.Second,
			LogStoreCapacity: 1000,
			SinkBuffer:       256,
		},
		Pool: PoolConfig{
			IdleTTL:       10 * time.Minute,
			SweepInterval: time.Minute,
			DrainGrace:    30 * time.Second,
		},
		Governor: GovernorConfig{
			MaxConcurrent:    100,
			MaxPerDeployment: 1,
			MaxQueueDepth:    50,
			QueueWait:        5 * time.Second,
		},
		Feed: FeedConfig{
			Enabled:        false,
			RedisAddr:      "localhost:6379",
			Channel:        "orbit:deployments",
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
	}
}

// LoadConfig loads configuration from defaults, the config file if present,
// and ORBIT_ environment variables, then validates the result.
func LoadConfig(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaultConfig := DefaultConfig()
	if err := k.Load(newStructProvider(defaultConfig), nil); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	expandedPath := configPath
	if strings.HasPrefix(configPath, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			expandedPath = filepath.Join(homeDir, configPath[2:])
		}
	}

	if _, err := os.Stat(expandedPath); err == nil {
		if err := k.Load(file.Provider(expandedPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:      &config,
			ErrorUnused: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// structProvider is a provider that loads configuration from a struct
type structProvider struct {
	cfg interface{}
}

func newStructProvider(cfg interface{}) *structProvider {
	return &structProvider{cfg: cfg}
}

// Read reads the configuration from the struct
func (s *structProvider) Read() (map[string]interface{}, error) {
	var out map[string]interface{}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &out,
		TagName: "koanf",
	})
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(s.cfg); err != nil {
		return nil, err
	}

	return out, nil
}

// ReadBytes is required by the Provider interface but not used for struct providers
func (s *structProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("ReadBytes not supported for struct provider")
}
