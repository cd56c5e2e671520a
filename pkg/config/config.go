// Package config loads and validates the agent configuration from YAML,
// environment variables and CLI flags, layered through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var valid = validator.New()

// Config aggregates every section of the agent configuration. Loaded once at
// startup; never hot-reloaded.
type Config struct {
	GraphQLEnabled bool           `yaml:"graphql_enabled" mapstructure:"graphql_enabled"`
	Servers        []ServerConfig `yaml:"unraid" mapstructure:"unraid" validate:"required,min=1,dive"`
	MQTT           MQTTConfig     `yaml:"mqtt" mapstructure:"mqtt"`
	Log            LogConfig      `yaml:"log" mapstructure:"log"`
	Server         HTTPConfig     `yaml:"server" mapstructure:"server"`
}

// ServerConfig describes one monitored server. Immutable after load.
type ServerConfig struct {
	Name      string `yaml:"name" mapstructure:"name" validate:"required"`
	Host      string `yaml:"host" mapstructure:"host" validate:"required"`
	Port      int    `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	SSL       bool   `yaml:"ssl" mapstructure:"ssl"`
	VerifySSL bool   `yaml:"verify_ssl" mapstructure:"verify_ssl"`
	Username  string `yaml:"username" mapstructure:"username"`
	Password  string `yaml:"password" mapstructure:"password"`
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`

	// Three independent scan cadences: primary telemetry, UPS, system.
	ScanInterval       time.Duration `yaml:"scan_interval" mapstructure:"scan_interval"`
	UPSScanInterval    time.Duration `yaml:"ups_scan_interval" mapstructure:"ups_scan_interval"`
	SystemScanInterval time.Duration `yaml:"system_scan_interval" mapstructure:"system_scan_interval"`
}

// MQTTConfig describes the publication target broker.
type MQTTConfig struct {
	Host            string `yaml:"host" mapstructure:"host" validate:"required"`
	Port            int    `yaml:"port" mapstructure:"port" validate:"required,gte=1,lte=65535"`
	Username        string `yaml:"username" mapstructure:"username"`
	Password        string `yaml:"password" mapstructure:"password"`
	AutoDiscover    bool   `yaml:"auto_discover" mapstructure:"auto_discover"`
	BaseTopic       string `yaml:"base_topic" mapstructure:"base_topic"`
	DiscoveryPrefix string `yaml:"discovery_prefix" mapstructure:"discovery_prefix"`
}

// LogConfig mirrors the zap + rotatelogs setup in pkg/logger.
type LogConfig struct {
	Level     string `yaml:"level" mapstructure:"level" validate:"required,oneof=debug info warn error dpanic panic fatal"`
	Format    string `yaml:"format" mapstructure:"format" validate:"required,oneof=json console"`
	Path      string `yaml:"path" mapstructure:"path" validate:"required"`
	MaxSize   int    `yaml:"max_size" mapstructure:"max_size" validate:"gt=0"`
	MaxBackup int    `yaml:"max_backup" mapstructure:"max_backup" validate:"gte=0"`
	MaxAge    int    `yaml:"max_age" mapstructure:"max_age" validate:"gte=0"`
	Compress  bool   `yaml:"compress" mapstructure:"compress"`
}

// HTTPConfig configures the agent's own /metrics and /health endpoint.
type HTTPConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"required,gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"required,gt=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"required,gt=0"`
}

// NewDefaultConfig returns a config with every field backstopped so partial
// YAML files never leave zero values behind.
func NewDefaultConfig() *Config {
	return &Config{
		GraphQLEnabled: true,
		MQTT: MQTTConfig{
			Host:            "core-mosquitto",
			Port:            1883,
			AutoDiscover:    true,
			BaseTopic:       "unraid",
			DiscoveryPrefix: "homeassistant",
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "json",
			Path:      "./logs",
			MaxSize:   100,
			MaxBackup: 30,
			MaxAge:    7,
			Compress:  true,
		},
		Server: HTTPConfig{
			Addr:         "0.0.0.0:9090",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// LoadConfigWithCli layers flags, the YAML file named by --config, and
// environment variables into a validated Config.
func LoadConfigWithCli(cmd *cobra.Command) (*Config, error) {
	cfg := NewDefaultConfig()
	v := viper.New()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("_", "."))

	decoderConfig := &mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills per-server defaults that depend on other fields and so
// cannot live in NewDefaultConfig.
func (c *Config) ApplyDefaults() {
	for i := range c.Servers {
		s := &c.Servers[i]
		if s.Port == 0 {
			if s.SSL {
				s.Port = 443
			} else {
				s.Port = 80
			}
		}
		if s.ScanInterval == 0 {
			s.ScanInterval = 30 * time.Second
		}
		if s.UPSScanInterval == 0 {
			s.UPSScanInterval = 60 * time.Second
		}
		if s.SystemScanInterval == 0 {
			s.SystemScanInterval = 60 * time.Second
		}
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = "unraid"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
}
