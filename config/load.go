package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// keyDelimiter replaces viper's "." so interface names such as
// "cust.register" stay single keys.
const keyDelimiter = "::"

// EnvPrefix prefixes environment overrides, e.g. COURIER_BROKER_URL.
const EnvPrefix = "COURIER"

func newViper() *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))

	v.SetDefault("broker::reconnectDelay", DefaultReconnectDelay)
	v.SetDefault("component::name", DefaultComponentName)
	v.SetDefault("audit::queue", DefaultAuditQueue)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("broker::url")
	_ = v.BindEnv("component::name")

	return v
}

// Load reads, defaults and validates the configuration file at path. The
// format follows the file extension (yaml, json, toml).
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return decode(v)
}

// LoadBytes is Load for in-memory content of the given format.
func LoadBytes(configType string, data []byte) (*Config, error) {
	if strings.TrimSpace(configType) == "" {
		return nil, errors.New("config: config type is required")
	}

	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("config: read %s content: %w", configType, err)
	}
	return decode(v)
}

// Watch reloads the file at path whenever it changes and hands every
// successfully validated result to onChange. Invalid revisions are logged
// and skipped.
func Watch(path string, logger *slog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	v.OnConfigChange(func(ev fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			logger.Error("config reload failed", "path", ev.Name, "error", err)
			return
		}
		logger.Info("config reloaded", "path", ev.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Component.Name == "" {
		c.Component.Name = DefaultComponentName
	}
	if c.Audit.Queue == "" {
		c.Audit.Queue = DefaultAuditQueue
	}
	if c.Audit.Redis.Addr != "" && c.Audit.Redis.Stream == "" {
		c.Audit.Redis.Stream = c.Audit.Queue
	}

	for _, d := range c.Destinations {
		if s := d.Sender; s != nil {
			if s.DeliveryMode == "" {
				s.DeliveryMode = DeliveryPersistent
			}
			if s.Codec == "" {
				s.Codec = DefaultCodec
			}
		}
		if r := d.Receiver; r != nil {
			if r.Concurrency == "" {
				r.Concurrency = DefaultConcurrency
			}
			if r.AckMode == "" {
				r.AckMode = AckModeManual
			}
			if r.Codec == "" {
				r.Codec = DefaultCodec
			}
		}
	}
}
