// Package config handles configuration management for filesensor.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/brianly1003/filesensor/internal/sync"
)

// Config holds all configuration for the application.
type Config struct {
	// Enabled gates every monitor. A disabled daemon keeps its connections
	// but watches nothing.
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Files   []FileConfig  `mapstructure:"files" yaml:"files"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	MQTT    MQTTConfig    `mapstructure:"mqtt" yaml:"mqtt"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// FileConfig is one watched file.
type FileConfig struct {
	Key         string `mapstructure:"key" yaml:"key"`
	Path        string `mapstructure:"path" yaml:"path"`
	OnRegex     string `mapstructure:"on_regex" yaml:"on_regex"`
	OffRegex    string `mapstructure:"off_regex" yaml:"off_regex"`
	DeviceClass string `mapstructure:"device_class" yaml:"device_class,omitempty"`
	Icon        string `mapstructure:"icon" yaml:"icon,omitempty"`

	// IOTLink addon spellings, folded into the fields above by postProcess.
	LegacyOnRegex     string `mapstructure:"onRegex" yaml:"-"`
	LegacyOffRegex    string `mapstructure:"offRegex" yaml:"-"`
	LegacyDeviceClass string `mapstructure:"deviceClass" yaml:"-"`
}

// MonitorConfig holds read and retry tuning shared by every monitor.
type MonitorConfig struct {
	DebounceMS   int `mapstructure:"debounce_ms" yaml:"debounce_ms"`
	MaxRetries   int `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBaseMS  int `mapstructure:"retry_base_ms" yaml:"retry_base_ms"`
	MaxLineBytes int `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
}

// MQTTConfig holds broker connection and topic settings. An empty broker
// disables MQTT.
type MQTTConfig struct {
	Broker          string `mapstructure:"broker" yaml:"broker"`
	ClientID        string `mapstructure:"client_id" yaml:"client_id"`
	Username        string `mapstructure:"username" yaml:"username"`
	Password        string `mapstructure:"password" yaml:"password"`
	TopicPrefix     string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix" yaml:"discovery_prefix"`
	QoS             int    `mapstructure:"qos" yaml:"qos"`
	Retain          bool   `mapstructure:"retain" yaml:"retain"`
	DeviceName      string `mapstructure:"device_name" yaml:"device_name"`
}

// ServerConfig holds the HTTP/WebSocket API configuration.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
}

// StoreConfig holds the transition history database configuration.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// Loader reads configuration through a single viper instance so the same
// file can later be watched for changes.
type Loader struct {
	mu sync.Mutex
	v  *viper.Viper
}

// NewLoader creates a loader for configPath, or for the default search
// paths when configPath is empty.
func NewLoader(configPath string) *Loader {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.filesensor")
		v.AddConfigPath("/etc/filesensor")
	}

	v.SetEnvPrefix("FILESENSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return &Loader{v: v}
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Load reads the config file (optional) and returns the validated result.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := postProcess(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ConfigFileUsed returns the file the loader read, or "" when running on
// defaults.
func (l *Loader) ConfigFileUsed() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the re-read configuration every time the
// config file is written. A config that fails to parse or validate is
// passed as an error and the previous configuration stays in effect.
func (l *Loader) Watch(onChange func(*Config, error)) {
	if l.v.ConfigFileUsed() == "" {
		log.Debug().Msg("no config file in use, hot reload disabled")
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed")
		l.mu.Lock()
		cfg, err := l.decode()
		l.mu.Unlock()
		onChange(cfg, err)
	})
	l.v.WatchConfig()
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("enabled", d.Enabled)
	v.SetDefault("files", []map[string]any{})

	v.SetDefault("monitor.debounce_ms", d.Monitor.DebounceMS)
	v.SetDefault("monitor.max_retries", d.Monitor.MaxRetries)
	v.SetDefault("monitor.retry_base_ms", d.Monitor.RetryBaseMS)
	v.SetDefault("monitor.max_line_bytes", d.Monitor.MaxLineBytes)

	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.topic_prefix", d.MQTT.TopicPrefix)
	v.SetDefault("mqtt.discovery_prefix", d.MQTT.DiscoveryPrefix)
	v.SetDefault("mqtt.qos", d.MQTT.QoS)
	v.SetDefault("mqtt.retain", d.MQTT.Retain)
	v.SetDefault("mqtt.device_name", d.MQTT.DeviceName)

	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
}

// postProcess normalizes paths and trims keys.
func postProcess(cfg *Config) error {
	for i := range cfg.Files {
		f := &cfg.Files[i]
		f.Key = strings.TrimSpace(f.Key)
		f.OnRegex = firstNonEmpty(f.OnRegex, f.LegacyOnRegex)
		f.OffRegex = firstNonEmpty(f.OffRegex, f.LegacyOffRegex)
		f.DeviceClass = firstNonEmpty(f.DeviceClass, f.LegacyDeviceClass)
		f.LegacyOnRegex, f.LegacyOffRegex, f.LegacyDeviceClass = "", "", ""
		if f.Path != "" {
			f.Path = expandHome(f.Path)
		}
	}

	if cfg.Store.Path == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return fmt.Errorf("failed to resolve store path: %w", err)
		}
		cfg.Store.Path = filepath.Join(dir, "history.db")
	}
	cfg.Store.Path = expandHome(cfg.Store.Path)

	if cfg.Logging.File != "" {
		cfg.Logging.File = expandHome(cfg.Logging.File)
	}

	cfg.MQTT.TopicPrefix = strings.Trim(cfg.MQTT.TopicPrefix, "/")
	cfg.MQTT.DiscoveryPrefix = strings.Trim(cfg.MQTT.DiscoveryPrefix, "/")

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// GetConfigDir returns the user config directory for filesensor.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".filesensor"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
