package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default values shared by viper defaults and `config init`.
const (
	DefaultDebounceMS      = 100
	DefaultMaxRetries      = 3
	DefaultRetryBaseMS     = 1000
	DefaultMaxLineBytes    = 1 << 20
	DefaultTopicPrefix     = "filesensor"
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultPort            = 8780
)

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Files:   []FileConfig{},
		Monitor: MonitorConfig{
			DebounceMS:   DefaultDebounceMS,
			MaxRetries:   DefaultMaxRetries,
			RetryBaseMS:  DefaultRetryBaseMS,
			MaxLineBytes: DefaultMaxLineBytes,
		},
		MQTT: MQTTConfig{
			TopicPrefix:     DefaultTopicPrefix,
			DiscoveryPrefix: DefaultDiscoveryPrefix,
			QoS:             1,
			Retain:          true,
			DeviceName:      "File Sensor",
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    DefaultPort,
		},
		Store: StoreConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// exampleConfig is DefaultConfig plus one sample file entry.
func exampleConfig() Config {
	cfg := DefaultConfig()
	cfg.Files = []FileConfig{{
		Key:         "backup_job",
		Path:        "/var/log/backup/status.log",
		OnRegex:     `status=1`,
		OffRegex:    `status=0`,
		DeviceClass: "running",
		Icon:        "mdi:backup-restore",
	}}
	return cfg
}

// WriteDefault writes an example configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}

	data, err := yaml.Marshal(exampleConfig())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
