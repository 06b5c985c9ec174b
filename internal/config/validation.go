package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// Validate validates the configuration. Individual file entries are not
// checked here: the monitor registry rejects bad entries one by one so a
// single mistake does not disable every sensor.
func Validate(cfg *Config) error {
	if err := validateMonitor(&cfg.Monitor); err != nil {
		return err
	}
	if err := validateMQTT(&cfg.MQTT); err != nil {
		return err
	}
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}
	if err := validateStore(&cfg.Store); err != nil {
		return err
	}
	return validateLogging(&cfg.Logging)
}

func validateMonitor(cfg *MonitorConfig) error {
	if cfg.DebounceMS < 0 {
		return fmt.Errorf("monitor.debounce_ms must be non-negative")
	}
	if cfg.MaxRetries < 1 {
		return fmt.Errorf("monitor.max_retries must be at least 1")
	}
	if cfg.RetryBaseMS < 1 {
		return fmt.Errorf("monitor.retry_base_ms must be at least 1")
	}
	if cfg.MaxLineBytes < 64 {
		return fmt.Errorf("monitor.max_line_bytes must be at least 64")
	}
	return nil
}

func validateMQTT(cfg *MQTTConfig) error {
	if cfg.Broker == "" {
		return nil
	}

	u, err := url.Parse(cfg.Broker)
	if err != nil {
		return fmt.Errorf("mqtt.broker is not a valid URL: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("mqtt.broker scheme must be tcp, ssl, tls, mqtt, mqtts, ws or wss: %s", cfg.Broker)
	}
	if u.Host == "" {
		return fmt.Errorf("mqtt.broker must include a host: %s", cfg.Broker)
	}

	if cfg.QoS < 0 || cfg.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topic_prefix cannot be empty")
	}
	if strings.ContainsAny(cfg.TopicPrefix, "+#") || strings.ContainsAny(cfg.DiscoveryPrefix, "+#") {
		return fmt.Errorf("mqtt topic prefixes cannot contain wildcards")
	}
	return nil
}

func validateServer(cfg *ServerConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Host == "" {
		return fmt.Errorf("server.host cannot be empty")
	}
	return nil
}

func validateStore(cfg *StoreConfig) error {
	if cfg.Enabled && cfg.Path == "" {
		return fmt.Errorf("store.path cannot be empty when the store is enabled")
	}
	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err != nil {
		return fmt.Errorf("logging.level is invalid: %s", cfg.Level)
	}
	switch cfg.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json")
	}
	return nil
}
