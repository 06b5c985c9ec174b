package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"negative debounce", func(c *Config) { c.Monitor.DebounceMS = -1 }, "debounce_ms"},
		{"zero debounce allowed", func(c *Config) { c.Monitor.DebounceMS = 0 }, ""},
		{"zero retries", func(c *Config) { c.Monitor.MaxRetries = 0 }, "max_retries"},
		{"zero retry base", func(c *Config) { c.Monitor.RetryBaseMS = 0 }, "retry_base_ms"},
		{"tiny line limit", func(c *Config) { c.Monitor.MaxLineBytes = 10 }, "max_line_bytes"},
		{"valid broker", func(c *Config) { c.MQTT.Broker = "tcp://localhost:1883" }, ""},
		{"broker without scheme", func(c *Config) { c.MQTT.Broker = "localhost:1883" }, "scheme"},
		{"broker bad scheme", func(c *Config) { c.MQTT.Broker = "http://localhost:1883" }, "scheme"},
		{"bad qos", func(c *Config) { c.MQTT.Broker = "tcp://h:1883"; c.MQTT.QoS = 3 }, "qos"},
		{"wildcard prefix", func(c *Config) { c.MQTT.Broker = "tcp://h:1883"; c.MQTT.TopicPrefix = "a/#" }, "wildcards"},
		{"empty topic prefix", func(c *Config) { c.MQTT.Broker = "tcp://h:1883"; c.MQTT.TopicPrefix = "" }, "topic_prefix"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad port ignored when disabled", func(c *Config) { c.Server.Enabled = false; c.Server.Port = 0 }, ""},
		{"empty host", func(c *Config) { c.Server.Host = "" }, "server.host"},
		{"store without path", func(c *Config) { c.Store.Enabled = true; c.Store.Path = "" }, "store.path"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"invalid files are left to the registry", func(c *Config) {
			c.Files = []FileConfig{{Key: "", Path: "relative", OnRegex: "("}}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := Validate(&cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
