package mqtt

import (
	"encoding/json"
	"strings"

	"github.com/brianly1003/filesensor/internal/domain"
)

// Payloads published on availability and state topics.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// TopicSegment replaces characters that are not allowed, or not wise, in a
// single MQTT topic level.
func TopicSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// StateTopic is where the ON/OFF state of key is published.
func StateTopic(prefix, key string) string {
	return prefix + "/Files/" + TopicSegment(key) + "/Sensor"
}

// AvailabilityTopic carries the online/offline status of the daemon.
func AvailabilityTopic(prefix string) string {
	return prefix + "/status"
}

// DiscoveryTopic is the Home Assistant config topic for key.
func DiscoveryTopic(discoveryPrefix, nodeID, key string) string {
	return discoveryPrefix + "/binary_sensor/" + TopicSegment(nodeID) + "/" + TopicSegment(key) + "/config"
}

// DiscoveryDevice groups every sensor of one daemon under a single device.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DiscoveryConfig is the Home Assistant binary_sensor discovery payload.
type DiscoveryConfig struct {
	Name                string          `json:"name"`
	UniqueID            string          `json:"unique_id"`
	ObjectID            string          `json:"object_id"`
	StateTopic          string          `json:"state_topic"`
	PayloadOn           string          `json:"payload_on"`
	PayloadOff          string          `json:"payload_off"`
	DeviceClass         string          `json:"device_class,omitempty"`
	Icon                string          `json:"icon,omitempty"`
	AvailabilityTopic   string          `json:"availability_topic"`
	PayloadAvailable    string          `json:"payload_available"`
	PayloadNotAvailable string          `json:"payload_not_available"`
	Device              DiscoveryDevice `json:"device"`
}

// NewDiscoveryConfig builds the discovery payload for sensor.
func NewDiscoveryConfig(sensor domain.Sensor, topicPrefix, nodeID, deviceName, version string) DiscoveryConfig {
	node := TopicSegment(nodeID)
	key := TopicSegment(sensor.Key)
	return DiscoveryConfig{
		Name:                sensor.Key,
		UniqueID:            node + "_" + key,
		ObjectID:            key,
		StateTopic:          StateTopic(topicPrefix, sensor.Key),
		PayloadOn:           string(domain.StateOn),
		PayloadOff:          string(domain.StateOff),
		DeviceClass:         sensor.DeviceClass,
		Icon:                sensor.Icon,
		AvailabilityTopic:   AvailabilityTopic(topicPrefix),
		PayloadAvailable:    PayloadOnline,
		PayloadNotAvailable: PayloadOffline,
		Device: DiscoveryDevice{
			Identifiers:  []string{node},
			Name:         deviceName,
			Manufacturer: "filesensor",
			Model:        "File content sensor",
			SWVersion:    version,
		},
	}
}

// JSON encodes c.
func (c DiscoveryConfig) JSON() ([]byte, error) {
	return json.Marshal(c)
}
