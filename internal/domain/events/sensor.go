package events

import "github.com/brianly1003/filesensor/internal/domain"

// SensorStatePayload is the payload for sensor_state events.
type SensorStatePayload struct {
	Key   string       `json:"key"`
	State domain.State `json:"state"`
}

// NewSensorStateEvent creates a new sensor_state event.
func NewSensorStateEvent(key string, state domain.State) *BaseEvent {
	return NewEvent(EventTypeSensorState, SensorStatePayload{
		Key:   key,
		State: state,
	})
}

// SensorSnapshotPayload carries every known state, sent to a client when it connects.
type SensorSnapshotPayload struct {
	States []SensorStatePayload `json:"states"`
}

// NewSensorSnapshotEvent creates a new sensor_snapshot event.
func NewSensorSnapshotEvent(states []SensorStatePayload) *BaseEvent {
	if states == nil {
		states = []SensorStatePayload{}
	}
	return NewEvent(EventTypeSensorSnapshot, SensorSnapshotPayload{States: states})
}

// MonitorsRebuiltPayload is the payload for monitors_rebuilt events.
type MonitorsRebuiltPayload struct {
	Keys     []string `json:"keys"`
	Rejected int      `json:"rejected"`
}

// NewMonitorsRebuiltEvent creates a new monitors_rebuilt event.
func NewMonitorsRebuiltEvent(keys []string, rejected int) *BaseEvent {
	if keys == nil {
		keys = []string{}
	}
	return NewEvent(EventTypeMonitorsRebuilt, MonitorsRebuiltPayload{
		Keys:     keys,
		Rejected: rejected,
	})
}

// SensorKey returns the sensor key for sensor_state events and "" for
// every other event.
func (e *BaseEvent) SensorKey() string {
	if p, ok := e.Payload.(SensorStatePayload); ok {
		return p.Key
	}
	return ""
}
