package domain

// State is the binary sensor state derived from a watched file.
type State string

const (
	// StateUnknown is the initial cache value. It is never published.
	StateUnknown State = "UNKNOWN"
	StateOn      State = "ON"
	StateOff     State = "OFF"
)

// Known reports whether s is a publishable state.
func (s State) Known() bool {
	return s == StateOn || s == StateOff
}

func (s State) String() string {
	if s == "" {
		return string(StateUnknown)
	}
	return string(s)
}

// Sensor describes a constructed monitor for discovery publishers.
type Sensor struct {
	Key         string `json:"key"`
	Path        string `json:"path"`
	DeviceClass string `json:"device_class,omitempty"`
	Icon        string `json:"icon,omitempty"`
}
