package ports

import "github.com/brianly1003/filesensor/internal/domain"

// ChangeNotifier receives sensor state transitions.
//
// Calls may repeat a value (replays after reconnect), so implementations
// must be safe to call with the same state more than once. Errors are the
// implementation's own concern; callers never retry.
type ChangeNotifier interface {
	OnStateChanged(key string, state domain.State)
}

// ChangeNotifierFunc adapts a function to ChangeNotifier.
type ChangeNotifierFunc func(key string, state domain.State)

// OnStateChanged calls f(key, state).
func (f ChangeNotifierFunc) OnStateChanged(key string, state domain.State) {
	f(key, state)
}

// DiscoveryPublisher announces a constructed monitor to a discovery consumer.
type DiscoveryPublisher interface {
	PublishDiscovery(sensor domain.Sensor)
}
