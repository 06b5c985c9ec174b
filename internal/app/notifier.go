package app

import (
	"github.com/brianly1003/filesensor/internal/domain"
	"github.com/brianly1003/filesensor/internal/domain/events"
	"github.com/brianly1003/filesensor/internal/domain/ports"
)

// fanout delivers every transition to each notifier in order.
type fanout []ports.ChangeNotifier

func (f fanout) OnStateChanged(key string, state domain.State) {
	for _, n := range f {
		n.OnStateChanged(key, state)
	}
}

// hubNotifier republishes transitions as sensor_state events.
type hubNotifier struct {
	hub ports.EventHub
}

func (n hubNotifier) OnStateChanged(key string, state domain.State) {
	n.hub.Publish(events.NewSensorStateEvent(key, state))
}

var (
	_ ports.ChangeNotifier = fanout(nil)
	_ ports.ChangeNotifier = hubNotifier{}
)
