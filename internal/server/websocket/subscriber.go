package websocket

import (
	"github.com/brianly1003/filesensor/internal/domain"
	"github.com/brianly1003/filesensor/internal/domain/events"
	"github.com/brianly1003/filesensor/internal/domain/ports"
)

// ClientSubscriber wraps a WebSocket client as an EventHub subscriber.
type ClientSubscriber struct {
	client *Client
}

// NewClientSubscriber creates a subscriber from a WebSocket client.
func NewClientSubscriber(client *Client) *ClientSubscriber {
	return &ClientSubscriber{client: client}
}

func (s *ClientSubscriber) ID() string {
	return s.client.ID()
}

// Send encodes event and queues it on the client. A closed or saturated
// client reports ErrSubscriberClosed so the hub drops it.
func (s *ClientSubscriber) Send(event events.Event) error {
	if s.client.IsClosed() {
		return domain.ErrSubscriberClosed
	}

	data, err := event.ToJSON()
	if err != nil {
		return err
	}

	if !s.client.Send(data) {
		return domain.ErrSubscriberClosed
	}
	return nil
}

func (s *ClientSubscriber) Close() error {
	s.client.Close()
	return nil
}

func (s *ClientSubscriber) Done() <-chan struct{} {
	return s.client.done
}

var _ ports.Subscriber = (*ClientSubscriber)(nil)
