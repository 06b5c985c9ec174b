package testutil

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/brianly1003/filesensor/internal/domain"
	"github.com/brianly1003/filesensor/internal/domain/events"
)

func TestMockSubscriber_SendWithError(t *testing.T) {
	sub := NewMockSubscriber("test-sub")
	expectedErr := errors.New("send failed")
	sub.SetSendError(expectedErr)

	if err := sub.Send(events.NewHeartbeatEvent(1, 1, 0)); err != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	if len(sub.Events()) != 0 {
		t.Errorf("expected 0 events when error, got %d", len(sub.Events()))
	}
}

func TestMockSubscriber_Close(t *testing.T) {
	sub := NewMockSubscriber("test-sub")
	sub.Close()
	sub.Close()

	if !sub.IsClosed() {
		t.Error("expected subscriber to be closed")
	}
	select {
	case <-sub.Done():
	default:
		t.Error("expected Done channel to be closed")
	}
}

func TestMockEventHub_Unsubscribe(t *testing.T) {
	hub := NewMockEventHub()
	hub.Subscribe(NewMockSubscriber("a"))
	hub.Subscribe(NewMockSubscriber("b"))
	hub.Unsubscribe("a")

	if hub.SubscriberCount() != 1 {
		t.Errorf("expected 1 subscriber, got %d", hub.SubscriberCount())
	}
}

func TestRecordingNotifier(t *testing.T) {
	n := NewRecordingNotifier()
	n.OnStateChanged("a", domain.StateOn)
	n.OnStateChanged("b", domain.StateOff)

	calls := n.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[1] != (Notification{Key: "b", State: domain.StateOff}) {
		t.Errorf("unexpected second call: %+v", calls[1])
	}

	n.Reset()
	if n.Len() != 0 {
		t.Errorf("expected 0 calls after reset, got %d", n.Len())
	}
}

func TestFakeFileSubscriber_FireAndClose(t *testing.T) {
	f := NewFakeFileSubscriber()
	dir := t.TempDir()

	fired := 0
	sub, err := f.Subscribe(dir, "status.log", func() { fired++ })
	AssertNoError(t, err, "subscribe")

	if n := f.Fire(filepath.Join(dir, "status.log")); n != 1 {
		t.Fatalf("Fire delivered to %d subscriptions, want 1", n)
	}
	if n := f.Fire(filepath.Join(dir, "other.log")); n != 0 {
		t.Fatalf("Fire for another file delivered to %d subscriptions, want 0", n)
	}

	sub.Close()
	sub.Close()
	f.Fire(filepath.Join(dir, "status.log"))

	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
	if f.Closed() != 1 {
		t.Errorf("Closed() = %d, want 1", f.Closed())
	}
	if f.Active() != 0 {
		t.Errorf("Active() = %d, want 0", f.Active())
	}
}

func TestFakeFileSubscriber_FailDir(t *testing.T) {
	f := NewFakeFileSubscriber()
	f.FailDir("/missing", nil)

	if _, err := f.Subscribe("/missing", "x", func() {}); err == nil {
		t.Fatal("expected subscribe error")
	}
	if f.Opened() != 0 {
		t.Errorf("Opened() = %d, want 0", f.Opened())
	}
}
