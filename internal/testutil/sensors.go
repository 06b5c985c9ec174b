package testutil

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/brianly1003/filesensor/internal/domain"
	"github.com/brianly1003/filesensor/internal/domain/ports"
)

// Notification is one recorded ChangeNotifier call.
type Notification struct {
	Key   string
	State domain.State
}

// RecordingNotifier implements ports.ChangeNotifier by recording calls.
type RecordingNotifier struct {
	mu    sync.Mutex
	calls []Notification
}

// NewRecordingNotifier creates an empty recorder.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

// OnStateChanged records the call.
func (n *RecordingNotifier) OnStateChanged(key string, state domain.State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, Notification{Key: key, State: state})
}

// Calls returns all recorded calls in order.
func (n *RecordingNotifier) Calls() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.calls))
	copy(out, n.calls)
	return out
}

// Len returns the number of recorded calls.
func (n *RecordingNotifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// Reset forgets all recorded calls.
func (n *RecordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = nil
}

var _ ports.ChangeNotifier = (*RecordingNotifier)(nil)

// RecordingDiscovery implements ports.DiscoveryPublisher by recording
// announced sensors.
type RecordingDiscovery struct {
	mu      sync.Mutex
	sensors []domain.Sensor
}

// PublishDiscovery records sensor.
func (d *RecordingDiscovery) PublishDiscovery(sensor domain.Sensor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sensors = append(d.sensors, sensor)
}

// Sensors returns all announced sensors in order.
func (d *RecordingDiscovery) Sensors() []domain.Sensor {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Sensor, len(d.sensors))
	copy(out, d.sensors)
	return out
}

var _ ports.DiscoveryPublisher = (*RecordingDiscovery)(nil)

// FakeFileSubscriber implements ports.FileSubscriber with manual delivery.
// Tests call Fire to simulate a change to a watched file.
type FakeFileSubscriber struct {
	mu      sync.Mutex
	subs    map[string][]*fakeSubscription
	failDir map[string]error
	nextID  int
	closed  int
	opened  int
}

// NewFakeFileSubscriber creates a subscriber with no failures configured.
func NewFakeFileSubscriber() *FakeFileSubscriber {
	return &FakeFileSubscriber{
		subs:    make(map[string][]*fakeSubscription),
		failDir: make(map[string]error),
	}
}

// FailDir makes every Subscribe for dir return err.
func (f *FakeFileSubscriber) FailDir(dir string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = errors.New("watch failed")
	}
	f.failDir[dir] = err
}

// Subscribe registers onChange for dir/name.
func (f *FakeFileSubscriber) Subscribe(dir, name string, onChange func()) (ports.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failDir[dir]; ok {
		return nil, err
	}
	f.nextID++
	f.opened++
	sub := &fakeSubscription{owner: f, id: f.nextID, path: filepath.Join(dir, name), onChange: onChange}
	f.subs[sub.path] = append(f.subs[sub.path], sub)
	return sub, nil
}

// Fire synchronously delivers a change to every live subscription for
// path. It returns the number of callbacks invoked.
func (f *FakeFileSubscriber) Fire(path string) int {
	f.mu.Lock()
	subs := append([]*fakeSubscription(nil), f.subs[filepath.Clean(path)]...)
	f.mu.Unlock()

	for _, s := range subs {
		s.onChange()
	}
	return len(subs)
}

// Active returns the number of live subscriptions.
func (f *FakeFileSubscriber) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, subs := range f.subs {
		n += len(subs)
	}
	return n
}

// Opened returns the total number of successful Subscribe calls.
func (f *FakeFileSubscriber) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// Closed returns the number of subscriptions closed.
func (f *FakeFileSubscriber) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeFileSubscriber) remove(s *fakeSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.subs[s.path]
	for i, cur := range subs {
		if cur.id == s.id {
			f.subs[s.path] = append(subs[:i], subs[i+1:]...)
			f.closed++
			break
		}
	}
	if len(f.subs[s.path]) == 0 {
		delete(f.subs, s.path)
	}
}

type fakeSubscription struct {
	owner    *FakeFileSubscriber
	id       int
	path     string
	onChange func()
	once     sync.Once
}

func (s *fakeSubscription) Close() error {
	s.once.Do(func() { s.owner.remove(s) })
	return nil
}

var _ ports.FileSubscriber = (*FakeFileSubscriber)(nil)
