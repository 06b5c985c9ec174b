package monitor

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianly1003/filesensor/internal/clock"
	"github.com/brianly1003/filesensor/internal/domain"
	"github.com/brianly1003/filesensor/internal/testutil"
)

var errLocked = errors.New("file is locked")

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

type fixture struct {
	path     string
	spec     Spec
	clock    *clock.FakeClock
	files    *testutil.FakeFileSubscriber
	notifier *testutil.RecordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "status.log")
	spec, err := NewSpec(Definition{
		Key:        "door",
		Path:       path,
		OnPattern:  `status=1`,
		OffPattern: `status=0`,
	})
	if err != nil {
		t.Fatalf("NewSpec: %v", err)
	}
	return &fixture{
		path:     path,
		spec:     spec,
		clock:    clock.Fake(time.Unix(0, 0)),
		files:    testutil.NewFakeFileSubscriber(),
		notifier: testutil.NewRecordingNotifier(),
	}
}

func (f *fixture) start(t *testing.T) *Monitor {
	t.Helper()
	m, err := New(f.spec, f.files, f.notifier, Options{Clock: f.clock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Stop() })
	return m
}

// failingReads replaces m's reader with one that fails the first n calls
// and reads the real file afterwards.
func failingReads(m *Monitor, n int64) *atomic.Int64 {
	var calls atomic.Int64
	m.readLine = func(path string, max int) (string, error) {
		if calls.Add(1) <= n {
			return "", errLocked
		}
		return ReadLastLine(path, max)
	}
	return &calls
}

func TestMonitor_TransitionsFollowLastLine(t *testing.T) {
	f := newFixture(t)
	m := f.start(t)

	if m.State() != domain.StateUnknown {
		t.Fatalf("initial state = %v, want UNKNOWN", m.State())
	}

	writeFile(t, f.path, "boot\nstatus=0\n")
	f.files.Fire(f.path)

	writeFile(t, f.path, "boot\nstatus=0\nstatus=1\n")
	f.files.Fire(f.path)

	calls := f.notifier.Calls()
	want := []testutil.Notification{
		{Key: "door", State: domain.StateOff},
		{Key: "door", State: domain.StateOn},
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %+v, want %+v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %+v, want %+v", i, calls[i], want[i])
		}
	}
	if m.State() != domain.StateOn {
		t.Errorf("State() = %v, want ON", m.State())
	}
}

func TestMonitor_SameStateNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	writeFile(t, f.path, "status=1\n")
	f.files.Fire(f.path)
	writeFile(t, f.path, "status=1\nstatus=1\n")
	f.files.Fire(f.path)
	f.files.Fire(f.path)

	if got := f.notifier.Len(); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
}

func TestMonitor_UnmatchedLineKeepsState(t *testing.T) {
	f := newFixture(t)
	m := f.start(t)

	writeFile(t, f.path, "status=1\n")
	f.files.Fire(f.path)
	writeFile(t, f.path, "status=1\nheartbeat\n")
	f.files.Fire(f.path)

	if got := f.notifier.Len(); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
	if m.State() != domain.StateOn {
		t.Errorf("State() = %v, want ON", m.State())
	}
	if m.Status().Phase != "active" {
		t.Errorf("Phase = %q, want active", m.Status().Phase)
	}
}

func TestMonitor_OnPatternWinsWhenBothMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.log")
	spec, err := NewSpec(Definition{Key: "k", Path: path, OnPattern: `open`, OffPattern: `open|closed`})
	if err != nil {
		t.Fatal(err)
	}
	files := testutil.NewFakeFileSubscriber()
	n := testutil.NewRecordingNotifier()
	m, err := New(spec, files, n, Options{Clock: clock.Fake(time.Unix(0, 0))})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	writeFile(t, path, "door open\n")
	files.Fire(path)

	if m.State() != domain.StateOn {
		t.Errorf("State() = %v, want ON", m.State())
	}
}

func TestMonitor_RetryBackoffThenAbandon(t *testing.T) {
	f := newFixture(t)
	m := f.start(t)
	calls := failingReads(m, 100)

	f.files.Fire(f.path)
	if calls.Load() != 1 {
		t.Fatalf("attempts after change = %d, want 1", calls.Load())
	}
	if m.Status().Phase != "retrying" || m.Status().RetryCount != 1 {
		t.Fatalf("status = %+v, want retrying with count 1", m.Status())
	}

	steps := []struct {
		advance  time.Duration
		attempts int64
	}{
		{999 * time.Millisecond, 1},
		{time.Millisecond, 2},
		{1999 * time.Millisecond, 2},
		{time.Millisecond, 3},
		{2999 * time.Millisecond, 3},
		{time.Millisecond, 4},
	}
	for i, s := range steps {
		f.clock.Advance(s.advance)
		if got := calls.Load(); got != s.attempts {
			t.Fatalf("step %d: attempts = %d, want %d", i, got, s.attempts)
		}
	}

	st := m.Status()
	if st.Phase != "abandoned" {
		t.Errorf("Phase = %q, want abandoned", st.Phase)
	}
	if st.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 after abandon", st.RetryCount)
	}
	if f.clock.PendingCount() != 0 {
		t.Errorf("pending timers = %d, want 0", f.clock.PendingCount())
	}

	f.clock.Advance(time.Minute)
	if calls.Load() != 4 {
		t.Errorf("attempts after abandon = %d, want 4", calls.Load())
	}
	if f.notifier.Len() != 0 {
		t.Errorf("notifications = %d, want 0", f.notifier.Len())
	}
}

func TestMonitor_RetrySucceeds(t *testing.T) {
	f := newFixture(t)
	m := f.start(t)
	calls := failingReads(m, 2)

	writeFile(t, f.path, "status=1\n")
	f.files.Fire(f.path)
	f.clock.Advance(time.Second)
	f.clock.Advance(2 * time.Second)

	if calls.Load() != 3 {
		t.Fatalf("attempts = %d, want 3", calls.Load())
	}
	if m.State() != domain.StateOn {
		t.Errorf("State() = %v, want ON", m.State())
	}
	st := m.Status()
	if st.Phase != "active" || st.RetryCount != 0 {
		t.Errorf("status = %+v, want active with count 0", st)
	}
	if f.notifier.Len() != 1 {
		t.Errorf("notifications = %d, want 1", f.notifier.Len())
	}
}

func TestMonitor_BudgetResetsAfterAbandon(t *testing.T) {
	f := newFixture(t)
	m := f.start(t)
	calls := failingReads(m, 100)

	f.files.Fire(f.path)
	f.clock.Advance(time.Second)
	f.clock.Advance(2 * time.Second)
	f.clock.Advance(3 * time.Second)
	if calls.Load() != 4 {
		t.Fatalf("attempts = %d, want 4", calls.Load())
	}

	f.files.Fire(f.path)
	if m.Status().RetryCount != 1 {
		t.Fatalf("RetryCount = %d, want 1", m.Status().RetryCount)
	}
	f.clock.Advance(time.Second)
	if calls.Load() != 6 {
		t.Errorf("attempts = %d, want 6 (first retry waits 1s again)", calls.Load())
	}
}

func TestMonitor_ChangeSupersedesPendingRetry(t *testing.T) {
	f := newFixture(t)
	m := f.start(t)
	calls := failingReads(m, 100)

	f.files.Fire(f.path)
	f.files.Fire(f.path)

	if calls.Load() != 2 {
		t.Fatalf("attempts = %d, want 2", calls.Load())
	}
	if m.Status().RetryCount != 2 {
		t.Fatalf("RetryCount = %d, want 2", m.Status().RetryCount)
	}
	if f.clock.PendingCount() != 1 {
		t.Fatalf("pending timers = %d, want 1", f.clock.PendingCount())
	}

	f.clock.Advance(time.Second)
	if calls.Load() != 2 {
		t.Errorf("superseded retry ran: attempts = %d, want 2", calls.Load())
	}
	f.clock.Advance(time.Second)
	if calls.Load() != 3 {
		t.Errorf("attempts = %d, want 3", calls.Load())
	}
}

func TestMonitor_StopCancelsRetry(t *testing.T) {
	f := newFixture(t)
	m := f.start(t)
	calls := failingReads(m, 100)

	f.files.Fire(f.path)
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	f.clock.Advance(time.Minute)

	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1", calls.Load())
	}
	if f.files.Active() != 0 {
		t.Errorf("active subscriptions = %d, want 0", f.files.Active())
	}
	if m.Status().Phase != "unsubscribed" {
		t.Errorf("Phase = %q, want unsubscribed", m.Status().Phase)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if f.files.Closed() != 1 {
		t.Errorf("closed subscriptions = %d, want 1", f.files.Closed())
	}
}

func TestMonitor_StopKeepsCachedState(t *testing.T) {
	f := newFixture(t)
	m := f.start(t)

	writeFile(t, f.path, "status=0\n")
	f.files.Fire(f.path)
	m.Stop()

	if m.State() != domain.StateOff {
		t.Errorf("State() = %v, want OFF", m.State())
	}
}

func TestMonitor_MissingFileRetries(t *testing.T) {
	f := newFixture(t)
	m := f.start(t)

	f.files.Fire(f.path)
	if m.Status().Phase != "retrying" {
		t.Fatalf("Phase = %q, want retrying", m.Status().Phase)
	}

	writeFile(t, f.path, "status=1\n")
	f.clock.Advance(time.Second)

	if m.State() != domain.StateOn {
		t.Errorf("State() = %v, want ON", m.State())
	}
}

func TestMonitor_SubscribeFailure(t *testing.T) {
	f := newFixture(t)
	f.files.FailDir(f.spec.Dir, errors.New("no such directory"))

	_, err := New(f.spec, f.files, f.notifier, Options{Clock: f.clock})
	if err == nil {
		t.Fatal("expected error")
	}
	var me *domain.MonitorError
	if !errors.As(err, &me) || me.Op != "subscribe" || me.Key != "door" {
		t.Errorf("err = %v, want subscribe MonitorError for door", err)
	}
}

func TestPhaseString(t *testing.T) {
	tests := map[Phase]string{
		PhaseUnsubscribed: "unsubscribed",
		PhaseActive:       "active",
		PhaseRetrying:     "retrying",
		PhaseAbandoned:    "abandoned",
	}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(p), got, want)
		}
	}
}
