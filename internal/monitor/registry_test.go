package monitor

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/brianly1003/filesensor/internal/clock"
	"github.com/brianly1003/filesensor/internal/domain"
	"github.com/brianly1003/filesensor/internal/testutil"
)

type registryFixture struct {
	dir       string
	files     *testutil.FakeFileSubscriber
	notifier  *testutil.RecordingNotifier
	discovery *testutil.RecordingDiscovery
	registry  *Registry
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	f := &registryFixture{
		dir:       t.TempDir(),
		files:     testutil.NewFakeFileSubscriber(),
		notifier:  testutil.NewRecordingNotifier(),
		discovery: &testutil.RecordingDiscovery{},
	}
	f.registry = NewRegistry(f.files, f.notifier, f.discovery, Options{Clock: clock.Fake(time.Unix(0, 0))})
	t.Cleanup(f.registry.Clear)
	return f
}

func (f *registryFixture) def(key, name string) Definition {
	return Definition{
		Key:        key,
		Path:       filepath.Join(f.dir, name),
		OnPattern:  `status=1`,
		OffPattern: `status=0`,
	}
}

func (f *registryFixture) path(name string) string {
	return filepath.Join(f.dir, name)
}

func TestRegistry_RebuildBuildsMonitors(t *testing.T) {
	f := newRegistryFixture(t)

	err := f.registry.Rebuild([]Definition{f.def("a", "a.log"), f.def("b", "b.log")})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	keys := f.registry.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys() = %v, want [a b]", keys)
	}
	if f.files.Active() != 2 {
		t.Errorf("active subscriptions = %d, want 2", f.files.Active())
	}
	if _, ok := f.registry.Get("b"); !ok {
		t.Error("Get(b) not found")
	}
	if _, ok := f.registry.Get("c"); ok {
		t.Error("Get(c) found")
	}

	sensors := f.discovery.Sensors()
	if len(sensors) != 2 || sensors[0].Key != "a" || sensors[1].Key != "b" {
		t.Errorf("discovery = %+v, want a then b", sensors)
	}
}

func TestRegistry_DuplicateKeyRejected(t *testing.T) {
	f := newRegistryFixture(t)

	err := f.registry.Rebuild([]Definition{f.def("a", "first.log"), f.def("a", "second.log")})
	if !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}

	if f.registry.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", f.registry.Len())
	}
	m, _ := f.registry.Get("a")
	if m.Spec().Path != f.path("first.log") {
		t.Errorf("kept path = %s, want first definition", m.Spec().Path)
	}
	if f.files.Opened() != 1 {
		t.Errorf("subscriptions opened = %d, want 1", f.files.Opened())
	}
	if len(f.discovery.Sensors()) != 1 {
		t.Errorf("discovery announcements = %d, want 1", len(f.discovery.Sensors()))
	}
}

func TestRegistry_InvalidDefinitionsSkipped(t *testing.T) {
	f := newRegistryFixture(t)

	bad := f.def("bad", "bad.log")
	bad.OnPattern = `(`
	relative := Definition{Key: "rel", Path: "relative.log", OnPattern: "x", OffPattern: "y"}

	err := f.registry.Rebuild([]Definition{bad, f.def("good", "good.log"), relative, {Key: " "}})
	if !errors.Is(err, domain.ErrInvalidSpec) {
		t.Fatalf("err = %v, want ErrInvalidSpec", err)
	}
	keys := f.registry.Keys()
	if len(keys) != 1 || keys[0] != "good" {
		t.Errorf("Keys() = %v, want [good]", keys)
	}
}

func TestRegistry_SubscribeFailureSkipped(t *testing.T) {
	f := newRegistryFixture(t)
	missing := filepath.Join(f.dir, "missing")
	f.files.FailDir(missing, errors.New("no such directory"))

	bad := f.def("gone", "x.log")
	bad.Path = filepath.Join(missing, "x.log")

	err := f.registry.Rebuild([]Definition{bad, f.def("ok", "ok.log")})
	var me *domain.MonitorError
	if !errors.As(err, &me) || me.Op != "subscribe" {
		t.Fatalf("err = %v, want subscribe MonitorError", err)
	}
	if f.registry.Len() != 1 {
		t.Errorf("Len() = %d, want 1", f.registry.Len())
	}
	if len(f.discovery.Sensors()) != 1 {
		t.Errorf("discovery announcements = %d, want 1", len(f.discovery.Sensors()))
	}
}

func TestRegistry_RebuildReplaysBeforeReplacing(t *testing.T) {
	f := newRegistryFixture(t)
	if err := f.registry.Rebuild([]Definition{f.def("a", "a.log")}); err != nil {
		t.Fatal(err)
	}

	writeFile(t, f.path("a.log"), "status=1\n")
	f.files.Fire(f.path("a.log"))
	f.notifier.Reset()

	if err := f.registry.Rebuild([]Definition{f.def("a", "a.log")}); err != nil {
		t.Fatal(err)
	}

	calls := f.notifier.Calls()
	if len(calls) != 1 || calls[0] != (testutil.Notification{Key: "a", State: domain.StateOn}) {
		t.Errorf("calls = %+v, want one ON replay for a", calls)
	}
	if f.files.Closed() != 1 || f.files.Active() != 1 {
		t.Errorf("closed=%d active=%d, want 1 and 1", f.files.Closed(), f.files.Active())
	}

	m, _ := f.registry.Get("a")
	if m.State() != domain.StateOn {
		t.Errorf("new monitor state = %v, want ON carried over", m.State())
	}
}

func TestRegistry_RepeatedReconnectKeepsReplaying(t *testing.T) {
	f := newRegistryFixture(t)
	defs := []Definition{f.def("a", "a.log")}
	if err := f.registry.Rebuild(defs); err != nil {
		t.Fatal(err)
	}
	writeFile(t, f.path("a.log"), "status=1\n")
	f.files.Fire(f.path("a.log"))
	f.notifier.Reset()

	for i := 0; i < 3; i++ {
		f.registry.StopAll()
		if err := f.registry.Rebuild(defs); err != nil {
			t.Fatal(err)
		}
	}

	calls := f.notifier.Calls()
	if len(calls) != 3 {
		t.Fatalf("calls = %+v, want one ON replay per reconnect", calls)
	}
	for _, c := range calls {
		if c != (testutil.Notification{Key: "a", State: domain.StateOn}) {
			t.Errorf("call = %+v, want a ON", c)
		}
	}
}

func TestRegistry_RebuildChangedSourceStartsUnknown(t *testing.T) {
	f := newRegistryFixture(t)
	if err := f.registry.Rebuild([]Definition{f.def("a", "a.log"), f.def("b", "b.log")}); err != nil {
		t.Fatal(err)
	}
	writeFile(t, f.path("a.log"), "status=1\n")
	writeFile(t, f.path("b.log"), "status=1\n")
	f.files.Fire(f.path("a.log"))
	f.files.Fire(f.path("b.log"))

	moved := f.def("a", "moved.log")
	repatterned := f.def("b", "b.log")
	repatterned.OnPattern = `running`
	if err := f.registry.Rebuild([]Definition{moved, repatterned}); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"a", "b"} {
		m, _ := f.registry.Get(key)
		if m.State() != domain.StateUnknown {
			t.Errorf("%s state = %v, want UNKNOWN after its source changed", key, m.State())
		}
	}
}

func TestRegistry_ReplayUsesReplayNotifier(t *testing.T) {
	files := testutil.NewFakeFileSubscriber()
	changes := testutil.NewRecordingNotifier()
	replays := testutil.NewRecordingNotifier()
	r := NewRegistry(files, changes, nil, Options{
		Clock:          clock.Fake(time.Unix(0, 0)),
		ReplayNotifier: replays,
	})
	defer r.Clear()

	path := filepath.Join(t.TempDir(), "a.log")
	defs := []Definition{{Key: "a", Path: path, OnPattern: "status=1", OffPattern: "status=0"}}
	if err := r.Rebuild(defs); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "status=1\n")
	files.Fire(path)

	r.StopAll()
	r.ReplayCachedStates()
	if err := r.Rebuild(defs); err != nil {
		t.Fatal(err)
	}

	if changes.Len() != 1 {
		t.Errorf("change notifications = %+v, want only the real transition", changes.Calls())
	}
	if replays.Len() != 2 {
		t.Errorf("replays = %d, want 2 (explicit + rebuild)", replays.Len())
	}
}

func TestRegistry_StopAllThenReplay(t *testing.T) {
	f := newRegistryFixture(t)
	if err := f.registry.Rebuild([]Definition{f.def("a", "a.log"), f.def("b", "b.log")}); err != nil {
		t.Fatal(err)
	}

	writeFile(t, f.path("a.log"), "status=0\n")
	f.files.Fire(f.path("a.log"))
	f.notifier.Reset()

	f.registry.StopAll()
	if f.files.Active() != 0 {
		t.Fatalf("active subscriptions = %d, want 0", f.files.Active())
	}
	if f.registry.Len() != 2 {
		t.Fatalf("Len() = %d, want monitors kept after StopAll", f.registry.Len())
	}

	writeFile(t, f.path("a.log"), "status=1\n")
	f.files.Fire(f.path("a.log"))
	if f.notifier.Len() != 0 {
		t.Fatalf("stopped monitor notified: %+v", f.notifier.Calls())
	}

	if n := f.registry.ReplayCachedStates(); n != 1 {
		t.Errorf("replayed = %d, want 1 (b has no state)", n)
	}
	calls := f.notifier.Calls()
	if len(calls) != 1 || calls[0].State != domain.StateOff {
		t.Errorf("calls = %+v, want one OFF", calls)
	}
}

func TestRegistry_Clear(t *testing.T) {
	f := newRegistryFixture(t)
	if err := f.registry.Rebuild([]Definition{f.def("a", "a.log")}); err != nil {
		t.Fatal(err)
	}
	writeFile(t, f.path("a.log"), "status=1\n")
	f.files.Fire(f.path("a.log"))
	f.notifier.Reset()

	f.registry.Clear()

	if f.registry.Len() != 0 || f.files.Active() != 0 {
		t.Errorf("Len=%d active=%d, want 0 and 0", f.registry.Len(), f.files.Active())
	}
	if n := f.registry.ReplayCachedStates(); n != 0 || f.notifier.Len() != 0 {
		t.Errorf("replay after Clear sent %d notifications", f.notifier.Len())
	}
}

func TestRegistry_SnapshotSortedByKey(t *testing.T) {
	f := newRegistryFixture(t)
	if err := f.registry.Rebuild([]Definition{f.def("zeta", "z.log"), f.def("alpha", "a.log")}); err != nil {
		t.Fatal(err)
	}
	writeFile(t, f.path("z.log"), "status=1\n")
	f.files.Fire(f.path("z.log"))

	snap := f.registry.Snapshot()
	if len(snap) != 2 || snap[0].Key != "alpha" || snap[1].Key != "zeta" {
		t.Fatalf("Snapshot() = %+v", snap)
	}
	if snap[0].State != domain.StateUnknown || snap[1].State != domain.StateOn {
		t.Errorf("states = %v, %v; want UNKNOWN, ON", snap[0].State, snap[1].State)
	}
}

func TestRegistry_NilDiscovery(t *testing.T) {
	files := testutil.NewFakeFileSubscriber()
	r := NewRegistry(files, testutil.NewRecordingNotifier(), nil, Options{})
	defer r.Clear()

	def := Definition{Key: "a", Path: filepath.Join(t.TempDir(), "a.log"), OnPattern: "on", OffPattern: "off"}
	if err := r.Rebuild([]Definition{def}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
}
