package sessiondir

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
)

type fakeManager struct {
	sessions map[string]map[string]string
	listErr  error
}

func (f *fakeManager) ListSessions(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	ids := make([]string, 0, len(f.sessions))
	for id := range f.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeManager) SessionProperties(ctx context.Context, id string, props ...string) (map[string]string, error) {
	p, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionGone, id)
	}
	return p, nil
}

type fakeBus struct {
	byPID map[int32]string
}

func (f *fakeBus) SessionByPID(ctx context.Context, pid int32) (string, error) {
	id, ok := f.byPID[pid]
	if !ok {
		return "", errors.New("no such process")
	}
	return id, nil
}

type fakeProcs struct {
	pids     []int32
	pidsErr  error
	cmdlines map[int32][]string
}

func (f *fakeProcs) PIDsOf(names []string) ([]int32, error) {
	return f.pids, f.pidsErr
}

func (f *fakeProcs) Cmdline(pid int32) ([]string, error) {
	args, ok := f.cmdlines[pid]
	if !ok {
		return nil, errors.New("process gone")
	}
	return args, nil
}

type fakeWatchers struct {
	started []string // "id@display"
	stopped []string
}

func (f *fakeWatchers) Start(sessionID, display, user string) {
	f.started = append(f.started, sessionID+"@"+display)
}

func (f *fakeWatchers) StopFor(sessionID string) {
	f.stopped = append(f.stopped, sessionID)
}

func activeSession(user, display string) map[string]string {
	return map[string]string{
		"Active":  "yes",
		"Seat":    "seat0",
		"Name":    user,
		"Display": display,
	}
}

func newTestDirectory(mgr *fakeManager, bus *fakeBus, procs *fakeProcs, wake func()) (*Directory, *fakeWatchers) {
	w := &fakeWatchers{}
	d := New(mgr, bus, procs, w, []string{"lightdm"}, []string{"Xorg"}, wake)
	return d, w
}

func TestRefreshPromotesActiveSession(t *testing.T) {
	mgr := &fakeManager{sessions: map[string]map[string]string{
		"s1": activeSession("alice", ":0"),
	}}
	d, w := newTestDirectory(mgr, &fakeBus{}, &fakeProcs{}, nil)

	hold, err := d.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !hold {
		t.Fatal("a session promoted on the discovery pass gets a full idle window first")
	}
	if got := d.Tracked(); got != "s1" {
		t.Fatalf("Tracked() = %q, want s1", got)
	}
	if len(w.started) != 1 || w.started[0] != "s1@:0" {
		t.Fatalf("watcher starts = %v, want [s1@:0]", w.started)
	}
}

func TestDiscoveryCycleDoesNotDim(t *testing.T) {
	mgr := &fakeManager{sessions: map[string]map[string]string{
		"s1": activeSession("alice", ":0"),
	}}
	d, _ := newTestDirectory(mgr, &fakeBus{}, &fakeProcs{}, nil)

	hold, err := d.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !hold {
		t.Fatal("the cycle that first sees a session must not dim it")
	}

	hold, err = d.Refresh(context.Background())
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if hold {
		t.Fatal("a session watched through a full timeout is dim-eligible")
	}
}

func TestRefreshFastPathSkipsRescan(t *testing.T) {
	mgr := &fakeManager{sessions: map[string]map[string]string{
		"s1": activeSession("alice", ":0"),
	}}
	d, w := newTestDirectory(mgr, &fakeBus{}, &fakeProcs{}, nil)

	if _, err := d.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	hold, err := d.Refresh(context.Background())
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if hold {
		t.Fatal("a still-active watched session is dim-eligible")
	}
	if len(w.started) != 1 {
		t.Fatalf("fast path should not restart the watcher, starts = %v", w.started)
	}
}

func TestRefreshReportsIdleWhenNoSessions(t *testing.T) {
	d, w := newTestDirectory(&fakeManager{sessions: map[string]map[string]string{}}, &fakeBus{}, &fakeProcs{}, nil)

	hold, err := d.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !hold {
		t.Fatal("an empty machine must not be dimmed")
	}
	if len(w.started) != 0 {
		t.Fatalf("no watcher should start, got %v", w.started)
	}
}

func TestIgnoredUserNeverPromoted(t *testing.T) {
	mgr := &fakeManager{sessions: map[string]map[string]string{
		"greeter": activeSession("lightdm", ":0"),
	}}
	d, w := newTestDirectory(mgr, &fakeBus{}, &fakeProcs{}, nil)

	hold, err := d.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !hold {
		t.Fatal("a session owned by an ignored user must not count as active")
	}
	if len(w.started) != 0 {
		t.Fatalf("ignored user must not get a watcher, got %v", w.started)
	}
}

func TestVanishedSessionIsDeregistered(t *testing.T) {
	mgr := &fakeManager{sessions: map[string]map[string]string{
		"s1": activeSession("alice", ":0"),
	}}
	d, w := newTestDirectory(mgr, &fakeBus{}, &fakeProcs{}, nil)

	if _, err := d.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	delete(mgr.sessions, "s1")
	hold, err := d.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh after session vanished: %v", err)
	}
	if !hold {
		t.Fatal("a vanished session leaves nothing to dim")
	}
	if len(w.stopped) == 0 || w.stopped[0] != "s1" {
		t.Fatalf("watcher for the vanished session should be stopped, got %v", w.stopped)
	}
	if got := d.Sessions(); len(got) != 0 {
		t.Fatalf("registry should be empty, got %v", got)
	}
}

func TestPidBindingResolvesMissingDisplay(t *testing.T) {
	props := activeSession("bob", "")
	mgr := &fakeManager{sessions: map[string]map[string]string{"s2": props}}
	bus := &fakeBus{byPID: map[int32]string{100: "s2"}}
	procs := &fakeProcs{
		pids:     []int32{100},
		cmdlines: map[int32][]string{100: {"/usr/lib/Xorg", ":1", "-seat", "seat0"}},
	}
	d, w := newTestDirectory(mgr, bus, procs, nil)

	hold, err := d.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !hold {
		t.Fatal("the discovery pass holds even when the display resolved via a pid")
	}
	if len(w.started) != 1 || w.started[0] != "s2@:1" {
		t.Fatalf("watcher starts = %v, want [s2@:1]", w.started)
	}

	hold, err = d.Refresh(context.Background())
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if hold {
		t.Fatal("a watched session with a pid-resolved display is dim-eligible")
	}
}

func TestDeadPidBindingRequestsWake(t *testing.T) {
	props := activeSession("bob", "")
	mgr := &fakeManager{sessions: map[string]map[string]string{"s2": props}}
	bus := &fakeBus{byPID: map[int32]string{100: "s2"}}
	procs := &fakeProcs{
		pids:     []int32{100},
		cmdlines: map[int32][]string{}, // bound process is gone
	}

	woken := 0
	d, w := newTestDirectory(mgr, bus, procs, func() { woken++ })

	hold, err := d.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !hold {
		t.Fatal("an unresolvable display must not count as active")
	}
	if woken != 1 {
		t.Fatalf("wake requests = %d, want 1", woken)
	}
	if len(w.started) != 0 {
		t.Fatalf("no watcher should start, got %v", w.started)
	}

	// The binding is dropped, so the next refresh must not wake again.
	if _, err := d.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if woken != 1 {
		t.Fatalf("dead binding should only wake once, got %d", woken)
	}
}

func TestEnumerationFailureIsFatal(t *testing.T) {
	mgr := &fakeManager{
		sessions: map[string]map[string]string{},
		listErr:  errors.New("dbus is down"),
	}
	d, _ := newTestDirectory(mgr, &fakeBus{}, &fakeProcs{}, nil)

	if _, err := d.Refresh(context.Background()); err == nil {
		t.Fatal("list-sessions failure must propagate")
	}
}

func TestDisplayServerScanFailureIsFatal(t *testing.T) {
	d, _ := newTestDirectory(
		&fakeManager{sessions: map[string]map[string]string{}},
		&fakeBus{},
		&fakeProcs{pidsErr: errors.New("proc unreadable")},
		nil,
	)

	if _, err := d.Refresh(context.Background()); err == nil {
		t.Fatal("display server scan failure must propagate")
	}
}
