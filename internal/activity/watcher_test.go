package activity

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSource serves a canned device list and a scripted event stream.
type fakeSource struct {
	devices    []string
	devicesErr error
	stream     io.ReadCloser
	gotDevice  atomic.Value // string
}

func (f *fakeSource) Devices(ctx context.Context, env []string) ([]string, error) {
	return f.devices, f.devicesErr
}

func (f *fakeSource) Events(ctx context.Context, env []string, device string) (io.ReadCloser, error) {
	f.gotDevice.Store(device)
	if f.stream == nil {
		return nil, errors.New("no stream")
	}
	return f.stream, nil
}

// blockingStream yields queued lines, then blocks until closed.
type blockingStream struct {
	lines  chan string
	closed chan struct{}
}

func newBlockingStream() *blockingStream {
	return &blockingStream{
		lines:  make(chan string, 16),
		closed: make(chan struct{}),
	}
}

func (s *blockingStream) Read(p []byte) (int, error) {
	select {
	case line := <-s.lines:
		return copy(p, line+"\n"), nil
	case <-s.closed:
		return 0, io.EOF
	}
}

func (s *blockingStream) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWatcherNotifiesPerEvent(t *testing.T) {
	stream := newBlockingStream()
	src := &fakeSource{
		devices: []string{"Virtual core pointer", "AT Translated Set 2 keyboard"},
		stream:  stream,
	}

	var events atomic.Int32
	w := New(src, func() { events.Add(1) })
	w.Start("s1", ":0", "alice")
	defer w.Stop()

	stream.lines <- "EVENT type 2 (KeyPress)"
	stream.lines <- "EVENT type 3 (KeyRelease)"

	waitFor(t, func() bool { return events.Load() == 2 }, "expected two activity notifications")

	if got := src.gotDevice.Load(); got != "AT Translated Set 2 keyboard" {
		t.Fatalf("device = %v, want the first keyboard match", got)
	}
}

func TestSecondStartIsNoOp(t *testing.T) {
	stream := newBlockingStream()
	src := &fakeSource{devices: []string{"AT Translated Set 2 keyboard"}, stream: stream}

	w := New(src, func() {})
	w.Start("s1", ":0", "alice")
	defer w.Stop()

	waitFor(t, func() bool { _, running := w.Running(); return running }, "watcher did not start")

	w.Start("s2", ":1", "bob")

	if id, running := w.Running(); !running || id != "s1" {
		t.Fatalf("Running() = %q, %v; the first watcher must keep the slot", id, running)
	}
}

func TestStopForOnlyStopsOwnSession(t *testing.T) {
	stream := newBlockingStream()
	src := &fakeSource{devices: []string{"AT Translated Set 2 keyboard"}, stream: stream}

	w := New(src, func() {})
	w.Start("s1", ":0", "alice")
	waitFor(t, func() bool { _, running := w.Running(); return running }, "watcher did not start")

	w.StopFor("s2")
	if _, running := w.Running(); !running {
		t.Fatal("StopFor of another session must not stop the watcher")
	}

	w.StopFor("s1")
	if _, running := w.Running(); running {
		t.Fatal("StopFor of the watched session must stop the watcher")
	}
}

func TestNoKeyboardDeviceExitsQuietly(t *testing.T) {
	src := &fakeSource{devices: []string{"Virtual core pointer"}}

	var events atomic.Int32
	w := New(src, func() { events.Add(1) })
	w.Start("s1", ":0", "alice")

	waitFor(t, func() bool { _, running := w.Running(); return !running }, "watcher should exit without a keyboard")

	if events.Load() != 0 {
		t.Fatal("no events should be delivered without a device")
	}

	// A later promotion may start a new watcher.
	stream := newBlockingStream()
	src.devices = []string{"AT Translated Set 2 keyboard"}
	src.stream = stream
	w.Start("s1", ":0", "alice")
	defer w.Stop()
	waitFor(t, func() bool { _, running := w.Running(); return running }, "watcher should restart after device appears")
}

func TestStreamEndLeavesSessionUnwatched(t *testing.T) {
	stream := newBlockingStream()
	src := &fakeSource{devices: []string{"AT Translated Set 2 keyboard"}, stream: stream}

	w := New(src, func() {})
	w.Start("s1", ":0", "alice")
	waitFor(t, func() bool { _, running := w.Running(); return running }, "watcher did not start")

	stream.Close() // device/process failure
	waitFor(t, func() bool { _, running := w.Running(); return !running }, "watcher should exit when the stream ends")
}
