// Package activity watches a login session's keyboard for input events.
// Process-wide there is at most one watcher running, bound to the session
// the directory most recently promoted.
package activity

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/kbshade/kbshade/internal/logging"
	"github.com/kbshade/kbshade/internal/taskslot"
)

var log = logging.L("watcher")

// InputSource enumerates input devices and opens raw event streams.
type InputSource interface {
	// Devices lists input device names visible under the given environment.
	Devices(ctx context.Context, env []string) ([]string, error)
	// Events opens a blocking stream of raw input events for the device.
	// The stream ends when ctx is cancelled or the device goes away.
	// Closing the returned stream reaps the underlying process.
	Events(ctx context.Context, env []string, device string) (io.ReadCloser, error)
}

// Watcher owns the single input-listening task.
type Watcher struct {
	src    InputSource
	notify func()
	slot   taskslot.Slot
}

// New creates a watcher that calls notify for every observed input event.
func New(src InputSource, notify func()) *Watcher {
	return &Watcher{src: src, notify: notify}
}

// Start begins watching the given session's keyboard. No-op while a watcher
// is already running for any session, which enforces the single-watcher
// invariant.
func (w *Watcher) Start(sessionID, display, user string) {
	if tag, running := w.slot.Tag(); running {
		log.Debug("watcher already running", logging.KeySession, tag)
		return
	}
	w.slot.Start(sessionID, func(ctx context.Context) {
		w.watch(ctx, sessionID, display, user)
	})
	log.Info("watcher started", logging.KeySession, sessionID, "display", display, "user", user)
}

// StopFor stops the watcher if it is bound to the given session.
func (w *Watcher) StopFor(sessionID string) {
	if tag, running := w.slot.Tag(); running && tag == sessionID {
		w.slot.Cancel()
		log.Info("watcher stopped", logging.KeySession, sessionID)
	}
}

// Stop stops whatever watcher is running. Safe to call when none is.
func (w *Watcher) Stop() {
	w.slot.Cancel()
}

// Running returns the watched session id, if a watcher is running.
func (w *Watcher) Running() (string, bool) {
	return w.slot.Tag()
}

// watch resolves the session's keyboard device and pumps its event stream
// until cancellation or stream failure. On failure it simply exits; the next
// directory refresh promotes an active session again and restarts it.
func (w *Watcher) watch(ctx context.Context, sessionID, display, user string) {
	env := append(os.Environ(),
		"DISPLAY="+display,
		"XAUTHORITY=/home/"+user+"/.Xauthority",
	)

	devices, err := w.src.Devices(ctx, env)
	if err != nil {
		log.Warn("listing input devices failed", logging.KeySession, sessionID, logging.KeyError, err)
		return
	}

	var device string
	for _, d := range devices {
		if strings.Contains(d, "keyboard") {
			device = d
			break
		}
	}
	if device == "" {
		log.Warn("no keyboard device found", logging.KeySession, sessionID, "display", display)
		return
	}

	stream, err := w.src.Events(ctx, env, device)
	if err != nil {
		log.Warn("opening event stream failed", logging.KeySession, sessionID, logging.KeyError, err)
		return
	}
	defer stream.Close()

	// The stream read does not observe ctx on its own; close it on
	// cancellation so the scanner unblocks.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-watchDone:
		}
	}()

	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.notify()
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Warn("event stream ended", logging.KeySession, sessionID, logging.KeyError, err)
	}
}
