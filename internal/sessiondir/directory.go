// Package sessiondir tracks OS login sessions and decides whether anyone is
// using a graphical seat. It consumes the systemd-logind query surface and
// falls back to display-server process inspection when logind cannot report
// a display for an otherwise active session.
package sessiondir

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kbshade/kbshade/internal/logging"
)

var log = logging.L("sessions")

// ErrSessionGone reports that a per-session query failed because the session
// no longer exists. It is recovered locally by deregistering the session,
// unlike enumeration failures which are fatal.
var ErrSessionGone = errors.New("sessiondir: session no longer exists")

// Session is one tracked login session.
type Session struct {
	ID   string
	User string
	Seat string

	// Display is the last resolved display identifier. It is cached across
	// refreshes only when the session manager reported it directly; a
	// display recovered from a pid binding is re-checked every time because
	// the underlying process can die.
	Display     string
	fromManager bool
}

// SessionManager is the logind query surface (loginctl).
type SessionManager interface {
	// ListSessions returns all current session ids.
	ListSessions(ctx context.Context) ([]string, error)
	// SessionProperties returns the named properties of one session.
	// A vanished session yields an error wrapping ErrSessionGone.
	SessionProperties(ctx context.Context, id string, props ...string) (map[string]string, error)
}

// BusClient resolves a display-server pid to the owning session id.
type BusClient interface {
	SessionByPID(ctx context.Context, pid int32) (string, error)
}

// ProcessIndex inspects running processes.
type ProcessIndex interface {
	// PIDsOf returns the pids of processes whose name matches any of names.
	PIDsOf(names []string) ([]int32, error)
	// Cmdline returns the argument vector of a process, or an error if the
	// process is gone.
	Cmdline(pid int32) ([]string, error)
}

// WatcherControl is how the directory starts and stops the input watcher for
// the session it promotes.
type WatcherControl interface {
	Start(sessionID, display, user string)
	StopFor(sessionID string)
}

// Directory is the registry of tracked sessions. It is confined to the
// daemon loop goroutine and needs no locking.
type Directory struct {
	mgr      SessionManager
	bus      BusClient
	procs    ProcessIndex
	watchers WatcherControl

	ignore      map[string]struct{}
	serverNames []string

	// wake requests an immediate backlight turn-on when display resolution
	// turns ambiguous (possibly-active session with a dead pid binding).
	wake func()

	sessions   map[string]*Session
	lastActive string
	pids       map[string]int32 // session id -> display server pid
}

func New(mgr SessionManager, bus BusClient, procs ProcessIndex, watchers WatcherControl, ignoreUsers, serverNames []string, wake func()) *Directory {
	ignore := make(map[string]struct{}, len(ignoreUsers))
	for _, u := range ignoreUsers {
		ignore[u] = struct{}{}
	}
	return &Directory{
		mgr:         mgr,
		bus:         bus,
		procs:       procs,
		watchers:    watchers,
		ignore:      ignore,
		serverNames: serverNames,
		wake:        wake,
		sessions:    make(map[string]*Session),
		pids:        make(map[string]int32),
	}
}

// Refresh re-evaluates session state and reports whether the backlight
// should be left alone this cycle. A false return means the tracked session
// was already under watch and sat through the caller's entire timeout. True
// means nobody holds an active graphical session, or the active one was
// discovered only on this pass and its watcher has not been given a full
// idle window yet. Errors are fatal enumeration failures.
func (d *Directory) Refresh(ctx context.Context) (bool, error) {
	// Fast path: the session that was active last time usually still is.
	if s, ok := d.sessions[d.lastActive]; ok && d.isActive(ctx, s) {
		return false, nil
	}

	for _, id := range d.sortedIDs() {
		s, ok := d.sessions[id]
		if !ok {
			continue // dropped by a session-gone error mid-scan
		}
		if d.isActive(ctx, s) {
			d.promote(s)
			return false, nil
		}
	}

	// Nobody among the tracked sessions is active: rebind display-server
	// pids and pick up sessions that appeared since the last full scan.
	d.lastActive = ""
	if err := d.rebindPIDs(ctx); err != nil {
		return false, err
	}

	ids, err := d.mgr.ListSessions(ctx)
	if err != nil {
		return false, fmt.Errorf("list sessions: %w", err)
	}
	for _, id := range ids {
		if _, ok := d.sessions[id]; ok {
			continue
		}
		s := &Session{ID: id}
		d.sessions[id] = s
		log.Debug("session discovered", logging.KeySession, id)
		if d.lastActive == "" && d.isActive(ctx, s) {
			d.promote(s)
		}
	}

	// A session promoted on this discovery pass has not been watched for a
	// full timeout yet; its watcher gets a whole idle window before the
	// backlight may dim.
	return true, nil
}

// Tracked returns the id of the currently tracked (last active) session.
func (d *Directory) Tracked() string {
	return d.lastActive
}

// Sessions returns the ids of all tracked sessions.
func (d *Directory) Sessions() []string {
	return d.sortedIDs()
}

// All returns copies of the tracked sessions, ordered by id.
func (d *Directory) All() []Session {
	out := make([]Session, 0, len(d.sessions))
	for _, id := range d.sortedIDs() {
		out = append(out, *d.sessions[id])
	}
	return out
}

func (d *Directory) promote(s *Session) {
	d.lastActive = s.ID
	d.watchers.Start(s.ID, s.Display, s.User)
}

// isActive reports whether the manager considers the session active, it is
// assigned to a seat, a display can be resolved for it, and its user is not
// on the ignore list. Any per-session query failure deregisters the session.
func (d *Directory) isActive(ctx context.Context, s *Session) bool {
	props, err := d.mgr.SessionProperties(ctx, s.ID, "Active", "Seat", "Name")
	if err != nil {
		log.Info("dropping session", logging.KeySession, s.ID, logging.KeyError, err)
		d.drop(s.ID)
		return false
	}

	s.User = props["Name"]
	s.Seat = props["Seat"]
	if _, ignored := d.ignore[s.User]; ignored {
		return false
	}
	if props["Active"] != "yes" || s.Seat == "" {
		return false
	}
	return d.resolveDisplay(ctx, s) != ""
}

// resolveDisplay finds the session's graphical display: from the cache, from
// the manager, or from the bound display-server process's :N argument. A
// dead binding is dropped and triggers a wake request rather than letting
// the backlight dim while a display might still be live.
func (d *Directory) resolveDisplay(ctx context.Context, s *Session) string {
	if s.fromManager {
		return s.Display
	}

	props, err := d.mgr.SessionProperties(ctx, s.ID, "Display")
	if err != nil {
		log.Info("dropping session", logging.KeySession, s.ID, logging.KeyError, err)
		d.drop(s.ID)
		return ""
	}
	if display := props["Display"]; display != "" {
		s.Display = display
		s.fromManager = true
		return display
	}

	pid, bound := d.pids[s.ID]
	if !bound {
		return ""
	}
	if args, err := d.procs.Cmdline(pid); err == nil {
		for _, arg := range args {
			if strings.HasPrefix(arg, ":") {
				s.Display = arg
				return arg
			}
		}
	}

	// The bound process is gone or no longer names a display. Ambiguous:
	// treat as possibly-active and ask for the backlight to come on.
	delete(d.pids, s.ID)
	log.Warn("display binding lost, requesting wake", logging.KeySession, s.ID, "pid", pid)
	if d.wake != nil {
		d.wake()
	}
	return ""
}

// rebindPIDs rebuilds the pid-to-session binding table from the display
// server processes currently running.
func (d *Directory) rebindPIDs(ctx context.Context) error {
	pids, err := d.procs.PIDsOf(d.serverNames)
	if err != nil {
		return fmt.Errorf("list display servers: %w", err)
	}

	bound := make(map[int32]bool, len(d.pids))
	for _, pid := range d.pids {
		bound[pid] = true
	}

	for _, pid := range pids {
		if bound[pid] {
			continue
		}
		id, err := d.bus.SessionByPID(ctx, pid)
		if err != nil {
			log.Debug("no session for display server", "pid", pid, logging.KeyError, err)
			continue
		}
		d.pids[id] = pid
	}
	return nil
}

func (d *Directory) drop(id string) {
	delete(d.sessions, id)
	delete(d.pids, id)
	d.watchers.StopFor(id)
	if d.lastActive == id {
		d.lastActive = ""
	}
}

func (d *Directory) sortedIDs() []string {
	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
