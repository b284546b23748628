// Package daemon runs the idle-timer loop that ties the session directory,
// the activity watcher, and the fade controller together.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kbshade/kbshade/internal/activity"
	"github.com/kbshade/kbshade/internal/backlight"
	"github.com/kbshade/kbshade/internal/config"
	"github.com/kbshade/kbshade/internal/health"
	"github.com/kbshade/kbshade/internal/ipc"
	"github.com/kbshade/kbshade/internal/logging"
	"github.com/kbshade/kbshade/internal/sessiondir"
	"github.com/kbshade/kbshade/internal/state"
	"github.com/kbshade/kbshade/internal/workerpool"
)

var log = logging.L("daemon")

// drainTimeout bounds the worker pool drain during shutdown.
const drainTimeout = 5 * time.Second

// Deps are the external surfaces the daemon drives, injectable in tests.
type Deps struct {
	Device  backlight.Device
	Manager sessiondir.SessionManager
	Bus     sessiondir.BusClient
	Procs   sessiondir.ProcessIndex
	Input   activity.InputSource
	Version string
}

// relaxer is implemented by devices whose control files need their
// permissions opened up once at startup.
type relaxer interface {
	Relax() error
}

// Daemon owns the idle loop. All session state is confined to the loop
// goroutine; the fade controller and watcher are safe to poke from the
// control socket as well.
type Daemon struct {
	cfg  *config.Config
	deps Deps

	fade    *backlight.Controller
	watcher *activity.Watcher
	dir     *sessiondir.Directory
	pool    *workerpool.Pool
	health  *health.Monitor

	idle     time.Duration
	activity chan struct{}
	fatal    chan error
	started  time.Time

	mu       sync.Mutex
	sessions []ipc.SessionInfo
}

// New wires a daemon from its configuration and dependencies.
func New(cfg *config.Config, deps Deps) *Daemon {
	d := &Daemon{
		cfg:      cfg,
		deps:     deps,
		idle:     cfg.IdleTimeout(),
		activity: make(chan struct{}, 1),
		fatal:    make(chan error, 1),
		health:   health.NewMonitor(),
		pool:     workerpool.New(2, 8),
	}
	d.fade = backlight.NewController(deps.Device, cfg.FadeTick(), d.hardwareFailure)
	d.watcher = activity.New(deps.Input, d.Activity)
	d.dir = sessiondir.New(deps.Manager, deps.Bus, deps.Procs, d.watcher,
		cfg.IgnoreUsers, cfg.DisplayServerNames, d.Activity)
	return d
}

// Activity records user input. Safe from any goroutine; back-to-back
// signals coalesce into one.
func (d *Daemon) Activity() {
	select {
	case d.activity <- struct{}{}:
	default:
	}
}

// Run restores the persisted backlight snapshot, serves the control socket,
// and drives the idle loop until ctx is cancelled or a fatal error occurs.
// The shutdown persistence path runs in every case, fatal errors included.
func (d *Daemon) Run(ctx context.Context) error {
	log.Info("daemon starting",
		"version", d.deps.Version,
		"idleTimeout", d.idle,
		"backlightDir", d.cfg.BacklightDir)
	d.started = time.Now()

	var runErr error
	if err := d.restore(); err != nil {
		d.health.Update(health.ComponentBacklight, health.Unhealthy, err.Error())
		runErr = err
	} else {
		d.health.Update(health.ComponentBacklight, health.Healthy, "")

		var srv *ipc.Server
		if d.cfg.SocketPath != "" {
			srv = ipc.NewServer(d.cfg.SocketPath, d)
			go func() {
				if err := srv.Listen(ctx); err != nil {
					log.Error("control socket failed", logging.KeyError, err)
				}
			}()
		}

		runErr = d.loop(ctx)
		if srv != nil {
			srv.Close()
		}
	}

	d.shutdown()
	return runErr
}

// loop arms the idle timer, rearms it after every expiry, and lets activity
// win any race against the idle action: both are serviced here, and the
// activity branch runs before a pending turn-off can start.
func (d *Daemon) loop(ctx context.Context) error {
	for {
		timer := time.NewTimer(d.idle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case err := <-d.fatal:
			timer.Stop()
			return err
		case <-d.activity:
			timer.Stop()
			d.fade.TurnOn()
		case <-timer.C:
			hold, err := d.refresh(ctx)
			if err != nil {
				return err
			}
			// Activity that arrived while the refresh ran wins over dimming.
			select {
			case <-d.activity:
				d.fade.TurnOn()
			default:
				// The watched session sat through the whole timeout without
				// input. Empty machines and sessions first seen on this
				// cycle are left alone.
				if !hold {
					d.fade.TurnOff()
				}
			}
		}
	}
}

type refreshResult struct {
	hold bool
	err  error
}

// refresh runs the session scan on a pool worker so the loop stays
// responsive to cancellation while external queries block.
func (d *Daemon) refresh(ctx context.Context) (bool, error) {
	res := make(chan refreshResult, 1)
	ok := d.pool.Submit(func() {
		hold, err := d.dir.Refresh(ctx)
		res <- refreshResult{hold: hold, err: err}
	})
	if !ok {
		return false, errors.New("daemon: worker pool rejected session refresh")
	}

	select {
	case <-ctx.Done():
		// Shutting down; no dim starts on the way out.
		return true, nil
	case r := <-res:
		if r.err != nil {
			d.health.Update(health.ComponentSessions, health.Unhealthy, r.err.Error())
			return false, fmt.Errorf("session refresh: %w", r.err)
		}
		d.health.Update(health.ComponentSessions, health.Healthy, "")
		d.publishSnapshot()
		return r.hold, nil
	}
}

// publishSnapshot copies the loop-confined session registry into the
// mutex-guarded view the control socket reads from.
func (d *Daemon) publishSnapshot() {
	all := d.dir.All()
	infos := make([]ipc.SessionInfo, 0, len(all))
	for _, s := range all {
		infos = append(infos, ipc.SessionInfo{
			ID:      s.ID,
			User:    s.User,
			Seat:    s.Seat,
			Display: s.Display,
		})
	}

	d.mu.Lock()
	d.sessions = infos
	d.mu.Unlock()

	if id, running := d.watcher.Running(); running {
		d.health.Update(health.ComponentWatcher, health.Healthy, "watching session "+id)
	} else {
		d.health.Update(health.ComponentWatcher, health.Degraded, "no session watched")
	}
}

// restore writes the persisted color and brightness back into the hardware
// and relaxes the control file permissions. Called once before the loop.
func (d *Daemon) restore() error {
	snap, err := state.Load(d.cfg.StateDir)
	if err != nil {
		log.Warn("state snapshot unreadable, starting fresh", logging.KeyError, err)
		snap = nil
	}
	if snap != nil {
		if snap.Color != "" {
			if err := d.deps.Device.SetColor(snap.Color); err != nil {
				return fmt.Errorf("restore color: %w", err)
			}
		}
		if d.cfg.RestoreBrightness {
			if err := d.deps.Device.SetBrightness(snap.Brightness); err != nil {
				return fmt.Errorf("restore brightness: %w", err)
			}
		}
		log.Info("restored backlight snapshot",
			"brightness", snap.Brightness, "savedAt", snap.SavedAt)
	}

	if r, ok := d.deps.Device.(relaxer); ok {
		if err := r.Relax(); err != nil {
			return fmt.Errorf("relax control files: %w", err)
		}
	}
	return nil
}

// shutdown drains the workers, stops the watcher and any in-flight fade,
// and persists the backlight snapshot.
func (d *Daemon) shutdown() {
	// Drain first: a refresh still in flight may promote a session and
	// start its watcher, which must not survive the stop below.
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	d.pool.Shutdown(drainCtx)

	d.watcher.Stop()
	interrupted := d.fade.Stop()

	d.persist(interrupted)
	log.Info("daemon stopped")
}

// persist writes the snapshot the next startup restores. A dimmed backlight
// persists the pre-dim level, not the zero currently in the hardware, and a
// fade cut short by shutdown persists the saved level rather than whatever
// half-faded value the animation had reached.
func (d *Daemon) persist(interrupted bool) {
	st := d.fade.State()
	snap := state.Snapshot{SavedAt: time.Now()}

	if st.IsOff || interrupted {
		snap.Brightness = st.Saved
	} else if v, err := d.deps.Device.Brightness(); err == nil {
		snap.Brightness = v
	} else {
		log.Warn("reading brightness for snapshot failed", logging.KeyError, err)
		snap.Brightness = st.Saved
	}

	if c, err := d.deps.Device.Color(); err == nil {
		snap.Color = c
	} else {
		log.Warn("reading color for snapshot failed", logging.KeyError, err)
	}

	if err := state.Save(d.cfg.StateDir, snap); err != nil {
		log.Error("persisting backlight snapshot failed", logging.KeyError, err)
		return
	}
	log.Info("persisted backlight snapshot", "brightness", snap.Brightness)
}

// hardwareFailure is the fade controller's abort callback. Hardware write
// failures are fatal; the loop exits through the persistence path.
func (d *Daemon) hardwareFailure(err error) {
	d.health.Update(health.ComponentBacklight, health.Unhealthy, err.Error())
	select {
	case d.fatal <- err:
	default:
	}
}

// Status implements the control socket handler.
func (d *Daemon) Status(ctx context.Context) (*ipc.StatusReply, error) {
	st := d.fade.State()

	d.mu.Lock()
	sessions := d.sessions
	d.mu.Unlock()

	reply := &ipc.StatusReply{
		BacklightOff:    st.IsOff,
		Fading:          st.Fading != "",
		Brightness:      st.Current,
		SavedBrightness: st.Saved,
		Sessions:        sessions,
		Version:         d.deps.Version,
		UptimeSeconds:   int64(time.Since(d.started).Seconds()),
	}
	if id, running := d.watcher.Running(); running {
		reply.WatchedSession = id
	}
	for _, c := range d.health.All() {
		reply.Health = append(reply.Health, ipc.HealthEntry{
			Component: c.Name,
			Status:    string(c.Status),
			Detail:    c.Message,
		})
	}
	return reply, nil
}

// Wake implements the control socket handler; it counts as user activity.
func (d *Daemon) Wake(ctx context.Context) error {
	d.Activity()
	return nil
}

// Dim implements the control socket handler; it forces the fade-to-off
// without waiting for the idle timer.
func (d *Daemon) Dim(ctx context.Context) error {
	d.fade.TurnOff()
	return nil
}
