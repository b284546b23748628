// Package backlight animates the keyboard backlight between off and the
// saved brightness level. At most one fade runs at a time; requesting the
// direction already in flight is a no-op, requesting the opposite direction
// reverses the animation from wherever it currently is.
package backlight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kbshade/kbshade/internal/logging"
	"github.com/kbshade/kbshade/internal/taskslot"
)

var log = logging.L("backlight")

// Fade direction tags used in the task slot.
const (
	DirOff = "off"
	DirOn  = "on"
)

// State is a snapshot of the controller's backlight state.
type State struct {
	IsOff   bool   `json:"isOff"`
	Current int    `json:"current"`
	Saved   int    `json:"saved"`
	Fading  string `json:"fading,omitempty"` // "on", "off", or empty
}

// Controller owns the backlight state and the single in-flight fade task.
// Only the fade task writes brightness, and the slot waits for a cancelled
// fade to exit before starting its replacement, so the hardware file has
// one writer at a time.
type Controller struct {
	dev     Device
	tick    time.Duration
	onError func(error)

	slot taskslot.Slot

	mu      sync.Mutex
	isOff   bool
	current int
	saved   int
}

// NewController creates a fade controller over dev with the given tick
// cadence. onError, if non-nil, is invoked when a hardware write fails and
// the current animation is aborted.
func NewController(dev Device, tick time.Duration, onError func(error)) *Controller {
	return &Controller{
		dev:     dev,
		tick:    tick,
		onError: onError,
	}
}

// TurnOff fades the backlight down to zero. No-op if the backlight is
// already off or a fade-off is in flight. An in-flight fade-on is cancelled
// and the animation reverses from the last written brightness.
func (c *Controller) TurnOff() {
	if tag, running := c.slot.Tag(); running {
		if tag == DirOff {
			return
		}
		// Reversing a fade-on: keep the captured saved level and descend
		// from wherever the brightening got to.
		c.slot.Start(DirOff, func(ctx context.Context) { c.runFade(ctx, DirOff, false) })
		return
	}

	c.mu.Lock()
	off := c.isOff
	c.mu.Unlock()
	if off {
		return
	}

	// Fresh dim from the resting state: capture the hardware level first so
	// the fade-on knows where to return to.
	c.slot.Start(DirOff, func(ctx context.Context) { c.runFade(ctx, DirOff, true) })
}

// TurnOn fades the backlight back up to the saved level. No-op if a fade-on
// is in flight, and a no-op entirely when the backlight is on and nothing is
// being dimmed (there is nothing to reverse).
func (c *Controller) TurnOn() {
	if tag, running := c.slot.Tag(); running {
		if tag == DirOn {
			return
		}
		c.slot.Start(DirOn, func(ctx context.Context) { c.runFade(ctx, DirOn, false) })
		return
	}

	c.mu.Lock()
	off := c.isOff
	c.mu.Unlock()
	if !off {
		return
	}

	c.slot.Start(DirOn, func(ctx context.Context) { c.runFade(ctx, DirOn, false) })
}

// Stop cancels any in-flight fade without animating and marks the off state
// from the fade's direction. It reports whether a fade was interrupted, so
// shutdown can persist the saved level instead of a half-faded one. Used on
// daemon shutdown.
func (c *Controller) Stop() bool {
	tag, running := c.slot.Tag()
	c.slot.Cancel()
	if running {
		c.mu.Lock()
		c.isOff = tag == DirOff
		c.mu.Unlock()
	}
	return running
}

// Wait blocks until the in-flight fade, if any, has finished.
func (c *Controller) Wait() {
	c.slot.Wait()
}

// State returns a snapshot of the backlight state.
func (c *Controller) State() State {
	tag, running := c.slot.Tag()

	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		IsOff:   c.isOff,
		Current: c.current,
		Saved:   c.saved,
	}
	if running {
		st.Fading = tag
	}
	return st
}

// runFade steps the brightness one unit per tick toward zero (off) or the
// saved level (on). Cancellation is checked before every write, so a
// cancelled fade leaves the brightness at the last value it wrote and the
// next fade resumes from there.
func (c *Controller) runFade(ctx context.Context, dir string, capture bool) {
	if capture {
		v, err := c.dev.Brightness()
		if err != nil {
			c.fail(fmt.Errorf("capture brightness: %w", err))
			return
		}
		c.mu.Lock()
		c.saved = v
		c.current = v
		c.mu.Unlock()
	}

	for {
		c.mu.Lock()
		cur, saved := c.current, c.saved
		c.mu.Unlock()

		var next int
		if dir == DirOff {
			if cur <= 0 {
				break
			}
			next = cur - 1
		} else {
			if cur >= saved {
				break
			}
			next = cur + 1
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.dev.SetBrightness(next); err != nil {
			c.fail(fmt.Errorf("fade %s: %w", dir, err))
			return
		}
		c.mu.Lock()
		c.current = next
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.tick):
		}
	}

	// The off state is announced only once the animation has run to
	// completion; a cancelled fade leaves it untouched.
	c.mu.Lock()
	c.isOff = dir == DirOff
	c.mu.Unlock()
	log.Debug("fade complete", "direction", dir)
}

func (c *Controller) fail(err error) {
	log.Error("fade aborted", logging.KeyError, err)
	if c.onError != nil {
		c.onError(err)
	}
}
