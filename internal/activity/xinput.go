package activity

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// XInputSource implements InputSource with the xinput CLI, which is the
// interface the X server actually exposes for raw device event streams.
type XInputSource struct{}

func (XInputSource) Devices(ctx context.Context, env []string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "xinput", "list", "--name-only")
	cmd.Env = env
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("xinput list: %w", err)
	}

	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

func (XInputSource) Events(ctx context.Context, env []string, device string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, "xinput", "test-xi2", "--root", device)
	cmd.Env = env
	// Terminate rather than kill so the subprocess is not cut off
	// mid-write; WaitDelay covers a listener that ignores the signal.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("xinput test-xi2 pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("xinput test-xi2: %w", err)
	}

	return &eventStream{ReadCloser: stdout, cmd: cmd}, nil
}

// eventStream reaps the xinput process when the stream is closed.
// Close is idempotent: the watcher closes it both on exit and on
// cancellation.
type eventStream struct {
	io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
	err  error
}

func (s *eventStream) Close() error {
	s.once.Do(func() {
		s.ReadCloser.Close()
		s.err = s.cmd.Wait()
	})
	return s.err
}
