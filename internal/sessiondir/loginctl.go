package sessiondir

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes an external command and returns its stdout.
// Swappable in tests.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// LoginctlManager queries systemd-logind through the loginctl CLI.
type LoginctlManager struct {
	run CommandRunner
}

func NewLoginctlManager() *LoginctlManager {
	return &LoginctlManager{run: execOutput}
}

func (m *LoginctlManager) ListSessions(ctx context.Context) ([]string, error) {
	out, err := m.run(ctx, "loginctl", "list-sessions", "--no-legend", "--no-pager")
	if err != nil {
		return nil, fmt.Errorf("loginctl list-sessions: %w", err)
	}

	var ids []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 1 {
			continue
		}
		ids = append(ids, fields[0])
	}
	return ids, nil
}

func (m *LoginctlManager) SessionProperties(ctx context.Context, id string, props ...string) (map[string]string, error) {
	args := []string{"show-session"}
	for _, p := range props {
		args = append(args, "-p", p)
	}
	args = append(args, id)

	out, err := m.run(ctx, "loginctl", args...)
	if err != nil {
		// loginctl exits non-zero when the session id is unknown. A failure
		// to launch loginctl at all is a different, fatal-grade problem,
		// but show-session is only ever called after a successful
		// enumeration, so the session-gone reading is the right one.
		if _, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("%w: %s", ErrSessionGone, id)
		}
		return nil, fmt.Errorf("loginctl show-session %s: %w", id, err)
	}

	values := make(map[string]string, len(props))
	for _, line := range strings.Split(string(out), "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		values[key] = value
	}
	return values, nil
}
