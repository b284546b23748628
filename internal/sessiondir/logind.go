package sessiondir

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	logindService     = "org.freedesktop.login1"
	logindManagerPath = "/org/freedesktop/login1"
	logindManagerIfc  = "org.freedesktop.login1.Manager"
	logindSessionIfc  = "org.freedesktop.login1.Session"
)

// LogindClient resolves pids to session ids over the system bus. It covers
// the greeter/auto-login case where logind reports no display for a session
// that nevertheless owns a running display server.
type LogindClient struct {
	conn *dbus.Conn
}

func ConnectLogind() (*LogindClient, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &LogindClient{conn: conn}, nil
}

func (c *LogindClient) Close() error {
	return c.conn.Close()
}

func (c *LogindClient) SessionByPID(ctx context.Context, pid int32) (string, error) {
	mgr := c.conn.Object(logindService, logindManagerPath)

	var path dbus.ObjectPath
	call := mgr.CallWithContext(ctx, logindManagerIfc+".GetSessionByPID", 0, uint32(pid))
	if err := call.Store(&path); err != nil {
		return "", fmt.Errorf("GetSessionByPID %d: %w", pid, err)
	}

	session := c.conn.Object(logindService, path)
	prop, err := session.GetProperty(logindSessionIfc + ".Id")
	if err != nil {
		return "", fmt.Errorf("session id of %s: %w", path, err)
	}
	id, ok := prop.Value().(string)
	if !ok || id == "" {
		return "", fmt.Errorf("session id of %s: unexpected value %v", path, prop.Value())
	}
	return id, nil
}
