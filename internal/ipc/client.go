package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// Request dials the daemon's control socket, performs one request/reply
// exchange, and returns the reply envelope. A TypeError reply is surfaced
// as an error.
func Request(path, msgType string) (*Envelope, error) {
	raw, err := net.DialTimeout("unix", path, requestTimeout)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", path, err)
	}
	conn := NewConn(raw)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(requestTimeout))

	req := &Envelope{ID: uuid.NewString(), Version: ProtocolVersion, Type: msgType}
	if err := conn.Send(req); err != nil {
		return nil, err
	}

	reply, err := conn.Recv()
	if err != nil {
		return nil, err
	}
	if reply.ID != req.ID {
		return nil, fmt.Errorf("ipc: reply id %q does not match request %q", reply.ID, req.ID)
	}
	if reply.Type == TypeError {
		return nil, fmt.Errorf("ipc: daemon error: %s", reply.Error)
	}
	return reply, nil
}

// RequestStatus asks the daemon for its status snapshot.
func RequestStatus(path string) (*StatusReply, error) {
	reply, err := Request(path, TypeStatus)
	if err != nil {
		return nil, err
	}
	var status StatusReply
	if err := json.Unmarshal(reply.Payload, &status); err != nil {
		return nil, fmt.Errorf("ipc: decode status: %w", err)
	}
	return &status, nil
}
