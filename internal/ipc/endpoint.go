package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Timeout sentinels for WaitMsg (spec §4.6).
const (
	Immediate = 0
	Forever   = -1 * time.Nanosecond
)

// Endpoint is one named datagram socket on the control-plane bus (spec
// §6.4: "<socket-dir>/<name>.ctl"). Endpoints are unixgram sockets rather
// than a raw shared-memory ring, since Go's net package already gives a
// reliable, race-free datagram abstraction for a single-host control
// plane; the SharedRegistry above still carries the slot bookkeeping the
// original kept in shared memory.
type Endpoint struct {
	name string
	path string
	conn *net.UnixConn
	slot int
}

// socketPath returns the conventional path for an endpoint named name
// rooted at dir.
func socketPath(dir, name string) string {
	return filepath.Join(dir, name+".ctl")
}

// NewEndpoint creates and binds a new endpoint named name under dir,
// removing any stale socket file left behind by a prior instance.
func NewEndpoint(dir, name string) (*Endpoint, error) {
	path := socketPath(dir, name)
	_ = os.Remove(path)

	addr, err := net.ResolveUnixAddr("unixgram", path)
	if err != nil {
		return nil, fmt.Errorf("resolve endpoint address %s: %w", path, err)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("bind endpoint %s: %w", path, err)
	}
	return &Endpoint{name: name, path: path, conn: conn}, nil
}

// Path returns the endpoint's socket path, as recorded in the shared
// registry.
func (e *Endpoint) Path() string { return e.path }

// Send transmits body to the peer at dstPath, tagging it with srcSlot so
// the receiver can address a reply. On success, body's backing array must
// not be reused by the caller (spec §9 open question 3: an explicit
// ownership-transfer contract rather than an accident of kernel copy
// timing).
func (e *Endpoint) Send(dstPath string, srcSlot int32, body []byte) error {
	buf, err := encode(Message{SrcSlot: srcSlot, Body: body})
	if err != nil {
		return err
	}
	addr, err := net.ResolveUnixAddr("unixgram", dstPath)
	if err != nil {
		return fmt.Errorf("resolve peer address %s: %w", dstPath, err)
	}
	if _, err := e.conn.WriteToUnix(buf, addr); err != nil {
		return fmt.Errorf("send to %s: %w", dstPath, err)
	}
	return nil
}

// WaitMsg blocks for up to timeout for an incoming message. timeout of
// Immediate polls without blocking; Forever blocks indefinitely (spec
// §4.6's three timeout semantics: immediate / forever / milliseconds).
func (e *Endpoint) WaitMsg(timeout time.Duration) (Message, error) {
	switch timeout {
	case Forever:
		if err := e.conn.SetReadDeadline(time.Time{}); err != nil {
			return Message{}, err
		}
	default:
		if err := e.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return Message{}, err
		}
	}

	buf := make([]byte, headerSize+MaxMessageSize)
	n, err := e.conn.Read(buf)
	if err != nil {
		return Message{}, fmt.Errorf("wait for message on %s: %w", e.path, err)
	}
	return decode(buf[:n])
}

// Stop closes the endpoint and removes its socket file.
func (e *Endpoint) Stop() error {
	err := e.conn.Close()
	_ = os.Remove(e.path)
	return err
}
